// Package validation checks seed records against rule strings before they
// are applied.
//
// Rules use the go-playground validator syntax:
//   required,max=60
//
// Besides the builtin validators, the following rules are available:
//   ref           a seed reference in the form <namespace>/<name>
//   composite=N   a composite name with 1 to N segments separated by @
//   scoped        a name in the form <name>@<scope>
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/func/seeder/seed"
	"go.uber.org/multierr"
	"gopkg.in/go-playground/validator.v9"
)

// A Validator validates values against rule strings.
type Validator struct {
	check *validator.Validate
}

// New creates a new validator with the custom rules registered.
func New() *Validator {
	check := validator.New()
	mustRegister(check.RegisterValidation("ref", func(fl validator.FieldLevel) bool {
		_, err := seed.ParseRef(fl.Field().String())
		return err == nil
	}))
	mustRegister(check.RegisterValidation("composite", func(fl validator.FieldLevel) bool {
		max, err := strconv.Atoi(fl.Param())
		if err != nil {
			panic(fmt.Sprintf("composite validator must have a numeric param: %v", err))
		}
		parts := seed.SplitName(fl.Field().String())
		if len(parts) > max {
			return false
		}
		for _, p := range parts {
			if p == "" {
				return false
			}
		}
		return true
	}))
	mustRegister(check.RegisterValidation("scoped", func(fl validator.FieldLevel) bool {
		parts := seed.SplitName(fl.Field().String())
		return len(parts) == 2 && parts[0] != "" && parts[1] != ""
	}))
	check.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Validator{check: check}
}

func mustRegister(err error) {
	if err != nil {
		panic(fmt.Sprintf("Register custom validator: %v", err))
	}
}

var formats = map[string]string{
	"required": "value must be set",
	"min":      "length must be at least %v",
	"max":      "length must be at most %v",
	"gte":      "must be %v or more",
	"gt":       "must be more than %v",
	"lte":      "must be %v or less",
	"lt":       "must be less than %v",
	"oneof":    "must be one of: [%v]",
	"eq":       "must be %v",
	"url":      "must be a valid URL",

	// custom
	"ref":       "must be a seed reference <namespace>/<name>",
	"composite": "must be a name with at most %v segments separated by @",
	"scoped":    "must be in the form <name>@<scope>",
}

// Var validates a single value. If rules is empty, no validation is
// performed.
func (v *Validator) Var(value interface{}, rules string) error {
	if rules == "" {
		return nil
	}
	err := v.check.Var(value, rules)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return err
	}
	return message(errs[0])
}

func message(fe validator.FieldError) error {
	format, ok := formats[fe.Tag()]
	if !ok {
		return fmt.Errorf("failed on rule %q", fe.Tag())
	}
	if !strings.Contains(format, "%") {
		return errors.New(format)
	}
	return fmt.Errorf(format, fe.Param())
}

// Struct validates a struct using its validate tags. Fields are named by
// their mapstructure tag. All failing fields are reported.
func (v *Validator) Struct(s interface{}) error {
	err := v.check.Struct(s)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	var out error
	for _, fe := range errs {
		path := fe.Namespace()
		if i := strings.Index(path, "."); i >= 0 {
			path = path[i+1:]
		}
		out = multierr.Append(out, FieldError{Path: path, Err: message(fe)})
	}
	return out
}

// A FieldError is a validation error for a single attribute.
type FieldError struct {
	Path string
	Err  error
}

func (e FieldError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

// Record validates the attributes of a record. Rules are keyed by attribute
// name. All failing attributes are reported, in attribute order.
func (v *Validator) Record(path string, r seed.Record, rules map[string]string) error {
	attrs := make([]string, 0, len(rules))
	for attr := range rules {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	var err error
	for _, attr := range attrs {
		if verr := v.Var(r[attr], rules[attr]); verr != nil {
			err = multierr.Append(err, FieldError{Path: join(path, attr), Err: verr})
		}
	}
	return err
}

// Each validates every item of a list attribute.
func (v *Validator) Each(path string, items []interface{}, rules string) error {
	var err error
	for i, item := range items {
		if verr := v.Var(item, rules); verr != nil {
			err = multierr.Append(err, FieldError{Path: fmt.Sprintf("%s[%d]", path, i), Err: verr})
		}
	}
	return err
}

// Exclusive returns an error if more than one of the given attributes is
// set in the record.
func Exclusive(path string, r seed.Record, attrs ...string) error {
	var set []string
	for _, a := range attrs {
		if v, ok := r[a]; ok && v != nil && v != "" {
			set = append(set, a)
		}
	}
	if len(set) > 1 {
		return FieldError{Path: path, Err: fmt.Errorf("only one of %s may be set", strings.Join(set, ", "))}
	}
	return nil
}

func join(path, attr string) string {
	if path == "" {
		return attr
	}
	return path + "." + attr
}
