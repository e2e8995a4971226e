// Package diff compares desired attributes with the current state of a cloud
// object.
//
// Only attributes present in the desired record are compared. Attributes the
// platform adds are never reported. Lists are treated as additive sets: a
// desired member missing from the current list is a difference, extra current
// members are not.
package diff

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/func/seeder/seed"
	"github.com/google/go-cmp/cmp"
)

// Status is the outcome of a comparison.
type Status int

// Comparison outcomes.
const (
	Absent    Status = iota // The object does not exist.
	Unchanged               // The object matches.
	Changed                 // At least one attribute differs.
)

func (s Status) String() string {
	switch s {
	case Absent:
		return "absent"
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is the result of a comparison.
type Result struct {
	Status Status

	// Paths contains the dotted paths of changed attributes, sorted.
	Paths []string

	// Missing contains, per list path, the desired members that are not
	// present in the current list.
	Missing map[string][]interface{}
}

// An IgnoreFunc reports whether a path should be excluded from comparison.
type IgnoreFunc func(path string) bool

// IgnoreSecrets ignores any path with a segment containing password or
// secret.
func IgnoreSecrets(path string) bool {
	for _, seg := range strings.Split(strings.ToLower(path), ".") {
		if strings.Contains(seg, "password") || strings.Contains(seg, "secret") {
			return true
		}
	}
	return false
}

// IgnorePaths ignores the given exact paths, in addition to secrets.
func IgnorePaths(paths ...string) IgnoreFunc {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return func(path string) bool {
		return set[path] || IgnoreSecrets(path)
	}
}

// Compare compares desired with current. If current is nil, the result is
// Absent. If ignore is nil, nothing is ignored.
func Compare(desired, current interface{}, ignore IgnoreFunc) Result {
	if current == nil {
		return Result{Status: Absent}
	}
	if r, ok := current.(seed.Record); ok && r == nil {
		return Result{Status: Absent}
	}
	if ignore == nil {
		ignore = func(string) bool { return false }
	}
	c := &comparer{ignore: ignore}
	c.walk("", desired, current)
	if len(c.paths) == 0 {
		return Result{Status: Unchanged}
	}
	sort.Strings(c.paths)
	return Result{Status: Changed, Paths: c.paths, Missing: c.missing}
}

type comparer struct {
	ignore  IgnoreFunc
	paths   []string
	missing map[string][]interface{}
}

func (c *comparer) changed(path string) {
	if path == "" {
		path = "."
	}
	c.paths = append(c.paths, path)
}

func (c *comparer) walk(path string, desired, current interface{}) {
	if path != "" && c.ignore(path) {
		return
	}
	if dm, ok := seed.AsRecord(desired); ok {
		cm, ok := seed.AsRecord(current)
		if !ok {
			c.changed(path)
			return
		}
		for k, dv := range dm {
			c.walk(join(path, k), dv, cm[k])
		}
		return
	}
	if dl, ok := seed.List(desired); ok {
		cl, _ := seed.List(current)
		var missing []interface{}
		for _, d := range dl {
			if !contains(cl, d) {
				missing = append(missing, d)
			}
		}
		if len(missing) > 0 {
			c.changed(path)
			if c.missing == nil {
				c.missing = make(map[string][]interface{})
			}
			c.missing[path] = missing
		}
		return
	}
	if !scalarEqual(desired, current) {
		c.changed(path)
	}
}

func contains(list []interface{}, want interface{}) bool {
	for _, v := range list {
		if equal(want, v) {
			return true
		}
	}
	return false
}

// equal reports whether current satisfies desired, using the same rules as
// Compare.
func equal(desired, current interface{}) bool {
	c := &comparer{ignore: func(string) bool { return false }}
	c.walk("", desired, current)
	return len(c.paths) == 0
}

func scalarEqual(a, b interface{}) bool {
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return fa == fb
		}
		if s, ok := b.(string); ok {
			fb, err := strconv.ParseFloat(s, 64)
			return err == nil && fa == fb
		}
		return false
	}
	if s, ok := a.(string); ok {
		if fb, ok := number(b); ok {
			fa, err := strconv.ParseFloat(s, 64)
			return err == nil && fa == fb
		}
	}
	return cmp.Equal(a, b)
}

func number(v interface{}) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
