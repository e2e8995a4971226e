// Package registry declares the resource kinds a seed can hold and seeds
// them onto the cloud platform.
//
// Every kind is described by a declarative Kind entry: where its items live,
// how they are identified, which attributes are renamed, resolved or only
// set on create, and which kinds are nested in them. All kinds share the
// same upsert algorithm.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/func/seeder/failure"
	"github.com/func/seeder/seed"
	"github.com/func/seeder/suggest"
	"github.com/func/seeder/validation"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// A Registry maintains the known kinds.
type Registry struct {
	kinds     map[string]*Kind
	validator *validation.Validator
}

// New creates a registry from a kind table. Returns an error if a kind
// refers to a kind that is not in the table.
func New(kinds []*Kind) (*Registry, error) {
	r := &Registry{
		kinds:     make(map[string]*Kind, len(kinds)),
		validator: validation.New(),
	}
	for _, k := range kinds {
		if _, ok := r.kinds[k.Name]; ok {
			return nil, errors.Errorf("duplicate kind %q", k.Name)
		}
		r.kinds[k.Name] = k
	}
	for _, k := range kinds {
		for _, a := range k.After {
			if _, ok := r.kinds[a]; !ok {
				return nil, errors.Errorf("%s: after unknown kind %q", k.Name, a)
			}
		}
		for _, c := range k.Children {
			if _, ok := r.kinds[c.Kind]; !ok {
				return nil, errors.Errorf("%s: unknown child kind %q", k.Name, c.Kind)
			}
		}
		if k.Scope.Kind != "" {
			if _, ok := r.kinds[k.Scope.Kind]; !ok {
				return nil, errors.Errorf("%s: unknown scope kind %q", k.Name, k.Scope.Kind)
			}
		}
		if k.Members != nil {
			if _, ok := r.kinds[k.Members.Kind]; !ok {
				return nil, errors.Errorf("%s: unknown member kind %q", k.Name, k.Members.Kind)
			}
		}
	}
	for _, k := range kinds {
		if path := r.afterCycle(k.Name, nil); path != nil {
			return nil, errors.Errorf("after cycle: %s", strings.Join(path, " -> "))
		}
	}
	return r, nil
}

// afterCycle returns the After path leading from name back to itself.
func (r *Registry) afterCycle(name string, path []string) []string {
	if len(path) > 0 && path[0] == name {
		return append(path, name)
	}
	for _, p := range path {
		if p == name {
			return nil
		}
	}
	path = append(path, name)
	for _, a := range r.kinds[name].After {
		if found := r.afterCycle(a, path); found != nil {
			return found
		}
	}
	return nil
}

// Default returns a registry with the default kind table.
func Default() *Registry {
	r, err := New(Kinds())
	if err != nil {
		panic(fmt.Sprintf("Default kind table: %v", err))
	}
	return r
}

// Kind returns a kind by name. Returns nil if the kind is not registered.
func (r *Registry) Kind(name string) *Kind {
	return r.kinds[name]
}

// Names returns the names of kinds that can appear at the top level of a
// spec, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.kinds))
	for name, k := range r.kinds {
		if !k.Nested {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Adapters returns the adapter kinds used by the registry, sorted.
func (r *Registry) Adapters() []string {
	set := make(map[string]bool)
	for _, k := range r.kinds {
		set[k.adapter()] = true
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) topLevel(name string) (*Kind, error) {
	k := r.kinds[name]
	if k == nil || k.Nested {
		msg := fmt.Sprintf("unknown kind %q", name)
		if s := suggest.String(name, r.Names()); s != "" {
			msg += fmt.Sprintf(", did you mean %q?", s)
		}
		return nil, failure.Permanentf("%s", msg)
	}
	return k, nil
}

// Validate validates a seed spec. All problems are reported. The returned
// error is permanent.
func (r *Registry) Validate(spec seed.Record) error {
	keys := make([]string, 0, len(spec))
	for k := range spec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var err error
	for _, name := range keys {
		if name == seed.RequiresKey {
			s := seed.Seed{Spec: spec.Only(seed.RequiresKey)}
			if _, rerr := s.Requires(); rerr != nil {
				err = multierr.Append(err, rerr)
			}
			continue
		}
		k, kerr := r.topLevel(name)
		if kerr != nil {
			err = multierr.Append(err, kerr)
			continue
		}
		err = multierr.Append(err, r.validateValue(k, name, spec[name], false, true))
	}
	if err != nil {
		return failure.Mark(failure.Permanent, err)
	}
	return nil
}

func (r *Registry) validateValue(k *Kind, path string, value interface{}, singleton, top bool) error {
	if value == nil {
		return nil
	}
	if singleton {
		item, ok := seed.AsRecord(value)
		if !ok {
			return validation.FieldError{Path: path, Err: errors.Errorf("must be an object")}
		}
		return r.validateItem(k, path, item, top)
	}
	list, ok := seed.List(value)
	if !ok {
		return validation.FieldError{Path: path, Err: errors.Errorf("must be a list")}
	}
	var err error
	for i, v := range list {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		item, ok := seed.AsRecord(v)
		if !ok {
			err = multierr.Append(err, validation.FieldError{Path: itemPath, Err: errors.Errorf("must be an object")})
			continue
		}
		err = multierr.Append(err, r.validateItem(k, itemPath, item, top))
	}
	return err
}

func (r *Registry) validateItem(k *Kind, path string, item seed.Record, top bool) error {
	err := r.validator.Record(path, item, k.Rules)
	if k.Check != nil {
		err = multierr.Append(err, k.Check(path, item))
	}
	if top && k.Scope.From != "" && item.Attr(k.Scope.From) == "" && item.Attr(k.Scope.Attr) == "" {
		err = multierr.Append(err, validation.FieldError{
			Path: path,
			Err:  errors.Errorf("%s is required", k.Scope.From),
		})
	}
	if k.Tags != "" && item[k.Tags] != nil {
		tags, ok := seed.List(item[k.Tags])
		if !ok {
			err = multierr.Append(err, validation.FieldError{Path: path + "." + k.Tags, Err: errors.Errorf("must be a list")})
		} else {
			err = multierr.Append(err, r.validator.Each(path+"."+k.Tags, tags, "required,max=60"))
		}
	}
	if k.Members != nil && item[k.Members.Attr] != nil {
		names, ok := seed.List(item[k.Members.Attr])
		if !ok {
			err = multierr.Append(err, validation.FieldError{Path: path + "." + k.Members.Attr, Err: errors.Errorf("must be a list")})
		} else {
			err = multierr.Append(err, r.validator.Each(path+"."+k.Members.Attr, names, "required,composite=2"))
		}
	}
	for _, c := range k.Children {
		err = multierr.Append(err, r.validateValue(r.kinds[c.Kind], path+"."+c.Attr, item[c.Attr], c.Singleton, false))
	}
	if k.AssignAs != "" && item[AssignmentsAttr] != nil {
		err = multierr.Append(err, r.validateAssignments(k, path, item))
	}
	return err
}

func (r *Registry) validateAssignments(k *Kind, path string, item seed.Record) error {
	path += "." + AssignmentsAttr
	list, ok := seed.List(item[AssignmentsAttr])
	if !ok {
		return validation.FieldError{Path: path, Err: errors.Errorf("must be a list")}
	}
	grants := r.kinds[AssignmentsAttr]
	var err error
	for i, v := range list {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		a, ok := seed.AsRecord(v)
		if !ok {
			err = multierr.Append(err, validation.FieldError{Path: itemPath, Err: errors.Errorf("must be an object")})
			continue
		}
		if a[k.AssignAs] != nil {
			err = multierr.Append(err, validation.FieldError{
				Path: itemPath,
				Err:  errors.Errorf("%s is implied by the enclosing %s", k.AssignAs, strings.TrimSuffix(k.Name, "s")),
			})
			continue
		}
		// The enclosing item fills the field.
		a = a.Clone()
		a[k.AssignAs] = placeholder(k.AssignAs)
		err = multierr.Append(err, r.validateItem(grants, itemPath, a, false))
	}
	return err
}

func placeholder(field string) string {
	switch field {
	case "domain":
		return "domain"
	default:
		return field + "@domain"
	}
}

// Changes returns the part of spec that differs from the previously
// applied spec, per kind. Items that are unchanged are dropped. Changed
// items keep only their nested items that changed. If prev is nil, all kinds
// of spec are returned.
func (r *Registry) Changes(prev, spec seed.Record) map[string][]interface{} {
	out := make(map[string][]interface{})
	for name, v := range spec {
		if name == seed.RequiresKey {
			continue
		}
		k := r.kinds[name]
		if k == nil {
			continue
		}
		next, ok := seed.List(v)
		if !ok || len(next) == 0 {
			continue
		}
		var old []interface{}
		if prev != nil {
			old, _ = seed.List(prev[name])
		}
		if changed := r.changedItems(k, old, next); len(changed) > 0 {
			out[name] = changed
		}
	}
	return out
}

func (r *Registry) changedItems(k *Kind, prev, next []interface{}) []interface{} {
	changed := seed.ChangedItems(prev, next)
	out := make([]interface{}, 0, len(changed))
	for _, c := range changed {
		item, ok := seed.AsRecord(c)
		if !ok {
			out = append(out, c)
			continue
		}
		out = append(out, r.prune(k, sameItem(k, prev, item), item))
	}
	return out
}

// prune reduces nested lists of a changed item to the nested items that
// differ from the same item in the previous spec.
func (r *Registry) prune(k *Kind, prev, item seed.Record) seed.Record {
	if prev == nil {
		return item
	}
	var lists []string
	if k.Tags != "" {
		lists = append(lists, k.Tags)
	}
	if k.Members != nil {
		lists = append(lists, k.Members.Attr)
	}
	if k.AssignAs != "" {
		lists = append(lists, AssignmentsAttr)
	}
	out := seed.Prune(prev, item, lists...)
	for _, c := range k.Children {
		if c.Singleton {
			if seed.Equal(prev[c.Attr], out[c.Attr]) {
				delete(out, c.Attr)
			}
			continue
		}
		next, ok := seed.List(out[c.Attr])
		if !ok {
			continue
		}
		old, _ := seed.List(prev[c.Attr])
		changed := r.changedItems(r.kinds[c.Kind], old, next)
		if len(changed) == 0 {
			delete(out, c.Attr)
			continue
		}
		out[c.Attr] = changed
	}
	return out
}

// sameItem finds the item in list that has the same key as item.
func sameItem(k *Kind, list []interface{}, item seed.Record) seed.Record {
	if k.Keyless {
		return nil
	}
	key := k.key(item)
	if len(key) == 0 {
		return nil
	}
	for _, v := range list {
		other, ok := seed.AsRecord(v)
		if !ok {
			continue
		}
		if seed.Equal(k.key(other), key) && seed.Equal(scopeOf(k, other), scopeOf(k, item)) {
			return other
		}
	}
	return nil
}

func scopeOf(k *Kind, item seed.Record) interface{} {
	if k.Scope.From == "" {
		return nil
	}
	return item[k.Scope.From]
}
