package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/func/seeder/cloud"
	"github.com/func/seeder/diff"
	"github.com/func/seeder/failure"
	"github.com/func/seeder/seed"
	"github.com/func/seeder/upsert"
	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// A Pass is a single application of a seed. Role assignments found while
// seeding are collected in the pass and granted when it is flushed.
//
// A Pass is safe for concurrent use by multiple kinds.
type Pass struct {
	ID     string
	Cloud  *cloud.Context
	Logger *zap.Logger

	mu          sync.Mutex
	assignments []seed.Record
}

// NewPass creates a new pass with a generated id.
func NewPass(c *cloud.Context, logger *zap.Logger) *Pass {
	return &Pass{ID: ksuid.New().String(), Cloud: c, Logger: logger}
}

func (p *Pass) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Assign adds a role assignment to the pass. Duplicates are ignored.
func (p *Pass) Assign(a seed.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, other := range p.assignments {
		if seed.Equal(other, a) {
			return
		}
	}
	p.assignments = append(p.assignments, a)
}

// Assignments returns the collected role assignments.
func (p *Pass) Assignments() []seed.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]seed.Record, len(p.assignments))
	copy(out, p.assignments)
	return out
}

func (p *Pass) take() []seed.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.assignments
	p.assignments = nil
	return out
}

// parent is the object nested items are seeded in.
type parent struct {
	scope upsert.Scope
	id    string
	name  string // Composite name.
}

// Seed seeds all items of a top-level kind. Items are seeded in order. A
// failing item does not stop the remaining items; all errors are returned.
func (r *Registry) Seed(ctx context.Context, pass *Pass, kind string, value interface{}) error {
	k, err := r.topLevel(kind)
	if err != nil {
		return err
	}
	return r.seedValue(ctx, pass, k, nil, "", kind, value, false)
}

func (r *Registry) seedValue(ctx context.Context, pass *Pass, k *Kind, p *parent, scopeAttr, path string, value interface{}, singleton bool) error {
	if value == nil {
		return nil
	}
	if singleton {
		item, ok := seed.AsRecord(value)
		if !ok {
			return failure.Permanentf("%s: must be an object", path)
		}
		return r.seedItem(ctx, pass, k, p, scopeAttr, path, item)
	}
	list, ok := seed.List(value)
	if !ok {
		return failure.Permanentf("%s: must be a list", path)
	}
	var err error
	for i, v := range list {
		item, ok := seed.AsRecord(v)
		if !ok {
			err = multierr.Append(err, failure.Permanentf("%s[%d]: must be an object", path, i))
			continue
		}
		err = multierr.Append(err, r.seedItem(ctx, pass, k, p, scopeAttr, itemPath(path, i, item), item))
	}
	return err
}

func itemPath(path string, i int, item seed.Record) string {
	if name := item.Attr("name"); name != "" {
		return fmt.Sprintf("%s[%s]", path, name)
	}
	return fmt.Sprintf("%s[%d]", path, i)
}

func (r *Registry) seedItem(ctx context.Context, pass *Pass, k *Kind, p *parent, scopeAttr, path string, item seed.Record) error {
	if k.Grant {
		pass.Assign(item.Clone())
		return nil
	}
	logger := pass.logger().With(zap.String("kind", k.Name), zap.String("path", path))

	rec := item.Clone()
	if k.Wrap != "" {
		rec = seed.Record{k.Wrap: rec}
	}
	for from, to := range k.Rename {
		if v, ok := rec[from]; ok {
			delete(rec, from)
			rec[to] = v
		}
	}
	if k.Transform != nil {
		k.Transform(rec)
	}

	nested := rec.Only(k.childAttrs()...)
	rec = rec.Without(k.childAttrs()...)

	scope, parentName, err := r.scope(ctx, pass, k, p, scopeAttr, rec)
	if err != nil {
		return errors.Wrap(err, path)
	}
	refIDs, err := r.resolveRefs(ctx, pass, k, rec)
	if err != nil {
		return errors.Wrap(err, path)
	}
	if k.Attributes != nil {
		rec = rec.Only(k.Attributes...)
	}

	adapter, err := pass.Cloud.Adapter(k.adapter())
	if err != nil {
		return errors.Wrap(err, path)
	}
	out, err := pass.Cloud.Executor.Upsert(ctx, adapter, upsert.Request{
		Kind:          k.Name,
		Scope:         scope,
		Key:           k.key(rec),
		Desired:       rec,
		StripOnUpdate: k.StripOnUpdate,
		Ignore:        diff.IgnorePaths(k.Ignore...),
	})
	if err != nil {
		if failure.IsNotFound(err) {
			invalidate(pass, scope, refIDs, logger)
		}
		return errors.Wrap(err, path)
	}
	logger.Debug("Seeded", zap.Stringer("op", out.Op))
	id := out.Object.ID()

	if k.Tags != "" {
		if err := r.addTags(ctx, pass, k, adapter, scope, id, out.Object, nested[k.Tags]); err != nil {
			return errors.Wrap(err, path)
		}
	}

	if k.Members != nil {
		if err := r.addMembers(ctx, pass, k, adapter, scope, id, out.Object, parentName, nested[k.Members.Attr]); err != nil {
			return errors.Wrap(err, path)
		}
	}

	name := rec.Attr("name")
	if name != "" && parentName != "" {
		name = seed.JoinName(name, parentName)
	}
	if k.AssignAs != "" {
		list, _ := seed.List(nested[AssignmentsAttr])
		for _, v := range list {
			a, ok := seed.AsRecord(v)
			if !ok {
				continue
			}
			a = a.Clone()
			a[k.AssignAs] = name
			pass.Assign(a)
		}
	}

	if len(k.Children) == 0 {
		return nil
	}
	if out.Object == nil {
		logger.Debug("Skipping nested items of object that does not exist")
		return nil
	}
	var errs error
	self := &parent{scope: scope, id: id, name: name}
	for _, c := range k.Children {
		v, ok := nested[c.Attr]
		if !ok {
			continue
		}
		errs = multierr.Append(errs, r.seedValue(ctx, pass, r.kinds[c.Kind], self, c.ScopeAttr, path+"."+c.Attr, v, c.Singleton))
	}
	return errs
}

// scope returns the scope of an item and the composite name of its parent.
// Scope attributes are removed from the item.
func (r *Registry) scope(ctx context.Context, pass *Pass, k *Kind, p *parent, scopeAttr string, rec seed.Record) (upsert.Scope, string, error) {
	s := k.Scope
	if scopeAttr == "" {
		scopeAttr = s.Attr
	}
	if scopeAttr == "" {
		return nil, "", nil
	}
	scope := upsert.Scope{}
	if p != nil {
		for _, a := range s.Inherit {
			if v, ok := p.scope[a]; ok {
				scope[a] = v
			}
		}
		scope[scopeAttr] = p.id
		delete(rec, s.From)
		delete(rec, scopeAttr)
		return scope, p.name, nil
	}

	if id := rec.Attr(scopeAttr); id != "" && rec.Attr(s.From) == "" {
		delete(rec, scopeAttr)
		scope[scopeAttr] = id
		return scope, "", nil
	}
	name := rec.Attr(s.From)
	if name == "" {
		return nil, "", failure.Permanentf("%s is required", s.From)
	}
	id, err := pass.Cloud.Identity.ResolveName(ctx, s.Kind, name)
	if err != nil {
		return nil, "", errors.Wrapf(err, "resolve %s %s", s.From, name)
	}
	delete(rec, s.From)
	scope[scopeAttr] = id
	return scope, name, nil
}

// resolveRefs replaces reference attributes with the ids they name.
// Returns the resolved ids.
func (r *Registry) resolveRefs(ctx context.Context, pass *Pass, k *Kind, rec seed.Record) ([]string, error) {
	var ids []string
	for attr, ref := range k.Refs {
		name := rec.Attr(attr)
		if name == "" {
			continue
		}
		id, err := pass.Cloud.Identity.ResolveName(ctx, ref.Kind, name)
		if err != nil {
			return ids, errors.Wrapf(err, "resolve %s %s", attr, name)
		}
		delete(rec, attr)
		setPath(rec, ref.Into, id)
		ids = append(ids, id)
	}
	return ids, nil
}

// invalidate drops cached ids an item was seeded with. Called when the
// platform reports a missing object, as a cached parent or reference may
// have been deleted.
func invalidate(pass *Pass, scope upsert.Scope, ids []string, logger *zap.Logger) {
	for _, id := range scope {
		ids = append(ids, id)
	}
	if n := pass.Cloud.Identity.InvalidateID(ids...); n > 0 {
		logger.Info("Invalidated cached ids", zap.Int("count", n))
	}
}

// setPath sets a dotted path in a record, creating nested records as needed.
func setPath(rec seed.Record, path string, v interface{}) {
	parts := strings.Split(path, ".")
	cur := rec
	for _, p := range parts[:len(parts)-1] {
		next, ok := seed.AsRecord(cur[p])
		if !ok {
			next = seed.Record{}
		}
		cur[p] = next
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func (r *Registry) addTags(ctx context.Context, pass *Pass, k *Kind, adapter upsert.Adapter, scope upsert.Scope, id string, obj seed.Record, tags interface{}) error {
	want, ok := seed.List(tags)
	if !ok || len(want) == 0 {
		return nil
	}
	missing := want
	if obj != nil {
		res := diff.Compare(seed.Record{k.Tags: want}, obj, nil)
		missing = res.Missing[k.Tags]
	}
	_, err := pass.Cloud.Executor.AddMembers(ctx, adapter, scope, id, k.Tags, missing)
	return err
}

// addMembers resolves member names and adds the members the object does not
// have yet.
func (r *Registry) addMembers(ctx context.Context, pass *Pass, k *Kind, adapter upsert.Adapter, scope upsert.Scope, id string, obj seed.Record, parentName string, members interface{}) error {
	names, ok := seed.List(members)
	if !ok || len(names) == 0 {
		return nil
	}
	if obj == nil {
		// Dry run create; the members may not exist either.
		return nil
	}
	attr := k.Members.Attr
	ids := make([]interface{}, 0, len(names))
	for _, v := range names {
		name, _ := v.(string)
		if len(seed.SplitName(name)) == 1 && parentName != "" {
			name = seed.JoinName(name, parentName)
		}
		mid, err := pass.Cloud.Identity.ResolveName(ctx, k.Members.Kind, name)
		if err != nil {
			return errors.Wrapf(err, "resolve %s %s", attr, name)
		}
		ids = append(ids, mid)
	}
	res := diff.Compare(seed.Record{attr: ids}, obj, nil)
	_, err := pass.Cloud.Executor.AddMembers(ctx, adapter, scope, id, attr, res.Missing[attr])
	return err
}
