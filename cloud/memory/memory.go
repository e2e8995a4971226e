// Package memory implements an in-memory cloud platform.
//
// The platform records every call made to it, which makes it useful for
// testing reconciliations and for dry runs against a local seed directory.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/func/seeder/failure"
	"github.com/func/seeder/seed"
	"github.com/func/seeder/upsert"
	"github.com/segmentio/ksuid"
)

// Operations recorded in calls.
const (
	OpList   = "list"
	OpCreate = "create"
	OpUpdate = "update"
	OpAdd    = "add"
)

// A Call is a recorded call to the platform.
type Call struct {
	Op      string
	Kind    string
	Scope   upsert.Scope
	ID      string      // Object id for update and add.
	Payload seed.Record // Filter for list, payload otherwise.
}

// Platform stores objects in memory. The zero value is ready to use.
type Platform struct {
	mu       sync.Mutex
	objects  map[string][]seed.Record
	calls    []Call
	failures map[string]error
}

// New creates a new empty platform.
func New() *Platform {
	return &Platform{}
}

// Adapter returns an adapter for objects of the given kind.
func (p *Platform) Adapter(kind string) upsert.Adapter {
	return &adapter{platform: p, kind: kind}
}

// Adapters returns adapters for the given kinds, keyed by kind.
func (p *Platform) Adapters(kinds ...string) map[string]upsert.Adapter {
	out := make(map[string]upsert.Adapter, len(kinds))
	for _, k := range kinds {
		out[k] = p.Adapter(k)
	}
	return out
}

// Put stores an existing object without recording a call. An id is
// generated if the object does not have one. Returns the id.
func (p *Platform) Put(kind string, obj seed.Record) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	obj = obj.Clone()
	if obj.ID() == "" {
		obj["id"] = ksuid.New().String()
	}
	p.store(kind, obj)
	return obj.ID()
}

func (p *Platform) store(kind string, obj seed.Record) {
	if p.objects == nil {
		p.objects = make(map[string][]seed.Record)
	}
	p.objects[kind] = append(p.objects[kind], obj)
}

// Objects returns copies of all objects of a kind.
func (p *Platform) Objects(kind string) []seed.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]seed.Record, len(p.objects[kind]))
	for i, o := range p.objects[kind] {
		out[i] = o.Clone()
	}
	return out
}

// Kinds returns the kinds that have objects, sorted.
func (p *Platform) Kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.objects))
	for k := range p.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Calls returns all recorded calls.
func (p *Platform) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// Mutations returns all recorded calls except lists.
func (p *Platform) Mutations() []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Op != OpList {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls. Objects are kept.
func (p *Platform) Reset() {
	p.mu.Lock()
	p.calls = nil
	p.mu.Unlock()
}

// Fail makes the next call with the given kind and op return err.
func (p *Platform) Fail(kind, op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures == nil {
		p.failures = make(map[string]error)
	}
	p.failures[kind+"/"+op] = err
}

// record records a call and returns the injected failure, if any. Must be
// called with the lock held.
func (p *Platform) record(c Call) error {
	p.calls = append(p.calls, c)
	key := c.Kind + "/" + c.Op
	if err, ok := p.failures[key]; ok {
		delete(p.failures, key)
		return err
	}
	return nil
}

type adapter struct {
	platform *Platform
	kind     string
}

func (a *adapter) List(ctx context.Context, scope upsert.Scope, filter seed.Record) ([]seed.Record, error) {
	p := a.platform
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(Call{Op: OpList, Kind: a.kind, Scope: scope, Payload: filter.Clone()}); err != nil {
		return nil, err
	}
	var out []seed.Record
	for _, obj := range p.objects[a.kind] {
		if matches(obj, scope, filter) {
			out = append(out, obj.Clone())
		}
	}
	return out, nil
}

func matches(obj seed.Record, scope upsert.Scope, filter seed.Record) bool {
	for k, v := range scope {
		if obj.Attr(k) != v {
			return false
		}
	}
	for k, v := range filter {
		if !seed.Equal(obj[k], v) {
			return false
		}
	}
	return true
}

func (a *adapter) Create(ctx context.Context, scope upsert.Scope, payload seed.Record) (seed.Record, error) {
	p := a.platform
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(Call{Op: OpCreate, Kind: a.kind, Scope: scope, Payload: payload.Clone()}); err != nil {
		return nil, err
	}
	obj := payload.Clone()
	if obj == nil {
		obj = seed.Record{}
	}
	for k, v := range scope {
		obj[k] = v
	}
	obj["id"] = ksuid.New().String()
	p.store(a.kind, obj)
	return obj.Clone(), nil
}

func (a *adapter) Update(ctx context.Context, scope upsert.Scope, id string, payload seed.Record) (seed.Record, error) {
	p := a.platform
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(Call{Op: OpUpdate, Kind: a.kind, Scope: scope, ID: id, Payload: payload.Clone()}); err != nil {
		return nil, err
	}
	obj := p.find(a.kind, id)
	if obj == nil {
		return nil, failure.NotFoundf("%s %s not found", a.kind, id)
	}
	for k, v := range payload {
		obj[k] = seed.Copy(v)
	}
	return obj.Clone(), nil
}

func (a *adapter) AddMember(ctx context.Context, scope upsert.Scope, id, attr string, member interface{}) error {
	p := a.platform
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(Call{Op: OpAdd, Kind: a.kind, Scope: scope, ID: id, Payload: seed.Record{attr: member}}); err != nil {
		return err
	}
	obj := p.find(a.kind, id)
	if obj == nil {
		return failure.NotFoundf("%s %s not found", a.kind, id)
	}
	list, _ := seed.List(obj[attr])
	obj[attr] = append(append([]interface{}{}, list...), member)
	return nil
}

func (p *Platform) find(kind, id string) seed.Record {
	for _, obj := range p.objects[kind] {
		if obj.ID() == id {
			return obj
		}
	}
	return nil
}
