// Package cloud holds the explicit cloud-access context used during
// reconciliation: the adapters per kind, the identity cache and the upsert
// executor.
package cloud

import (
	"context"
	"sort"

	"github.com/cenkalti/backoff"
	"github.com/func/seeder/failure"
	"github.com/func/seeder/identity"
	"github.com/func/seeder/seed"
	"github.com/func/seeder/upsert"
	"go.uber.org/zap"
)

// Options configure a Context.
type Options struct {
	DryRun bool
	Cache  identity.Options
	Logger *zap.Logger

	// Backoff is used for retrying mutating calls. See upsert.Executor.
	Backoff func() backoff.BackOff
}

// Context provides access to the cloud platform. It is created once and
// shared by all reconciliations.
type Context struct {
	Identity *identity.Cache
	Executor *upsert.Executor

	adapters map[string]upsert.Adapter
}

// New creates a new cloud context for the given adapters, keyed by kind.
func New(adapters map[string]upsert.Adapter, opts Options) *Context {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Context{
		adapters: adapters,
		Executor: &upsert.Executor{
			DryRun:  opts.DryRun,
			Logger:  logger.Named("upsert"),
			Backoff: opts.Backoff,
		},
	}
	cacheOpts := opts.Cache
	if cacheOpts.Logger == nil {
		cacheOpts.Logger = logger.Named("identity")
	}
	c.Identity = identity.New(c, cacheOpts)
	return c
}

// DryRun reports whether mutating calls are disabled.
func (c *Context) DryRun() bool { return c.Executor.DryRun }

// Adapter returns the adapter for a kind.
func (c *Context) Adapter(kind string) (upsert.Adapter, error) {
	a, ok := c.adapters[kind]
	if !ok {
		return nil, failure.Permanentf("no adapter for %s", kind)
	}
	return a, nil
}

// Kinds returns the kinds with adapters, sorted.
func (c *Context) Kinds() []string {
	out := make([]string, 0, len(c.adapters))
	for k := range c.adapters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup looks up the id of a named object. Implements identity.Lookup.
func (c *Context) Lookup(ctx context.Context, key identity.Key) (string, error) {
	a, err := c.Adapter(key.Kind)
	if err != nil {
		return "", err
	}
	var scope upsert.Scope
	if key.ScopeAttr != "" {
		scope = upsert.Scope{key.ScopeAttr: key.ScopeID}
	}
	objs, err := a.List(ctx, scope, seed.Record{"name": key.Name})
	if err != nil {
		return "", err
	}
	if len(objs) == 0 {
		return "", failure.NotFoundf("%s not found", describe(key))
	}
	return objs[0].ID(), nil
}

func describe(key identity.Key) string {
	kind := key.Kind
	if n := len(kind); n > 1 && kind[n-1] == 's' {
		kind = kind[:n-1]
	}
	return kind + " " + key.Name
}
