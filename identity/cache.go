// Package identity resolves human readable names of cloud objects to their
// platform ids.
//
// Resolved ids are cached with a time-to-live. A cached id is never used
// after it has expired, and failed lookups are never cached.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/func/seeder/failure"
	"github.com/func/seeder/seed"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Default cache settings.
const (
	DefaultTTL  = 10 * time.Minute
	DefaultSize = 1024
)

// Scope attributes used by composite names.
const (
	DomainAttr  = "domain_id"
	ProjectAttr = "project_id"
)

// Key identifies a named object within a scope.
type Key struct {
	Kind      string // Kind of the object, for example "projects".
	ScopeAttr string // Attribute the scope id is matched against, if scoped.
	ScopeID   string
	Name      string
}

func (k Key) String() string {
	if k.ScopeAttr == "" {
		return k.Kind + "/" + k.Name
	}
	return fmt.Sprintf("%s/%s=%s/%s", k.Kind, k.ScopeAttr, k.ScopeID, k.Name)
}

// flight returns the key used to deduplicate concurrent lookups. Unlike
// String, it cannot be ambiguous.
func (k Key) flight() string {
	return fmt.Sprintf("%q|%q|%q|%q", k.Kind, k.ScopeAttr, k.ScopeID, k.Name)
}

// A Lookup performs live id lookups. It must return an error classified as
// failure.NotFound if the object does not exist.
type Lookup interface {
	Lookup(ctx context.Context, key Key) (string, error)
}

// Options configure a Cache.
type Options struct {
	TTL    time.Duration // Defaults to DefaultTTL.
	Size   int           // Defaults to DefaultSize.
	Logger *zap.Logger
}

// A Cache caches id lookups. A Cache is safe for concurrent use.
type Cache struct {
	lookup Lookup
	logger *zap.Logger
	lru    *expirable.LRU[Key, string]
	group  singleflight.Group
}

// New creates a new cache backed by the given lookup.
func New(lookup Lookup, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		lookup: lookup,
		logger: logger,
		lru:    expirable.NewLRU[Key, string](opts.Size, nil, opts.TTL),
	}
}

// Resolve returns the id of the object identified by key. Concurrent
// resolves of the same key share a single lookup.
func (c *Cache) Resolve(ctx context.Context, key Key) (string, error) {
	if id, ok := c.lru.Get(key); ok {
		return id, nil
	}
	v, err, _ := c.group.Do(key.flight(), func() (interface{}, error) {
		if id, ok := c.lru.Get(key); ok {
			return id, nil
		}
		c.logger.Debug("Lookup", zap.Stringer("key", key))
		id, err := c.lookup.Lookup(ctx, key)
		if err != nil {
			return "", err
		}
		c.lru.Add(key, id)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ResolveName resolves a composite name of an object of the given kind:
//
//   name                 unscoped object
//   name@domain          object scoped to a domain
//   name@project@domain  object scoped to a project
func (c *Cache) ResolveName(ctx context.Context, kind, name string) (string, error) {
	parts := seed.SplitName(name)
	for _, p := range parts {
		if p == "" {
			return "", failure.Permanentf("invalid %s name %q", kind, name)
		}
	}
	switch len(parts) {
	case 1:
		return c.Resolve(ctx, Key{Kind: kind, Name: parts[0]})
	case 2:
		domainID, err := c.Resolve(ctx, Key{Kind: "domains", Name: parts[1]})
		if err != nil {
			return "", err
		}
		return c.Resolve(ctx, Key{Kind: kind, ScopeAttr: DomainAttr, ScopeID: domainID, Name: parts[0]})
	case 3:
		domainID, err := c.Resolve(ctx, Key{Kind: "domains", Name: parts[2]})
		if err != nil {
			return "", err
		}
		projectID, err := c.Resolve(ctx, Key{Kind: "projects", ScopeAttr: DomainAttr, ScopeID: domainID, Name: parts[1]})
		if err != nil {
			return "", err
		}
		return c.Resolve(ctx, Key{Kind: kind, ScopeAttr: ProjectAttr, ScopeID: projectID, Name: parts[0]})
	default:
		return "", failure.Permanentf("invalid %s name %q: too many segments", kind, name)
	}
}

// InvalidateID removes every cached entry resolving to one of the given ids.
// Returns the number of entries removed.
func (c *Cache) InvalidateID(ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	n := 0
	for _, key := range c.lru.Keys() {
		if id, ok := c.lru.Peek(key); ok && drop[id] {
			c.lru.Remove(key)
			c.logger.Debug("Invalidate", zap.Stringer("key", key))
			n++
		}
	}
	return n
}

// Len returns the number of cached ids, including ones that have expired but
// have not been evicted yet.
func (c *Cache) Len() int {
	return c.lru.Len()
}
