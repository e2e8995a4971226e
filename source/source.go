// Package source holds the desired state of seeds.
//
// Seeds are loaded from YAML documents, either from a directory on disk, an
// S3 bucket or a .tar.gz bundle, and kept in a Store that the reconciler and
// dependency resolver read from.
package source

import (
	"context"
	"sort"
	"sync"

	"github.com/func/seeder/failure"
	"github.com/func/seeder/seed"
)

// A Loader loads the full set of seeds from a source.
type Loader interface {
	Load(ctx context.Context) ([]seed.Seed, error)
}

// Store is an in-memory seed store. The zero value is ready to use. A Store
// is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	seeds map[seed.Ref]seed.Seed
}

// Put adds or replaces a seed.
func (s *Store) Put(sd seed.Seed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeds == nil {
		s.seeds = make(map[seed.Ref]seed.Seed)
	}
	s.seeds[sd.Ref] = seed.Seed{Ref: sd.Ref, Spec: sd.Spec.Clone()}
}

// Delete removes a seed. Deleting a seed that does not exist is a no-op.
func (s *Store) Delete(ref seed.Ref) {
	s.mu.Lock()
	delete(s.seeds, ref)
	s.mu.Unlock()
}

// Seed returns a copy of a seed. Returns a failure.NotFound error if the seed
// does not exist.
func (s *Store) Seed(ctx context.Context, ref seed.Ref) (seed.Seed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sd, ok := s.seeds[ref]
	if !ok {
		return seed.Seed{}, failure.NotFoundf("seed %s not found", ref)
	}
	return seed.Seed{Ref: sd.Ref, Spec: sd.Spec.Clone()}, nil
}

// List returns all seeds, sorted by ref.
func (s *Store) List() []seed.Seed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]seed.Seed, 0, len(s.seeds))
	for _, sd := range s.seeds {
		out = append(out, seed.Seed{Ref: sd.Ref, Spec: sd.Spec.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.Less(out[j].Ref) })
	return out
}

// Refs returns the refs of all seeds, sorted.
func (s *Store) Refs() []seed.Ref {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]seed.Ref, 0, len(s.seeds))
	for ref := range s.seeds {
		out = append(out, ref)
	}
	seed.SortRefs(out)
	return out
}

// Replace sets the content of the store to the given seeds. Returns the refs
// of seeds that were added or whose spec changed, and the refs of seeds that
// were removed.
func (s *Store) Replace(seeds []seed.Seed) (changed, removed []seed.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[seed.Ref]seed.Seed, len(seeds))
	for _, sd := range seeds {
		next[sd.Ref] = seed.Seed{Ref: sd.Ref, Spec: sd.Spec.Clone()}
	}
	for ref, sd := range next {
		prev, ok := s.seeds[ref]
		if !ok || !seed.Equal(prev.Spec, sd.Spec) {
			changed = append(changed, ref)
		}
	}
	for ref := range s.seeds {
		if _, ok := next[ref]; !ok {
			removed = append(removed, ref)
		}
	}
	s.seeds = next
	seed.SortRefs(changed)
	seed.SortRefs(removed)
	return changed, removed
}
