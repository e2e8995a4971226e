package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/func/seeder/failure"
	"github.com/func/seeder/seed"
	"github.com/pkg/errors"
)

// The KVBackend is used for persisting key-value data.
//
// Keys are slash separated. Everything up to the last slash is the bucket of
// the key.
type KVBackend interface {
	// Put creates or updates a key.
	Put(ctx context.Context, key string, value []byte) error

	// Get returns the given key. Returns ErrNotFound if the given key does not
	// exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete deletes a key. Returns ErrNotFound if the given key does not exist.
	Delete(ctx context.Context, key string) error

	// Scan returns a key-value map of all keys in the given bucket.
	Scan(ctx context.Context, bucket string) (map[string][]byte, error)
}

// Key prefixes.
const (
	appliedPrefix = "applied"
	statusPrefix  = "status"
)

// State persists the last successfully applied spec and the latest status
// of seeds.
type State struct {
	Backend KVBackend
}

func key(prefix string, ref seed.Ref) string {
	return fmt.Sprintf("%s/%s/%s", prefix, ref.Namespace, ref.Name)
}

// Applied returns the last applied spec of a seed. Returns an error
// classified as failure.NotFound if the seed has never been applied.
func (s *State) Applied(ctx context.Context, ref seed.Ref) (seed.Record, error) {
	data, err := s.Backend.Get(ctx, key(appliedPrefix, ref))
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil, failure.Mark(failure.NotFound, errors.Wrapf(err, "%s never applied", ref))
		}
		return nil, errors.Wrap(err, "get applied spec")
	}
	var spec seed.Record
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, errors.Wrap(err, "unmarshal applied spec")
	}
	return spec, nil
}

// Commit stores the spec as the last applied spec of a seed.
func (s *State) Commit(ctx context.Context, ref seed.Ref, spec seed.Record) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return errors.Wrap(err, "marshal spec")
	}
	if err := s.Backend.Put(ctx, key(appliedPrefix, ref), data); err != nil {
		return errors.Wrap(err, "store applied spec")
	}
	return nil
}

// Status returns the latest status of a seed. Returns an error classified as
// failure.NotFound if no status has been stored.
func (s *State) Status(ctx context.Context, ref seed.Ref) (seed.Status, error) {
	data, err := s.Backend.Get(ctx, key(statusPrefix, ref))
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return seed.Status{}, failure.Mark(failure.NotFound, errors.Wrapf(err, "%s has no status", ref))
		}
		return seed.Status{}, errors.Wrap(err, "get status")
	}
	var status seed.Status
	if err := json.Unmarshal(data, &status); err != nil {
		return seed.Status{}, errors.Wrap(err, "unmarshal status")
	}
	return status, nil
}

// PutStatus stores the latest status of a seed.
func (s *State) PutStatus(ctx context.Context, ref seed.Ref, status seed.Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return errors.Wrap(err, "marshal status")
	}
	if err := s.Backend.Put(ctx, key(statusPrefix, ref), data); err != nil {
		return errors.Wrap(err, "store status")
	}
	return nil
}

// Statuses returns the statuses of all seeds in a namespace, keyed by name.
func (s *State) Statuses(ctx context.Context, namespace string) (map[string]seed.Status, error) {
	bucket := statusPrefix + "/" + namespace
	values, err := s.Backend.Scan(ctx, bucket)
	if err != nil {
		return nil, errors.Wrap(err, "scan")
	}
	out := make(map[string]seed.Status, len(values))
	for k, v := range values {
		var status seed.Status
		if err := json.Unmarshal(v, &status); err != nil {
			return nil, errors.Wrapf(err, "unmarshal status %s", k)
		}
		out[k[len(bucket)+1:]] = status
	}
	return out, nil
}

// Forget removes all stored data for a seed. Forgetting an unknown seed is
// not an error.
func (s *State) Forget(ctx context.Context, ref seed.Ref) error {
	for _, prefix := range []string{appliedPrefix, statusPrefix} {
		err := s.Backend.Delete(ctx, key(prefix, ref))
		if err != nil && errors.Cause(err) != ErrNotFound {
			return errors.Wrapf(err, "delete %s", prefix)
		}
	}
	return nil
}
