// Package upsert implements the create-or-update algorithm shared by all
// resource kinds.
//
// An object is looked up by its key attributes. If it does not exist, it is
// created. If it exists, the desired attributes are compared with the
// current ones and the object is updated only when they differ. Running an
// upsert twice with the same input issues no mutating calls the second time.
package upsert

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/func/seeder/diff"
	"github.com/func/seeder/failure"
	"github.com/func/seeder/seed"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Scope holds the ids of the parent objects an object lives in, keyed by
// attribute name, for example {"project_id": "..."}.
type Scope map[string]string

// An Adapter provides access to objects of one kind on the cloud platform.
type Adapter interface {
	// List returns all objects within scope whose attributes match filter.
	List(ctx context.Context, scope Scope, filter seed.Record) ([]seed.Record, error)

	// Create creates an object. The payload includes the scope attributes.
	Create(ctx context.Context, scope Scope, payload seed.Record) (seed.Record, error)

	// Update updates the object with the given id.
	Update(ctx context.Context, scope Scope, id string, payload seed.Record) (seed.Record, error)
}

// A MemberAdder is an Adapter that can add members to list attributes of an
// object one at a time, for example tags.
type MemberAdder interface {
	AddMember(ctx context.Context, scope Scope, id, attr string, member interface{}) error
}

// Op is the mutating operation performed by an upsert.
type Op int

// Operations.
const (
	None Op = iota
	Create
	Update
)

func (o Op) String() string {
	switch o {
	case None:
		return "none"
	case Create:
		return "create"
	case Update:
		return "update"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// A Request describes a single upsert.
type Request struct {
	Kind    string      // Used for logging.
	Scope   Scope       // Parent ids.
	Key     seed.Record // Attributes identifying the object within scope.
	Desired seed.Record // Desired attributes, excluding scope.

	// StripOnUpdate lists attributes that can only be set on create. They are
	// neither compared nor sent on update.
	StripOnUpdate []string

	// Ignore excludes paths from comparison. Ignored attributes are still
	// sent to the platform. Defaults to diff.IgnoreSecrets.
	Ignore diff.IgnoreFunc
}

// Outcome is the result of an upsert.
type Outcome struct {
	Op     Op
	Object seed.Record // Nil if the object was not created in a dry run.
	Diff   diff.Result
}

// An Executor performs upserts.
type Executor struct {
	// DryRun disables mutating calls. Comparisons are still performed.
	DryRun bool

	// Logger logs mutations. If not set, logs are discarded.
	Logger *zap.Logger

	// Backoff algorithm used for retrying mutating calls. If not set, calls
	// are attempted once.
	Backoff func() backoff.BackOff
}

func (e *Executor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Upsert creates or updates an object so it matches the desired attributes.
// Errors from the adapter are returned as is, wrapped with context.
func (e *Executor) Upsert(ctx context.Context, adapter Adapter, req Request) (Outcome, error) {
	logger := e.logger().With(zap.String("kind", req.Kind), zap.Any("key", map[string]interface{}(req.Key)))

	existing, err := adapter.List(ctx, req.Scope, req.Key)
	if err != nil {
		return Outcome{}, errors.Wrapf(err, "list %s", req.Kind)
	}

	if len(existing) == 0 {
		out := Outcome{Op: Create, Diff: diff.Result{Status: diff.Absent}}
		payload := req.Desired.Clone()
		if payload == nil {
			payload = seed.Record{}
		}
		for k, v := range req.Scope {
			payload[k] = v
		}
		if e.DryRun {
			logger.Info("Create (dry run)", zap.Any("payload", map[string]interface{}(seed.Redact(payload))))
			return out, nil
		}
		logger.Info("Create")
		obj, err := e.retry(ctx, logger, func() (seed.Record, error) {
			return adapter.Create(ctx, req.Scope, payload)
		})
		if err != nil {
			return Outcome{}, errors.Wrapf(err, "create %s", req.Kind)
		}
		out.Object = obj
		return out, nil
	}

	if len(existing) > 1 {
		logger.Debug("Multiple objects match key, using first", zap.Int("count", len(existing)))
	}
	current := existing[0]

	ignore := req.Ignore
	if ignore == nil {
		ignore = diff.IgnoreSecrets
	}
	desired := req.Desired.Without(req.StripOnUpdate...)
	res := diff.Compare(desired, current, ignore)
	if res.Status == diff.Unchanged {
		logger.Debug("No changes required")
		return Outcome{Op: None, Object: current, Diff: res}, nil
	}

	out := Outcome{Op: Update, Diff: res}
	scopeKeys := make([]string, 0, len(req.Scope))
	for k := range req.Scope {
		scopeKeys = append(scopeKeys, k)
	}
	payload := desired.Without(scopeKeys...)
	if e.DryRun {
		logger.Info("Update (dry run)", zap.Strings("changed", res.Paths))
		out.Object = current
		return out, nil
	}

	id := current.ID()
	logger.Info("Update", zap.String("id", id), zap.Strings("changed", res.Paths))
	obj, err := e.retry(ctx, logger, func() (seed.Record, error) {
		return adapter.Update(ctx, req.Scope, id, payload)
	})
	if err != nil {
		return Outcome{}, errors.Wrapf(err, "update %s %s", req.Kind, id)
	}
	out.Object = obj
	return out, nil
}

// AddMembers adds members to a list attribute of an object, one call per
// member. Returns the number of members added.
func (e *Executor) AddMembers(ctx context.Context, adapter Adapter, scope Scope, id, attr string, members []interface{}) (int, error) {
	if len(members) == 0 {
		return 0, nil
	}
	logger := e.logger().With(zap.String("id", id), zap.String("attr", attr))
	if e.DryRun {
		logger.Info("Add members (dry run)", zap.Int("count", len(members)))
		return len(members), nil
	}
	adder, ok := adapter.(MemberAdder)
	if !ok {
		return 0, failure.Permanentf("adapter %T cannot add %s", adapter, attr)
	}
	for i, m := range members {
		logger.Info("Add member", zap.Any("member", m))
		m := m
		_, err := e.retry(ctx, logger, func() (seed.Record, error) {
			return nil, adder.AddMember(ctx, scope, id, attr, m)
		})
		if err != nil {
			return i, errors.Wrapf(err, "add %s %v", attr, m)
		}
	}
	return len(members), nil
}

func (e *Executor) retry(ctx context.Context, logger *zap.Logger, fn func() (seed.Record, error)) (seed.Record, error) {
	if e.Backoff == nil {
		return fn()
	}
	var out seed.Record
	op := func() error {
		obj, err := fn()
		if err != nil {
			if failure.KindOf(err) != failure.Transient {
				return backoff.Permanent(err)
			}
			return err
		}
		out = obj
		return nil
	}
	notify := func(err error, dur time.Duration) {
		logger.Info("Retrying", zap.Error(err), zap.Duration("duration", dur))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(e.Backoff(), ctx), notify); err != nil {
		return nil, err
	}
	return out, nil
}
