package reconciler

import (
	"context"
	"sort"
	"time"

	"github.com/func/seeder/cloud"
	"github.com/func/seeder/dependency"
	"github.com/func/seeder/failure"
	"github.com/func/seeder/reconciler/internal/task"
	"github.com/func/seeder/registry"
	"github.com/func/seeder/seed"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the default maximum number of kinds seeded
// concurrently.
var DefaultConcurrency = 10

// Default requeue delays.
const (
	DefaultDependencyDelay = 30 * time.Second
	DefaultRetryDelay      = 300 * time.Second
)

// RequiresKey is the latest error key used for dependency errors.
const RequiresKey = "requires"

// StateStore persists applied specs and statuses.
type StateStore interface {
	// Applied returns the last applied spec. Returns an error classified as
	// failure.NotFound if the seed has never been applied.
	Applied(ctx context.Context, ref seed.Ref) (seed.Record, error)
	Commit(ctx context.Context, ref seed.Ref, spec seed.Record) error

	// Status returns the latest status. Returns an error classified as
	// failure.NotFound if no status has been stored.
	Status(ctx context.Context, ref seed.Ref) (seed.Status, error)
	PutStatus(ctx context.Context, ref seed.Ref, status seed.Status) error
}

// A Driver reconciles seeds.
//
// See package doc for details.
type Driver struct {
	Seeds    dependency.Seeds
	State    StateStore
	Registry *registry.Registry
	Cloud    *cloud.Context

	// Dependencies checks seed dependencies. If not set, a resolver reading
	// from Seeds and State is used.
	Dependencies *dependency.Resolver

	// Concurrency sets the maximum number of kinds seeded concurrently.
	// If not set, DefaultConcurrency is used.
	Concurrency uint

	// DependencyDelay is the requeue delay for seeds with unmet
	// dependencies. RetryDelay is the requeue delay after a failed
	// reconciliation. Defaults are used if not set.
	DependencyDelay time.Duration
	RetryDelay      time.Duration

	// Logger logs reconciliation updates. If not set, logs are discarded.
	Logger *zap.Logger

	now func() time.Time
}

// Result is the result of a reconciliation.
type Result struct {
	// Status is the status reported for the seed. The zero value means the
	// status was left untouched.
	Status seed.Status

	// RequeueAfter is set if the seed should be reconciled again after the
	// given delay.
	RequeueAfter time.Duration

	// Reason is set if the seed is waiting for a dependency.
	Reason string

	// Err is set if the reconciliation failed. A permanent error should not
	// be retried until the seed changes.
	Err error
}

func (d *Driver) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Driver) resolver() *dependency.Resolver {
	if d.Dependencies != nil {
		return d.Dependencies
	}
	return &dependency.Resolver{Seeds: d.Seeds, States: d.State, Logger: d.logger().Named("dependency")}
}

func (d *Driver) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

// Reconcile reconciles a single seed. A seed that does not exist is a
// no-op.
//
// Once seeding has started, it runs to completion even if ctx is cancelled,
// so a status is always reported.
func (d *Driver) Reconcile(ctx context.Context, ref seed.Ref) Result {
	logger := d.logger().With(zap.Stringer("seed", ref))

	s, err := d.Seeds.Seed(ctx, ref)
	if failure.IsNotFound(err) {
		logger.Debug("Seed not found")
		return Result{}
	}
	if err != nil {
		return Result{Err: errors.Wrap(err, "get seed")}
	}

	if err := d.Registry.Validate(s.Spec); err != nil {
		logger.Info("Invalid spec", zap.Error(err))
		st := seed.Status{
			State:       seed.StateError,
			LatestError: map[string]string{"spec": err.Error()},
		}
		return d.fail(ctx, ref, st, failure.Mark(failure.Permanent, err), 0, logger)
	}

	requires, err := s.Requires()
	if err != nil {
		return Result{Err: failure.Mark(failure.Permanent, err)}
	}
	readiness, err := d.resolver().CheckReady(ctx, ref, requires)
	if err != nil {
		return Result{Err: errors.Wrap(err, "check dependencies")}
	}
	switch readiness.State {
	case dependency.Cycle:
		logger.Info("Dependency cycle", zap.String("path", seed.PathString(readiness.Path)))
		st := seed.Status{
			State:       seed.StateError,
			LatestError: map[string]string{RequiresKey: readiness.Reason},
		}
		return d.fail(ctx, ref, st, failure.Permanentf("%s", readiness.Reason), 0, logger)
	case dependency.NotReady:
		delay := d.DependencyDelay
		if delay == 0 {
			delay = DefaultDependencyDelay
		}
		logger.Info("Waiting for dependency", zap.String("reason", readiness.Reason), zap.Duration("requeue", delay))
		return d.wait(ctx, ref, readiness.Reason, delay)
	}

	prev, err := d.State.Applied(ctx, ref)
	if err != nil && !failure.IsNotFound(err) {
		return Result{Err: errors.Wrap(err, "get applied spec")}
	}
	changes := d.Registry.Changes(prev, s.Spec)
	counts := make(map[string]int, len(changes))
	for kind, items := range changes {
		counts[kind] = len(items)
	}

	// Seeding is not interrupted by cancellation.
	ctx = context.WithoutCancel(ctx)

	if err := d.State.PutStatus(ctx, ref, seed.Status{State: seed.StateSeeding, Changes: counts}); err != nil {
		return Result{Err: errors.Wrap(err, "put status")}
	}

	pass := registry.NewPass(d.Cloud, logger)
	logger = logger.With(zap.String("pass", pass.ID))
	pass.Logger = logger
	logger.Info("Reconcile", zap.Strings("kinds", sortedKeys(changes)), zap.Bool("dry_run", d.Cloud.DryRun()))

	start := d.clock()
	r := &run{
		driver:  d,
		pass:    pass,
		changes: changes,
		logger:  logger,
		tasks:   task.NewGroup(),
		sem:     semaphore.NewWeighted(int64(d.concurrency())),
	}
	errs := r.apply(ctx)
	duration := d.clock().Sub(start)

	if len(errs) > 0 {
		st := seed.Status{
			State:       seed.StateError,
			Changes:     counts,
			LatestError: make(map[string]string, len(errs)),
		}
		var combined error
		permanent := true
		for _, kind := range sortedKeys(errs) {
			st.LatestError[kind] = errs[kind].Error()
			combined = multierr.Append(combined, errors.Wrap(errs[kind], kind))
			if !failure.IsPermanent(errs[kind]) {
				permanent = false
			}
		}
		delay := d.RetryDelay
		if delay == 0 {
			delay = DefaultRetryDelay
		}
		if permanent {
			combined = failure.Mark(failure.Permanent, combined)
			delay = 0
		}
		return d.fail(ctx, ref, st, combined, delay, logger)
	}

	if !d.Cloud.DryRun() {
		if err := d.State.Commit(ctx, ref, s.Spec); err != nil {
			return Result{Err: errors.Wrap(err, "commit applied spec")}
		}
	}

	st := seed.Status{
		State:           seed.StateSeeded,
		Changes:         counts,
		LatestReconcile: d.clock().UTC().Format(time.RFC3339),
		Duration:        duration.String(),
	}
	if err := d.State.PutStatus(ctx, ref, st); err != nil {
		return Result{Status: st, Err: errors.Wrap(err, "put status")}
	}
	logger.Info(
		"Done",
		zap.Strings("kinds", r.tasks.Done()),
		zap.Int("granted", r.granted),
		zap.Duration("duration", duration),
	)
	return Result{Status: st}
}

// wait reports that the seed is waiting for a dependency. Changes of the
// previous status are kept.
func (d *Driver) wait(ctx context.Context, ref seed.Ref, reason string, requeue time.Duration) Result {
	prev, err := d.State.Status(ctx, ref)
	if err != nil && !failure.IsNotFound(err) {
		return Result{Err: errors.Wrap(err, "get status")}
	}
	st := seed.Status{
		State:       seed.StateSeeding,
		Changes:     prev.Changes,
		LatestError: map[string]string{RequiresKey: reason},
	}
	if err := d.State.PutStatus(ctx, ref, st); err != nil {
		return Result{Err: errors.Wrap(err, "put status")}
	}
	return Result{Status: st, RequeueAfter: requeue, Reason: reason}
}

// fail reports an error status.
func (d *Driver) fail(ctx context.Context, ref seed.Ref, st seed.Status, err error, requeue time.Duration, logger *zap.Logger) Result {
	if perr := d.State.PutStatus(ctx, ref, st); perr != nil {
		err = multierr.Append(err, errors.Wrap(perr, "put status"))
	}
	logger.Info("Failed", zap.Error(err), zap.Duration("requeue", requeue))
	return Result{Status: st, RequeueAfter: requeue, Err: err}
}

func (d *Driver) concurrency() uint {
	if d.Concurrency == 0 {
		return uint(DefaultConcurrency)
	}
	return d.Concurrency
}

type run struct {
	driver  *Driver
	pass    *registry.Pass
	changes map[string][]interface{}
	logger  *zap.Logger

	tasks *task.Group // Maintains the kinds being seeded.
	sem   *semaphore.Weighted

	granted int
}

// apply seeds all changed kinds and grants the collected role assignments.
// Returns the errors per kind.
func (r *run) apply(ctx context.Context) map[string]error {
	var g errgroup.Group
	for kind := range r.changes {
		kind := kind
		g.Go(func() error {
			_ = r.processKind(ctx, kind)
			return nil
		})
	}
	_ = g.Wait()
	r.tasks.Wait()

	errs := r.tasks.Errors()
	granted, err := r.driver.Registry.Flush(ctx, r.pass)
	r.granted = granted
	if err != nil {
		if prev, ok := errs[registry.AssignmentsAttr]; ok {
			err = multierr.Append(prev, err)
		}
		errs[registry.AssignmentsAttr] = err
	}
	return errs
}

func (r *run) processKind(ctx context.Context, kind string) error {
	logger := r.logger.With(zap.String("kind", kind))

	return r.tasks.Do(kind, func() error {
		// Wait for kinds seeded before this one. Do this before acquiring
		// the semaphore to avoid a deadlock with concurrency=1.
		r.processAfter(ctx, kind, logger)

		if err := r.sem.Acquire(ctx, 1); err != nil {
			return errors.Wrap(err, "acquire semaphore")
		}
		defer r.sem.Release(1)

		logger.Debug("Seeding", zap.Int("items", len(r.changes[kind])))
		if err := r.driver.Registry.Seed(ctx, r.pass, kind, r.changes[kind]); err != nil {
			logger.Info("Kind failed", zap.Error(err))
			return err
		}
		return nil
	})
}

func (r *run) processAfter(ctx context.Context, kind string, logger *zap.Logger) {
	k := r.driver.Registry.Kind(kind)
	if k == nil {
		return
	}
	var g errgroup.Group
	for _, before := range k.After {
		if _, ok := r.changes[before]; !ok {
			continue
		}
		before := before
		logger.Debug("Waiting on kind", zap.String("after", before))
		g.Go(func() error {
			err := r.processKind(ctx, before)
			logger.Debug("Kind done", zap.String("after", before), zap.Bool("error", err != nil))
			return nil
		})
	}
	_ = g.Wait()
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
