// Package dependency gates seed reconciliation on the seeds it requires.
//
// A seed may only be applied once every seed it requires exists and has been
// applied with its current spec. A requires graph that leads back to the
// seed being checked is a permanent error.
package dependency

import (
	"context"
	"fmt"

	"github.com/func/seeder/failure"
	"github.com/func/seeder/seed"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Seeds provides the current desired state of seeds.
type Seeds interface {
	// Seed returns a seed. Returns an error classified as failure.NotFound
	// if the seed does not exist.
	Seed(ctx context.Context, ref seed.Ref) (seed.Seed, error)
}

// States provides the last applied spec of seeds.
type States interface {
	// Applied returns the last applied spec. Returns an error classified as
	// failure.NotFound if the seed has never been applied.
	Applied(ctx context.Context, ref seed.Ref) (seed.Record, error)
}

// State is the readiness state of a seed.
type State int

// Readiness states.
const (
	Ready State = iota
	NotReady
	Cycle
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case NotReady:
		return "not ready"
	case Cycle:
		return "cycle"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Readiness is the result of a dependency check.
type Readiness struct {
	State  State
	Reason string     // Set if not ready.
	Path   []seed.Ref // Set for cycles, starting and ending at the origin.
}

// A Resolver checks seed dependencies.
type Resolver struct {
	Seeds  Seeds
	States States

	// Logger logs skipped dependencies. If not set, logs are discarded.
	Logger *zap.Logger
}

// CheckReady checks whether the origin seed, which requires the given seeds,
// can be applied.
func (r *Resolver) CheckReady(ctx context.Context, origin seed.Ref, requires []seed.Ref) (Readiness, error) {
	path, err := r.FindCycle(ctx, origin, requires)
	if err != nil {
		return Readiness{}, errors.Wrap(err, "check dependency cycle")
	}
	if path != nil {
		return Readiness{
			State:  Cycle,
			Reason: "dependency cycle: " + seed.PathString(path),
			Path:   path,
		}, nil
	}

	for _, ref := range requires {
		dep, err := r.Seeds.Seed(ctx, ref)
		if failure.IsNotFound(err) {
			return notReady("cannot find dependency %s", ref), nil
		}
		if err != nil {
			return Readiness{}, errors.Wrapf(err, "get dependency %s", ref)
		}
		applied, err := r.States.Applied(ctx, ref)
		if failure.IsNotFound(err) {
			return notReady("dependency %s not reconciled yet", ref), nil
		}
		if err != nil {
			return Readiness{}, errors.Wrapf(err, "get applied state of %s", ref)
		}
		if !seed.Equal(applied, dep.Spec) {
			return notReady("dependency %s not reconciled with latest configuration yet", ref), nil
		}
	}
	return Readiness{State: Ready}, nil
}

func notReady(format string, args ...interface{}) Readiness {
	return Readiness{State: NotReady, Reason: fmt.Sprintf(format, args...)}
}

// FindCycle searches the requires graph reachable from requires for a path
// back to origin. Returns the path, starting and ending at origin, or nil if
// there is no such path. Cycles that do not include origin are not
// reported. Missing seeds and seeds with invalid requires are skipped.
func (r *Resolver) FindCycle(ctx context.Context, origin seed.Ref, requires []seed.Ref) ([]seed.Ref, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &walker{
		resolver: r,
		logger:   logger.With(zap.Stringer("origin", origin)),
		origin:   origin,
		visited:  make(map[seed.Ref]bool),
	}
	return w.walk(ctx, []seed.Ref{origin}, requires)
}

type walker struct {
	resolver *Resolver
	logger   *zap.Logger
	origin   seed.Ref
	visited  map[seed.Ref]bool
}

func (w *walker) walk(ctx context.Context, path, requires []seed.Ref) ([]seed.Ref, error) {
	for _, ref := range requires {
		if ref == w.origin {
			out := make([]seed.Ref, len(path), len(path)+1)
			copy(out, path)
			return append(out, ref), nil
		}
		if w.visited[ref] {
			continue
		}
		w.visited[ref] = true

		s, err := w.resolver.Seeds.Seed(ctx, ref)
		if failure.IsNotFound(err) {
			w.logger.Debug("Skipping missing dependency", zap.Stringer("ref", ref))
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "get %s", ref)
		}
		deps, err := s.Requires()
		if err != nil {
			w.logger.Debug("Skipping dependency with invalid requires", zap.Stringer("ref", ref), zap.Error(err))
			continue
		}
		found, err := w.walk(ctx, append(path, ref), deps)
		if err != nil || found != nil {
			return found, err
		}
	}
	return nil, nil
}
