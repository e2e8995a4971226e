package dependency_test

import (
	"context"
	"strings"
	"testing"

	"github.com/func/seeder/dependency"
	"github.com/func/seeder/failure"
	"github.com/func/seeder/seed"
	"github.com/func/seeder/source"
	"github.com/func/seeder/storage"
	"github.com/func/seeder/storage/kvbackend"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"
)

func ref(s string) seed.Ref {
	r, err := seed.ParseRef(s)
	if err != nil {
		panic(err)
	}
	return r
}

func mkSeed(name string, requires ...string) seed.Seed {
	spec := seed.Record{"roles": []interface{}{map[string]interface{}{"name": name}}}
	if len(requires) > 0 {
		reqs := make([]interface{}, len(requires))
		for i, r := range requires {
			reqs[i] = r
		}
		spec["requires"] = reqs
	}
	return seed.Seed{Ref: ref(name), Spec: spec}
}

func newResolver(t *testing.T, seeds ...seed.Seed) (*dependency.Resolver, *source.Store, *storage.State) {
	src := &source.Store{}
	for _, s := range seeds {
		src.Put(s)
	}
	state := &storage.State{Backend: &kvbackend.Memory{}}
	return &dependency.Resolver{Seeds: src, States: state, Logger: zaptest.NewLogger(t)}, src, state
}

func check(t *testing.T, r *dependency.Resolver, s seed.Seed) dependency.Readiness {
	t.Helper()
	reqs, err := s.Requires()
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.CheckReady(context.Background(), s.Ref, reqs)
	if err != nil {
		t.Fatalf("CheckReady() err = %v", err)
	}
	return got
}

func TestResolver_cycle(t *testing.T) {
	a := mkSeed("ns/a", "ns/b")
	b := mkSeed("ns/b", "ns/c")
	c := mkSeed("ns/c", "ns/a")
	r, _, _ := newResolver(t, a, b, c)

	tests := []struct {
		seed seed.Seed
		want []seed.Ref
	}{
		{a, []seed.Ref{ref("ns/a"), ref("ns/b"), ref("ns/c"), ref("ns/a")}},
		{b, []seed.Ref{ref("ns/b"), ref("ns/c"), ref("ns/a"), ref("ns/b")}},
		{c, []seed.Ref{ref("ns/c"), ref("ns/a"), ref("ns/b"), ref("ns/c")}},
	}
	for _, tt := range tests {
		t.Run(tt.seed.Ref.String(), func(t *testing.T) {
			got := check(t, r, tt.seed)
			if got.State != dependency.Cycle {
				t.Fatalf("State = %v, want cycle", got.State)
			}
			if diff := cmp.Diff(got.Path, tt.want); diff != "" {
				t.Errorf("Path (-got, +want)\n%s", diff)
			}
		})
	}
}

func TestResolver_selfReference(t *testing.T) {
	a := mkSeed("ns/a", "ns/a")
	r, _, _ := newResolver(t, a)
	got := check(t, r, a)
	if got.State != dependency.Cycle {
		t.Errorf("State = %v, want cycle", got.State)
	}
}

func TestResolver_cycleNotThroughOrigin(t *testing.T) {
	// a -> b <-> c: the cycle does not lead back to a.
	a := mkSeed("ns/a", "ns/b")
	b := mkSeed("ns/b", "ns/c")
	c := mkSeed("ns/c", "ns/b")
	r, _, _ := newResolver(t, a, b, c)
	got := check(t, r, a)
	if got.State == dependency.Cycle {
		t.Errorf("State = cycle, want no cycle for origin a")
	}
}

func TestResolver_diamond(t *testing.T) {
	a := mkSeed("ns/a", "ns/b", "ns/c")
	b := mkSeed("ns/b", "ns/d")
	c := mkSeed("ns/c", "ns/d")
	d := mkSeed("ns/d")
	r, _, state := newResolver(t, a, b, c, d)
	ctx := context.Background()

	for _, s := range []seed.Seed{a, b, c, d} {
		if got := check(t, r, s); got.State == dependency.Cycle {
			t.Errorf("%s: State = cycle, want no cycle", s.Ref)
		}
	}

	for _, s := range []seed.Seed{b, c, d} {
		if err := state.Commit(ctx, s.Ref, s.Spec); err != nil {
			t.Fatal(err)
		}
	}
	if got := check(t, r, a); got.State != dependency.Ready {
		t.Errorf("State = %v (%s), want ready", got.State, got.Reason)
	}
}

func TestResolver_gating(t *testing.T) {
	a := mkSeed("ns/a", "ns/b")
	b := mkSeed("ns/b")
	r, src, state := newResolver(t, a)
	ctx := context.Background()

	got := check(t, r, a)
	if got.State != dependency.NotReady || !strings.Contains(got.Reason, "cannot find dependency ns/b") {
		t.Errorf("Missing dependency: got = %+v", got)
	}

	src.Put(b)
	got = check(t, r, a)
	if got.State != dependency.NotReady || !strings.Contains(got.Reason, "not reconciled yet") {
		t.Errorf("Unapplied dependency: got = %+v", got)
	}

	if err := state.Commit(ctx, b.Ref, b.Spec); err != nil {
		t.Fatal(err)
	}
	got = check(t, r, a)
	if got.State != dependency.Ready {
		t.Errorf("Applied dependency: got = %+v, want ready", got)
	}

	// Dependency changes: not ready until applied again.
	b2 := mkSeed("ns/b")
	b2.Spec["roles"] = []interface{}{map[string]interface{}{"name": "changed"}}
	src.Put(b2)
	got = check(t, r, a)
	if got.State != dependency.NotReady || !strings.Contains(got.Reason, "latest configuration") {
		t.Errorf("Stale dependency: got = %+v", got)
	}
}

func TestResolver_missingInWalk(t *testing.T) {
	// b is missing: the walk skips it and no cycle is reported.
	a := mkSeed("ns/a", "ns/b")
	r, _, _ := newResolver(t, a)
	got, err := r.FindCycle(context.Background(), a.Ref, []seed.Ref{ref("ns/b")})
	if err != nil || got != nil {
		t.Errorf("FindCycle() = %v, %v; want nil, nil", got, err)
	}
}

func TestOrder(t *testing.T) {
	seeds := []seed.Seed{
		mkSeed("ns/a", "ns/b", "ns/c"),
		mkSeed("ns/c", "ns/d"),
		mkSeed("ns/b", "ns/d", "other/missing"),
		mkSeed("ns/d"),
	}
	got, err := dependency.Order(seeds)
	if err != nil {
		t.Fatalf("Order() err = %v", err)
	}
	if len(got) != len(seeds) {
		t.Fatalf("Order() returned %d seeds, want %d", len(got), len(seeds))
	}
	pos := make(map[seed.Ref]int, len(got))
	for i, s := range got {
		pos[s.Ref] = i
	}
	for _, s := range got {
		reqs, _ := s.Requires()
		for _, r := range reqs {
			p, ok := pos[r]
			if ok && p > pos[s.Ref] {
				t.Errorf("%s ordered before its requirement %s", s.Ref, r)
			}
		}
	}
	if got[0].Ref != ref("ns/d") || got[3].Ref != ref("ns/a") {
		t.Errorf("Order() = %v, want ns/d first and ns/a last", got)
	}
}

func TestOrder_cycle(t *testing.T) {
	seeds := []seed.Seed{
		mkSeed("ns/a", "ns/b"),
		mkSeed("ns/b", "ns/a"),
		mkSeed("ns/c", "ns/c"),
		mkSeed("ns/d"),
	}
	_, err := dependency.Order(seeds)
	if !failure.IsPermanent(err) {
		t.Fatalf("Order() err = %v, want permanent", err)
	}
	for _, want := range []string{"ns/a -> ns/b", "ns/c -> ns/c"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Order() err = %q, want it to contain %q", err, want)
		}
	}
}
