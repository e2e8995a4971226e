package main

import (
	"context"
	"testing"

	"github.com/func/seeder/failure"
	"github.com/func/seeder/seed"
	"github.com/func/seeder/source"
	"github.com/func/seeder/storage"
	"github.com/func/seeder/storage/kvbackend"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"
)

type fakeQueue struct {
	enqueued []string
	forgot   []string
}

func (q *fakeQueue) Enqueue(ref seed.Ref) { q.enqueued = append(q.enqueued, ref.String()) }
func (q *fakeQueue) Forget(ref seed.Ref)  { q.forgot = append(q.forgot, ref.String()) }

func TestReplaceSeeds(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	store := &source.Store{}
	state := &storage.State{Backend: &kvbackend.Memory{}}
	a := seed.Seed{Ref: seed.Ref{Namespace: "ns", Name: "a"}, Spec: seed.Record{"roles": []interface{}{map[string]interface{}{"name": "admin"}}}}
	b := seed.Seed{Ref: seed.Ref{Namespace: "ns", Name: "b"}, Spec: seed.Record{"roles": []interface{}{map[string]interface{}{"name": "member"}}}}

	q := &fakeQueue{}
	replaceSeeds(ctx, store, []seed.Seed{a, b}, q, state, logger)
	if diff := cmp.Diff(q.enqueued, []string{"ns/a", "ns/b"}); diff != "" {
		t.Errorf("Enqueued (-got, +want)\n%s", diff)
	}

	if err := state.Commit(ctx, b.Ref, b.Spec); err != nil {
		t.Fatal(err)
	}
	if err := state.PutStatus(ctx, b.Ref, seed.Status{State: seed.StateSeeded}); err != nil {
		t.Fatal(err)
	}

	q = &fakeQueue{}
	replaceSeeds(ctx, store, []seed.Seed{a}, q, state, logger)
	if len(q.enqueued) != 0 {
		t.Errorf("Enqueued unchanged seeds: %v", q.enqueued)
	}
	if diff := cmp.Diff(q.forgot, []string{"ns/b"}); diff != "" {
		t.Errorf("Forgot (-got, +want)\n%s", diff)
	}
	if _, err := state.Applied(ctx, b.Ref); !failure.IsNotFound(err) {
		t.Errorf("Applied() of removed seed err = %v, want not found", err)
	}
	if _, err := state.Status(ctx, b.Ref); !failure.IsNotFound(err) {
		t.Errorf("Status() of removed seed err = %v, want not found", err)
	}
}
