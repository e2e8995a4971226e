// Package teststore contains helpers for asserting interactions with the
// reconciliation state store in tests.
package teststore

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/func/seeder/seed"
	"github.com/google/go-cmp/cmp"
)

type store interface {
	Applied(ctx context.Context, ref seed.Ref) (seed.Record, error)
	Commit(ctx context.Context, ref seed.Ref, spec seed.Record) error
	Status(ctx context.Context, ref seed.Ref) (seed.Status, error)
	PutStatus(ctx context.Context, ref seed.Ref, status seed.Status) error
}

// A Recorder acts as a wrapper to a store. It records all transactions with
// the store for test or debugging purposes.
type Recorder struct {
	Store store

	mu     sync.Mutex
	events Events
}

// Events is a collection of events.
type Events []Event

// Diff returns a diff of events. Returns an empty string if the events are
// equal. Errors are compared by message.
func (ee Events) Diff(other Events) string {
	opts := []cmp.Option{
		cmp.Comparer(func(a, b error) bool {
			if a == nil || b == nil {
				return a == b
			}
			return a.Error() == b.Error()
		}),
	}
	return cmp.Diff(ee, other, opts...)
}

// Methods returns the called methods in order.
func (ee Events) Methods() []string {
	out := make([]string, len(ee))
	for i, e := range ee {
		out[i] = e.Method
	}
	return out
}

// String returns a string of all events that have occurred.
//
// If no events have been recorded, returns
//  <no events>
func (ee Events) String() string {
	if len(ee) == 0 {
		return "<no events>"
	}
	ss := make([]string, len(ee))
	for i, e := range ee {
		ss[i] = e.String()
	}
	return fmt.Sprintf("%v", ss)
}

// An Event is a recorded event.
type Event struct {
	Method string      // Called method.
	Ref    seed.Ref    // Seed that was passed in.
	Data   interface{} // Spec or status. Content depends on the method.
	Err    error       // Error that was returned from call.
}

func (ev Event) String() string {
	var buf bytes.Buffer
	buf.WriteString(ev.Method)
	buf.WriteString("(")
	buf.WriteString(ev.Ref.String())
	buf.WriteString(")")
	if ev.Data != nil {
		fmt.Fprintf(&buf, " data: %v", ev.Data)
	}
	if ev.Err != nil {
		buf.WriteString(" -> ")
		buf.WriteString(ev.Err.Error())
	}
	return buf.String()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() Events {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(Events, len(r.events))
	copy(out, r.events)
	return out
}

// Reset clears recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func (r *Recorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Applied calls the corresponding method on the underlying store and records
// the event.
func (r *Recorder) Applied(ctx context.Context, ref seed.Ref) (seed.Record, error) {
	out, err := r.Store.Applied(ctx, ref)
	r.record(Event{Method: "Applied", Ref: ref, Err: err})
	return out, err
}

// Commit calls the corresponding method on the underlying store and records
// the event.
//
// Spec is set as event data.
func (r *Recorder) Commit(ctx context.Context, ref seed.Ref, spec seed.Record) error {
	err := r.Store.Commit(ctx, ref, spec)
	r.record(Event{Method: "Commit", Ref: ref, Data: spec, Err: err})
	return err
}

// Status calls the corresponding method on the underlying store and records
// the event.
func (r *Recorder) Status(ctx context.Context, ref seed.Ref) (seed.Status, error) {
	out, err := r.Store.Status(ctx, ref)
	r.record(Event{Method: "Status", Ref: ref, Err: err})
	return out, err
}

// PutStatus calls the corresponding method on the underlying store and
// records the event.
//
// The status state is set as event data.
func (r *Recorder) PutStatus(ctx context.Context, ref seed.Ref, status seed.Status) error {
	err := r.Store.PutStatus(ctx, ref, status)
	r.record(Event{Method: "PutStatus", Ref: ref, Data: status.State, Err: err})
	return err
}
