// Package task runs keyed tasks once each and collects their results.
package task

import (
	"sort"
	"sync"
)

// Group executes keyed tasks exactly once. It behaves very similarly to
// sync.Once, except different tasks can be invoked with different keys, and
// the result of every task is kept.
type Group struct {
	mu    sync.Mutex
	tasks map[string]*task
	wg    sync.WaitGroup
}

type task struct {
	once sync.Once
	done bool
	err  error
}

// NewGroup creates a new task group.
func NewGroup() *Group {
	return &Group{
		tasks: make(map[string]*task),
	}
}

// Do invokes fn for key exactly once. Concurrent calls with the same key
// block until the first one has finished and return its error. Calls with
// another key do not block.
func (g *Group) Do(key string, fn func() error) error {
	g.wg.Add(1)
	defer g.wg.Done()

	g.mu.Lock()
	t, ok := g.tasks[key]
	if !ok {
		t = &task{}
		g.tasks[key] = t
	}
	g.mu.Unlock()

	t.once.Do(func() {
		err := fn()
		g.mu.Lock()
		t.err, t.done = err, true
		g.mu.Unlock()
	})

	g.mu.Lock()
	defer g.mu.Unlock()
	return t.err
}

// Wait blocks until all in-flight tasks are completed.
func (g *Group) Wait() {
	g.wg.Wait()
}

// Errors returns the errors of completed tasks that failed, keyed by task
// key.
func (g *Group) Errors() map[string]error {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]error)
	for k, t := range g.tasks {
		if t.done && t.err != nil {
			out[k] = t.err
		}
	}
	return out
}

// Done returns the keys of completed tasks, sorted.
func (g *Group) Done() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for k, t := range g.tasks {
		if t.done {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
