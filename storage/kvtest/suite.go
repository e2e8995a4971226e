// Package kvtest contains a test suite shared by all key-value backends.
package kvtest

import (
	"bytes"
	"context"
	"reflect"
	"testing"

	"github.com/func/seeder/storage"
	"github.com/pkg/errors"
)

// New creates a backend for a single test. The returned done function is
// called on test completion, allowing cleanup to be performed.
type New func(t *testing.T) (backend storage.KVBackend, done func())

// Run executes the test suite against backends created by newFn.
func Run(t *testing.T, newFn New) {
	run(t, "IO", newFn, testIO)
	run(t, "Scan", newFn, testScan)
	run(t, "Isolation", newFn, testIsolation)
}

func run(t *testing.T, name string, newFn New, fn func(t *testing.T, be storage.KVBackend)) {
	t.Run(name, func(t *testing.T) {
		be, done := newFn(t)
		defer done()
		fn(t, be)
	})
}

func testIO(t *testing.T, be storage.KVBackend) {
	ctx := context.Background()

	_, err := be.Get(ctx, "applied/ns/a")
	if errors.Cause(err) != storage.ErrNotFound {
		t.Errorf("Get non-existing key; want error = %v, got = %v", storage.ErrNotFound, err)
	}

	if err := be.Put(ctx, "applied/ns/a", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Create error = %v", err)
	}
	assertValue(t, be, "applied/ns/a", []byte(`{"v":1}`))

	if err := be.Put(ctx, "applied/ns/a", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Update error = %v", err)
	}
	assertValue(t, be, "applied/ns/a", []byte(`{"v":2}`))

	if err := be.Delete(ctx, "applied/ns/nonexisting"); errors.Cause(err) != storage.ErrNotFound {
		t.Errorf("Delete non-existing key; want error = %v, got = %v", storage.ErrNotFound, err)
	}
	if err := be.Delete(ctx, "applied/ns/a"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
	if _, err := be.Get(ctx, "applied/ns/a"); errors.Cause(err) != storage.ErrNotFound {
		t.Errorf("Get deleted key; want error = %v, got = %v", storage.ErrNotFound, err)
	}
}

func testScan(t *testing.T, be storage.KVBackend) {
	ctx := context.Background()
	put(t, be, "status/ns/a", "1")
	put(t, be, "status/ns/b", "2")
	put(t, be, "status/other/c", "3")

	assertScan(t, be, "nonexisting", nil)
	assertScan(t, be, "status/ns", map[string][]byte{
		"status/ns/a": []byte("1"),
		"status/ns/b": []byte("2"),
	})

	if err := be.Delete(ctx, "status/ns/a"); err != nil {
		t.Fatal(err)
	}
	assertScan(t, be, "status/ns", map[string][]byte{
		"status/ns/b": []byte("2"),
	})
}

func testIsolation(t *testing.T, be storage.KVBackend) {
	put(t, be, "applied/ns/a", "applied")
	put(t, be, "status/ns/a", "status")
	assertValue(t, be, "applied/ns/a", []byte("applied"))
	assertValue(t, be, "status/ns/a", []byte("status"))
}

func put(t *testing.T, be storage.KVBackend, key, value string) {
	t.Helper()
	if err := be.Put(context.Background(), key, []byte(value)); err != nil {
		t.Fatalf("Put(%q) error = %v", key, err)
	}
}

func assertValue(t *testing.T, be storage.KVBackend, key string, want []byte) {
	t.Helper()
	got, err := be.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%q) error = %v", key, err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Get(%q)\nGot:  %q\nWant: %q", key, got, want)
	}
}

func assertScan(t *testing.T, be storage.KVBackend, bucket string, want map[string][]byte) {
	t.Helper()
	got, err := be.Scan(context.Background(), bucket)
	if err != nil {
		t.Fatalf("Scan(%q) error = %v", bucket, err)
	}
	if len(got) != len(want) {
		t.Fatalf("Scan(%q) got %d, want %d", bucket, len(got), len(want))
	}
	if len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Scan(%q)\nGot:  %#v\nWant: %#v", bucket, got, want)
	}
}
