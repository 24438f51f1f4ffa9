package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakePuppet records whether it was closed
type fakePuppet struct {
	id     int64
	mu     sync.Mutex
	closed bool
}

func (f *fakePuppet) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePuppet) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// waitReady collects from the registry until every id is ready or the
// timeout expires
func waitReady(t *testing.T, r *Registry[*fakePuppet], ids ...int64) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		r.Collect()

		ready := 0
		for _, id := range ids {
			if _, ok := r.Get(id); ok {
				ready++
			}
		}

		if ready == len(ids) {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("puppets %v not ready before timeout", ids)
}

func newFakeRegistry(p RegistryParams) *Registry[*fakePuppet] {
	return NewRegistry[*fakePuppet](p,
		func(ctx context.Context, id int64) (*fakePuppet, error) {
			return &fakePuppet{id: id}, nil
		}, nil)
}

func TestRegistryRemovesMissingIdentity(t *testing.T) {

	r := newFakeRegistry(RegistryParams{})
	defer r.Close()

	var dropped []int64
	r.OnDrop = func(id int64) { dropped = append(dropped, id) }

	r.Reconcile([]int64{1, 2})
	waitReady(t, r, 1, 2)

	one, _ := r.Get(1)
	two, _ := r.Get(2)

	gone := r.Reconcile([]int64{2})

	if len(gone) != 1 || gone[0] != 1 {
		t.Fatalf("expected identity 1 released, got %v", gone)
	}

	if len(dropped) != 1 || dropped[0] != 1 {
		t.Errorf("expected OnDrop(1), got %v", dropped)
	}

	if !one.isClosed() {
		t.Error("expected puppet 1 to be closed")
	}

	if _, ok := r.Get(1); ok {
		t.Error("expected puppet 1 removed")
	}

	got, ok := r.Get(2)

	if !ok || got != two {
		t.Error("expected puppet 2 to persist unchanged")
	}

	if two.isClosed() {
		t.Error("puppet 2 must not be closed")
	}
}

func TestRegistryGrace(t *testing.T) {

	r := newFakeRegistry(RegistryParams{Grace: 2})
	defer r.Close()

	r.Reconcile([]int64{5})
	waitReady(t, r, 5)

	if gone := r.Reconcile(nil); len(gone) != 0 {
		t.Fatalf("released within grace: %v", gone)
	}

	if gone := r.Reconcile(nil); len(gone) != 0 {
		t.Fatalf("released within grace: %v", gone)
	}

	// seen again resets the miss counter
	r.Reconcile([]int64{5})
	r.Reconcile(nil)
	r.Reconcile(nil)

	if _, ok := r.Get(5); !ok {
		t.Fatal("expected puppet 5 held after miss counter reset")
	}

	if gone := r.Reconcile(nil); len(gone) != 1 || gone[0] != 5 {
		t.Errorf("expected identity 5 released after grace, got %v", gone)
	}
}

func TestRegistryReleasedWhilePending(t *testing.T) {

	release := make(chan struct{})
	var built *fakePuppet
	var mu sync.Mutex

	r := NewRegistry[*fakePuppet](RegistryParams{},
		func(ctx context.Context, id int64) (*fakePuppet, error) {
			<-release
			mu.Lock()
			defer mu.Unlock()
			built = &fakePuppet{id: id}
			return built, nil
		}, nil)
	defer r.Close()

	r.Reconcile([]int64{3})

	if got := r.Tracked(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("expected identity 3 pending, got %v", got)
	}

	if got := r.Ready(); len(got) != 0 {
		t.Fatalf("expected nothing ready, got %v", got)
	}

	// identity leaves before its puppet is built
	r.Reconcile(nil)
	close(release)

	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		r.Collect()

		mu.Lock()
		b := built
		mu.Unlock()

		if b != nil && b.isClosed() {
			break
		}

		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()

	if built == nil || !built.isClosed() {
		t.Fatal("expected stale puppet to be closed on collect")
	}

	if _, ok := r.Get(3); ok {
		t.Error("stale puppet must not be attached")
	}
}

func TestRegistryAllocationRetry(t *testing.T) {

	var mu sync.Mutex
	calls := 0

	r := NewRegistry[*fakePuppet](RegistryParams{},
		func(ctx context.Context, id int64) (*fakePuppet, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return nil, errors.New("asset not loaded")
			}
			return &fakePuppet{id: id}, nil
		}, nil)
	defer r.Close()

	r.Reconcile([]int64{4})

	deadline := time.Now().Add(2 * time.Second)

	for len(r.Tracked()) != 0 && time.Now().Before(deadline) {
		r.Collect()
		time.Sleep(5 * time.Millisecond)
	}

	if len(r.Tracked()) != 0 {
		t.Fatal("expected failed allocation to be forgotten")
	}

	r.Reconcile([]int64{4})
	waitReady(t, r, 4)
}

func TestRegistryClose(t *testing.T) {

	r := newFakeRegistry(RegistryParams{})

	r.Reconcile([]int64{1, 2})
	waitReady(t, r, 1, 2)

	one, _ := r.Get(1)
	two, _ := r.Get(2)

	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !one.isClosed() || !two.isClosed() {
		t.Error("expected all puppets closed")
	}

	if len(r.Tracked()) != 0 {
		t.Error("expected registry empty after close")
	}
}
