package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// countingBox returns an int mailbox that records released values
func countingBox() (*Box[int], func() []int) {

	var mu sync.Mutex
	var released []int

	b := NewBox(nil, func(v int) {
		mu.Lock()
		released = append(released, v)
		mu.Unlock()
	})

	return b, func() []int {
		mu.Lock()
		defer mu.Unlock()
		out := make([]int, len(released))
		copy(out, released)
		return out
	}
}

func TestBoxLatestOnly(t *testing.T) {

	b, released := countingBox()
	defer b.Close()

	if _, _, ok := b.Latest(); ok {
		t.Fatal("expected empty box")
	}

	b.Publish(1)
	b.Publish(2)
	seq := b.Publish(3)

	if seq != 3 {
		t.Errorf("expected sequence 3, got %d", seq)
	}

	v, got, ok := b.Latest()

	if !ok || v != 3 || got != 3 {
		t.Errorf("expected latest value 3 seq 3, got %d seq %d", v, got)
	}

	if r := released(); len(r) != 2 || r[0] != 1 || r[1] != 2 {
		t.Errorf("expected overwritten values released, got %v", r)
	}

	// values 1 and 2 were never waited on
	if d := b.Drops(); d != 2 {
		t.Errorf("expected 2 drops, got %d", d)
	}
}

func TestBoxWait(t *testing.T) {

	b := NewBox[int](nil, nil)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan int, 1)

	go func() {
		v, _, err := b.Wait(ctx, 0)
		if err != nil {
			done <- -1
			return
		}
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	b.Publish(7)

	select {
	case v := <-done:
		if v != 7 {
			t.Fatalf("expected 7, got %d", v)
		}
	case <-ctx.Done():
		t.Fatal("wait did not return")
	}

	// a value already returned by Wait is not counted when overwritten
	b.Publish(8)

	if d := b.Drops(); d != 0 {
		t.Errorf("expected no drops, got %d", d)
	}

	// the held value is newer than sequence 1 so Wait returns at once
	v, seq, err := b.Wait(ctx, 1)

	if err != nil || v != 8 || seq != 2 {
		t.Errorf("expected 8 seq 2, got %d seq %d err %v", v, seq, err)
	}
}

func TestBoxWaitCancelled(t *testing.T) {

	b := NewBox[int](nil, nil)
	defer b.Close()

	b.Publish(1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// nothing newer than sequence 1 arrives
	_, _, err := b.Wait(ctx, 1)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestBoxClose(t *testing.T) {

	b, released := countingBox()

	b.Publish(4)

	errc := make(chan error, 1)

	go func() {
		_, _, err := b.Wait(context.Background(), 1)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken by close")
	}

	// publishing after close releases the value immediately
	if seq := b.Publish(5); seq != 0 {
		t.Errorf("expected sequence 0 after close, got %d", seq)
	}

	if r := released(); len(r) != 2 || r[0] != 4 || r[1] != 5 {
		t.Errorf("expected 4 and 5 released, got %v", r)
	}

	if _, _, ok := b.Latest(); ok {
		t.Error("expected no value after close")
	}
}

func TestBoxClone(t *testing.T) {

	clones := 0

	b := NewBox(func(v []int) []int {
		clones++
		out := make([]int, len(v))
		copy(out, v)
		return out
	}, nil)
	defer b.Close()

	b.Publish([]int{1, 2})

	v, _, _ := b.Latest()
	v[0] = 9

	w, _, _ := b.Latest()

	if w[0] != 1 {
		t.Errorf("reader modified the held value: %v", w)
	}

	if clones != 2 {
		t.Errorf("expected 2 clones, got %d", clones)
	}
}
