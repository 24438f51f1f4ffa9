package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// ErrClosed is returned when waiting on a closed mailbox
var ErrClosed = errors.New("mailbox closed")

// Box is a latest only mailbox.  Publishing overwrites the held value and
// never blocks, so a slow consumer drops values rather than queueing them.
// Each published value gets an increasing sequence number so consumers can
// wait for a value newer than the last one they used
type Box[T any] struct {
	value T
	seq   uint64
	has   bool
	// taken is set once Wait has returned the held value
	taken  bool
	closed bool
	drops  atomic.Uint64
	// clone copies the held value for a reader, release frees a value
	// that is overwritten or discarded
	clone   func(T) T
	release func(T)
	mu      sync.Mutex
	cond    *sync.Cond
}

// NewBox returns an empty mailbox.  clone and release may be nil for plain
// values
func NewBox[T any](clone func(T) T, release func(T)) *Box[T] {
	b := &Box[T]{
		clone:   clone,
		release: release,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// NewFrameBox returns a mailbox of camera frames.  The box owns published
// Mats, readers receive clones they must close
func NewFrameBox() *Box[gocv.Mat] {
	return NewBox(
		func(m gocv.Mat) gocv.Mat { return m.Clone() },
		func(m gocv.Mat) { m.Close() },
	)
}

// NewSceneBox returns a mailbox of detection scenes
func NewSceneBox() *Box[Scene] {
	return NewBox[Scene](nil, nil)
}

// Publish replaces the held value with v and returns its sequence number.
// The box takes ownership of v, which is released at once if the box is
// closed
func (b *Box[T]) Publish(v T) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.free(v)
		return 0
	}

	if b.has {
		if !b.taken {
			b.drops.Add(1)
		}
		b.free(b.value)
	}

	b.seq++
	b.value = v
	b.has = true
	b.taken = false

	b.cond.Broadcast()

	return b.seq
}

// Wait blocks until a value newer than sequence after is held and returns
// a copy of it with its sequence number
func (b *Box[T]) Wait(ctx context.Context, after uint64) (T, uint64, error) {

	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T

	for {
		if b.closed {
			return zero, 0, ErrClosed
		}

		if err := ctx.Err(); err != nil {
			return zero, 0, err
		}

		if b.has && b.seq > after {
			b.taken = true
			return b.copy(b.value), b.seq, nil
		}

		b.cond.Wait()
	}
}

// Latest returns a copy of the held value without blocking
func (b *Box[T]) Latest() (T, uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T

	if !b.has || b.closed {
		return zero, 0, false
	}

	return b.copy(b.value), b.seq, true
}

// Seq returns the sequence number of the held value
func (b *Box[T]) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Drops returns the number of values overwritten before Wait returned them
func (b *Box[T]) Drops() uint64 {
	return b.drops.Load()
}

// Close releases the held value and wakes all waiters
func (b *Box[T]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true

	if b.has {
		b.free(b.value)
		var zero T
		b.value = zero
		b.has = false
	}

	b.cond.Broadcast()

	return nil
}

func (b *Box[T]) copy(v T) T {
	if b.clone != nil {
		return b.clone(v)
	}
	return v
}

func (b *Box[T]) free(v T) {
	if b.release != nil {
		b.release(v)
	}
}
