package posepuppet

import (
	"context"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Pool is a simple pool of estimator instances so several frames can be
// inferenced in parallel.  Pool itself implements Estimator by borrowing an
// instance for the duration of each call
type Pool struct {
	// pool of estimators
	estimators chan Estimator
	// size of pool
	size   int
	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new pool of the given size using newFn to construct each
// estimator instance.  newFn receives the instance index, eg: to select a
// compute device per instance
func NewPool(size int, newFn func(i int) (Estimator, error)) (*Pool, error) {

	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}

	p := &Pool{
		estimators: make(chan Estimator, size),
		size:       size,
	}

	for i := 0; i < size; i++ {
		est, err := newFn(i)

		if err != nil {
			// close any instances that may have been created before receiving
			// the error
			p.Close()
			return nil, err
		}

		// attach to pool
		p.Return(est)
	}

	return p, nil
}

// Get an estimator from the pool, blocking until one is free or ctx is done
func (p *Pool) Get(ctx context.Context) (Estimator, error) {
	select {
	case est, ok := <-p.estimators:
		if !ok {
			return nil, fmt.Errorf("%w: pool closed", ErrEstimatorUnavailable)
		}
		return est, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Return an estimator to the pool
func (p *Pool) Return(est Estimator) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		_ = est.Close()
		return
	}

	select {
	case p.estimators <- est:
	default:
		// pool is full
		_ = est.Close()
	}
}

// Size returns the number of instances in the pool
func (p *Pool) Size() int {
	return p.size
}

// Estimate borrows an instance from the pool and runs estimation on it
func (p *Pool) Estimate(ctx context.Context, frame gocv.Mat,
	opts EstimateOptions) ([]Pose, error) {

	est, err := p.Get(ctx)

	if err != nil {
		return nil, err
	}

	defer p.Return(est)

	return est.Estimate(ctx, frame, opts)
}

// Close the pool and all estimators in it
func (p *Pool) Close() error {

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	close(p.estimators)

	// close all idle estimators, borrowed ones are closed on Return
	for next := range p.estimators {
		_ = next.Close()
	}

	return nil
}
