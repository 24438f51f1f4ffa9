package tracker

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Puppet is anything allocated per tracked identity that must be released
// when the identity disappears
type Puppet interface {
	Close() error
}

// Factory allocates the puppet of a newly tracked identity.  It may block,
// eg: while loading a shared asset, as it is run asynchronously
type Factory[P Puppet] func(ctx context.Context, id int64) (P, error)

// RegistryParams defines the puppet lifetime policy
type RegistryParams struct {
	// Grace is the number of consecutive cycles an identity may be missing
	// before its puppet is released.  Zero releases it on the first cycle it
	// is missing
	Grace int
}

// entry is the registry state of one identity
type entry[P Puppet] struct {
	puppet P
	ready  bool
	missed int
}

// allocation is the result of an asynchronous Factory call
type allocation[P Puppet] struct {
	id     int64
	entry  *entry[P]
	puppet P
	err    error
}

// Registry maps tracked identities to their puppets.  Identities present in
// a cycle that have no puppet get one allocated asynchronously, identities
// missing for longer than the grace window are released
type Registry[P Puppet] struct {
	params  RegistryParams
	factory Factory[P]
	log     logrus.FieldLogger
	// OnDrop is called with each identity that is released, eg: to drop its
	// smoothed pose state
	OnDrop func(id int64)

	entries map[int64]*entry[P]
	results chan allocation[P]
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	sync.Mutex
}

// NewRegistry returns a registry allocating puppets with factory
func NewRegistry[P Puppet](p RegistryParams, factory Factory[P],
	log logrus.FieldLogger) *Registry[P] {

	ctx, cancel := context.WithCancel(context.Background())

	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Registry[P]{
		params:  p,
		factory: factory,
		log:     log,
		entries: make(map[int64]*entry[P]),
		results: make(chan allocation[P], 16),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Reconcile updates the registry with the identities detected this cycle.
// It returns the identities released by this call
func (r *Registry[P]) Reconcile(ids []int64) []int64 {
	r.Lock()
	defer r.Unlock()

	present := make(map[int64]bool, len(ids))

	for _, id := range ids {
		present[id] = true
	}

	var dropped []int64

	for id, e := range r.entries {
		if present[id] {
			e.missed = 0
			continue
		}

		e.missed++

		if e.missed > r.params.Grace {
			r.release(id, e)
			dropped = append(dropped, id)
		}
	}

	for _, id := range ids {
		if _, ok := r.entries[id]; ok {
			continue
		}

		e := &entry[P]{}
		r.entries[id] = e
		r.allocate(id, e)
	}

	sort.Slice(dropped, func(i, j int) bool { return dropped[i] < dropped[j] })

	for _, id := range dropped {
		if r.OnDrop != nil {
			r.OnDrop(id)
		}
	}

	return dropped
}

// allocate runs the factory for the identity in the background
func (r *Registry[P]) allocate(id int64, e *entry[P]) {

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		p, err := r.factory(r.ctx, id)

		select {
		case r.results <- allocation[P]{id: id, entry: e, puppet: p, err: err}:
		case <-r.ctx.Done():
			if err == nil {
				_ = p.Close()
			}
		}
	}()
}

// Collect attaches puppets whose allocation has completed.  It never blocks
// and returns the identities that became ready
func (r *Registry[P]) Collect() []int64 {
	r.Lock()
	defer r.Unlock()

	var ready []int64

	for {
		select {
		case a := <-r.results:
			cur, ok := r.entries[a.id]

			if a.err != nil {
				r.log.WithError(a.err).WithField("id", a.id).Warn("Puppet allocation failed")

				// allow a retry on the next cycle the identity is seen
				if ok && cur == a.entry {
					delete(r.entries, a.id)
				}
				continue
			}

			if !ok || cur != a.entry {
				// identity was released while its puppet was being built
				_ = a.puppet.Close()
				continue
			}

			cur.puppet = a.puppet
			cur.ready = true
			ready = append(ready, a.id)

		default:
			sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
			return ready
		}
	}
}

// release closes the identity's puppet and removes it
func (r *Registry[P]) release(id int64, e *entry[P]) {

	if e.ready {
		if err := e.puppet.Close(); err != nil {
			r.log.WithError(err).WithField("id", id).Warn("Error closing puppet")
		}
	}

	delete(r.entries, id)
}

// Get returns the puppet of an identity if it has been allocated
func (r *Registry[P]) Get(id int64) (P, bool) {
	r.Lock()
	defer r.Unlock()

	e, ok := r.entries[id]

	if !ok || !e.ready {
		var zero P
		return zero, false
	}

	return e.puppet, true
}

// Tracked returns all identities held, ready or pending, in ascending order
func (r *Registry[P]) Tracked() []int64 {
	r.Lock()
	defer r.Unlock()

	ids := make([]int64, 0, len(r.entries))

	for id := range r.entries {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Ready returns the identities whose puppets are allocated, in ascending
// order
func (r *Registry[P]) Ready() []int64 {
	r.Lock()
	defer r.Unlock()

	ids := make([]int64, 0, len(r.entries))

	for id, e := range r.entries {
		if e.ready {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Close cancels pending allocations and releases every puppet
func (r *Registry[P]) Close() error {

	r.cancel()
	r.wg.Wait()

	r.Lock()
	defer r.Unlock()

	// allocations that finished before the cancel
drain:
	for {
		select {
		case a := <-r.results:
			if a.err == nil {
				_ = a.puppet.Close()
			}
		default:
			break drain
		}
	}

	for id, e := range r.entries {
		r.release(id, e)
	}

	return nil
}
