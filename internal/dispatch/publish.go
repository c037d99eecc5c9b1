package dispatch

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Publisher holds the latest immutable snapshot of a store and fans it out
// to subscribers. Publish must only be called from the loop goroutine.
type Publisher[S any] struct {
	current atomic.Pointer[S]
	mu      sync.Mutex
	subs    map[int]func(S)
	nextID  int
}

// NewPublisher creates a publisher holding initial.
func NewPublisher[S any](initial S) *Publisher[S] {
	p := &Publisher[S]{subs: make(map[int]func(S))}
	p.current.Store(&initial)
	return p
}

// Load returns the latest published snapshot.
func (p *Publisher[S]) Load() S {
	return *p.current.Load()
}

// Publish stores snap as the latest snapshot and notifies subscribers in
// registration order. Subscribers run on the loop and must not block.
func (p *Publisher[S]) Publish(snap S) {
	p.current.Store(&snap)

	p.mu.Lock()
	ids := make([]int, 0, len(p.subs))
	for id := range p.subs {
		ids = append(ids, id)
	}
	fns := make([]func(S), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, p.subs[id])
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Subscribe registers fn and returns a function that removes it.
func (p *Publisher[S]) Subscribe(fn func(S)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}
