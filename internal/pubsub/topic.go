// Package pubsub publishes immutable store snapshots to subscribers.
package pubsub

import "sync"

// Topic delivers every published snapshot to all subscribers in publish
// order. A new subscriber receives the latest snapshot immediately.
type Topic[T any] struct {
	mu       sync.Mutex
	deliver  sync.Mutex
	nextID   int
	subs     map[int]func(T)
	latest   T
	hasValue bool
}

func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[int]func(T))}
}

// Subscribe registers fn and returns its disposer. Calling the disposer
// more than once is safe.
func (t *Topic[T]) Subscribe(fn func(T)) func() {
	t.deliver.Lock()
	defer t.deliver.Unlock()

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	latest, ok := t.latest, t.hasValue
	t.mu.Unlock()

	if ok {
		fn(latest)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// Publish records v as the latest snapshot and hands it to every subscriber.
func (t *Topic[T]) Publish(v T) {
	t.deliver.Lock()
	defer t.deliver.Unlock()

	t.mu.Lock()
	t.latest, t.hasValue = v, true
	fns := make([]func(T), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (t *Topic[T]) Latest() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest, t.hasValue
}

func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
