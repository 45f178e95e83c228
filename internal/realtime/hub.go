// Package realtime implements the chat tree: rooms and insertion-ordered
// message lists with live value listeners.
package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const loadTimeout = 5 * time.Second

// hub fans the current value of a path out to its listeners. Every delivery
// reloads the value while holding the path's delivery lock, so a listener
// never sees an older value after a newer one.
type hub[T any] struct {
	load func(ctx context.Context, id string) (T, error)
	log  *zap.Logger

	mu    sync.Mutex
	next  int
	paths map[string]*path[T]
}

type path[T any] struct {
	deliver sync.Mutex
	fns     map[int]func(T)
}

func newHub[T any](log *zap.Logger, load func(ctx context.Context, id string) (T, error)) *hub[T] {
	return &hub[T]{load: load, log: log, paths: make(map[string]*path[T])}
}

func (h *hub[T]) watch(id string, fn func(T)) (func(), error) {
	h.mu.Lock()
	p, ok := h.paths[id]
	if !ok {
		p = &path[T]{fns: make(map[int]func(T))}
		h.paths[id] = p
	}
	wid := h.next
	h.next++
	p.fns[wid] = fn
	h.mu.Unlock()

	dispose := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(p.fns, wid)
		if len(p.fns) == 0 && h.paths[id] == p {
			delete(h.paths, id)
		}
	}

	p.deliver.Lock()
	defer p.deliver.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	v, err := h.load(ctx, id)
	if err != nil {
		dispose()
		return nil, err
	}
	fn(v)
	return dispose, nil
}

// notify delivers the current value of id to its listeners.
func (h *hub[T]) notify(id string) {
	h.mu.Lock()
	p, ok := h.paths[id]
	h.mu.Unlock()
	if !ok {
		return
	}

	p.deliver.Lock()
	defer p.deliver.Unlock()

	h.mu.Lock()
	fns := make([]func(T), 0, len(p.fns))
	for _, fn := range p.fns {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	if len(fns) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	v, err := h.load(ctx, id)
	if err != nil {
		h.log.Warn("failed to load watched path", zap.String("id", id), zap.Error(err))
		return
	}
	for _, fn := range fns {
		fn(v)
	}
}

// notifyAll redelivers every watched path.
func (h *hub[T]) notifyAll() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.paths))
	for id := range h.paths {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.notify(id)
	}
}

func (h *hub[T]) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, p := range h.paths {
		n += len(p.fns)
	}
	return n
}
