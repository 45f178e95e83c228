package docstore

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const reloadTimeout = 5 * time.Second

// feed signals its listeners whenever the collection changes. It follows a
// change stream and falls back to polling when the deployment has none
// (standalone servers).
type feed struct {
	c    *mongo.Collection
	poll time.Duration
	log  *zap.Logger

	mu        sync.Mutex
	next      int
	listeners map[int]func(context.Context)
}

func newFeed(c *mongo.Collection, poll time.Duration, log *zap.Logger) *feed {
	return &feed{c: c, poll: poll, log: log, listeners: make(map[int]func(context.Context))}
}

func (f *feed) add(fn func(context.Context)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.listeners[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *feed) fire(ctx context.Context) {
	f.mu.Lock()
	fns := make([]func(context.Context), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		rctx, cancel := context.WithTimeout(ctx, reloadTimeout)
		fn(rctx)
		cancel()
	}
}

func (f *feed) run(ctx context.Context) {
	for ctx.Err() == nil {
		err := f.follow(ctx)
		if ctx.Err() != nil {
			return
		}
		f.log.Info("change stream unavailable, polling", zap.Duration("interval", f.poll), zap.Error(err))
		f.pollUntil(ctx, time.Minute)
	}
}

// follow fires on every change stream event until the stream fails.
func (f *feed) follow(ctx context.Context) error {
	stream, err := f.c.Watch(ctx, mongo.Pipeline{}, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return err
	}
	defer stream.Close(context.Background())

	// Changes made while the stream was down are unknown.
	f.fire(ctx)
	for stream.Next(ctx) {
		f.fire(ctx)
	}
	return stream.Err()
}

// pollUntil fires every poll interval for d, then returns so the change
// stream can be retried.
func (f *feed) pollUntil(ctx context.Context, d time.Duration) {
	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()
	deadline := time.After(d)

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-ticker.C:
			f.fire(ctx)
		}
	}
}

// live runs load now and after every change of f, passing fn each result
// that differs from the previous one. The returned disposer never blocks on
// a delivery in progress.
func live[T any](ctx context.Context, f *feed, log *zap.Logger, load func(context.Context) (T, error), fn func(T)) (func(), error) {
	var (
		mu       sync.Mutex
		last     T
		disposed atomic.Bool
	)

	mu.Lock()
	remove := f.add(func(ctx context.Context) {
		mu.Lock()
		defer mu.Unlock()
		if disposed.Load() {
			return
		}
		v, err := load(ctx)
		if err != nil {
			log.Warn("live query reload failed", zap.Error(err))
			return
		}
		if reflect.DeepEqual(v, last) {
			return
		}
		last = v
		fn(v)
	})

	v, err := load(ctx)
	if err != nil {
		mu.Unlock()
		remove()
		return nil, err
	}
	last = v
	fn(v)
	mu.Unlock()

	return func() {
		disposed.Store(true)
		remove()
	}, nil
}
