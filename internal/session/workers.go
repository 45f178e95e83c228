package session

import (
	"context"
	"sync"
	"time"

	"github.com/bwise1/meetup_api/internal/chat"
	"go.uber.org/zap"
)

// IdleReaper is a background worker that closes idle sessions.
type IdleReaper struct {
	sessions  *Manager
	log       *zap.Logger
	interval  time.Duration
	threshold time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewIdleReaper(sessions *Manager, logger *zap.Logger, interval, threshold time.Duration) *IdleReaper {
	return &IdleReaper{
		sessions:  sessions,
		log:       logger,
		interval:  interval,
		threshold: threshold,
		stopCh:    make(chan struct{}),
	}
}

func (w *IdleReaper) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("idle session reaper started",
		zap.Duration("interval", w.interval),
		zap.Duration("threshold", w.threshold))
}

// Stop signals the worker to stop and waits for it to finish.
func (w *IdleReaper) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("idle session reaper stopped")
}

func (w *IdleReaper) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if n := w.sessions.CloseIdle(w.threshold); n > 0 {
				w.log.Info("closed idle sessions", zap.Int("count", n))
			}
		}
	}
}

// RetentionSweeper periodically deletes expired messages from every chat.
type RetentionSweeper struct {
	rooms    *chat.Rooms
	log      *zap.Logger
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewRetentionSweeper(rooms *chat.Rooms, logger *zap.Logger, interval time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		rooms:    rooms,
		log:      logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (w *RetentionSweeper) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("chat retention sweeper started", zap.Duration("interval", w.interval))
}

func (w *RetentionSweeper) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("chat retention sweeper stopped")
}

func (w *RetentionSweeper) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *RetentionSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	count, err := w.rooms.SweepAll(ctx)
	if err != nil {
		w.log.Error("chat retention sweep failed", zap.Error(err))
		return
	}
	if count > 0 {
		w.log.Info("expired chat messages swept", zap.Int("count", count))
	}
}
