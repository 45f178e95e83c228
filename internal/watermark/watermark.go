// Package watermark stores per-user "last viewed" chat timestamps.
package watermark

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bwise1/meetup_api/internal/chat"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Memory keeps watermarks in process memory.
type Memory struct {
	mu sync.RWMutex
	m  map[string]int64
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string]int64)}
}

func (w *Memory) Get(activityID string) int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.m[chat.WatermarkKey(activityID)]
}

func (w *Memory) Set(activityID string, ms int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.m[chat.WatermarkKey(activityID)] = ms
}

const redisTimeout = 2 * time.Second

// Redis keeps one user's watermarks in the hash watermarks:{userID}. Reads
// that fail count as never viewed.
type Redis struct {
	client *redis.Client
	key    string
	log    *zap.Logger
}

func NewRedis(client *redis.Client, userID string, log *zap.Logger) *Redis {
	return &Redis{
		client: client,
		key:    "watermarks:" + userID,
		log:    log,
	}
}

func (w *Redis) Get(activityID string) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	val, err := w.client.HGet(ctx, w.key, chat.WatermarkKey(activityID)).Result()
	if err == redis.Nil {
		return 0
	}
	if err != nil {
		w.log.Warn("failed to read watermark", zap.String("key", w.key), zap.String("activity_id", activityID), zap.Error(err))
		return 0
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return ms
}

func (w *Redis) Set(activityID string, ms int64) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := w.client.HSet(ctx, w.key, chat.WatermarkKey(activityID), ms).Err(); err != nil {
		w.log.Warn("failed to write watermark", zap.String("key", w.key), zap.String("activity_id", activityID), zap.Error(err))
	}
}

// Factory returns the watermark store of a user.
type Factory func(userID string) chat.Watermarks

// NewFactory returns Redis-backed stores when client is set and one
// in-memory store per user otherwise.
func NewFactory(client *redis.Client, log *zap.Logger) Factory {
	if client != nil {
		return func(userID string) chat.Watermarks {
			return NewRedis(client, userID, log)
		}
	}
	var mu sync.Mutex
	stores := make(map[string]*Memory)
	return func(userID string) chat.Watermarks {
		mu.Lock()
		defer mu.Unlock()
		s, ok := stores[userID]
		if !ok {
			s = NewMemory()
			stores[userID] = s
		}
		return s
	}
}
