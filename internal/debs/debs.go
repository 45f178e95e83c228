package deps

import (
	"context"
	"sync"

	"github.com/bwise1/meetup_api/config"
	"github.com/bwise1/meetup_api/internal/activity"
	"github.com/bwise1/meetup_api/internal/chat"
	"github.com/bwise1/meetup_api/internal/db"
	"github.com/bwise1/meetup_api/internal/docstore"
	"github.com/bwise1/meetup_api/internal/friends"
	"github.com/bwise1/meetup_api/internal/http/geocode"
	"github.com/bwise1/meetup_api/internal/profile"
	"github.com/bwise1/meetup_api/internal/realtime"
	"github.com/bwise1/meetup_api/internal/session"
	"github.com/bwise1/meetup_api/internal/watermark"
	"github.com/bwise1/meetup_api/util/storage"
	"github.com/bwise1/meetup_api/util/websockets"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Dependencies holds every shared backend. Optional backends are nil when
// not configured.
type Dependencies struct {
	Log        *zap.Logger
	DB         *db.DB
	Realtime   *realtime.Postgres
	Docs       *docstore.DocStore
	Redis      *redis.Client
	Cloudinary *storage.Cloudinary
	Geocoder   *geocode.Client
	WebSocket  *websockets.WebSocketManager
	Rooms      *chat.Rooms
	Sessions   *session.Manager

	reaper  *session.IdleReaper
	sweeper *session.RetentionSweeper
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New connects every configured backend. Postgres and MongoDB fall back to
// in-process stores when their DSN is empty.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Dependencies, error) {
	d := &Dependencies{Log: log}
	cleanup := func(err error) (*Dependencies, error) {
		d.Close(context.Background())
		return nil, err
	}

	var tree chat.Tree
	if cfg.Dsn != "" {
		database, err := db.New(cfg.Dsn, log)
		if err != nil {
			return cleanup(err)
		}
		d.DB = database
		if err := database.EnsureSchema(ctx); err != nil {
			return cleanup(err)
		}
		d.Realtime = realtime.NewPostgres(database, log)
		tree = d.Realtime
	} else {
		log.Warn("DSN not set, chats are kept in memory")
		tree = realtime.NewMemory(log)
	}

	var (
		activities activity.Repository
		toucher    chat.ActivityToucher
		friendRepo friends.Repository
		profiles   profile.Repository
	)
	if cfg.MongoURI != "" {
		docs, err := docstore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.WatchPollInterval, log)
		if err != nil {
			return cleanup(err)
		}
		d.Docs = docs
		if err := docs.EnsureIndexes(ctx); err != nil {
			return cleanup(err)
		}
		a := docs.Activities()
		activities, toucher, friendRepo, profiles = a, a, docs.Friends(), docs.Profiles()
	} else {
		log.Warn("MONGO_URI not set, documents are kept in memory")
		mem := docstore.NewMemory(log)
		a := mem.Activities()
		activities, toucher, friendRepo, profiles = a, a, mem.Friends(), mem.Profiles()
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return cleanup(errors.Wrap(err, "parse redis url"))
		}
		d.Redis = redis.NewClient(opt)
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return cleanup(errors.Wrap(err, "ping redis"))
		}
	}

	cld, err := storage.NewCloudinary(cfg)
	if err != nil {
		return cleanup(err)
	}
	d.Cloudinary = cld

	if cfg.StadiaAPIKey != "" {
		d.Geocoder = geocode.NewClient(cfg.StadiaAPIKey)
	}

	d.WebSocket = websockets.NewWebSocketManager(log)
	d.Rooms = chat.NewRooms(tree, toucher, log, chat.WithRetention(cfg.ChatRetention))

	backends := session.Backends{
		Activities: activities,
		Friends:    friendRepo,
		Profiles:   profiles,
		Rooms:      d.Rooms,
		Watermarks: watermark.NewFactory(d.Redis, log),
		Notifier:   d.WebSocket,
	}
	if d.Geocoder != nil {
		backends.Geocoder = d.Geocoder
	}
	if d.Cloudinary != nil {
		backends.Uploader = d.Cloudinary
	}
	d.Sessions = session.NewManager(backends, d.WebSocket, log)

	d.reaper = session.NewIdleReaper(d.Sessions, log, cfg.SessionIdleTimeout/2, cfg.SessionIdleTimeout)
	d.sweeper = session.NewRetentionSweeper(d.Rooms, log, cfg.SweepInterval)
	return d, nil
}

// Start runs the background loops: notification listener, websocket
// registration and the workers.
func (d *Dependencies) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	if d.Realtime != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.Realtime.Run(ctx)
		}()
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.WebSocket.Run(ctx)
	}()

	d.reaper.Start()
	d.sweeper.Start()
}

// Close stops the background loops, closes every session, then the
// backends.
func (d *Dependencies) Close(ctx context.Context) {
	if d.reaper != nil {
		d.reaper.Stop()
	}
	if d.sweeper != nil {
		d.sweeper.Stop()
	}
	if d.Sessions != nil {
		d.Sessions.CloseAll()
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	if d.Docs != nil {
		if err := d.Docs.Close(ctx); err != nil {
			d.Log.Warn("closing mongo", zap.Error(err))
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Log.Warn("closing redis", zap.Error(err))
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
