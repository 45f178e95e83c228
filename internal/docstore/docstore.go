// Package docstore keeps activities, user profiles and friend requests in
// MongoDB and turns collection changes into live query updates.
package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	ActivitiesCollection     = "activities"
	ProfilesCollection       = "userProfiles"
	FriendRequestsCollection = "friendRequests"

	connectTimeout = 10 * time.Second
)

// DocStore owns the Mongo client and one change feed per collection.
type DocStore struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
	poll   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	feeds map[string]*feed
}

// Connect dials uri and selects database. poll is the interval of the
// polling fallback used when change streams are unavailable.
func Connect(ctx context.Context, uri, database string, poll time.Duration, log *zap.Logger) (*DocStore, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect to mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping mongo")
	}

	return New(client, client.Database(database), poll, log), nil
}

func New(client *mongo.Client, db *mongo.Database, poll time.Duration, log *zap.Logger) *DocStore {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DocStore{
		client: client,
		db:     db,
		log:    log,
		poll:   poll,
		ctx:    ctx,
		cancel: cancel,
		feeds:  make(map[string]*feed),
	}
}

// EnsureIndexes creates the indexes the live queries rely on.
func (d *DocStore) EnsureIndexes(ctx context.Context) error {
	_, err := d.db.Collection(ActivitiesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "visibility", Value: 1}, {Key: "creator_id", Value: 1}},
			Options: options.Index().SetName("idx_activities_visibility_creator"),
		},
		{
			Keys:    bson.D{{Key: "participant_ids", Value: 1}},
			Options: options.Index().SetName("idx_activities_participants"),
		},
	})
	if err != nil {
		return errors.Wrap(err, "activities indexes")
	}

	_, err = d.db.Collection(FriendRequestsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sender_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_friend_requests_sender"),
		},
		{
			Keys:    bson.D{{Key: "receiver_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_friend_requests_receiver"),
		},
	})
	return errors.Wrap(err, "friend request indexes")
}

// feed returns the change feed of a collection, starting it on first use.
func (d *DocStore) feed(name string) *feed {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.feeds[name]
	if !ok {
		f = newFeed(d.db.Collection(name), d.poll, d.log.With(zap.String("collection", name)))
		d.feeds[name] = f
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			f.run(d.ctx)
		}()
	}
	return f
}

func (d *DocStore) Activities() *Activities {
	return &Activities{c: d.db.Collection(ActivitiesCollection), feed: d.feed(ActivitiesCollection), log: d.log}
}

func (d *DocStore) Profiles() *Profiles {
	return &Profiles{c: d.db.Collection(ProfilesCollection), feed: d.feed(ProfilesCollection), log: d.log}
}

func (d *DocStore) Friends() *Friends {
	return &Friends{
		requests:     d.db.Collection(FriendRequestsCollection),
		profiles:     d.db.Collection(ProfilesCollection),
		requestFeed:  d.feed(FriendRequestsCollection),
		profilesFeed: d.feed(ProfilesCollection),
		log:          d.log,
	}
}

// Close stops the change feeds and disconnects.
func (d *DocStore) Close(ctx context.Context) error {
	d.cancel()
	d.wg.Wait()
	return d.client.Disconnect(ctx)
}
