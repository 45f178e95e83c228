package activity

import (
	"context"
	"time"

	"github.com/bwise1/meetup_api/internal/model"
)

// Query selects activities of one visibility. CreatorIDs, when set, limits
// the result to those creators.
type Query struct {
	Visibility model.Visibility
	CreatorIDs []string
}

// Repository is the activities document collection.
type Repository interface {
	Insert(ctx context.Context, a model.Activity) error
	// Get returns apperr.ErrActivityNotFound when id does not exist.
	Get(ctx context.Context, id string) (*model.Activity, error)
	Update(ctx context.Context, id string, patch model.ActivityPatch) error
	// AddParticipant appends userID unless it is already listed or the list
	// holds capacity entries. added reports whether this call appended it.
	AddParticipant(ctx context.Context, id, userID string, capacity *int) (added bool, err error)
	RemoveParticipant(ctx context.Context, id, userID string) error
	Delete(ctx context.Context, id string) error
	TouchLastMessage(ctx context.Context, id string, at time.Time) error

	// Watch delivers the activities matching q right away and again after
	// every change, until the returned disposer is called.
	Watch(ctx context.Context, q Query, fn func([]model.Activity)) (func(), error)
}

// ChatMembership keeps chat room membership in step with participation.
type ChatMembership interface {
	Join(ctx context.Context, activityID string, user model.UserRef) error
	Leave(ctx context.Context, activityID, userID string) error
	Purge(ctx context.Context, activityID string) error
}

type Geocoder interface {
	Geocode(ctx context.Context, text string) (*model.GeoPoint, error)
}
