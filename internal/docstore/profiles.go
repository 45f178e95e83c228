package docstore

import (
	"context"
	"time"

	"github.com/bwise1/meetup_api/internal/model"
	"github.com/bwise1/meetup_api/internal/profile"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Profiles is the userProfiles collection, one document per user id.
type Profiles struct {
	c    *mongo.Collection
	feed *feed
	log  *zap.Logger
}

var _ profile.Repository = (*Profiles)(nil)

func (s *Profiles) Get(ctx context.Context, userID string) (*model.UserProfile, error) {
	var p model.UserProfile
	err := s.c.FindOne(ctx, bson.M{"_id": userID}).Decode(&p)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find profile")
	}
	return &p, nil
}

// Create inserts p. A profile created concurrently by another session is
// left as it is.
func (s *Profiles) Create(ctx context.Context, p model.UserProfile) error {
	if p.Interests == nil {
		p.Interests = []string{}
	}
	if p.FriendIDs == nil {
		p.FriendIDs = []string{}
	}
	_, err := s.c.InsertOne(ctx, p)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return errors.Wrap(err, "insert profile")
}

func (s *Profiles) Merge(ctx context.Context, userID string, patch model.ProfilePatch) error {
	set := bson.M{}
	if patch.DisplayName != nil {
		set["display_name"] = *patch.DisplayName
	}
	if patch.PhotoURL != nil {
		set["photo_url"] = *patch.PhotoURL
	}
	if patch.Bio != nil {
		set["bio"] = *patch.Bio
	}
	if patch.Location != nil {
		set["location"] = *patch.Location
	}
	if patch.Interests != nil {
		interests := *patch.Interests
		if interests == nil {
			interests = []string{}
		}
		set["interests"] = interests
	}
	if len(set) == 0 {
		return nil
	}
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": set})
	return errors.Wrap(err, "merge profile")
}

func (s *Profiles) RecordLogin(ctx context.Context, userID string, at time.Time, displayName string) error {
	set := bson.M{"last_login_at": at.UTC()}
	if displayName != "" {
		set["display_name"] = displayName
	}
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": set})
	return errors.Wrap(err, "record login")
}

func (s *Profiles) Watch(ctx context.Context, userID string, fn func(*model.UserProfile)) (func(), error) {
	return live(ctx, s.feed, s.log, func(ctx context.Context) (*model.UserProfile, error) {
		return s.Get(ctx, userID)
	}, fn)
}
