package docstore

import (
	"context"
	"time"

	"github.com/bwise1/meetup_api/internal/activity"
	"github.com/bwise1/meetup_api/internal/apperr"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Activities is the activities collection.
type Activities struct {
	c    *mongo.Collection
	feed *feed
	log  *zap.Logger
}

var _ activity.Repository = (*Activities)(nil)

func (s *Activities) Insert(ctx context.Context, a model.Activity) error {
	if a.ParticipantIDs == nil {
		a.ParticipantIDs = []string{}
	}
	_, err := s.c.InsertOne(ctx, a)
	return errors.Wrap(err, "insert activity")
}

func (s *Activities) Get(ctx context.Context, id string) (*model.Activity, error) {
	var a model.Activity
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	if err == mongo.ErrNoDocuments {
		return nil, apperr.ErrActivityNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find activity")
	}
	return &a, nil
}

func patchFields(p model.ActivityPatch) bson.M {
	set := bson.M{}
	if p.Title != nil {
		set["title"] = *p.Title
	}
	if p.Description != nil {
		set["description"] = *p.Description
	}
	if p.Location != nil {
		set["location"] = *p.Location
	}
	if p.Coordinates != nil {
		set["coordinates"] = *p.Coordinates
	}
	if p.RoutePolyline != nil {
		set["route_polyline"] = *p.RoutePolyline
	}
	if p.ImageURL != nil {
		set["image_url"] = *p.ImageURL
	}
	if p.ScheduledAt != nil {
		set["scheduled_at"] = *p.ScheduledAt
	}
	if p.Category != nil {
		set["category"] = *p.Category
	}
	if p.MaxParticipants != nil {
		set["max_participants"] = *p.MaxParticipants
	}
	if p.Visibility != nil {
		set["visibility"] = *p.Visibility
	}
	return set
}

func (s *Activities) Update(ctx context.Context, id string, patch model.ActivityPatch) error {
	set := patchFields(patch)
	if len(set) == 0 {
		return nil
	}
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return errors.Wrap(err, "update activity")
	}
	if res.MatchedCount == 0 {
		return apperr.ErrActivityNotFound
	}
	return nil
}

// AddParticipant appends userID in a single conditional update so two
// concurrent joins cannot exceed capacity.
func (s *Activities) AddParticipant(ctx context.Context, id, userID string, capacity *int) (bool, error) {
	filter := bson.M{"_id": id, "participant_ids": bson.M{"$ne": userID}}
	if capacity != nil {
		filter["$expr"] = bson.M{"$lt": bson.A{bson.M{"$size": "$participant_ids"}, *capacity}}
	}

	res, err := s.c.UpdateOne(ctx, filter, bson.M{"$addToSet": bson.M{"participant_ids": userID}})
	if err != nil {
		return false, errors.Wrap(err, "add participant")
	}
	if res.MatchedCount == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return false, err
		}
	}
	return res.ModifiedCount > 0, nil
}

func (s *Activities) RemoveParticipant(ctx context.Context, id, userID string) error {
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$pull": bson.M{"participant_ids": userID}})
	return errors.Wrap(err, "remove participant")
}

func (s *Activities) Delete(ctx context.Context, id string) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "delete activity")
	}
	if res.DeletedCount == 0 {
		return apperr.ErrActivityNotFound
	}
	return nil
}

// TouchLastMessage moves last_message_at forward to at.
func (s *Activities) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$max": bson.M{"last_message_at": at.UTC()}})
	return errors.Wrap(err, "touch last message")
}

func queryFilter(q activity.Query) bson.M {
	filter := bson.M{"visibility": q.Visibility}
	if len(q.CreatorIDs) > 0 {
		filter["creator_id"] = bson.M{"$in": q.CreatorIDs}
	}
	return filter
}

func (s *Activities) find(ctx context.Context, filter bson.M) ([]model.Activity, error) {
	cur, err := s.c.Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "find activities")
	}
	var out []model.Activity
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode activities")
	}
	return out, nil
}

func (s *Activities) Watch(ctx context.Context, q activity.Query, fn func([]model.Activity)) (func(), error) {
	filter := queryFilter(q)
	return live(ctx, s.feed, s.log, func(ctx context.Context) ([]model.Activity, error) {
		return s.find(ctx, filter)
	}, fn)
}
