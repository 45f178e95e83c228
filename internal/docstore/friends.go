package docstore

import (
	"context"

	"github.com/bwise1/meetup_api/internal/apperr"
	"github.com/bwise1/meetup_api/internal/friends"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Friends covers the friendRequests collection and the friend_ids field of
// user profiles.
type Friends struct {
	requests     *mongo.Collection
	profiles     *mongo.Collection
	requestFeed  *feed
	profilesFeed *feed
	log          *zap.Logger
}

var _ friends.Repository = (*Friends)(nil)

func (s *Friends) CreateRequest(ctx context.Context, r model.FriendRequest) error {
	_, err := s.requests.InsertOne(ctx, r)
	return errors.Wrap(err, "insert friend request")
}

func (s *Friends) GetRequest(ctx context.Context, id string) (*model.FriendRequest, error) {
	var r model.FriendRequest
	err := s.requests.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if err == mongo.ErrNoDocuments {
		return nil, apperr.ErrRequestNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find friend request")
	}
	return &r, nil
}

func (s *Friends) SetRequestStatus(ctx context.Context, id string, status model.FriendRequestStatus) error {
	res, err := s.requests.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return errors.Wrap(err, "update friend request")
	}
	if res.MatchedCount == 0 {
		return apperr.ErrRequestNotFound
	}
	return nil
}

func requestFilter(f model.FriendRequestFilter) bson.M {
	filter := bson.M{}
	if f.SenderID != "" {
		filter["sender_id"] = f.SenderID
	}
	if f.ReceiverID != "" {
		filter["receiver_id"] = f.ReceiverID
	}
	return filter
}

func (s *Friends) FindRequests(ctx context.Context, f model.FriendRequestFilter) ([]model.FriendRequest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.requests.Find(ctx, requestFilter(f), opts)
	if err != nil {
		return nil, errors.Wrap(err, "find friend requests")
	}
	var out []model.FriendRequest
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode friend requests")
	}
	return out, nil
}

func (s *Friends) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	var doc struct {
		FriendIDs []string `bson:"friend_ids"`
	}
	opts := options.FindOne().SetProjection(bson.M{"friend_ids": 1})
	err := s.profiles.FindOne(ctx, bson.M{"_id": userID}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find friend ids")
	}
	return doc.FriendIDs, nil
}

func (s *Friends) AddFriend(ctx context.Context, userID, friendID string) error {
	_, err := s.profiles.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$addToSet": bson.M{"friend_ids": friendID}})
	return errors.Wrap(err, "add friend")
}

func (s *Friends) RemoveFriend(ctx context.Context, userID, friendID string) error {
	_, err := s.profiles.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$pull": bson.M{"friend_ids": friendID}})
	return errors.Wrap(err, "remove friend")
}

func (s *Friends) WatchFriendIDs(ctx context.Context, userID string, fn func([]string)) (func(), error) {
	return live(ctx, s.profilesFeed, s.log, func(ctx context.Context) ([]string, error) {
		return s.FriendIDs(ctx, userID)
	}, fn)
}

func (s *Friends) WatchRequests(ctx context.Context, f model.FriendRequestFilter, fn func([]model.FriendRequest)) (func(), error) {
	return live(ctx, s.requestFeed, s.log, func(ctx context.Context) ([]model.FriendRequest, error) {
		return s.FindRequests(ctx, f)
	}, fn)
}
