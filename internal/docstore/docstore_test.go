package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwise1/meetup_api/internal/activity"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

func TestLive_DeliversOnlyChanges(t *testing.T) {
	f := newFeed(nil, time.Second, zap.NewNop())
	value := 1

	var got []int
	dispose, err := live(context.Background(), f, zap.NewNop(), func(context.Context) (int, error) {
		return value, nil
	}, func(v int) { got = append(got, v) })
	require.NoError(t, err)

	f.fire(context.Background())
	value = 2
	f.fire(context.Background())
	f.fire(context.Background())
	assert.Equal(t, []int{1, 2}, got)

	dispose()
	value = 3
	f.fire(context.Background())
	assert.Equal(t, []int{1, 2}, got)
	assert.Empty(t, f.listeners)
}

func TestLive_InitialLoadError(t *testing.T) {
	f := newFeed(nil, time.Second, zap.NewNop())
	_, err := live(context.Background(), f, zap.NewNop(), func(context.Context) ([]string, error) {
		return nil, errors.New("boom")
	}, func([]string) {})
	require.Error(t, err)
	assert.Empty(t, f.listeners)
}

func TestQueryFilter(t *testing.T) {
	assert.Equal(t, bson.M{"visibility": model.VisibilityPublic}, queryFilter(activity.Query{Visibility: model.VisibilityPublic}))

	filter := queryFilter(activity.Query{Visibility: model.VisibilityFriends, CreatorIDs: []string{"a", "b"}})
	assert.Equal(t, bson.M{"$in": []string{"a", "b"}}, filter["creator_id"])
}

func TestPatchFields(t *testing.T) {
	title := "Sunset hike"
	capacity := 8
	set := patchFields(model.ActivityPatch{Title: &title, MaxParticipants: &capacity})
	assert.Equal(t, bson.M{"title": "Sunset hike", "max_participants": 8}, set)
	assert.Empty(t, patchFields(model.ActivityPatch{}))
}

func TestRequestFilter(t *testing.T) {
	assert.Equal(t, bson.M{"sender_id": "a"}, requestFilter(model.FriendRequestFilter{SenderID: "a"}))
	assert.Equal(t, bson.M{"sender_id": "a", "receiver_id": "b"}, requestFilter(model.FriendRequestFilter{SenderID: "a", ReceiverID: "b"}))
}
