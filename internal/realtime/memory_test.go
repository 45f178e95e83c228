package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/bwise1/meetup_api/internal/chat"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemory_WatchMessages(t *testing.T) {
	tree := NewMemory(zap.NewNop())
	ctx := context.Background()

	var deliveries []chat.RawMessages
	dispose, err := tree.WatchMessages("act1", func(raw chat.RawMessages) {
		deliveries = append(deliveries, raw)
	})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Empty(t, deliveries[0])

	key, err := tree.PushMessage(ctx, "act1", model.ChatMessage{SenderID: "u1", Text: "hi", Timestamp: 1})
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	msgs := chat.ParseMessages(deliveries[1])
	require.Len(t, msgs, 1)
	assert.Equal(t, key, msgs[0].ID)

	dispose()
	dispose()
	_, err = tree.PushMessage(ctx, "act1", model.ChatMessage{SenderID: "u1", Text: "again", Timestamp: 2})
	require.NoError(t, err)
	assert.Len(t, deliveries, 2)
	assert.Zero(t, tree.Listeners())
}

func TestMemory_CreateRoomOnce(t *testing.T) {
	tree := NewMemory(zap.NewNop())
	ctx := context.Background()
	room := model.ChatRoom{ActivityID: "act1", Members: map[string]model.ChatMember{"u1": {UserID: "u1"}}}
	welcome := model.ChatMessage{SenderID: model.SystemSenderID, Text: "Welcome", Timestamp: 1}

	created, err := tree.CreateRoom(ctx, room, welcome)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = tree.CreateRoom(ctx, room, welcome)
	require.NoError(t, err)
	assert.False(t, created)

	raw, err := tree.Messages(ctx, "act1")
	require.NoError(t, err)
	assert.Len(t, raw, 1)
}

func TestMemory_WithChatStore(t *testing.T) {
	tree := NewMemory(zap.NewNop())
	rooms := chat.NewRooms(tree, nil, zap.NewNop())
	ctx := context.Background()

	ann := model.UserRef{ID: "ann", DisplayName: "Ann"}
	bo := model.UserRef{ID: "bo", DisplayName: "Bo"}

	annStore := chat.NewStore(rooms, newMarks(), ann, zap.NewNop())
	boStore := chat.NewStore(rooms, newMarks(), bo, zap.NewNop())
	defer annStore.Close()
	defer boStore.Close()

	require.NoError(t, annStore.Subscribe(ctx, "act1"))
	require.NoError(t, boStore.Track(ctx, "act1"))
	require.Equal(t, 1, boStore.Unread("act1"))

	boStore.MarkAsRead("act1")
	time.Sleep(2 * time.Millisecond)
	_, err := annStore.Send(ctx, "act1", "hi")
	require.NoError(t, err)

	assert.Equal(t, 1, boStore.Unread("act1"))
	assert.Equal(t, 0, annStore.Unread("act1"))

	annStore.Unsubscribe()
	boStore.Untrack("act1")
	assert.Zero(t, tree.Listeners())
}

type marks map[string]int64

func newMarks() marks { return marks{} }

func (m marks) Get(id string) int64     { return m[chat.WatermarkKey(id)] }
func (m marks) Set(id string, ms int64) { m[chat.WatermarkKey(id)] = ms }
