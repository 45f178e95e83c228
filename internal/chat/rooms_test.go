package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwise1/meetup_api/internal/apperr"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = model.UserRef{ID: "alice", DisplayName: "Alice"}
	bob   = model.UserRef{ID: "bob", DisplayName: "Bob"}
)

func messagesOf(t *testing.T, tree *fakeTree, id string) []model.ChatMessage {
	t.Helper()
	raw, err := tree.Messages(context.Background(), id)
	require.NoError(t, err)
	return ParseMessages(raw)
}

func TestRooms_JoinCreatesRoomWithWelcome(t *testing.T) {
	tree := newFakeTree()
	rooms := newTestRooms(tree, nil, newTestClock())
	ctx := context.Background()

	require.NoError(t, rooms.Join(ctx, "act1", alice))

	room, err := tree.Room(ctx, "act1")
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.True(t, room.HasMember("alice"))

	msgs := messagesOf(t, tree, "act1")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsSystem())
	assert.Contains(t, msgs[0].Text, "Welcome")
}

func TestRooms_JoinExistingRoom(t *testing.T) {
	tree := newFakeTree()
	rooms := newTestRooms(tree, nil, newTestClock())
	ctx := context.Background()

	require.NoError(t, rooms.Join(ctx, "act1", alice))
	require.NoError(t, rooms.Join(ctx, "act1", bob))
	require.NoError(t, rooms.Join(ctx, "act1", bob))

	room, _ := tree.Room(ctx, "act1")
	assert.Len(t, room.Members, 2)

	msgs := messagesOf(t, tree, "act1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "Bob joined the chat", msgs[1].Text)
	assert.Equal(t, model.SystemSenderID, msgs[1].SenderID)
}

func TestRooms_Leave(t *testing.T) {
	tree := newFakeTree()
	rooms := newTestRooms(tree, nil, newTestClock())
	ctx := context.Background()

	require.NoError(t, rooms.Join(ctx, "act1", alice))
	require.NoError(t, rooms.Join(ctx, "act1", bob))
	require.NoError(t, rooms.Leave(ctx, "act1", "bob"))

	member, err := tree.Member(ctx, "act1", "bob")
	require.NoError(t, err)
	assert.Nil(t, member)

	msgs := messagesOf(t, tree, "act1")
	assert.Equal(t, "Bob left the chat", msgs[len(msgs)-1].Text)

	// Not a member any more.
	before := len(msgs)
	require.NoError(t, rooms.Leave(ctx, "act1", "bob"))
	assert.Len(t, messagesOf(t, tree, "act1"), before)
}

func TestRooms_SendRejectsBlankText(t *testing.T) {
	tree := newFakeTree()
	rooms := newTestRooms(tree, nil, newTestClock())

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := rooms.Send(context.Background(), "act1", alice, text)
		assert.ErrorIs(t, err, apperr.ErrEmptyMessage)
	}
	assert.Empty(t, messagesOf(t, tree, "act1"))
}

func TestRooms_SendTouchFailureIsNotFatal(t *testing.T) {
	tree := newFakeTree()
	touch := &fakeToucher{err: errors.New("document store down")}
	clock := newTestClock()
	rooms := newTestRooms(tree, touch, clock)

	msg, err := rooms.Send(context.Background(), "act1", alice, "  hi  ")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Text)
	assert.Equal(t, clock.Now().UnixMilli(), msg.Timestamp)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, 1, touch.calls)
	assert.Len(t, messagesOf(t, tree, "act1"), 1)
}

func TestRooms_SendBackendFailure(t *testing.T) {
	tree := newFakeTree()
	tree.failPush = true
	rooms := newTestRooms(tree, nil, newTestClock())

	_, err := rooms.Send(context.Background(), "act1", alice, "hi")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnavailable, apperr.CodeOf(err))
	assert.ErrorIs(t, err, errBackendDown)
}

func TestRooms_CleanupExpired(t *testing.T) {
	tree := newFakeTree()
	clock := newTestClock()
	rooms := newTestRooms(tree, nil, clock)
	ctx := context.Background()
	now := clock.Now()

	_, err := tree.PushMessage(ctx, "act1", model.ChatMessage{SenderID: "alice", Text: "old", Timestamp: now.Add(-6 * 24 * time.Hour).UnixMilli()})
	require.NoError(t, err)
	_, err = tree.PushMessage(ctx, "act1", model.ChatMessage{SenderID: "bob", Text: "recent", Timestamp: now.Add(-24 * time.Hour).UnixMilli()})
	require.NoError(t, err)

	n, err := rooms.CleanupExpired(ctx, "act1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs := messagesOf(t, tree, "act1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "recent", msgs[0].Text)

	n, err = rooms.CleanupExpired(ctx, "act1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRooms_SweepAll(t *testing.T) {
	tree := newFakeTree()
	clock := newTestClock()
	rooms := newTestRooms(tree, nil, clock)
	ctx := context.Background()

	require.NoError(t, rooms.Join(ctx, "act1", alice))
	require.NoError(t, rooms.Join(ctx, "act2", bob))

	clock.Advance(DefaultRetention + time.Hour)
	n, err := rooms.SweepAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRooms_Purge(t *testing.T) {
	tree := newFakeTree()
	rooms := newTestRooms(tree, nil, newTestClock())
	ctx := context.Background()

	require.NoError(t, rooms.Join(ctx, "act1", alice))
	require.NoError(t, rooms.Purge(ctx, "act1"))

	room, err := tree.Room(ctx, "act1")
	require.NoError(t, err)
	assert.Nil(t, room)
	assert.Empty(t, messagesOf(t, tree, "act1"))
}
