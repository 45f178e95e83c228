package chat

import (
	"context"
	"testing"
	"time"

	"github.com/bwise1/meetup_api/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type storeFixture struct {
	tree  *fakeTree
	clock *testClock
	rooms *Rooms
}

func newStoreFixture() *storeFixture {
	tree := newFakeTree()
	clock := newTestClock()
	return &storeFixture{tree: tree, clock: clock, rooms: newTestRooms(tree, nil, clock)}
}

func (f *storeFixture) store(user model.UserRef) (*Store, *memMarks) {
	marks := newMemMarks()
	return NewStore(f.rooms, marks, user, zap.NewNop()), marks
}

func TestStore_UnreadLifecycle(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()

	a, _ := f.store(alice)
	b, marks := f.store(bob)
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Subscribe(ctx, "x"))
	require.NoError(t, b.Track(ctx, "x"))
	require.NoError(t, b.Subscribe(ctx, "x"))
	b.MarkAsRead("x")
	b.Unsubscribe()

	assert.Equal(t, StateInactive, b.State("x"))
	assert.Equal(t, 0, b.Unread("x"))

	f.clock.Advance(time.Second)
	_, err := a.Send(ctx, "x", "hi")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Unread("x"))

	f.clock.Advance(time.Second)
	b.MarkAsRead("x")
	assert.Equal(t, 0, b.Unread("x"))
	assert.Equal(t, f.clock.Now().UnixMilli(), marks.Get("x"))

	f.clock.Advance(time.Second)
	_, err = a.Send(ctx, "x", "again")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Unread("x"))
	assert.Equal(t, 1, b.TotalUnread())
}

func TestStore_ActiveChatIsNeverUnread(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()

	a, _ := f.store(alice)
	b, _ := f.store(bob)
	defer a.Close()
	defer b.Close()

	require.NoError(t, b.Track(ctx, "x"))
	require.NoError(t, b.Subscribe(ctx, "x"))

	f.clock.Advance(time.Minute)
	_, err := a.Send(ctx, "x", "hello bob")
	require.NoError(t, err)

	assert.Equal(t, StateActive, b.State("x"))
	assert.Equal(t, 0, b.Unread("x"))
	msgs := b.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "hello bob", msgs[len(msgs)-1].Text)
}

func TestStore_TotalIsSumOfCounts(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()

	a, _ := f.store(alice)
	b, _ := f.store(bob)
	defer a.Close()
	defer b.Close()

	var snaps []Snapshot
	dispose := b.OnChange(func(s Snapshot) { snaps = append(snaps, s) })
	defer dispose()

	for _, id := range []string{"x", "y", "z"} {
		require.NoError(t, b.Track(ctx, id))
	}
	for i, id := range []string{"x", "y", "y", "z", "z", "z"} {
		f.clock.Advance(time.Duration(i+1) * time.Second)
		_, err := a.Send(ctx, id, "msg")
		require.NoError(t, err)
	}

	assert.Equal(t, 1, b.Unread("x"))
	assert.Equal(t, 2, b.Unread("y"))
	assert.Equal(t, 3, b.Unread("z"))
	assert.Equal(t, 6, b.TotalUnread())

	require.NotEmpty(t, snaps)
	for _, s := range snaps {
		sum := 0
		for _, n := range s.Unread {
			sum += n
		}
		assert.Equal(t, sum, s.TotalUnread)
	}
}

func TestStore_UnsubscribeKeepsOtherCounts(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()

	a, _ := f.store(alice)
	b, _ := f.store(bob)
	defer a.Close()
	defer b.Close()

	require.NoError(t, b.Track(ctx, "y"))
	_, err := a.Send(ctx, "y", "over here")
	require.NoError(t, err)

	require.NoError(t, b.Subscribe(ctx, "x"))
	assert.NotEmpty(t, b.Messages())
	b.Unsubscribe()

	assert.Empty(t, b.ActiveID())
	assert.Empty(t, b.Messages())
	assert.Equal(t, 1, b.Unread("y"))
	assert.Equal(t, StateUnsubscribed, b.State("x"))
	assert.Zero(t, f.tree.watchers("x"))
}

func TestStore_UnsubscribeRecountsTrackedChat(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()

	a, _ := f.store(alice)
	b, _ := f.store(bob)
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Subscribe(ctx, "x"))
	f.clock.Advance(time.Second)
	_, err := a.Send(ctx, "x", "anyone around?")
	require.NoError(t, err)

	require.NoError(t, b.Track(ctx, "x"))
	require.NoError(t, b.Subscribe(ctx, "x"))
	assert.Equal(t, 0, b.Unread("x"))
	seen := b.Messages()
	require.NotEmpty(t, seen)

	// Never marked read, so everything seen while open is unread again.
	b.Unsubscribe()
	assert.Equal(t, StateInactive, b.State("x"))
	assert.Positive(t, b.Unread("x"))
	assert.Equal(t, CountUnread(seen, bob.ID, 0), b.Unread("x"))
	assert.Equal(t, b.Unread("x"), b.TotalUnread())

	require.NoError(t, b.Subscribe(ctx, "x"))
	b.MarkAsRead("x")
	b.Unsubscribe()
	assert.Equal(t, 0, b.Unread("x"))
}

func TestStore_ResubscribeTearsDownPrevious(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()

	b, _ := f.store(bob)
	defer b.Close()

	require.NoError(t, b.Subscribe(ctx, "x"))
	assert.Equal(t, 2, f.tree.watchers("x"))

	require.NoError(t, b.Subscribe(ctx, "y"))
	assert.Zero(t, f.tree.watchers("x"))
	assert.Equal(t, 2, f.tree.watchers("y"))
	assert.Equal(t, "y", b.ActiveID())

	// Re-running subscribe on the same chat keeps one listener pair.
	require.NoError(t, b.Subscribe(ctx, "y"))
	assert.Equal(t, 2, f.tree.watchers("y"))
}

func TestStore_MessagesOrderedRegardlessOfArrival(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()

	b, _ := f.store(bob)
	defer b.Close()
	require.NoError(t, b.Subscribe(ctx, "x"))

	base := f.clock.Now().UnixMilli()
	f.tree.putRaw("x", "k3", encode(t, model.ChatMessage{SenderID: "alice", Text: "3", Timestamp: base + 3000}))
	f.tree.putRaw("x", "k1", encode(t, model.ChatMessage{SenderID: "alice", Text: "1", Timestamp: base + 1000}))
	f.tree.putRaw("x", "k2", encode(t, model.ChatMessage{SenderID: "alice", Text: "2", Timestamp: base + 2000}))

	msgs := b.Messages()
	for i := 1; i < len(msgs); i++ {
		assert.LessOrEqual(t, msgs[i-1].Timestamp, msgs[i].Timestamp)
	}
	assert.Equal(t, "3", msgs[len(msgs)-1].Text)
}

func TestStore_SubscribeFailureRecordsError(t *testing.T) {
	f := newStoreFixture()
	f.tree.failRoom = true

	b, _ := f.store(bob)
	defer b.Close()

	err := b.Subscribe(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, err, b.LastError())
	assert.Equal(t, StateUnsubscribed, b.State("x"))
	assert.Empty(t, b.ActiveID())
}

func TestStore_Leave(t *testing.T) {
	f := newStoreFixture()
	ctx := context.Background()

	a, _ := f.store(alice)
	b, _ := f.store(bob)
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Subscribe(ctx, "x"))
	require.NoError(t, b.Subscribe(ctx, "x"))
	require.NoError(t, b.Leave(ctx, "x"))

	member, err := f.tree.Member(ctx, "x", "bob")
	require.NoError(t, err)
	assert.Nil(t, member)
	assert.Empty(t, b.ActiveID())

	msgs := a.Messages()
	assert.Equal(t, "Bob left the chat", msgs[len(msgs)-1].Text)
}

func TestStore_SendEmptyRecordsError(t *testing.T) {
	f := newStoreFixture()
	b, _ := f.store(bob)
	defer b.Close()

	_, err := b.Send(context.Background(), "x", "   ")
	require.Error(t, err)
	assert.Equal(t, err, b.LastError())
}
