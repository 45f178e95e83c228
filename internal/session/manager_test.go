package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwise1/meetup_api/internal/chat"
	"github.com/bwise1/meetup_api/internal/docstore"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/bwise1/meetup_api/internal/realtime"
	"github.com/bwise1/meetup_api/internal/watermark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pushed struct {
	userID string
	event  string
	data   any
}

type fakePusher struct {
	mu        sync.Mutex
	events    []pushed
	connected map[string]bool
}

func newFakePusher() *fakePusher {
	return &fakePusher{connected: make(map[string]bool)}
}

func (p *fakePusher) SendToUser(userID, event string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, pushed{userID, event, data})
}

func (p *fakePusher) IsConnected(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected[userID]
}

func (p *fakePusher) lastUnread(userID string) (model.UnreadSummary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		e := p.events[i]
		if e.userID == userID && e.event == EventUnread {
			return e.data.(model.UnreadSummary), true
		}
	}
	return model.UnreadSummary{}, false
}

func (p *fakePusher) count(userID, event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.userID == userID && e.event == event {
			n++
		}
	}
	return n
}

var (
	alice = model.AuthUser{ID: "alice-0001", DisplayName: "Alice", Email: "alice@example.com"}
	bob   = model.AuthUser{ID: "bob-0002", DisplayName: "Bob", Email: "bob@example.com"}
)

func newTestManager(t *testing.T) (*Manager, *fakePusher) {
	t.Helper()
	log := zap.NewNop()
	docs := docstore.NewMemory(log)
	tree := realtime.NewMemory(log)
	push := newFakePusher()

	m := NewManager(Backends{
		Activities: docs.Activities(),
		Friends:    docs.Friends(),
		Profiles:   docs.Profiles(),
		Rooms:      chat.NewRooms(tree, docs.Activities(), log),
		Watermarks: watermark.NewFactory(nil, log),
	}, push, log)
	t.Cleanup(m.CloseAll)
	return m, push
}

func createActivity(t *testing.T, s *Session) string {
	t.Helper()
	id, err := s.Activities.Create(context.Background(), model.NewActivity{
		Title:       "Morning run",
		Description: "5k along the seafront",
		Location:    "Harbour",
		ScheduledAt: time.Date(2024, 7, 1, 7, 0, 0, 0, time.UTC),
		Category:    model.CategorySports,
		CreatorID:   s.User.ID,
		CreatorName: s.Ref().DisplayName,
		Visibility:  model.VisibilityPublic,
	})
	require.NoError(t, err)
	return id
}

func TestManager_OpenReusesSession(t *testing.T) {
	m, push := newTestManager(t)
	ctx := context.Background()

	s1, err := m.Open(ctx, alice)
	require.NoError(t, err)
	s2, err := m.Open(ctx, alice)
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, m.Len())
	require.NotNil(t, s1.Profile.Profile())
	assert.Equal(t, "Alice", s1.Profile.Profile().DisplayName)
	assert.Positive(t, push.count(alice.ID, EventProfile))

	got, ok := m.Get(alice.ID)
	require.True(t, ok)
	assert.Same(t, s1, got)
}

func TestManager_Close(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Open(context.Background(), alice)
	require.NoError(t, err)

	m.Close(alice.ID)
	_, ok := m.Get(alice.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestSession_RefreshReplacesSubscriptions(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Open(ctx, alice)
	require.NoError(t, err)
	hooks := len(s.disposers)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Refresh(ctx))
	}

	s.mu.Lock()
	assert.Len(t, s.disposers, hooks)
	assert.NotNil(t, s.disposeProfile)
	assert.NotNil(t, s.disposeFriends)
	s.mu.Unlock()
	require.NotNil(t, s.Profile.Profile())
	assert.Equal(t, "Alice", s.Profile.Profile().DisplayName)
}

func TestManager_CloseIdleSkipsConnectedUsers(t *testing.T) {
	m, push := newTestManager(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := m.Open(ctx, alice)
	require.NoError(t, err)
	_, err = m.Open(ctx, bob)
	require.NoError(t, err)
	push.connected[bob.ID] = true

	now = now.Add(time.Hour)
	assert.Equal(t, 1, m.CloseIdle(30*time.Minute))

	_, ok := m.Get(alice.ID)
	assert.False(t, ok)
	_, ok = m.Get(bob.ID)
	assert.True(t, ok)
}

func TestSession_UnreadPushedForJoinedActivities(t *testing.T) {
	m, push := newTestManager(t)
	ctx := context.Background()

	sa, err := m.Open(ctx, alice)
	require.NoError(t, err)
	sb, err := m.Open(ctx, bob)
	require.NoError(t, err)

	id := createActivity(t, sa)
	require.Eventually(t, func() bool {
		_, ok := sb.Activities.Get(id)
		return ok
	}, time.Second, 5*time.Millisecond)

	// Bob's join opens the room with a welcome message.
	require.NoError(t, sb.Activities.Join(ctx, id, sb.Ref()))
	require.NoError(t, sb.Chat.Subscribe(ctx, id))
	_, err = sb.Chat.Send(ctx, id, "see you there")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sa.Chat.Unread(id) == 2
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		s, ok := push.lastUnread(alice.ID)
		return ok && s.Total == 2 && s.PerActivity[id] == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sa.Chat.Subscribe(ctx, id))
	assert.Equal(t, 0, sa.Chat.Unread(id))
	s, ok := push.lastUnread(alice.ID)
	require.True(t, ok)
	assert.Equal(t, 0, s.Total)
	assert.Equal(t, 0, sb.Chat.Unread(id))
}

func TestSession_FriendChangeRefreshesActivities(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sa, err := m.Open(ctx, alice)
	require.NoError(t, err)
	sb, err := m.Open(ctx, bob)
	require.NoError(t, err)

	id, err := sa.Activities.Create(ctx, model.NewActivity{
		Title:       "Board games",
		Description: "Bring snacks",
		Location:    "Alice's place",
		ScheduledAt: time.Date(2024, 7, 2, 19, 0, 0, 0, time.UTC),
		Category:    model.CategoryGames,
		CreatorID:   alice.ID,
		Visibility:  model.VisibilityFriends,
	})
	require.NoError(t, err)

	_, ok := sb.Activities.Get(id)
	assert.False(t, ok, "friends-only activity hidden from strangers")

	reqID, err := sb.Friends.SendRequest(ctx, sb.Ref(), alice.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sa.Friends.Received()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sa.Friends.AcceptRequest(ctx, reqID))

	require.Eventually(t, func() bool {
		_, ok := sb.Activities.Get(id)
		return ok
	}, time.Second, 5*time.Millisecond)
}
