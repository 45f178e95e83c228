package friends

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/bwise1/meetup_api/internal/apperr"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepo struct {
	mu       sync.Mutex
	requests map[string]model.FriendRequest
	friends  map[string][]string
	idW      map[string][]func([]string)
	reqW     []reqWatcher
}

type reqWatcher struct {
	filter model.FriendRequestFilter
	fn     func([]model.FriendRequest)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		requests: map[string]model.FriendRequest{},
		friends:  map[string][]string{},
		idW:      map[string][]func([]string){},
	}
}

func (r *fakeRepo) CreateRequest(_ context.Context, req model.FriendRequest) error {
	r.mu.Lock()
	r.requests[req.ID] = req
	r.mu.Unlock()
	r.notifyRequests()
	return nil
}

func (r *fakeRepo) GetRequest(_ context.Context, id string) (*model.FriendRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, apperr.ErrRequestNotFound
	}
	return &req, nil
}

func (r *fakeRepo) SetRequestStatus(_ context.Context, id string, status model.FriendRequestStatus) error {
	r.mu.Lock()
	req := r.requests[id]
	req.Status = status
	r.requests[id] = req
	r.mu.Unlock()
	r.notifyRequests()
	return nil
}

func (r *fakeRepo) FindRequests(_ context.Context, filter model.FriendRequestFilter) ([]model.FriendRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.matchLocked(filter), nil
}

func (r *fakeRepo) matchLocked(filter model.FriendRequestFilter) []model.FriendRequest {
	var out []model.FriendRequest
	for _, req := range r.requests {
		if filter.Matches(req) {
			out = append(out, req)
		}
	}
	return out
}

func (r *fakeRepo) FriendIDs(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.friends[userID]), nil
}

func (r *fakeRepo) AddFriend(_ context.Context, userID, friendID string) error {
	r.mu.Lock()
	if !slices.Contains(r.friends[userID], friendID) {
		r.friends[userID] = append(r.friends[userID], friendID)
	}
	r.mu.Unlock()
	r.notifyIDs(userID)
	return nil
}

func (r *fakeRepo) RemoveFriend(_ context.Context, userID, friendID string) error {
	r.mu.Lock()
	r.friends[userID] = slices.DeleteFunc(r.friends[userID], func(id string) bool { return id == friendID })
	r.mu.Unlock()
	r.notifyIDs(userID)
	return nil
}

func (r *fakeRepo) WatchFriendIDs(_ context.Context, userID string, fn func([]string)) (func(), error) {
	r.mu.Lock()
	r.idW[userID] = append(r.idW[userID], fn)
	ids := slices.Clone(r.friends[userID])
	r.mu.Unlock()
	fn(ids)
	return func() {}, nil
}

func (r *fakeRepo) WatchRequests(_ context.Context, filter model.FriendRequestFilter, fn func([]model.FriendRequest)) (func(), error) {
	r.mu.Lock()
	r.reqW = append(r.reqW, reqWatcher{filter, fn})
	list := r.matchLocked(filter)
	r.mu.Unlock()
	fn(list)
	return func() {}, nil
}

func (r *fakeRepo) notifyIDs(userID string) {
	r.mu.Lock()
	fns := slices.Clone(r.idW[userID])
	ids := slices.Clone(r.friends[userID])
	r.mu.Unlock()
	for _, fn := range fns {
		fn(ids)
	}
}

func (r *fakeRepo) notifyRequests() {
	r.mu.Lock()
	ws := slices.Clone(r.reqW)
	lists := make([][]model.FriendRequest, len(ws))
	for i, w := range ws {
		lists[i] = r.matchLocked(w.filter)
	}
	r.mu.Unlock()
	for i, w := range ws {
		w.fn(lists[i])
	}
}

type recordingNotifier struct {
	sent     []string
	accepted []string
	err      error
}

func (n *recordingNotifier) FriendRequestSent(_ context.Context, r model.FriendRequest) error {
	n.sent = append(n.sent, r.ID)
	return n.err
}

func (n *recordingNotifier) FriendRequestAccepted(_ context.Context, r model.FriendRequest) error {
	n.accepted = append(n.accepted, r.ID)
	return n.err
}

var (
	userA = model.UserRef{ID: "A", DisplayName: "Ada"}
	userB = model.UserRef{ID: "B", DisplayName: "Ben"}
)

func TestStore_AcceptRequest(t *testing.T) {
	repo := newFakeRepo()
	notifier := &recordingNotifier{}
	ctx := context.Background()

	storeA := NewStore(repo, zap.NewNop(), WithNotifier(notifier))
	storeB := NewStore(repo, zap.NewNop(), WithNotifier(notifier))
	_, err := storeA.Subscribe(ctx, userA.ID)
	require.NoError(t, err)
	_, err = storeB.Subscribe(ctx, userB.ID)
	require.NoError(t, err)

	id, err := storeA.SendRequest(ctx, userA, userB.ID)
	require.NoError(t, err)
	require.Len(t, storeB.Received(), 1)
	assert.Equal(t, "Ada", storeB.Received()[0].SenderName)

	require.NoError(t, storeB.AcceptRequest(ctx, id))

	ab, err := storeA.IsFriend(ctx, userA.ID, userB.ID)
	require.NoError(t, err)
	ba, err := storeA.IsFriend(ctx, userB.ID, userA.ID)
	require.NoError(t, err)
	assert.True(t, ab)
	assert.True(t, ba)

	req, err := repo.GetRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.FriendRequestAccepted, req.Status)

	assert.Equal(t, []string{userB.ID}, storeA.FriendIDs())
	assert.Equal(t, []string{userA.ID}, storeB.FriendIDs())
	assert.Equal(t, []string{id}, notifier.sent)
	assert.Equal(t, []string{id}, notifier.accepted)
}

func TestStore_SendRequestGuards(t *testing.T) {
	repo := newFakeRepo()
	s := NewStore(repo, zap.NewNop())
	ctx := context.Background()

	_, err := s.SendRequest(ctx, userA, userA.ID)
	assert.ErrorIs(t, err, apperr.ErrSelfFriendRequest)

	_, err = s.SendRequest(ctx, userA, userB.ID)
	require.NoError(t, err)

	_, err = s.SendRequest(ctx, userA, userB.ID)
	assert.ErrorIs(t, err, apperr.ErrRequestPending)
	_, err = s.SendRequest(ctx, userB, userA.ID)
	assert.ErrorIs(t, err, apperr.ErrRequestPending)

	require.NoError(t, repo.AddFriend(ctx, "C", "A"))
	_, err = s.SendRequest(ctx, model.UserRef{ID: "C"}, userA.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyFriends)
	assert.Equal(t, err, s.LastError())
}

func TestStore_RejectRequest(t *testing.T) {
	repo := newFakeRepo()
	ctx := context.Background()
	storeB := NewStore(repo, zap.NewNop())
	_, err := storeB.Subscribe(ctx, userB.ID)
	require.NoError(t, err)

	id, err := NewStore(repo, zap.NewNop()).SendRequest(ctx, userA, userB.ID)
	require.NoError(t, err)

	require.NoError(t, storeB.RejectRequest(ctx, id))
	req, _ := repo.GetRequest(ctx, id)
	assert.Equal(t, model.FriendRequestRejected, req.Status)

	assert.ErrorIs(t, storeB.AcceptRequest(ctx, id), apperr.ErrRequestHandled)
	ok, _ := storeB.IsFriend(ctx, userB.ID, userA.ID)
	assert.False(t, ok)

	// A rejected request does not block a new one.
	_, err = NewStore(repo, zap.NewNop()).SendRequest(ctx, userA, userB.ID)
	assert.NoError(t, err)
}

func TestStore_OnlyReceiverAnswers(t *testing.T) {
	repo := newFakeRepo()
	ctx := context.Background()
	storeA := NewStore(repo, zap.NewNop())
	_, err := storeA.Subscribe(ctx, userA.ID)
	require.NoError(t, err)

	id, err := storeA.SendRequest(ctx, userA, userB.ID)
	require.NoError(t, err)

	err = storeA.AcceptRequest(ctx, id)
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
}

func TestStore_RemoveFriend(t *testing.T) {
	repo := newFakeRepo()
	ctx := context.Background()
	require.NoError(t, repo.AddFriend(ctx, "A", "B"))
	require.NoError(t, repo.AddFriend(ctx, "B", "A"))

	s := NewStore(repo, zap.NewNop())
	require.NoError(t, s.RemoveFriend(ctx, "A", "B"))

	ab, _ := s.IsFriend(ctx, "A", "B")
	ba, _ := s.IsFriend(ctx, "B", "A")
	assert.False(t, ab)
	assert.False(t, ba)
}

func TestStore_NotifierFailureIsNotFatal(t *testing.T) {
	repo := newFakeRepo()
	s := NewStore(repo, zap.NewNop(), WithNotifier(&recordingNotifier{err: errors.New("offline")}))

	_, err := s.SendRequest(context.Background(), userA, userB.ID)
	assert.NoError(t, err)
}

func TestStore_RequestNotFound(t *testing.T) {
	s := NewStore(newFakeRepo(), zap.NewNop())
	assert.ErrorIs(t, s.AcceptRequest(context.Background(), "missing"), apperr.ErrRequestNotFound)
}
