// Package friends manages friend requests and friend lists.
package friends

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/bwise1/meetup_api/internal/apperr"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/bwise1/meetup_api/internal/pubsub"
	"github.com/bwise1/meetup_api/util"
	"go.uber.org/zap"
)

type Snapshot struct {
	FriendIDs []string              `json:"friend_ids"`
	Sent      []model.FriendRequest `json:"sent"`
	Received  []model.FriendRequest `json:"received"`
}

type Store struct {
	repo     Repository
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
	newID    func() string

	mu         sync.Mutex
	pubMu      sync.Mutex
	userID     string
	generation int
	disposers  []func()
	friendIDs  []string
	sent       []model.FriendRequest
	received   []model.FriendRequest
	lastErr    error

	topic *pubsub.Topic[Snapshot]
}

type Option func(*Store)

func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(repo Repository, log *zap.Logger, opts ...Option) *Store {
	s := &Store{
		repo:  repo,
		log:   log,
		now:   time.Now,
		newID: util.GenerateUUID,
		topic: pubsub.NewTopic[Snapshot](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe attaches live queries for userID's friend list, sent requests
// and received requests, replacing any previous ones.
func (s *Store) Subscribe(ctx context.Context, userID string) (func(), error) {
	if userID == "" {
		return nil, s.fail(apperr.ErrMissingUserID)
	}

	s.mu.Lock()
	s.teardownLocked()
	s.generation++
	gen := s.generation
	s.userID = userID
	s.mu.Unlock()

	var disposers []func()
	abort := func(err error) (func(), error) {
		for _, d := range disposers {
			d()
		}
		return nil, s.fail(apperr.Backend("watch friends", err))
	}

	d, err := s.repo.WatchFriendIDs(ctx, userID, func(ids []string) {
		s.update(gen, func() { s.friendIDs = ids })
	})
	if err != nil {
		return abort(err)
	}
	disposers = append(disposers, d)

	d, err = s.repo.WatchRequests(ctx, model.FriendRequestFilter{SenderID: userID}, func(rs []model.FriendRequest) {
		s.update(gen, func() { s.sent = rs })
	})
	if err != nil {
		return abort(err)
	}
	disposers = append(disposers, d)

	d, err = s.repo.WatchRequests(ctx, model.FriendRequestFilter{ReceiverID: userID}, func(rs []model.FriendRequest) {
		s.update(gen, func() { s.received = rs })
	})
	if err != nil {
		return abort(err)
	}
	disposers = append(disposers, d)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		for _, d := range disposers {
			d()
		}
		return func() {}, nil
	}
	s.disposers = disposers
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if s.generation != gen {
			s.mu.Unlock()
			return
		}
		s.teardownLocked()
		s.generation++
		s.publishAndUnlock()
	}, nil
}

func (s *Store) teardownLocked() {
	for _, d := range s.disposers {
		d()
	}
	s.disposers = nil
	s.friendIDs = nil
	s.sent = nil
	s.received = nil
}

func (s *Store) update(gen int, apply func()) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	apply()
	s.publishAndUnlock()
}

// SendRequest creates a pending request from sender to receiverID.
func (s *Store) SendRequest(ctx context.Context, sender model.UserRef, receiverID string) (string, error) {
	if sender.ID == "" || receiverID == "" {
		return "", s.fail(apperr.ErrMissingUserID)
	}
	if sender.ID == receiverID {
		return "", s.fail(apperr.ErrSelfFriendRequest)
	}

	friendIDs, err := s.repo.FriendIDs(ctx, sender.ID)
	if err != nil {
		return "", s.fail(apperr.Backend("read friends", err))
	}
	if slices.Contains(friendIDs, receiverID) {
		return "", s.fail(apperr.ErrAlreadyFriends)
	}

	for _, filter := range []model.FriendRequestFilter{
		{SenderID: sender.ID, ReceiverID: receiverID},
		{SenderID: receiverID, ReceiverID: sender.ID},
	} {
		existing, err := s.repo.FindRequests(ctx, filter)
		if err != nil {
			return "", s.fail(apperr.Backend("read friend requests", err))
		}
		for _, r := range existing {
			if r.Status == model.FriendRequestPending {
				return "", s.fail(apperr.ErrRequestPending)
			}
		}
	}

	req := model.FriendRequest{
		ID:          s.newID(),
		SenderID:    sender.ID,
		SenderName:  sender.DisplayName,
		SenderPhoto: sender.PhotoURL,
		ReceiverID:  receiverID,
		Status:      model.FriendRequestPending,
		CreatedAt:   s.now(),
	}
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return "", s.fail(apperr.Backend("create friend request", err))
	}
	s.notify(ctx, req, Notifier.FriendRequestSent)
	return req.ID, nil
}

// AcceptRequest marks the request accepted and then adds each user to the
// other's friend list. The writes are independent; a failure part way is
// returned and not rolled back.
func (s *Store) AcceptRequest(ctx context.Context, requestID string) error {
	req, err := s.pendingRequest(ctx, requestID)
	if err != nil {
		return err
	}

	if err := s.repo.SetRequestStatus(ctx, requestID, model.FriendRequestAccepted); err != nil {
		return s.fail(apperr.Backend("accept friend request", err))
	}
	if err := s.repo.AddFriend(ctx, req.SenderID, req.ReceiverID); err != nil {
		return s.fail(apperr.Backend("add friend", err))
	}
	if err := s.repo.AddFriend(ctx, req.ReceiverID, req.SenderID); err != nil {
		return s.fail(apperr.Backend("add friend", err))
	}

	req.Status = model.FriendRequestAccepted
	s.notify(ctx, *req, Notifier.FriendRequestAccepted)
	return nil
}

func (s *Store) RejectRequest(ctx context.Context, requestID string) error {
	if _, err := s.pendingRequest(ctx, requestID); err != nil {
		return err
	}
	if err := s.repo.SetRequestStatus(ctx, requestID, model.FriendRequestRejected); err != nil {
		return s.fail(apperr.Backend("reject friend request", err))
	}
	return nil
}

// pendingRequest loads a request that the session user may still answer.
func (s *Store) pendingRequest(ctx context.Context, requestID string) (*model.FriendRequest, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, s.fail(apperr.Backend("read friend request", err))
	}

	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()
	if userID != "" && req.ReceiverID != userID {
		return nil, s.fail(apperr.Forbidden("only the receiver can answer a friend request"))
	}
	if req.Status != model.FriendRequestPending {
		return nil, s.fail(apperr.ErrRequestHandled)
	}
	return req, nil
}

// RemoveFriend removes each user from the other's friend list.
func (s *Store) RemoveFriend(ctx context.Context, selfID, friendID string) error {
	if selfID == "" || friendID == "" {
		return s.fail(apperr.ErrMissingUserID)
	}
	if err := s.repo.RemoveFriend(ctx, selfID, friendID); err != nil {
		return s.fail(apperr.Backend("remove friend", err))
	}
	if err := s.repo.RemoveFriend(ctx, friendID, selfID); err != nil {
		return s.fail(apperr.Backend("remove friend", err))
	}
	return nil
}

// IsFriend reports whether b is on a's friend list.
func (s *Store) IsFriend(ctx context.Context, a, b string) (bool, error) {
	ids, err := s.repo.FriendIDs(ctx, a)
	if err != nil {
		return false, s.fail(apperr.Backend("read friends", err))
	}
	return slices.Contains(ids, b), nil
}

func (s *Store) notify(ctx context.Context, req model.FriendRequest, send func(Notifier, context.Context, model.FriendRequest) error) {
	if s.notifier == nil {
		return
	}
	if err := send(s.notifier, ctx, req); err != nil {
		s.log.Warn("failed to send friend request notification", zap.String("request_id", req.ID), zap.Error(err))
	}
}

func (s *Store) FriendIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.friendIDs)
}

func (s *Store) Sent() []model.FriendRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

func (s *Store) Received() []model.FriendRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.received)
}

func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Store) OnChange(fn func(Snapshot)) func() {
	return s.topic.Subscribe(fn)
}

func (s *Store) fail(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

// publishAndUnlock must be called with s.mu held.
func (s *Store) publishAndUnlock() {
	snap := Snapshot{
		FriendIDs: slices.Clone(s.friendIDs),
		Sent:      slices.Clone(s.sent),
		Received:  slices.Clone(s.received),
	}
	s.pubMu.Lock()
	s.mu.Unlock()
	defer s.pubMu.Unlock()
	s.topic.Publish(snap)
}
