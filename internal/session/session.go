// Package session wires one instance of every store per signed-in user and
// pushes their snapshots to the user's connections.
package session

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwise1/meetup_api/internal/activity"
	"github.com/bwise1/meetup_api/internal/chat"
	"github.com/bwise1/meetup_api/internal/friends"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/bwise1/meetup_api/internal/profile"
	"go.uber.org/zap"
)

// Push events.
const (
	EventProfile    = "profile"
	EventFriends    = "friends"
	EventActivities = "activities"
	EventChat       = "chat"
	EventUnread     = "chat.unread"
)

// Pusher delivers events to a user's live connections.
type Pusher interface {
	SendToUser(userID, event string, data any)
	IsConnected(userID string) bool
}

type Session struct {
	User       model.AuthUser
	Profile    *profile.Store
	Friends    *friends.Store
	Activities *activity.Store
	Chat       *chat.Store

	log      *zap.Logger
	push     Pusher
	lastSeen atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	refresh   chan struct{}
	resync    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu               sync.Mutex
	disposers        []func()
	disposeProfile   func()
	disposeFriends   func()
	disposeActivity  func()
	friendIDs        []string
	tracked          map[string]bool
	lastUnreadTotal  int
	lastUnreadByChat map[string]int
}

func (s *Session) Touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Ref returns the user as shown to others, preferring the profile name.
func (s *Session) Ref() model.UserRef {
	ref := model.UserRef{ID: s.User.ID, DisplayName: profile.DisplayName(s.User), PhotoURL: s.User.PhotoURL}
	if p := s.Profile.Profile(); p != nil {
		if p.DisplayName != "" {
			ref.DisplayName = p.DisplayName
		}
		if p.PhotoURL != "" {
			ref.PhotoURL = p.PhotoURL
		}
	}
	return ref
}

func (s *Session) start(ctx context.Context) error {
	var err error
	if s.disposeProfile, err = s.Profile.Subscribe(ctx, s.User); err != nil {
		return err
	}
	if s.disposeFriends, err = s.Friends.Subscribe(ctx, s.User.ID); err != nil {
		return err
	}

	s.friendIDs = s.Friends.FriendIDs()
	slices.Sort(s.friendIDs)
	if s.disposeActivity, err = s.Activities.Subscribe(ctx, s.User.ID, s.friendIDs); err != nil {
		return err
	}

	s.disposers = append(s.disposers,
		s.Profile.OnChange(s.onProfile),
		s.Friends.OnChange(s.onFriends),
		s.Activities.OnChange(s.onActivities),
		s.Chat.OnChange(s.onChat),
	)

	s.wg.Add(1)
	go s.loop()
	s.signal(s.resync)
	return nil
}

// loop runs the subscriptions that react to other stores' snapshots off the
// publishing goroutine.
func (s *Session) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.refresh:
			s.resubscribeActivities()
		case <-s.resync:
			s.syncChatTracking()
		}
	}
}

func (s *Session) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Session) onProfile(p *model.UserProfile) {
	if p == nil {
		return
	}
	s.Chat.SetUser(s.Ref())
	s.push.SendToUser(s.User.ID, EventProfile, p)
}

func (s *Session) onFriends(snap friends.Snapshot) {
	s.push.SendToUser(s.User.ID, EventFriends, snap)

	s.mu.Lock()
	ids := slices.Clone(snap.FriendIDs)
	slices.Sort(ids)
	changed := !slices.Equal(ids, s.friendIDs)
	if changed {
		s.friendIDs = ids
	}
	s.mu.Unlock()
	if changed {
		s.signal(s.refresh)
	}
}

func (s *Session) onActivities(snap activity.Snapshot) {
	s.push.SendToUser(s.User.ID, EventActivities, snap)
	s.signal(s.resync)
}

func (s *Session) onChat(snap chat.Snapshot) {
	if snap.ActiveID != "" {
		s.push.SendToUser(s.User.ID, EventChat, snap)
	}

	s.mu.Lock()
	changed := snap.TotalUnread != s.lastUnreadTotal || !maps.Equal(snap.Unread, s.lastUnreadByChat)
	s.lastUnreadTotal = snap.TotalUnread
	s.lastUnreadByChat = snap.Unread
	s.mu.Unlock()
	if changed {
		s.push.SendToUser(s.User.ID, EventUnread, model.UnreadSummary{PerActivity: snap.Unread, Total: snap.TotalUnread})
	}
}

func (s *Session) resubscribeActivities() {
	s.mu.Lock()
	ids := slices.Clone(s.friendIDs)
	s.mu.Unlock()

	dispose, err := s.Activities.Subscribe(s.ctx, s.User.ID, ids)
	if err != nil {
		s.log.Warn("failed to refresh activity subscription", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.disposeActivity = dispose
	s.mu.Unlock()
}

// syncChatTracking keeps an unread listener on every joined activity's chat.
func (s *Session) syncChatTracking() {
	joined := s.Activities.Joined(s.User.ID)

	s.mu.Lock()
	want := make(map[string]bool, len(joined))
	for _, id := range joined {
		want[id] = true
	}
	var add, remove []string
	for id := range want {
		if !s.tracked[id] {
			add = append(add, id)
		}
	}
	for id := range s.tracked {
		if !want[id] {
			remove = append(remove, id)
		}
	}
	s.mu.Unlock()

	for _, id := range remove {
		s.Chat.Untrack(id)
		s.mu.Lock()
		delete(s.tracked, id)
		s.mu.Unlock()
	}
	for _, id := range add {
		if err := s.Chat.Track(s.ctx, id); err != nil {
			s.log.Warn("failed to track chat", zap.String("activity_id", id), zap.Error(err))
			continue
		}
		s.mu.Lock()
		s.tracked[id] = true
		s.mu.Unlock()
	}
}

// Refresh re-runs every subscription from scratch.
func (s *Session) Refresh(ctx context.Context) error {
	disposeProfile, err := s.Profile.Subscribe(ctx, s.User)
	if err != nil {
		return err
	}
	disposeFriends, err := s.Friends.Subscribe(ctx, s.User.ID)
	if err != nil {
		disposeProfile()
		return err
	}
	s.mu.Lock()
	prevProfile, prevFriends := s.disposeProfile, s.disposeFriends
	s.disposeProfile, s.disposeFriends = disposeProfile, disposeFriends
	s.friendIDs = s.Friends.FriendIDs()
	slices.Sort(s.friendIDs)
	s.mu.Unlock()
	for _, d := range []func(){prevProfile, prevFriends} {
		if d != nil {
			d()
		}
	}
	s.resubscribeActivities()
	s.syncChatTracking()

	if id := s.Chat.ActiveID(); id != "" {
		return s.Chat.Subscribe(ctx, id)
	}
	return nil
}

// Close detaches every listener and stops the session loop.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()

		s.mu.Lock()
		disposers := append(s.disposers, s.disposeProfile, s.disposeFriends, s.disposeActivity)
		s.disposers = nil
		s.disposeProfile, s.disposeFriends, s.disposeActivity = nil, nil, nil
		s.mu.Unlock()

		for _, d := range disposers {
			if d != nil {
				d()
			}
		}
		s.Chat.Close()
	})
}

// PushAll sends the current state of every store, for a client that just
// connected.
func (s *Session) PushAll() {
	if p := s.Profile.Profile(); p != nil {
		s.push.SendToUser(s.User.ID, EventProfile, p)
	}
	s.push.SendToUser(s.User.ID, EventFriends, friends.Snapshot{
		FriendIDs: s.Friends.FriendIDs(),
		Sent:      s.Friends.Sent(),
		Received:  s.Friends.Received(),
	})
	s.push.SendToUser(s.User.ID, EventActivities, activity.Snapshot{Activities: s.Activities.Activities()})

	snap := s.Chat.Snapshot()
	if snap.ActiveID != "" {
		s.push.SendToUser(s.User.ID, EventChat, snap)
	}
	s.push.SendToUser(s.User.ID, EventUnread, model.UnreadSummary{PerActivity: snap.Unread, Total: snap.TotalUnread})
}
