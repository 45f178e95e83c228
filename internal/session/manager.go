package session

import (
	"context"
	"sync"
	"time"

	"github.com/bwise1/meetup_api/internal/activity"
	"github.com/bwise1/meetup_api/internal/chat"
	"github.com/bwise1/meetup_api/internal/friends"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/bwise1/meetup_api/internal/profile"
	"go.uber.org/zap"
)

// Backends are the shared collaborators every session's stores use.
type Backends struct {
	Activities activity.Repository
	Friends    friends.Repository
	Profiles   profile.Repository
	Rooms      *chat.Rooms
	Watermarks func(userID string) chat.Watermarks

	Geocoder activity.Geocoder
	Uploader profile.Uploader
	Notifier friends.Notifier
}

// Manager keeps at most one Session per user.
type Manager struct {
	backends Backends
	push     Pusher
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(b Backends, push Pusher, log *zap.Logger) *Manager {
	return &Manager{
		backends: b,
		push:     push,
		log:      log,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Open returns the session of user, starting one when none is running.
func (m *Manager) Open(ctx context.Context, user model.AuthUser) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[user.ID]; ok {
		m.mu.Unlock()
		s.Touch(m.now())
		return s, nil
	}
	m.mu.Unlock()

	s := m.newSession(user)
	if err := s.start(ctx); err != nil {
		s.Close()
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[user.ID]; ok {
		m.mu.Unlock()
		s.Close()
		existing.Touch(m.now())
		return existing, nil
	}
	m.sessions[user.ID] = s
	m.mu.Unlock()

	m.log.Info("session opened", zap.String("user_id", user.ID))
	return s, nil
}

func (m *Manager) newSession(user model.AuthUser) *Session {
	b := m.backends
	log := m.log.With(zap.String("user_id", user.ID))

	var activityOpts []activity.Option
	if b.Geocoder != nil {
		activityOpts = append(activityOpts, activity.WithGeocoder(b.Geocoder))
	}
	var profileOpts []profile.Option
	if b.Uploader != nil {
		profileOpts = append(profileOpts, profile.WithUploader(b.Uploader))
	}
	var friendOpts []friends.Option
	if b.Notifier != nil {
		friendOpts = append(friendOpts, friends.WithNotifier(b.Notifier))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		User:       user,
		Profile:    profile.NewStore(b.Profiles, log, profileOpts...),
		Friends:    friends.NewStore(b.Friends, log, friendOpts...),
		Activities: activity.NewStore(b.Activities, b.Rooms, log, activityOpts...),
		log:        log,
		push:       m.push,
		ctx:        ctx,
		cancel:     cancel,
		refresh:    make(chan struct{}, 1),
		resync:     make(chan struct{}, 1),
		tracked:    make(map[string]bool),
	}
	ref := model.UserRef{ID: user.ID, DisplayName: profile.DisplayName(user), PhotoURL: user.PhotoURL}
	s.Chat = chat.NewStore(b.Rooms, b.Watermarks(user.ID), ref, log)
	s.Touch(m.now())
	return s
}

// Get returns the running session of userID.
func (m *Manager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if ok {
		s.Touch(m.now())
	}
	return s, ok
}

func (m *Manager) Close(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if ok {
		s.Close()
		m.log.Info("session closed", zap.String("user_id", userID))
	}
}

// CloseIdle closes sessions unused for longer than threshold whose user has
// no live connection, returning how many were closed.
func (m *Manager) CloseIdle(threshold time.Duration) int {
	cutoff := m.now().Add(-threshold)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) && !m.push.IsConnected(id) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	return len(idle)
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
