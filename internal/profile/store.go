// Package profile mirrors the signed-in user's profile document.
package profile

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bwise1/meetup_api/internal/apperr"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/bwise1/meetup_api/internal/pubsub"
	"github.com/bwise1/meetup_api/util"
	"go.uber.org/zap"
)

// Repository is the userProfiles collection.
type Repository interface {
	// Get returns nil without error when the profile does not exist.
	Get(ctx context.Context, userID string) (*model.UserProfile, error)
	Create(ctx context.Context, p model.UserProfile) error
	Merge(ctx context.Context, userID string, patch model.ProfilePatch) error
	// RecordLogin sets the last login time, and the display name when
	// displayName is not empty.
	RecordLogin(ctx context.Context, userID string, at time.Time, displayName string) error
	Watch(ctx context.Context, userID string, fn func(*model.UserProfile)) (func(), error)
}

// Uploader stores an image and returns its public URL.
type Uploader interface {
	UploadImage(ctx context.Context, r io.Reader, folder string) (string, error)
}

const photoFolder = "profile_photos"

type Store struct {
	repo     Repository
	uploader Uploader
	log      *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	pubMu      sync.Mutex
	userID     string
	generation int
	dispose    func()
	profile    *model.UserProfile
	lastErr    error

	topic *pubsub.Topic[*model.UserProfile]
}

type Option func(*Store)

func WithUploader(u Uploader) Option {
	return func(s *Store) { s.uploader = u }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(repo Repository, log *zap.Logger, opts ...Option) *Store {
	s := &Store{
		repo:  repo,
		log:   log,
		now:   time.Now,
		topic: pubsub.NewTopic[*model.UserProfile](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DisplayName picks the best available name for a user: the auth provider's
// display name, then the local part of the email, then a shortened id.
func DisplayName(user model.AuthUser) string {
	if name := knownName(user); name != "" {
		return name
	}
	id := user.ID
	if len(id) > 6 {
		id = id[:6]
	}
	return "User " + id
}

func knownName(user model.AuthUser) string {
	if name := strings.TrimSpace(user.DisplayName); name != "" {
		return name
	}
	if util.IsEmail(user.Email) {
		local, _, _ := strings.Cut(user.Email, "@")
		return local
	}
	return ""
}

// Subscribe ensures a profile document exists for user, records the login
// and mirrors the document until the returned disposer is called.
func (s *Store) Subscribe(ctx context.Context, user model.AuthUser) (func(), error) {
	if user.ID == "" {
		return nil, s.fail(apperr.ErrMissingUserID)
	}
	if err := s.ensure(ctx, user); err != nil {
		return nil, s.fail(err)
	}

	s.mu.Lock()
	if s.dispose != nil {
		s.dispose()
		s.dispose = nil
	}
	s.generation++
	gen := s.generation
	s.userID = user.ID
	s.profile = nil
	s.mu.Unlock()

	dispose, err := s.repo.Watch(ctx, user.ID, func(p *model.UserProfile) {
		s.mu.Lock()
		if s.generation != gen {
			s.mu.Unlock()
			return
		}
		s.profile = p
		s.publishAndUnlock()
	})
	if err != nil {
		return nil, s.fail(apperr.Backend("watch profile", err))
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		dispose()
		return func() {}, nil
	}
	s.dispose = dispose
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if s.generation != gen {
			s.mu.Unlock()
			return
		}
		s.generation++
		if s.dispose != nil {
			s.dispose()
			s.dispose = nil
		}
		s.profile = nil
		s.publishAndUnlock()
	}, nil
}

func (s *Store) ensure(ctx context.Context, user model.AuthUser) error {
	now := s.now()
	existing, err := s.repo.Get(ctx, user.ID)
	if err != nil {
		return apperr.Backend("read profile", err)
	}

	if existing == nil {
		p := model.UserProfile{
			ID:          user.ID,
			DisplayName: DisplayName(user),
			Email:       user.Email,
			PhotoURL:    user.PhotoURL,
			Interests:   []string{},
			FriendIDs:   []string{},
			CreatedAt:   now,
			LastLoginAt: now,
		}
		if err := s.repo.Create(ctx, p); err != nil {
			return apperr.Backend("create profile", err)
		}
		s.log.Info("profile created", zap.String("user_id", user.ID))
		return nil
	}

	var name string
	if strings.TrimSpace(existing.DisplayName) == "" {
		name = knownName(user)
	}
	if err := s.repo.RecordLogin(ctx, user.ID, now, name); err != nil {
		return apperr.Backend("record login", err)
	}
	return nil
}

// Update merges patch into the mirrored profile right away and then writes
// it. A failed write is returned but the local merge stays.
func (s *Store) Update(ctx context.Context, patch model.ProfilePatch) error {
	if err := util.ValidateStruct(patch); err != nil {
		return s.fail(apperr.Validation(err))
	}

	s.mu.Lock()
	if s.profile == nil {
		s.mu.Unlock()
		return s.fail(apperr.ErrProfileNotLoaded)
	}
	userID := s.userID
	merged := *s.profile
	patch.Apply(&merged)
	s.profile = &merged
	s.publishAndUnlock()

	if err := s.repo.Merge(ctx, userID, patch); err != nil {
		s.log.Warn("profile write failed", zap.String("user_id", userID), zap.Error(err))
		return s.fail(apperr.Backend("update profile", err))
	}
	return nil
}

// UploadPhoto stores r as the profile photo and returns its URL.
func (s *Store) UploadPhoto(ctx context.Context, r io.Reader) (string, error) {
	if s.uploader == nil {
		return "", s.fail(apperr.FailedPrecondition("photo uploads are not configured"))
	}
	url, err := s.uploader.UploadImage(ctx, r, photoFolder)
	if err != nil {
		return "", s.fail(apperr.Backend("upload photo", err))
	}
	if err := s.Update(ctx, model.ProfilePatch{PhotoURL: &url}); err != nil {
		return "", err
	}
	return url, nil
}

// Profile returns a copy of the mirrored profile, or nil before the first
// read.
func (s *Store) Profile() *model.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return nil
	}
	p := *s.profile
	return &p
}

func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Store) OnChange(fn func(*model.UserProfile)) func() {
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
	var snap *model.UserProfile
	if s.profile != nil {
		p := *s.profile
		snap = &p
	}
	s.pubMu.Lock()
	s.mu.Unlock()
	defer s.pubMu.Unlock()
	s.topic.Publish(snap)
}
