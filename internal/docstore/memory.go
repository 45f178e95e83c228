package docstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/bwise1/meetup_api/internal/activity"
	"github.com/bwise1/meetup_api/internal/apperr"
	"github.com/bwise1/meetup_api/internal/friends"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/bwise1/meetup_api/internal/profile"
	"go.uber.org/zap"
)

// Memory holds the three collections in process. It backs local runs
// without MongoDB and the session tests; writes fire the same feeds the
// Mongo change streams do.
type Memory struct {
	log *zap.Logger

	mu         sync.Mutex
	activities map[string]model.Activity
	profiles   map[string]model.UserProfile
	requests   map[string]model.FriendRequest

	activityFeed *feed
	profileFeed  *feed
	requestFeed  *feed
}

func NewMemory(log *zap.Logger) *Memory {
	return &Memory{
		log:          log,
		activities:   make(map[string]model.Activity),
		profiles:     make(map[string]model.UserProfile),
		requests:     make(map[string]model.FriendRequest),
		activityFeed: newFeed(nil, 0, log),
		profileFeed:  newFeed(nil, 0, log),
		requestFeed:  newFeed(nil, 0, log),
	}
}

func (m *Memory) Activities() *MemActivities { return &MemActivities{m} }
func (m *Memory) Profiles() *MemProfiles     { return &MemProfiles{m} }
func (m *Memory) Friends() *MemFriends       { return &MemFriends{m} }

// write applies fn under the lock, then fires f when fn reports a change.
func (m *Memory) write(ctx context.Context, f *feed, fn func() (bool, error)) error {
	m.mu.Lock()
	changed, err := fn()
	m.mu.Unlock()
	if err == nil && changed {
		f.fire(context.WithoutCancel(ctx))
	}
	return err
}

func cloneActivity(a model.Activity) model.Activity {
	a.ParticipantIDs = slices.Clone(a.ParticipantIDs)
	if a.Coordinates != nil {
		c := *a.Coordinates
		a.Coordinates = &c
	}
	return a
}

func cloneProfile(p model.UserProfile) *model.UserProfile {
	p.Interests = slices.Clone(p.Interests)
	p.FriendIDs = slices.Clone(p.FriendIDs)
	return &p
}

type MemActivities struct{ m *Memory }

var _ activity.Repository = (*MemActivities)(nil)

func (s *MemActivities) Insert(ctx context.Context, a model.Activity) error {
	return s.m.write(ctx, s.m.activityFeed, func() (bool, error) {
		if _, ok := s.m.activities[a.ID]; ok {
			return false, apperr.New(apperr.CodeAlreadyExists, "activity already exists")
		}
		s.m.activities[a.ID] = cloneActivity(a)
		return true, nil
	})
}

func (s *MemActivities) Get(_ context.Context, id string) (*model.Activity, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.activities[id]
	if !ok {
		return nil, apperr.ErrActivityNotFound
	}
	a = cloneActivity(a)
	return &a, nil
}

func (s *MemActivities) Update(ctx context.Context, id string, p model.ActivityPatch) error {
	return s.m.write(ctx, s.m.activityFeed, func() (bool, error) {
		a, ok := s.m.activities[id]
		if !ok {
			return false, apperr.ErrActivityNotFound
		}
		if p.Title != nil {
			a.Title = *p.Title
		}
		if p.Description != nil {
			a.Description = *p.Description
		}
		if p.Location != nil {
			a.Location = *p.Location
		}
		if p.Coordinates != nil {
			c := *p.Coordinates
			a.Coordinates = &c
		}
		if p.RoutePolyline != nil {
			a.RoutePolyline = *p.RoutePolyline
		}
		if p.ImageURL != nil {
			a.ImageURL = *p.ImageURL
		}
		if p.ScheduledAt != nil {
			a.ScheduledAt = *p.ScheduledAt
		}
		if p.Category != nil {
			a.Category = *p.Category
		}
		if p.MaxParticipants != nil {
			n := *p.MaxParticipants
			a.MaxParticipants = &n
		}
		if p.Visibility != nil {
			a.Visibility = *p.Visibility
		}
		s.m.activities[id] = a
		return true, nil
	})
}

func (s *MemActivities) AddParticipant(ctx context.Context, id, userID string, capacity *int) (bool, error) {
	var added bool
	err := s.m.write(ctx, s.m.activityFeed, func() (bool, error) {
		a, ok := s.m.activities[id]
		if !ok {
			return false, apperr.ErrActivityNotFound
		}
		if a.HasParticipant(userID) {
			return false, nil
		}
		if capacity != nil && len(a.ParticipantIDs) >= *capacity {
			return false, nil
		}
		a.ParticipantIDs = append(slices.Clone(a.ParticipantIDs), userID)
		s.m.activities[id] = a
		added = true
		return true, nil
	})
	return added, err
}

func (s *MemActivities) RemoveParticipant(ctx context.Context, id, userID string) error {
	return s.m.write(ctx, s.m.activityFeed, func() (bool, error) {
		a, ok := s.m.activities[id]
		if !ok || !a.HasParticipant(userID) {
			return false, nil
		}
		a.ParticipantIDs = slices.DeleteFunc(slices.Clone(a.ParticipantIDs), func(p string) bool { return p == userID })
		s.m.activities[id] = a
		return true, nil
	})
}

func (s *MemActivities) Delete(ctx context.Context, id string) error {
	return s.m.write(ctx, s.m.activityFeed, func() (bool, error) {
		if _, ok := s.m.activities[id]; !ok {
			return false, apperr.ErrActivityNotFound
		}
		delete(s.m.activities, id)
		return true, nil
	})
}

func (s *MemActivities) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	return s.m.write(ctx, s.m.activityFeed, func() (bool, error) {
		a, ok := s.m.activities[id]
		if !ok {
			return false, nil
		}
		if a.LastMessageAt != nil && !at.After(*a.LastMessageAt) {
			return false, nil
		}
		at := at.UTC()
		a.LastMessageAt = &at
		s.m.activities[id] = a
		return true, nil
	})
}

func (s *MemActivities) Watch(ctx context.Context, q activity.Query, fn func([]model.Activity)) (func(), error) {
	return live(ctx, s.m.activityFeed, s.m.log, func(context.Context) ([]model.Activity, error) {
		s.m.mu.Lock()
		defer s.m.mu.Unlock()
		var out []model.Activity
		for _, a := range s.m.activities {
			if a.Visibility != q.Visibility {
				continue
			}
			if len(q.CreatorIDs) > 0 && !slices.Contains(q.CreatorIDs, a.CreatorID) {
				continue
			}
			out = append(out, cloneActivity(a))
		}
		slices.SortFunc(out, func(a, b model.Activity) int { return cmp.Compare(a.ID, b.ID) })
		return out, nil
	}, fn)
}

type MemProfiles struct{ m *Memory }

var _ profile.Repository = (*MemProfiles)(nil)

func (s *MemProfiles) Get(_ context.Context, userID string) (*model.UserProfile, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	p, ok := s.m.profiles[userID]
	if !ok {
		return nil, nil
	}
	return cloneProfile(p), nil
}

func (s *MemProfiles) Create(ctx context.Context, p model.UserProfile) error {
	return s.m.write(ctx, s.m.profileFeed, func() (bool, error) {
		if _, ok := s.m.profiles[p.ID]; ok {
			return false, nil
		}
		if p.Interests == nil {
			p.Interests = []string{}
		}
		if p.FriendIDs == nil {
			p.FriendIDs = []string{}
		}
		s.m.profiles[p.ID] = *cloneProfile(p)
		return true, nil
	})
}

func (s *MemProfiles) Merge(ctx context.Context, userID string, patch model.ProfilePatch) error {
	return s.m.write(ctx, s.m.profileFeed, func() (bool, error) {
		p, ok := s.m.profiles[userID]
		if !ok {
			return false, nil
		}
		patch.Apply(&p)
		s.m.profiles[userID] = p
		return true, nil
	})
}

func (s *MemProfiles) RecordLogin(ctx context.Context, userID string, at time.Time, displayName string) error {
	return s.m.write(ctx, s.m.profileFeed, func() (bool, error) {
		p, ok := s.m.profiles[userID]
		if !ok {
			return false, nil
		}
		p.LastLoginAt = at.UTC()
		if displayName != "" {
			p.DisplayName = displayName
		}
		s.m.profiles[userID] = p
		return true, nil
	})
}

func (s *MemProfiles) Watch(ctx context.Context, userID string, fn func(*model.UserProfile)) (func(), error) {
	return live(ctx, s.m.profileFeed, s.m.log, func(ctx context.Context) (*model.UserProfile, error) {
		return s.Get(ctx, userID)
	}, fn)
}

type MemFriends struct{ m *Memory }

var _ friends.Repository = (*MemFriends)(nil)

func (s *MemFriends) CreateRequest(ctx context.Context, r model.FriendRequest) error {
	return s.m.write(ctx, s.m.requestFeed, func() (bool, error) {
		s.m.requests[r.ID] = r
		return true, nil
	})
}

func (s *MemFriends) GetRequest(_ context.Context, id string) (*model.FriendRequest, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	r, ok := s.m.requests[id]
	if !ok {
		return nil, apperr.ErrRequestNotFound
	}
	return &r, nil
}

func (s *MemFriends) SetRequestStatus(ctx context.Context, id string, status model.FriendRequestStatus) error {
	return s.m.write(ctx, s.m.requestFeed, func() (bool, error) {
		r, ok := s.m.requests[id]
		if !ok {
			return false, apperr.ErrRequestNotFound
		}
		r.Status = status
		s.m.requests[id] = r
		return true, nil
	})
}

func (s *MemFriends) FindRequests(_ context.Context, f model.FriendRequestFilter) ([]model.FriendRequest, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.FriendRequest
	for _, r := range s.m.requests {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b model.FriendRequest) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *MemFriends) FriendIDs(_ context.Context, userID string) ([]string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return slices.Clone(s.m.profiles[userID].FriendIDs), nil
}

func (s *MemFriends) AddFriend(ctx context.Context, userID, friendID string) error {
	return s.m.write(ctx, s.m.profileFeed, func() (bool, error) {
		p, ok := s.m.profiles[userID]
		if !ok || p.IsFriend(friendID) {
			return false, nil
		}
		p.FriendIDs = append(slices.Clone(p.FriendIDs), friendID)
		s.m.profiles[userID] = p
		return true, nil
	})
}

func (s *MemFriends) RemoveFriend(ctx context.Context, userID, friendID string) error {
	return s.m.write(ctx, s.m.profileFeed, func() (bool, error) {
		p, ok := s.m.profiles[userID]
		if !ok || !p.IsFriend(friendID) {
			return false, nil
		}
		p.FriendIDs = slices.DeleteFunc(slices.Clone(p.FriendIDs), func(id string) bool { return id == friendID })
		s.m.profiles[userID] = p
		return true, nil
	})
}

func (s *MemFriends) WatchFriendIDs(ctx context.Context, userID string, fn func([]string)) (func(), error) {
	return live(ctx, s.m.profileFeed, s.m.log, func(ctx context.Context) ([]string, error) {
		return s.FriendIDs(ctx, userID)
	}, fn)
}

func (s *MemFriends) WatchRequests(ctx context.Context, f model.FriendRequestFilter, fn func([]model.FriendRequest)) (func(), error) {
	return live(ctx, s.m.requestFeed, s.m.log, func(ctx context.Context) ([]model.FriendRequest, error) {
		return s.FindRequests(ctx, f)
	}, fn)
}
