// Package activity holds the per-session activity list and the activity
// mutations: create, edit, join, leave and delete.
package activity

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwise1/meetup_api/internal/apperr"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/bwise1/meetup_api/internal/pubsub"
	"github.com/bwise1/meetup_api/util"
	"go.uber.org/zap"
)

// creatorBatchSize bounds the creator ids of one friends-only query.
const creatorBatchSize = 10

type Snapshot struct {
	Activities []model.Activity `json:"activities"`
}

type Store struct {
	repo     Repository
	chat     ChatMembership
	geocoder Geocoder
	log      *zap.Logger
	now      func() time.Time
	newID    func() string

	mu         sync.Mutex
	pubMu      sync.Mutex
	generation int
	disposers  []func()
	results    map[int][]model.Activity
	activities []model.Activity
	lastErr    error

	topic *pubsub.Topic[Snapshot]
}

type Option func(*Store)

func WithGeocoder(g Geocoder) Option {
	return func(s *Store) { s.geocoder = g }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

func NewStore(repo Repository, chat ChatMembership, log *zap.Logger, opts ...Option) *Store {
	s := &Store{
		repo:    repo,
		chat:    chat,
		log:     log,
		now:     time.Now,
		newID:   util.GenerateUUID,
		results: make(map[int][]model.Activity),
		topic:   pubsub.NewTopic[Snapshot](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Queries returns the live queries showing userID every public activity and
// the friends-only activities of userID and their friends.
func Queries(userID string, friendIDs []string) []Query {
	creators := append([]string{userID}, friendIDs...)
	slices.Sort(creators)
	creators = slices.Compact(creators)

	queries := []Query{{Visibility: model.VisibilityPublic}}
	for batch := range slices.Chunk(creators, creatorBatchSize) {
		queries = append(queries, Query{Visibility: model.VisibilityFriends, CreatorIDs: batch})
	}
	return queries
}

// Subscribe replaces the current live queries with the ones for userID.
// The returned disposer detaches them.
func (s *Store) Subscribe(ctx context.Context, userID string, friendIDs []string) (func(), error) {
	if userID == "" {
		return nil, s.fail(apperr.ErrMissingUserID)
	}

	s.mu.Lock()
	s.teardownLocked()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	var disposers []func()
	for i, q := range Queries(userID, friendIDs) {
		dispose, err := s.repo.Watch(ctx, q, func(list []model.Activity) {
			s.handleResults(gen, i, list)
		})
		if err != nil {
			for _, d := range disposers {
				d()
			}
			return nil, s.fail(apperr.Backend("watch activities", err))
		}
		disposers = append(disposers, dispose)
	}

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

	return func() { s.unsubscribe(gen) }, nil
}

func (s *Store) unsubscribe(gen int) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.generation++
	s.publishAndUnlock()
}

func (s *Store) teardownLocked() {
	for _, d := range s.disposers {
		d()
	}
	s.disposers = nil
	s.results = make(map[int][]model.Activity)
	s.activities = nil
}

func (s *Store) handleResults(gen, query int, list []model.Activity) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.results[query] = list
	s.activities = merge(s.results)
	s.publishAndUnlock()
}

// merge dedupes the query results by id and orders them newest first.
func merge(results map[int][]model.Activity) []model.Activity {
	seen := make(map[string]bool)
	var out []model.Activity
	for _, list := range results {
		for _, a := range list {
			if seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			out = append(out, a)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Activity) int {
		if c := b.SortKey().Compare(a.SortKey()); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Create validates na and stores it with the creator as the only
// participant, returning the new id.
func (s *Store) Create(ctx context.Context, na model.NewActivity) (string, error) {
	if err := util.ValidateStruct(na); err != nil {
		return "", s.fail(apperr.Validation(err))
	}
	if na.ScheduledAt.IsZero() || !util.NotBlank(na.Title) || !util.NotBlank(na.Description) || !util.NotBlank(na.Location) {
		return "", s.fail(apperr.InvalidArg("title, description, location and time are required"))
	}
	if na.RoutePolyline != "" {
		if _, err := util.DecodePolyLines(na.RoutePolyline); err != nil {
			return "", s.fail(apperr.Wrap(apperr.CodeInvalidArgument, apperr.MessageOf(apperr.ErrInvalidRoute), err))
		}
	}

	visibility := na.Visibility
	if visibility == "" {
		visibility = model.VisibilityPublic
	}

	a := model.Activity{
		ID:              s.newID(),
		Title:           strings.TrimSpace(na.Title),
		Description:     strings.TrimSpace(na.Description),
		Location:        strings.TrimSpace(na.Location),
		Coordinates:     na.Coordinates,
		RoutePolyline:   na.RoutePolyline,
		ImageURL:        na.ImageURL,
		ScheduledAt:     na.ScheduledAt,
		Category:        na.Category,
		CreatorID:       na.CreatorID,
		CreatorName:     na.CreatorName,
		ParticipantIDs:  []string{na.CreatorID},
		MaxParticipants: na.MaxParticipants,
		Visibility:      visibility,
		CreatedAt:       s.now(),
	}
	if a.Coordinates == nil {
		a.Coordinates = s.geocode(ctx, a.Location)
	}

	if err := s.repo.Insert(ctx, a); err != nil {
		return "", s.fail(apperr.Backend("create activity", err))
	}
	s.log.Info("activity created", zap.String("activity_id", a.ID), zap.String("creator_id", a.CreatorID))
	return a.ID, nil
}

// geocode resolves location text to coordinates. Failures leave the
// activity without coordinates.
func (s *Store) geocode(ctx context.Context, location string) *model.GeoPoint {
	if s.geocoder == nil {
		return nil
	}
	point, err := s.geocoder.Geocode(ctx, location)
	if err != nil {
		s.log.Warn("failed to geocode activity location", zap.String("location", location), zap.Error(err))
		return nil
	}
	return point
}

// Update applies patch to an activity owned by userID.
func (s *Store) Update(ctx context.Context, activityID, userID string, patch model.ActivityPatch) error {
	if err := util.ValidateStruct(patch); err != nil {
		return s.fail(apperr.Validation(err))
	}
	if patch.RoutePolyline != nil && *patch.RoutePolyline != "" {
		if _, err := util.DecodePolyLines(*patch.RoutePolyline); err != nil {
			return s.fail(apperr.Wrap(apperr.CodeInvalidArgument, apperr.MessageOf(apperr.ErrInvalidRoute), err))
		}
	}

	a, err := s.repo.Get(ctx, activityID)
	if err != nil {
		return s.fail(apperr.Backend("read activity", err))
	}
	if a.CreatorID != userID {
		return s.fail(apperr.ErrNotCreator)
	}
	if patch.MaxParticipants != nil && *patch.MaxParticipants < len(a.ParticipantIDs) {
		return s.fail(apperr.InvalidArg("capacity cannot be below the current participant count"))
	}
	if patch.Location != nil && patch.Coordinates == nil && *patch.Location != a.Location {
		patch.Coordinates = s.geocode(ctx, *patch.Location)
	}

	if err := s.repo.Update(ctx, activityID, patch); err != nil {
		return s.fail(apperr.Backend("update activity", err))
	}
	return nil
}

// Join adds user to the participants and then to the chat. When the chat
// membership cannot be written the participant is removed again and the
// join fails.
func (s *Store) Join(ctx context.Context, activityID string, user model.UserRef) error {
	if user.ID == "" {
		return s.fail(apperr.ErrMissingUserID)
	}
	a, err := s.repo.Get(ctx, activityID)
	if err != nil {
		return s.fail(apperr.Backend("read activity", err))
	}
	if a.HasParticipant(user.ID) {
		return nil
	}
	if a.IsFull() {
		return s.fail(apperr.ErrActivityFull)
	}

	added, err := s.repo.AddParticipant(ctx, activityID, user.ID, a.MaxParticipants)
	if err != nil {
		return s.fail(apperr.Backend("join activity", err))
	}
	if !added {
		// Another join may have landed since the read; its chat write and
		// compensation belong to that call.
		cur, err := s.repo.Get(ctx, activityID)
		if err != nil {
			return s.fail(apperr.Backend("read activity", err))
		}
		if cur.HasParticipant(user.ID) {
			return nil
		}
		return s.fail(apperr.ErrActivityFull)
	}

	if err := s.chat.Join(ctx, activityID, user); err != nil {
		log := s.log.With(zap.String("activity_id", activityID), zap.String("user_id", user.ID))
		log.Warn("chat membership write failed, reverting join", zap.Error(err))
		if rerr := s.repo.RemoveParticipant(ctx, activityID, user.ID); rerr != nil {
			log.Error("failed to revert join", zap.Error(rerr))
		}
		return s.fail(apperr.Backend("join chat", err))
	}
	return nil
}

// Leave removes userID from the participants. Creators cannot leave.
// Leaving the chat afterwards is best-effort.
func (s *Store) Leave(ctx context.Context, activityID, userID string) error {
	a, err := s.repo.Get(ctx, activityID)
	if err != nil {
		return s.fail(apperr.Backend("read activity", err))
	}
	if a.CreatorID == userID {
		return s.fail(apperr.ErrCreatorCannotLeave)
	}
	if !a.HasParticipant(userID) {
		return nil
	}

	if err := s.repo.RemoveParticipant(ctx, activityID, userID); err != nil {
		return s.fail(apperr.Backend("leave activity", err))
	}
	if err := s.chat.Leave(ctx, activityID, userID); err != nil {
		s.log.Warn("failed to leave activity chat",
			zap.String("activity_id", activityID), zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

// Delete removes an activity owned by userID and purges its chat. A failed
// purge is logged and leaves the chat data behind.
func (s *Store) Delete(ctx context.Context, activityID, userID string) error {
	a, err := s.repo.Get(ctx, activityID)
	if err != nil {
		return s.fail(apperr.Backend("read activity", err))
	}
	if a.CreatorID != userID {
		return s.fail(apperr.ErrNotCreator)
	}

	if err := s.repo.Delete(ctx, activityID); err != nil {
		return s.fail(apperr.Backend("delete activity", err))
	}
	if err := s.chat.Purge(ctx, activityID); err != nil {
		s.log.Warn("failed to purge chat of deleted activity", zap.String("activity_id", activityID), zap.Error(err))
	}
	s.log.Info("activity deleted", zap.String("activity_id", activityID))
	return nil
}

// IsParticipant looks activityID up in the subscribed list only.
func (s *Store) IsParticipant(activityID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.activities {
		if a.ID == activityID {
			return a.HasParticipant(userID)
		}
	}
	return false
}

func (s *Store) Activities() []model.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.activities)
}

// Get returns an activity from the subscribed list.
func (s *Store) Get(activityID string) (model.Activity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.activities {
		if a.ID == activityID {
			return a, true
		}
	}
	return model.Activity{}, false
}

// Joined returns the ids of the listed activities userID participates in.
func (s *Store) Joined(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, a := range s.activities {
		if a.HasParticipant(userID) {
			ids = append(ids, a.ID)
		}
	}
	return ids
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
	snap := Snapshot{Activities: slices.Clone(s.activities)}
	s.pubMu.Lock()
	s.mu.Unlock()
	defer s.pubMu.Unlock()
	s.topic.Publish(snap)
}
