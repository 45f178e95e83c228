package chat

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/bwise1/meetup_api/internal/apperr"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/bwise1/meetup_api/internal/pubsub"
	"go.uber.org/zap"
)

// State is the subscription state of one activity's chat in a Store.
type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateActive
	StateInactive
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	default:
		return "unsubscribed"
	}
}

// Snapshot is the immutable view of a Store pushed to observers.
type Snapshot struct {
	ActiveID    string              `json:"active_id,omitempty"`
	Room        *model.ChatRoom     `json:"room,omitempty"`
	Messages    []model.ChatMessage `json:"messages"`
	Unread      map[string]int      `json:"unread"`
	TotalUnread int                 `json:"total_unread"`
}

// Store tracks one user's chat subscriptions and unread counts. At most one
// activity is active (its chat is open); any number of others can be tracked
// for unread counts only.
type Store struct {
	rooms *Rooms
	tree  Tree
	marks Watermarks
	log   *zap.Logger
	now   func() time.Time

	mu       sync.Mutex
	pubMu    sync.Mutex
	user     model.UserRef
	activeID string
	active   []func()
	room     *model.ChatRoom
	messages []model.ChatMessage
	tracked  map[string]func()
	states   map[string]State
	unread   map[string]int
	lastErr  error
	closed   bool

	topic *pubsub.Topic[Snapshot]
}

func NewStore(rooms *Rooms, marks Watermarks, user model.UserRef, log *zap.Logger) *Store {
	return &Store{
		rooms:   rooms,
		tree:    rooms.tree,
		marks:   marks,
		log:     log.With(zap.String("user_id", user.ID)),
		now:     rooms.now,
		user:    user,
		tracked: make(map[string]func()),
		states:  make(map[string]State),
		unread:  make(map[string]int),
		topic:   pubsub.NewTopic[Snapshot](),
	}
}

// SetUser updates the name used for this user's messages and memberships.
func (s *Store) SetUser(user model.UserRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == s.user.ID {
		s.user = user
	}
}

// Subscribe opens the chat of activityID: the previous active chat is torn
// down, the room is created or joined, and room and message listeners are
// attached. Calling it again on the same activity re-runs it from scratch.
func (s *Store) Subscribe(ctx context.Context, activityID string) error {
	if activityID == "" {
		return s.fail(apperr.ErrMissingChatRef)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.teardownActiveLocked()
	s.activeID = activityID
	s.states[activityID] = StateSubscribing
	s.unread[activityID] = 0
	user := s.user
	s.publishAndUnlock()

	if err := s.rooms.Join(ctx, activityID, user); err != nil {
		s.abortSubscribe(activityID)
		return s.fail(err)
	}

	disposeRoom, err := s.tree.WatchRoom(activityID, func(room *model.ChatRoom) {
		s.handleRoom(activityID, room)
	})
	if err != nil {
		s.abortSubscribe(activityID)
		return s.fail(apperr.Backend("watch chat room", err))
	}
	disposeMessages, err := s.tree.WatchMessages(activityID, func(raw RawMessages) {
		s.handleMessages(activityID, raw)
	})
	if err != nil {
		disposeRoom()
		s.abortSubscribe(activityID)
		return s.fail(apperr.Backend("watch chat messages", err))
	}

	s.mu.Lock()
	if s.activeID != activityID || s.closed {
		s.mu.Unlock()
		disposeRoom()
		disposeMessages()
		return nil
	}
	s.active = []func(){disposeRoom, disposeMessages}
	s.states[activityID] = StateActive
	s.publishAndUnlock()

	s.rooms.sweep(ctx, activityID)
	return nil
}

func (s *Store) abortSubscribe(activityID string) {
	s.mu.Lock()
	if s.activeID != activityID {
		s.mu.Unlock()
		return
	}
	s.activeID = ""
	s.room = nil
	s.messages = nil
	if _, ok := s.tracked[activityID]; ok {
		s.states[activityID] = StateInactive
	} else {
		delete(s.states, activityID)
		delete(s.unread, activityID)
	}
	s.publishAndUnlock()
}

// Unsubscribe detaches the active chat's listeners and clears its messages.
// Unread counts of other activities are kept.
func (s *Store) Unsubscribe() {
	s.mu.Lock()
	if s.activeID == "" {
		s.mu.Unlock()
		return
	}
	s.teardownActiveLocked()
	s.publishAndUnlock()
}

func (s *Store) teardownActiveLocked() {
	if s.activeID == "" {
		return
	}
	for _, dispose := range s.active {
		dispose()
	}
	prev := s.activeID
	if _, ok := s.tracked[prev]; ok {
		s.states[prev] = StateInactive
		s.unread[prev] = CountUnread(s.messages, s.user.ID, s.marks.Get(prev))
	} else {
		delete(s.states, prev)
		delete(s.unread, prev)
	}
	s.active = nil
	s.activeID = ""
	s.room = nil
	s.messages = nil
}

// Track attaches an unread-only message listener for activityID.
func (s *Store) Track(ctx context.Context, activityID string) error {
	if activityID == "" {
		return s.fail(apperr.ErrMissingChatRef)
	}

	s.mu.Lock()
	if _, ok := s.tracked[activityID]; ok || s.closed {
		s.mu.Unlock()
		return nil
	}
	// Reserve the slot so the listener's first delivery is accepted.
	s.tracked[activityID] = nil
	if s.activeID != activityID {
		s.states[activityID] = StateSubscribing
	}
	s.mu.Unlock()

	dispose, err := s.tree.WatchMessages(activityID, func(raw RawMessages) {
		s.handleMessages(activityID, raw)
	})
	if err != nil {
		s.mu.Lock()
		delete(s.tracked, activityID)
		if s.activeID != activityID {
			delete(s.states, activityID)
			delete(s.unread, activityID)
		}
		s.mu.Unlock()
		return s.fail(apperr.Backend("watch chat messages", err))
	}

	s.mu.Lock()
	if _, ok := s.tracked[activityID]; !ok || s.closed {
		s.mu.Unlock()
		dispose()
		return nil
	}
	s.tracked[activityID] = dispose
	if s.activeID != activityID {
		s.states[activityID] = StateInactive
	}
	s.publishAndUnlock()
	return nil
}

// Untrack removes the unread listener and count of activityID.
func (s *Store) Untrack(activityID string) {
	s.mu.Lock()
	dispose, ok := s.tracked[activityID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.tracked, activityID)
	if dispose != nil {
		dispose()
	}
	if s.activeID != activityID {
		delete(s.states, activityID)
		delete(s.unread, activityID)
	}
	s.publishAndUnlock()
}

func (s *Store) handleRoom(activityID string, room *model.ChatRoom) {
	s.mu.Lock()
	if s.activeID != activityID {
		s.mu.Unlock()
		return
	}
	s.room = room
	s.publishAndUnlock()
}

func (s *Store) handleMessages(activityID string, raw RawMessages) {
	msgs := ParseMessages(raw)

	s.mu.Lock()
	userID := s.user.ID
	s.mu.Unlock()
	count := CountUnread(msgs, userID, s.marks.Get(activityID))

	s.mu.Lock()
	isActive := s.activeID == activityID
	_, isTracked := s.tracked[activityID]
	if !isActive && !isTracked {
		s.mu.Unlock()
		return
	}
	if isActive {
		s.messages = msgs
		s.unread[activityID] = 0
	} else {
		s.unread[activityID] = count
	}
	s.publishAndUnlock()
}

// MarkAsRead records now as the activity's watermark and zeroes its count.
func (s *Store) MarkAsRead(activityID string) {
	s.marks.Set(activityID, s.now().UnixMilli())

	s.mu.Lock()
	if _, ok := s.unread[activityID]; !ok {
		s.mu.Unlock()
		return
	}
	s.unread[activityID] = 0
	s.publishAndUnlock()
}

// Send posts text as the session user.
func (s *Store) Send(ctx context.Context, activityID, text string) (model.ChatMessage, error) {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()

	msg, err := s.rooms.Send(ctx, activityID, user, text)
	if err != nil {
		return model.ChatMessage{}, s.fail(err)
	}
	return msg, nil
}

// Leave announces the user's departure from the chat and removes their
// membership, then drops every listener on it.
func (s *Store) Leave(ctx context.Context, activityID string) error {
	s.mu.Lock()
	userID := s.user.ID
	s.mu.Unlock()

	if err := s.rooms.Leave(ctx, activityID, userID); err != nil {
		return s.fail(err)
	}
	s.Forget(activityID)
	return nil
}

// Forget drops every listener and count for activityID without touching
// the backend, e.g. after the activity was deleted.
func (s *Store) Forget(activityID string) {
	s.mu.Lock()
	if s.activeID == activityID {
		s.teardownActiveLocked()
	}
	if dispose, ok := s.tracked[activityID]; ok {
		delete(s.tracked, activityID)
		if dispose != nil {
			dispose()
		}
	}
	delete(s.states, activityID)
	delete(s.unread, activityID)
	s.publishAndUnlock()
}

func (s *Store) CleanupExpired(ctx context.Context, activityID string) (int, error) {
	n, err := s.rooms.CleanupExpired(ctx, activityID)
	if err != nil {
		return 0, s.fail(err)
	}
	return n, nil
}

// Close detaches every listener. The store publishes nothing afterwards.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, dispose := range s.active {
		dispose()
	}
	for _, dispose := range s.tracked {
		if dispose != nil {
			dispose()
		}
	}
	s.active = nil
	s.activeID = ""
	s.tracked = make(map[string]func())
}

func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

func (s *Store) Messages() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ChatMessage(nil), s.messages...)
}

func (s *Store) Unread(activityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[activityID]
}

func (s *Store) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sumUnread(s.unread)
}

func (s *Store) State(activityID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[activityID]
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// OnChange subscribes fn to store snapshots.
func (s *Store) OnChange(fn func(Snapshot)) func() {
	return s.topic.Subscribe(fn)
}

func (s *Store) fail(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.log.Debug("chat operation failed", zap.Error(err))
	return err
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		ActiveID:    s.activeID,
		Messages:    append([]model.ChatMessage(nil), s.messages...),
		Unread:      maps.Clone(s.unread),
		TotalUnread: sumUnread(s.unread),
	}
	if s.room != nil {
		room := *s.room
		room.Members = maps.Clone(s.room.Members)
		snap.Room = &room
	}
	return snap
}

// publishAndUnlock must be called with s.mu held. Snapshots are published in
// the order the state changes were made.
func (s *Store) publishAndUnlock() {
	if s.closed {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.pubMu.Lock()
	s.mu.Unlock()
	defer s.pubMu.Unlock()
	s.topic.Publish(snap)
}

func sumUnread(m map[string]int) int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}
