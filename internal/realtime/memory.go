package realtime

import (
	"context"
	"encoding/json"
	"maps"
	"sync"

	"github.com/bwise1/meetup_api/internal/chat"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/lucsky/cuid"
	"go.uber.org/zap"
)

// Memory is an in-process chat.Tree for local development and tests.
// Listeners are notified synchronously after each write.
type Memory struct {
	mu       sync.Mutex
	rooms    map[string]*model.ChatRoom
	messages map[string]chat.RawMessages

	roomHub    *hub[*model.ChatRoom]
	messageHub *hub[chat.RawMessages]
}

var _ chat.Tree = (*Memory)(nil)

func NewMemory(log *zap.Logger) *Memory {
	t := &Memory{
		rooms:    make(map[string]*model.ChatRoom),
		messages: make(map[string]chat.RawMessages),
	}
	t.roomHub = newHub(log, t.Room)
	t.messageHub = newHub(log, t.Messages)
	return t
}

func (t *Memory) Room(_ context.Context, activityID string) (*model.ChatRoom, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	room, ok := t.rooms[activityID]
	if !ok {
		return nil, nil
	}
	c := *room
	c.Members = maps.Clone(room.Members)
	return &c, nil
}

func (t *Memory) CreateRoom(_ context.Context, room model.ChatRoom, welcome model.ChatMessage) (bool, error) {
	body, err := chat.EncodeMessage(welcome)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	if _, ok := t.rooms[room.ActivityID]; ok {
		t.mu.Unlock()
		return false, nil
	}
	r := room
	r.Members = maps.Clone(room.Members)
	if r.Members == nil {
		r.Members = map[string]model.ChatMember{}
	}
	t.rooms[room.ActivityID] = &r
	t.appendLocked(room.ActivityID, body)
	t.mu.Unlock()

	t.roomHub.notify(room.ActivityID)
	t.messageHub.notify(room.ActivityID)
	return true, nil
}

func (t *Memory) Member(_ context.Context, activityID, userID string) (*model.ChatMember, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	room, ok := t.rooms[activityID]
	if !ok {
		return nil, nil
	}
	m, ok := room.Members[userID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (t *Memory) PutMember(_ context.Context, activityID string, member model.ChatMember) error {
	t.mu.Lock()
	room, ok := t.rooms[activityID]
	if !ok {
		room = &model.ChatRoom{ActivityID: activityID, Members: map[string]model.ChatMember{}, CreatedAt: member.JoinedAt}
		t.rooms[activityID] = room
	}
	room.Members[member.UserID] = member
	t.mu.Unlock()

	t.roomHub.notify(activityID)
	return nil
}

func (t *Memory) RemoveMember(_ context.Context, activityID, userID string) error {
	t.mu.Lock()
	if room, ok := t.rooms[activityID]; ok {
		delete(room.Members, userID)
	}
	t.mu.Unlock()

	t.roomHub.notify(activityID)
	return nil
}

func (t *Memory) appendLocked(activityID string, body json.RawMessage) string {
	if t.messages[activityID] == nil {
		t.messages[activityID] = chat.RawMessages{}
	}
	key := cuid.New()
	t.messages[activityID][key] = body
	return key
}

func (t *Memory) PushMessage(_ context.Context, activityID string, msg model.ChatMessage) (string, error) {
	body, err := chat.EncodeMessage(msg)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	key := t.appendLocked(activityID, body)
	t.mu.Unlock()

	t.messageHub.notify(activityID)
	return key, nil
}

func (t *Memory) Messages(_ context.Context, activityID string) (chat.RawMessages, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	raw := maps.Clone(t.messages[activityID])
	if raw == nil {
		raw = chat.RawMessages{}
	}
	return raw, nil
}

func (t *Memory) RemoveMessages(_ context.Context, activityID string, keys []string) error {
	t.mu.Lock()
	for _, k := range keys {
		delete(t.messages[activityID], k)
	}
	t.mu.Unlock()

	t.messageHub.notify(activityID)
	return nil
}

func (t *Memory) WatchRoom(activityID string, fn func(*model.ChatRoom)) (func(), error) {
	return t.roomHub.watch(activityID, fn)
}

func (t *Memory) WatchMessages(activityID string, fn func(chat.RawMessages)) (func(), error) {
	return t.messageHub.watch(activityID, fn)
}

func (t *Memory) Purge(_ context.Context, activityID string) error {
	t.mu.Lock()
	delete(t.rooms, activityID)
	delete(t.messages, activityID)
	t.mu.Unlock()

	t.roomHub.notify(activityID)
	t.messageHub.notify(activityID)
	return nil
}

func (t *Memory) RoomIDs(context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[string]bool)
	for id := range t.rooms {
		seen[id] = true
	}
	for id := range t.messages {
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids, nil
}

// Listeners returns the number of attached room and message listeners.
func (t *Memory) Listeners() int {
	return t.roomHub.size() + t.messageHub.size()
}
