package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/bwise1/meetup_api/internal/model"
	"go.uber.org/zap"
)

var errBackendDown = errors.New("backend down")

// fakeTree is an in-memory Tree that notifies watchers synchronously.
type fakeTree struct {
	mu       sync.Mutex
	rooms    map[string]*model.ChatRoom
	messages map[string]RawMessages
	seq      int
	nextW    int
	roomW    map[string]map[int]func(*model.ChatRoom)
	msgW     map[string]map[int]func(RawMessages)

	failPush bool
	failRoom bool
}

func newFakeTree() *fakeTree {
	return &fakeTree{
		rooms:    make(map[string]*model.ChatRoom),
		messages: make(map[string]RawMessages),
		roomW:    make(map[string]map[int]func(*model.ChatRoom)),
		msgW:     make(map[string]map[int]func(RawMessages)),
	}
}

func (f *fakeTree) Room(_ context.Context, id string) (*model.ChatRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRoom {
		return nil, errBackendDown
	}
	return f.roomCopy(id), nil
}

func (f *fakeTree) roomCopy(id string) *model.ChatRoom {
	room, ok := f.rooms[id]
	if !ok {
		return nil
	}
	c := *room
	c.Members = maps.Clone(room.Members)
	return &c
}

func (f *fakeTree) CreateRoom(ctx context.Context, room model.ChatRoom, welcome model.ChatMessage) (bool, error) {
	f.mu.Lock()
	if _, ok := f.rooms[room.ActivityID]; ok {
		f.mu.Unlock()
		return false, nil
	}
	r := room
	r.Members = maps.Clone(room.Members)
	f.rooms[room.ActivityID] = &r
	f.mu.Unlock()
	f.notifyRoom(room.ActivityID)

	_, err := f.PushMessage(ctx, room.ActivityID, welcome)
	return true, err
}

func (f *fakeTree) Member(_ context.Context, id, userID string) (*model.ChatMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return nil, nil
	}
	m, ok := room.Members[userID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeTree) PutMember(_ context.Context, id string, member model.ChatMember) error {
	f.mu.Lock()
	room, ok := f.rooms[id]
	if !ok {
		room = &model.ChatRoom{ActivityID: id, Members: map[string]model.ChatMember{}}
		f.rooms[id] = room
	}
	room.Members[member.UserID] = member
	f.mu.Unlock()
	f.notifyRoom(id)
	return nil
}

func (f *fakeTree) RemoveMember(_ context.Context, id, userID string) error {
	f.mu.Lock()
	if room, ok := f.rooms[id]; ok {
		delete(room.Members, userID)
	}
	f.mu.Unlock()
	f.notifyRoom(id)
	return nil
}

func (f *fakeTree) PushMessage(_ context.Context, id string, msg model.ChatMessage) (string, error) {
	raw, err := EncodeMessage(msg)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	if f.failPush {
		f.mu.Unlock()
		return "", errBackendDown
	}
	f.seq++
	key := fmt.Sprintf("m%04d", f.seq)
	if f.messages[id] == nil {
		f.messages[id] = RawMessages{}
	}
	f.messages[id][key] = raw
	f.mu.Unlock()
	f.notifyMessages(id)
	return key, nil
}

// putRaw stores value as-is under key.
func (f *fakeTree) putRaw(id, key string, value json.RawMessage) {
	f.mu.Lock()
	if f.messages[id] == nil {
		f.messages[id] = RawMessages{}
	}
	f.messages[id][key] = value
	f.mu.Unlock()
	f.notifyMessages(id)
}

func (f *fakeTree) Messages(_ context.Context, id string) (RawMessages, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.messages[id]), nil
}

func (f *fakeTree) RemoveMessages(_ context.Context, id string, keys []string) error {
	f.mu.Lock()
	for _, k := range keys {
		delete(f.messages[id], k)
	}
	f.mu.Unlock()
	f.notifyMessages(id)
	return nil
}

func (f *fakeTree) WatchRoom(id string, fn func(*model.ChatRoom)) (func(), error) {
	f.mu.Lock()
	wid := f.nextW
	f.nextW++
	if f.roomW[id] == nil {
		f.roomW[id] = map[int]func(*model.ChatRoom){}
	}
	f.roomW[id][wid] = fn
	room := f.roomCopy(id)
	f.mu.Unlock()

	fn(room)
	return func() {
		f.mu.Lock()
		delete(f.roomW[id], wid)
		f.mu.Unlock()
	}, nil
}

func (f *fakeTree) WatchMessages(id string, fn func(RawMessages)) (func(), error) {
	f.mu.Lock()
	wid := f.nextW
	f.nextW++
	if f.msgW[id] == nil {
		f.msgW[id] = map[int]func(RawMessages){}
	}
	f.msgW[id][wid] = fn
	raw := maps.Clone(f.messages[id])
	f.mu.Unlock()

	fn(raw)
	return func() {
		f.mu.Lock()
		delete(f.msgW[id], wid)
		f.mu.Unlock()
	}, nil
}

func (f *fakeTree) Purge(_ context.Context, id string) error {
	f.mu.Lock()
	delete(f.rooms, id)
	delete(f.messages, id)
	f.mu.Unlock()
	f.notifyRoom(id)
	f.notifyMessages(id)
	return nil
}

func (f *fakeTree) RoomIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.rooms))
	for id := range f.rooms {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeTree) watchers(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.roomW[id]) + len(f.msgW[id])
}

func (f *fakeTree) notifyRoom(id string) {
	f.mu.Lock()
	room := f.roomCopy(id)
	fns := make([]func(*model.ChatRoom), 0, len(f.roomW[id]))
	for _, fn := range f.roomW[id] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(room)
	}
}

func (f *fakeTree) notifyMessages(id string) {
	f.mu.Lock()
	raw := maps.Clone(f.messages[id])
	fns := make([]func(RawMessages), 0, len(f.msgW[id]))
	for _, fn := range f.msgW[id] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(raw)
	}
}

type memMarks struct {
	mu sync.Mutex
	m  map[string]int64
}

func newMemMarks() *memMarks { return &memMarks{m: map[string]int64{}} }

func (w *memMarks) Get(id string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.m[WatermarkKey(id)]
}

func (w *memMarks) Set(id string, ms int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.m[WatermarkKey(id)] = ms
}

type fakeToucher struct {
	calls int
	err   error
}

func (t *fakeToucher) TouchLastMessage(context.Context, string, time.Time) error {
	t.calls++
	return t.err
}

// testClock is a manually advanced clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestRooms(tree Tree, touch ActivityToucher, clock *testClock) *Rooms {
	return NewRooms(tree, touch, zap.NewNop(), WithClock(clock.Now))
}
