package chat

import (
	"context"
	"encoding/json"

	"github.com/bwise1/meetup_api/internal/model"
)

// RawMessages is the insertion-ordered message map of one activity, keyed by
// the tree-generated message key. Entries are decoded lazily so one malformed
// entry cannot fail the whole list.
type RawMessages map[string]json.RawMessage

// Tree is the realtime store holding chat rooms under activity-chats/{id}
// and messages under chat-messages/{id}.
type Tree interface {
	// Room returns nil without error when no room exists yet.
	Room(ctx context.Context, activityID string) (*model.ChatRoom, error)
	// CreateRoom writes room and its welcome message unless a room already
	// exists, reporting whether it did.
	CreateRoom(ctx context.Context, room model.ChatRoom, welcome model.ChatMessage) (bool, error)
	Member(ctx context.Context, activityID, userID string) (*model.ChatMember, error)
	PutMember(ctx context.Context, activityID string, member model.ChatMember) error
	RemoveMember(ctx context.Context, activityID, userID string) error

	// PushMessage appends msg under a new insertion-ordered key and returns the key.
	PushMessage(ctx context.Context, activityID string, msg model.ChatMessage) (string, error)
	Messages(ctx context.Context, activityID string) (RawMessages, error)
	RemoveMessages(ctx context.Context, activityID string, keys []string) error

	// WatchRoom and WatchMessages deliver the current value right away and
	// again after every change, until the returned disposer is called.
	WatchRoom(activityID string, fn func(*model.ChatRoom)) (func(), error)
	WatchMessages(activityID string, fn func(RawMessages)) (func(), error)

	// Purge removes the room and all of its messages.
	Purge(ctx context.Context, activityID string) error
	RoomIDs(ctx context.Context) ([]string, error)
}

// EncodeMessage renders msg in the tree's wire shape. The key is not part of
// the value.
func EncodeMessage(msg model.ChatMessage) (json.RawMessage, error) {
	return json.Marshal(wireMessage{
		SenderID:   &msg.SenderID,
		SenderName: msg.SenderName,
		Text:       &msg.Text,
		Timestamp:  &msg.Timestamp,
	})
}

type wireMessage struct {
	SenderID   *string `json:"sender_id"`
	SenderName string  `json:"sender_name"`
	Text       *string `json:"text"`
	Timestamp  *int64  `json:"timestamp"`
}
