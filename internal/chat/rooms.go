package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwise1/meetup_api/internal/apperr"
	"github.com/bwise1/meetup_api/internal/model"
	"go.uber.org/zap"
)

// DefaultRetention is how long chat messages are kept before the expiration
// sweep deletes them.
const DefaultRetention = 5 * 24 * time.Hour

// ActivityToucher updates the denormalized last-message time of an activity.
type ActivityToucher interface {
	TouchLastMessage(ctx context.Context, activityID string, at time.Time) error
}

// Rooms performs chat room and message writes that do not depend on a
// session's subscription state. It is shared by all sessions.
type Rooms struct {
	tree      Tree
	touch     ActivityToucher
	log       *zap.Logger
	retention time.Duration
	now       func() time.Time
}

type Option func(*Rooms)

func WithRetention(d time.Duration) Option {
	return func(r *Rooms) {
		if d > 0 {
			r.retention = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Rooms) { r.now = now }
}

func NewRooms(tree Tree, touch ActivityToucher, log *zap.Logger, opts ...Option) *Rooms {
	r := &Rooms{
		tree:      tree,
		touch:     touch,
		log:       log,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Rooms) nowMillis() int64 {
	return r.now().UnixMilli()
}

// Join makes user a member of the activity's chat, creating the room with a
// welcome message when it does not exist yet.
func (r *Rooms) Join(ctx context.Context, activityID string, user model.UserRef) error {
	if activityID == "" {
		return apperr.ErrMissingChatRef
	}
	if user.ID == "" {
		return apperr.ErrMissingUserID
	}

	room, err := r.tree.Room(ctx, activityID)
	if err != nil {
		return apperr.Backend("read chat room", err)
	}

	now := r.nowMillis()
	member := model.ChatMember{UserID: user.ID, DisplayName: user.DisplayName, JoinedAt: now}

	if room == nil {
		created, err := r.tree.CreateRoom(ctx, model.ChatRoom{
			ActivityID: activityID,
			Members:    map[string]model.ChatMember{user.ID: member},
			CreatedAt:  now,
		}, systemMessage("Welcome to the chat! Say hi to everyone joining this activity.", now))
		if err != nil {
			return apperr.Backend("create chat room", err)
		}
		if created {
			r.log.Debug("chat room created", zap.String("activity_id", activityID), zap.String("user_id", user.ID))
			return nil
		}
		// Another member created the room first.
		if room, err = r.tree.Room(ctx, activityID); err != nil {
			return apperr.Backend("read chat room", err)
		}
	}

	if room != nil && room.HasMember(user.ID) {
		return nil
	}

	if err := r.tree.PutMember(ctx, activityID, member); err != nil {
		return apperr.Backend("add chat member", err)
	}
	if _, err := r.tree.PushMessage(ctx, activityID, systemMessage(fmt.Sprintf("%s joined the chat", displayName(user)), now)); err != nil {
		return apperr.Backend("write join message", err)
	}
	return nil
}

// Leave announces the departure of userID and removes the membership record.
// Leaving a chat the user is not a member of is a no-op.
func (r *Rooms) Leave(ctx context.Context, activityID, userID string) error {
	member, err := r.tree.Member(ctx, activityID, userID)
	if err != nil {
		return apperr.Backend("read chat member", err)
	}
	if member == nil {
		return nil
	}

	name := member.DisplayName
	if name == "" {
		name = "A participant"
	}
	if _, err := r.tree.PushMessage(ctx, activityID, systemMessage(name+" left the chat", r.nowMillis())); err != nil {
		return apperr.Backend("write leave message", err)
	}
	if err := r.tree.RemoveMember(ctx, activityID, userID); err != nil {
		return apperr.Backend("remove chat member", err)
	}
	return nil
}

// Purge deletes the room and all messages of an activity.
func (r *Rooms) Purge(ctx context.Context, activityID string) error {
	return apperr.Backend("purge chat", r.tree.Purge(ctx, activityID))
}

// Send appends a message from sender. Updating the activity's last-message
// time and the expiration sweep that follow never fail the send.
func (r *Rooms) Send(ctx context.Context, activityID string, sender model.UserRef, text string) (model.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.ChatMessage{}, apperr.ErrEmptyMessage
	}
	if activityID == "" {
		return model.ChatMessage{}, apperr.ErrMissingChatRef
	}

	now := r.now()
	msg := model.ChatMessage{
		SenderID:   sender.ID,
		SenderName: displayName(sender),
		Text:       text,
		Timestamp:  now.UnixMilli(),
	}
	id, err := r.tree.PushMessage(ctx, activityID, msg)
	if err != nil {
		return model.ChatMessage{}, apperr.Backend("send message", err)
	}
	msg.ID = id

	if r.touch != nil {
		if err := r.touch.TouchLastMessage(ctx, activityID, now); err != nil {
			r.log.Warn("failed to update activity last message time",
				zap.String("activity_id", activityID), zap.Error(err))
		}
	}

	r.sweep(ctx, activityID)
	return msg, nil
}

// CleanupExpired deletes messages older than the retention window and
// returns how many were removed.
func (r *Rooms) CleanupExpired(ctx context.Context, activityID string) (int, error) {
	raw, err := r.tree.Messages(ctx, activityID)
	if err != nil {
		return 0, apperr.Backend("read messages", err)
	}

	cutoff := r.now().Add(-r.retention).UnixMilli()
	var expired []string
	for _, msg := range ParseMessages(raw) {
		if msg.Timestamp < cutoff {
			expired = append(expired, msg.ID)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if err := r.tree.RemoveMessages(ctx, activityID, expired); err != nil {
		return 0, apperr.Backend("remove expired messages", err)
	}
	r.log.Info("expired chat messages removed",
		zap.String("activity_id", activityID), zap.Int("count", len(expired)))
	return len(expired), nil
}

// sweep runs CleanupExpired and only logs failures.
func (r *Rooms) sweep(ctx context.Context, activityID string) {
	if _, err := r.CleanupExpired(ctx, activityID); err != nil {
		r.log.Warn("expiration sweep failed", zap.String("activity_id", activityID), zap.Error(err))
	}
}

// SweepAll runs the expiration sweep over every room.
func (r *Rooms) SweepAll(ctx context.Context) (int, error) {
	ids, err := r.tree.RoomIDs(ctx)
	if err != nil {
		return 0, apperr.Backend("list chat rooms", err)
	}
	total := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := r.CleanupExpired(ctx, id)
		if err != nil {
			r.log.Warn("expiration sweep failed", zap.String("activity_id", id), zap.Error(err))
			continue
		}
		total += n
	}
	return total, nil
}

func systemMessage(text string, ts int64) model.ChatMessage {
	return model.ChatMessage{
		SenderID:   model.SystemSenderID,
		SenderName: "System",
		Text:       text,
		Timestamp:  ts,
	}
}

func displayName(u model.UserRef) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return "Someone"
}
