package model

// SystemSenderID marks synthetic join/leave/welcome messages.
const SystemSenderID = "system"

type ChatMember struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	JoinedAt    int64  `json:"joined_at"`
}

// ChatRoom is the realtime record tracking membership of one activity's chat.
type ChatRoom struct {
	ActivityID string                `json:"activity_id"`
	Members    map[string]ChatMember `json:"members"`
	CreatedAt  int64                 `json:"created_at"`
}

func (r ChatRoom) HasMember(userID string) bool {
	_, ok := r.Members[userID]
	return ok
}

// ChatMessage timestamps are unix milliseconds.
type ChatMessage struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

func (m ChatMessage) IsSystem() bool {
	return m.SenderID == SystemSenderID
}

// UnreadSummary is pushed to clients whenever unread counts change.
type UnreadSummary struct {
	PerActivity map[string]int `json:"per_activity"`
	Total       int            `json:"total"`
}
