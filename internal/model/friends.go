package model

import "time"

type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "pending"
	FriendRequestAccepted FriendRequestStatus = "accepted"
	FriendRequestRejected FriendRequestStatus = "rejected"
)

type FriendRequest struct {
	ID          string              `json:"id" bson:"_id"`
	SenderID    string              `json:"sender_id" bson:"sender_id"`
	SenderName  string              `json:"sender_name" bson:"sender_name"`
	SenderPhoto string              `json:"sender_photo,omitempty" bson:"sender_photo,omitempty"`
	ReceiverID  string              `json:"receiver_id" bson:"receiver_id"`
	Status      FriendRequestStatus `json:"status" bson:"status"`
	CreatedAt   time.Time           `json:"created_at" bson:"created_at"`
}

func (r FriendRequest) Involves(a, b string) bool {
	return (r.SenderID == a && r.ReceiverID == b) || (r.SenderID == b && r.ReceiverID == a)
}

// FriendRequestFilter selects requests by sender or receiver.
type FriendRequestFilter struct {
	SenderID   string
	ReceiverID string
}

func (f FriendRequestFilter) Matches(r FriendRequest) bool {
	if f.SenderID != "" && r.SenderID != f.SenderID {
		return false
	}
	if f.ReceiverID != "" && r.ReceiverID != f.ReceiverID {
		return false
	}
	return true
}
