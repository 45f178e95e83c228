package friends

import (
	"context"

	"github.com/bwise1/meetup_api/internal/model"
)

// Repository covers the friendRequests collection and the friend-id lists
// on user profiles.
type Repository interface {
	CreateRequest(ctx context.Context, r model.FriendRequest) error
	// GetRequest returns apperr.ErrRequestNotFound when id does not exist.
	GetRequest(ctx context.Context, id string) (*model.FriendRequest, error)
	SetRequestStatus(ctx context.Context, id string, status model.FriendRequestStatus) error
	FindRequests(ctx context.Context, filter model.FriendRequestFilter) ([]model.FriendRequest, error)

	FriendIDs(ctx context.Context, userID string) ([]string, error)
	AddFriend(ctx context.Context, userID, friendID string) error
	RemoveFriend(ctx context.Context, userID, friendID string) error

	WatchFriendIDs(ctx context.Context, userID string, fn func([]string)) (func(), error)
	WatchRequests(ctx context.Context, filter model.FriendRequestFilter, fn func([]model.FriendRequest)) (func(), error)
}

// Notifier tells users about friend request events.
type Notifier interface {
	FriendRequestSent(ctx context.Context, r model.FriendRequest) error
	FriendRequestAccepted(ctx context.Context, r model.FriendRequest) error
}
