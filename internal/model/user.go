package model

import (
	"slices"
	"time"
)

type UserProfile struct {
	ID          string    `json:"id" bson:"_id"`
	DisplayName string    `json:"display_name" bson:"display_name"`
	Email       string    `json:"email" bson:"email"`
	PhotoURL    string    `json:"photo_url,omitempty" bson:"photo_url,omitempty"`
	Bio         string    `json:"bio,omitempty" bson:"bio,omitempty"`
	Location    string    `json:"location,omitempty" bson:"location,omitempty"`
	Interests   []string  `json:"interests" bson:"interests"`
	FriendIDs   []string  `json:"friend_ids" bson:"friend_ids"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	LastLoginAt time.Time `json:"last_login_at" bson:"last_login_at"`
}

func (p UserProfile) IsFriend(userID string) bool {
	return slices.Contains(p.FriendIDs, userID)
}

// ProfilePatch is a partial profile; nil fields are left untouched.
type ProfilePatch struct {
	DisplayName *string   `json:"display_name,omitempty" validate:"omitempty,min=1,max=60"`
	PhotoURL    *string   `json:"photo_url,omitempty" validate:"omitempty,url"`
	Bio         *string   `json:"bio,omitempty" validate:"omitempty,max=500"`
	Location    *string   `json:"location,omitempty" validate:"omitempty,max=120"`
	Interests   *[]string `json:"interests,omitempty" validate:"omitempty,max=20"`
}

// Apply merges the patch into p.
func (patch ProfilePatch) Apply(p *UserProfile) {
	if patch.DisplayName != nil {
		p.DisplayName = *patch.DisplayName
	}
	if patch.PhotoURL != nil {
		p.PhotoURL = *patch.PhotoURL
	}
	if patch.Bio != nil {
		p.Bio = *patch.Bio
	}
	if patch.Location != nil {
		p.Location = *patch.Location
	}
	if patch.Interests != nil {
		p.Interests = slices.Clone(*patch.Interests)
	}
}

// AuthUser is the identity established by the auth provider for a session.
type AuthUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// UserRef identifies a user together with the name shown to others.
type UserRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
}
