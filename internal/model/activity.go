package model

import (
	"slices"
	"time"
)

type Category string

const (
	CategorySports   Category = "sports"
	CategoryFood     Category = "food"
	CategoryMusic    Category = "music"
	CategoryOutdoors Category = "outdoors"
	CategoryCulture  Category = "culture"
	CategoryGames    Category = "games"
	CategoryStudy    Category = "study"
	CategorySocial   Category = "social"
	CategoryOther    Category = "other"
)

var categories = []Category{
	CategorySports, CategoryFood, CategoryMusic, CategoryOutdoors, CategoryCulture,
	CategoryGames, CategoryStudy, CategorySocial, CategoryOther,
}

func (c Category) Valid() bool {
	return slices.Contains(categories, c)
}

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityFriends Visibility = "friends"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityFriends
}

type GeoPoint struct {
	Latitude  float64 `json:"latitude" bson:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude" validate:"longitude"`
}

type Activity struct {
	ID              string     `json:"id" bson:"_id"`
	Title           string     `json:"title" bson:"title"`
	Description     string     `json:"description" bson:"description"`
	Location        string     `json:"location" bson:"location"`
	Coordinates     *GeoPoint  `json:"coordinates,omitempty" bson:"coordinates,omitempty"`
	RoutePolyline   string     `json:"route_polyline,omitempty" bson:"route_polyline,omitempty"`
	ImageURL        string     `json:"image_url,omitempty" bson:"image_url,omitempty"`
	ScheduledAt     time.Time  `json:"scheduled_at" bson:"scheduled_at"`
	Category        Category   `json:"category" bson:"category"`
	CreatorID       string     `json:"creator_id" bson:"creator_id"`
	CreatorName     string     `json:"creator_name" bson:"creator_name"`
	ParticipantIDs  []string   `json:"participant_ids" bson:"participant_ids"`
	MaxParticipants *int       `json:"max_participants,omitempty" bson:"max_participants,omitempty"`
	Visibility      Visibility `json:"visibility" bson:"visibility"`
	CreatedAt       time.Time  `json:"created_at" bson:"created_at"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty" bson:"last_message_at,omitempty"`
}

func (a Activity) HasParticipant(userID string) bool {
	return slices.Contains(a.ParticipantIDs, userID)
}

func (a Activity) IsFull() bool {
	return a.MaxParticipants != nil && len(a.ParticipantIDs) >= *a.MaxParticipants
}

// SortKey is the time used to order activity lists: the latest chat message
// if any, otherwise the creation time.
func (a Activity) SortKey() time.Time {
	if a.LastMessageAt != nil && a.LastMessageAt.After(a.CreatedAt) {
		return *a.LastMessageAt
	}
	return a.CreatedAt
}

type NewActivity struct {
	Title           string     `json:"title" validate:"required"`
	Description     string     `json:"description" validate:"required"`
	Location        string     `json:"location" validate:"required"`
	Coordinates     *GeoPoint  `json:"coordinates,omitempty" validate:"omitempty"`
	RoutePolyline   string     `json:"route_polyline,omitempty"`
	ImageURL        string     `json:"image_url,omitempty" validate:"omitempty,url"`
	ScheduledAt     time.Time  `json:"scheduled_at" validate:"required"`
	Category        Category   `json:"category" validate:"required,category"`
	CreatorID       string     `json:"-" validate:"required"`
	CreatorName     string     `json:"-"`
	MaxParticipants *int       `json:"max_participants,omitempty" validate:"omitempty,min=1"`
	Visibility      Visibility `json:"visibility" validate:"visibility"`
}

type ActivityPatch struct {
	Title           *string     `json:"title,omitempty" validate:"omitempty,min=1"`
	Description     *string     `json:"description,omitempty" validate:"omitempty,min=1"`
	Location        *string     `json:"location,omitempty" validate:"omitempty,min=1"`
	Coordinates     *GeoPoint   `json:"coordinates,omitempty" validate:"omitempty"`
	RoutePolyline   *string     `json:"route_polyline,omitempty"`
	ImageURL        *string     `json:"image_url,omitempty" validate:"omitempty,url"`
	ScheduledAt     *time.Time  `json:"scheduled_at,omitempty"`
	Category        *Category   `json:"category,omitempty" validate:"omitempty,category"`
	MaxParticipants *int        `json:"max_participants,omitempty" validate:"omitempty,min=1"`
	Visibility      *Visibility `json:"visibility,omitempty" validate:"omitempty,visibility"`
}
