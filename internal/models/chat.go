package models

import (
	"time"

	"github.com/lib/pq"
)

// ChatSession is a private pair or an administered group conversation.
type ChatSession struct {
	ID           string         `db:"id" json:"id"`
	Participants pq.StringArray `db:"participants" json:"participants"`
	IsGroup      bool           `db:"is_group" json:"is_group"`
	GroupName    *string        `db:"group_name" json:"group_name,omitempty"`
	GroupAdmin   *string        `db:"group_admin" json:"group_admin,omitempty"`
	PairKey      *string        `db:"pair_key" json:"-"`
	Version      int            `db:"version" json:"-"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// HasParticipant reports whether userID is a current member.
func (s ChatSession) HasParticipant(userID string) bool {
	for _, id := range s.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether userID administers the group.
func (s ChatSession) IsAdmin(userID string) bool {
	return s.IsGroup && s.GroupAdmin != nil && *s.GroupAdmin == userID
}

// UserSummary is the public profile attached to participants and senders.
type UserSummary struct {
	ID              string `db:"id" json:"id"`
	Name            string `db:"name" json:"name"`
	ProfileImageURL string `db:"profile_image_url" json:"profile_image_url,omitempty"`
}

// SessionView is a session with participant and admin ids expanded to profiles.
type SessionView struct {
	ID           string        `json:"id"`
	Participants []UserSummary `json:"participants"`
	IsGroup      bool          `json:"is_group"`
	GroupName    string        `json:"group_name,omitempty"`
	GroupAdmin   *UserSummary  `json:"group_admin,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
