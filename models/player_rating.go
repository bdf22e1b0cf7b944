package models

import (
	"time"

	"gorm.io/gorm"
)

// PlayerRating is the durable rating state for one player in one
// (mode, category) ladder. Only the result-commit path mutates it.
type PlayerRating struct {
	ID             string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex:idx_player_ladder,priority:1;not null" json:"external_user_id"` // links to profile service
	Mode           string `gorm:"uniqueIndex:idx_player_ladder,priority:2;not null" json:"mode"`             // e.g. "solo", "duo"
	Category       string `gorm:"uniqueIndex:idx_player_ladder,priority:3;not null" json:"category"`

	Rating     int `json:"rating" gorm:"default:1000"`
	Wins       int `json:"wins" gorm:"default:0"`
	Losses     int `json:"losses" gorm:"default:0"`
	WinStreak  int `json:"win_streak" gorm:"default:0"`
	BestStreak int `json:"best_streak" gorm:"default:0"`

	// Placement: returning players get amplified rating swings for their
	// first PlacementMatchTotal matches. Counts down to zero.
	PlacementMatchesLeft int `json:"placement_matches_left" gorm:"default:0"`

	LastMatchAt *time.Time `json:"last_match_at,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
