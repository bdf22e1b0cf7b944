package models

// ArenaMatch records one completed arena match. Exactly one row exists per
// match id — the unique index is the idempotency witness for result commit,
// a racing duplicate insert is dropped with ON CONFLICT DO NOTHING.
type ArenaMatch struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"` // match id, minted at pairing time
	Mode     string `gorm:"index;not null" json:"mode"`
	Category string `gorm:"index;not null" json:"category"`

	WinnerID string `gorm:"index;not null" json:"winner_id"`
	LoserID  string `gorm:"index;not null" json:"loser_id"` // synthetic id for AI opponents

	WinnerScore int `json:"winner_score"`
	LoserScore  int `json:"loser_score"`

	// Rating outcome (pre-calculated, never recomputed)
	WinnerDelta int `json:"winner_delta" gorm:"default:0"`
	LoserDelta  int `json:"loser_delta" gorm:"default:0"`
	WinnerCoins int `json:"winner_coins" gorm:"default:0"`
	LoserCoins  int `json:"loser_coins" gorm:"default:0"`

	IsAIMatch bool   `json:"is_ai_match" gorm:"default:false"`
	IsDraw    bool   `json:"is_draw" gorm:"default:false"`
	IsVoid    bool   `json:"is_void" gorm:"default:false"`
	Integrity string `json:"integrity" gorm:"type:varchar(16);default:'good'"` // good/degraded/failed

	// Serialized telemetry and pairing reasoning (JSON blobs)
	PerformancesJSON string `json:"performances_json" gorm:"type:text"`
	ReasoningJSON    string `json:"reasoning_json" gorm:"type:text"`

	Timestamps
}
