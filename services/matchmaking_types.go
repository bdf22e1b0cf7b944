package services

import (
	"encoding/json"
	"errors"
	"fmt"
)

// QueueEntry is one waiting player inside a queue sorted set. The JSON
// encoding of the whole struct is the set member, with the rating as score,
// so removal must always use the exact bytes that were read back.
type QueueEntry struct {
	PlayerID    string  `json:"player_id"`
	DisplayName string  `json:"display_name"`
	Rating      int     `json:"rating"`
	Tier        int     `json:"tier"` // 1-100 practice bucket
	Category    string  `json:"category"`
	Mode        string  `json:"mode"`
	AvatarURL   string  `json:"avatar_url,omitempty"`
	Frame       string  `json:"frame,omitempty"`
	Confidence  float64 `json:"confidence"` // 0-1, recent-practice signal
	IsReturning bool    `json:"is_returning"`
	JoinedAt    int64   `json:"joined_at"` // unix seconds
}

func (e *QueueEntry) Validate() error {
	if e.PlayerID == "" {
		return errors.New("queue entry missing player_id")
	}
	if e.Mode == "" || e.Category == "" {
		return errors.New("queue entry missing mode/category")
	}
	if e.Tier < 1 || e.Tier > 100 {
		return fmt.Errorf("queue entry tier %d out of range", e.Tier)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("queue entry confidence %.2f out of range", e.Confidence)
	}
	return nil
}

// DecodeQueueEntry rejects malformed members at the store boundary rather
// than letting half-formed entries flow into scoring.
func DecodeQueueEntry(raw string) (*QueueEntry, error) {
	var e QueueEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("malformed queue entry: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// MatchRecord is the immutable pairing payload. Three copies live in the
// match store: one pointer per human player (short TTL) and one canonical
// copy keyed by match id (long TTL).
type MatchRecord struct {
	MatchID   string          `json:"match_id"`
	Mode      string          `json:"mode"`
	Category  string          `json:"category"`
	PlayerA   QueueEntry      `json:"player_a"`
	PlayerB   QueueEntry      `json:"player_b"` // synthetic entry for AI matches
	IsAIMatch bool            `json:"is_ai_match"`
	Reasoning *MatchReasoning `json:"reasoning,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

func (r *MatchRecord) Validate() error {
	if r.MatchID == "" {
		return errors.New("match record missing match_id")
	}
	if r.PlayerA.PlayerID == "" || r.PlayerB.PlayerID == "" {
		return errors.New("match record missing participant")
	}
	return nil
}

// Opponent returns the other side of the match, or nil when playerID is not
// a participant.
func (r *MatchRecord) Opponent(playerID string) *QueueEntry {
	switch playerID {
	case r.PlayerA.PlayerID:
		return &r.PlayerB
	case r.PlayerB.PlayerID:
		return &r.PlayerA
	}
	return nil
}

func (r *MatchRecord) HasParticipant(playerID string) bool {
	return r.Opponent(playerID) != nil
}

func DecodeMatchRecord(raw string) (*MatchRecord, error) {
	var r MatchRecord
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("malformed match record: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// MatchReasoning explains why a pairing was made. Snapshotted once at
// match-creation time and carried verbatim onto the history row — it is
// never recomputed later, so it always reflects the actual decision.
type MatchReasoning struct {
	QualityScore     int      `json:"quality_score"` // 0-100, higher is better
	RatingDelta      int      `json:"rating_delta"`
	TierDelta        int      `json:"tier_delta"`
	BracketA         string   `json:"bracket_a"`
	BracketB         string   `json:"bracket_b"`
	WindowHalfWidth  int      `json:"window_half_width"`
	QueueSeconds     int      `json:"queue_seconds"`
	Factors          []string `json:"factors"`
}

// PerformanceStats is one side's in-match telemetry, fed to the rating
// engine. Composite is the 0-1000 summary score computed client-side from
// accuracy, speed and streak.
type PerformanceStats struct {
	Composite     int     `json:"composite"`       // 0-1000
	Accuracy      float64 `json:"accuracy"`        // 0-1
	AvgResponseMs int     `json:"avg_response_ms"`
	MaxStreak     int     `json:"max_streak"`
	CorrectCount  int     `json:"correct_count"`
}
