package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"game-arena-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Matchmaking tunables
const (
	// Rating window: starts narrow, widens the longer a player waits.
	WindowInitial      = 50
	WindowStep         = 30
	WindowIntervalSecs = 10
	WindowMax          = 400

	TierTolerance = 15

	// Scoring: lower cost = better pairing.
	BracketMismatchPenalty = 25
	HighRankThreshold      = 1800 // stricter pairing near the top of the ladder
	BothReturningBonus     = 15
	OneReturningPenalty    = 10

	// No human found within this queue time -> synthesize an opponent.
	AIFallbackSeconds = 30

	QueueKeyTTL     = 10 * time.Minute
	PendingMatchTTL = 5 * time.Minute
	MatchRecordTTL  = 1 * time.Hour
)

// Confidence brackets over the 0-1 recent-practice signal.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

func ConfidenceBracket(confidence float64) string {
	switch {
	case confidence < 0.30:
		return ConfidenceLow
	case confidence < 0.70:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}

// RatingWindow returns the current ± search half-width for a player who has
// been queued elapsedSeconds. Monotonically non-decreasing, capped.
func RatingWindow(elapsedSeconds int) int {
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}
	window := WindowInitial + (elapsedSeconds/WindowIntervalSecs)*WindowStep
	if window > WindowMax {
		window = WindowMax
	}
	return window
}

// MatchmakerService owns the queue and match stores. It never touches
// durable rating state.
type MatchmakerService struct {
	Queues  QueueStore
	Matches MatchStore
}

func NewMatchmakerService(queues QueueStore, matches MatchStore) *MatchmakerService {
	return &MatchmakerService{Queues: queues, Matches: matches}
}

// MatchCheckResult is the outcome of one poll.
type MatchCheckResult struct {
	Matched bool
	Record  *MatchRecord
}

// JoinQueue idempotently (re)inserts the player into the queue for the
// entry's (mode, category): stale members for the same player are removed
// first so at most one entry per player exists in the key. Returns the
// 1-based queue position.
func (s *MatchmakerService) JoinQueue(ctx context.Context, entry QueueEntry) (int64, error) {
	if err := entry.Validate(); err != nil {
		return 0, err
	}
	entry.JoinedAt = time.Now().Unix()

	key := utils.QueueKey(entry.Mode, entry.Category)

	if err := s.removePlayerMembers(ctx, key, entry.PlayerID); err != nil {
		return 0, err
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return 0, err
	}
	if err := s.Queues.Enqueue(ctx, key, string(raw), float64(entry.Rating)); err != nil {
		return 0, err
	}
	// Rolling expiry so abandoned queues get reclaimed.
	if err := s.Queues.TouchExpiry(ctx, key, QueueKeyTTL); err != nil {
		log.Printf("[MATCHMAKER] failed to touch expiry on %s: %v", key, err)
	}

	rank, err := s.Queues.Rank(ctx, key, string(raw))
	if err != nil || rank < 0 {
		return 1, nil
	}
	return rank + 1, nil
}

// LeaveQueue removes all of the player's entries from the queue key.
func (s *MatchmakerService) LeaveQueue(ctx context.Context, playerID, mode, category string) error {
	key := utils.QueueKey(mode, category)
	return s.removePlayerMembers(ctx, key, playerID)
}

// CheckForMatch is the poll operation. Store failures degrade to "not
// matched yet" — the client keeps polling and the next poll retries.
func (s *MatchmakerService) CheckForMatch(ctx context.Context, self QueueEntry, elapsedSeconds int) MatchCheckResult {
	// 1. Idempotent poll: an existing pending pointer wins outright. This
	// also guards the AI fallback against re-triggering.
	if rec := s.pendingMatch(ctx, self.PlayerID); rec != nil {
		return MatchCheckResult{Matched: true, Record: rec}
	}

	window := RatingWindow(elapsedSeconds)
	key := utils.QueueKey(self.Mode, self.Category)

	members, err := s.Queues.RangeByScore(ctx, key,
		float64(self.Rating-window), float64(self.Rating+window))
	if err != nil {
		log.Printf("[MATCHMAKER] queue scan failed for %s: %v", key, err)
		return MatchCheckResult{}
	}

	best, bestCost := s.pickCandidate(ctx, self, members)

	if best != nil {
		rec := s.commitMatch(ctx, key, self, best, bestCost, window, elapsedSeconds)
		if rec != nil {
			return MatchCheckResult{Matched: true, Record: rec}
		}
		// Fall through: commit failed, next poll retries.
		return MatchCheckResult{}
	}

	if elapsedSeconds >= AIFallbackSeconds {
		rec := s.createBotMatch(ctx, key, self, elapsedSeconds)
		if rec != nil {
			return MatchCheckResult{Matched: true, Record: rec}
		}
	}

	return MatchCheckResult{}
}

type scoredCandidate struct {
	raw   string
	entry *QueueEntry
}

// pickCandidate filters and scores the windowed members, returning the
// lowest-cost survivor.
func (s *MatchmakerService) pickCandidate(ctx context.Context, self QueueEntry, members []ScoredMember) (*scoredCandidate, float64) {
	var best *scoredCandidate
	bestCost := math.MaxFloat64

	for _, m := range members {
		cand, err := DecodeQueueEntry(m.Member)
		if err != nil {
			// Malformed members are skipped, never fatal; the sweeper
			// clears them out.
			log.Printf("[MATCHMAKER] skipping bad queue member: %v", err)
			continue
		}
		if cand.PlayerID == self.PlayerID {
			continue
		}
		// Deterministic leader rule: only the lexicographically smaller id
		// creates the match for a pair. The other player's own poll would
		// otherwise race us into a second match.
		if self.PlayerID > cand.PlayerID {
			continue
		}
		if absInt(cand.Tier-self.Tier) > TierTolerance {
			continue
		}
		// Race protection: candidate already committed elsewhere.
		if rec := s.pendingMatch(ctx, cand.PlayerID); rec != nil {
			continue
		}

		cost := pairingCost(self, *cand)
		if cost < bestCost {
			bestCost = cost
			best = &scoredCandidate{raw: m.Member, entry: cand}
		}
	}
	return best, bestCost
}

// pairingCost is the multi-factor match score; lower is better.
func pairingCost(a, b QueueEntry) float64 {
	cost := float64(absInt(a.Rating - b.Rating))

	if ConfidenceBracket(a.Confidence) != ConfidenceBracket(b.Confidence) {
		penalty := float64(BracketMismatchPenalty)
		if a.Rating >= HighRankThreshold || b.Rating >= HighRankThreshold {
			penalty *= 2
		}
		cost += penalty
	}

	if a.IsReturning && b.IsReturning {
		cost -= BothReturningBonus
	} else if a.IsReturning != b.IsReturning {
		cost += OneReturningPenalty
	}

	return cost
}

// commitMatch removes both entries from the queue and writes the match
// record (canonical + both pointers). Any store failure aborts and returns
// nil; neither player is lost — whichever entry survived keeps polling.
func (s *MatchmakerService) commitMatch(ctx context.Context, key string, self QueueEntry, cand *scoredCandidate, cost float64, window, elapsedSeconds int) *MatchRecord {
	// Re-read our own current entry: the client may have re-joined with a
	// fresher rating since this poll started.
	selfRaw, selfEntry, err := s.findPlayerMember(ctx, key, self.PlayerID)
	if err != nil {
		log.Printf("[MATCHMAKER] self re-read failed: %v", err)
		return nil
	}
	if selfEntry == nil {
		// We left the queue mid-poll; nothing to commit.
		return nil
	}

	// Candidate first: a ZREM count of 0 means they left (or were matched)
	// between the scan and now, so there is nobody to pair with.
	removed, err := s.Queues.Dequeue(ctx, key, cand.raw)
	if err != nil {
		log.Printf("[MATCHMAKER] candidate dequeue failed: %v", err)
		return nil
	}
	if removed == 0 {
		return nil
	}
	if n, err := s.Queues.Dequeue(ctx, key, selfRaw); err != nil || n == 0 {
		// Our own entry vanished mid-commit; put the candidate back.
		if enqErr := s.Queues.Enqueue(ctx, key, cand.raw, float64(cand.entry.Rating)); enqErr != nil {
			log.Printf("[MATCHMAKER] candidate re-enqueue failed: %v", enqErr)
		}
		return nil
	}

	rec := &MatchRecord{
		MatchID:   uuid.NewString(),
		Mode:      self.Mode,
		Category:  self.Category,
		PlayerA:   *selfEntry,
		PlayerB:   *cand.entry,
		IsAIMatch: false,
		Reasoning: buildReasoning(*selfEntry, *cand.entry, cost, window, elapsedSeconds),
		CreatedAt: time.Now().Unix(),
	}

	if err := s.writeMatchRecord(ctx, rec, true); err != nil {
		log.Printf("[MATCHMAKER] match write failed for %s: %v", rec.MatchID, err)
		return nil
	}

	log.Printf("[MATCHMAKER] matched %s vs %s (match %s, cost %.0f)",
		selfEntry.PlayerID, cand.entry.PlayerID, rec.MatchID, cost)
	return rec
}

// buildReasoning snapshots why the pairing was made, at creation time only.
func buildReasoning(a, b QueueEntry, cost float64, window, elapsedSeconds int) *MatchReasoning {
	quality := 100 - int(math.Round(cost))
	if quality < 0 {
		quality = 0
	}
	if quality > 100 {
		quality = 100
	}

	factors := []string{fmt.Sprintf("rating_diff=%d", absInt(a.Rating-b.Rating))}
	bracketA, bracketB := ConfidenceBracket(a.Confidence), ConfidenceBracket(b.Confidence)
	if bracketA != bracketB {
		factors = append(factors, "confidence_mismatch")
	}
	if a.Rating >= HighRankThreshold || b.Rating >= HighRankThreshold {
		factors = append(factors, "high_rank_strictness")
	}
	if a.IsReturning && b.IsReturning {
		factors = append(factors, "both_placement")
	} else if a.IsReturning != b.IsReturning {
		factors = append(factors, "placement_mismatch")
	}

	return &MatchReasoning{
		QualityScore:    quality,
		RatingDelta:     absInt(a.Rating - b.Rating),
		TierDelta:       absInt(a.Tier - b.Tier),
		BracketA:        bracketA,
		BracketB:        bracketB,
		WindowHalfWidth: window,
		QueueSeconds:    elapsedSeconds,
		Factors:         factors,
	}
}

var (
	botNames   = []string{"Nova", "Quill", "Sable", "Juno", "Vex", "Marlow"}
	botAvatars = []string{"bot_owl", "bot_fox", "bot_lynx", "bot_raven"}
)

// createBotMatch synthesizes an opponent after the AI-fallback timeout.
// Only the canonical record and the requester's pointer are written — there
// is no second human to point at.
func (s *MatchmakerService) createBotMatch(ctx context.Context, key string, self QueueEntry, elapsedSeconds int) *MatchRecord {
	selfRaw, selfEntry, err := s.findPlayerMember(ctx, key, self.PlayerID)
	if err != nil {
		log.Printf("[MATCHMAKER] self re-read failed: %v", err)
		return nil
	}
	if selfEntry == nil {
		return nil
	}
	if n, err := s.Queues.Dequeue(ctx, key, selfRaw); err != nil || n == 0 {
		if err != nil {
			log.Printf("[MATCHMAKER] self dequeue failed: %v", err)
		}
		return nil
	}

	bot := QueueEntry{
		PlayerID:    "ai:" + uuid.NewString(),
		DisplayName: botNames[rand.Intn(len(botNames))],
		Rating:      selfEntry.Rating + rand.Intn(151) - 75,
		Tier:        clampTier(selfEntry.Tier + rand.Intn(11) - 5),
		Category:    selfEntry.Category,
		Mode:        selfEntry.Mode,
		AvatarURL:   botAvatars[rand.Intn(len(botAvatars))],
		Confidence:  0.8, // treated as established
		IsReturning: false,
		JoinedAt:    time.Now().Unix(),
	}

	rec := &MatchRecord{
		MatchID:   uuid.NewString(),
		Mode:      selfEntry.Mode,
		Category:  selfEntry.Category,
		PlayerA:   *selfEntry,
		PlayerB:   bot,
		IsAIMatch: true,
		Reasoning: buildReasoning(*selfEntry, bot, float64(absInt(selfEntry.Rating-bot.Rating)), RatingWindow(elapsedSeconds), elapsedSeconds),
		CreatedAt: time.Now().Unix(),
	}

	if err := s.writeMatchRecord(ctx, rec, false); err != nil {
		log.Printf("[MATCHMAKER] bot match write failed for %s: %v", rec.MatchID, err)
		return nil
	}

	log.Printf("[MATCHMAKER] AI fallback for %s after %ds (match %s)",
		selfEntry.PlayerID, elapsedSeconds, rec.MatchID)
	return rec
}

// writeMatchRecord stores the canonical copy plus pointer copies. Pointer
// TTLs are short (a client poll just needs to find its own match), the
// canonical copy lives long enough for result commit to re-derive context.
func (s *MatchmakerService) writeMatchRecord(ctx context.Context, rec *MatchRecord, bothPointers bool) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.Matches.PutRecord(ctx, utils.MatchKey(rec.MatchID), string(raw), MatchRecordTTL); err != nil {
		return err
	}
	if err := s.Matches.PutRecord(ctx, utils.PendingMatchKey(rec.PlayerA.PlayerID), string(raw), PendingMatchTTL); err != nil {
		return err
	}
	if bothPointers {
		if err := s.Matches.PutRecord(ctx, utils.PendingMatchKey(rec.PlayerB.PlayerID), string(raw), PendingMatchTTL); err != nil {
			return err
		}
	}
	return nil
}

// pendingMatch returns the player's pending match record, or nil. Store
// errors read as "no pending match" — the caller treats that as not-yet.
func (s *MatchmakerService) pendingMatch(ctx context.Context, playerID string) *MatchRecord {
	raw, err := s.Matches.GetRecord(ctx, utils.PendingMatchKey(playerID))
	if err != nil || raw == "" {
		return nil
	}
	rec, err := DecodeMatchRecord(raw)
	if err != nil {
		log.Printf("[MATCHMAKER] dropping bad pending record for %s: %v", playerID, err)
		_ = s.Matches.DeleteRecord(ctx, utils.PendingMatchKey(playerID))
		return nil
	}
	return rec
}

// findPlayerMember scans the whole key for the player's entry and returns
// the exact member bytes so removal hits the stored value.
func (s *MatchmakerService) findPlayerMember(ctx context.Context, key, playerID string) (string, *QueueEntry, error) {
	members, err := s.Queues.RangeByScore(ctx, key, math.Inf(-1), math.Inf(1))
	if err != nil {
		return "", nil, err
	}
	for _, m := range members {
		entry, err := DecodeQueueEntry(m.Member)
		if err != nil {
			continue
		}
		if entry.PlayerID == playerID {
			return m.Member, entry, nil
		}
	}
	return "", nil, nil
}

func (s *MatchmakerService) removePlayerMembers(ctx context.Context, key, playerID string) error {
	members, err := s.Queues.RangeByScore(ctx, key, math.Inf(-1), math.Inf(1))
	if err != nil {
		return err
	}
	for _, m := range members {
		entry, decodeErr := DecodeQueueEntry(m.Member)
		if decodeErr != nil {
			// Unparseable members can never be matched; clear them.
			_, _ = s.Queues.Dequeue(ctx, key, m.Member)
			continue
		}
		if entry.PlayerID == playerID {
			if _, err := s.Queues.Dequeue(ctx, key, m.Member); err != nil {
				return err
			}
		}
	}
	return nil
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func clampTier(t int) int {
	if t < 1 {
		return 1
	}
	if t > 100 {
		return 100
	}
	return t
}

// --- Fiber handlers ---

type queueRequest struct {
	Mode        string  `json:"mode"`
	Category    string  `json:"category"`
	Rating      int     `json:"rating"`
	Tier        int     `json:"tier"`
	DisplayName string  `json:"display_name"`
	AvatarURL   string  `json:"avatar_url"`
	Frame       string  `json:"frame"`
	Confidence  float64 `json:"confidence"`
	IsReturning bool    `json:"is_returning"`
}

type checkRequest struct {
	Mode                string  `json:"mode"`
	Category            string  `json:"category"`
	Rating              int     `json:"rating"`
	Tier                int     `json:"tier"`
	DisplayName         string  `json:"display_name"`
	Confidence          float64 `json:"confidence"`
	IsReturning         bool    `json:"is_returning"`
	QueueElapsedSeconds int     `json:"queue_elapsed_seconds"`
}

func (r *checkRequest) toEntry(playerID string) QueueEntry {
	return QueueEntry{
		PlayerID:    playerID,
		DisplayName: r.DisplayName,
		Rating:      r.Rating,
		Tier:        r.Tier,
		Category:    r.Category,
		Mode:        r.Mode,
		Confidence:  r.Confidence,
		IsReturning: r.IsReturning,
	}
}

func (r *queueRequest) toEntry(playerID string) QueueEntry {
	return QueueEntry{
		PlayerID:    playerID,
		DisplayName: r.DisplayName,
		Rating:      r.Rating,
		Tier:        r.Tier,
		Category:    r.Category,
		Mode:        r.Mode,
		AvatarURL:   r.AvatarURL,
		Frame:       r.Frame,
		Confidence:  r.Confidence,
		IsReturning: r.IsReturning,
	}
}

// HandleJoinQueue — POST /arena/queue/join
func (s *MatchmakerService) HandleJoinQueue(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req queueRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	position, err := s.JoinQueue(c.Context(), req.toEntry(userID))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"queue_position": position})
}

// HandleLeaveQueue — POST /arena/queue/leave
func (s *MatchmakerService) HandleLeaveQueue(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req struct {
		Mode     string `json:"mode"`
		Category string `json:"category"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}

	if err := s.LeaveQueue(c.Context(), userID, req.Mode, req.Category); err != nil {
		log.Printf("[MATCHMAKER] leave queue failed for %s: %v", userID, err)
		// Leaving is best-effort; the entry ages out either way.
	}
	return c.JSON(fiber.Map{"ok": true})
}

// HandleCheckForMatch — POST /arena/queue/check, polled by waiting clients.
func (s *MatchmakerService) HandleCheckForMatch(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req checkRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}

	result := s.CheckForMatch(c.Context(), req.toEntry(userID), req.QueueElapsedSeconds)
	if !result.Matched {
		return c.JSON(fiber.Map{"matched": false})
	}

	opponent := result.Record.Opponent(userID)
	return c.JSON(fiber.Map{
		"matched":     true,
		"match_id":    result.Record.MatchID,
		"is_ai_match": result.Record.IsAIMatch,
		"opponent": fiber.Map{
			"player_id":    opponent.PlayerID,
			"display_name": opponent.DisplayName,
			"rating":       opponent.Rating,
			"tier":         opponent.Tier,
			"avatar_url":   opponent.AvatarURL,
			"frame":        opponent.Frame,
		},
		"reasoning": result.Record.Reasoning,
	})
}
