package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"game-arena-system/models"
	"game-arena-system/utils"

	"github.com/gofiber/fiber/v2"
)

// Connection-integrity flags reported with a result submission.
const (
	IntegrityGood     = "good"
	IntegrityDegraded = "degraded"
	IntegrityFailed   = "failed"
)

const (
	SaveLockTTL    = 10 * time.Second
	lockRetryDelay = 150 * time.Millisecond
	lockRetryCount = 10

	CoinsPerCorrect = 10
	WinCoinBonus    = 50
)

var (
	ErrMatchNotFound  = errors.New("match not found")
	ErrNotParticipant = errors.New("caller is not a match participant")
	ErrSaveInProgress = errors.New("result save in progress, retry shortly")
	ErrInvalidResult  = errors.New("winner/loser do not match the match record")
)

// ResultService applies a finished match exactly once: save lock to avoid
// duplicate work, history-row existence check as the correctness backstop.
type ResultService struct {
	Matches  MatchStore
	Profiles ProfileStore
}

func NewResultService(matches MatchStore, profiles ProfileStore) *ResultService {
	return &ResultService{Matches: matches, Profiles: profiles}
}

// SaveResultRequest is one client's submission of a finished match.
type SaveResultRequest struct {
	MatchID     string           `json:"match_id"`
	WinnerID    string           `json:"winner_id"`
	LoserID     string           `json:"loser_id"`
	WinnerScore int              `json:"winner_score"`
	LoserScore  int              `json:"loser_score"`
	WinnerPerf  PerformanceStats `json:"winner_perf"`
	LoserPerf   PerformanceStats `json:"loser_perf"`
	Mode        string           `json:"mode"`
	Category    string           `json:"category"`
	Integrity   string           `json:"integrity"`
	IsDraw      bool             `json:"is_draw"`
}

// SaveResultResponse carries both deltas and coin totals; identical for the
// first and any duplicate submission of the same match id.
type SaveResultResponse struct {
	MatchID     string `json:"match_id"`
	WinnerDelta int    `json:"winner_delta"`
	LoserDelta  int    `json:"loser_delta"`
	WinnerCoins int    `json:"winner_coins"`
	LoserCoins  int    `json:"loser_coins"`
	IsVoid      bool   `json:"is_void"`
	IsDraw      bool   `json:"is_draw"`
	VoidReason  string `json:"void_reason,omitempty"`
	Duplicate   bool   `json:"duplicate"`
}

func isBotID(playerID string) bool {
	return strings.HasPrefix(playerID, "ai:")
}

// SaveMatchResult commits a finished match at most once. Both participants
// submit; whoever loses the lock race gets the committed row's numbers back.
func (s *ResultService) SaveMatchResult(ctx context.Context, callerID string, req SaveResultRequest) (*SaveResultResponse, error) {
	rec, err := s.loadRecord(ctx, req.MatchID)
	if err != nil {
		return nil, err
	}
	if rec != nil && !rec.HasParticipant(callerID) {
		return nil, ErrNotParticipant
	}
	if rec != nil && (!rec.HasParticipant(req.WinnerID) || !rec.HasParticipant(req.LoserID) || req.WinnerID == req.LoserID) {
		return nil, ErrInvalidResult
	}

	lockKey := utils.SaveLockKey(req.MatchID)
	acquired, err := s.Matches.AcquireLock(ctx, lockKey, SaveLockTTL)
	if err != nil {
		// Lock store down: the insert-if-absent write below is still the
		// correctness guard, so proceed without the lock.
		log.Printf("[RESULT] lock acquire failed for %s, continuing unlocked: %v", req.MatchID, err)
		acquired = true
	}
	if !acquired {
		// The other client is committing. Wait for its history row.
		for i := 0; i < lockRetryCount; i++ {
			time.Sleep(lockRetryDelay)
			existing, err := s.Profiles.GetMatch(ctx, req.MatchID)
			if err == nil && existing != nil {
				if !rowParticipant(existing, callerID) {
					return nil, ErrNotParticipant
				}
				return responseFromRow(existing, true), nil
			}
		}
		return nil, ErrSaveInProgress
	}
	defer func() {
		if err := s.Matches.ReleaseLock(ctx, lockKey); err != nil {
			log.Printf("[RESULT] lock release failed for %s: %v", req.MatchID, err)
		}
	}()

	// Re-check after acquiring: a previous attempt may have completed
	// between our first look and the lock. The canonical record can have
	// aged out by now, so the row itself is the authorization source.
	if existing, err := s.Profiles.GetMatch(ctx, req.MatchID); err != nil {
		return nil, err
	} else if existing != nil {
		if !rowParticipant(existing, callerID) {
			return nil, ErrNotParticipant
		}
		return responseFromRow(existing, true), nil
	}

	// The canonical record can have aged out of the match store; without it
	// (and without a history row) there is nothing to verify against.
	if rec == nil {
		return nil, ErrMatchNotFound
	}

	resp, err := s.commit(ctx, rec, req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// loadRecord pulls the canonical match record; absence is not an error here,
// the caller decides once the history table has been consulted.
func (s *ResultService) loadRecord(ctx context.Context, matchID string) (*MatchRecord, error) {
	raw, err := s.Matches.GetRecord(ctx, utils.MatchKey(matchID))
	if err != nil || raw == "" {
		return nil, nil
	}
	rec, decodeErr := DecodeMatchRecord(raw)
	if decodeErr != nil {
		log.Printf("[RESULT] bad canonical record for %s: %v", matchID, decodeErr)
		return nil, nil
	}
	return rec, nil
}

func (s *ResultService) commit(ctx context.Context, rec *MatchRecord, req SaveResultRequest) (*SaveResultResponse, error) {
	integrity := req.Integrity
	if integrity == "" {
		integrity = IntegrityGood
	}

	// One up-front ratable decision; everything downstream just reads it.
	humanTier := 0
	if rec.IsAIMatch {
		for _, p := range []QueueEntry{rec.PlayerA, rec.PlayerB} {
			if !isBotID(p.PlayerID) {
				humanTier = p.Tier
			}
		}
	}
	voidReason := VoidReason(req.IsDraw, integrity, rec.IsAIMatch, humanTier)
	isVoid := voidReason != ""

	winnerCoins, loserCoins := coinRewards(req.WinnerPerf.CorrectCount, req.LoserPerf.CorrectCount, req.IsDraw)

	winnerDelta, loserDelta := 0, 0
	var updates []RatingUpdate
	if !isVoid {
		var err error
		winnerDelta, loserDelta, updates, err = s.ratingUpdates(ctx, rec, req)
		if err != nil {
			return nil, err
		}
	} else {
		// Void matches still get a history row; ratings stay untouched.
		log.Printf("[RESULT] match %s void (%s), deltas zeroed", rec.MatchID, voidReason)
	}

	perfsJSON, _ := json.Marshal(fiber.Map{"winner": req.WinnerPerf, "loser": req.LoserPerf})
	reasoningJSON := ""
	if rec.Reasoning != nil {
		if b, err := json.Marshal(rec.Reasoning); err == nil {
			reasoningJSON = string(b)
		}
	}

	row := &models.ArenaMatch{
		ID:               rec.MatchID,
		Mode:             rec.Mode,
		Category:         rec.Category,
		WinnerID:         req.WinnerID,
		LoserID:          req.LoserID,
		WinnerScore:      req.WinnerScore,
		LoserScore:       req.LoserScore,
		WinnerDelta:      winnerDelta,
		LoserDelta:       loserDelta,
		WinnerCoins:      winnerCoins,
		LoserCoins:       loserCoins,
		IsAIMatch:        rec.IsAIMatch,
		IsDraw:           req.IsDraw,
		IsVoid:           isVoid,
		Integrity:        integrity,
		PerformancesJSON: string(perfsJSON),
		ReasoningJSON:    reasoningJSON,
	}
	inserted, err := s.Profiles.CommitMatchResult(ctx, row, updates)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// A racing submitter's row landed between our re-check and the
		// commit; hand back its numbers, not our recomputed ones.
		existing, err := s.Profiles.GetMatch(ctx, rec.MatchID)
		if err == nil && existing != nil {
			return responseFromRow(existing, true), nil
		}
		return nil, ErrSaveInProgress
	}

	// The canonical pointer copies are no longer needed once the row
	// exists; clear them so polls stop reporting a pending match.
	for _, p := range []QueueEntry{rec.PlayerA, rec.PlayerB} {
		if !isBotID(p.PlayerID) {
			_ = s.Matches.DeleteRecord(ctx, utils.PendingMatchKey(p.PlayerID))
		}
	}

	log.Printf("[RESULT] committed match %s: winner %s %+d, loser %s %+d",
		rec.MatchID, req.WinnerID, winnerDelta, req.LoserID, loserDelta)

	return &SaveResultResponse{
		MatchID:     rec.MatchID,
		WinnerDelta: winnerDelta,
		LoserDelta:  loserDelta,
		WinnerCoins: winnerCoins,
		LoserCoins:  loserCoins,
		IsVoid:      isVoid,
		IsDraw:      req.IsDraw,
		VoidReason:  voidReason,
	}, nil
}

// ratingUpdates computes both real sides' deltas and the durable updates to
// apply. Nothing is persisted here; the commit transaction does that, so a
// failure can never leave one side updated without the other.
func (s *ResultService) ratingUpdates(ctx context.Context, rec *MatchRecord, req SaveResultRequest) (int, int, []RatingUpdate, error) {
	type side struct {
		id    string
		perf  PerformanceStats
		won   bool
		delta int
	}
	sides := []*side{
		{id: req.WinnerID, perf: req.WinnerPerf, won: true},
		{id: req.LoserID, perf: req.LoserPerf, won: false},
	}

	// Current durable ratings drive the formula; the queue-time snapshot in
	// the record is only a fallback for the synthetic side.
	ratings := make(map[string]int)
	states := make(map[string]*models.PlayerRating)
	for _, sd := range sides {
		if isBotID(sd.id) {
			// Bot rating comes from its pairing-time snapshot.
			snapshot := rec.PlayerA
			if rec.PlayerB.PlayerID == sd.id {
				snapshot = rec.PlayerB
			}
			ratings[sd.id] = snapshot.Rating
			continue
		}
		state, err := s.Profiles.GetOrCreateRating(ctx, sd.id, rec.Mode, rec.Category)
		if err != nil {
			return 0, 0, nil, err
		}
		states[sd.id] = state
		ratings[sd.id] = state.Rating
	}

	var updates []RatingUpdate
	for i, sd := range sides {
		if isBotID(sd.id) {
			continue
		}
		opponent := sides[1-i]
		state := states[sd.id]

		k := EffectiveKFactor(state.PlacementMatchesLeft)
		breakdown := ComputeDelta(ratings[sd.id], ratings[opponent.id], sd.won, sd.perf, k)
		sd.delta = breakdown.Delta

		updates = append(updates, RatingUpdate{
			PlayerID:  sd.id,
			Mode:      rec.Mode,
			Category:  rec.Category,
			NewRating: ClampRating(state.Rating + sd.delta),
			Won:       sd.won,
			IsDraw:    false,
		})
	}

	return sides[0].delta, sides[1].delta, updates, nil
}

func rowParticipant(row *models.ArenaMatch, playerID string) bool {
	return playerID == row.WinnerID || playerID == row.LoserID
}

// coinRewards is deliberately simple arithmetic over correct-answer counts.
func coinRewards(winnerCorrect, loserCorrect int, isDraw bool) (int, int) {
	winnerCoins := winnerCorrect * CoinsPerCorrect
	loserCoins := loserCorrect * CoinsPerCorrect
	if isDraw {
		winnerCoins += WinCoinBonus / 2
		loserCoins += WinCoinBonus / 2
	} else {
		winnerCoins += WinCoinBonus
	}
	return winnerCoins, loserCoins
}

func responseFromRow(row *models.ArenaMatch, duplicate bool) *SaveResultResponse {
	return &SaveResultResponse{
		MatchID:     row.ID,
		WinnerDelta: row.WinnerDelta,
		LoserDelta:  row.LoserDelta,
		WinnerCoins: row.WinnerCoins,
		LoserCoins:  row.LoserCoins,
		IsVoid:      row.IsVoid,
		IsDraw:      row.IsDraw,
		Duplicate:   duplicate,
	}
}

// --- Fiber handlers ---

// HandleSaveResult — POST /arena/result
func (s *ResultService) HandleSaveResult(c *fiber.Ctx) error {
	callerID := c.Locals("user_id").(string)

	var req SaveResultRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.MatchID == "" || req.WinnerID == "" || req.LoserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "match_id, winner_id and loser_id are required"})
	}

	resp, err := s.SaveMatchResult(c.Context(), callerID, req)
	switch {
	case errors.Is(err, ErrNotParticipant):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrMatchNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrInvalidResult):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrSaveInProgress):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		log.Printf("[RESULT] save failed for %s: %v", req.MatchID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save match result"})
	}

	return c.JSON(resp)
}

// HandleGetRating — GET /arena/rating?mode=&category=
func (s *ResultService) HandleGetRating(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	mode := c.Query("mode", "solo")
	category := c.Query("category", "general")

	rating, err := s.Profiles.GetOrCreateRating(c.Context(), userID, mode, category)
	if err != nil {
		log.Printf("[RESULT] rating fetch failed for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch rating"})
	}
	return c.JSON(rating)
}

// HandleGetHistory — GET /arena/history?limit=
func (s *ResultService) HandleGetHistory(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	matches, err := s.Profiles.RecentMatches(c.Context(), userID, limit)
	if err != nil {
		log.Printf("[RESULT] history fetch failed for %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch match history"})
	}
	return c.JSON(fiber.Map{"matches": matches, "count": len(matches)})
}
