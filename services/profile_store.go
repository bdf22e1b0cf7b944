package services

import (
	"context"
	"errors"
	"time"

	"game-arena-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RatingUpdate is one side's durable outcome, applied in a single update.
type RatingUpdate struct {
	PlayerID  string
	Mode      string
	Category  string
	NewRating int
	Won       bool
	IsDraw    bool
}

// ProfileStore is the durable store boundary: player rating state and the
// match-history table. GORM in production, a fake in tests.
type ProfileStore interface {
	GetOrCreateRating(ctx context.Context, playerID, mode, category string) (*models.PlayerRating, error)
	// GetMatch returns (nil, nil) when no row exists for the match id.
	GetMatch(ctx context.Context, matchID string) (*models.ArenaMatch, error)
	// CommitMatchResult inserts the history row and applies the rating
	// updates in a single transaction. The insert is insert-if-absent and
	// gates the updates: when the row already exists (a racing submitter
	// won), nothing is written and inserted is false.
	CommitMatchResult(ctx context.Context, row *models.ArenaMatch, updates []RatingUpdate) (inserted bool, err error)
	RecentMatches(ctx context.Context, playerID string, limit int) ([]models.ArenaMatch, error)
}

// A player coming back after this long re-enters placement: their first
// PlacementMatchTotal matches get amplified swings.
const placementInactivityWindow = 30 * 24 * time.Hour

type gormProfileStore struct {
	DB *gorm.DB
}

func NewGormProfileStore(db *gorm.DB) ProfileStore {
	return &gormProfileStore{DB: db}
}

// GetOrCreateRating ensures a rating row exists for the ladder (idempotent).
func (s *gormProfileStore) GetOrCreateRating(ctx context.Context, playerID, mode, category string) (*models.PlayerRating, error) {
	var rating models.PlayerRating
	err := s.DB.WithContext(ctx).
		Where("external_user_id = ? AND mode = ? AND category = ?", playerID, mode, category).
		First(&rating).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		rating = models.PlayerRating{
			ID:             uuid.NewString(),
			ExternalUserID: playerID,
			Mode:           mode,
			Category:       category,
			Rating:         1000,
		}
		if err := s.DB.WithContext(ctx).Create(&rating).Error; err != nil {
			return nil, err
		}
		return &rating, nil
	}
	if err != nil {
		return nil, err
	}

	// Returning from a long break re-opens the placement window.
	if rating.PlacementMatchesLeft == 0 && rating.LastMatchAt != nil &&
		time.Since(*rating.LastMatchAt) > placementInactivityWindow {
		rating.PlacementMatchesLeft = PlacementMatchTotal
		if err := s.DB.WithContext(ctx).Save(&rating).Error; err != nil {
			return nil, err
		}
	}
	return &rating, nil
}

// CommitMatchResult writes the whole outcome or none of it: the history row
// insert and both sides' rating updates share one transaction, so a crash
// mid-commit can never leave a half-applied match behind.
func (s *gormProfileStore) CommitMatchResult(ctx context.Context, row *models.ArenaMatch, updates []RatingUpdate) (bool, error) {
	inserted := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A racing submitter already committed; its transaction carried
			// the rating updates, so ours must not run again.
			return nil
		}
		inserted = true
		for _, upd := range updates {
			if err := applyRatingUpdate(tx, upd); err != nil {
				return err
			}
		}
		return nil
	})
	return inserted, err
}

func applyRatingUpdate(tx *gorm.DB, upd RatingUpdate) error {
	var rating models.PlayerRating
	if err := tx.Where("external_user_id = ? AND mode = ? AND category = ?",
		upd.PlayerID, upd.Mode, upd.Category).First(&rating).Error; err != nil {
		return err
	}

	rating.Rating = upd.NewRating
	switch {
	case upd.IsDraw:
		// Draws leave streaks and counters alone.
	case upd.Won:
		rating.Wins++
		rating.WinStreak++
		if rating.WinStreak > rating.BestStreak {
			rating.BestStreak = rating.WinStreak
		}
	default:
		rating.Losses++
		rating.WinStreak = 0
	}

	if rating.PlacementMatchesLeft > 0 {
		rating.PlacementMatchesLeft--
	}
	now := time.Now()
	rating.LastMatchAt = &now

	return tx.Save(&rating).Error
}

func (s *gormProfileStore) GetMatch(ctx context.Context, matchID string) (*models.ArenaMatch, error) {
	var match models.ArenaMatch
	err := s.DB.WithContext(ctx).First(&match, "id = ?", matchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &match, nil
}

func (s *gormProfileStore) RecentMatches(ctx context.Context, playerID string, limit int) ([]models.ArenaMatch, error) {
	var matches []models.ArenaMatch
	err := s.DB.WithContext(ctx).
		Where("winner_id = ? OR loser_id = ?", playerID, playerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&matches).Error
	return matches, err
}
