// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"game-arena-system/models"
	"game-arena-system/utils"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const leaderboardSize = 500

// LeaderboardService mirrors the durable rating table into per-ladder Redis
// sorted sets so rank reads never hit Postgres on the hot path.
type LeaderboardService struct {
	DB  *gorm.DB
	RDB *redis.Client
}

func NewLeaderboardService(db *gorm.DB, rdb *redis.Client) *LeaderboardService {
	return &LeaderboardService{DB: db, RDB: rdb}
}

func (s *LeaderboardService) StartLeaderboardScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every minute: rebuild each ladder's leaderboard set
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.RebuildAll(ctx); err != nil {
				log.Printf("[Scheduler] leaderboard rebuild failed: %v", err)
			}
		}),
	)
}

// RebuildAll rewrites every ladder's sorted set from the rating table.
// Idempotent: running it twice in a row leaves identical sets.
func (s *LeaderboardService) RebuildAll(ctx context.Context) error {
	type ladder struct {
		Mode     string
		Category string
	}
	var ladders []ladder
	if err := s.DB.WithContext(ctx).Model(&models.PlayerRating{}).
		Distinct("mode", "category").
		Find(&ladders).Error; err != nil {
		return err
	}

	for _, l := range ladders {
		var ratings []models.PlayerRating
		if err := s.DB.WithContext(ctx).
			Where("mode = ? AND category = ?", l.Mode, l.Category).
			Order("rating DESC").
			Limit(leaderboardSize).
			Find(&ratings).Error; err != nil {
			log.Printf("[Scheduler] ladder %s/%s query failed: %v", l.Mode, l.Category, err)
			continue
		}

		key := utils.LeaderboardKey(l.Mode, l.Category)
		pipe := s.RDB.Pipeline()
		pipe.Del(ctx, key)
		for _, r := range ratings {
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(r.Rating), Member: r.ExternalUserID})
		}
		pipe.Expire(ctx, key, 5*time.Minute)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("[Scheduler] ladder %s/%s write failed: %v", l.Mode, l.Category, err)
		}
	}
	return nil
}

// HandleLeaderboard — GET /arena/leaderboard?mode=&category=&limit=
func (s *LeaderboardService) HandleLeaderboard(c *fiber.Ctx) error {
	mode := c.Query("mode", "solo")
	category := c.Query("category", "general")
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > leaderboardSize {
		limit = 50
	}

	key := utils.LeaderboardKey(mode, category)
	zs, err := s.RDB.ZRevRangeWithScores(c.Context(), key, 0, int64(limit-1)).Result()
	if err != nil {
		log.Printf("[LEADERBOARD] read failed for %s: %v", key, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch leaderboard"})
	}

	entries := make([]fiber.Map, 0, len(zs))
	for i, z := range zs {
		playerID, _ := z.Member.(string)
		entries = append(entries, fiber.Map{
			"rank":      i + 1,
			"player_id": playerID,
			"rating":    int(z.Score),
		})
	}

	return c.JSON(fiber.Map{
		"mode":     mode,
		"category": category,
		"entries":  entries,
	})
}
