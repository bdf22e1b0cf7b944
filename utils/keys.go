package utils

import (
	"fmt"

	"github.com/gosimple/slug"
)

// Redis key builders. Category names come from client payloads and can
// contain spaces, casing and unicode — slug them so every spelling of the
// same category lands on the same queue.

func QueueKey(mode, category string) string {
	return fmt.Sprintf("arena:queue:%s:%s", slug.Make(mode), slug.Make(category))
}

func PendingMatchKey(playerID string) string {
	return fmt.Sprintf("arena:pending:%s", playerID)
}

func MatchKey(matchID string) string {
	return fmt.Sprintf("arena:match:%s", matchID)
}

func SaveLockKey(matchID string) string {
	return fmt.Sprintf("arena:savelock:%s", matchID)
}

func LeaderboardKey(mode, category string) string {
	return fmt.Sprintf("arena:leaderboard:%s:%s", slug.Make(mode), slug.Make(category))
}
