package utils

import "testing"

func TestQueueKeyNormalizesCategory(t *testing.T) {
	tests := []struct {
		mode     string
		category string
		want     string
	}{
		{"solo", "science", "arena:queue:solo:science"},
		{"Solo", "Science & Nature", "arena:queue:solo:science-and-nature"},
		{"duo", "  History ", "arena:queue:duo:history"},
	}
	for _, tt := range tests {
		if got := QueueKey(tt.mode, tt.category); got != tt.want {
			t.Errorf("QueueKey(%q, %q) = %q, want %q", tt.mode, tt.category, got, tt.want)
		}
	}
}

func TestMatchKeys(t *testing.T) {
	if got := PendingMatchKey("alice"); got != "arena:pending:alice" {
		t.Errorf("PendingMatchKey = %q", got)
	}
	if got := MatchKey("m-1"); got != "arena:match:m-1" {
		t.Errorf("MatchKey = %q", got)
	}
	if got := SaveLockKey("m-1"); got != "arena:savelock:m-1" {
		t.Errorf("SaveLockKey = %q", got)
	}
	if got := LeaderboardKey("solo", "General Knowledge"); got != "arena:leaderboard:solo:general-knowledge" {
		t.Errorf("LeaderboardKey = %q", got)
	}
}
