package services

import (
	"context"
	"encoding/json"
	"testing"

	"game-arena-system/utils"
)

func testEntry(playerID string, rating int) QueueEntry {
	return QueueEntry{
		PlayerID:    playerID,
		DisplayName: playerID,
		Rating:      rating,
		Tier:        50,
		Category:    "science",
		Mode:        "solo",
		Confidence:  0.8,
	}
}

func newTestMatchmaker() (*MatchmakerService, *fakeQueueStore, *fakeMatchStore) {
	queues := newFakeQueueStore()
	matches := newFakeMatchStore()
	return NewMatchmakerService(queues, matches), queues, matches
}

func TestJoinQueueReplacesStaleEntry(t *testing.T) {
	ctx := context.Background()
	svc, queues, _ := newTestMatchmaker()
	key := utils.QueueKey("solo", "science")

	if _, err := svc.JoinQueue(ctx, testEntry("alice", 1000)); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if _, err := svc.JoinQueue(ctx, testEntry("alice", 1100)); err != nil {
		t.Fatalf("second join: %v", err)
	}

	if n := queues.size(key); n != 1 {
		t.Errorf("queue has %d entries for alice, want 1", n)
	}
	_, entry, err := svc.findPlayerMember(ctx, key, "alice")
	if err != nil || entry == nil {
		t.Fatalf("alice not found after rejoin: %v", err)
	}
	if entry.Rating != 1100 {
		t.Errorf("stale rating survived: got %d, want 1100", entry.Rating)
	}
}

func TestJoinQueueReportsPosition(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestMatchmaker()

	pos, err := svc.JoinQueue(ctx, testEntry("alice", 900))
	if err != nil || pos != 1 {
		t.Fatalf("first joiner position = %d (%v), want 1", pos, err)
	}
	pos, err = svc.JoinQueue(ctx, testEntry("bob", 1200))
	if err != nil || pos != 2 {
		t.Fatalf("higher-rated joiner position = %d (%v), want 2", pos, err)
	}
}

func TestJoinQueueRejectsInvalidEntry(t *testing.T) {
	svc, _, _ := newTestMatchmaker()
	bad := testEntry("alice", 1000)
	bad.Tier = 0
	if _, err := svc.JoinQueue(context.Background(), bad); err == nil {
		t.Error("expected validation error for tier 0")
	}
}

func TestLeaveQueueRemovesEntry(t *testing.T) {
	ctx := context.Background()
	svc, queues, _ := newTestMatchmaker()
	key := utils.QueueKey("solo", "science")

	_, _ = svc.JoinQueue(ctx, testEntry("alice", 1000))
	if err := svc.LeaveQueue(ctx, "alice", "solo", "science"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if n := queues.size(key); n != 0 {
		t.Errorf("queue has %d entries after leave, want 0", n)
	}
}

func TestCheckForMatchExactlyOneCreates(t *testing.T) {
	ctx := context.Background()
	svc, queues, _ := newTestMatchmaker()
	key := utils.QueueKey("solo", "science")

	alice := testEntry("alice", 1000)
	bob := testEntry("bob", 1020)
	_, _ = svc.JoinQueue(ctx, alice)
	_, _ = svc.JoinQueue(ctx, bob)

	// bob's id sorts after alice's: his poll must defer to hers.
	if res := svc.CheckForMatch(ctx, bob, 5); res.Matched {
		t.Fatal("bob created the match but alice is the leader")
	}

	res := svc.CheckForMatch(ctx, alice, 5)
	if !res.Matched {
		t.Fatal("alice should create the match")
	}
	if res.Record.IsAIMatch {
		t.Error("human pairing flagged as AI match")
	}
	if opp := res.Record.Opponent("alice"); opp == nil || opp.PlayerID != "bob" {
		t.Fatalf("alice's opponent = %+v, want bob", opp)
	}
	if n := queues.size(key); n != 0 {
		t.Errorf("queue still has %d entries after match, want 0", n)
	}

	// bob's next poll discovers the same match via his pointer — never a
	// second match.
	res2 := svc.CheckForMatch(ctx, bob, 6)
	if !res2.Matched {
		t.Fatal("bob should discover the committed match")
	}
	if res2.Record.MatchID != res.Record.MatchID {
		t.Errorf("bob got match %s, alice got %s — duplicate matches created",
			res2.Record.MatchID, res.Record.MatchID)
	}
}

func TestCheckForMatchIdempotentPoll(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestMatchmaker()

	alice := testEntry("alice", 1000)
	bob := testEntry("bob", 1010)
	_, _ = svc.JoinQueue(ctx, alice)
	_, _ = svc.JoinQueue(ctx, bob)

	first := svc.CheckForMatch(ctx, alice, 5)
	if !first.Matched {
		t.Fatal("expected match")
	}
	second := svc.CheckForMatch(ctx, alice, 6)
	if !second.Matched || second.Record.MatchID != first.Record.MatchID {
		t.Error("repeat poll must return the same match unchanged")
	}
}

func TestCheckForMatchRespectsWindow(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestMatchmaker()

	alice := testEntry("alice", 1000)
	bob := testEntry("bob", 1200) // 200 away
	_, _ = svc.JoinQueue(ctx, alice)
	_, _ = svc.JoinQueue(ctx, bob)

	// At 0s the window is ±50: no match yet.
	if res := svc.CheckForMatch(ctx, alice, 0); res.Matched {
		t.Fatal("matched outside the initial window")
	}
	// At 60s the window is ±230: bob is in range.
	if res := svc.CheckForMatch(ctx, alice, 60); !res.Matched {
		t.Fatal("expected match once the window expanded")
	}
}

func TestCheckForMatchTierTolerance(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestMatchmaker()

	alice := testEntry("alice", 1000)
	bob := testEntry("bob", 1000)
	bob.Tier = alice.Tier + TierTolerance + 1
	_, _ = svc.JoinQueue(ctx, alice)
	_, _ = svc.JoinQueue(ctx, bob)

	if res := svc.CheckForMatch(ctx, alice, 5); res.Matched {
		t.Error("matched across a tier gap beyond tolerance")
	}
}

func TestCheckForMatchSkipsAlreadyMatchedCandidate(t *testing.T) {
	ctx := context.Background()
	svc, _, matches := newTestMatchmaker()

	alice := testEntry("alice", 1000)
	bob := testEntry("bob", 1010)
	_, _ = svc.JoinQueue(ctx, alice)
	_, _ = svc.JoinQueue(ctx, bob)

	// bob already holds a pending match from another poll.
	stale := &MatchRecord{
		MatchID:  "m-existing",
		Mode:     "solo",
		Category: "science",
		PlayerA:  bob,
		PlayerB:  testEntry("carol", 1005),
	}
	raw := mustMarshalRecord(t, stale)
	_ = matches.PutRecord(ctx, utils.PendingMatchKey("bob"), raw, PendingMatchTTL)

	if res := svc.CheckForMatch(ctx, alice, 5); res.Matched {
		t.Error("paired with a candidate who already has a pending match")
	}
}

func TestCheckForMatchPicksClosestRating(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestMatchmaker()

	alice := testEntry("alice", 1000)
	far := testEntry("bob", 1040)
	near := testEntry("carol", 1010)
	_, _ = svc.JoinQueue(ctx, alice)
	_, _ = svc.JoinQueue(ctx, far)
	_, _ = svc.JoinQueue(ctx, near)

	res := svc.CheckForMatch(ctx, alice, 5)
	if !res.Matched {
		t.Fatal("expected match")
	}
	if opp := res.Record.Opponent("alice"); opp.PlayerID != "carol" {
		t.Errorf("opponent = %s, want carol (closest rating)", opp.PlayerID)
	}
}

func TestCheckForMatchConfidencePenaltyChangesChoice(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestMatchmaker()

	alice := testEntry("alice", 1000) // high confidence (0.8)
	closeButLow := testEntry("bob", 1005)
	closeButLow.Confidence = 0.1 // low bracket: cost 5 + 25 = 30
	sameBracket := testEntry("carol", 1020) // cost 20
	_, _ = svc.JoinQueue(ctx, alice)
	_, _ = svc.JoinQueue(ctx, closeButLow)
	_, _ = svc.JoinQueue(ctx, sameBracket)

	res := svc.CheckForMatch(ctx, alice, 5)
	if !res.Matched {
		t.Fatal("expected match")
	}
	if opp := res.Record.Opponent("alice"); opp.PlayerID != "carol" {
		t.Errorf("opponent = %s, want carol (bracket mismatch should outweigh rating gap)", opp.PlayerID)
	}
}

func TestAIFallbackAfterTimeout(t *testing.T) {
	ctx := context.Background()
	svc, queues, matches := newTestMatchmaker()
	key := utils.QueueKey("solo", "science")

	alice := testEntry("alice", 1000)
	_, _ = svc.JoinQueue(ctx, alice)

	// Before the timeout: keep waiting.
	if res := svc.CheckForMatch(ctx, alice, AIFallbackSeconds-1); res.Matched {
		t.Fatal("AI fallback fired before the timeout")
	}

	res := svc.CheckForMatch(ctx, alice, AIFallbackSeconds)
	if !res.Matched {
		t.Fatal("expected AI fallback match")
	}
	if !res.Record.IsAIMatch {
		t.Error("fallback match not flagged as AI")
	}
	opp := res.Record.Opponent("alice")
	if opp == nil || !isBotID(opp.PlayerID) {
		t.Fatalf("opponent %+v is not synthetic", opp)
	}
	if opp.Tier < 1 || opp.Tier > 100 {
		t.Errorf("bot tier %d out of [1,100]", opp.Tier)
	}
	if n := queues.size(key); n != 0 {
		t.Errorf("queue still has %d entries after fallback", n)
	}

	// Only the requester gets a pointer — there is no second human.
	if raw, _ := matches.GetRecord(ctx, utils.PendingMatchKey(opp.PlayerID)); raw != "" {
		t.Error("bot received a pending-match pointer")
	}

	// A later poll must return the same match, never a second bot.
	res2 := svc.CheckForMatch(ctx, alice, AIFallbackSeconds+5)
	if !res2.Matched || res2.Record.MatchID != res.Record.MatchID {
		t.Error("AI fallback re-triggered for an already matched player")
	}
}

func TestCommitMatchAbortsWhenCandidateLeft(t *testing.T) {
	ctx := context.Background()
	svc, _, matches := newTestMatchmaker()
	key := utils.QueueKey("solo", "science")

	alice := testEntry("alice", 1000)
	bob := testEntry("bob", 1010)
	_, _ = svc.JoinQueue(ctx, alice)
	_, _ = svc.JoinQueue(ctx, bob)

	bobRaw, bobEntry, err := svc.findPlayerMember(ctx, key, "bob")
	if err != nil || bobEntry == nil {
		t.Fatalf("bob not found in queue: %v", err)
	}
	// bob leaves after the scan already picked him.
	if err := svc.LeaveQueue(ctx, "bob", "solo", "science"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	rec := svc.commitMatch(ctx, key, alice, &scoredCandidate{raw: bobRaw, entry: bobEntry}, 10, 50, 5)
	if rec != nil {
		t.Fatal("committed a match against a departed candidate")
	}

	// alice keeps her entry and polls on; nothing was half-written.
	if _, entry, _ := svc.findPlayerMember(ctx, key, "alice"); entry == nil {
		t.Error("alice lost her queue entry in the aborted commit")
	}
	if raw, _ := matches.GetRecord(ctx, utils.PendingMatchKey("alice")); raw != "" {
		t.Error("pending pointer written for an aborted commit")
	}
}

func TestCheckForMatchStoreFailureMeansNotYet(t *testing.T) {
	ctx := context.Background()
	svc, queues, _ := newTestMatchmaker()

	alice := testEntry("alice", 1000)
	_, _ = svc.JoinQueue(ctx, alice)
	queues.failRange = true

	res := svc.CheckForMatch(ctx, alice, 5)
	if res.Matched {
		t.Error("store failure must read as not-matched-yet")
	}
}

func TestCheckForMatchSkipsMalformedMembers(t *testing.T) {
	ctx := context.Background()
	svc, queues, _ := newTestMatchmaker()
	key := utils.QueueKey("solo", "science")

	_ = queues.Enqueue(ctx, key, "{not json", 1005)
	alice := testEntry("alice", 1000)
	bob := testEntry("bob", 1010)
	_, _ = svc.JoinQueue(ctx, alice)
	_, _ = svc.JoinQueue(ctx, bob)

	res := svc.CheckForMatch(ctx, alice, 5)
	if !res.Matched {
		t.Fatal("malformed member should not block matching")
	}
	if opp := res.Record.Opponent("alice"); opp.PlayerID != "bob" {
		t.Errorf("opponent = %s, want bob", opp.PlayerID)
	}
}

func TestMatchReasoningSnapshot(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestMatchmaker()

	alice := testEntry("alice", 1000)
	bob := testEntry("bob", 1030)
	bob.Confidence = 0.1
	_, _ = svc.JoinQueue(ctx, alice)
	_, _ = svc.JoinQueue(ctx, bob)

	res := svc.CheckForMatch(ctx, alice, 12)
	if !res.Matched {
		t.Fatal("expected match")
	}
	r := res.Record.Reasoning
	if r == nil {
		t.Fatal("reasoning missing from match record")
	}
	if r.RatingDelta != 30 {
		t.Errorf("reasoning rating delta = %d, want 30", r.RatingDelta)
	}
	if r.BracketA != ConfidenceHigh || r.BracketB != ConfidenceLow {
		t.Errorf("brackets = %s/%s, want high/low", r.BracketA, r.BracketB)
	}
	if r.WindowHalfWidth != RatingWindow(12) {
		t.Errorf("window snapshot = %d, want %d", r.WindowHalfWidth, RatingWindow(12))
	}
	if r.QualityScore < 0 || r.QualityScore > 100 {
		t.Errorf("quality score %d out of range", r.QualityScore)
	}
}

func mustMarshalRecord(t *testing.T, rec *MatchRecord) string {
	t.Helper()
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	return string(raw)
}
