package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"game-arena-system/models"
)

// In-memory QueueStore, ordered the way a Redis sorted set is.
type fakeQueueStore struct {
	mu        sync.Mutex
	sets      map[string]map[string]float64 // key -> member -> score
	ttls      map[string]time.Duration
	failRange bool
	failAdd   bool
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{
		sets: make(map[string]map[string]float64),
		ttls: make(map[string]time.Duration),
	}
}

func (s *fakeQueueStore) Enqueue(_ context.Context, key, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAdd {
		return errors.New("enqueue failed")
	}
	if s.sets[key] == nil {
		s.sets[key] = make(map[string]float64)
	}
	s.sets[key][member] = score
	return nil
}

func (s *fakeQueueStore) Dequeue(_ context.Context, key, member string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sets[key][member]; !ok {
		return 0, nil
	}
	delete(s.sets[key], member)
	return 1, nil
}

func (s *fakeQueueStore) sortedMembers(key string) []ScoredMember {
	var out []ScoredMember
	for m, sc := range s.sets[key] {
		out = append(out, ScoredMember{Member: m, Score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}

func (s *fakeQueueStore) RangeByScore(_ context.Context, key string, min, max float64) ([]ScoredMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRange {
		return nil, errors.New("range failed")
	}
	var out []ScoredMember
	for _, m := range s.sortedMembers(key) {
		if m.Score >= min && m.Score <= max {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeQueueStore) Rank(_ context.Context, key, member string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.sortedMembers(key) {
		if m.Member == member {
			return int64(i), nil
		}
	}
	return -1, nil
}

func (s *fakeQueueStore) TouchExpiry(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttls[key] = ttl
	return nil
}

func (s *fakeQueueStore) size(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sets[key])
}

// In-memory MatchStore with set-if-absent locks.
type fakeMatchStore struct {
	mu      sync.Mutex
	records map[string]string
	locks   map[string]bool
	failGet bool
}

func newFakeMatchStore() *fakeMatchStore {
	return &fakeMatchStore{
		records: make(map[string]string),
		locks:   make(map[string]bool),
	}
}

func (s *fakeMatchStore) PutRecord(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = value
	return nil
}

func (s *fakeMatchStore) GetRecord(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return "", errors.New("get failed")
	}
	return s.records[key], nil
}

func (s *fakeMatchStore) DeleteRecord(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *fakeMatchStore) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[key] {
		return false, nil
	}
	s.locks[key] = true
	return true, nil
}

func (s *fakeMatchStore) ReleaseLock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}

// In-memory ProfileStore tracking insert attempts for idempotency checks.
type fakeProfileStore struct {
	mu             sync.Mutex
	ratings        map[string]*models.PlayerRating // player|mode|category
	matches        map[string]*models.ArenaMatch
	insertAttempts int
	appliedUpdates int
	staleReads     bool // GetMatch sees nothing, like a lagging replica
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{
		ratings: make(map[string]*models.PlayerRating),
		matches: make(map[string]*models.ArenaMatch),
	}
}

func ladderKey(playerID, mode, category string) string {
	return playerID + "|" + mode + "|" + category
}

func (s *fakeProfileStore) GetOrCreateRating(_ context.Context, playerID, mode, category string) (*models.PlayerRating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ladderKey(playerID, mode, category)
	if r, ok := s.ratings[key]; ok {
		cp := *r
		return &cp, nil
	}
	r := &models.PlayerRating{
		ID:             key,
		ExternalUserID: playerID,
		Mode:           mode,
		Category:       category,
		Rating:         1000,
	}
	s.ratings[key] = r
	cp := *r
	return &cp, nil
}

func (s *fakeProfileStore) GetMatch(_ context.Context, matchID string) (*models.ArenaMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleReads {
		return nil, nil
	}
	if m, ok := s.matches[matchID]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

// CommitMatchResult mirrors the GORM implementation's transaction semantics:
// the insert gates the rating updates, duplicates write nothing.
func (s *fakeProfileStore) CommitMatchResult(_ context.Context, row *models.ArenaMatch, updates []RatingUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertAttempts++
	if _, ok := s.matches[row.ID]; ok {
		return false, nil
	}
	cp := *row
	s.matches[row.ID] = &cp
	for _, upd := range updates {
		if err := s.applyLocked(upd); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *fakeProfileStore) applyLocked(upd RatingUpdate) error {
	key := ladderKey(upd.PlayerID, upd.Mode, upd.Category)
	r, ok := s.ratings[key]
	if !ok {
		return errors.New("rating row missing")
	}
	r.Rating = upd.NewRating
	switch {
	case upd.IsDraw:
	case upd.Won:
		r.Wins++
		r.WinStreak++
		if r.WinStreak > r.BestStreak {
			r.BestStreak = r.WinStreak
		}
	default:
		r.Losses++
		r.WinStreak = 0
	}
	if r.PlacementMatchesLeft > 0 {
		r.PlacementMatchesLeft--
	}
	s.appliedUpdates++
	return nil
}

// seedRow pre-loads a committed history row, bypassing the commit path.
func (s *fakeProfileStore) seedRow(row *models.ArenaMatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *row
	s.matches[row.ID] = &cp
}

func (s *fakeProfileStore) RecentMatches(_ context.Context, playerID string, limit int) ([]models.ArenaMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ArenaMatch
	for _, m := range s.matches {
		if m.WinnerID == playerID || m.LoserID == playerID {
			out = append(out, *m)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeProfileStore) ratingOf(playerID, mode, category string) *models.PlayerRating {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.ratings[ladderKey(playerID, mode, category)]; ok {
		cp := *r
		return &cp
	}
	return nil
}

func (s *fakeProfileStore) setRating(r *models.PlayerRating) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings[ladderKey(r.ExternalUserID, r.Mode, r.Category)] = r
}
