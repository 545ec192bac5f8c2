package scorestore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SeoHyeokGyu/planit-sub001/internal/period"
)

// MemberScore is one (user, score) pair from a range query.
type MemberScore struct {
	Member string
	Score  int64
}

// Store keeps one Redis sorted set per (period type, period key), ordered by
// descending score. Members with equal scores order deterministically by
// member string, so tied users never flap between repeated reads.
type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Key builds the sorted-set key for one period, e.g. ranking:weekly:2026-W05.
func Key(t period.Type, periodKey string) string {
	return fmt.Sprintf("ranking:%s:%s", strings.ToLower(string(t)), periodKey)
}

// Increment atomically adds delta to the user's score in the period, creating
// the entry at delta if absent. The first write on a weekly/monthly key arms
// that key's TTL.
func (s *Store) Increment(ctx context.Context, t period.Type, periodKey, userID string, delta int64) (int64, error) {
	k := Key(t, periodKey)
	newScore, err := s.rdb.ZIncrBy(ctx, k, float64(delta), userID).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment score for %s in %s: %w", userID, k, err)
	}
	s.armTTL(ctx, t, k)
	return int64(newScore), nil
}

// Rank returns the user's 1-based rank by descending score, or nil when the
// user has no score in the period.
func (s *Store) Rank(ctx context.Context, t period.Type, periodKey, userID string) (*int64, error) {
	pos, err := s.rdb.ZRevRank(ctx, Key(t, periodKey), userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rank for %s in %s: %w", userID, Key(t, periodKey), err)
	}
	rank := pos + 1
	return &rank, nil
}

// Score returns the user's score in the period, 0 when absent.
func (s *Store) Score(ctx context.Context, t period.Type, periodKey, userID string) (int64, error) {
	score, err := s.rdb.ZScore(ctx, Key(t, periodKey), userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read score for %s in %s: %w", userID, Key(t, periodKey), err)
	}
	return int64(score), nil
}

// Range returns up to limit entries starting at the given rank offset,
// strictly ordered by descending score.
func (s *Store) Range(ctx context.Context, t period.Type, periodKey string, offset, limit int64) ([]MemberScore, error) {
	if limit <= 0 {
		return nil, nil
	}
	k := Key(t, periodKey)
	zs, err := s.rdb.ZRevRangeWithScores(ctx, k, offset, offset+limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range %s: %w", k, err)
	}
	out := make([]MemberScore, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, MemberScore{Member: member, Score: int64(z.Score)})
	}
	return out, nil
}

// Count returns the total number of participants in the period.
func (s *Store) Count(ctx context.Context, t period.Type, periodKey string) (int64, error) {
	n, err := s.rdb.ZCard(ctx, Key(t, periodKey)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", Key(t, periodKey), err)
	}
	return n, nil
}

// SetScore overwrites the user's score. Only the rebuild path uses this: it
// replays archived values instead of re-accumulating increments, which keeps
// rebuilds idempotent.
func (s *Store) SetScore(ctx context.Context, t period.Type, periodKey, userID string, score int64) error {
	k := Key(t, periodKey)
	err := s.rdb.ZAdd(ctx, k, redis.Z{Score: float64(score), Member: userID}).Err()
	if err != nil {
		return fmt.Errorf("failed to seed score for %s in %s: %w", userID, k, err)
	}
	s.armTTL(ctx, t, k)
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// armTTL sets the key's expiry once (NX), leaving an already-armed TTL alone.
// A TTL failure is logged, not returned: the scheduler archives the period
// long before the safety-net expiry matters.
func (s *Store) armTTL(ctx context.Context, t period.Type, key string) {
	if !t.HasTTL() {
		return
	}
	ttl := t.TTLUntil(time.Now())
	if err := s.rdb.ExpireNX(ctx, key, ttl).Err(); err != nil {
		log.Printf("ScoreStore: failed to set TTL on %s: %v", key, err)
	}
}
