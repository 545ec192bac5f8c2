package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SeoHyeokGyu/planit-sub001/internal/period"
	"github.com/SeoHyeokGyu/planit-sub001/internal/ranking"
)

// ArchiveService is the durable mirror of the score store. It is written only
// by the reconciliation jobs, never by the live request path, and its rows are
// never deleted.
type ArchiveService struct {
	db *pgxpool.Pool
}

func NewArchiveService(db *pgxpool.Pool) *ArchiveService {
	return &ArchiveService{db: db}
}

// EnsureSchema creates the archive table on startup. The users table belongs
// to the account service and is never created here.
func (s *ArchiveService) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS user_rankings (
		user_id UUID NOT NULL,
		period_type TEXT NOT NULL,
		period_key TEXT NOT NULL,
		score BIGINT NOT NULL,
		rank INT,
		synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, period_type, period_key)
	)
	`

	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create user_rankings table: %w", err)
	}

	return nil
}

// Upsert writes one snapshot row, keyed by (user, period type, period key).
// Score and rank are always overwritten, never accumulated, so re-running a
// sync is idempotent.
func (s *ArchiveService) Upsert(ctx context.Context, userID uuid.UUID, t period.Type, periodKey string, score int64, rank *int64) error {
	query := `
	INSERT INTO user_rankings (user_id, period_type, period_key, score, rank, synced_at)
	VALUES ($1, $2, $3, $4, $5, NOW())
	ON CONFLICT (user_id, period_type, period_key)
	DO UPDATE SET score = EXCLUDED.score, rank = EXCLUDED.rank, synced_at = EXCLUDED.synced_at
	`

	if _, err := s.db.Exec(ctx, query, userID, string(t), periodKey, score, rank); err != nil {
		return fmt.Errorf("failed to upsert ranking for %s in %s/%s: %w", userID, t, periodKey, err)
	}

	return nil
}

// FindByPeriod supports historical browsing once a period has rolled over and
// its score-store key has expired. Results order by the archived standing.
func (s *ArchiveService) FindByPeriod(ctx context.Context, t period.Type, periodKey string, page, size int) ([]*ranking.UserRanking, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 10
	}

	query := `
	SELECT user_id, period_type, period_key, score, rank, synced_at
	FROM user_rankings
	WHERE period_type = $1 AND period_key = $2
	ORDER BY score DESC, user_id ASC
	LIMIT $3 OFFSET $4
	`

	rows, err := s.db.Query(ctx, query, string(t), periodKey, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived rankings for %s/%s: %w", t, periodKey, err)
	}
	defer rows.Close()

	var results []*ranking.UserRanking
	for rows.Next() {
		row := &ranking.UserRanking{}
		if err := rows.Scan(
			&row.UserID,
			&row.PeriodType,
			&row.PeriodKey,
			&row.Score,
			&row.Rank,
			&row.SyncedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan archived ranking: %w", err)
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read archived rankings: %w", err)
	}

	return results, nil
}

// ScoresByPeriod returns every archived (user, score) pair for one period.
// The rebuild path uses this to re-seed a cold score store.
func (s *ArchiveService) ScoresByPeriod(ctx context.Context, t period.Type, periodKey string) (map[uuid.UUID]int64, error) {
	query := `
	SELECT user_id, score
	FROM user_rankings
	WHERE period_type = $1 AND period_key = $2
	`

	rows, err := s.db.Query(ctx, query, string(t), periodKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived scores for %s/%s: %w", t, periodKey, err)
	}
	defer rows.Close()

	scores := make(map[uuid.UUID]int64)
	for rows.Next() {
		var userID uuid.UUID
		var score int64
		if err := rows.Scan(&userID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan archived score: %w", err)
		}
		scores[userID] = score
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read archived scores: %w", err)
	}

	return scores, nil
}
