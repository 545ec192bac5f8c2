package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserProfile is the display data attached to ranking entries.
type UserProfile struct {
	LoginID  string `json:"login_id"`
	Nickname string `json:"nickname"`
}

// UserService reads display profiles from the users table. Account lifecycle
// is owned by the auth service; this service only looks users up.
type UserService struct {
	db *pgxpool.Pool
}

func NewUserService(db *pgxpool.Pool) *UserService {
	return &UserService{db: db}
}

// GetProfiles resolves user ids to profiles in one query. Ids without a users
// row are simply absent from the result; callers fall back to the raw id.
func (s *UserService) GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]UserProfile, error) {
	profiles := make(map[uuid.UUID]UserProfile, len(ids))
	if len(ids) == 0 {
		return profiles, nil
	}

	query := `
	SELECT id, login_id, nickname
	FROM users
	WHERE id = ANY($1)
	`

	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query user profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var profile UserProfile
		if err := rows.Scan(&id, &profile.LoginID, &profile.Nickname); err != nil {
			return nil, fmt.Errorf("failed to scan user profile: %w", err)
		}
		profiles[id] = profile
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user profiles: %w", err)
	}

	return profiles, nil
}

// GetProfile resolves a single user id.
func (s *UserService) GetProfile(ctx context.Context, id uuid.UUID) (*UserProfile, error) {
	query := `
	SELECT login_id, nickname
	FROM users
	WHERE id = $1
	`

	profile := &UserProfile{}
	err := s.db.QueryRow(ctx, query, id).Scan(&profile.LoginID, &profile.Nickname)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}

	return profile, nil
}
