package ranking

import (
	"time"

	"github.com/google/uuid"

	"github.com/SeoHyeokGyu/planit-sub001/internal/period"
)

// Entry is one row of a live leaderboard view. It is derived from a range
// query over the score store and never persisted.
type Entry struct {
	Rank     int       `json:"rank"`
	UserID   uuid.UUID `json:"user_id"`
	LoginID  string    `json:"login_id"`
	Nickname string    `json:"nickname"`
	Score    int64     `json:"score"`
}

// Page is the paginated leaderboard response for one period.
type Page struct {
	PeriodType        period.Type `json:"period_type"`
	PeriodKey         string      `json:"period_key"`
	Rankings          []*Entry    `json:"rankings"`
	TotalParticipants int64       `json:"total_participants"`
	Page              int         `json:"page"`
	Size              int         `json:"size"`
	TotalPages        int         `json:"total_pages"`
	IsFirst           bool        `json:"is_first"`
	IsLast            bool        `json:"is_last"`
}

// MyRanking is one user's standing in a single period. A nil Rank means the
// user has no score in that period yet, which is a normal state.
type MyRanking struct {
	PeriodType        period.Type `json:"period_type"`
	PeriodKey         string      `json:"period_key"`
	Rank              *int64      `json:"rank"`
	Score             int64       `json:"score"`
	TotalParticipants int64       `json:"total_participants"`
}

type MyRankingResponse struct {
	Weekly  *MyRanking `json:"weekly"`
	Monthly *MyRanking `json:"monthly"`
	AllTime *MyRanking `json:"alltime"`
}

// UserRanking is the durable archive row, unique per
// (user, period type, period key). Rank is a snapshot taken at sync time.
type UserRanking struct {
	UserID     uuid.UUID   `json:"user_id" db:"user_id"`
	PeriodType period.Type `json:"period_type" db:"period_type"`
	PeriodKey  string      `json:"period_key" db:"period_key"`
	Score      int64       `json:"score" db:"score"`
	Rank       *int64      `json:"rank" db:"rank"`
	SyncedAt   time.Time   `json:"synced_at" db:"synced_at"`
}

// UpdatedUser carries the acting user's rank delta inside an update event.
type UpdatedUser struct {
	LoginID      string `json:"login_id"`
	PreviousRank *int64 `json:"previous_rank"`
	CurrentRank  int64  `json:"current_rank"`
	ScoreDelta   int64  `json:"score_delta"`
}

// UpdateEvent is pushed over the live channel whenever a score award lands.
// It exists only on the wire.
type UpdateEvent struct {
	PeriodType  period.Type  `json:"period_type"`
	Top10       []*Entry     `json:"top10"`
	UpdatedUser *UpdatedUser `json:"updated_user,omitempty"`
	EventType   string       `json:"event_type"`
}

// AwardRequest is the award-path payload sent by point-granting collaborators
// (badges, streaks, certifications). Amount may be negative for deductions.
type AwardRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Amount int64     `json:"amount"`
	Reason string    `json:"reason"`
}
