package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/SeoHyeokGyu/planit-sub001/internal/period"
	"github.com/SeoHyeokGyu/planit-sub001/internal/ranking"
	"github.com/SeoHyeokGyu/planit-sub001/internal/scorestore"
	"github.com/SeoHyeokGyu/planit-sub001/middleware"
)

const (
	top10Size   = 10
	defaultSize = 10
	maxPageSize = 100
)

// RankingArchive is the durable mirror of the score store.
type RankingArchive interface {
	Upsert(ctx context.Context, userID uuid.UUID, t period.Type, periodKey string, score int64, rank *int64) error
	FindByPeriod(ctx context.Context, t period.Type, periodKey string, page, size int) ([]*ranking.UserRanking, error)
	ScoresByPeriod(ctx context.Context, t period.Type, periodKey string) (map[uuid.UUID]int64, error)
}

// UserDirectory resolves user ids to display profiles.
type UserDirectory interface {
	GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]UserProfile, error)
}

// RankingService orchestrates the score store (live tier), the archive
// (durable tier) and the live update channel. While the score store is warm it
// is the sole authority for current ranks; the archive takes over only on cold
// start and for historical lookups.
type RankingService struct {
	store   *scorestore.Store
	archive RankingArchive
	users   UserDirectory
	hub     *StreamHub
}

func NewRankingService(store *scorestore.Store, archive RankingArchive, users UserDirectory, hub *StreamHub) *RankingService {
	return &RankingService{
		store:   store,
		archive: archive,
		users:   users,
		hub:     hub,
	}
}

// AwardScore adds amount to the user's weekly, monthly and all-time scores,
// then pushes a fresh Top-10 for each updated period onto the live channel.
// The three periods are independent read models: a partial failure logs and
// degrades, and the call errors only when no period could be updated, which
// callers treat as a retryable infrastructure failure.
func (s *RankingService) AwardScore(ctx context.Context, userID uuid.UUID, amount int64, reason string) error {
	now := time.Now()
	member := userID.String()

	updated := 0
	var lastErr error
	for _, t := range period.Types() {
		key := t.CurrentKey(now)

		prevRank, err := s.store.Rank(ctx, t, key, member)
		if err != nil {
			log.Printf("RankingService: failed to read previous %s rank for %s: %v", t, member, err)
			prevRank = nil
		}

		if _, err := s.store.Increment(ctx, t, key, member, amount); err != nil {
			log.Printf("RankingService: %s increment failed for %s (%s): %v", t, member, reason, err)
			middleware.RecordScoreAward(string(t), "error")
			lastErr = err
			continue
		}
		updated++
		middleware.RecordScoreAward(string(t), "ok")

		s.publishUpdate(ctx, t, key, userID, prevRank, amount)
	}

	if updated == 0 {
		return fmt.Errorf("failed to award %d points to %s: %w", amount, userID, lastErr)
	}
	return nil
}

// GetRanking returns one page of the current leaderboard for a period. Rank
// numbers are assigned from the page offset, not re-queried per row.
func (s *RankingService) GetRanking(ctx context.Context, t period.Type, page, size int) (*ranking.Page, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defaultSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	key := t.CurrentKey(time.Now())
	offset := int64(page) * int64(size)

	entries, err := s.entries(ctx, t, key, offset, int64(size))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s ranking: %w", t, err)
	}

	total, err := s.store.Count(ctx, t, key)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s participants: %w", t, err)
	}

	totalPages := int((total + int64(size) - 1) / int64(size))
	return &ranking.Page{
		PeriodType:        t,
		PeriodKey:         key,
		Rankings:          entries,
		TotalParticipants: total,
		Page:              page,
		Size:              size,
		TotalPages:        totalPages,
		IsFirst:           page == 0,
		IsLast:            page >= totalPages-1,
	}, nil
}

// GetMyRanking returns the user's standing in all three periods. A user with
// no score in a period gets rank nil and score 0; that is not an error.
func (s *RankingService) GetMyRanking(ctx context.Context, userID uuid.UUID) (*ranking.MyRankingResponse, error) {
	now := time.Now()

	resp := &ranking.MyRankingResponse{}
	for _, t := range period.Types() {
		mine, err := s.myRanking(ctx, t, t.CurrentKey(now), userID)
		if err != nil {
			return nil, err
		}
		switch t {
		case period.Weekly:
			resp.Weekly = mine
		case period.Monthly:
			resp.Monthly = mine
		default:
			resp.AllTime = mine
		}
	}
	return resp, nil
}

// GetHistory reads archived standings for a period that may have left the
// score store already.
func (s *RankingService) GetHistory(ctx context.Context, t period.Type, periodKey string, page, size int) ([]*ranking.UserRanking, error) {
	rows, err := s.archive.FindByPeriod(ctx, t, periodKey, page, size)
	if err != nil {
		return nil, fmt.Errorf("failed to read archived %s/%s ranking: %w", t, periodKey, err)
	}
	return rows, nil
}

// RebuildFromDatabase re-seeds the score store from the archived snapshots of
// the current weekly, current monthly and all-time periods. It runs before
// the server accepts traffic, so a live award can never be overwritten by a
// late rebuild write. Re-running it is idempotent because scores are set to
// the archived value, not re-accumulated.
func (s *RankingService) RebuildFromDatabase(ctx context.Context) error {
	now := time.Now()

	for _, t := range period.Types() {
		key := t.CurrentKey(now)
		scores, err := s.archive.ScoresByPeriod(ctx, t, key)
		if err != nil {
			return fmt.Errorf("failed to load archived scores for %s/%s: %w", t, key, err)
		}
		for userID, score := range scores {
			if err := s.store.SetScore(ctx, t, key, userID.String(), score); err != nil {
				return err
			}
		}
		log.Printf("RankingService: rebuilt %s/%s from archive (%d users)", t, key, len(scores))
	}
	return nil
}

// SyncToDatabase copies the current Top-limit of one period into the archive,
// assigning rank by position in the returned ordering. It returns the number
// of rows written; a period with fewer than limit entries syncs only what
// exists.
func (s *RankingService) SyncToDatabase(ctx context.Context, t period.Type, periodKey string, limit int64) (int, error) {
	members, err := s.store.Range(ctx, t, periodKey, 0, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s/%s for sync: %w", t, periodKey, err)
	}

	synced := 0
	for i, m := range members {
		userID, err := uuid.Parse(m.Member)
		if err != nil {
			log.Printf("RankingService: skipping malformed member %q during %s/%s sync", m.Member, t, periodKey)
			continue
		}
		rank := int64(i) + 1
		if err := s.archive.Upsert(ctx, userID, t, periodKey, m.Score, &rank); err != nil {
			return synced, fmt.Errorf("failed to archive rank %d of %s/%s: %w", rank, t, periodKey, err)
		}
		synced++
	}

	middleware.RecordSyncRows(string(t), synced)
	return synced, nil
}

// CurrentWeekKey returns the key of the ISO week containing now. The service
// and the scheduler both derive keys through here and internal/period, so key
// derivation has exactly one implementation.
func (s *RankingService) CurrentWeekKey() string {
	return period.WeekKey(time.Now())
}

// CurrentMonthKey returns the key of the month containing now.
func (s *RankingService) CurrentMonthKey() string {
	return period.MonthKey(time.Now())
}

func (s *RankingService) myRanking(ctx context.Context, t period.Type, key string, userID uuid.UUID) (*ranking.MyRanking, error) {
	member := userID.String()

	rank, err := s.store.Rank(ctx, t, key, member)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s rank: %w", t, err)
	}
	score, err := s.store.Score(ctx, t, key, member)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s score: %w", t, err)
	}
	total, err := s.store.Count(ctx, t, key)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s participants: %w", t, err)
	}

	return &ranking.MyRanking{
		PeriodType:        t,
		PeriodKey:         key,
		Rank:              rank,
		Score:             score,
		TotalParticipants: total,
	}, nil
}

// entries runs one range query and decorates the rows with user profiles.
func (s *RankingService) entries(ctx context.Context, t period.Type, key string, offset, limit int64) ([]*ranking.Entry, error) {
	members, err := s.store.Range(ctx, t, key, offset, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		if id, err := uuid.Parse(m.Member); err == nil {
			ids = append(ids, id)
		}
	}

	profiles, err := s.users.GetProfiles(ctx, ids)
	if err != nil {
		// Profiles are decoration; the ranking itself is still correct.
		log.Printf("RankingService: failed to load profiles for %s/%s: %v", t, key, err)
		profiles = map[uuid.UUID]UserProfile{}
	}

	entries := make([]*ranking.Entry, 0, len(members))
	for i, m := range members {
		id, err := uuid.Parse(m.Member)
		if err != nil {
			log.Printf("RankingService: skipping malformed member %q in %s/%s", m.Member, t, key)
			continue
		}
		entry := &ranking.Entry{
			Rank:   int(offset) + i + 1,
			UserID: id,
			Score:  m.Score,
		}
		if p, ok := profiles[id]; ok {
			entry.LoginID = p.LoginID
			entry.Nickname = p.Nickname
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// publishUpdate pushes the fresh Top-10 for one period plus the acting user's
// rank delta onto the live channel. Delivery is best-effort; a push failure
// never fails the award.
func (s *RankingService) publishUpdate(ctx context.Context, t period.Type, key string, userID uuid.UUID, prevRank *int64, delta int64) {
	top10, err := s.entries(ctx, t, key, 0, top10Size)
	if err != nil {
		log.Printf("RankingService: failed to build %s top10 for push: %v", t, err)
		return
	}

	event := &ranking.UpdateEvent{
		PeriodType: t,
		Top10:      top10,
		EventType:  "RANKING_UPDATE",
	}

	currentRank, err := s.store.Rank(ctx, t, key, userID.String())
	if err != nil {
		log.Printf("RankingService: failed to read current %s rank for push: %v", t, err)
	}
	if currentRank != nil {
		loginID := userID.String()
		if profiles, perr := s.users.GetProfiles(ctx, []uuid.UUID{userID}); perr == nil {
			if p, ok := profiles[userID]; ok {
				loginID = p.LoginID
			}
		}
		event.UpdatedUser = &ranking.UpdatedUser{
			LoginID:      loginID,
			PreviousRank: prevRank,
			CurrentRank:  *currentRank,
			ScoreDelta:   delta,
		}
	}

	s.hub.Broadcast(StreamEvent{Name: "ranking", Data: event})
}
