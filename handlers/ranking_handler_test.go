package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/SeoHyeokGyu/planit-sub001/internal/period"
	"github.com/SeoHyeokGyu/planit-sub001/internal/ranking"
	"github.com/SeoHyeokGyu/planit-sub001/internal/scorestore"
	"github.com/SeoHyeokGyu/planit-sub001/middleware"
	"github.com/SeoHyeokGyu/planit-sub001/services"
)

type memoryArchive struct {
	rows map[string]*ranking.UserRanking
}

func (m *memoryArchive) Upsert(_ context.Context, userID uuid.UUID, t period.Type, periodKey string, score int64, rank *int64) error {
	m.rows[fmt.Sprintf("%s|%s|%s", userID, t, periodKey)] = &ranking.UserRanking{
		UserID:     userID,
		PeriodType: t,
		PeriodKey:  periodKey,
		Score:      score,
		Rank:       rank,
		SyncedAt:   time.Now(),
	}
	return nil
}

func (m *memoryArchive) FindByPeriod(_ context.Context, t period.Type, periodKey string, page, size int) ([]*ranking.UserRanking, error) {
	var out []*ranking.UserRanking
	for _, row := range m.rows {
		if row.PeriodType == t && row.PeriodKey == periodKey {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memoryArchive) ScoresByPeriod(_ context.Context, t period.Type, periodKey string) (map[uuid.UUID]int64, error) {
	return map[uuid.UUID]int64{}, nil
}

type memoryUsers struct {
	profiles map[uuid.UUID]services.UserProfile
}

func (m *memoryUsers) GetProfiles(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]services.UserProfile, error) {
	out := make(map[uuid.UUID]services.UserProfile)
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func newTestHandler(t *testing.T) (*RankingHandler, *services.RankingService, *memoryUsers) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	archive := &memoryArchive{rows: make(map[string]*ranking.UserRanking)}
	users := &memoryUsers{profiles: make(map[uuid.UUID]services.UserProfile)}
	hub := services.NewStreamHub()
	t.Cleanup(hub.Shutdown)

	svc := services.NewRankingService(scorestore.New(rdb), archive, users, hub)
	return NewRankingHandler(svc, hub), svc, users
}

func authedRequest(t *testing.T, method, target string, userID uuid.UUID, body []byte) *http.Request {
	t.Helper()

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, userID.String())
	return req.WithContext(ctx)
}

func TestGetRankingEndpoint(t *testing.T) {
	handler, svc, users := newTestHandler(t)
	ctx := context.Background()

	userA := uuid.New()
	userB := uuid.New()
	users.profiles[userB] = services.UserProfile{LoginID: "bob", Nickname: "Bob"}
	svc.AwardScore(ctx, userA, 10, "cert")
	svc.AwardScore(ctx, userB, 20, "cert")
	svc.AwardScore(ctx, userA, 5, "streak")

	req := authedRequest(t, http.MethodGet, "/api/v1/ranking?type=weekly&page=0&size=10", userA, nil)
	rec := httptest.NewRecorder()
	handler.GetRanking(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var page ranking.Page
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if page.PeriodType != period.Weekly {
		t.Errorf("period type = %s, want WEEKLY", page.PeriodType)
	}
	if len(page.Rankings) != 2 {
		t.Fatalf("got %d entries, want 2", len(page.Rankings))
	}
	if page.Rankings[0].UserID != userB || page.Rankings[0].Score != 20 {
		t.Errorf("first entry = %+v, want user-b at 20", page.Rankings[0])
	}
	if page.Rankings[1].Score != 15 || page.Rankings[1].Rank != 2 {
		t.Errorf("second entry = %+v, want 15 at rank 2", page.Rankings[1])
	}
	if !page.IsFirst || !page.IsLast || page.TotalParticipants != 2 {
		t.Errorf("page metadata = %+v, want single full page of 2", page)
	}
}

func TestGetRankingInvalidType(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := authedRequest(t, http.MethodGet, "/api/v1/ranking?type=yearly", uuid.New(), nil)
	rec := httptest.NewRecorder()
	handler.GetRanking(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetMyRankingEndpoint(t *testing.T) {
	handler, svc, _ := newTestHandler(t)
	ctx := context.Background()

	userID := uuid.New()
	svc.AwardScore(ctx, userID, 50, "cert")

	req := authedRequest(t, http.MethodGet, "/api/v1/ranking/me", userID, nil)
	rec := httptest.NewRecorder()
	handler.GetMyRanking(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var mine ranking.MyRankingResponse
	if err := json.NewDecoder(rec.Body).Decode(&mine); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if mine.Weekly.Score != 50 || mine.Monthly.Score != 50 || mine.AllTime.Score != 50 {
		t.Errorf("scores = %d/%d/%d, want 50 in every period",
			mine.Weekly.Score, mine.Monthly.Score, mine.AllTime.Score)
	}
}

func TestGetMyRankingUnauthenticated(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ranking/me", nil)
	rec := httptest.NewRecorder()
	handler.GetMyRanking(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAwardScoreEndpoint(t *testing.T) {
	handler, svc, _ := newTestHandler(t)

	target := uuid.New()
	body, _ := json.Marshal(ranking.AwardRequest{UserID: target, Amount: 30, Reason: "badge"})

	req := authedRequest(t, http.MethodPost, "/api/v1/ranking/award", uuid.New(), body)
	rec := httptest.NewRecorder()
	handler.AwardScore(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	mine, err := svc.GetMyRanking(context.Background(), target)
	if err != nil {
		t.Fatalf("GetMyRanking failed: %v", err)
	}
	if mine.Weekly.Score != 30 {
		t.Errorf("weekly score after award = %d, want 30", mine.Weekly.Score)
	}
}

func TestAwardScoreRejectsZeroAmount(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	body, _ := json.Marshal(ranking.AwardRequest{UserID: uuid.New(), Amount: 0})
	req := authedRequest(t, http.MethodPost, "/api/v1/ranking/award", uuid.New(), body)
	rec := httptest.NewRecorder()
	handler.AwardScore(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStreamStatusEndpoint(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ranking/stream/status", nil)
	rec := httptest.NewRecorder()
	handler.StreamStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var status struct {
		ConnectedClients int    `json:"connected_clients"`
		Status           string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.ConnectedClients != 0 || status.Status != "ok" {
		t.Errorf("status = %+v, want 0 clients, ok", status)
	}
}

func TestStreamRankingDeliversEvents(t *testing.T) {
	handler, svc, _ := newTestHandler(t)

	viewer := uuid.New()
	req := authedRequest(t, http.MethodGet, "/api/v1/ranking/stream?token=x", viewer, nil)
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.StreamRanking(rec, req)
	}()

	// Give the handler time to register before awarding so the broadcast
	// reaches this connection.
	time.Sleep(50 * time.Millisecond)

	scorer := uuid.New()
	if err := svc.AwardScore(context.Background(), scorer, 40, "cert"); err != nil {
		t.Fatalf("AwardScore failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not exit on context cancel")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: connect") {
		t.Errorf("stream missing connect handshake:\n%s", body)
	}
	if !strings.Contains(body, "event: ranking") {
		t.Errorf("stream missing ranking event:\n%s", body)
	}
	if !strings.Contains(body, "connected_clients") {
		t.Errorf("handshake missing connected client count:\n%s", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
}

func TestStreamRankingUnauthenticated(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ranking/stream", nil)
	rec := httptest.NewRecorder()
	handler.StreamRanking(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
