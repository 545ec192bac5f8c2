package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/SeoHyeokGyu/planit-sub001/internal/period"
	"github.com/SeoHyeokGyu/planit-sub001/internal/ranking"
	"github.com/SeoHyeokGyu/planit-sub001/middleware"
	"github.com/SeoHyeokGyu/planit-sub001/services"
)

type RankingHandler struct {
	rankingService *services.RankingService
	hub            *services.StreamHub
}

func NewRankingHandler(rankingService *services.RankingService, hub *services.StreamHub) *RankingHandler {
	return &RankingHandler{
		rankingService: rankingService,
		hub:            hub,
	}
}

// GetRanking serves one page of the live leaderboard for a period. A score
// store outage surfaces as 503, never as a fabricated empty leaderboard.
func (h *RankingHandler) GetRanking(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	periodType := period.Weekly
	if raw := r.URL.Query().Get("type"); raw != "" {
		parsed, err := period.ParseType(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid period type. Use weekly, monthly or all")
			return
		}
		periodType = parsed
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	result, err := h.rankingService.GetRanking(ctx, periodType, page, size)
	if err != nil {
		log.Printf("GetRanking: %v", err)
		respondWithError(w, http.StatusServiceUnavailable, "Ranking temporarily unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// GetMyRanking serves the caller's standing in all three periods.
func (h *RankingHandler) GetMyRanking(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := authenticatedUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	result, err := h.rankingService.GetMyRanking(ctx, userID)
	if err != nil {
		log.Printf("GetMyRanking: %v", err)
		respondWithError(w, http.StatusServiceUnavailable, "Ranking temporarily unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// GetHistory serves archived standings for a rolled-over period.
func (h *RankingHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	periodType, err := period.ParseType(r.URL.Query().Get("type"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid period type. Use weekly, monthly or all")
		return
	}
	periodKey := r.URL.Query().Get("key")
	if periodKey == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'key' is required")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	rows, err := h.rankingService.GetHistory(ctx, periodType, periodKey, page, size)
	if err != nil {
		log.Printf("GetHistory: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Unable to read ranking history")
		return
	}

	respondWithJSON(w, http.StatusOK, rows)
}

// AwardScore is the award-path entry for badge/streak/certification
// collaborators. A degraded award (some periods updated) still returns 202;
// only a full score-store outage returns 503, which the caller retries.
func (h *RankingHandler) AwardScore(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, ok := middleware.GetUserID(ctx); !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req ranking.AwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == uuid.Nil {
		respondWithError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Amount == 0 {
		respondWithError(w, http.StatusBadRequest, "amount must be non-zero")
		return
	}

	if err := h.rankingService.AwardScore(ctx, req.UserID, req.Amount, req.Reason); err != nil {
		log.Printf("AwardScore: %v", err)
		respondWithError(w, http.StatusServiceUnavailable, "Score store unavailable, retry later")
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "score awarded"})
}

// StreamRanking holds the connection open as a server-sent event stream. The
// client authenticates with a token query parameter, receives a connect
// handshake, then ranking and heartbeat events until it disconnects. A client
// that reconnects after a gap re-fetches the Top-N over REST; missed deltas
// are not replayed.
func (h *RankingHandler) StreamRanking(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.hub.Register(userID)
	defer h.hub.Unregister(client)

	if err := writeSSE(w, "connect", map[string]any{
		"connected_clients": h.hub.ClientCount(),
		"user_id":           userID,
	}); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case event, open := <-client.Events:
			if !open {
				return
			}
			if err := writeSSE(w, event.Name, event.Data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// StreamStatus reports the live channel's connection count.
func (h *RankingHandler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]any{
		"connected_clients": h.hub.ClientCount(),
		"status":            "ok",
	})
}

func authenticatedUserID(ctx context.Context) (uuid.UUID, bool) {
	raw, ok := middleware.GetUserID(ctx)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeSSE(w http.ResponseWriter, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	return err
}

// Helper functions
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
