package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/riskibarqy/challenge-ledger/internal/usecase"
)

const minStreamInterval = 250 * time.Millisecond

func (h *Handler) ListPlayerAwards(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListPlayerAwards")
	defer span.End()

	playerID := r.PathValue("playerID")
	awards, err := h.queryService.QueryAwardsByPlayer(ctx, playerID)
	if err != nil {
		h.logger.WarnContext(ctx, "list player awards failed", "player_id", playerID, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, awardsToDTO(awards))
}

func (h *Handler) GetPlayerPoints(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetPlayerPoints")
	defer span.End()

	playerID := r.PathValue("playerID")
	total, err := h.queryService.GetPlayerTotal(ctx, playerID)
	if err != nil {
		h.logger.WarnContext(ctx, "get player points failed", "player_id", playerID, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, aggregateToDTO(total))
}

func (h *Handler) ListChallengeAwards(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListChallengeAwards")
	defer span.End()

	challengeID := r.PathValue("challengeID")
	awards, err := h.queryService.ListAwardsByChallenge(ctx, challengeID)
	if err != nil {
		h.logger.WarnContext(ctx, "list challenge awards failed", "challenge_id", challengeID, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, awardsToDTO(awards))
}

// StreamPlayerAwards emits the player's awards and total as server-sent
// events: one "awards" event on connect and one per change. A store failure
// ends the stream with an "error" event; clients reconnect to resume.
func (h *Handler) StreamPlayerAwards(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.StreamPlayerAwards")
	defer span.End()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(ctx, w, fmt.Errorf("%w: streaming is not supported", usecase.ErrDependencyUnavailable))
		return
	}

	var interval time.Duration
	if raw := strings.TrimSpace(r.URL.Query().Get("interval")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < minStreamInterval {
			writeError(ctx, w, fmt.Errorf("%w: interval must be a duration >= %s", usecase.ErrInvalidInput, minStreamInterval))
			return
		}
		interval = parsed
	}

	playerID := r.PathValue("playerID")
	sub, err := h.queryService.SubscribeAwardsByPlayer(ctx, playerID, interval)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	defer sub.Close()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for snapshot := range sub.Updates() {
		if err := writeEvent(w, "awards", snapshotToDTO(snapshot)); err != nil {
			if !isClientGone(ctx, err) {
				h.logger.WarnContext(ctx, "write awards event failed", "player_id", playerID, "error", err)
			}
			return
		}
		flusher.Flush()
	}

	if err := sub.Err(); err != nil && ctx.Err() == nil {
		mapped := mapError(ctx, err)
		_ = writeEvent(w, "error", googleErrorBody{
			Code:    mapped.HTTPStatus,
			Message: publicMessage(mapped, err),
			Status:  mapped.Status,
		})
		flusher.Flush()
	}
}
