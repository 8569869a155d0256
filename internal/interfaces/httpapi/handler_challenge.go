package httpapi

import (
	"net/http"

	"github.com/riskibarqy/challenge-ledger/internal/usecase"
)

func (h *Handler) SeedChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.SeedChallenge")
	defer span.End()

	var req usecase.SeedChallengeInput
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(ctx, w, err)
		return
	}

	record, err := h.finalizationService.SeedChallenge(ctx, req)
	if err != nil {
		h.logger.WarnContext(ctx, "seed challenge failed", "challenge_id", req.ChallengeID, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusCreated, finalizationToDTO(record))
}

func (h *Handler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetChallenge")
	defer span.End()

	challengeID := r.PathValue("challengeID")
	record, err := h.finalizationService.GetChallenge(ctx, challengeID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, finalizationToDTO(record))
}

func (h *Handler) FinalizeChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.FinalizeChallenge")
	defer span.End()

	var req finalizeRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(ctx, w, err)
		return
	}

	challengeID := r.PathValue("challengeID")
	result, err := h.ledgerService.FinalizeChallenge(ctx, req.toInput(challengeID))
	if err != nil {
		h.logger.WarnContext(ctx, "finalize challenge failed",
			"challenge_id", challengeID,
			"applied", len(result.Applied),
			"error", err,
		)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, finalizeResultToDTO(result))
}

func (h *Handler) FinalizeQuiz(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.FinalizeQuiz")
	defer span.End()

	var req finalizeQuizRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(ctx, w, err)
		return
	}

	challengeID := r.PathValue("challengeID")
	result, err := h.ledgerService.FinalizeQuiz(ctx, usecase.FinalizeQuizInput{
		ChallengeID: challengeID,
		Answers:     req.Answers,
		Note:        req.Note,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "finalize quiz failed", "challenge_id", challengeID, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, finalizeResultToDTO(result))
}

// FinalizeBatch always answers 200 with per-item results; item failures are
// reported inline.
func (h *Handler) FinalizeBatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.FinalizeBatch")
	defer span.End()

	var req finalizeBatchRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}

	inputs := make([]usecase.FinalizeInput, 0, len(req.Items))
	for _, item := range req.Items {
		inputs = append(inputs, item.toInput(item.ChallengeID))
	}

	results := h.ledgerService.FinalizeBatch(ctx, inputs)
	items := make([]batchItemDTO, 0, len(results))
	for _, item := range results {
		items = append(items, batchItemToDTO(ctx, item))
	}

	writeSuccess(ctx, w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) AuditLedger(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.AuditLedger")
	defer span.End()

	report, err := h.auditService.Audit(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "ledger audit failed", "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, auditReportToDTO(report))
}
