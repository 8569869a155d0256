package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/riskibarqy/challenge-ledger/internal/usecase"
	"github.com/shopspring/decimal"
)

const maxRequestBodyBytes = 1 << 20

var strictJSON = sonic.Config{
	DisallowUnknownFields: true,
	ValidateString:        true,
}.Froze()

// decodeJSON reads a bounded request body into dst. An empty body is an
// invalid-input error unless allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes+1))
	if err != nil {
		return fmt.Errorf("%w: read request body: %v", usecase.ErrInvalidInput, err)
	}
	if len(body) > maxRequestBodyBytes {
		return fmt.Errorf("%w: request body exceeds %d bytes", usecase.ErrInvalidInput, maxRequestBodyBytes)
	}
	if len(body) == 0 {
		if allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: request body is required", usecase.ErrInvalidInput)
	}
	if err := strictJSON.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: invalid JSON payload: %v", usecase.ErrInvalidInput, err)
	}
	return nil
}

func (h *Handler) validateRequest(ctx context.Context, payload any) error {
	ctx, span := startSpan(ctx, "httpapi.Handler.validateRequest")
	defer span.End()

	if err := h.validator.StructCtx(ctx, payload); err != nil {
		return fmt.Errorf("%w: validation failed: %v", usecase.ErrInvalidInput, err)
	}

	return nil
}

type finalizeRequest struct {
	Scores         map[string]float64 `json:"scores"`
	Multiplier     float64            `json:"multiplier"`
	HigherIsBetter *bool              `json:"higher_is_better"`
	Note           string             `json:"note"`
}

func (req finalizeRequest) toInput(challengeID string) usecase.FinalizeInput {
	higherIsBetter := true
	if req.HigherIsBetter != nil {
		higherIsBetter = *req.HigherIsBetter
	}
	return usecase.FinalizeInput{
		ChallengeID:    challengeID,
		ScoresByPlayer: req.Scores,
		Multiplier:     req.Multiplier,
		HigherIsBetter: higherIsBetter,
		Note:           req.Note,
	}
}

type finalizeQuizRequest struct {
	Answers map[string]map[string]string `json:"answers"`
	Note    string                       `json:"note"`
}

type finalizeBatchItemRequest struct {
	ChallengeID string `json:"challenge_id" validate:"required"`
	finalizeRequest
}

type finalizeBatchRequest struct {
	Items []finalizeBatchItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
}

type awardDTO struct {
	ChallengeID string  `json:"challenge_id"`
	PlayerID    string  `json:"player_id"`
	Rank        int     `json:"rank"`
	RawScore    string  `json:"raw_score"`
	Multiplier  *string `json:"multiplier,omitempty"`
	BasePoints  string  `json:"base_points"`
	BonusPoints string  `json:"bonus_points"`
	Points      string  `json:"points"`
	Note        string  `json:"note,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type aggregateDTO struct {
	PlayerID    string `json:"player_id"`
	TotalPoints string `json:"total_points"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

type finalizationDTO struct {
	ChallengeID   string   `json:"challenge_id"`
	Policy        string   `json:"policy"`
	State         string   `json:"state"`
	Winners       []string `json:"winners"`
	WinnerBonus   string   `json:"winner_bonus"`
	PrizeTable    []string `json:"prize_table,omitempty"`
	WinnerNote    string   `json:"winner_note,omitempty"`
	QuizQuestions int      `json:"quiz_questions"`
	FinalizedAt   *string  `json:"finalized_at,omitempty"`
	RunCount      int64    `json:"run_count"`
	CreatedAt     string   `json:"created_at,omitempty"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
}

type applicationDTO struct {
	PlayerID       string `json:"player_id"`
	Rank           int    `json:"rank"`
	Points         string `json:"points"`
	PreviousPoints string `json:"previous_points"`
	Delta          string `json:"delta"`
	Created        bool   `json:"created"`
}

type finalizeResultDTO struct {
	RunID       string           `json:"run_id"`
	ChallengeID string           `json:"challenge_id"`
	Policy      string           `json:"policy,omitempty"`
	Skipped     bool             `json:"skipped"`
	Coalesced   bool             `json:"coalesced"`
	Finalized   bool             `json:"finalized"`
	Winners     []string         `json:"winners"`
	Applied     []applicationDTO `json:"applied"`
	Withdrawn   []string         `json:"withdrawn,omitempty"`
	Failed      []string         `json:"failed,omitempty"`
	TotalDelta  string           `json:"total_delta"`
}

type batchItemDTO struct {
	ChallengeID string             `json:"challenge_id"`
	Result      *finalizeResultDTO `json:"result,omitempty"`
	Error       *googleErrorBody   `json:"error,omitempty"`
}

type playerDriftDTO struct {
	PlayerID       string `json:"player_id"`
	AggregateTotal string `json:"aggregate_total"`
	LedgerSum      string `json:"ledger_sum"`
	Drift          string `json:"drift"`
	AwardCount     int    `json:"award_count"`
}

type auditReportDTO struct {
	CheckedPlayers int              `json:"checked_players"`
	Consistent     bool             `json:"consistent"`
	Drift          []playerDriftDTO `json:"drift"`
	GeneratedAt    string           `json:"generated_at"`
}

type awardsSnapshotDTO struct {
	PlayerID    string     `json:"player_id"`
	TotalPoints string     `json:"total_points"`
	Awards      []awardDTO `json:"awards"`
	At          string     `json:"at"`
}

func formatTime(v time.Time) string {
	if v.IsZero() {
		return ""
	}
	return v.UTC().Format(time.RFC3339Nano)
}

func awardToDTO(v challenge.PointAward) awardDTO {
	out := awardDTO{
		ChallengeID: v.ChallengeID,
		PlayerID:    v.PlayerID,
		Rank:        v.Rank,
		RawScore:    v.RawScore.String(),
		BasePoints:  v.BasePoints.String(),
		BonusPoints: v.BonusPoints.String(),
		Points:      v.Points.String(),
		Note:        v.Note,
		CreatedAt:   formatTime(v.CreatedAt),
		UpdatedAt:   formatTime(v.UpdatedAt),
	}
	if v.Multiplier.Valid {
		multiplier := v.Multiplier.Decimal.String()
		out.Multiplier = &multiplier
	}
	return out
}

func awardsToDTO(items []challenge.PointAward) []awardDTO {
	out := make([]awardDTO, 0, len(items))
	for _, item := range items {
		out = append(out, awardToDTO(item))
	}
	return out
}

func aggregateToDTO(v challenge.PlayerAggregate) aggregateDTO {
	return aggregateDTO{
		PlayerID:    v.PlayerID,
		TotalPoints: v.TotalPoints.String(),
		UpdatedAt:   formatTime(v.UpdatedAt),
	}
}

func decimalsToStrings(items []decimal.Decimal) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.String())
	}
	return out
}

func finalizationToDTO(v challenge.FinalizationRecord) finalizationDTO {
	out := finalizationDTO{
		ChallengeID:   v.ChallengeID,
		Policy:        string(v.Policy),
		State:         string(v.State()),
		Winners:       append([]string{}, v.Winners...),
		WinnerBonus:   v.WinnerBonus.String(),
		PrizeTable:    decimalsToStrings(v.PrizeTable),
		WinnerNote:    v.WinnerNote,
		QuizQuestions: len(v.AnswerKey),
		RunCount:      v.RunCount,
		CreatedAt:     formatTime(v.CreatedAt),
		UpdatedAt:     formatTime(v.UpdatedAt),
	}
	if v.FinalizedAt != nil {
		finalizedAt := formatTime(*v.FinalizedAt)
		out.FinalizedAt = &finalizedAt
	}
	return out
}

func finalizeResultToDTO(v usecase.FinalizeResult) finalizeResultDTO {
	applied := make([]applicationDTO, 0, len(v.Applied))
	for _, item := range v.Applied {
		applied = append(applied, applicationDTO{
			PlayerID:       item.Award.PlayerID,
			Rank:           item.Award.Rank,
			Points:         item.Award.Points.String(),
			PreviousPoints: item.PreviousPoints.String(),
			Delta:          item.Delta.String(),
			Created:        item.Created,
		})
	}
	return finalizeResultDTO{
		RunID:       v.RunID,
		ChallengeID: v.ChallengeID,
		Policy:      string(v.Policy),
		Skipped:     v.Skipped,
		Coalesced:   v.Coalesced,
		Finalized:   v.Finalized,
		Winners:     append([]string{}, v.Winners...),
		Applied:     applied,
		Withdrawn:   v.Withdrawn,
		Failed:      v.Failed,
		TotalDelta:  v.TotalDelta.String(),
	}
}

func batchItemToDTO(ctx context.Context, v usecase.BatchItemResult) batchItemDTO {
	out := batchItemDTO{ChallengeID: v.ChallengeID}
	if v.Err == nil {
		result := finalizeResultToDTO(v.Result)
		out.Result = &result
		return out
	}

	mapped := mapError(ctx, v.Err)
	out.Error = &googleErrorBody{
		Code:    mapped.HTTPStatus,
		Message: publicMessage(mapped, v.Err),
		Status:  mapped.Status,
	}
	// Partial progress is still reported next to the error.
	if len(v.Result.Applied) > 0 || len(v.Result.Failed) > 0 {
		result := finalizeResultToDTO(v.Result)
		out.Result = &result
	}
	return out
}

func auditReportToDTO(v usecase.AuditReport) auditReportDTO {
	drift := make([]playerDriftDTO, 0, len(v.Drift))
	for _, item := range v.Drift {
		drift = append(drift, playerDriftDTO{
			PlayerID:       item.PlayerID,
			AggregateTotal: item.AggregateTotal.String(),
			LedgerSum:      item.LedgerSum.String(),
			Drift:          item.Drift.String(),
			AwardCount:     item.AwardCount,
		})
	}
	return auditReportDTO{
		CheckedPlayers: v.CheckedPlayers,
		Consistent:     v.Consistent(),
		Drift:          drift,
		GeneratedAt:    formatTime(v.GeneratedAt),
	}
}

func snapshotToDTO(v usecase.AwardsSnapshot) awardsSnapshotDTO {
	return awardsSnapshotDTO{
		PlayerID:    v.PlayerID,
		TotalPoints: v.Total.String(),
		Awards:      awardsToDTO(v.Awards),
		At:          formatTime(v.At),
	}
}

func isClientGone(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}
