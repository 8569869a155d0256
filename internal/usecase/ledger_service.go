package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/riskibarqy/challenge-ledger/internal/platform/id"
	"github.com/riskibarqy/challenge-ledger/internal/platform/logging"
	"github.com/riskibarqy/challenge-ledger/internal/platform/resilience"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
)

const defaultBatchFinalizeWorkers = 4

type FinalizeInput struct {
	ChallengeID    string             `json:"challenge_id" yaml:"challenge_id" validate:"required,max=128"`
	ScoresByPlayer map[string]float64 `json:"scores" yaml:"scores" validate:"omitempty,dive,keys,required,max=128,endkeys"`
	// Multiplier scales base points; 0 means the default of 1.
	Multiplier     float64 `json:"multiplier" yaml:"multiplier"`
	HigherIsBetter bool    `json:"higher_is_better" yaml:"higher_is_better"`
	Note           string  `json:"note" yaml:"note" validate:"max=256"`
}

type FinalizeQuizInput struct {
	ChallengeID string                       `json:"challenge_id" validate:"required,max=128"`
	Answers     map[string]map[string]string `json:"answers" validate:"omitempty,dive,keys,required,max=128,endkeys"`
	Note        string                       `json:"note" validate:"max=256"`
}

// FinalizeResult describes one finalize run. On error it still reports the
// players applied before the failure.
type FinalizeResult struct {
	RunID       string
	ChallengeID string
	Policy      challenge.Policy
	// Skipped is set when the snapshot was empty and nothing was written.
	Skipped bool
	// Coalesced is set when this call joined an identical in-flight run.
	Coalesced bool
	Finalized bool
	Winners   []string
	Applied   []challenge.AwardApplication
	Withdrawn []string
	// Failed lists players whose unit was rejected (malformed previous record).
	Failed     []string
	TotalDelta decimal.Decimal
}

type BatchItemResult struct {
	ChallengeID string
	Result      FinalizeResult
	Err         error
}

type LedgerServiceConfig struct {
	BatchWorkers int
}

// LedgerService is the only writer of point awards and player aggregates.
type LedgerService struct {
	repo         challenge.Repository
	finalization *FinalizationService
	ids          id.Generator
	metrics      LedgerMetrics
	logger       *logging.Logger
	now          func() time.Time
	flight       resilience.Group[FinalizeResult]
	batchWorkers int
}

func NewLedgerService(
	repo challenge.Repository,
	finalization *FinalizationService,
	ids id.Generator,
	metrics LedgerMetrics,
	logger *logging.Logger,
	cfg LedgerServiceConfig,
) *LedgerService {
	if logger == nil {
		logger = logging.Default()
	}
	if metrics == nil {
		metrics = noopLedgerMetrics{}
	}
	if ids == nil {
		ids = id.NewUUIDGenerator()
	}
	if finalization == nil {
		finalization = NewFinalizationService(repo, logger)
	}
	workers := cfg.BatchWorkers
	if workers <= 0 {
		workers = defaultBatchFinalizeWorkers
	}
	return &LedgerService{
		repo:         repo,
		finalization: finalization,
		ids:          ids,
		metrics:      metrics,
		logger:       logger.Named("ledger"),
		now:          func() time.Time { return time.Now().UTC() },
		batchWorkers: workers,
	}
}

// FinalizeChallenge converts a score snapshot into awards and aggregate
// deltas. Re-running it with the same snapshot leaves the ledger and totals
// unchanged. Identical concurrent calls share one run.
func (s *LedgerService) FinalizeChallenge(ctx context.Context, input FinalizeInput) (FinalizeResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.LedgerService.FinalizeChallenge",
		attribute.String("challenge.id", input.ChallengeID),
		attribute.Int("challenge.players", len(input.ScoresByPlayer)),
	)
	var err error
	defer func() { endSpan(span, err) }()

	startedAt := time.Now()
	input.ChallengeID = strings.TrimSpace(input.ChallengeID)

	var (
		result   FinalizeResult
		prepared preparedRun
	)
	prepared, err = prepareRun(ctx, input)
	if err != nil {
		s.metrics.ObserveFinalize("unknown", outcomeInvalid, 0, time.Since(startedAt))
		return FinalizeResult{ChallengeID: input.ChallengeID}, err
	}
	if len(prepared.ranked) == 0 {
		s.logger.InfoContext(ctx, "finalize skipped, empty snapshot", "challenge_id", input.ChallengeID)
		s.metrics.ObserveFinalize("unknown", outcomeSkipped, 0, time.Since(startedAt))
		return FinalizeResult{ChallengeID: input.ChallengeID, Skipped: true, TotalDelta: decimal.Zero}, nil
	}

	key := input.ChallengeID + ":" + prepared.fingerprint
	var shared bool
	for {
		result, err, shared = s.flight.Do(key, func() (FinalizeResult, error) {
			res, runErr := s.run(ctx, input, prepared)
			if runErr != nil && ctx.Err() != nil {
				runErr = &canceledRunError{err: runErr}
			}
			return res, runErr
		})
		var canceled *canceledRunError
		if !errors.As(err, &canceled) {
			break
		}
		err = canceled.err
		if !shared || ctx.Err() != nil {
			break
		}
		// The run we joined was canceled by its own caller; this caller is
		// still live, so it starts or joins a fresh run.
		s.logger.WarnContext(ctx, "joined finalize run was canceled, running again",
			"challenge_id", input.ChallengeID, "error", err)
	}
	if shared {
		result.Coalesced = true
		return result, err
	}

	s.metrics.ObserveFinalize(string(result.Policy), finalizeOutcome(result, err), len(result.Applied), time.Since(startedAt))
	return result, err
}

// canceledRunError marks a run that stopped because the context of the caller
// that started it was done. Callers that joined it retry instead of failing.
type canceledRunError struct {
	err error
}

func (e *canceledRunError) Error() string { return e.err.Error() }

func (e *canceledRunError) Unwrap() error { return e.err }

type preparedRun struct {
	ranked      []challenge.RankedEntry
	multiplier  decimal.Decimal
	fingerprint string
}

func prepareRun(ctx context.Context, input FinalizeInput) (preparedRun, error) {
	if err := validateInput(ctx, input); err != nil {
		return preparedRun{}, err
	}
	multiplier, err := challenge.NormalizeMultiplier(input.Multiplier)
	if err != nil {
		return preparedRun{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	ranked, err := challenge.Rank(input.ScoresByPlayer, input.HigherIsBetter)
	if err != nil {
		return preparedRun{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return preparedRun{
		ranked:      ranked,
		multiplier:  multiplier,
		fingerprint: snapshotFingerprint(ranked, multiplier, input.HigherIsBetter, input.Note),
	}, nil
}

func (s *LedgerService) run(ctx context.Context, input FinalizeInput, prepared preparedRun) (FinalizeResult, error) {
	result := FinalizeResult{ChallengeID: input.ChallengeID, TotalDelta: decimal.Zero}

	record, err := s.finalization.CheckCanFinalize(ctx, input.ChallengeID)
	result.Policy = record.Policy
	if err != nil {
		s.logger.WarnContext(ctx, "finalize rejected", "challenge_id", input.ChallengeID, "error", err)
		return result, err
	}

	runID, err := s.ids.NewID()
	if err != nil {
		return result, fmt.Errorf("generate run id: %w", err)
	}
	result.RunID = runID
	logger := s.logger.With("run_id", runID, "challenge_id", input.ChallengeID, "policy", string(record.Policy))

	now := s.now()
	awards := challenge.NewCalculator(record, prepared.multiplier, strings.TrimSpace(input.Note)).
		Calculate(input.ChallengeID, prepared.ranked, now)
	result.Winners = challenge.Winners(awards)

	withdrawn, err := s.withdrawnAwards(ctx, input.ChallengeID, awards, now)
	if err != nil {
		return result, err
	}
	awards = append(awards, withdrawn...)

	for _, award := range awards {
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.WarnContext(ctx, "finalize interrupted", "applied", len(result.Applied), "error", ctxErr)
			return result, fmt.Errorf("finalize challenge %s interrupted after %d players: %w", input.ChallengeID, len(result.Applied), ctxErr)
		}

		applied, applyErr := s.repo.ApplyAward(ctx, award)
		if applyErr != nil {
			if errors.Is(applyErr, challenge.ErrMalformedRecord) {
				logger.ErrorContext(ctx, "award unit rejected", "player_id", award.PlayerID, "error", applyErr)
				result.Failed = append(result.Failed, award.PlayerID)
				continue
			}
			if errors.Is(applyErr, challenge.ErrAlreadyFinalized) {
				logger.WarnContext(ctx, "finalize stopped, challenge finalized by another run",
					"player_id", award.PlayerID,
					"applied", len(result.Applied),
				)
				return result, classifyStoreError("apply award for player "+award.PlayerID, applyErr)
			}
			logger.ErrorContext(ctx, "finalize stopped on store failure",
				"player_id", award.PlayerID,
				"applied", len(result.Applied),
				"error", applyErr,
			)
			return result, classifyStoreError("apply award for player "+award.PlayerID, applyErr)
		}

		result.Applied = append(result.Applied, applied)
		result.TotalDelta = result.TotalDelta.Add(applied.Delta)
		if award.Note == challenge.WithdrawnNote {
			result.Withdrawn = append(result.Withdrawn, award.PlayerID)
		}
	}

	if len(result.Failed) > 0 {
		return result, fmt.Errorf("%w: %d player unit(s) rejected for challenge %s: %s: %w",
			ErrConflict, len(result.Failed), input.ChallengeID, strings.Join(result.Failed, ","), challenge.ErrMalformedRecord)
	}

	if record.Policy == challenge.PolicyOneShot {
		if err := s.finalization.MarkFinalized(ctx, input.ChallengeID, result.Winners, now); err != nil {
			return result, err
		}
		result.Finalized = true
	}

	if err := s.repo.IncrementRunCount(ctx, input.ChallengeID); err != nil {
		logger.WarnContext(ctx, "increment run count failed", "error", err)
	}

	logger.InfoContext(ctx, "challenge finalize applied",
		"awards", len(result.Applied),
		"withdrawn", len(result.Withdrawn),
		"winners", result.Winners,
		"total_delta", result.TotalDelta,
	)
	return result, nil
}

// withdrawnAwards re-derives to zero every previously awarded player that the
// snapshot no longer contains. Awards already withdrawn are left alone.
func (s *LedgerService) withdrawnAwards(ctx context.Context, challengeID string, current []challenge.PointAward, at time.Time) ([]challenge.PointAward, error) {
	previous, err := s.repo.ListAwardsByChallenge(ctx, challengeID)
	if err != nil {
		return nil, classifyStoreError("list previous awards", err)
	}
	if len(previous) == 0 {
		return nil, nil
	}

	present := make(map[string]struct{}, len(current))
	for _, award := range current {
		present[award.PlayerID] = struct{}{}
	}

	out := make([]challenge.PointAward, 0)
	for _, award := range previous {
		if _, ok := present[award.PlayerID]; ok {
			continue
		}
		if award.Points.IsZero() && award.Note == challenge.WithdrawnNote {
			continue
		}
		out = append(out, challenge.WithdrawnAward(award, at))
	}
	return out, nil
}

// FinalizeQuiz scores answers against the challenge's answer key and
// finalizes the resulting snapshot with higher-is-better ranking.
func (s *LedgerService) FinalizeQuiz(ctx context.Context, input FinalizeQuizInput) (FinalizeResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.LedgerService.FinalizeQuiz", attribute.String("challenge.id", input.ChallengeID))
	var err error
	defer func() { endSpan(span, err) }()

	input.ChallengeID = strings.TrimSpace(input.ChallengeID)
	if err = validateInput(ctx, input); err != nil {
		return FinalizeResult{ChallengeID: input.ChallengeID}, err
	}

	var record challenge.FinalizationRecord
	record, err = s.finalization.GetChallenge(ctx, input.ChallengeID)
	if err != nil {
		return FinalizeResult{ChallengeID: input.ChallengeID}, err
	}
	if len(record.AnswerKey) == 0 {
		err = fmt.Errorf("%w: challenge %s has no answer key", ErrInvalidInput, input.ChallengeID)
		return FinalizeResult{ChallengeID: input.ChallengeID}, err
	}

	var scores map[string]float64
	scores, err = challenge.ScoreQuiz(challenge.QuestionsFromAnswerKey(record.AnswerKey), input.Answers)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidInput, err)
		return FinalizeResult{ChallengeID: input.ChallengeID}, err
	}

	var result FinalizeResult
	result, err = s.FinalizeChallenge(ctx, FinalizeInput{
		ChallengeID:    input.ChallengeID,
		ScoresByPlayer: scores,
		HigherIsBetter: true,
		Note:           input.Note,
	})
	return result, err
}

// FinalizeBatch finalizes independent challenges concurrently. Results keep
// the input order and each item carries its own error.
func (s *LedgerService) FinalizeBatch(ctx context.Context, inputs []FinalizeInput) []BatchItemResult {
	ctx, span := startUsecaseSpan(ctx, "usecase.LedgerService.FinalizeBatch", attribute.Int("batch.size", len(inputs)))
	defer span.End()

	results := make([]BatchItemResult, len(inputs))
	p := pool.New().WithMaxGoroutines(s.batchWorkers)
	for i, input := range inputs {
		p.Go(func() {
			res, err := s.FinalizeChallenge(ctx, input)
			results[i] = BatchItemResult{ChallengeID: res.ChallengeID, Result: res, Err: err}
		})
	}
	p.Wait()

	failed := 0
	for _, item := range results {
		if item.Err != nil {
			failed++
		}
	}
	s.logger.InfoContext(ctx, "batch finalize completed", "items", len(inputs), "failed", failed)
	return results
}

func snapshotFingerprint(ranked []challenge.RankedEntry, multiplier decimal.Decimal, higherIsBetter bool, note string) string {
	entries := append([]challenge.RankedEntry(nil), ranked...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].PlayerID < entries[j].PlayerID })

	h := sha256.New()
	for _, entry := range entries {
		h.Write([]byte(entry.PlayerID))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatFloat(entry.RawScore, 'g', -1, 64)))
		h.Write([]byte{0})
	}
	h.Write([]byte(multiplier.String()))
	h.Write([]byte(strconv.FormatBool(higherIsBetter)))
	h.Write([]byte(strings.TrimSpace(note)))
	return hex.EncodeToString(h.Sum(nil))
}
