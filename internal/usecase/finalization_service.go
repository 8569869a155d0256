package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/riskibarqy/challenge-ledger/internal/platform/logging"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// SeedChallengeInput configures a challenge before it is finalized.
type SeedChallengeInput struct {
	ChallengeID string            `json:"challenge_id" yaml:"challenge_id" validate:"required,max=128"`
	Policy      string            `json:"policy" yaml:"policy" validate:"required,oneof=idempotent one_shot"`
	WinnerBonus float64           `json:"winner_bonus" yaml:"winner_bonus" validate:"gte=0"`
	PrizeTable  []float64         `json:"prize_table" yaml:"prize_table" validate:"omitempty,dive,gte=0"`
	WinnerNote  string            `json:"winner_note" yaml:"winner_note" validate:"max=256"`
	AnswerKey   map[string]string `json:"answer_key" yaml:"answer_key" validate:"omitempty,dive,keys,required,endkeys,required"`
}

// FinalizationService owns the per-challenge finalization record and the
// one-shot Open -> Finalized lock.
type FinalizationService struct {
	repo   challenge.Repository
	logger *logging.Logger
	now    func() time.Time
}

func NewFinalizationService(repo challenge.Repository, logger *logging.Logger) *FinalizationService {
	if logger == nil {
		logger = logging.Default()
	}
	return &FinalizationService{
		repo:   repo,
		logger: logger.Named("finalization"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CheckCanFinalize returns the record finalize should run against. Challenges
// without a record are ad-hoc idempotent challenges.
func (s *FinalizationService) CheckCanFinalize(ctx context.Context, challengeID string) (_ challenge.FinalizationRecord, err error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.FinalizationService.CheckCanFinalize", attribute.String("challenge.id", challengeID))
	defer func() { endSpan(span, err) }()

	record, ok, err := s.repo.GetFinalization(ctx, challengeID)
	if err != nil {
		return challenge.FinalizationRecord{}, classifyStoreError("get finalization record", err)
	}
	if !ok {
		return challenge.AdHocRecord(challengeID), nil
	}
	if err := record.CheckCanFinalize(); err != nil {
		return record, fmt.Errorf("%w: %w", ErrAlreadyFinalized, err)
	}
	return record, nil
}

// MarkFinalized performs the compare-and-set Open -> Finalized transition.
// Losing the race to another finalize returns ErrAlreadyFinalized.
func (s *FinalizationService) MarkFinalized(ctx context.Context, challengeID string, winners []string, finalizedAt time.Time) error {
	ctx, span := startUsecaseSpan(ctx, "usecase.FinalizationService.MarkFinalized", attribute.String("challenge.id", challengeID))
	var err error
	defer func() { endSpan(span, err) }()

	var won bool
	won, err = s.repo.MarkFinalized(ctx, challengeID, winners, finalizedAt.UTC())
	if err != nil {
		if errors.Is(err, challenge.ErrChallengeNotFound) {
			err = fmt.Errorf("%w: challenge %s", ErrNotFound, challengeID)
			return err
		}
		err = classifyStoreError("mark finalized", err)
		return err
	}
	if !won {
		err = fmt.Errorf("%w: challenge %s was finalized concurrently", ErrAlreadyFinalized, challengeID)
		return err
	}

	s.logger.InfoContext(ctx, "challenge finalized", "challenge_id", challengeID, "winners", winners)
	return nil
}

// SeedChallenge creates or reconfigures an Open record. Finalized one-shot
// records are immutable.
func (s *FinalizationService) SeedChallenge(ctx context.Context, input SeedChallengeInput) (_ challenge.FinalizationRecord, err error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.FinalizationService.SeedChallenge", attribute.String("challenge.id", input.ChallengeID))
	defer func() { endSpan(span, err) }()

	input.ChallengeID = strings.TrimSpace(input.ChallengeID)
	if err := validateInput(ctx, input); err != nil {
		return challenge.FinalizationRecord{}, err
	}
	if math.IsInf(input.WinnerBonus, 0) {
		return challenge.FinalizationRecord{}, fmt.Errorf("%w: winner_bonus must be finite", ErrInvalidInput)
	}

	existing, ok, err := s.repo.GetFinalization(ctx, input.ChallengeID)
	if err != nil {
		return challenge.FinalizationRecord{}, classifyStoreError("get finalization record", err)
	}
	if ok {
		if err := existing.CheckCanFinalize(); err != nil {
			return existing, fmt.Errorf("%w: cannot reseed: %w", ErrAlreadyFinalized, err)
		}
	}

	now := s.now()
	record := challenge.FinalizationRecord{
		ChallengeID: input.ChallengeID,
		Policy:      challenge.Policy(input.Policy),
		WinnerBonus: decimal.NewFromFloat(input.WinnerBonus),
		WinnerNote:  strings.TrimSpace(input.WinnerNote),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, prize := range input.PrizeTable {
		if math.IsInf(prize, 0) {
			return challenge.FinalizationRecord{}, fmt.Errorf("%w: prize_table values must be finite", ErrInvalidInput)
		}
		record.PrizeTable = append(record.PrizeTable, decimal.NewFromFloat(prize))
	}
	if len(input.AnswerKey) > 0 {
		record.AnswerKey = make(map[string]string, len(input.AnswerKey))
		for k, v := range input.AnswerKey {
			record.AnswerKey[strings.TrimSpace(k)] = v
		}
	}
	if ok {
		record.CreatedAt = existing.CreatedAt
		record.RunCount = existing.RunCount
	}

	if err := s.repo.UpsertFinalization(ctx, record); err != nil {
		return challenge.FinalizationRecord{}, classifyStoreError("upsert finalization record", err)
	}

	s.logger.InfoContext(ctx, "challenge seeded",
		"challenge_id", record.ChallengeID,
		"policy", string(record.Policy),
		"reseed", ok,
	)
	return record, nil
}

func (s *FinalizationService) GetChallenge(ctx context.Context, challengeID string) (_ challenge.FinalizationRecord, err error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.FinalizationService.GetChallenge", attribute.String("challenge.id", challengeID))
	defer func() { endSpan(span, err) }()

	challengeID = strings.TrimSpace(challengeID)
	if challengeID == "" {
		return challenge.FinalizationRecord{}, fmt.Errorf("%w: challenge id is required", ErrInvalidInput)
	}

	record, ok, err := s.repo.GetFinalization(ctx, challengeID)
	if err != nil {
		return challenge.FinalizationRecord{}, classifyStoreError("get finalization record", err)
	}
	if !ok {
		return challenge.FinalizationRecord{}, fmt.Errorf("%w: challenge %s", ErrNotFound, challengeID)
	}
	return record, nil
}
