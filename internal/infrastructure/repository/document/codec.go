// Package document encodes ledger records as JSON documents and decodes them
// back through an explicit validation step, so a missing or malformed field
// surfaces as challenge.ErrMalformedRecord instead of a silent zero value.
package document

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

type awardDocument struct {
	ChallengeID string           `json:"challenge_id" validate:"required"`
	PlayerID    string           `json:"player_id" validate:"required"`
	Rank        int              `json:"rank" validate:"gte=0"`
	RawScore    *decimal.Decimal `json:"raw_score" validate:"required"`
	Multiplier  *decimal.Decimal `json:"multiplier,omitempty"`
	BasePoints  *decimal.Decimal `json:"base_points" validate:"required"`
	BonusPoints *decimal.Decimal `json:"bonus_points" validate:"required"`
	Points      *decimal.Decimal `json:"points" validate:"required"`
	Note        string           `json:"note,omitempty"`
	CreatedAt   time.Time        `json:"created_at" validate:"required"`
	UpdatedAt   time.Time        `json:"updated_at" validate:"required"`
}

type aggregateDocument struct {
	PlayerID    string           `json:"player_id" validate:"required"`
	TotalPoints *decimal.Decimal `json:"total_points" validate:"required"`
	UpdatedAt   time.Time        `json:"updated_at" validate:"required"`
}

type finalizationDocument struct {
	ChallengeID string            `json:"challenge_id" validate:"required"`
	Policy      string            `json:"policy" validate:"required,oneof=idempotent one_shot"`
	IsFinalized bool              `json:"is_finalized"`
	Winners     []string          `json:"winners,omitempty" validate:"dive,required"`
	WinnerBonus *decimal.Decimal  `json:"winner_bonus" validate:"required"`
	PrizeTable  []decimal.Decimal `json:"prize_table,omitempty"`
	WinnerNote  string            `json:"winner_note,omitempty"`
	AnswerKey   map[string]string `json:"answer_key,omitempty" validate:"dive,keys,required,endkeys"`
	FinalizedAt *time.Time        `json:"finalized_at,omitempty"`
	RunCount    int64             `json:"run_count" validate:"gte=0"`
	CreatedAt   time.Time         `json:"created_at" validate:"required"`
	UpdatedAt   time.Time         `json:"updated_at" validate:"required"`
}

func EncodeAward(award challenge.PointAward) ([]byte, error) {
	doc := awardDocument{
		ChallengeID: award.ChallengeID,
		PlayerID:    award.PlayerID,
		Rank:        award.Rank,
		RawScore:    decimalPtr(award.RawScore),
		BasePoints:  decimalPtr(award.BasePoints),
		BonusPoints: decimalPtr(award.BonusPoints),
		Points:      decimalPtr(award.Points),
		Note:        award.Note,
		CreatedAt:   award.CreatedAt.UTC(),
		UpdatedAt:   award.UpdatedAt.UTC(),
	}
	if award.Multiplier.Valid {
		doc.Multiplier = decimalPtr(award.Multiplier.Decimal)
	}
	return encode(doc)
}

func DecodeAward(raw []byte) (challenge.PointAward, error) {
	var doc awardDocument
	if err := decode(raw, &doc, "point award"); err != nil {
		return challenge.PointAward{}, err
	}
	if !doc.BasePoints.Add(*doc.BonusPoints).Equal(*doc.Points) {
		return challenge.PointAward{}, fmt.Errorf("%w: point award %s/%s: points %s != base %s + bonus %s",
			challenge.ErrMalformedRecord, doc.ChallengeID, doc.PlayerID, doc.Points, doc.BasePoints, doc.BonusPoints)
	}

	out := challenge.PointAward{
		ChallengeID: doc.ChallengeID,
		PlayerID:    doc.PlayerID,
		Rank:        doc.Rank,
		RawScore:    *doc.RawScore,
		BasePoints:  *doc.BasePoints,
		BonusPoints: *doc.BonusPoints,
		Points:      *doc.Points,
		Note:        doc.Note,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	if doc.Multiplier != nil {
		out.Multiplier = decimal.NullDecimal{Decimal: *doc.Multiplier, Valid: true}
	}
	return out, nil
}

func EncodeAggregate(aggregate challenge.PlayerAggregate) ([]byte, error) {
	return encode(aggregateDocument{
		PlayerID:    aggregate.PlayerID,
		TotalPoints: decimalPtr(aggregate.TotalPoints),
		UpdatedAt:   aggregate.UpdatedAt.UTC(),
	})
}

func DecodeAggregate(raw []byte) (challenge.PlayerAggregate, error) {
	var doc aggregateDocument
	if err := decode(raw, &doc, "player aggregate"); err != nil {
		return challenge.PlayerAggregate{}, err
	}
	return challenge.PlayerAggregate{
		PlayerID:    doc.PlayerID,
		TotalPoints: *doc.TotalPoints,
		UpdatedAt:   doc.UpdatedAt,
	}, nil
}

func EncodeFinalization(record challenge.FinalizationRecord) ([]byte, error) {
	var finalizedAt *time.Time
	if record.FinalizedAt != nil {
		at := record.FinalizedAt.UTC()
		finalizedAt = &at
	}
	return encode(finalizationDocument{
		ChallengeID: record.ChallengeID,
		Policy:      string(record.Policy),
		IsFinalized: record.IsFinalized,
		Winners:     record.Winners,
		WinnerBonus: decimalPtr(record.WinnerBonus),
		PrizeTable:  record.PrizeTable,
		WinnerNote:  record.WinnerNote,
		AnswerKey:   record.AnswerKey,
		FinalizedAt: finalizedAt,
		RunCount:    record.RunCount,
		CreatedAt:   record.CreatedAt.UTC(),
		UpdatedAt:   record.UpdatedAt.UTC(),
	})
}

func DecodeFinalization(raw []byte) (challenge.FinalizationRecord, error) {
	var doc finalizationDocument
	if err := decode(raw, &doc, "finalization record"); err != nil {
		return challenge.FinalizationRecord{}, err
	}
	if doc.IsFinalized && doc.FinalizedAt == nil {
		return challenge.FinalizationRecord{}, fmt.Errorf("%w: finalization record %s: finalized_at is required when is_finalized is set",
			challenge.ErrMalformedRecord, doc.ChallengeID)
	}

	return challenge.FinalizationRecord{
		ChallengeID: doc.ChallengeID,
		Policy:      challenge.Policy(doc.Policy),
		IsFinalized: doc.IsFinalized,
		Winners:     doc.Winners,
		WinnerBonus: *doc.WinnerBonus,
		PrizeTable:  doc.PrizeTable,
		WinnerNote:  doc.WinnerNote,
		AnswerKey:   doc.AnswerKey,
		FinalizedAt: doc.FinalizedAt,
		RunCount:    doc.RunCount,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}, nil
}

func encode(doc any) ([]byte, error) {
	raw, err := sonic.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return raw, nil
}

func decode(raw []byte, doc any, kind string) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: %s: empty document", challenge.ErrMalformedRecord, kind)
	}
	if err := sonic.Unmarshal(raw, doc); err != nil {
		return fmt.Errorf("%w: %s: %v", challenge.ErrMalformedRecord, kind, err)
	}
	if err := validate.Struct(doc); err != nil {
		return fmt.Errorf("%w: %s: %s", challenge.ErrMalformedRecord, kind, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("field %s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func decimalPtr(v decimal.Decimal) *decimal.Decimal {
	return &v
}
