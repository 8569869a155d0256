package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lib/pq"
	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/shopspring/decimal"
)

type finalizationTableModel struct {
	ChallengeID string          `db:"challenge_id"`
	Policy      string          `db:"policy"`
	IsFinalized bool            `db:"is_finalized"`
	Winners     pq.StringArray  `db:"winners"`
	WinnerBonus decimal.Decimal `db:"winner_bonus"`
	PrizeTable  sql.NullString  `db:"prize_table"`
	WinnerNote  string          `db:"winner_note"`
	AnswerKey   sql.NullString  `db:"answer_key"`
	FinalizedAt sql.NullTime    `db:"finalized_at"`
	RunCount    int64           `db:"run_count"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// finalizationGuardModel is the slice of a finalization row a per-player unit
// checks before writing.
type finalizationGuardModel struct {
	Policy      string `db:"policy"`
	IsFinalized bool   `db:"is_finalized"`
}

type finalizationInsertModel struct {
	ChallengeID string          `db:"challenge_id"`
	Policy      string          `db:"policy"`
	Winners     pq.StringArray  `db:"winners"`
	WinnerBonus decimal.Decimal `db:"winner_bonus"`
	PrizeTable  sql.NullString  `db:"prize_table"`
	WinnerNote  string          `db:"winner_note"`
	AnswerKey   sql.NullString  `db:"answer_key"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

type awardTableModel struct {
	ChallengeID string              `db:"challenge_id"`
	PlayerID    string              `db:"player_id"`
	Rank        int                 `db:"rank"`
	RawScore    decimal.Decimal     `db:"raw_score"`
	Multiplier  decimal.NullDecimal `db:"multiplier"`
	BasePoints  decimal.Decimal     `db:"base_points"`
	BonusPoints decimal.Decimal     `db:"bonus_points"`
	Points      decimal.Decimal     `db:"points"`
	Note        string              `db:"note"`
	CreatedAt   time.Time           `db:"created_at"`
	UpdatedAt   time.Time           `db:"updated_at"`
}

type aggregateTableModel struct {
	PlayerID    string          `db:"player_id"`
	TotalPoints decimal.Decimal `db:"total_points"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func toFinalizationInsertModel(record challenge.FinalizationRecord, now time.Time) (finalizationInsertModel, error) {
	prizeTable, err := encodeJSONB(record.PrizeTable, len(record.PrizeTable) > 0)
	if err != nil {
		return finalizationInsertModel{}, fmt.Errorf("encode prize table: %w", err)
	}
	answerKey, err := encodeJSONB(record.AnswerKey, len(record.AnswerKey) > 0)
	if err != nil {
		return finalizationInsertModel{}, fmt.Errorf("encode answer key: %w", err)
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	winners := pq.StringArray(record.Winners)
	if winners == nil {
		winners = pq.StringArray{}
	}
	return finalizationInsertModel{
		ChallengeID: record.ChallengeID,
		Policy:      string(record.Policy),
		Winners:     winners,
		WinnerBonus: record.WinnerBonus,
		PrizeTable:  prizeTable,
		WinnerNote:  record.WinnerNote,
		AnswerKey:   answerKey,
		CreatedAt:   createdAt.UTC(),
		UpdatedAt:   now,
	}, nil
}

func (m finalizationTableModel) toDomain() (challenge.FinalizationRecord, error) {
	record := challenge.FinalizationRecord{
		ChallengeID: m.ChallengeID,
		Policy:      challenge.Policy(m.Policy),
		IsFinalized: m.IsFinalized,
		Winners:     []string(m.Winners),
		WinnerBonus: m.WinnerBonus,
		WinnerNote:  m.WinnerNote,
		RunCount:    m.RunCount,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
	if !record.Policy.Valid() {
		return challenge.FinalizationRecord{}, fmt.Errorf("%w: finalization record %s: unknown policy %q", challenge.ErrMalformedRecord, m.ChallengeID, m.Policy)
	}
	if m.FinalizedAt.Valid {
		at := m.FinalizedAt.Time.UTC()
		record.FinalizedAt = &at
	}
	if m.PrizeTable.Valid {
		if err := sonic.UnmarshalString(m.PrizeTable.String, &record.PrizeTable); err != nil {
			return challenge.FinalizationRecord{}, fmt.Errorf("%w: finalization record %s: prize_table: %v", challenge.ErrMalformedRecord, m.ChallengeID, err)
		}
	}
	if m.AnswerKey.Valid {
		if err := sonic.UnmarshalString(m.AnswerKey.String, &record.AnswerKey); err != nil {
			return challenge.FinalizationRecord{}, fmt.Errorf("%w: finalization record %s: answer_key: %v", challenge.ErrMalformedRecord, m.ChallengeID, err)
		}
	}
	return record, nil
}

func fromAward(award challenge.PointAward) awardTableModel {
	return awardTableModel{
		ChallengeID: award.ChallengeID,
		PlayerID:    award.PlayerID,
		Rank:        award.Rank,
		RawScore:    award.RawScore,
		Multiplier:  award.Multiplier,
		BasePoints:  award.BasePoints,
		BonusPoints: award.BonusPoints,
		Points:      award.Points,
		Note:        award.Note,
		CreatedAt:   award.CreatedAt.UTC(),
		UpdatedAt:   award.UpdatedAt.UTC(),
	}
}

func (m awardTableModel) toDomain() challenge.PointAward {
	return challenge.PointAward{
		ChallengeID: m.ChallengeID,
		PlayerID:    m.PlayerID,
		Rank:        m.Rank,
		RawScore:    m.RawScore,
		Multiplier:  m.Multiplier,
		BasePoints:  m.BasePoints,
		BonusPoints: m.BonusPoints,
		Points:      m.Points,
		Note:        m.Note,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

func (m aggregateTableModel) toDomain() challenge.PlayerAggregate {
	return challenge.PlayerAggregate{
		PlayerID:    m.PlayerID,
		TotalPoints: m.TotalPoints,
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

// encodeJSONB returns a text value; pq would send []byte as bytea.
func encodeJSONB(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	raw, err := sonic.MarshalString(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: raw, Valid: true}, nil
}
