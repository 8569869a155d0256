package challenge

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawnNote marks awards re-derived to zero because the player left the snapshot.
const WithdrawnNote = "withdrawn"

// ScoringFunc maps a ranked entry to its base points, multiplier included.
type ScoringFunc func(rank int, rawScore decimal.Decimal) decimal.Decimal

// RawScorePoints awards rawScore * multiplier.
func RawScorePoints(multiplier decimal.Decimal) ScoringFunc {
	return func(_ int, rawScore decimal.Decimal) decimal.Decimal {
		return rawScore.Mul(multiplier)
	}
}

// PrizeTablePoints awards table[rank-1] * multiplier; ranks beyond the table get zero.
func PrizeTablePoints(table []decimal.Decimal, multiplier decimal.Decimal) ScoringFunc {
	prizes := append([]decimal.Decimal(nil), table...)
	return func(rank int, _ decimal.Decimal) decimal.Decimal {
		if rank < 1 || rank > len(prizes) {
			return decimal.Zero
		}
		return prizes[rank-1].Mul(multiplier)
	}
}

// NormalizeMultiplier treats 0 as the default multiplier of 1.
func NormalizeMultiplier(v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, fmt.Errorf("%w: %v is not finite", ErrInvalidMultiplier, v)
	}
	if v < 0 {
		return decimal.Zero, fmt.Errorf("%w: %v is negative", ErrInvalidMultiplier, v)
	}
	if v == 0 {
		return decimal.NewFromInt(1), nil
	}
	return decimal.NewFromFloat(v), nil
}

// Calculator turns ranked entries into point awards.
type Calculator struct {
	Scoring     ScoringFunc
	Multiplier  decimal.Decimal
	WinnerBonus decimal.Decimal
	WinnerNote  string
	Note        string
}

// NewCalculator picks the prize table policy when the record has one and the
// raw-score policy otherwise.
func NewCalculator(record FinalizationRecord, multiplier decimal.Decimal, note string) Calculator {
	scoring := RawScorePoints(multiplier)
	if len(record.PrizeTable) > 0 {
		scoring = PrizeTablePoints(record.PrizeTable, multiplier)
	}
	return Calculator{
		Scoring:     scoring,
		Multiplier:  multiplier,
		WinnerBonus: record.WinnerBonus,
		WinnerNote:  record.WinnerNote,
		Note:        note,
	}
}

func (c Calculator) Calculate(challengeID string, ranked []RankedEntry, at time.Time) []PointAward {
	scoring := c.Scoring
	if scoring == nil {
		scoring = RawScorePoints(decimal.NewFromInt(1))
	}

	multiplier := decimal.NullDecimal{}
	if !c.Multiplier.IsZero() && !c.Multiplier.Equal(decimal.NewFromInt(1)) {
		multiplier = decimal.NullDecimal{Decimal: c.Multiplier, Valid: true}
	}

	out := make([]PointAward, 0, len(ranked))
	for _, entry := range ranked {
		raw := decimal.NewFromFloat(entry.RawScore)
		base := scoring(entry.Rank, raw)
		bonus := decimal.Zero
		note := c.Note
		if entry.Rank == 1 {
			bonus = c.WinnerBonus
			if c.WinnerNote != "" {
				note = c.WinnerNote
			}
		}

		out = append(out, PointAward{
			ChallengeID: challengeID,
			PlayerID:    entry.PlayerID,
			Rank:        entry.Rank,
			RawScore:    raw,
			Multiplier:  multiplier,
			BasePoints:  base,
			BonusPoints: bonus,
			Points:      base.Add(bonus),
			Note:        note,
			CreatedAt:   at,
			UpdatedAt:   at,
		})
	}
	return out
}

// WithdrawnAward re-derives a previously awarded player to zero points.
func WithdrawnAward(previous PointAward, at time.Time) PointAward {
	return PointAward{
		ChallengeID: previous.ChallengeID,
		PlayerID:    previous.PlayerID,
		Rank:        0,
		RawScore:    decimal.Zero,
		BasePoints:  decimal.Zero,
		BonusPoints: decimal.Zero,
		Points:      decimal.Zero,
		Note:        WithdrawnNote,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

// Winners returns the rank-1 player ids in sorted order.
func Winners(awards []PointAward) []string {
	out := make([]string, 0, 1)
	for _, award := range awards {
		if award.Rank == 1 {
			out = append(out, award.PlayerID)
		}
	}
	sort.Strings(out)
	return out
}
