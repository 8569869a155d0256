package challenge

import (
	"time"

	"github.com/shopspring/decimal"
)

type Policy string

const (
	PolicyIdempotent Policy = "idempotent"
	PolicyOneShot    Policy = "one_shot"
)

func (p Policy) Valid() bool {
	return p == PolicyIdempotent || p == PolicyOneShot
}

// PointAward is the ledger entry for one player in one challenge.
// Identity is (ChallengeID, PlayerID); re-finalizing overwrites it in place.
type PointAward struct {
	ChallengeID string
	PlayerID    string
	Rank        int
	RawScore    decimal.Decimal
	Multiplier  decimal.NullDecimal
	BasePoints  decimal.Decimal
	BonusPoints decimal.Decimal
	Points      decimal.Decimal
	Note        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (a PointAward) Key() AwardKey {
	return AwardKey{ChallengeID: a.ChallengeID, PlayerID: a.PlayerID}
}

type AwardKey struct {
	ChallengeID string
	PlayerID    string
}

func (k AwardKey) String() string {
	return k.ChallengeID + "::" + k.PlayerID
}

// PlayerAggregate is the denormalized sum of a player's current award points.
type PlayerAggregate struct {
	PlayerID    string
	TotalPoints decimal.Decimal
	UpdatedAt   time.Time
}

// AwardApplication reports what one atomic per-player unit changed.
type AwardApplication struct {
	Award          PointAward
	PreviousPoints decimal.Decimal
	Delta          decimal.Decimal
	Created        bool
}

// RankedEntry is one row produced by Rank.
type RankedEntry struct {
	PlayerID string
	Rank     int
	RawScore float64
}

// QuizQuestion pairs a question id with its accepted answer.
type QuizQuestion struct {
	ID     string
	Answer string
}
