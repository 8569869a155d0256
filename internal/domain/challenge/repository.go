package challenge

import (
	"context"
	"time"
)

// Repository is the record store used by finalize and the read side.
type Repository interface {
	GetFinalization(ctx context.Context, challengeID string) (FinalizationRecord, bool, error)
	UpsertFinalization(ctx context.Context, record FinalizationRecord) error
	// MarkFinalized flips an open one-shot record to finalized. It returns
	// false when the record was already finalized.
	MarkFinalized(ctx context.Context, challengeID string, winners []string, finalizedAt time.Time) (bool, error)
	IncrementRunCount(ctx context.Context, challengeID string) error

	GetAward(ctx context.Context, challengeID, playerID string) (PointAward, bool, error)
	// ApplyAward reads the previous award, upserts the new one and increments the
	// player aggregate by the difference as one atomic unit.
	ApplyAward(ctx context.Context, award PointAward) (AwardApplication, error)
	ListAwardsByPlayer(ctx context.Context, playerID string) ([]PointAward, error)
	ListAwardsByChallenge(ctx context.Context, challengeID string) ([]PointAward, error)

	GetAggregate(ctx context.Context, playerID string) (PlayerAggregate, bool, error)
	ListAggregates(ctx context.Context) ([]PlayerAggregate, error)
}
