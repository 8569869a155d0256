package cache

import (
	"context"
	"time"

	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	basecache "github.com/riskibarqy/challenge-ledger/internal/platform/cache"
)

// LedgerRepository caches the player read side of a challenge.Repository.
// Invalidation only sees writes made through this instance, so every read a
// finalize run depends on (finalization records, awards of a challenge,
// single awards) goes to the store; other processes may share it. Every
// write drops the keys it can affect, including on error, since a failed
// write may still have committed.
type LedgerRepository struct {
	next           challenge.Repository
	aggregates     *basecache.Store[cachedAggregate]
	awardsByPlayer *basecache.Store[[]challenge.PointAward]
}

func NewLedgerRepository(next challenge.Repository, ttl time.Duration) *LedgerRepository {
	return &LedgerRepository{
		next:           next,
		aggregates:     basecache.NewStore[cachedAggregate](ttl),
		awardsByPlayer: basecache.NewStore[[]challenge.PointAward](ttl),
	}
}

type cachedAggregate struct {
	value  challenge.PlayerAggregate
	exists bool
}

// GetFinalization guards the one-shot lock and always reads through.
func (r *LedgerRepository) GetFinalization(ctx context.Context, challengeID string) (challenge.FinalizationRecord, bool, error) {
	return r.next.GetFinalization(ctx, challengeID)
}

func (r *LedgerRepository) UpsertFinalization(ctx context.Context, record challenge.FinalizationRecord) error {
	return r.next.UpsertFinalization(ctx, record)
}

func (r *LedgerRepository) MarkFinalized(ctx context.Context, challengeID string, winners []string, finalizedAt time.Time) (bool, error) {
	return r.next.MarkFinalized(ctx, challengeID, winners, finalizedAt)
}

func (r *LedgerRepository) IncrementRunCount(ctx context.Context, challengeID string) error {
	return r.next.IncrementRunCount(ctx, challengeID)
}

// GetAward is read inside finalize runs and is never cached.
func (r *LedgerRepository) GetAward(ctx context.Context, challengeID, playerID string) (challenge.PointAward, bool, error) {
	return r.next.GetAward(ctx, challengeID, playerID)
}

func (r *LedgerRepository) ApplyAward(ctx context.Context, award challenge.PointAward) (challenge.AwardApplication, error) {
	defer func() {
		r.aggregates.Delete(ctx, "aggregate:"+award.PlayerID)
		r.awardsByPlayer.Delete(ctx, "awards:player:"+award.PlayerID)
	}()
	return r.next.ApplyAward(ctx, award)
}

func (r *LedgerRepository) ListAwardsByPlayer(ctx context.Context, playerID string) ([]challenge.PointAward, error) {
	items, err := r.awardsByPlayer.GetOrLoad(ctx, "awards:player:"+playerID, func(ctx context.Context) ([]challenge.PointAward, error) {
		return r.next.ListAwardsByPlayer(ctx, playerID)
	})
	if err != nil {
		return nil, err
	}
	return append([]challenge.PointAward(nil), items...), nil
}

// ListAwardsByChallenge is the withdrawal baseline of finalize runs and
// always reads through.
func (r *LedgerRepository) ListAwardsByChallenge(ctx context.Context, challengeID string) ([]challenge.PointAward, error) {
	return r.next.ListAwardsByChallenge(ctx, challengeID)
}

func (r *LedgerRepository) GetAggregate(ctx context.Context, playerID string) (challenge.PlayerAggregate, bool, error) {
	cached, err := r.aggregates.GetOrLoad(ctx, "aggregate:"+playerID, func(ctx context.Context) (cachedAggregate, error) {
		aggregate, exists, err := r.next.GetAggregate(ctx, playerID)
		if err != nil {
			return cachedAggregate{}, err
		}
		return cachedAggregate{value: aggregate, exists: exists}, nil
	})
	if err != nil {
		return challenge.PlayerAggregate{}, false, err
	}
	return cached.value, cached.exists, nil
}

// ListAggregates feeds the audit and always reads through.
func (r *LedgerRepository) ListAggregates(ctx context.Context) ([]challenge.PlayerAggregate, error) {
	return r.next.ListAggregates(ctx)
}
