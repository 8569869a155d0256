package guarded

import (
	"context"
	"errors"
	"time"

	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/riskibarqy/challenge-ledger/internal/platform/logging"
	"github.com/riskibarqy/challenge-ledger/internal/platform/resilience"
)

// LedgerRepository runs every store call through a circuit breaker. Only
// transient failures count against the breaker, and a rejected call is
// reported as transient so callers treat it like an unavailable store.
type LedgerRepository struct {
	next    challenge.Repository
	breaker *resilience.CircuitBreaker
}

func NewLedgerRepository(next challenge.Repository, cfg resilience.CircuitBreakerConfig, logger *logging.Logger) *LedgerRepository {
	if !cfg.Enabled {
		return &LedgerRepository{next: next}
	}
	if logger == nil {
		logger = logging.Default()
	}

	breaker := resilience.NewCircuitBreaker(cfg)
	breaker.OnStateChange(func(from, to resilience.CircuitState) {
		logger.Warn("ledger store circuit breaker state changed",
			"from", string(from),
			"to", string(to),
		)
	})
	return &LedgerRepository{next: next, breaker: breaker}
}

func (r *LedgerRepository) State() resilience.CircuitState {
	if r.breaker == nil {
		return resilience.CircuitStateClosed
	}
	return r.breaker.State()
}

func guard[T any](r *LedgerRepository, op string, fn func() (T, error)) (T, error) {
	if r.breaker == nil {
		return fn()
	}

	var out T
	err := r.breaker.Execute(func() error {
		var err error
		out, err = fn()
		return err
	}, challenge.IsTransient)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return out, challenge.MarkTransient(err, op)
	}
	return out, err
}

type pair[A, B any] struct {
	a A
	b B
}

func (r *LedgerRepository) GetFinalization(ctx context.Context, challengeID string) (challenge.FinalizationRecord, bool, error) {
	res, err := guard(r, "get finalization", func() (pair[challenge.FinalizationRecord, bool], error) {
		record, ok, err := r.next.GetFinalization(ctx, challengeID)
		return pair[challenge.FinalizationRecord, bool]{record, ok}, err
	})
	return res.a, res.b, err
}

func (r *LedgerRepository) UpsertFinalization(ctx context.Context, record challenge.FinalizationRecord) error {
	_, err := guard(r, "upsert finalization", func() (struct{}, error) {
		return struct{}{}, r.next.UpsertFinalization(ctx, record)
	})
	return err
}

func (r *LedgerRepository) MarkFinalized(ctx context.Context, challengeID string, winners []string, finalizedAt time.Time) (bool, error) {
	return guard(r, "mark finalized", func() (bool, error) {
		return r.next.MarkFinalized(ctx, challengeID, winners, finalizedAt)
	})
}

func (r *LedgerRepository) IncrementRunCount(ctx context.Context, challengeID string) error {
	_, err := guard(r, "increment run count", func() (struct{}, error) {
		return struct{}{}, r.next.IncrementRunCount(ctx, challengeID)
	})
	return err
}

func (r *LedgerRepository) GetAward(ctx context.Context, challengeID, playerID string) (challenge.PointAward, bool, error) {
	res, err := guard(r, "get award", func() (pair[challenge.PointAward, bool], error) {
		award, ok, err := r.next.GetAward(ctx, challengeID, playerID)
		return pair[challenge.PointAward, bool]{award, ok}, err
	})
	return res.a, res.b, err
}

func (r *LedgerRepository) ApplyAward(ctx context.Context, award challenge.PointAward) (challenge.AwardApplication, error) {
	return guard(r, "apply award", func() (challenge.AwardApplication, error) {
		return r.next.ApplyAward(ctx, award)
	})
}

func (r *LedgerRepository) ListAwardsByPlayer(ctx context.Context, playerID string) ([]challenge.PointAward, error) {
	return guard(r, "list awards by player", func() ([]challenge.PointAward, error) {
		return r.next.ListAwardsByPlayer(ctx, playerID)
	})
}

func (r *LedgerRepository) ListAwardsByChallenge(ctx context.Context, challengeID string) ([]challenge.PointAward, error) {
	return guard(r, "list awards by challenge", func() ([]challenge.PointAward, error) {
		return r.next.ListAwardsByChallenge(ctx, challengeID)
	})
}

func (r *LedgerRepository) GetAggregate(ctx context.Context, playerID string) (challenge.PlayerAggregate, bool, error) {
	res, err := guard(r, "get aggregate", func() (pair[challenge.PlayerAggregate, bool], error) {
		aggregate, ok, err := r.next.GetAggregate(ctx, playerID)
		return pair[challenge.PlayerAggregate, bool]{aggregate, ok}, err
	})
	return res.a, res.b, err
}

func (r *LedgerRepository) ListAggregates(ctx context.Context) ([]challenge.PlayerAggregate, error) {
	return guard(r, "list aggregates", func() ([]challenge.PlayerAggregate, error) {
		return r.next.ListAggregates(ctx)
	})
}
