package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/riskibarqy/challenge-ledger/internal/infrastructure/repository/document"
	"github.com/shopspring/decimal"
)

// LedgerRepository keeps records as encoded JSON documents, the way a remote
// document store would, and decodes them on every read. One mutex section
// covers each per-player award unit.
type LedgerRepository struct {
	mu            sync.RWMutex
	finalizations map[string][]byte
	awards        map[string][]byte
	aggregates    map[string][]byte
	byPlayer      map[string]map[string]struct{}
	byChallenge   map[string]map[string]struct{}
	now           func() time.Time
}

func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{
		finalizations: make(map[string][]byte),
		awards:        make(map[string][]byte),
		aggregates:    make(map[string][]byte),
		byPlayer:      make(map[string]map[string]struct{}),
		byChallenge:   make(map[string]map[string]struct{}),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func awardKey(challengeID, playerID string) string {
	return challenge.AwardKey{ChallengeID: challengeID, PlayerID: playerID}.String()
}

func (r *LedgerRepository) GetFinalization(_ context.Context, challengeID string) (challenge.FinalizationRecord, bool, error) {
	r.mu.RLock()
	raw, ok := r.finalizations[challengeID]
	r.mu.RUnlock()
	if !ok {
		return challenge.FinalizationRecord{}, false, nil
	}

	record, err := document.DecodeFinalization(raw)
	if err != nil {
		return challenge.FinalizationRecord{}, false, err
	}
	return record, true, nil
}

func (r *LedgerRepository) UpsertFinalization(_ context.Context, record challenge.FinalizationRecord) error {
	now := r.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	if raw, ok := r.finalizations[record.ChallengeID]; ok {
		existing, err := document.DecodeFinalization(raw)
		if err != nil {
			return err
		}
		if err := existing.CheckCanFinalize(); err != nil {
			return err
		}
		record.CreatedAt = existing.CreatedAt
	}

	raw, err := document.EncodeFinalization(record)
	if err != nil {
		return err
	}
	r.finalizations[record.ChallengeID] = raw
	return nil
}

func (r *LedgerRepository) MarkFinalized(_ context.Context, challengeID string, winners []string, finalizedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, ok := r.finalizations[challengeID]
	if !ok {
		return false, fmt.Errorf("%w: %s", challenge.ErrChallengeNotFound, challengeID)
	}
	record, err := document.DecodeFinalization(raw)
	if err != nil {
		return false, err
	}
	if record.State() == challenge.StateFinalized {
		return false, nil
	}
	if err := record.MarkFinalized(winners, finalizedAt); err != nil {
		return false, err
	}

	raw, err = document.EncodeFinalization(record)
	if err != nil {
		return false, err
	}
	r.finalizations[challengeID] = raw
	return true, nil
}

func (r *LedgerRepository) IncrementRunCount(_ context.Context, challengeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, ok := r.finalizations[challengeID]
	if !ok {
		return nil
	}
	record, err := document.DecodeFinalization(raw)
	if err != nil {
		return err
	}
	record.RunCount++
	record.UpdatedAt = r.now()

	raw, err = document.EncodeFinalization(record)
	if err != nil {
		return err
	}
	r.finalizations[challengeID] = raw
	return nil
}

func (r *LedgerRepository) GetAward(_ context.Context, challengeID, playerID string) (challenge.PointAward, bool, error) {
	r.mu.RLock()
	raw, ok := r.awards[awardKey(challengeID, playerID)]
	r.mu.RUnlock()
	if !ok {
		return challenge.PointAward{}, false, nil
	}

	award, err := document.DecodeAward(raw)
	if err != nil {
		return challenge.PointAward{}, false, err
	}
	return award, true, nil
}

// ApplyAward decodes both the previous award and the aggregate before writing
// anything, so a malformed document leaves the unit untouched.
func (r *LedgerRepository) ApplyAward(ctx context.Context, award challenge.PointAward) (challenge.AwardApplication, error) {
	if err := ctx.Err(); err != nil {
		return challenge.AwardApplication{}, err
	}

	key := awardKey(award.ChallengeID, award.PlayerID)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if raw, ok := r.finalizations[award.ChallengeID]; ok {
		record, err := document.DecodeFinalization(raw)
		if err != nil {
			return challenge.AwardApplication{}, fmt.Errorf("finalization %s: %w", award.ChallengeID, err)
		}
		if err := record.CheckCanFinalize(); err != nil {
			return challenge.AwardApplication{}, err
		}
	}

	previousPoints := decimal.Zero
	created := true
	if raw, ok := r.awards[key]; ok {
		previous, err := document.DecodeAward(raw)
		if err != nil {
			return challenge.AwardApplication{}, fmt.Errorf("previous award %s: %w", key, err)
		}
		previousPoints = previous.Points
		award.CreatedAt = previous.CreatedAt
		created = false
	}
	if award.CreatedAt.IsZero() {
		award.CreatedAt = now
	}
	award.UpdatedAt = now

	aggregate := challenge.PlayerAggregate{PlayerID: award.PlayerID, TotalPoints: decimal.Zero}
	if raw, ok := r.aggregates[award.PlayerID]; ok {
		decoded, err := document.DecodeAggregate(raw)
		if err != nil {
			return challenge.AwardApplication{}, fmt.Errorf("aggregate %s: %w", award.PlayerID, err)
		}
		aggregate = decoded
	}

	delta := award.Points.Sub(previousPoints)
	aggregate.TotalPoints = aggregate.TotalPoints.Add(delta)
	aggregate.UpdatedAt = now

	awardRaw, err := document.EncodeAward(award)
	if err != nil {
		return challenge.AwardApplication{}, err
	}
	aggregateRaw, err := document.EncodeAggregate(aggregate)
	if err != nil {
		return challenge.AwardApplication{}, err
	}

	r.awards[key] = awardRaw
	r.aggregates[award.PlayerID] = aggregateRaw
	index(r.byPlayer, award.PlayerID, award.ChallengeID)
	index(r.byChallenge, award.ChallengeID, award.PlayerID)

	return challenge.AwardApplication{
		Award:          award,
		PreviousPoints: previousPoints,
		Delta:          delta,
		Created:        created,
	}, nil
}

func (r *LedgerRepository) ListAwardsByPlayer(_ context.Context, playerID string) ([]challenge.PointAward, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]challenge.PointAward, 0, len(r.byPlayer[playerID]))
	for challengeID := range r.byPlayer[playerID] {
		award, err := document.DecodeAward(r.awards[awardKey(challengeID, playerID)])
		if err != nil {
			return nil, err
		}
		out = append(out, award)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChallengeID < out[j].ChallengeID })
	return out, nil
}

func (r *LedgerRepository) ListAwardsByChallenge(_ context.Context, challengeID string) ([]challenge.PointAward, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]challenge.PointAward, 0, len(r.byChallenge[challengeID]))
	for playerID := range r.byChallenge[challengeID] {
		award, err := document.DecodeAward(r.awards[awardKey(challengeID, playerID)])
		if err != nil {
			return nil, err
		}
		out = append(out, award)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func (r *LedgerRepository) GetAggregate(_ context.Context, playerID string) (challenge.PlayerAggregate, bool, error) {
	r.mu.RLock()
	raw, ok := r.aggregates[playerID]
	r.mu.RUnlock()
	if !ok {
		return challenge.PlayerAggregate{}, false, nil
	}

	aggregate, err := document.DecodeAggregate(raw)
	if err != nil {
		return challenge.PlayerAggregate{}, false, err
	}
	return aggregate, true, nil
}

func (r *LedgerRepository) ListAggregates(_ context.Context) ([]challenge.PlayerAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]challenge.PlayerAggregate, 0, len(r.aggregates))
	for _, raw := range r.aggregates {
		aggregate, err := document.DecodeAggregate(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, aggregate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func index(idx map[string]map[string]struct{}, outer, inner string) {
	set, ok := idx[outer]
	if !ok {
		set = make(map[string]struct{})
		idx[outer] = set
	}
	set[inner] = struct{}{}
}
