package memory

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pointsAward(challengeID, playerID string, points int64) challenge.PointAward {
	return challenge.PointAward{
		ChallengeID: challengeID,
		PlayerID:    playerID,
		Rank:        1,
		RawScore:    decimal.NewFromInt(points),
		BasePoints:  decimal.NewFromInt(points),
		BonusPoints: decimal.Zero,
		Points:      decimal.NewFromInt(points),
	}
}

func TestLedgerRepository_ApplyAwardTracksDelta(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewLedgerRepository()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return first }

	applied, err := repo.ApplyAward(ctx, pointsAward("ch-1", "a", 10))
	require.NoError(t, err)
	assert.True(t, applied.Created)
	assert.True(t, applied.Delta.Equal(decimal.NewFromInt(10)))

	repo.now = func() time.Time { return first.Add(time.Hour) }
	applied, err = repo.ApplyAward(ctx, pointsAward("ch-1", "a", 5))
	require.NoError(t, err)
	assert.False(t, applied.Created)
	assert.True(t, applied.PreviousPoints.Equal(decimal.NewFromInt(10)))
	assert.True(t, applied.Delta.Equal(decimal.NewFromInt(-5)))

	award, ok, err := repo.GetAward(ctx, "ch-1", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, award.Points.Equal(decimal.NewFromInt(5)))
	assert.True(t, award.CreatedAt.Equal(first), "created_at must keep the first award time")
	assert.True(t, award.UpdatedAt.Equal(first.Add(time.Hour)))

	_, err = repo.ApplyAward(ctx, pointsAward("ch-2", "a", 3))
	require.NoError(t, err)

	aggregate, ok, err := repo.GetAggregate(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "8", aggregate.TotalPoints.String())

	byPlayer, err := repo.ListAwardsByPlayer(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, byPlayer, 2)
}

func TestLedgerRepository_ConcurrentUnitsStayConsistent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewLedgerRepository()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(points int64) {
			defer wg.Done()
			_, err := repo.ApplyAward(ctx, pointsAward("ch-1", "a", points))
			assert.NoError(t, err)
		}(int64(i % 7))
	}
	wg.Wait()

	award, _, err := repo.GetAward(ctx, "ch-1", "a")
	require.NoError(t, err)
	aggregate, _, err := repo.GetAggregate(ctx, "a")
	require.NoError(t, err)
	assert.True(t, aggregate.TotalPoints.Equal(award.Points), "aggregate %s != ledger %s", aggregate.TotalPoints, award.Points)
}

func TestLedgerRepository_MalformedPreviousAwardWritesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewLedgerRepository()
	_, err := repo.ApplyAward(ctx, pointsAward("ch-0", "a", 4))
	require.NoError(t, err)

	snapshot := repo.Export()
	snapshot.Awards["ch-1::a"] = json.RawMessage(`{"challenge_id":"ch-1","player_id":"a","rank":1}`)
	require.NoError(t, repo.Import(snapshot))

	_, err = repo.ApplyAward(ctx, pointsAward("ch-1", "a", 10))
	require.ErrorIs(t, err, challenge.ErrMalformedRecord)

	aggregate, _, err := repo.GetAggregate(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "4", aggregate.TotalPoints.String())
}

func TestLedgerRepository_MarkFinalizedIsCompareAndSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewLedgerRepository()

	_, err := repo.MarkFinalized(ctx, "missing", nil, time.Now())
	require.ErrorIs(t, err, challenge.ErrChallengeNotFound)

	require.NoError(t, repo.UpsertFinalization(ctx, challenge.FinalizationRecord{
		ChallengeID: "quiz-1",
		Policy:      challenge.PolicyOneShot,
		WinnerBonus: decimal.NewFromInt(1),
	}))

	won, err := repo.MarkFinalized(ctx, "quiz-1", []string{"b", "a"}, time.Now())
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkFinalized(ctx, "quiz-1", []string{"c"}, time.Now())
	require.NoError(t, err)
	assert.False(t, won)

	record, ok, err := repo.GetFinalization(ctx, "quiz-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, record.Winners)
	assert.Equal(t, challenge.StateFinalized, record.State())

	err = repo.UpsertFinalization(ctx, challenge.FinalizationRecord{ChallengeID: "quiz-1", Policy: challenge.PolicyIdempotent, WinnerBonus: decimal.Zero})
	require.ErrorIs(t, err, challenge.ErrAlreadyFinalized)
}

func TestLedgerRepository_FinalizedOneShotRejectsAwards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewLedgerRepository()
	require.NoError(t, repo.UpsertFinalization(ctx, challenge.FinalizationRecord{
		ChallengeID: "quiz-2",
		Policy:      challenge.PolicyOneShot,
		WinnerBonus: decimal.Zero,
	}))
	require.NoError(t, repo.UpsertFinalization(ctx, challenge.AdHocRecord("week-9")))

	_, err := repo.ApplyAward(ctx, pointsAward("quiz-2", "a", 6))
	require.NoError(t, err)
	won, err := repo.MarkFinalized(ctx, "quiz-2", []string{"a"}, time.Now())
	require.NoError(t, err)
	require.True(t, won)

	_, err = repo.ApplyAward(ctx, pointsAward("quiz-2", "a", 60))
	require.ErrorIs(t, err, challenge.ErrAlreadyFinalized)
	_, err = repo.ApplyAward(ctx, pointsAward("quiz-2", "b", 2))
	require.ErrorIs(t, err, challenge.ErrAlreadyFinalized)

	aggregate, _, err := repo.GetAggregate(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "6", aggregate.TotalPoints.String())
	_, ok, err := repo.GetAward(ctx, "quiz-2", "b")
	require.NoError(t, err)
	assert.False(t, ok)

	won, err = repo.MarkFinalized(ctx, "week-9", nil, time.Now())
	require.NoError(t, err)
	require.True(t, won)
	_, err = repo.ApplyAward(ctx, pointsAward("week-9", "a", 1))
	require.NoError(t, err, "idempotent challenges accept awards after a run")
}

func TestLedgerRepository_IncrementRunCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewLedgerRepository()
	require.NoError(t, repo.IncrementRunCount(ctx, "ad-hoc"))

	require.NoError(t, repo.UpsertFinalization(ctx, challenge.AdHocRecord("week-3")))
	require.NoError(t, repo.IncrementRunCount(ctx, "week-3"))
	require.NoError(t, repo.IncrementRunCount(ctx, "week-3"))

	record, _, err := repo.GetFinalization(ctx, "week-3")
	require.NoError(t, err)
	assert.EqualValues(t, 2, record.RunCount)
}

func TestLedgerRepository_SnapshotFileRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewLedgerRepository()
	_, err := repo.ApplyAward(ctx, pointsAward("ch-1", "a", 7))
	require.NoError(t, err)
	require.NoError(t, repo.UpsertFinalization(ctx, challenge.AdHocRecord("ch-1")))

	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, repo.SaveFile(path))

	restored := NewLedgerRepository()
	require.NoError(t, restored.LoadFile(path))

	awards, err := restored.ListAwardsByChallenge(ctx, "ch-1")
	require.NoError(t, err)
	require.Len(t, awards, 1)
	assert.Equal(t, "7", awards[0].Points.String())

	_, ok, err := restored.GetFinalization(ctx, "ch-1")
	require.NoError(t, err)
	assert.True(t, ok)

	empty := NewLedgerRepository()
	require.NoError(t, empty.LoadFile(filepath.Join(t.TempDir(), "missing.json")))
}
