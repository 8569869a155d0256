package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/riskibarqy/challenge-ledger/internal/infrastructure/repository/cache"
	"github.com/riskibarqy/challenge-ledger/internal/infrastructure/repository/memory"
	"github.com/riskibarqy/challenge-ledger/internal/platform/id"
	"github.com/riskibarqy/challenge-ledger/internal/platform/logging"
	"github.com/shopspring/decimal"
)

func newTestLedgerService(repo challenge.Repository) *LedgerService {
	logger := logging.NewNop()
	return NewLedgerService(repo, NewFinalizationService(repo, logger), id.StaticGenerator("run-1"), nil, logger, LedgerServiceConfig{})
}

func assertTotal(t *testing.T, repo challenge.Repository, playerID, want string) {
	t.Helper()

	aggregate, ok, err := repo.GetAggregate(context.Background(), playerID)
	if err != nil {
		t.Fatalf("get aggregate %s: %v", playerID, err)
	}
	got := decimal.Zero
	if ok {
		got = aggregate.TotalPoints
	}
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("unexpected total for %s: got=%s want=%s", playerID, got, want)
	}
}

func awardFor(t *testing.T, repo challenge.Repository, challengeID, playerID string) challenge.PointAward {
	t.Helper()

	award, ok, err := repo.GetAward(context.Background(), challengeID, playerID)
	if err != nil {
		t.Fatalf("get award %s/%s: %v", challengeID, playerID, err)
	}
	if !ok {
		t.Fatalf("award %s/%s not found", challengeID, playerID)
	}
	return award
}

func TestLedgerService_FinalizeChallenge_IsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewLedgerRepository()
	svc := newTestLedgerService(repo)
	input := FinalizeInput{ChallengeID: "week-1", ScoresByPlayer: map[string]float64{"a": 10, "b": 8}, HigherIsBetter: true}

	first, err := svc.FinalizeChallenge(ctx, input)
	if err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	if first.RunID != "run-1" || first.Policy != challenge.PolicyIdempotent {
		t.Fatalf("unexpected run metadata: %+v", first)
	}
	if !first.TotalDelta.Equal(decimal.NewFromInt(18)) {
		t.Fatalf("unexpected first delta: %s", first.TotalDelta)
	}

	second, err := svc.FinalizeChallenge(ctx, input)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if !second.TotalDelta.IsZero() {
		t.Fatalf("re-running the same snapshot must not change totals, delta=%s", second.TotalDelta)
	}

	assertTotal(t, repo, "a", "10")
	assertTotal(t, repo, "b", "8")
	if award := awardFor(t, repo, "week-1", "a"); award.Rank != 1 {
		t.Fatalf("expected a to rank 1, got %d", award.Rank)
	}

	record, ok, err := repo.GetFinalization(ctx, "week-1")
	if err != nil {
		t.Fatalf("get finalization: %v", err)
	}
	if ok {
		t.Fatalf("ad-hoc finalize must not create a record, got %+v", record)
	}
}

func TestLedgerService_FinalizeChallenge_TiesShareRank(t *testing.T) {
	t.Parallel()

	repo := memory.NewLedgerRepository()
	svc := newTestLedgerService(repo)

	result, err := svc.FinalizeChallenge(context.Background(), FinalizeInput{
		ChallengeID:    "week-2",
		ScoresByPlayer: map[string]float64{"a": 8, "b": 8, "c": 2},
		HigherIsBetter: true,
	})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	want := map[string]int{"a": 1, "b": 1, "c": 3}
	for playerID, rank := range want {
		if got := awardFor(t, repo, "week-2", playerID).Rank; got != rank {
			t.Fatalf("unexpected rank for %s: got=%d want=%d", playerID, got, rank)
		}
	}
	if len(result.Winners) != 2 || result.Winners[0] != "a" || result.Winners[1] != "b" {
		t.Fatalf("unexpected winners: %v", result.Winners)
	}
}

func TestLedgerService_FinalizeChallenge_ChangedSnapshotAppliesDifference(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewLedgerRepository()
	svc := newTestLedgerService(repo)

	if _, err := svc.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "week-3", ScoresByPlayer: map[string]float64{"a": 10}, HigherIsBetter: true}); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	if _, err := svc.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "week-4", ScoresByPlayer: map[string]float64{"a": 3}, HigherIsBetter: true}); err != nil {
		t.Fatalf("other challenge finalize: %v", err)
	}

	result, err := svc.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "week-3", ScoresByPlayer: map[string]float64{"a": 5}, HigherIsBetter: true})
	if err != nil {
		t.Fatalf("corrected finalize: %v", err)
	}
	if !result.TotalDelta.Equal(decimal.NewFromInt(-5)) {
		t.Fatalf("unexpected delta: %s", result.TotalDelta)
	}

	assertTotal(t, repo, "a", "8")
	if award := awardFor(t, repo, "week-3", "a"); !award.Points.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("award must be overwritten in place, got %s", award.Points)
	}
}

func TestLedgerService_FinalizeChallenge_OneShotLocks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewLedgerRepository()
	svc := newTestLedgerService(repo)

	if _, err := svc.finalization.SeedChallenge(ctx, SeedChallengeInput{
		ChallengeID: "quiz-1",
		Policy:      string(challenge.PolicyOneShot),
		WinnerBonus: 5,
		WinnerNote:  "quiz winner",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := svc.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "quiz-1", ScoresByPlayer: map[string]float64{"a": 10, "b": 8}, HigherIsBetter: true})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !result.Finalized {
		t.Fatalf("one-shot finalize must lock the challenge")
	}
	assertTotal(t, repo, "a", "15")
	assertTotal(t, repo, "b", "8")
	if award := awardFor(t, repo, "quiz-1", "a"); award.Note != "quiz winner" || !award.BonusPoints.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected winner award: %+v", award)
	}

	_, err = svc.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "quiz-1", ScoresByPlayer: map[string]float64{"a": 1, "b": 99}, HigherIsBetter: true})
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	assertTotal(t, repo, "a", "15")
	assertTotal(t, repo, "b", "8")

	record, _, err := repo.GetFinalization(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("get finalization: %v", err)
	}
	if record.State() != challenge.StateFinalized || len(record.Winners) != 1 || record.Winners[0] != "a" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.RunCount != 1 {
		t.Fatalf("expected one counted run, got %d", record.RunCount)
	}
}

func TestLedgerService_FinalizeChallenge_EmptySnapshotIsSkipped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewLedgerRepository()
	svc := newTestLedgerService(repo)

	result, err := svc.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "week-5"})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !result.Skipped || len(result.Applied) != 0 {
		t.Fatalf("expected skipped result, got %+v", result)
	}

	aggregates, err := repo.ListAggregates(ctx)
	if err != nil {
		t.Fatalf("list aggregates: %v", err)
	}
	if len(aggregates) != 0 {
		t.Fatalf("empty snapshot must not write, got %d aggregates", len(aggregates))
	}
}

func TestLedgerService_FinalizeChallenge_LowerIsBetter(t *testing.T) {
	t.Parallel()

	repo := memory.NewLedgerRepository()
	svc := newTestLedgerService(repo)

	result, err := svc.FinalizeChallenge(context.Background(), FinalizeInput{
		ChallengeID:    "golf-1",
		ScoresByPlayer: map[string]float64{"a": 1, "b": 5},
		HigherIsBetter: false,
	})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if award := awardFor(t, repo, "golf-1", "a"); award.Rank != 1 {
		t.Fatalf("expected lowest score to rank 1, got %d", award.Rank)
	}
	if award := awardFor(t, repo, "golf-1", "b"); award.Rank != 2 {
		t.Fatalf("expected b to rank 2, got %d", award.Rank)
	}
	if len(result.Winners) != 1 || result.Winners[0] != "a" {
		t.Fatalf("unexpected winners: %v", result.Winners)
	}
}

func TestLedgerService_FinalizeChallenge_MultiplierAndPrizeTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewLedgerRepository()
	svc := newTestLedgerService(repo)

	if _, err := svc.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "double", ScoresByPlayer: map[string]float64{"a": 10}, Multiplier: 2, HigherIsBetter: true}); err != nil {
		t.Fatalf("finalize with multiplier: %v", err)
	}
	award := awardFor(t, repo, "double", "a")
	if !award.Points.Equal(decimal.NewFromInt(20)) || !award.Multiplier.Valid {
		t.Fatalf("unexpected multiplied award: %+v", award)
	}

	if _, err := svc.finalization.SeedChallenge(ctx, SeedChallengeInput{
		ChallengeID: "cup",
		Policy:      string(challenge.PolicyIdempotent),
		PrizeTable:  []float64{25, 18},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "cup", ScoresByPlayer: map[string]float64{"a": 3, "b": 2, "c": 1}, HigherIsBetter: true}); err != nil {
		t.Fatalf("finalize prize table: %v", err)
	}
	for playerID, want := range map[string]int64{"a": 25, "b": 18, "c": 0} {
		if got := awardFor(t, repo, "cup", playerID).Points; !got.Equal(decimal.NewFromInt(want)) {
			t.Fatalf("unexpected prize for %s: got=%s want=%d", playerID, got, want)
		}
	}
	assertTotal(t, repo, "a", "45")
}

func TestLedgerService_FinalizeChallenge_WithdrawsMissingPlayers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewLedgerRepository()
	svc := newTestLedgerService(repo)

	if _, err := svc.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "week-6", ScoresByPlayer: map[string]float64{"a": 10, "b": 8}, HigherIsBetter: true}); err != nil {
		t.Fatalf("first finalize: %v", err)
	}

	result, err := svc.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "week-6", ScoresByPlayer: map[string]float64{"a": 10}, HigherIsBetter: true})
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if len(result.Withdrawn) != 1 || result.Withdrawn[0] != "b" {
		t.Fatalf("expected b to be withdrawn, got %v", result.Withdrawn)
	}
	assertTotal(t, repo, "b", "0")
	if award := awardFor(t, repo, "week-6", "b"); award.Rank != 0 || award.Note != challenge.WithdrawnNote {
		t.Fatalf("unexpected withdrawn award: %+v", award)
	}

	again, err := svc.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "week-6", ScoresByPlayer: map[string]float64{"a": 10}, HigherIsBetter: true})
	if err != nil {
		t.Fatalf("third finalize: %v", err)
	}
	if len(again.Withdrawn) != 0 || !again.TotalDelta.IsZero() {
		t.Fatalf("withdrawn award must not be rewritten, got %+v", again)
	}
}

func TestLedgerService_FinalizeChallenge_InvalidInput(t *testing.T) {
	t.Parallel()

	metrics := &recordingMetrics{}
	repo := memory.NewLedgerRepository()
	svc := NewLedgerService(repo, nil, nil, metrics, logging.NewNop(), LedgerServiceConfig{})

	cases := map[string]FinalizeInput{
		"missing challenge":   {ScoresByPlayer: map[string]float64{"a": 1}},
		"blank player":        {ChallengeID: "c", ScoresByPlayer: map[string]float64{" ": 1}},
		"negative multiplier": {ChallengeID: "c", ScoresByPlayer: map[string]float64{"a": 1}, Multiplier: -1},
	}
	for name, input := range cases {
		if _, err := svc.FinalizeChallenge(context.Background(), input); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
	if got := metrics.outcomes(outcomeInvalid); got != len(cases) {
		t.Fatalf("expected %d invalid observations, got %d", len(cases), got)
	}
}

func TestLedgerService_FinalizeChallenge_StopsOnTransientFailureAndConverges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewLedgerRepository()
	flaky := &flakyRepository{Repository: store, failPlayer: "b", failures: 1}
	svc := newTestLedgerService(flaky)
	input := FinalizeInput{ChallengeID: "week-7", ScoresByPlayer: map[string]float64{"a": 10, "b": 8, "c": 6}, HigherIsBetter: true}

	partial, err := svc.FinalizeChallenge(ctx, input)
	if !errors.Is(err, ErrDependencyUnavailable) {
		t.Fatalf("expected ErrDependencyUnavailable, got %v", err)
	}
	if len(partial.Applied) != 1 || partial.Applied[0].Award.PlayerID != "a" {
		t.Fatalf("expected only a to be applied before the failure, got %+v", partial.Applied)
	}
	assertTotal(t, store, "c", "0")

	retry, err := svc.FinalizeChallenge(ctx, input)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !retry.TotalDelta.Equal(decimal.NewFromInt(14)) {
		t.Fatalf("retry must only apply the missing players, delta=%s", retry.TotalDelta)
	}
	assertTotal(t, store, "a", "10")
	assertTotal(t, store, "b", "8")
	assertTotal(t, store, "c", "6")
}

func TestLedgerService_FinalizeChallenge_MalformedHistoryIsConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewLedgerRepository()
	snapshot := repo.Export()
	snapshot.Awards["week-8::b"] = []byte(`{"challenge_id":"week-8","player_id":"b"}`)
	if err := repo.Import(snapshot); err != nil {
		t.Fatalf("import: %v", err)
	}
	svc := newTestLedgerService(repo)

	_, err := svc.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "week-8", ScoresByPlayer: map[string]float64{"a": 10}, HigherIsBetter: true})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	assertTotal(t, repo, "a", "0")
}

func TestLedgerService_FinalizeChallenge_CoalescesIdenticalCalls(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewLedgerRepository()
	gate := &gatedRepository{Repository: store, release: make(chan struct{}), entered: make(chan struct{}, 1)}
	svc := newTestLedgerService(gate)
	input := FinalizeInput{ChallengeID: "week-9", ScoresByPlayer: map[string]float64{"a": 10, "b": 8}, HigherIsBetter: true}

	prepared, err := prepareRun(ctx, input)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	key := input.ChallengeID + ":" + prepared.fingerprint

	const callers = 5
	results := make([]FinalizeResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.FinalizeChallenge(ctx, input)
		}(i)
	}

	<-gate.entered
	deadline := time.Now().Add(5 * time.Second)
	for svc.flight.Waiters(key) < callers-1 {
		if time.Now().After(deadline) {
			t.Fatalf("callers did not join the in-flight run")
		}
		time.Sleep(time.Millisecond)
	}
	close(gate.release)
	wg.Wait()

	coalesced := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].Coalesced {
			coalesced++
		}
	}
	if coalesced != callers-1 {
		t.Fatalf("expected %d coalesced callers, got %d", callers-1, coalesced)
	}
	if got := gate.calls.Load(); got != 1 {
		t.Fatalf("expected one run against the store, got %d", got)
	}
	assertTotal(t, store, "a", "10")
}

func TestLedgerService_FinalizeQuiz(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewLedgerRepository()
	svc := newTestLedgerService(repo)

	if _, err := svc.finalization.SeedChallenge(ctx, SeedChallengeInput{
		ChallengeID: "quiz-2",
		Policy:      string(challenge.PolicyOneShot),
		WinnerBonus: 1,
		AnswerKey:   map[string]string{"q1": "Paris", "q2": "4"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := svc.FinalizeQuiz(ctx, FinalizeQuizInput{
		ChallengeID: "quiz-2",
		Answers: map[string]map[string]string{
			"a": {"q1": " paris ", "q2": "4"},
			"b": {"q1": "rome"},
		},
	})
	if err != nil {
		t.Fatalf("finalize quiz: %v", err)
	}
	if !result.Finalized || len(result.Winners) != 1 || result.Winners[0] != "a" {
		t.Fatalf("unexpected quiz result: %+v", result)
	}
	assertTotal(t, repo, "a", "3")
	assertTotal(t, repo, "b", "0")

	if _, err := svc.FinalizeQuiz(ctx, FinalizeQuizInput{ChallengeID: "missing", Answers: map[string]map[string]string{"a": {}}}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := svc.finalization.SeedChallenge(ctx, SeedChallengeInput{ChallengeID: "no-key", Policy: string(challenge.PolicyIdempotent)}); err != nil {
		t.Fatalf("seed no-key: %v", err)
	}
	if _, err := svc.FinalizeQuiz(ctx, FinalizeQuizInput{ChallengeID: "no-key", Answers: map[string]map[string]string{"a": {}}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLedgerService_FinalizeBatch_KeepsOrder(t *testing.T) {
	t.Parallel()

	repo := memory.NewLedgerRepository()
	svc := newTestLedgerService(repo)

	items := svc.FinalizeBatch(context.Background(), []FinalizeInput{
		{ChallengeID: "b-1", ScoresByPlayer: map[string]float64{"a": 1}, HigherIsBetter: true},
		{ChallengeID: "", ScoresByPlayer: map[string]float64{"a": 1}},
		{ChallengeID: "b-3", ScoresByPlayer: map[string]float64{"a": 2}, HigherIsBetter: true},
	})
	if len(items) != 3 {
		t.Fatalf("unexpected item count: %d", len(items))
	}
	if items[0].ChallengeID != "b-1" || items[0].Err != nil {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if !errors.Is(items[1].Err, ErrInvalidInput) {
		t.Fatalf("expected invalid second item, got %v", items[1].Err)
	}
	if items[2].ChallengeID != "b-3" || items[2].Err != nil {
		t.Fatalf("unexpected third item: %+v", items[2])
	}
	assertTotal(t, repo, "a", "3")
}

func TestLedgerService_FinalizeChallenge_JoinedCallerSurvivesCanceledRun(t *testing.T) {
	t.Parallel()

	store := memory.NewLedgerRepository()
	gate := &gatedRepository{Repository: store, release: make(chan struct{}), entered: make(chan struct{}, 1)}
	svc := newTestLedgerService(gate)
	input := FinalizeInput{ChallengeID: "week-11", ScoresByPlayer: map[string]float64{"a": 10, "b": 8}, HigherIsBetter: true}

	prepared, err := prepareRun(context.Background(), input)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	key := input.ChallengeID + ":" + prepared.fingerprint

	leaderCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	leaderErr := make(chan error, 1)
	go func() {
		_, err := svc.FinalizeChallenge(leaderCtx, input)
		leaderErr <- err
	}()
	<-gate.entered

	type outcome struct {
		result FinalizeResult
		err    error
	}
	joined := make(chan outcome, 1)
	go func() {
		res, err := svc.FinalizeChallenge(context.Background(), input)
		joined <- outcome{res, err}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for svc.flight.Waiters(key) < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("second caller did not join the in-flight run")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	close(gate.release)

	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the canceled caller to see context.Canceled, got %v", err)
	}
	got := <-joined
	if got.err != nil {
		t.Fatalf("joined caller must not inherit another caller's cancellation: %v", got.err)
	}
	if len(got.result.Applied) != 2 {
		t.Fatalf("expected a fresh run applying both players, got %+v", got.result)
	}
	if calls := gate.calls.Load(); calls != 2 {
		t.Fatalf("expected the canceled run and one rerun, got %d runs", calls)
	}
	assertTotal(t, store, "a", "10")
	assertTotal(t, store, "b", "8")
}

// newInstance builds a ledger service the way a separate process would: its
// own single-flight group and its own read cache over the shared store.
func newInstance(store challenge.Repository) *LedgerService {
	return newTestLedgerService(cache.NewLedgerRepository(store, time.Minute))
}

func TestLedgerService_FinalizeChallenge_OneShotAcrossInstances(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewLedgerRepository()
	first, second := newInstance(store), newInstance(store)
	audit := NewLedgerAuditService(store, 2, nil, logging.NewNop())

	for round := 0; round < 20; round++ {
		challengeID := "quiz-race-" + string(rune('a'+round))
		if _, err := first.finalization.SeedChallenge(ctx, SeedChallengeInput{
			ChallengeID: challengeID,
			Policy:      string(challenge.PolicyOneShot),
			WinnerBonus: 2,
		}); err != nil {
			t.Fatalf("seed %s: %v", challengeID, err)
		}
		// Both instances have read the Open record before either run starts.
		for _, svc := range []*LedgerService{first, second} {
			if _, err := svc.finalization.CheckCanFinalize(ctx, challengeID); err != nil {
				t.Fatalf("check %s: %v", challengeID, err)
			}
		}

		inputs := []FinalizeInput{
			{ChallengeID: challengeID, ScoresByPlayer: map[string]float64{"a": 10, "b": 5}, HigherIsBetter: true},
			{ChallengeID: challengeID, ScoresByPlayer: map[string]float64{"a": 1, "c": 7}, HigherIsBetter: true},
		}
		errs := make([]error, 2)
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i, svc := range []*LedgerService{first, second} {
			wg.Add(1)
			go func(i int, svc *LedgerService) {
				defer wg.Done()
				<-start
				_, errs[i] = svc.FinalizeChallenge(ctx, inputs[i])
			}(i, svc)
		}
		close(start)
		wg.Wait()

		succeeded := 0
		for i, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrAlreadyFinalized):
			default:
				t.Fatalf("round %d instance %d: unexpected error %v", round, i, err)
			}
		}
		if succeeded != 1 {
			t.Fatalf("round %d: expected exactly one winning run, got %d (%v)", round, succeeded, errs)
		}

		record, ok, err := store.GetFinalization(ctx, challengeID)
		if err != nil || !ok {
			t.Fatalf("get finalization %s: ok=%v err=%v", challengeID, ok, err)
		}
		if record.State() != challenge.StateFinalized {
			t.Fatalf("round %d: one-shot challenge must end finalized, got %+v", round, record)
		}

		before, err := store.ListAwardsByChallenge(ctx, challengeID)
		if err != nil {
			t.Fatalf("list awards: %v", err)
		}
		for _, svc := range []*LedgerService{first, second} {
			_, err := svc.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: challengeID, ScoresByPlayer: map[string]float64{"z": 99}, HigherIsBetter: true})
			if !errors.Is(err, ErrAlreadyFinalized) {
				t.Fatalf("round %d: finalize after lock must be rejected, got %v", round, err)
			}
		}
		after, err := store.ListAwardsByChallenge(ctx, challengeID)
		if err != nil {
			t.Fatalf("list awards: %v", err)
		}
		if len(after) != len(before) {
			t.Fatalf("round %d: awards changed after finalization: %d -> %d", round, len(before), len(after))
		}
	}

	report, err := audit.Audit(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !report.Consistent() {
		t.Fatalf("aggregates drifted from the ledger: %+v", report.Drift)
	}
	assertTotal(t, store, "z", "0")
}

func TestLedgerService_FinalizeChallenge_IdempotentAcrossInstances(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewLedgerRepository()
	first, second := newInstance(store), newInstance(store)
	audit := NewLedgerAuditService(store, 2, nil, logging.NewNop())

	// The second instance reads the challenge before the first one writes it.
	if _, err := second.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "week-20", ScoresByPlayer: map[string]float64{"a": 1}, HigherIsBetter: true}); err != nil {
		t.Fatalf("warm second instance: %v", err)
	}
	if _, err := first.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "week-20", ScoresByPlayer: map[string]float64{"a": 10, "b": 5}, HigherIsBetter: true}); err != nil {
		t.Fatalf("finalize on first instance: %v", err)
	}
	result, err := second.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "week-20", ScoresByPlayer: map[string]float64{"a": 3}, HigherIsBetter: true})
	if err != nil {
		t.Fatalf("finalize on second instance: %v", err)
	}
	if len(result.Withdrawn) != 1 || result.Withdrawn[0] != "b" {
		t.Fatalf("second instance must withdraw the award written by the first, got %+v", result.Withdrawn)
	}
	assertTotal(t, store, "a", "3")
	assertTotal(t, store, "b", "0")

	var wg sync.WaitGroup
	for i, svc := range []*LedgerService{first, second, first, second} {
		wg.Add(1)
		go func(i int, svc *LedgerService) {
			defer wg.Done()
			scores := map[string]float64{"a": float64(i + 1), "c": float64(10 - i)}
			if i%2 == 1 {
				scores = map[string]float64{"b": float64(i), "d": 4}
			}
			if _, err := svc.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "week-21", ScoresByPlayer: scores, HigherIsBetter: true}); err != nil {
				t.Errorf("concurrent finalize %d: %v", i, err)
			}
		}(i, svc)
	}
	wg.Wait()

	if _, err := second.FinalizeChallenge(ctx, FinalizeInput{ChallengeID: "week-21", ScoresByPlayer: map[string]float64{"a": 2}, HigherIsBetter: true}); err != nil {
		t.Fatalf("converging finalize: %v", err)
	}
	awards, err := store.ListAwardsByChallenge(ctx, "week-21")
	if err != nil {
		t.Fatalf("list awards: %v", err)
	}
	for _, award := range awards {
		if award.PlayerID != "a" && !award.Points.IsZero() {
			t.Fatalf("player %s kept %s points after the converging run", award.PlayerID, award.Points)
		}
	}

	report, err := audit.Audit(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !report.Consistent() {
		t.Fatalf("aggregates drifted from the ledger: %+v", report.Drift)
	}
}

type flakyRepository struct {
	challenge.Repository

	mu         sync.Mutex
	failPlayer string
	failures   int
}

func (r *flakyRepository) ApplyAward(ctx context.Context, award challenge.PointAward) (challenge.AwardApplication, error) {
	r.mu.Lock()
	fail := award.PlayerID == r.failPlayer && r.failures > 0
	if fail {
		r.failures--
	}
	r.mu.Unlock()
	if fail {
		return challenge.AwardApplication{}, challenge.MarkTransient(errors.New("connection reset by peer"), "apply award")
	}
	return r.Repository.ApplyAward(ctx, award)
}

type gatedRepository struct {
	challenge.Repository

	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRepository) GetFinalization(ctx context.Context, challengeID string) (challenge.FinalizationRecord, bool, error) {
	if r.calls.Add(1) == 1 {
		r.entered <- struct{}{}
	}
	<-r.release
	return r.Repository.GetFinalization(ctx, challengeID)
}

type recordingMetrics struct {
	mu       sync.Mutex
	finalize map[string]int
	drift    []int
}

func (m *recordingMetrics) ObserveFinalize(_, outcome string, _ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalize == nil {
		m.finalize = make(map[string]int)
	}
	m.finalize[outcome]++
}

func (m *recordingMetrics) ObserveAuditDrift(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drift = append(m.drift, n)
}

func (m *recordingMetrics) outcomes(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalize[outcome]
}
