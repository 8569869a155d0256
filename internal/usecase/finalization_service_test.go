package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/riskibarqy/challenge-ledger/internal/infrastructure/repository/memory"
	challengemock "github.com/riskibarqy/challenge-ledger/internal/mocks/domain/challenge"
	"github.com/riskibarqy/challenge-ledger/internal/platform/logging"
	"github.com/stretchr/testify/mock"
)

func TestFinalizationService_SeedChallenge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewLedgerRepository()
	svc := NewFinalizationService(repo, logging.NewNop())

	first, err := svc.SeedChallenge(ctx, SeedChallengeInput{
		ChallengeID: " quiz-1 ",
		Policy:      "one_shot",
		WinnerBonus: 2.5,
		AnswerKey:   map[string]string{"q1": "blue"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if first.ChallengeID != "quiz-1" {
		t.Fatalf("challenge id must be trimmed, got %q", first.ChallengeID)
	}

	svc.now = func() time.Time { return first.CreatedAt.Add(time.Hour) }
	reseeded, err := svc.SeedChallenge(ctx, SeedChallengeInput{ChallengeID: "quiz-1", Policy: "one_shot", WinnerBonus: 4})
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if !reseeded.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("reseed must keep created_at: got=%s want=%s", reseeded.CreatedAt, first.CreatedAt)
	}

	got, err := svc.GetChallenge(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.WinnerBonus.String() != "4" || len(got.AnswerKey) != 0 {
		t.Fatalf("unexpected reseeded record: %+v", got)
	}

	if err := svc.MarkFinalized(ctx, "quiz-1", []string{"a"}, time.Now()); err != nil {
		t.Fatalf("mark finalized: %v", err)
	}
	if _, err := svc.SeedChallenge(ctx, SeedChallengeInput{ChallengeID: "quiz-1", Policy: "idempotent"}); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized on reseed, got %v", err)
	}
	if _, err := svc.CheckCanFinalize(ctx, "quiz-1"); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized from check, got %v", err)
	}
}

func TestFinalizationService_SeedChallenge_InvalidInput(t *testing.T) {
	t.Parallel()

	svc := NewFinalizationService(memory.NewLedgerRepository(), logging.NewNop())
	cases := map[string]SeedChallengeInput{
		"missing id":     {Policy: "idempotent"},
		"unknown policy": {ChallengeID: "c", Policy: "forever"},
		"negative bonus": {ChallengeID: "c", Policy: "idempotent", WinnerBonus: -1},
		"negative prize": {ChallengeID: "c", Policy: "idempotent", PrizeTable: []float64{10, -1}},
	}
	for name, input := range cases {
		if _, err := svc.SeedChallenge(context.Background(), input); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestFinalizationService_CheckCanFinalize_AdHoc(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := challengemock.NewRepository(t)
	svc := NewFinalizationService(repo, logging.NewNop())

	repo.On("GetFinalization", mock.MatchedBy(func(context.Context) bool { return true }), "week-1").
		Return(challenge.FinalizationRecord{}, false, nil).
		Once()

	record, err := svc.CheckCanFinalize(ctx, "week-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if record.Policy != challenge.PolicyIdempotent || record.State() != challenge.StateOpen {
		t.Fatalf("expected ad-hoc idempotent record, got %+v", record)
	}
}

func TestFinalizationService_MarkFinalizedUsingMockery(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	transient := challenge.MarkTransient(errors.New("i/o timeout"), "mark finalized")

	cases := []struct {
		name    string
		won     bool
		repoErr error
		want    error
	}{
		{name: "won", won: true},
		{name: "lost race", won: false, want: ErrAlreadyFinalized},
		{name: "missing record", repoErr: challenge.ErrChallengeNotFound, want: ErrNotFound},
		{name: "store unavailable", repoErr: transient, want: ErrDependencyUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := challengemock.NewRepository(t)
			svc := NewFinalizationService(repo, logging.NewNop())

			repo.On("MarkFinalized", mock.Anything, "quiz-9", []string{"a"}, at).
				Return(tc.won, tc.repoErr).
				Once()

			err := svc.MarkFinalized(context.Background(), "quiz-9", []string{"a"}, at)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
