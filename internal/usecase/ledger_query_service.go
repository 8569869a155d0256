package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/riskibarqy/challenge-ledger/internal/platform/logging"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const defaultSubscriptionInterval = 2 * time.Second

type LedgerQueryService struct {
	repo         challenge.Repository
	logger       *logging.Logger
	pollInterval time.Duration
}

func NewLedgerQueryService(repo challenge.Repository, logger *logging.Logger, pollInterval time.Duration) *LedgerQueryService {
	if logger == nil {
		logger = logging.Default()
	}
	if pollInterval <= 0 {
		pollInterval = defaultSubscriptionInterval
	}
	return &LedgerQueryService{
		repo:         repo,
		logger:       logger.Named("ledger_query"),
		pollInterval: pollInterval,
	}
}

// QueryAwardsByPlayer returns the player's awards, most recent first.
func (s *LedgerQueryService) QueryAwardsByPlayer(ctx context.Context, playerID string) (_ []challenge.PointAward, err error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.LedgerQueryService.QueryAwardsByPlayer", attribute.String("player.id", playerID))
	defer func() { endSpan(span, err) }()

	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, fmt.Errorf("%w: player id is required", ErrInvalidInput)
	}

	awards, err := s.repo.ListAwardsByPlayer(ctx, playerID)
	if err != nil {
		return nil, classifyStoreError("list awards by player", err)
	}
	sort.SliceStable(awards, func(i, j int) bool {
		if !awards[i].CreatedAt.Equal(awards[j].CreatedAt) {
			return awards[i].CreatedAt.After(awards[j].CreatedAt)
		}
		return awards[i].ChallengeID < awards[j].ChallengeID
	})
	return awards, nil
}

// GetPlayerTotal returns the player's aggregate, zero when none exists yet.
func (s *LedgerQueryService) GetPlayerTotal(ctx context.Context, playerID string) (_ challenge.PlayerAggregate, err error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.LedgerQueryService.GetPlayerTotal", attribute.String("player.id", playerID))
	defer func() { endSpan(span, err) }()

	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return challenge.PlayerAggregate{}, fmt.Errorf("%w: player id is required", ErrInvalidInput)
	}

	aggregate, ok, err := s.repo.GetAggregate(ctx, playerID)
	if err != nil {
		return challenge.PlayerAggregate{}, classifyStoreError("get player aggregate", err)
	}
	if !ok {
		return challenge.PlayerAggregate{PlayerID: playerID, TotalPoints: decimal.Zero}, nil
	}
	return aggregate, nil
}

// ListAwardsByChallenge returns the challenge's awards by rank. Withdrawn
// awards (rank 0) sort last.
func (s *LedgerQueryService) ListAwardsByChallenge(ctx context.Context, challengeID string) (_ []challenge.PointAward, err error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.LedgerQueryService.ListAwardsByChallenge", attribute.String("challenge.id", challengeID))
	defer func() { endSpan(span, err) }()

	challengeID = strings.TrimSpace(challengeID)
	if challengeID == "" {
		return nil, fmt.Errorf("%w: challenge id is required", ErrInvalidInput)
	}

	awards, err := s.repo.ListAwardsByChallenge(ctx, challengeID)
	if err != nil {
		return nil, classifyStoreError("list awards by challenge", err)
	}
	sort.SliceStable(awards, func(i, j int) bool {
		ri, rj := awards[i].Rank, awards[j].Rank
		if ri != rj {
			if ri == 0 || rj == 0 {
				return rj == 0
			}
			return ri < rj
		}
		return awards[i].PlayerID < awards[j].PlayerID
	})
	return awards, nil
}

// SubscribeAwardsByPlayer starts a polling subscription over the player's
// awards and total. A non-positive interval uses the service default.
func (s *LedgerQueryService) SubscribeAwardsByPlayer(ctx context.Context, playerID string, interval time.Duration) (*Subscription, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, fmt.Errorf("%w: player id is required", ErrInvalidInput)
	}
	if interval <= 0 {
		interval = s.pollInterval
	}

	load := func(ctx context.Context) (AwardsSnapshot, error) {
		awards, err := s.QueryAwardsByPlayer(ctx, playerID)
		if err != nil {
			return AwardsSnapshot{}, err
		}
		total, err := s.GetPlayerTotal(ctx, playerID)
		if err != nil {
			return AwardsSnapshot{}, err
		}
		return AwardsSnapshot{
			PlayerID: playerID,
			Awards:   awards,
			Total:    total.TotalPoints,
			At:       time.Now().UTC(),
		}, nil
	}

	sub := newSubscription(ctx, interval, load, s.logger.With("player_id", playerID))
	sub.start()
	return sub, nil
}
