package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/riskibarqy/challenge-ledger/internal/platform/logging"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const defaultAuditWorkers = 8

// PlayerDrift is one player whose aggregate disagrees with the ledger sum.
type PlayerDrift struct {
	PlayerID       string
	AggregateTotal decimal.Decimal
	LedgerSum      decimal.Decimal
	Drift          decimal.Decimal
	AwardCount     int
}

type AuditReport struct {
	CheckedPlayers int
	Drift          []PlayerDrift
	GeneratedAt    time.Time
}

func (r AuditReport) Consistent() bool {
	return len(r.Drift) == 0
}

// LedgerAuditService compares every player aggregate with the sum of that
// player's awards. It never writes.
type LedgerAuditService struct {
	repo    challenge.Repository
	workers int
	metrics LedgerMetrics
	logger  *logging.Logger
}

func NewLedgerAuditService(repo challenge.Repository, workers int, metrics LedgerMetrics, logger *logging.Logger) *LedgerAuditService {
	if workers <= 0 {
		workers = defaultAuditWorkers
	}
	if metrics == nil {
		metrics = noopLedgerMetrics{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LedgerAuditService{
		repo:    repo,
		workers: workers,
		metrics: metrics,
		logger:  logger.Named("ledger_audit"),
	}
}

func (s *LedgerAuditService) Audit(ctx context.Context) (AuditReport, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.LedgerAuditService.Audit")
	var err error
	defer func() { endSpan(span, err) }()

	var aggregates []challenge.PlayerAggregate
	aggregates, err = s.repo.ListAggregates(ctx)
	if err != nil {
		err = classifyStoreError("list aggregates", err)
		return AuditReport{}, err
	}
	span.SetAttributes(attribute.Int("audit.players", len(aggregates)))

	pool, poolErr := ants.NewPool(s.workers)
	if poolErr != nil {
		err = fmt.Errorf("create worker pool: %w", poolErr)
		return AuditReport{}, err
	}
	defer pool.Release()

	var (
		mu       sync.Mutex
		drift    []PlayerDrift
		firstErr error
		wg       sync.WaitGroup
	)
	for _, aggregate := range aggregates {
		wg.Add(1)
		if submitErr := pool.Submit(func() {
			defer wg.Done()

			entry, checkErr := s.checkPlayer(ctx, aggregate)
			mu.Lock()
			defer mu.Unlock()
			if checkErr != nil {
				if firstErr == nil {
					firstErr = checkErr
				}
				return
			}
			if entry != nil {
				drift = append(drift, *entry)
			}
		}); submitErr != nil {
			wg.Done()
			wg.Wait()
			err = fmt.Errorf("submit audit task: %w", submitErr)
			return AuditReport{}, err
		}
	}
	wg.Wait()

	if firstErr != nil {
		err = firstErr
		return AuditReport{}, err
	}

	sort.Slice(drift, func(i, j int) bool { return drift[i].PlayerID < drift[j].PlayerID })
	report := AuditReport{
		CheckedPlayers: len(aggregates),
		Drift:          drift,
		GeneratedAt:    time.Now().UTC(),
	}

	s.metrics.ObserveAuditDrift(len(drift))
	if report.Consistent() {
		s.logger.InfoContext(ctx, "ledger audit consistent", "players", report.CheckedPlayers)
	} else {
		s.logger.WarnContext(ctx, "ledger audit found drift", "players", report.CheckedPlayers, "drift_players", len(drift))
	}
	return report, nil
}

func (s *LedgerAuditService) checkPlayer(ctx context.Context, aggregate challenge.PlayerAggregate) (*PlayerDrift, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	awards, err := s.repo.ListAwardsByPlayer(ctx, aggregate.PlayerID)
	if err != nil {
		return nil, classifyStoreError("list awards for player "+aggregate.PlayerID, err)
	}

	sum := decimal.Zero
	for _, award := range awards {
		sum = sum.Add(award.Points)
	}
	if sum.Equal(aggregate.TotalPoints) {
		return nil, nil
	}
	return &PlayerDrift{
		PlayerID:       aggregate.PlayerID,
		AggregateTotal: aggregate.TotalPoints,
		LedgerSum:      sum,
		Drift:          aggregate.TotalPoints.Sub(sum),
		AwardCount:     len(awards),
	}, nil
}
