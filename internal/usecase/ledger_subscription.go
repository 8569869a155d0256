package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/riskibarqy/challenge-ledger/internal/platform/logging"
	"github.com/shopspring/decimal"
)

// AwardsSnapshot is one emission of a player subscription.
type AwardsSnapshot struct {
	PlayerID string
	Awards   []challenge.PointAward
	Total    decimal.Decimal
	At       time.Time
}

// Subscription polls the ledger and emits a snapshot on start and whenever
// the player's awards or total change. A load error ends the stream; Restart
// resumes it with a fresh channel.
type Subscription struct {
	parent   context.Context
	interval time.Duration
	load     func(context.Context) (AwardsSnapshot, error)
	logger   *logging.Logger

	mu      sync.Mutex
	updates chan AwardsSnapshot
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func newSubscription(parent context.Context, interval time.Duration, load func(context.Context) (AwardsSnapshot, error), logger *logging.Logger) *Subscription {
	return &Subscription{
		parent:   parent,
		interval: interval,
		load:     load,
		logger:   logger,
	}
}

// Updates returns the channel of the current run. It is closed when the run
// stops through Close, a load error or parent cancellation.
func (s *Subscription) Updates() <-chan AwardsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// Err reports the error that stopped the last run, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Restart starts a new run after Close or an error. It is a no-op while a
// run is active.
func (s *Subscription) Restart() error {
	if err := s.parent.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil && !isClosed(s.done) {
		return nil
	}
	s.startLocked()
	return nil
}

func (s *Subscription) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *Subscription) startLocked() {
	ctx, cancel := context.WithCancel(s.parent)
	updates := make(chan AwardsSnapshot, 1)
	done := make(chan struct{})

	s.updates = updates
	s.cancel = cancel
	s.done = done
	s.err = nil

	go s.loop(ctx, updates, done)
}

func (s *Subscription) loop(ctx context.Context, updates chan<- AwardsSnapshot, done chan<- struct{}) {
	defer close(done)
	defer close(updates)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last := ""
	for {
		snapshot, err := s.load(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.WarnContext(ctx, "subscription stopped", "error", err)
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}

		if fp := snapshotKey(snapshot); fp != last {
			select {
			case updates <- snapshot:
				last = fp
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func snapshotKey(snapshot AwardsSnapshot) string {
	var b strings.Builder
	b.WriteString(snapshot.Total.String())
	for _, award := range snapshot.Awards {
		b.WriteByte('|')
		b.WriteString(award.Key().String())
		b.WriteByte('=')
		b.WriteString(award.Points.String())
		b.WriteByte('@')
		b.WriteString(award.UpdatedAt.Format(time.RFC3339Nano))
	}
	return b.String()
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
