package usecase

import (
	"errors"
	"time"
)

// LedgerMetrics receives finalize and audit observations.
type LedgerMetrics interface {
	ObserveFinalize(policy, outcome string, awardsApplied int, elapsed time.Duration)
	ObserveAuditDrift(driftPlayers int)
}

type noopLedgerMetrics struct{}

func (noopLedgerMetrics) ObserveFinalize(string, string, int, time.Duration) {}
func (noopLedgerMetrics) ObserveAuditDrift(int)                             {}

const (
	outcomeApplied          = "applied"
	outcomeSkipped          = "skipped"
	outcomeAlreadyFinalized = "already_finalized"
	outcomeInvalid          = "invalid"
	outcomePartial          = "partial"
	outcomeFailed           = "failed"
)

func finalizeOutcome(result FinalizeResult, err error) string {
	switch {
	case err == nil && result.Skipped:
		return outcomeSkipped
	case err == nil:
		return outcomeApplied
	case errors.Is(err, ErrInvalidInput):
		return outcomeInvalid
	case errors.Is(err, ErrAlreadyFinalized):
		return outcomeAlreadyFinalized
	case len(result.Applied) > 0:
		return outcomePartial
	default:
		return outcomeFailed
	}
}
