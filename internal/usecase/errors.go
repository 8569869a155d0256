package usecase

import (
	"errors"
	"fmt"

	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/riskibarqy/challenge-ledger/internal/platform/resilience"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("resource not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrAlreadyFinalized      = errors.New("challenge already finalized")
	ErrConflict              = errors.New("conflicting state")
)

// classifyStoreError maps repository failures onto usecase sentinels while
// keeping the original chain for errors.Is on domain errors.
func classifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, challenge.ErrAlreadyFinalized):
		return fmt.Errorf("%w: %s: %w", ErrAlreadyFinalized, op, err)
	case errors.Is(err, challenge.ErrMalformedRecord):
		return fmt.Errorf("%w: %s: %w", ErrConflict, op, err)
	case challenge.IsTransient(err), errors.Is(err, resilience.ErrCircuitOpen):
		return fmt.Errorf("%w: %s: %w", ErrDependencyUnavailable, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
