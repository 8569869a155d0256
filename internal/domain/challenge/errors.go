package challenge

import crerr "github.com/cockroachdb/errors"

var (
	ErrInvalidScore      = crerr.New("invalid score")
	ErrInvalidMultiplier = crerr.New("invalid multiplier")
	ErrAlreadyFinalized  = crerr.New("challenge already finalized")
	ErrChallengeNotFound = crerr.New("challenge not found")

	// ErrMalformedRecord marks a persisted record that failed decode validation.
	ErrMalformedRecord = crerr.New("malformed ledger record")

	// ErrTransientIO marks store failures that are safe to retry by re-running finalize.
	ErrTransientIO = crerr.New("transient store failure")
)

// MarkTransient tags err as a transient store failure while keeping its message.
func MarkTransient(err error, op string) error {
	if err == nil {
		return nil
	}
	return crerr.Mark(crerr.Wrap(err, op), ErrTransientIO)
}

func IsTransient(err error) bool {
	return crerr.Is(err, ErrTransientIO)
}
