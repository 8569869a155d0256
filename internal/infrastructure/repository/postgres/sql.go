package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
)

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// storeError wraps err with op and marks connection-level and retryable
// transaction failures as transient.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return challenge.MarkTransient(err, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return true
		}
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return true
		}
	}
	return false
}
