package challenge

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type State string

const (
	StateOpen      State = "open"
	StateFinalized State = "finalized"
)

// FinalizationRecord holds per-challenge finalize configuration and, for
// one-shot challenges, the terminal Open -> Finalized lock.
type FinalizationRecord struct {
	ChallengeID string
	Policy      Policy
	IsFinalized bool
	Winners     []string
	WinnerBonus decimal.Decimal
	PrizeTable  []decimal.Decimal
	WinnerNote  string
	AnswerKey   map[string]string
	FinalizedAt *time.Time
	RunCount    int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AdHocRecord is used for challenges finalized without a seeded record.
func AdHocRecord(challengeID string) FinalizationRecord {
	return FinalizationRecord{
		ChallengeID: challengeID,
		Policy:      PolicyIdempotent,
		WinnerBonus: decimal.Zero,
	}
}

func (r FinalizationRecord) State() State {
	if r.Policy == PolicyOneShot && r.IsFinalized {
		return StateFinalized
	}
	return StateOpen
}

func (r FinalizationRecord) CheckCanFinalize() error {
	if r.State() == StateFinalized {
		return fmt.Errorf("%w: challenge %s", ErrAlreadyFinalized, r.ChallengeID)
	}
	return nil
}

// MarkFinalized moves a one-shot record to Finalized. Idempotent records have
// no lock and are left unchanged.
func (r *FinalizationRecord) MarkFinalized(winners []string, at time.Time) error {
	if r.Policy != PolicyOneShot {
		return nil
	}
	if err := r.CheckCanFinalize(); err != nil {
		return err
	}

	sorted := append([]string(nil), winners...)
	sort.Strings(sorted)
	finalizedAt := at.UTC()

	r.IsFinalized = true
	r.Winners = sorted
	r.FinalizedAt = &finalizedAt
	r.UpdatedAt = finalizedAt
	return nil
}

func (r FinalizationRecord) Clone() FinalizationRecord {
	out := r
	out.Winners = append([]string(nil), r.Winners...)
	out.PrizeTable = append([]decimal.Decimal(nil), r.PrizeTable...)
	if r.AnswerKey != nil {
		out.AnswerKey = make(map[string]string, len(r.AnswerKey))
		for k, v := range r.AnswerKey {
			out.AnswerKey[k] = v
		}
	}
	if r.FinalizedAt != nil {
		at := *r.FinalizedAt
		out.FinalizedAt = &at
	}
	return out
}
