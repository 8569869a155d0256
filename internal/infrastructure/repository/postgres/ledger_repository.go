package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	qb "github.com/riskibarqy/challenge-ledger/internal/platform/querybuilder"
	"github.com/shopspring/decimal"
)

const (
	finalizationTable = "finalization_records"
	awardTable        = "point_awards"
	aggregateTable    = "player_aggregates"
)

type LedgerRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *LedgerRepository) GetFinalization(ctx context.Context, challengeID string) (challenge.FinalizationRecord, bool, error) {
	query, args, err := qb.Select("*").
		From(finalizationTable).
		Where(qb.Eq("challenge_id", challengeID)).
		ToSQL()
	if err != nil {
		return challenge.FinalizationRecord{}, false, fmt.Errorf("build get finalization query: %w", err)
	}

	var row finalizationTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return challenge.FinalizationRecord{}, false, nil
		}
		return challenge.FinalizationRecord{}, false, storeError("get finalization record", err)
	}

	record, err := row.toDomain()
	if err != nil {
		return challenge.FinalizationRecord{}, false, err
	}
	return record, true, nil
}

// UpsertFinalization writes configuration only. The finalized flag, winners
// and run count are owned by MarkFinalized and IncrementRunCount, and a
// finalized record is never overwritten.
func (r *LedgerRepository) UpsertFinalization(ctx context.Context, record challenge.FinalizationRecord) error {
	insertModel, err := toFinalizationInsertModel(record, r.now())
	if err != nil {
		return err
	}
	query, args, err := qb.InsertModel(finalizationTable, insertModel, `ON CONFLICT (challenge_id)
DO UPDATE SET
    policy = EXCLUDED.policy,
    winner_bonus = EXCLUDED.winner_bonus,
    prize_table = EXCLUDED.prize_table,
    winner_note = EXCLUDED.winner_note,
    answer_key = EXCLUDED.answer_key,
    updated_at = EXCLUDED.updated_at
WHERE finalization_records.is_finalized = FALSE`)
	if err != nil {
		return fmt.Errorf("build upsert finalization query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeError("upsert finalization record", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeError("upsert finalization rows affected", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: challenge %s", challenge.ErrAlreadyFinalized, record.ChallengeID)
	}
	return nil
}

func (r *LedgerRepository) MarkFinalized(ctx context.Context, challengeID string, winners []string, finalizedAt time.Time) (bool, error) {
	query, args, err := qb.Update(finalizationTable).
		Set("is_finalized", true).
		Set("winners", pq.StringArray(sortedCopy(winners))).
		Set("finalized_at", finalizedAt.UTC()).
		Set("updated_at", r.now()).
		Where(
			qb.Eq("challenge_id", challengeID),
			qb.Eq("policy", string(challenge.PolicyOneShot)),
			qb.Eq("is_finalized", false),
		).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("build mark finalized query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, storeError("mark finalized", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storeError("mark finalized rows affected", err)
	}
	if affected == 1 {
		return true, nil
	}

	record, ok, err := r.GetFinalization(ctx, challengeID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: %s", challenge.ErrChallengeNotFound, challengeID)
	}
	// Idempotent records carry no lock.
	return record.Policy != challenge.PolicyOneShot, nil
}

func (r *LedgerRepository) IncrementRunCount(ctx context.Context, challengeID string) error {
	query, args, err := qb.Update(finalizationTable).
		SetExpr("run_count", "run_count + 1").
		Set("updated_at", r.now()).
		Where(qb.Eq("challenge_id", challengeID)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build increment run count query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return storeError("increment run count", err)
	}
	return nil
}

func (r *LedgerRepository) GetAward(ctx context.Context, challengeID, playerID string) (challenge.PointAward, bool, error) {
	query, args, err := qb.Select("*").
		From(awardTable).
		Where(qb.Eq("challenge_id", challengeID), qb.Eq("player_id", playerID)).
		ToSQL()
	if err != nil {
		return challenge.PointAward{}, false, fmt.Errorf("build get award query: %w", err)
	}

	var row awardTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return challenge.PointAward{}, false, nil
		}
		return challenge.PointAward{}, false, storeError("get award", err)
	}
	return row.toDomain(), true, nil
}

// ApplyAward runs one per-player unit in a transaction. The finalization row
// is share-locked and checked first, so MarkFinalized waits for in-flight
// units and no unit commits on a finalized one-shot challenge. The aggregate
// row is then locked so every unit for the same player is serialized,
// including the very first award when no award row exists to lock yet.
func (r *LedgerRepository) ApplyAward(ctx context.Context, award challenge.PointAward) (challenge.AwardApplication, error) {
	now := r.now()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return challenge.AwardApplication{}, storeError("begin tx apply award", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	guardQuery, guardArgs, err := qb.Select("policy", "is_finalized").
		From(finalizationTable).
		Where(qb.Eq("challenge_id", award.ChallengeID)).
		ForShare().
		ToSQL()
	if err != nil {
		return challenge.AwardApplication{}, fmt.Errorf("build finalization guard query: %w", err)
	}
	var guard finalizationGuardModel
	switch err := tx.GetContext(ctx, &guard, guardQuery, guardArgs...); {
	case err == nil:
		if guard.IsFinalized && challenge.Policy(guard.Policy) == challenge.PolicyOneShot {
			return challenge.AwardApplication{}, fmt.Errorf("%w: challenge %s", challenge.ErrAlreadyFinalized, award.ChallengeID)
		}
	case isNotFound(err):
	default:
		return challenge.AwardApplication{}, storeError("read finalization guard", err)
	}

	ensureQuery, ensureArgs, err := qb.InsertInto(aggregateTable).
		Columns("player_id", "total_points", "updated_at").
		Values(award.PlayerID, decimal.Zero, now).
		Suffix("ON CONFLICT (player_id) DO NOTHING").
		ToSQL()
	if err != nil {
		return challenge.AwardApplication{}, fmt.Errorf("build ensure aggregate query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, ensureQuery, ensureArgs...); err != nil {
		return challenge.AwardApplication{}, storeError("ensure aggregate", err)
	}

	lockQuery, lockArgs, err := qb.Select("*").
		From(aggregateTable).
		Where(qb.Eq("player_id", award.PlayerID)).
		ForUpdate().
		ToSQL()
	if err != nil {
		return challenge.AwardApplication{}, fmt.Errorf("build lock aggregate query: %w", err)
	}
	var aggregate aggregateTableModel
	if err := tx.GetContext(ctx, &aggregate, lockQuery, lockArgs...); err != nil {
		return challenge.AwardApplication{}, storeError("lock aggregate", err)
	}

	prevQuery, prevArgs, err := qb.Select("*").
		From(awardTable).
		Where(qb.Eq("challenge_id", award.ChallengeID), qb.Eq("player_id", award.PlayerID)).
		ForUpdate().
		ToSQL()
	if err != nil {
		return challenge.AwardApplication{}, fmt.Errorf("build previous award query: %w", err)
	}

	previousPoints := decimal.Zero
	created := true
	var previous awardTableModel
	switch err := tx.GetContext(ctx, &previous, prevQuery, prevArgs...); {
	case err == nil:
		previousPoints = previous.Points
		award.CreatedAt = previous.CreatedAt
		created = false
	case isNotFound(err):
	default:
		return challenge.AwardApplication{}, storeError("read previous award", err)
	}
	if award.CreatedAt.IsZero() {
		award.CreatedAt = now
	}
	award.UpdatedAt = now

	upsertQuery, upsertArgs, err := qb.UpsertModel(awardTable, fromAward(award), []string{"challenge_id", "player_id"}, "created_at")
	if err != nil {
		return challenge.AwardApplication{}, fmt.Errorf("build upsert award query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsertQuery, upsertArgs...); err != nil {
		return challenge.AwardApplication{}, storeError("upsert award", err)
	}

	delta := award.Points.Sub(previousPoints)
	incQuery, incArgs, err := qb.Update(aggregateTable).
		SetExpr("total_points", "total_points + ?", delta).
		Set("updated_at", now).
		Where(qb.Eq("player_id", award.PlayerID)).
		ToSQL()
	if err != nil {
		return challenge.AwardApplication{}, fmt.Errorf("build increment aggregate query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, incQuery, incArgs...); err != nil {
		return challenge.AwardApplication{}, storeError("increment aggregate", err)
	}

	if err := tx.Commit(); err != nil {
		return challenge.AwardApplication{}, storeError("commit apply award", err)
	}

	return challenge.AwardApplication{
		Award:          award,
		PreviousPoints: previousPoints,
		Delta:          delta,
		Created:        created,
	}, nil
}

func (r *LedgerRepository) ListAwardsByPlayer(ctx context.Context, playerID string) ([]challenge.PointAward, error) {
	query, args, err := qb.Select("*").
		From(awardTable).
		Where(qb.Eq("player_id", playerID)).
		OrderBy("created_at DESC", "challenge_id ASC").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list awards by player query: %w", err)
	}
	return r.selectAwards(ctx, "list awards by player", query, args)
}

func (r *LedgerRepository) ListAwardsByChallenge(ctx context.Context, challengeID string) ([]challenge.PointAward, error) {
	query, args, err := qb.Select("*").
		From(awardTable).
		Where(qb.Eq("challenge_id", challengeID)).
		OrderBy("rank ASC", "player_id ASC").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list awards by challenge query: %w", err)
	}
	return r.selectAwards(ctx, "list awards by challenge", query, args)
}

func (r *LedgerRepository) selectAwards(ctx context.Context, op, query string, args []any) ([]challenge.PointAward, error) {
	var rows []awardTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storeError(op, err)
	}

	out := make([]challenge.PointAward, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *LedgerRepository) GetAggregate(ctx context.Context, playerID string) (challenge.PlayerAggregate, bool, error) {
	query, args, err := qb.Select("*").
		From(aggregateTable).
		Where(qb.Eq("player_id", playerID)).
		ToSQL()
	if err != nil {
		return challenge.PlayerAggregate{}, false, fmt.Errorf("build get aggregate query: %w", err)
	}

	var row aggregateTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return challenge.PlayerAggregate{}, false, nil
		}
		return challenge.PlayerAggregate{}, false, storeError("get aggregate", err)
	}
	return row.toDomain(), true, nil
}

func (r *LedgerRepository) ListAggregates(ctx context.Context) ([]challenge.PlayerAggregate, error) {
	query, args, err := qb.Select("*").
		From(aggregateTable).
		OrderBy("player_id ASC").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list aggregates query: %w", err)
	}

	var rows []aggregateTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storeError("list aggregates", err)
	}

	out := make([]challenge.PlayerAggregate, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func sortedCopy(values []string) []string {
	out := append([]string{}, values...)
	sort.Strings(out)
	return out
}
