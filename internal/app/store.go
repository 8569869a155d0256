package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/riskibarqy/challenge-ledger/internal/config"
	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/riskibarqy/challenge-ledger/internal/infrastructure/repository/cache"
	"github.com/riskibarqy/challenge-ledger/internal/infrastructure/repository/guarded"
	"github.com/riskibarqy/challenge-ledger/internal/infrastructure/repository/memory"
	"github.com/riskibarqy/challenge-ledger/internal/infrastructure/repository/postgres"
	"github.com/riskibarqy/challenge-ledger/internal/platform/dburl"
	"github.com/riskibarqy/challenge-ledger/internal/platform/logging"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"
)

// LedgerStore is the assembled ledger repository plus the release hook of
// its backend. Uncached skips the read cache and serves the audit.
type LedgerStore struct {
	Repository challenge.Repository
	Uncached   challenge.Repository
	Backend    string
	close      func(context.Context) error
}

func (s *LedgerStore) Close(ctx context.Context) error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// OpenLedgerStore builds the backend selected by cfg and wraps it with the
// circuit breaker and, when enabled, the read cache.
func OpenLedgerStore(ctx context.Context, cfg config.Config, logger *logging.Logger) (*LedgerStore, error) {
	if logger == nil {
		logger = logging.Default()
	}

	var (
		base    challenge.Repository
		closeFn func(context.Context) error
	)

	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		db, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		base = postgres.NewLedgerRepository(db)
		closeFn = func(context.Context) error { return db.Close() }
		logger.Info("ledger store ready",
			"backend", cfg.StoreBackend,
			"db_name", dburl.DBName(cfg.DBURL),
			"max_open_conns", cfg.DBMaxOpenConns,
		)
	case config.StoreBackendMemory, "":
		repo := memory.NewLedgerRepository()
		stateFile := strings.TrimSpace(cfg.StateFile)
		if stateFile != "" {
			if err := repo.LoadFile(stateFile); err != nil {
				return nil, fmt.Errorf("load state file: %w", err)
			}
			closeFn = func(context.Context) error {
				if err := repo.SaveFile(stateFile); err != nil {
					return fmt.Errorf("save state file: %w", err)
				}
				return nil
			}
		}
		base = repo
		logger.Info("ledger store ready", "backend", config.StoreBackendMemory, "state_file", stateFile)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}

	var guardedRepo challenge.Repository = guarded.NewLedgerRepository(base, cfg.StoreCircuitBreaker(), logger)
	repo := guardedRepo
	if cfg.CacheEnabled {
		repo = cache.NewLedgerRepository(guardedRepo, cfg.CacheTTL)
	}

	return &LedgerStore{
		Repository: repo,
		Uncached:   guardedRepo,
		Backend:    cfg.StoreBackend,
		close:      closeFn,
	}, nil
}

func openPostgres(ctx context.Context, cfg config.Config) (*sqlx.DB, error) {
	dsn := dburl.Normalize(cfg.DBURL, cfg.DBDisablePreparedBinary)
	db, err := otelsqlx.Open("postgres", dsn,
		otelsql.WithDBName(dburl.DBName(dsn)),
		otelsql.WithDBSystem("postgresql"),
		otelsql.WithQueryFormatter(formatDBQueryForTrace),
	)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
