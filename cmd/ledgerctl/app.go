package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/riskibarqy/challenge-ledger/internal/app"
	"github.com/riskibarqy/challenge-ledger/internal/config"
	"github.com/riskibarqy/challenge-ledger/internal/platform/logging"
	"github.com/urfave/cli/v2"
)

const defaultStateFile = "ledger-state.json"

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "ledgerctl",
		Usage:     "finalize challenges and inspect the points ledger",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "store",
				Usage:   "ledger store backend (memory|postgres)",
				Value:   config.StoreBackendMemory,
				EnvVars: []string{"STORE_BACKEND"},
			},
			&cli.StringFlag{
				Name:    "state-file",
				Usage:   "snapshot file for the memory store",
				Value:   defaultStateFile,
				EnvVars: []string{"STATE_FILE"},
			},
			&cli.StringFlag{
				Name:    "db-url",
				Usage:   "postgres connection string",
				EnvVars: []string{"DB_URL"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				EnvVars: []string{"APP_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output format (yaml|json)",
				Value:   "yaml",
			},
		},
		Commands: []*cli.Command{
			finalizeCommand(),
			finalizeBatchCommand(),
			seedCommand(),
			challengeCommand(),
			awardsCommand(),
			pointsCommand(),
			auditCommand(),
		},
	}
}

// withServices opens the store for one command and releases it afterwards.
// The memory store is written back to the state file on release.
func withServices(c *cli.Context, fn func(ctx context.Context, services app.Services) error) (err error) {
	level, err := logging.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	logger := logging.NewJSONTo(c.App.ErrWriter, level).Named("ledgerctl")
	defer func() { _ = logger.Sync() }()

	backend := strings.ToLower(strings.TrimSpace(c.String("store")))
	if backend != config.StoreBackendMemory && backend != config.StoreBackendPostgres {
		return fmt.Errorf("unsupported store %q", backend)
	}
	if backend == config.StoreBackendPostgres && strings.TrimSpace(c.String("db-url")) == "" {
		return fmt.Errorf("--db-url is required with --store=postgres")
	}

	cfg := config.Config{
		StoreBackend:         backend,
		StateFile:            c.String("state-file"),
		DBURL:                c.String("db-url"),
		DBMaxOpenConns:       4,
		AuditWorkers:         4,
		BatchFinalizeWorkers: 4,
	}

	ctx := c.Context
	store, err := app.OpenLedgerStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return fn(ctx, app.NewServices(store, cfg, nil, logger))
}
