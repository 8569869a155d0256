package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/riskibarqy/challenge-ledger/internal/config"
	"github.com/riskibarqy/challenge-ledger/internal/interfaces/httpapi"
	"github.com/riskibarqy/challenge-ledger/internal/observability"
	idgen "github.com/riskibarqy/challenge-ledger/internal/platform/id"
	"github.com/riskibarqy/challenge-ledger/internal/platform/logging"
	"github.com/riskibarqy/challenge-ledger/internal/usecase"
)

// Services groups the ledger usecases shared by the API and the CLI.
type Services struct {
	Ledger       *usecase.LedgerService
	Finalization *usecase.FinalizationService
	Query        *usecase.LedgerQueryService
	Audit        *usecase.LedgerAuditService
}

func NewServices(store *LedgerStore, cfg config.Config, metrics usecase.LedgerMetrics, logger *logging.Logger) Services {
	repo := store.Repository
	auditRepo := store.Uncached
	if auditRepo == nil {
		auditRepo = repo
	}
	finalization := usecase.NewFinalizationService(repo, logger)
	return Services{
		Ledger: usecase.NewLedgerService(
			repo,
			finalization,
			idgen.NewUUIDGenerator(),
			metrics,
			logger,
			usecase.LedgerServiceConfig{BatchWorkers: cfg.BatchFinalizeWorkers},
		),
		Finalization: finalization,
		Query:        usecase.NewLedgerQueryService(repo, logger, cfg.SubscriptionPollInterval),
		Audit:        usecase.NewLedgerAuditService(auditRepo, cfg.AuditWorkers, metrics, logger),
	}
}

// NewHTTPServer wires the store, services and router. The returned cleanup
// releases the store and must run after the server has stopped.
func NewHTTPServer(ctx context.Context, cfg config.Config, logger *logging.Logger) (*http.Server, func(context.Context) error, error) {
	if cfg.HTTPAddr == "" {
		return nil, nil, fmt.Errorf("http server addr cannot be empty")
	}

	store, err := OpenLedgerStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	var (
		metrics        usecase.LedgerMetrics
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		ledgerMetrics := observability.NewLedgerMetrics()
		metrics = ledgerMetrics
		metricsHandler = ledgerMetrics.Handler()
	}

	services := NewServices(store, cfg, metrics, logger)
	handler := httpapi.NewHandler(services.Ledger, services.Finalization, services.Query, services.Audit, logger)
	router := httpapi.NewRouter(handler, httpapi.RouterConfig{
		AdminToken:         cfg.AdminToken,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:            metricsHandler,
	}, logger)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server, store.Close, nil
}
