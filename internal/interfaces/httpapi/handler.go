package httpapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/riskibarqy/challenge-ledger/internal/platform/logging"
	"github.com/riskibarqy/challenge-ledger/internal/usecase"
)

type Handler struct {
	ledgerService       *usecase.LedgerService
	finalizationService *usecase.FinalizationService
	queryService        *usecase.LedgerQueryService
	auditService        *usecase.LedgerAuditService
	logger              *logging.Logger
	validator           *validator.Validate
	now                 func() time.Time
}

func NewHandler(
	ledgerService *usecase.LedgerService,
	finalizationService *usecase.FinalizationService,
	queryService *usecase.LedgerQueryService,
	auditService *usecase.LedgerAuditService,
	logger *logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.Default()
	}

	return &Handler{
		ledgerService:       ledgerService,
		finalizationService: finalizationService,
		queryService:        queryService,
		auditService:        auditService,
		logger:              logger.Named("httpapi"),
		validator:           validator.New(validator.WithRequiredStructEnabled()),
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.Healthz")
	defer span.End()

	writeSuccess(ctx, w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   h.now().Format(time.RFC3339),
	})
}
