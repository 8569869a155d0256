package httpapi

import "net/http"

func registerSystemRoutes(mux *http.ServeMux, handler *Handler, metrics http.Handler) {
	mux.HandleFunc("GET /healthz", handler.Healthz)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
}

func registerPublicLedgerRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /v1/players/{playerID}/awards", handler.ListPlayerAwards)
	mux.HandleFunc("GET /v1/players/{playerID}/awards/stream", handler.StreamPlayerAwards)
	mux.HandleFunc("GET /v1/players/{playerID}/points", handler.GetPlayerPoints)
	mux.HandleFunc("GET /v1/challenges/{challengeID}/awards", handler.ListChallengeAwards)
}

func registerAdminRoutes(mux *http.ServeMux, handler *Handler, adminToken string) {
	admin := func(h http.HandlerFunc) http.Handler {
		return RequireAdminToken(adminToken, h)
	}

	mux.Handle("POST /v1/admin/challenges", admin(handler.SeedChallenge))
	mux.Handle("POST /v1/admin/challenges/finalize-batch", admin(handler.FinalizeBatch))
	mux.Handle("GET /v1/admin/challenges/{challengeID}", admin(handler.GetChallenge))
	mux.Handle("POST /v1/admin/challenges/{challengeID}/finalize", admin(handler.FinalizeChallenge))
	mux.Handle("POST /v1/admin/challenges/{challengeID}/finalize-quiz", admin(handler.FinalizeQuiz))
	mux.Handle("GET /v1/admin/ledger/audit", admin(handler.AuditLedger))
}
