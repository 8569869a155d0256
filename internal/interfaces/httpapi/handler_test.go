package httpapi

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/riskibarqy/challenge-ledger/internal/infrastructure/repository/memory"
	"github.com/riskibarqy/challenge-ledger/internal/platform/id"
	"github.com/riskibarqy/challenge-ledger/internal/platform/logging"
	"github.com/riskibarqy/challenge-ledger/internal/usecase"
	"github.com/stretchr/testify/require"
)

const testAdminToken = "test-admin-token"

type envelope[T any] struct {
	APIVersion string           `json:"apiVersion"`
	Data       T                `json:"data"`
	Error      *googleErrorBody `json:"error"`
}

func newTestRouter(t *testing.T) (http.Handler, *usecase.LedgerService) {
	t.Helper()

	repo := memory.NewLedgerRepository()
	logger := logging.NewNop()
	finalization := usecase.NewFinalizationService(repo, logger)
	ledger := usecase.NewLedgerService(repo, finalization, id.StaticGenerator("run-1"), nil, logger, usecase.LedgerServiceConfig{})
	query := usecase.NewLedgerQueryService(repo, logger, 10*time.Millisecond)
	audit := usecase.NewLedgerAuditService(repo, 2, nil, logger)

	handler := NewHandler(ledger, finalization, query, audit, logger)
	router := NewRouter(handler, RouterConfig{
		AdminToken:         testAdminToken,
		CORSAllowedOrigins: []string{"*"},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	}, logger)
	return router, ledger
}

func doRequest(t *testing.T, router http.Handler, method, path, body string, admin bool) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set(adminTokenHeader, testAdminToken)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()

	var out envelope[T]
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func TestRouter_HealthzAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/healthz", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/metrics", "", false)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "# metrics") {
		t.Fatalf("unexpected metrics response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_AdminRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/v1/admin/challenges/w1/finalize", `{"scores":{"a":1}}`, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/ledger/audit", nil)
	req.Header.Set(adminTokenHeader, "wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
}

func TestRequireAdminToken_UnconfiguredRejects(t *testing.T) {
	called := false
	handler := RequireAdminToken(" ", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/ledger/audit", nil)
	req.Header.Set(adminTokenHeader, "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected rejection, called=%v status=%d", called, rec.Code)
	}
}

func TestRouter_FinalizeFlow(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/v1/admin/challenges",
		`{"challenge_id":"week-1","policy":"one_shot","winner_bonus":2}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	seeded := decodeEnvelope[finalizationDTO](t, rec)
	require.Equal(t, "open", seeded.Data.State)

	rec = doRequest(t, router, http.MethodPost, "/v1/admin/challenges/week-1/finalize",
		`{"scores":{"a":10,"b":10,"c":7},"note":"week one"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeEnvelope[finalizeResultDTO](t, rec)
	require.True(t, result.Data.Finalized)
	require.Equal(t, []string{"a", "b"}, result.Data.Winners)
	require.Len(t, result.Data.Applied, 3)

	rec = doRequest(t, router, http.MethodPost, "/v1/admin/challenges/week-1/finalize", `{"scores":{"a":1}}`, true)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	conflict := decodeEnvelope[any](t, rec)
	require.Equal(t, "FAILED_PRECONDITION", conflict.Error.Status)

	rec = doRequest(t, router, http.MethodGet, "/v1/players/a/points", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	points := decodeEnvelope[aggregateDTO](t, rec)
	require.Equal(t, "a", points.Data.PlayerID)

	rec = doRequest(t, router, http.MethodGet, "/v1/challenges/week-1/awards", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	awards := decodeEnvelope[[]awardDTO](t, rec)
	require.Len(t, awards.Data, 3)
	require.Equal(t, "c", awards.Data[2].PlayerID)
	require.Equal(t, 3, awards.Data[2].Rank)

	rec = doRequest(t, router, http.MethodGet, "/v1/players/a/awards", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	byPlayer := decodeEnvelope[[]awardDTO](t, rec)
	require.Len(t, byPlayer.Data, 1)
	require.Equal(t, "week one", byPlayer.Data[0].Note)

	rec = doRequest(t, router, http.MethodGet, "/v1/admin/challenges/week-1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	record := decodeEnvelope[finalizationDTO](t, rec)
	require.Equal(t, "finalized", record.Data.State)
	require.NotNil(t, record.Data.FinalizedAt)

	rec = doRequest(t, router, http.MethodGet, "/v1/admin/ledger/audit", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decodeEnvelope[auditReportDTO](t, rec)
	require.True(t, audit.Data.Consistent)
	require.Equal(t, 3, audit.Data.CheckedPlayers)
}

func TestRouter_FinalizeValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{name: "unknown field", path: "/v1/admin/challenges/w1/finalize", body: `{"scorez":{}}`, want: http.StatusBadRequest},
		{name: "malformed json", path: "/v1/admin/challenges/w1/finalize", body: `{"scores":`, want: http.StatusBadRequest},
		{name: "negative multiplier", path: "/v1/admin/challenges/w1/finalize", body: `{"scores":{"a":1},"multiplier":-2}`, want: http.StatusBadRequest},
		{name: "missing quiz body", path: "/v1/admin/challenges/w1/finalize-quiz", body: ``, want: http.StatusBadRequest},
		{name: "quiz without seeded record", path: "/v1/admin/challenges/w1/finalize-quiz", body: `{"answers":{"a":{"q1":"x"}}}`, want: http.StatusNotFound},
		{name: "empty batch", path: "/v1/admin/challenges/finalize-batch", body: `{"items":[]}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, tt.path, tt.body, true)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRouter_FinalizeEmptySnapshotIsSkipped(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/v1/admin/challenges/w1/finalize", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeEnvelope[finalizeResultDTO](t, rec)
	require.True(t, result.Data.Skipped)
	require.Empty(t, result.Data.Applied)
}

func TestRouter_FinalizeLowerIsBetter(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/v1/admin/challenges/golf/finalize",
		`{"scores":{"a":1,"b":5},"higher_is_better":false}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/v1/challenges/golf/awards", "", false)
	awards := decodeEnvelope[[]awardDTO](t, rec)
	require.Len(t, awards.Data, 2)
	require.Equal(t, "a", awards.Data[0].PlayerID)
	require.Equal(t, 1, awards.Data[0].Rank)
}

func TestRouter_FinalizeBatchReportsPerItem(t *testing.T) {
	router, _ := newTestRouter(t)

	body := `{"items":[
		{"challenge_id":"w1","scores":{"a":3}},
		{"challenge_id":"w2","scores":{"a":1},"multiplier":-1}
	]}`
	rec := doRequest(t, router, http.MethodPost, "/v1/admin/challenges/finalize-batch", body, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decodeEnvelope[struct {
		Items []batchItemDTO `json:"items"`
	}](t, rec)
	require.Len(t, out.Data.Items, 2)
	require.Equal(t, "w1", out.Data.Items[0].ChallengeID)
	require.NotNil(t, out.Data.Items[0].Result)
	require.Nil(t, out.Data.Items[0].Error)
	require.NotNil(t, out.Data.Items[1].Error)
	require.Equal(t, http.StatusBadRequest, out.Data.Items[1].Error.Code)
}

func TestRouter_StreamPlayerAwards(t *testing.T) {
	router, ledger := newTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/players/a/awards/stream?interval=250ms", nil)
	require.NoError(t, err)
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan awardsSnapshotDTO, 4)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var snapshot awardsSnapshotDTO
			if err := sonic.UnmarshalString(strings.TrimPrefix(line, "data: "), &snapshot); err != nil {
				return
			}
			events <- snapshot
		}
	}()

	first := <-events
	require.Equal(t, "0", first.TotalPoints)
	require.Empty(t, first.Awards)

	_, err = ledger.FinalizeChallenge(ctx, usecase.FinalizeInput{
		ChallengeID:    "w1",
		ScoresByPlayer: map[string]float64{"a": 4},
		HigherIsBetter: true,
	})
	require.NoError(t, err)

	select {
	case changed := <-events:
		require.Equal(t, "4", changed.TotalPoints)
		require.Len(t, changed.Awards, 1)
	case <-ctx.Done():
		t.Fatalf("timed out waiting for change event")
	}
}

type failingAwardsRepository struct {
	challenge.Repository
	err error
}

func (r failingAwardsRepository) ListAwardsByPlayer(context.Context, string) ([]challenge.PointAward, error) {
	return nil, r.err
}

func TestRouter_StreamErrorEventHidesStoreDetails(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantText   string
		secretText string
	}{
		{
			name:       "internal",
			err:        errors.New("pq: password authentication failed for user ledger_admin"),
			wantCode:   http.StatusInternalServerError,
			wantText:   "internal server error",
			secretText: "ledger_admin",
		},
		{
			name:       "transient",
			err:        challenge.MarkTransient(errors.New("dial tcp 10.0.3.7:5432: connection refused"), "list awards"),
			wantCode:   http.StatusServiceUnavailable,
			wantText:   "dependency unavailable, retry later",
			secretText: "10.0.3.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := failingAwardsRepository{Repository: memory.NewLedgerRepository(), err: tt.err}
			logger := logging.NewNop()
			finalization := usecase.NewFinalizationService(repo, logger)
			ledger := usecase.NewLedgerService(repo, finalization, id.StaticGenerator("run-1"), nil, logger, usecase.LedgerServiceConfig{})
			query := usecase.NewLedgerQueryService(repo, logger, 10*time.Millisecond)
			audit := usecase.NewLedgerAuditService(repo, 2, nil, logger)
			router := NewRouter(NewHandler(ledger, finalization, query, audit, logger), RouterConfig{AdminToken: testAdminToken}, logger)

			rec := doRequest(t, router, http.MethodGet, "/v1/players/a/awards/stream?interval=250ms", "", false)
			require.Equal(t, http.StatusOK, rec.Code)

			body := rec.Body.String()
			require.Contains(t, body, "event: error\n")
			require.NotContains(t, body, tt.secretText)

			var payload googleErrorBody
			for _, line := range strings.Split(body, "\n") {
				if strings.HasPrefix(line, "data: ") {
					require.NoError(t, sonic.UnmarshalString(strings.TrimPrefix(line, "data: "), &payload))
				}
			}
			require.Equal(t, tt.wantCode, payload.Code)
			require.Equal(t, tt.wantText, payload.Message)
		})
	}
}

func TestRouter_StreamRejectsBadInterval(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/v1/players/a/awards/stream?interval=1ms", "", false)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
