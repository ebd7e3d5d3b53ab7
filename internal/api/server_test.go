package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"gownqueue/internal/blob"
	"gownqueue/internal/core"
	memstore "gownqueue/internal/infra/persistence/memory"
	"gownqueue/internal/observability"
	memremote "gownqueue/internal/remote/memory"
	"gownqueue/pkg/domain"
)

type fixture struct {
	srv    *Server
	svc    *core.Service
	remote *memremote.Remote
}

func setup(t *testing.T, opts ...core.Option) fixture {
	t.Helper()
	return setupWithStore(t, memstore.NewStore(), opts...)
}

func setupWithStore(t *testing.T, store domain.QueueStore, opts ...core.Option) fixture {
	t.Helper()
	remote := memremote.New(
		domain.Booking{ID: "E1", Status: domain.StatusAwaitingPickup, OrderType: domain.OrderHire},
		domain.Booking{ID: "E2", Status: domain.StatusCollected, OrderType: domain.OrderPurchase},
	)
	rec := observability.NewPrometheusRecorder()
	opts = append([]core.Option{core.WithRecorder(rec), core.WithReplay(2, time.Second)}, opts...)
	svc, err := core.New(context.Background(), store, remote, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	srv := NewServer(svc, Options{DisableReqLogs: true, Metrics: rec.Handler(), Vars: expvar.Handler()})
	return fixture{srv: srv, svc: svc, remote: remote}
}

func (f fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, false, body["returns_mode"])
}

func TestEnqueueAndOptimisticStatus(t *testing.T) {
	f := setup(t, core.WithInitialOnline(false))

	rec := f.do(t, http.MethodPost, "/v1/operations", map[string]any{"entity_id": "E1", "type": "CHECK_OUT_GOWN"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id := decode[map[string]string](t, rec)["id"]
	require.NotEmpty(t, id)

	rec = f.do(t, http.MethodGet, "/v1/entities/E1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[domain.EffectiveStatus](t, rec)
	require.Equal(t, domain.StatusCollected, st.Status)
	require.Equal(t, domain.StatusAwaitingPickup, st.Authoritative)
	require.NotNil(t, st.Pending)
	require.Equal(t, id, st.Pending.ID)

	rec = f.do(t, http.MethodGet, "/v1/operations?entity_id=E1&state=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]domain.Operation](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/v1/operations?entity_id=E2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestEnqueueValidationErrors(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodPost, "/v1/operations", map[string]any{"type": "CHANGE_GOWN"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}](t, rec)
	require.Contains(t, body.Fields, "entity_id")
	require.Contains(t, body.Fields, "change")

	req := httptest.NewRequest(http.MethodPost, "/v1/operations", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	raw := httptest.NewRecorder()
	f.srv.ServeHTTP(raw, req)
	require.Equal(t, http.StatusBadRequest, raw.Code)

	rec = f.do(t, http.MethodGet, "/v1/operations?state=applied", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusUnknownEntity(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, "/v1/entities/missing/status", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReplayErrorRetryAndDiscard(t *testing.T) {
	f := setup(t, core.WithInitialOnline(false))
	f.remote.FailNext("E1", errors.New("gateway timeout"))
	id := decode[map[string]string](t, f.do(t, http.MethodPost, "/v1/operations", map[string]any{"entity_id": "E1", "type": "CHECK_OUT_GOWN"}))["id"]

	rec := f.do(t, http.MethodPost, "/v1/replay", nil)
	require.Equal(t, http.StatusConflict, rec.Code, "replay must be refused offline")

	rec = f.do(t, http.MethodPut, "/v1/network", map[string]any{"online": true})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode[map[string]any](t, rec)["changed"])

	rec = f.do(t, http.MethodPost, "/v1/replay?wait=1s", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[replayResponse](t, rec)
	require.True(t, resp.Completed)
	require.Equal(t, 1, resp.Report.Errored)

	st := decode[domain.EffectiveStatus](t, f.do(t, http.MethodGet, "/v1/entities/E1/status", nil))
	require.Contains(t, st.Error, "gateway timeout")
	require.Nil(t, st.Pending)

	rec = f.do(t, http.MethodDelete, "/v1/operations/unknown", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/operations/"+id+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, domain.StatePending, decode[domain.Operation](t, rec).State)

	rec = f.do(t, http.MethodDelete, "/v1/operations/"+id, nil)
	require.Equal(t, http.StatusConflict, rec.Code, "pending operations cannot be discarded")

	rec = f.do(t, http.MethodPost, "/v1/replay", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, decode[replayResponse](t, rec).Report.Applied)
	b, _ := f.remote.Booking("E1")
	require.Equal(t, domain.StatusCollected, b.Status)
}

func TestReplayRejectsBadWait(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodPost, "/v1/replay?wait=soon", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNetworkRequiresOnline(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodPut, "/v1/network", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/network", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode[map[string]any](t, rec)["online"])
}

func TestReturnsModeLifecycle(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodPost, "/v1/returns-mode", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decode[map[string]any](t, rec)["already_active"])

	f.do(t, http.MethodPost, "/v1/operations", map[string]any{"entity_id": "E1", "type": "CHECK_OUT_GOWN"})

	rec = f.do(t, http.MethodDelete, "/v1/returns-mode", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[replayResponse](t, rec)
	require.True(t, resp.Completed)
	require.Equal(t, 1, resp.Report.Applied)

	rec = f.do(t, http.MethodGet, "/v1/returns-mode", nil)
	require.Equal(t, false, decode[map[string]any](t, rec)["active"])
}

func TestClearEntityErrors(t *testing.T) {
	f := setup(t)
	f.remote.FailNext("E1", errors.New("rejected"), errors.New("rejected"))
	f.do(t, http.MethodPost, "/v1/operations", map[string]any{"entity_id": "E1", "type": "CHECK_OUT_GOWN"})
	f.do(t, http.MethodPost, "/v1/replay", nil)
	rec := f.do(t, http.MethodDelete, "/v1/entities/E1/errors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, decode[map[string]any](t, rec)["cleared"])
}

func TestRetryUnsupportedTypeConflicts(t *testing.T) {
	store := memstore.NewStore()
	require.NoError(t, store.Save(context.Background(), domain.QueueSnapshot{
		SchemaVersion: domain.QueueSchemaVersion,
		Seq:           1,
		Operations: []domain.Operation{
			{ID: "x", EntityID: "E1", Type: "REPAIR_GOWN", Seq: 1, State: domain.StatePending},
		},
	}))
	f := setupWithStore(t, store, core.WithInitialOnline(false))

	rec := f.do(t, http.MethodPost, "/v1/operations/x/retry", nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	require.Contains(t, decode[map[string]any](t, rec)["error"], "cannot be retried")

	rec = f.do(t, http.MethodDelete, "/v1/operations/x", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestExports(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodPost, "/v1/exports", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f = setup(t, core.WithBlobStore(blob.NewMemory()), core.WithInitialOnline(false))
	f.do(t, http.MethodPost, "/v1/operations", map[string]any{"entity_id": "E2", "type": "CHECK_IN_GOWN"})
	rec = f.do(t, http.MethodPost, "/v1/exports", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.EqualValues(t, 1, decode[map[string]any](t, rec)["operations"])

	rec = f.do(t, http.MethodGet, "/v1/exports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]blob.Info](t, rec), 2)
}

func TestExportDownloadAndDelete(t *testing.T) {
	f := setup(t, core.WithBlobStore(blob.NewMemory()), core.WithInitialOnline(false))
	f.do(t, http.MethodPost, "/v1/operations", map[string]any{"entity_id": "E1", "type": "CHECK_OUT_GOWN"})
	rec := f.do(t, http.MethodPost, "/v1/exports", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[struct {
		CSV blob.Info `json:"csv"`
	}](t, rec)
	path := "/v1/exports/" + strings.TrimPrefix(res.CSV.Key, "exports/")

	rec = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get(echo.HeaderContentType))
	require.True(t, strings.HasPrefix(rec.Body.String(), "id,entity_id"), rec.Body.String())
	require.Contains(t, rec.Body.String(), "E1")

	rec = f.do(t, http.MethodHead, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, strconv.FormatInt(res.CSV.Size, 10), rec.Header().Get(echo.HeaderContentLength))
	require.Zero(t, rec.Body.Len())

	rec = f.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/exports/..", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := setup(t, core.WithInitialOnline(false))
	f.do(t, http.MethodPost, "/v1/operations", map[string]any{"entity_id": "E1", "type": "CHECK_OUT_GOWN"})
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `gownqueue_enqueued_total{type="CHECK_OUT_GOWN"} 1`)
	require.Contains(t, body, `gownqueue_queue_operations{state="pending"} 1`)
	require.Contains(t, body, "gownqueue_network_online 0")
}

func TestDebugVars(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, "/debug/vars", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "memstats")
}
