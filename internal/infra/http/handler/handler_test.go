package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/secmon/internal/app/scan"
	"github.com/openctemio/secmon/internal/app/score"
	"github.com/openctemio/secmon/internal/infra/http/middleware"
	"github.com/openctemio/secmon/pkg/domain/scanjob"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/logger"
	"github.com/openctemio/secmon/pkg/validator"
)

type fakeScans struct {
	mu       sync.Mutex
	jobs     []*scanjob.Job
	inFlight map[scanjob.Kind]*scanjob.Job
	startErr error
	listErr  error
}

func newFakeScans() *fakeScans {
	return &fakeScans{inFlight: make(map[scanjob.Kind]*scanjob.Job)}
}

func (f *fakeScans) StartScan(_ context.Context, tenantID shared.ID, kind scanjob.Kind) (*scan.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	if j, ok := f.inFlight[kind]; ok {
		return &scan.StartResult{Job: j, Coalesced: true}, nil
	}
	j, err := scanjob.NewJob(tenantID, kind)
	if err != nil {
		return nil, err
	}
	f.inFlight[kind] = j
	f.jobs = append([]*scanjob.Job{j}, f.jobs...)
	return &scan.StartResult{Job: j}, nil
}

func (f *fakeScans) GetScan(_ context.Context, tenantID, id shared.ID) (*scanjob.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.ID == id && j.TenantID == tenantID {
			return j, nil
		}
	}
	return nil, fmt.Errorf("scan %s: %w", id, shared.ErrNotFound)
}

func (f *fakeScans) ListScans(_ context.Context, tenantID shared.ID) ([]*scanjob.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*scanjob.Job
	for _, j := range f.jobs {
		if j.TenantID == tenantID {
			out = append(out, j)
		}
	}
	return out, nil
}

type fakeScores struct{ score int }

func (f fakeScores) GetCurrentScore(_ context.Context, tenantID shared.ID) score.Snapshot {
	return score.Snapshot{TenantID: tenantID, Score: f.score, Timestamp: time.Now()}
}

func newTestRouter(scans ScanService) http.Handler {
	h := NewScanHandler(scans, validator.New(), logger.NewNop())
	sh := NewScoreHandler(fakeScores{score: 69})

	r := chi.NewRouter()
	r.Use(middleware.Tenant())
	r.Post("/api/v1/scans", h.StartScan)
	r.Get("/api/v1/scans", h.ListScans)
	r.Get("/api/v1/scans/{id}", h.GetScan)
	r.Get("/api/v1/security/score", sh.GetScore)
	return r
}

func do(t *testing.T, h http.Handler, method, target, tenant, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if tenant != "" {
		req.Header.Set(middleware.TenantHeader, tenant)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestScanHandler_StartCoalesces(t *testing.T) {
	router := newTestRouter(newFakeScans())
	tenant := shared.NewID().String()

	rec := do(t, router, http.MethodPost, "/api/v1/scans", tenant, `{"kind":"discovery"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var first StartScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.NotEmpty(t, first.ScanID)
	assert.False(t, first.Coalesced)
	assert.Equal(t, scanjob.KindDiscovery, first.Kind)

	rec = do(t, router, http.MethodPost, "/api/v1/scans", tenant, `{"kind":"Discovery"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var second StartScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.True(t, second.Coalesced)
	assert.Equal(t, first.ScanID, second.ScanID)
}

func TestScanHandler_StartValidation(t *testing.T) {
	router := newTestRouter(newFakeScans())
	tenant := shared.NewID().String()

	rec := do(t, router, http.MethodPost, "/api/v1/scans", tenant, `{"kind":"deep"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "kind")

	rec = do(t, router, http.MethodPost, "/api/v1/scans", tenant, `{"kind":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/scans", "", `{"kind":"discovery"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanHandler_StartWhileShuttingDown(t *testing.T) {
	scans := newFakeScans()
	scans.startErr = scan.ErrShuttingDown
	router := newTestRouter(scans)

	rec := do(t, router, http.MethodPost, "/api/v1/scans", shared.NewID().String(), `{"kind":"comprehensive"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestScanHandler_GetAndList(t *testing.T) {
	scans := newFakeScans()
	router := newTestRouter(scans)
	tenant := shared.NewID().String()

	rec := do(t, router, http.MethodPost, "/api/v1/scans", tenant, `{"kind":"discovery"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started StartScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	rec = do(t, router, http.MethodPost, "/api/v1/scans", tenant, `{"kind":"comprehensive"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/scans/"+started.ScanID, tenant, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got ScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, started.ScanID, got.ID)
	assert.Equal(t, scanjob.StatePending, got.State)

	// Another tenant cannot see the job.
	rec = do(t, router, http.MethodGet, "/api/v1/scans/"+started.ScanID, shared.NewID().String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/scans/not-a-uuid", tenant, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/scans?limit=1", tenant, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListResponse[ScanResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, scanjob.KindComprehensive, list.Data[0].Kind)

	rec = do(t, router, http.MethodGet, "/api/v1/scans", tenant, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Total)
}

func TestScanHandler_ListStoreError(t *testing.T) {
	scans := newFakeScans()
	scans.listErr = errors.New("connection refused")
	router := newTestRouter(scans)

	rec := do(t, router, http.MethodGet, "/api/v1/scans", shared.NewID().String(), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestScoreHandler_GetScore(t *testing.T) {
	router := newTestRouter(newFakeScans())
	tenant := shared.NewID()

	rec := do(t, router, http.MethodGet, "/api/v1/security/score", tenant.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap score.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 69, snap.Score)
	assert.Equal(t, tenant, snap.TenantID)
}

func TestHealthHandler(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") })

	rec := httptest.NewRecorder()
	NewHealthHandler().Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(WithCheck("database", ok), WithCheck("redis", nil)).
		Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var ready ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "ready", ready.Status)
	assert.Len(t, ready.Checks, 1)

	rec = httptest.NewRecorder()
	NewHealthHandler(WithCheck("database", ok), WithCheck("redis", down)).
		Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "error", ready.Checks["redis"].Status)
	assert.Equal(t, "ok", ready.Checks["database"].Status)
}
