package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/aidenletourneau/gated_pipeline/server/internal/logging"
	"github.com/aidenletourneau/gated_pipeline/server/internal/models"
	"github.com/aidenletourneau/gated_pipeline/server/internal/registry"
	"github.com/aidenletourneau/gated_pipeline/server/internal/store"
)

type fakePipeline struct {
	mu       sync.Mutex
	snapshot models.PipelineSnapshot
	report   *models.RunReport
}

func (f *fakePipeline) Snapshot() models.PipelineSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakePipeline) Report() (models.RunReport, bool) {
	if f.report == nil {
		return models.RunReport{}, false
	}
	return *f.report, true
}

func (f *fakePipeline) StopProducer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot.Producer.State = models.StateStopped
}

func (f *fakePipeline) StopConsumer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot.Consumer.State = models.StateStopped
}

type fakeRuns struct {
	mu   sync.Mutex
	runs []models.RunReport
	err  error
}

func (f *fakeRuns) GetAllRuns() ([]models.RunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs, f.err
}

func (f *fakeRuns) DeleteRun(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for i, r := range f.runs {
		if r.RunID == id {
			f.runs = append(f.runs[:i], f.runs[i+1:]...)
			return nil
		}
	}
	return store.ErrRunNotFound
}

func (f *fakeRuns) GetRun(id string) (*models.RunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.runs {
		if r.RunID == id {
			return &r, nil
		}
	}
	return nil, store.ErrRunNotFound
}

func newTestRouter(p *fakePipeline, runs RunStore, limiter *rate.Limiter) (http.Handler, *logging.LogStore) {
	logs := logging.NewLogStore(nil, 0)
	return NewRouter(Deps{
		Pipeline: p,
		Logs:     logs,
		Runs:     runs,
		Watchers: registry.NewRegistry(0),
		Limiter:  limiter,
	}), logs
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHandleGetStatus(t *testing.T) {
	p := &fakePipeline{snapshot: models.PipelineSnapshot{
		RunID:    "run-1",
		Producer: models.ProducerSnapshot{State: models.StateRunning, EventsProduced: 3, MaxEvents: 20},
		Consumer: models.ConsumerSnapshot{State: models.StateRunning, EventsConsumed: 2, TotalEvents: 20},
	}}
	h, _ := newTestRouter(p, nil, nil)

	rec := serve(h, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var got models.PipelineSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 3, got.Producer.EventsProduced)
	assert.Equal(t, 2, got.Consumer.EventsConsumed)
}

func TestHandleGetReport(t *testing.T) {
	p := &fakePipeline{}
	h, _ := newTestRouter(p, nil, nil)

	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/report").Code)

	p.report = &models.RunReport{RunID: "run-1", EventsProduced: 20}
	rec := serve(h, http.MethodGet, "/api/report")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"events_produced":20`)
}

func TestHandleStop(t *testing.T) {
	p := &fakePipeline{}
	h, logs := newTestRouter(p, nil, nil)

	rec := serve(h, http.MethodPost, "/api/producer/stop")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"component":"producer","state":"Stopped"}`, rec.Body.String())

	rec = serve(h, http.MethodPost, "/api/consumer/stop")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"component":"consumer","state":"Stopped"}`, rec.Body.String())

	assert.Len(t, logs.GetAll(), 2)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodGet, "/api/producer/stop").Code)
}

func TestHandleRuns(t *testing.T) {
	runs := &fakeRuns{runs: []models.RunReport{{RunID: "a"}, {RunID: "b"}}}
	h, _ := newTestRouter(&fakePipeline{}, runs, nil)

	rec := serve(h, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []models.RunReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Len(t, got, 2)

	rec = serve(h, http.MethodGet, "/api/runs/b")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id":"b"`)

	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/runs/zzz").Code)

	runs.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, serve(h, http.MethodGet, "/api/runs").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(h, http.MethodGet, "/api/runs/a").Code)
}

func TestHandleDeleteRun(t *testing.T) {
	runs := &fakeRuns{runs: []models.RunReport{{RunID: "a"}, {RunID: "b"}}}
	h, logs := newTestRouter(&fakePipeline{}, runs, nil)

	assert.Equal(t, http.StatusNoContent, serve(h, http.MethodDelete, "/api/runs/a").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/runs/a").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodDelete, "/api/runs/a").Code)

	got, err := runs.GetAllRuns()
	require.NoError(t, err)
	assert.Equal(t, []models.RunReport{{RunID: "b"}}, got)
	require.Len(t, logs.GetAll(), 1)
	assert.Equal(t, "Run deleted: a", logs.GetAll()[0].Message)

	runs.mu.Lock()
	runs.err = errors.New("db down")
	runs.mu.Unlock()
	assert.Equal(t, http.StatusInternalServerError, serve(h, http.MethodDelete, "/api/runs/b").Code)
}

func TestHandleClearLogs(t *testing.T) {
	h, logs := newTestRouter(&fakePipeline{}, nil, nil)
	logs.LogAndStore("info", "Produced event #%d", 1)
	logs.LogAndStore("warn", "ALERT: consecutive HIGH priority events")

	assert.Equal(t, http.StatusNoContent, serve(h, http.MethodDelete, "/api/logs").Code)

	rec := serve(h, http.MethodGet, "/api/logs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRunsRoutesAbsentWithoutStore(t *testing.T) {
	h, _ := newTestRouter(&fakePipeline{}, nil, nil)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/runs").Code)
}

func TestPreflight(t *testing.T) {
	h, _ := newTestRouter(&fakePipeline{}, nil, nil)

	rec := serve(h, http.MethodOptions, "/api/producer/stop")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GET, POST, DELETE, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestRateLimit(t *testing.T) {
	h, _ := newTestRouter(&fakePipeline{}, nil, rate.NewLimiter(0, 2))

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/status").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/status").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, http.MethodGet, "/api/status").Code)

	// The root page is outside the limited API group.
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/").Code)
}

func TestHandleGetWatchers(t *testing.T) {
	reg := registry.NewRegistry(0)
	w := reg.Register("dashboard")

	rec := httptest.NewRecorder()
	HandleGetWatchers(reg)(rec, httptest.NewRequest(http.MethodGet, "/api/watchers", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got []WatcherResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, WatcherResponse{ID: w.ID, Name: "dashboard"}, got[0])
}
