package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/config"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/db"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/loader"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/manager"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/monitoring"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/testutil"
)

const emptyRecording = "empty.txt"

type testServer struct {
	handler http.Handler
	m       *manager.Manager
	db      *db.DB
}

func setupTestServer(t *testing.T, withDB bool) *testServer {
	t.Helper()

	fsys := testutil.MemFS(t, testutil.Recording)
	require.NoError(t, fsys.WriteFile(emptyRecording, []byte("# nothing\nTemps\tA\tCommentaire\n"), 0o644))

	metrics := monitoring.NewMetrics()
	m := manager.New(manager.Config{
		Loader:  loader.New(fsys),
		Metrics: metrics,
	})
	t.Cleanup(m.Shutdown)

	ts := &testServer{m: m}
	if withDB {
		results, err := db.NewDB(filepath.Join(t.TempDir(), "results.db"))
		require.NoError(t, err)
		t.Cleanup(func() { results.Close() })
		ts.db = results
	}

	period := 10
	cfg := config.DefaultPipelineConfig()
	cfg.Period = &period
	ts.handler = LoggingMiddleware(NewServer(m, cfg, metrics, ts.db).ServeMux())
	return ts
}

func (ts *testServer) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := testutil.NewTestRecorder()
	ts.handler.ServeHTTP(rec, testutil.NewTestRequest(method, target))
	return rec
}

func (ts *testServer) load(t *testing.T) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/load?path="+testutil.Recording)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func measureQuery(m experiment.Measure) string {
	return strings.ReplaceAll(string(m), " ", "+")
}

func TestHandleLoad(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/load?path="+testutil.Recording)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode[loadResponse](t, rec)
	assert.Equal(t, testutil.Recording, resp.Path)
	assert.Contains(t, resp.HeaderComment, "Lapin 3")
	assert.Equal(t, []experiment.Measure{testutil.Pressure, testutil.Spirometry, testutil.HeartRate}, resp.Measures)
	assert.Equal(t, []experiment.Tag{experiment.Preparation, "ach", "adrenaline", "ocytocine"}, resp.Tags)
}

func TestHandleLoadErrors(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t, false)

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"wrong method", http.MethodGet, "/api/load?path=" + testutil.Recording, http.StatusMethodNotAllowed},
		{"missing path", http.MethodPost, "/api/load", http.StatusBadRequest},
		{"missing file", http.MethodPost, "/api/load?path=missing.txt", http.StatusNotFound},
		{"no data", http.MethodPost, "/api/load?path=" + emptyRecording, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.target)
			testutil.AssertStatusCode(t, rec.Code, tt.want)
		})
	}
}

func TestHandleLoadDataDir(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t, false)

	dataDir := t.TempDir()
	cfg := config.DefaultPipelineConfig()
	cfg.DataDir = &dataDir
	h := NewServer(ts.m, cfg, nil, nil).ServeMux()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/load?path=../secret.txt", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Inside the directory the path is resolved, and the in-memory loader
	// only knows the bare fixture name.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/load?path="+testutil.Recording, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleChannels(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/channels")
	assert.Equal(t, http.StatusNotFound, rec.Code, "nothing loaded yet")

	ts.load(t)
	rec = ts.do(t, http.MethodGet, "/api/channels")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[struct {
		File     string        `json:"file"`
		Channels []channelInfo `json:"channels"`
	}](t, rec)
	assert.Equal(t, testutil.Recording, resp.File)
	require.Len(t, resp.Channels, 3)
	assert.Equal(t, testutil.Pressure, resp.Channels[0].Measure)
	assert.Len(t, resp.Channels[0].Phases, 4)
}

func TestHandleClean(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t, false)
	ts.load(t)

	rec := ts.do(t, http.MethodGet, "/api/clean?measure="+measureQuery(testutil.Pressure))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[cleanResponse](t, rec)
	assert.Equal(t, testutil.Pressure, resp.Measure)
	require.Len(t, resp.Points, 6)
	for _, p := range resp.Points {
		assert.NotNil(t, p.V)
	}
	assert.Equal(t, 3, resp.Omitted.Runs)
	assert.Equal(t, 4, resp.Omitted.Points)
	require.Len(t, resp.Phases, 4)
	assert.Equal(t, experiment.NewRange(4.0, 6.0), resp.Phases[3].Range)

	rec = ts.do(t, http.MethodGet, "/api/clean?tag=ocytocine&measure="+measureQuery(testutil.Pressure))
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[cleanResponse](t, rec)
	require.NotNil(t, resp.Tag)
	assert.Len(t, resp.Points, 2)
}

func TestHandleCleanErrors(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/clean?measure=A")
	assert.Equal(t, http.StatusNotFound, rec.Code, "nothing loaded yet")

	ts.load(t)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/clean").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/clean?measure=Temperature").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(t, http.MethodPost, "/api/clean?measure=A").Code)
}

func TestHandleCleanCancelledRequest(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t, false)
	ts.load(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/clean?measure="+measureQuery(testutil.Pressure), nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	// Nothing is written for a client that went away.
	assert.Zero(t, rec.Body.Len())
}

func TestHandleOmitted(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t, false)
	ts.load(t)

	rec := ts.do(t, http.MethodGet, "/api/omitted?measure="+measureQuery(testutil.Pressure))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ranges := decode[struct {
		Ranges []omittedRange `json:"ranges"`
	}](t, rec)
	assert.Equal(t, []omittedRange{
		{Range: experiment.NewRange(1.0, 1.0), Points: 1},
		{Range: experiment.NewRange(3.0, 4.0), Points: 2},
		{Range: experiment.NewRange(9.0, 9.0), Points: 1},
	}, ranges.Ranges)

	rec = ts.do(t, http.MethodGet, "/api/omitted?start=3&end=4&measure="+measureQuery(testutil.Pressure))
	require.Equal(t, http.StatusOK, rec.Code)
	points := decode[struct {
		Points []point `json:"points"`
	}](t, rec)
	require.Len(t, points.Points, 2)
	assert.Equal(t, 3.0, points.Points[0].T)
	assert.Nil(t, points.Points[0].V, "invalid samples encode as null")

	rec = ts.do(t, http.MethodGet, "/api/omitted?start=3&measure="+measureQuery(testutil.Pressure))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDecompose(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t, false)
	ts.load(t)

	rec := ts.do(t, http.MethodGet, "/api/decompose?measure="+measureQuery(testutil.Pressure))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[decomposeResponse](t, rec)
	assert.Equal(t, 10, resp.Period, "configured default")
	assert.False(t, resp.Decomposed, "six points are shorter than two periods")
	require.Contains(t, resp.Series, "raw")
	assert.Len(t, resp.Series["raw"], 6)
	assert.NotContains(t, resp.Series, "trend")

	rec = ts.do(t, http.MethodGet, "/api/decompose?period=20&type=raw&measure="+measureQuery(testutil.Pressure))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, decode[decomposeResponse](t, rec).Period)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/decompose?period=0&measure=A").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/decompose?period=x&measure=A").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/decompose?type=season&measure=A").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/decompose?measure=Temperature").Code)
}

func TestHandleDecomposeTagAndSample(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t, false)
	ts.load(t)
	base := "/api/decompose?measure=" + measureQuery(testutil.Pressure)

	rec := ts.do(t, http.MethodGet, base+"&tag=ocytocine")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[decomposeResponse](t, rec)
	require.NotNil(t, resp.Tag)
	assert.Equal(t, experiment.Tag("ocytocine"), *resp.Tag)
	require.Len(t, resp.Series["raw"], 2)
	assert.Equal(t, 4.0, resp.Series["raw"][0].T)
	assert.Equal(t, experiment.NewRange(36.0, 36.0), resp.ValueRanges["raw"])

	rec = ts.do(t, http.MethodGet, base+"&tag=unknown")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[decomposeResponse](t, rec).Series["raw"])

	rec = ts.do(t, http.MethodGet, base+"&at=3")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sample := decode[sampleResponse](t, rec)
	assert.Equal(t, 3.0, sample.Timestamp)
	require.NotNil(t, sample.Values["raw"])
	assert.Equal(t, 36.0, *sample.Values["raw"])
	assert.NotContains(t, sample.Values, "trend")

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, base+"&at=2.5").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, base+"&at=soon").Code)
}

func TestHandleChart(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t, false)
	ts.load(t)

	rec := ts.do(t, http.MethodGet, "/chart?measure="+measureQuery(testutil.Pressure))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "recording.txt: Pression Arterielle")
	assert.Contains(t, rec.Body.String(), "ocytocine")

	rec = ts.do(t, http.MethodGet, "/chart?format=png&measure="+measureQuery(testutil.Pressure))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = ts.do(t, http.MethodGet, "/chart?format=svg&measure="+measureQuery(testutil.Pressure))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleInvalidate(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t, false)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/invalidate").Code)

	ts.load(t)
	rec := ts.do(t, http.MethodPost, "/api/invalidate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"invalidated": testutil.Recording}, decode[map[string]string](t, rec))

	rec = ts.do(t, http.MethodGet, "/api/channels")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(t, http.MethodGet, "/api/invalidate").Code)
}

func TestHandleTasks(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/tasks")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Tasks []manager.TaskInfo `json:"tasks"`
	}](t, rec)
	assert.Empty(t, resp.Tasks)
}

func TestHandleRuns(t *testing.T) {
	t.Parallel()

	ts := setupTestServer(t, false)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/runs").Code)

	ts = setupTestServer(t, true)
	ctx := context.Background()
	runID, err := ts.db.NewRun(ctx, testutil.Recording, "Lapin 3", 3)
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	runs := decode[struct {
		Runs []db.Run `json:"runs"`
	}](t, rec)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, runID, runs.Runs[0].ID)

	rec = ts.do(t, http.MethodGet, "/api/runs?id="+runID)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[runDetail](t, rec)
	assert.Equal(t, testutil.Recording, detail.FilePath)
	assert.Empty(t, detail.Cleanings)

	rec = ts.do(t, http.MethodGet, "/api/runs?measure=A&id="+runID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, experiment.Measure("A"), decode[runChannel](t, rec).Measure)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/runs?id=missing").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/runs?limit=0").Code)
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()
	ts := setupTestServer(t, false)
	ts.load(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/clean?measure="+measureQuery(testutil.Pressure)).Code)

	rec := ts.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lapin_cache_requests_total")
}

func TestStatusCodeColor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, colorBoldRed+"500"+colorReset, statusCodeColor(500))
	assert.Equal(t, "100", statusCodeColor(100))
}
