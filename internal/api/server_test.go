package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"mandelgen/internal/engine"
	"mandelgen/internal/events"
	"mandelgen/internal/matrixfile"
	"mandelgen/internal/metrics"
	"mandelgen/internal/partition"
	"mandelgen/internal/plane"
	"mandelgen/internal/worker"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func smallRequest() ComputeRequest {
	iters := 50
	return ComputeRequest{
		Resolution:  &plane.Resolution{Width: 40, Height: 20},
		Iterations:  &iters,
		Granularity: 1,
		Parallelism: 2,
	}
}

func TestComputeSummary(t *testing.T) {
	s, ts := newTestServer(t, Options{})

	resp := postJSON(t, ts.URL+"/api/compute", smallRequest())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary engine.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 40, summary.Width)
	assert.Equal(t, 20, summary.Height)
	assert.Equal(t, 2, summary.Parallelism)
	assert.Len(t, summary.Workers, 2)

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Len(t, s.runs, 1)
	assert.False(t, s.running)
}

func TestComputeMatrixFormat(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	resp := postJSON(t, ts.URL+"/api/compute?format=matrix", smallRequest())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))

	file, err := matrixfile.Read(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 40, file.Width)
	assert.Equal(t, 20, file.Height())
	assert.Equal(t, plane.DefaultRegion(), file.Region)
	assert.Len(t, file.Values, 800)
}

func TestComputeBadRequests(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	tests := []struct {
		name string
		body any
	}{
		{"too many tiles", ComputeRequest{Resolution: &plane.Resolution{Width: 8, Height: 4}, Granularity: 4, Parallelism: 2}},
		{"invalid region", ComputeRequest{Region: &plane.Region{XMin: 1, XMax: 0, YMin: 0, YMax: 1}}},
		{"negative parallelism", ComputeRequest{Parallelism: -1}},
		{"unknown remainder", ComputeRequest{Remainder: "spread"}},
		{"malformed body", "not an object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/compute", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestComputeMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/api/compute")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// blockingEngine はreleaseが閉じられるまでComputeを返さない
type blockingEngine struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingEngine) Compute(ctx context.Context, job engine.Job) (*engine.Result, error) {
	close(b.started)
	<-b.release
	return nil, &worker.Failure{WorkerID: 0, Cause: errors.New("released")}
}

func TestComputeConflict(t *testing.T) {
	eng := &blockingEngine{started: make(chan struct{}), release: make(chan struct{})}
	s, ts := newTestServer(t, Options{Engine: eng})

	done := make(chan int, 1)
	go func() {
		resp, err := http.Post(ts.URL+"/api/compute", "application/json", strings.NewReader("{}"))
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	<-eng.started

	resp := postJSON(t, ts.URL+"/api/compute", smallRequest())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	statusResp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer statusResp.Body.Close()
	var status StatusResponse
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	assert.True(t, status.Running)

	close(eng.release)
	assert.Equal(t, http.StatusInternalServerError, <-done)

	s.mu.RLock()
	defer s.mu.RUnlock()
	require.Len(t, s.runs, 1)
	assert.Contains(t, s.runs[0].Error, "released")
}

func TestStatusAndRuns(t *testing.T) {
	s, ts := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.False(t, status.Running)
	assert.Nil(t, status.LastRun)

	postJSON(t, ts.URL+"/api/compute", smallRequest())

	resp, err = http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	require.NotNil(t, status.LastRun)
	assert.Equal(t, 1, status.TotalRuns)

	resp, err = http.Get(ts.URL + "/api/runs")
	require.NoError(t, err)
	var runs []engine.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	resp.Body.Close()
	require.Len(t, runs, 1)
	assert.Equal(t, status.LastRun.RunID, runs[0].RunID)

	// 履歴は maxRuns 件に制限される
	s.mu.Lock()
	for i := 0; i < maxRuns+5; i++ {
		s.recordRun(engine.Summary{RunID: "x"})
	}
	assert.Len(t, s.runs, maxRuns)
	s.mu.Unlock()
}

func TestMetricsEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithConfig(metrics.Config{Namespace: "mandelgen", Registerer: reg})

	eng := engine.NewInProcess()
	eng.SetMetrics(m)

	_, ts := newTestServer(t, Options{Engine: eng, Metrics: m, Gatherer: reg})

	postJSON(t, ts.URL+"/api/compute", smallRequest())

	resp, err := http.Get(ts.URL + "/api/metrics")
	require.NoError(t, err)
	var snap MetricsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Equal(t, uint64(1), snap.SuccessRuns)
	assert.Equal(t, uint64(800), snap.TotalPixels)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `mandelgen_runs_total{status="success"} 1`)
	assert.Contains(t, string(body), "mandelgen_pixels_total 800")
}

func TestPresets(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/api/presets")
	require.NoError(t, err)
	defer resp.Body.Close()

	var presets []PresetInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&presets))
	require.NotEmpty(t, presets)
	assert.Equal(t, "default", presets[0].Name)
}

func TestWebSocketEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	eng := engine.NewInProcess()
	eng.SetEventBus(bus)

	s, ts := newTestServer(t, Options{Engine: eng, Bus: bus})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.forwardEvents(ctx)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, err := websocket.Dial(wsURL, "", "http://localhost/")
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return s.clientCount() == 1 }, time.Second, 10*time.Millisecond)
	// forwardEvents の購読を待つ
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	postJSON(t, ts.URL+"/api/compute", smallRequest())

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg string
	require.NoError(t, websocket.Message.Receive(ws, &msg))

	var event events.Event
	require.NoError(t, json.Unmarshal([]byte(msg), &event))
	assert.Equal(t, events.EventRunStarted, event.Type)
	assert.Equal(t, 40, event.Data.Width)
}

func TestComputeRequestToJob(t *testing.T) {
	base := engine.DefaultJob()
	base.Output = "ignored.txt"

	iters := 0
	job, err := ComputeRequest{Iterations: &iters, Remainder: "last"}.toJob(base)
	require.NoError(t, err)

	assert.Equal(t, 0, job.MaxIterations)
	assert.Equal(t, partition.RemainderLastWorker, job.Remainder)
	assert.Equal(t, engine.ModeGenerate, job.Mode)
	assert.Empty(t, job.Output)
	assert.Equal(t, base.Resolution, job.Resolution)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(partition.ErrTooManyTiles))
	assert.Equal(t, http.StatusBadRequest, statusFor(engine.ErrInvalidMode))
	assert.Equal(t, http.StatusInternalServerError, statusFor(&worker.Failure{WorkerID: 1}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(engine.ErrExternalEngine))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(context.Canceled))
}
