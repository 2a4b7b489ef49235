package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"mandelgen/internal/engine"
	"mandelgen/internal/events"
	"mandelgen/internal/logger"
	"mandelgen/internal/matrixfile"
	"mandelgen/internal/metrics"
	"mandelgen/internal/partition"
	"mandelgen/internal/plane"
	"mandelgen/internal/sweep"
	"mandelgen/internal/worker"
)

// maxRuns は保持する実行履歴の件数
const maxRuns = 32

// Options はサーバー生成時の設定
type Options struct {
	Addr       string
	Engine     engine.Engine
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer // nilの場合 /metrics はDefaultGatherer
	Bus        *events.Bus
	DefaultJob engine.Job
}

// Server はAPIサーバー
type Server struct {
	addr       string
	engine     engine.Engine
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	eventBus   *events.Bus
	defaultJob engine.Job

	mu        sync.RWMutex
	running   bool
	runs      []engine.Summary
	wsClients map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
func NewServer(opts Options) *Server {
	if opts.Engine == nil {
		opts.Engine = engine.NewInProcess()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.DefaultJob.Mode == "" {
		opts.DefaultJob = engine.DefaultJob()
	}
	return &Server{
		addr:       opts.Addr,
		engine:     opts.Engine,
		metrics:    opts.Metrics,
		gatherer:   opts.Gatherer,
		eventBus:   opts.Bus,
		defaultJob: opts.DefaultJob,
		wsClients:  make(map[*websocket.Conn]bool),
	}
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("/api/compute", s.handleCompute)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/presets", s.handlePresets)

	// Prometheus
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// WebSocket
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))

	return mux
}

// Start はサーバーを開始する
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// イベントをWebSocketへ中継
	go s.forwardEvents(ctx)

	logger.Info("", "API Server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ComputeRequest は計算リクエスト。省略した項目はサーバーの既定ジョブを使う
type ComputeRequest struct {
	Region      *plane.Region     `json:"region,omitempty"`
	Resolution  *plane.Resolution `json:"resolution,omitempty"`
	Iterations  *int              `json:"iterations,omitempty"`
	Granularity int               `json:"granularity,omitempty"`
	Parallelism int               `json:"parallelism,omitempty"`
	Remainder   string            `json:"remainder,omitempty"`
}

// toJob はリクエストを既定ジョブに重ねる
func (req ComputeRequest) toJob(base engine.Job) (engine.Job, error) {
	job := base
	job.Mode = engine.ModeGenerate
	job.Output = ""

	if req.Region != nil {
		job.Region = *req.Region
	}
	if req.Resolution != nil {
		job.Resolution = *req.Resolution
	}
	if req.Iterations != nil {
		job.MaxIterations = *req.Iterations
	}
	if req.Granularity != 0 {
		job.Granularity = req.Granularity
	}
	if req.Parallelism != 0 {
		job.Parallelism = req.Parallelism
	}
	if req.Remainder != "" {
		policy, err := partition.ParseRemainderPolicy(req.Remainder)
		if err != nil {
			return job, err
		}
		job.Remainder = policy
	}
	return job, nil
}

func (s *Server) handleCompute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	job, err := req.toJob(s.defaultJob)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		http.Error(w, "Computation already running", http.StatusConflict)
		return
	}
	s.running = true
	s.mu.Unlock()

	result, err := s.engine.Compute(r.Context(), job)

	s.mu.Lock()
	s.running = false
	if result != nil {
		s.recordRun(result.Summary())
	} else {
		s.recordRun(failedSummary(job, err))
	}
	s.mu.Unlock()

	if err != nil {
		logger.Error("", "Computation failed: %v", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	if r.URL.Query().Get("format") == "matrix" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := matrixfile.Write(w, result.Matrix.Width, job.Region, result.Matrix.Values); err != nil {
			logger.Error("", "Failed to write matrix: %v", err)
		}
		return
	}

	s.writeJSON(w, result.Summary())
}

// recordRun は履歴へ追加する（s.mu保持中に呼ぶ）
func (s *Server) recordRun(summary engine.Summary) {
	s.runs = append(s.runs, summary)
	if len(s.runs) > maxRuns {
		s.runs = s.runs[len(s.runs)-maxRuns:]
	}
}

// failedSummary は失敗した実行の要約を作る
func failedSummary(job engine.Job, err error) engine.Summary {
	return engine.Summary{
		Width:         job.Resolution.Width,
		Height:        job.Resolution.Height,
		MaxIterations: job.MaxIterations,
		Granularity:   job.Granularity,
		Parallelism:   job.Parallelism,
		Remainder:     job.Remainder.String(),
		StartTime:     time.Now(),
		Error:         err.Error(),
	}
}

// statusFor はエラーをHTTPステータスに対応付ける
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidMode),
		errors.Is(err, engine.ErrInvalidIterations),
		errors.Is(err, plane.ErrInvalidRegion),
		errors.Is(err, plane.ErrInvalidResolution),
		errors.Is(err, partition.ErrInvalidParallelism),
		errors.Is(err, partition.ErrInvalidGranularity),
		errors.Is(err, partition.ErrTooManyTiles):
		return http.StatusBadRequest
	case errors.Is(err, worker.ErrWorkerFailure),
		errors.Is(err, engine.ErrExternalEngine):
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Running   bool            `json:"running"`
	TotalRuns int             `json:"total_runs"`
	LastRun   *engine.Summary `json:"last_run,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	resp := StatusResponse{
		Running:   s.running,
		TotalRuns: len(s.runs),
	}
	if n := len(s.runs); n > 0 {
		last := s.runs[n-1]
		resp.LastRun = &last
	}
	s.mu.RUnlock()

	s.writeJSON(w, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	runs := make([]engine.Summary, len(s.runs))
	copy(runs, s.runs)
	s.mu.RUnlock()

	s.writeJSON(w, runs)
}

// MetricsResponse はメトリクスレスポンス
type MetricsResponse struct {
	TotalRuns     uint64  `json:"total_runs"`
	SuccessRuns   uint64  `json:"success_runs"`
	FailedRuns    uint64  `json:"failed_runs"`
	TotalPixels   uint64  `json:"total_pixels"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	P99DurationMs float64 `json:"p99_duration_ms"`
	ErrorRate     float64 `json:"error_rate"`
	LastImbalance float64 `json:"last_imbalance"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := MetricsResponse{}
	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		resp = MetricsResponse{
			TotalRuns:     snap.TotalRuns,
			SuccessRuns:   snap.SuccessRuns,
			FailedRuns:    snap.FailedRuns,
			TotalPixels:   snap.TotalPixels,
			AvgDurationMs: float64(snap.AverageDuration.Microseconds()) / 1000,
			P99DurationMs: float64(snap.P99Duration.Microseconds()) / 1000,
			ErrorRate:     snap.ErrorRate,
			LastImbalance: snap.LastImbalance,
		}
	}

	s.writeJSON(w, resp)
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Granularities []int  `json:"granularities"`
	Parallelisms  []int  `json:"parallelisms"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var presets []PresetInfo
	for _, name := range sweep.ListPresets() {
		config, _ := sweep.GetPreset(name)
		presets = append(presets, PresetInfo{
			Name:          config.Name,
			Description:   config.Description,
			Granularities: config.Granularities,
			Parallelisms:  config.Parallelisms,
		})
	}

	s.writeJSON(w, presets)
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// forwardEvents はイベントバスのイベントを全WebSocketクライアントへ中継する
func (s *Server) forwardEvents(ctx context.Context) {
	if s.eventBus == nil {
		return
	}

	ch := s.eventBus.Subscribe()
	defer s.eventBus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(event)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("", "Failed to encode JSON: %v", err)
	}
}
