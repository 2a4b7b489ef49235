package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"mandelgen/internal/engine"
	"mandelgen/internal/partition"
	"mandelgen/internal/plane"
	"mandelgen/internal/worker"
)

// fakeEngine は並列度に反比例する実行時間を返す
type fakeEngine struct {
	mu    sync.Mutex
	calls []string
	fail  error
}

func (f *fakeEngine) Compute(ctx context.Context, job engine.Job) (*engine.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("g=%d p=%d", job.Granularity, job.Parallelism))
	f.mu.Unlock()

	if f.fail != nil {
		return nil, f.fail
	}
	if _, err := job.Plan(); err != nil {
		return nil, err
	}
	return &engine.Result{
		Job:       job,
		Elapsed:   time.Duration(120/job.Parallelism) * time.Millisecond,
		Imbalance: 1,
	}, nil
}

func smallJob() engine.Job {
	job := engine.DefaultJob()
	job.Mode = engine.ModeTest
	job.Resolution = plane.Resolution{Width: 16, Height: 8}
	job.MaxIterations = 16
	return job
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Name != "default" {
		t.Errorf("expected name 'default', got '%s'", config.Name)
	}
	if len(config.Granularities) != 3 || config.Granularities[0] != 1 || config.Granularities[2] != 16 {
		t.Errorf("expected granularities {1, 4, 16}, got %v", config.Granularities)
	}
	if len(config.Parallelisms) == 0 || config.Parallelisms[0] != 1 {
		t.Errorf("expected parallelisms starting at 1, got %v", config.Parallelisms)
	}
	if config.Job.Mode != engine.ModeTest {
		t.Errorf("expected test mode, got %s", config.Job.Mode)
	}
}

func TestRange(t *testing.T) {
	if got := Range(1, 4); len(got) != 4 || got[0] != 1 || got[3] != 4 {
		t.Errorf("Range(1, 4) = %v", got)
	}
	if got := Range(3, 2); got != nil {
		t.Errorf("Range(3, 2) = %v, want nil", got)
	}
}

func TestNewRunner(t *testing.T) {
	runner := New(DefaultConfig(), &fakeEngine{})

	if runner == nil {
		t.Fatal("expected non-nil runner")
	}
	if runner.IsRunning() {
		t.Error("expected runner to not be running initially")
	}
	if runner.Config().Repeat != 1 {
		t.Errorf("expected repeat 1, got %d", runner.Config().Repeat)
	}
}

func TestRunSpeedup(t *testing.T) {
	config := Config{
		Name:          "test",
		Granularities: []int{1, 2},
		Parallelisms:  []int{1, 2, 4},
		Repeat:        2,
		Job:           smallJob(),
	}
	fake := &fakeEngine{}

	result, err := New(config, fake).Run(context.Background())
	if err != nil {
		t.Fatalf("failed to run sweep: %v", err)
	}

	if len(result.Entries) != 6 {
		t.Fatalf("expected 6 entries, got %d", len(result.Entries))
	}
	// 2 x 3 の組み合わせを2回ずつ
	if len(fake.calls) != 12 {
		t.Errorf("expected 12 engine calls, got %d", len(fake.calls))
	}

	want := map[int]float64{1: 1, 2: 2, 4: 4}
	for _, e := range result.Entries {
		if e.Granularity == 2 && e.Parallelism == 4 {
			// 8行を8タイルに分けるのは成立する
			if e.Skipped {
				t.Errorf("g=2 p=4 should not be skipped: %s", e.Reason)
			}
		}
		if e.Skipped {
			continue
		}
		if math.Abs(e.Speedup-want[e.Parallelism]) > 1e-6 {
			t.Errorf("g=%d p=%d: speedup %.2f, want %.2f", e.Granularity, e.Parallelism, e.Speedup, want[e.Parallelism])
		}
		if e.StdDev > time.Microsecond {
			t.Errorf("g=%d p=%d: expected zero stddev, got %v", e.Granularity, e.Parallelism, e.StdDev)
		}
	}

	best, ok := result.Best()
	if !ok {
		t.Fatal("expected a best entry")
	}
	if best.Parallelism != 4 {
		t.Errorf("expected best parallelism 4, got %d", best.Parallelism)
	}
}

func TestRunSkipsInvalidPlans(t *testing.T) {
	config := Config{
		Name:          "skip",
		Granularities: []int{4},
		Parallelisms:  []int{1, 2, 3},
		Job:           smallJob(),
	}

	result, err := New(config, &fakeEngine{}).Run(context.Background())
	if err != nil {
		t.Fatalf("failed to run sweep: %v", err)
	}

	// 8行: g=4,p=1 と g=4,p=2 は成立、g=4,p=3 は12タイルで不成立
	skipped := 0
	for _, e := range result.Entries {
		if e.Skipped {
			skipped++
			if e.Parallelism != 3 {
				t.Errorf("unexpected skip for p=%d", e.Parallelism)
			}
			if !strings.Contains(e.Reason, partition.ErrTooManyTiles.Error()) {
				t.Errorf("unexpected reason: %s", e.Reason)
			}
		}
	}
	if skipped != 1 {
		t.Errorf("expected 1 skipped entry, got %d", skipped)
	}
}

func TestRunStopsOnWorkerFailure(t *testing.T) {
	config := Config{
		Name:          "fail",
		Granularities: []int{1},
		Parallelisms:  []int{1, 2},
		Job:           smallJob(),
	}
	failure := &worker.Failure{WorkerID: 0, Cause: errors.New("boom")}

	_, err := New(config, &fakeEngine{fail: failure}).Run(context.Background())
	if !errors.Is(err, worker.ErrWorkerFailure) {
		t.Fatalf("expected ErrWorkerFailure, got %v", err)
	}
}

func TestRunInvalidJob(t *testing.T) {
	config := QuickSweep()
	config.Job.Mode = "draw"

	_, err := New(config, &fakeEngine{}).Run(context.Background())
	if !errors.Is(err, engine.ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(QuickSweep(), &fakeEngine{}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunWithInProcessEngine(t *testing.T) {
	config := QuickSweep()
	config.Job.Resolution = plane.Resolution{Width: 32, Height: 16}

	result, err := New(config, engine.NewInProcess()).Run(context.Background())
	if err != nil {
		t.Fatalf("failed to run sweep: %v", err)
	}

	if len(result.Entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(result.Entries))
	}
	for _, e := range result.Entries {
		if e.Skipped {
			t.Errorf("g=%d p=%d unexpectedly skipped: %s", e.Granularity, e.Parallelism, e.Reason)
		}
		if e.Elapsed <= 0 {
			t.Errorf("g=%d p=%d: expected positive elapsed", e.Granularity, e.Parallelism)
		}
	}
}

func TestRunSpeedupBaselineOrder(t *testing.T) {
	config := Config{
		Name:          "unordered",
		Granularities: []int{1},
		Parallelisms:  []int{4, 2, 1},
		Repeat:        1,
		Job:           smallJob(),
	}

	result, err := New(config, &fakeEngine{}).Run(context.Background())
	if err != nil {
		t.Fatalf("failed to run sweep: %v", err)
	}

	want := map[int]float64{1: 1, 2: 2, 4: 4}
	for _, e := range result.Entries {
		if math.Abs(e.Speedup-want[e.Parallelism]) > 1e-6 {
			t.Errorf("p=%d: speedup %.2f, want %.2f", e.Parallelism, e.Speedup, want[e.Parallelism])
		}
	}
}

func TestRunWithoutBaseline(t *testing.T) {
	config := Config{
		Name:          "no-baseline",
		Granularities: []int{1},
		Parallelisms:  []int{2, 4},
		Repeat:        1,
		Job:           smallJob(),
	}

	result, err := New(config, &fakeEngine{}).Run(context.Background())
	if err != nil {
		t.Fatalf("failed to run sweep: %v", err)
	}

	for _, e := range result.Entries {
		if e.Speedup != 0 {
			t.Errorf("p=%d: expected no speedup without p=1, got %.2f", e.Parallelism, e.Speedup)
		}
	}
	if !strings.Contains(result.Report(), "n/a") {
		t.Error("expected report to mark missing speedup as n/a")
	}
}

func TestResultReport(t *testing.T) {
	result := &Result{
		Name:      "report",
		Job:       smallJob(),
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Second),
		Duration:  time.Second,
		Entries: []Entry{
			{Granularity: 1, Parallelism: 1, Elapsed: 100 * time.Millisecond, Speedup: 1, Imbalance: 1},
			{Granularity: 1, Parallelism: 2, Elapsed: 50 * time.Millisecond, Speedup: 2, Imbalance: 1.1},
			{Granularity: 16, Parallelism: 2, Skipped: true, Reason: "too many tiles"},
		},
	}

	report := result.Report()

	for _, want := range []string{"SWEEP REPORT: report", "SPEEDUP", "skipped: too many tiles", "g=1 p=2"} {
		if !strings.Contains(report, want) {
			t.Errorf("expected report to contain %q", want)
		}
	}
}

func TestGetPreset(t *testing.T) {
	for _, name := range ListPresets() {
		config, ok := GetPreset(name)
		if !ok {
			t.Errorf("expected preset %s to exist", name)
			continue
		}
		if config.Name != name {
			t.Errorf("expected name %s, got %s", name, config.Name)
		}
		if err := config.Job.Validate(); err != nil {
			t.Errorf("preset %s has invalid job: %v", name, err)
		}
	}

	if _, ok := GetPreset("nonexistent"); ok {
		t.Error("expected nonexistent preset to not exist")
	}
}
