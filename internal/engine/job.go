package engine

import (
	"errors"
	"fmt"
	"math"

	"mandelgen/internal/partition"
	"mandelgen/internal/plane"
)

var (
	// ErrInvalidMode はモードが gen / test 以外の場合に返される
	ErrInvalidMode = errors.New("invalid mode")
	// ErrInvalidIterations は反復上限が負、または int32 に収まらない場合に返される
	ErrInvalidIterations = errors.New("max iterations out of range")
)

// MaxIterationsLimit は反復上限の最大値
// 結果行列は int32 で保持するため、これを超える値は格納できない
const MaxIterationsLimit = math.MaxInt32

// Mode は実行モード
type Mode string

const (
	// ModeGenerate は1回計算して行列ファイルを書く
	ModeGenerate Mode = "gen"
	// ModeTest はベンチマークスイープを実行し、ファイルは書かない
	ModeTest Mode = "test"
)

// ParseMode は文字列を Mode に変換する
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeGenerate, ModeTest:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q (want gen or test)", ErrInvalidMode, s)
	}
}

// Job は1回の計算の入力
type Job struct {
	Mode          Mode                      `json:"mode"`
	Region        plane.Region              `json:"region"`
	Resolution    plane.Resolution          `json:"resolution"`
	MaxIterations int                       `json:"max_iterations"`
	Granularity   int                       `json:"granularity"`
	Parallelism   int                       `json:"parallelism"`
	Remainder     partition.RemainderPolicy `json:"-"`
	Output        string                    `json:"output,omitempty"`
}

// DefaultJob はデフォルトのジョブを返す
func DefaultJob() Job {
	return Job{
		Mode:          ModeGenerate,
		Region:        plane.DefaultRegion(),
		Resolution:    plane.Resolution{Width: 1920, Height: 1080},
		MaxIterations: 255,
		Granularity:   4,
		Parallelism:   1,
		Remainder:     partition.RemainderGap,
	}
}

// Validate はリソースを確保する前にジョブを検証する
func (j Job) Validate() error {
	if _, err := ParseMode(string(j.Mode)); err != nil {
		return err
	}
	if err := j.Region.Validate(); err != nil {
		return err
	}
	if err := j.Resolution.Validate(); err != nil {
		return err
	}
	if j.MaxIterations < 0 || j.MaxIterations > MaxIterationsLimit {
		return fmt.Errorf("%w: got %d, want 0..%d", ErrInvalidIterations, j.MaxIterations, MaxIterationsLimit)
	}
	return nil
}

// Plan はジョブの分割計画を作成する
func (j Job) Plan() (*partition.Plan, error) {
	return partition.New(j.Resolution.Height, j.Granularity, j.Parallelism, j.Remainder)
}

func (j Job) String() string {
	return fmt.Sprintf("%s %s region=%s iters=%d g=%d p=%d",
		j.Mode, j.Resolution, j.Region, j.MaxIterations, j.Granularity, j.Parallelism)
}
