package partition

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidParallelism は並列度が1未満の場合に返される
	ErrInvalidParallelism = errors.New("parallelism must be at least 1")
	// ErrInvalidGranularity は粒度が1未満の場合に返される
	ErrInvalidGranularity = errors.New("granularity must be at least 1")
	// ErrTooManyTiles はタイル数が行数を超えブロックサイズが0になる場合に返される
	ErrTooManyTiles = errors.New("granularity * parallelism exceeds row count")
)

// RemainderPolicy は末尾の余り行の扱い
type RemainderPolicy int

const (
	// RemainderGap は余り行を誰にも割り当てない
	RemainderGap RemainderPolicy = iota
	// RemainderLastWorker は余り行を最後のワーカーに割り当てる
	RemainderLastWorker
)

func (p RemainderPolicy) String() string {
	switch p {
	case RemainderGap:
		return "gap"
	case RemainderLastWorker:
		return "last"
	default:
		return "unknown"
	}
}

// ParseRemainderPolicy は "gap" / "last" をパースする
func ParseRemainderPolicy(s string) (RemainderPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gap":
		return RemainderGap, nil
	case "last", "last_worker", "last-worker":
		return RemainderLastWorker, nil
	default:
		return RemainderGap, fmt.Errorf("unknown remainder policy: %q", s)
	}
}

// Subproblem はワーカーが担当する連続した行ブロック
type Subproblem struct {
	WorkerID int
	StartRow int
	Size     int
}

// EndRow はブロックの終端（排他的）を返す
func (s Subproblem) EndRow() int {
	return s.StartRow + s.Size
}

func (s Subproblem) String() string {
	return fmt.Sprintf("worker-%d[%d,%d)", s.WorkerID, s.StartRow, s.EndRow())
}

// Plan は行の分割計画
type Plan struct {
	Height       int
	Granularity  int
	Parallelism  int
	TileCount    int
	BlockSize    int
	CoverageRows int
	Policy       RemainderPolicy
}

// New は分割計画を作成する
func New(height, granularity, parallelism int, policy RemainderPolicy) (*Plan, error) {
	if parallelism < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidParallelism, parallelism)
	}
	if granularity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidGranularity, granularity)
	}

	tiles := granularity * parallelism
	blockSize := height / tiles
	if blockSize == 0 {
		return nil, fmt.Errorf("%w: %d tiles for %d rows", ErrTooManyTiles, tiles, height)
	}

	return &Plan{
		Height:       height,
		Granularity:  granularity,
		Parallelism:  parallelism,
		TileCount:    tiles,
		BlockSize:    blockSize,
		CoverageRows: height - height%blockSize,
		Policy:       policy,
	}, nil
}

// Assign はワーカーidに割り当てられたブロックを開始行の昇順で返す
func (p *Plan) Assign(id int) []Subproblem {
	if id < 0 || id >= p.Parallelism {
		return nil
	}

	step := p.Parallelism * p.BlockSize
	var blocks []Subproblem
	for start := id * p.BlockSize; start+p.BlockSize <= p.CoverageRows; start += step {
		blocks = append(blocks, Subproblem{WorkerID: id, StartRow: start, Size: p.BlockSize})
	}

	if p.Policy == RemainderLastWorker && id == p.Parallelism-1 && p.CoverageRows < p.Height {
		blocks = append(blocks, Subproblem{
			WorkerID: id,
			StartRow: p.CoverageRows,
			Size:     p.Height - p.CoverageRows,
		})
	}

	return blocks
}

// All は全ワーカーのブロックをワーカーID順に返す
func (p *Plan) All() []Subproblem {
	var all []Subproblem
	for id := range p.Parallelism {
		all = append(all, p.Assign(id)...)
	}
	return all
}

// Rows はワーカーidが担当する行数を返す
func (p *Plan) Rows(id int) int {
	n := 0
	for _, b := range p.Assign(id) {
		n += b.Size
	}
	return n
}

// Uncovered は誰にも割り当てられない行範囲 [start, end) を返す
// 余りがない場合や RemainderLastWorker の場合は start == end
func (p *Plan) Uncovered() (start, end int) {
	if p.Policy == RemainderLastWorker {
		return p.Height, p.Height
	}
	return p.CoverageRows, p.Height
}

func (p *Plan) String() string {
	return fmt.Sprintf("rows=%d tiles=%d (g=%d x p=%d) block=%d coverage=%d policy=%s",
		p.Height, p.TileCount, p.Granularity, p.Parallelism, p.BlockSize, p.CoverageRows, p.Policy)
}
