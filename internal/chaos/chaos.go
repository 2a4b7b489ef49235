package chaos

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"mandelgen/internal/events"
	"mandelgen/internal/logger"
	"mandelgen/internal/worker"
)

// ErrInjected は注入されたエラー障害
var ErrInjected = errors.New("chaos: injected fault")

// AttackType は障害の種類を表す
type AttackType int

const (
	AttackPanic AttackType = iota
	AttackError
	AttackDelay
)

func (a AttackType) String() string {
	switch a {
	case AttackPanic:
		return "panic"
	case AttackError:
		return "error"
	case AttackDelay:
		return "delay"
	default:
		return "unknown"
	}
}

// ParseAttackType は文字列を AttackType に変換する
func ParseAttackType(s string) (AttackType, error) {
	switch s {
	case "panic":
		return AttackPanic, nil
	case "error":
		return AttackError, nil
	case "delay":
		return AttackDelay, nil
	default:
		return 0, fmt.Errorf("unknown attack type: %q", s)
	}
}

// Config は障害注入の設定
type Config struct {
	TargetCount   int           // 1回の計算で攻撃するワーカー数
	Targets       []int         // 攻撃対象のワーカーID（指定時はランダム選択しない）
	AttackTypes   []AttackType  // 有効な攻撃タイプ
	DelayDuration time.Duration // Delay攻撃時の遅延時間
	Seed          int64         // 0の場合は現在時刻
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		TargetCount:   1,
		AttackTypes:   []AttackType{AttackPanic, AttackError, AttackDelay},
		DelayDuration: 100 * time.Millisecond,
	}
}

// Stats は障害注入の統計情報
type Stats struct {
	TotalAttacks uint64            `json:"total_attacks"`
	ByType       map[string]uint64 `json:"attacks_by_type"`
}

// Monkey は計算中のワーカーに障害を注入する
type Monkey struct {
	config   Config
	eventBus *events.Bus

	enabled atomic.Bool

	mu           sync.RWMutex
	rng          *rand.Rand
	attackCount  uint64
	attackByType map[AttackType]uint64
	lastAttack   time.Time
}

// New は新しいMonkeyを作成する。作成直後は有効
func New(config Config) *Monkey {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	m := &Monkey{
		config:       config,
		rng:          rand.New(rand.NewSource(seed)),
		attackByType: make(map[AttackType]uint64),
	}
	m.enabled.Store(true)
	return m
}

// SetEventBus はイベントバスを設定する
func (m *Monkey) SetEventBus(bus *events.Bus) {
	m.eventBus = bus
}

// Enable は障害注入を有効にする
func (m *Monkey) Enable() {
	if !m.enabled.Swap(true) {
		logger.Info("", "ChaosMonkey enabled (targets: %d)", m.config.TargetCount)
	}
}

// Disable は障害注入を無効にする
func (m *Monkey) Disable() {
	if m.enabled.Swap(false) {
		logger.Info("", "ChaosMonkey disabled (total attacks: %d)", m.AttackCount())
	}
}

// IsEnabled は有効かどうかを返す
func (m *Monkey) IsEnabled() bool {
	return m.enabled.Load()
}

// Wrap は計算1回分のジョブを包み、選ばれたワーカーに障害を注入する
// 無効時はジョブをそのまま返す
func (m *Monkey) Wrap(runID string, numWorkers int, job worker.Job) worker.Job {
	if m == nil || !m.IsEnabled() || numWorkers <= 0 {
		return job
	}

	plan := make(map[int]AttackType)
	m.mu.Lock()
	for _, id := range m.selectTargets(numWorkers) {
		plan[id] = m.selectAttackType()
	}
	m.mu.Unlock()

	if len(plan) == 0 {
		return job
	}

	return func(id int) error {
		attackType, ok := plan[id]
		if !ok {
			return job(id)
		}
		return m.executeAttack(runID, id, attackType, job)
	}
}

// selectTargets は攻撃対象のワーカーを選択する（m.mu保持中に呼ぶ）
func (m *Monkey) selectTargets(numWorkers int) []int {
	if len(m.config.Targets) > 0 {
		targets := make([]int, 0, len(m.config.Targets))
		for _, id := range m.config.Targets {
			if id >= 0 && id < numWorkers && !slices.Contains(targets, id) {
				targets = append(targets, id)
			}
		}
		return targets
	}

	count := min(m.config.TargetCount, numWorkers)
	if count <= 0 {
		return nil
	}
	return m.rng.Perm(numWorkers)[:count]
}

// selectAttackType は攻撃タイプをランダムに選択する（m.mu保持中に呼ぶ）
func (m *Monkey) selectAttackType() AttackType {
	if len(m.config.AttackTypes) == 0 {
		return AttackPanic
	}
	return m.config.AttackTypes[m.rng.Intn(len(m.config.AttackTypes))]
}

// executeAttack は指定された攻撃を実行する
func (m *Monkey) executeAttack(runID string, id int, attackType AttackType, job worker.Job) error {
	m.record(runID, id, attackType)

	switch attackType {
	case AttackPanic:
		logger.Warn(workerTag(id), "ChaosMonkey: injecting panic")
		panic(fmt.Sprintf("chaos: injected panic in worker %d", id))
	case AttackError:
		logger.Warn(workerTag(id), "ChaosMonkey: injecting error")
		return fmt.Errorf("worker %d: %w", id, ErrInjected)
	case AttackDelay:
		logger.Warn(workerTag(id), "ChaosMonkey: injecting %v delay", m.config.DelayDuration)
		time.Sleep(m.config.DelayDuration)
	}
	return job(id)
}

func (m *Monkey) record(runID string, id int, attackType AttackType) {
	m.mu.Lock()
	m.attackCount++
	m.attackByType[attackType]++
	m.lastAttack = time.Now()
	m.mu.Unlock()

	if m.eventBus != nil {
		m.eventBus.Publish(events.NewFaultInjectedEvent(runID, id, attackType.String()))
	}
}

// AttackCount は攻撃回数を返す
func (m *Monkey) AttackCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attackCount
}

// LastAttack は最後に攻撃した時刻を返す
func (m *Monkey) LastAttack() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastAttack
}

// SetConfig は設定を更新する
func (m *Monkey) SetConfig(config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
}

// Stats は攻撃統計を返す
func (m *Monkey) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[string]uint64)
	for t, count := range m.attackByType {
		byType[t.String()] = count
	}

	return Stats{
		TotalAttacks: m.attackCount,
		ByType:       byType,
	}
}

func workerTag(id int) string {
	return fmt.Sprintf("worker-%d", id)
}
