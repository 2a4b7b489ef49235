package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"mandelgen/internal/chaos"
	"mandelgen/internal/engine"
	"mandelgen/internal/logger"
	"mandelgen/internal/partition"
	"mandelgen/internal/plane"
	"mandelgen/internal/sweep"
)

// EnvPrefix は環境変数の接頭辞
const EnvPrefix = "MANDEL"

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Job    JobConfig    `yaml:"job" json:"job"`
	Engine EngineConfig `yaml:"engine" json:"engine"`
	Sweep  SweepConfig  `yaml:"sweep" json:"sweep"`
	Chaos  ChaosConfig  `yaml:"chaos" json:"chaos"`
	Server ServerConfig `yaml:"server" json:"server"`
	Log    LogConfig    `yaml:"log" json:"log"`
}

// JobConfig は計算ジョブの設定
type JobConfig struct {
	Mode        string            `yaml:"mode" json:"mode"`
	Region      *plane.Region     `yaml:"region" json:"region"`
	Resolution  *plane.Resolution `yaml:"resolution" json:"resolution"`
	Iterations  *int              `yaml:"iterations" json:"iterations"`
	Granularity int               `yaml:"granularity" json:"granularity"`
	Parallelism int               `yaml:"parallelism" json:"parallelism"`
	Remainder   string            `yaml:"remainder" json:"remainder"`
	Output      string            `yaml:"output" json:"output"`
}

// EngineConfig はエンジン設定
type EngineConfig struct {
	Kind   string `yaml:"kind" json:"kind"`
	Binary string `yaml:"binary" json:"binary"`
}

// SweepConfig はベンチマークスイープ設定
type SweepConfig struct {
	Preset        string `yaml:"preset" json:"preset"`
	Granularities []int  `yaml:"granularities" json:"granularities"`
	Parallelisms  []int  `yaml:"parallelisms" json:"parallelisms"`
	Repeat        int    `yaml:"repeat" json:"repeat"`
}

// ChaosConfig は障害注入設定
type ChaosConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	TargetCount int      `yaml:"target_count" json:"target_count"`
	Targets     []int    `yaml:"targets" json:"targets"`
	AttackTypes []string `yaml:"attack_types" json:"attack_types"`
	DelayAmount string   `yaml:"delay_amount" json:"delay_amount"`
	Seed        int64    `yaml:"seed" json:"seed"`
}

// ServerConfig はAPIサーバー設定
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Env は環境変数による上書き（MANDEL_*）
type Env struct {
	Output      string `envconfig:"OUTPUT"`
	Mode        string `envconfig:"MODE"`
	Parallelism int    `envconfig:"PARALLELISM"`
	Granularity int    `envconfig:"GRANULARITY"`
	Iterations  *int   `envconfig:"ITERATIONS"`
	Remainder   string `envconfig:"REMAINDER"`
	Engine      string `envconfig:"ENGINE"`
	Binary      string `envconfig:"BINARY"`
	Addr        string `envconfig:"ADDR"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	LogFormat   string `envconfig:"LOG_FORMAT"`
}

// Settings はファイル・環境変数を反映した最終設定
type Settings struct {
	Job       engine.Job
	Engine    engine.Kind
	Binary    string
	Sweep     sweep.Config
	Preset    string        // スイープのプリセット名（空なら Job を基本ジョブにする）
	Chaos     *chaos.Config // nilの場合は障害注入なし
	Addr      string
	LogLevel  logger.Level
	LogFormat string
}

// Default はデフォルト設定を返す
func Default() Settings {
	return Settings{
		Job:       engine.DefaultJob(),
		Engine:    engine.KindInProcess,
		Sweep:     sweep.DefaultConfig(),
		Addr:      ":8080",
		LogLevel:  logger.LevelInfo,
		LogFormat: "console",
	}
}

// SweepConfig はスイープ設定を返す
// プリセット未指定の場合は最終的な Job を test モードにして基本ジョブとする
func (s *Settings) SweepConfig() sweep.Config {
	config := s.Sweep
	if s.Preset == "" {
		config.Job = s.Job
		config.Job.Mode = engine.ModeTest
	}
	return config
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// LoadEnv は MANDEL_* 環境変数を読み込む
func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	return &env, nil
}

// Load は設定ファイル（pathが空なら省略）と環境変数から設定を組み立てる
// 優先順位は 環境変数 > 設定ファイル > デフォルト
func Load(path string) (*Settings, error) {
	settings := Default()

	if path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if err := file.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config file: %w", err)
		}
		if err := file.Apply(&settings); err != nil {
			return nil, err
		}
	}

	env, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	if err := env.Apply(&settings); err != nil {
		return nil, err
	}

	return &settings, nil
}

// Apply はファイルの設定をsettingsへ反映する
func (f *FileConfig) Apply(s *Settings) error {
	job, err := f.ToJob(s.Job)
	if err != nil {
		return err
	}
	s.Job = job

	if f.Engine.Kind != "" {
		kind, err := engine.ParseKind(f.Engine.Kind)
		if err != nil {
			return err
		}
		s.Engine = kind
	}
	if f.Engine.Binary != "" {
		s.Binary = f.Engine.Binary
	}

	sc, err := f.ToSweepConfig(s.Job)
	if err != nil {
		return err
	}
	s.Sweep = sc
	s.Preset = f.Sweep.Preset

	cc, err := f.ToChaosConfig()
	if err != nil {
		return err
	}
	s.Chaos = cc

	if f.Server.Addr != "" {
		s.Addr = f.Server.Addr
	}
	if f.Log.Level != "" {
		level, err := logger.ParseLevel(f.Log.Level)
		if err != nil {
			return err
		}
		s.LogLevel = level
	}
	if f.Log.Format != "" {
		s.LogFormat = f.Log.Format
	}

	return nil
}

// ToJob はbaseにファイルのジョブ設定を重ねたジョブを返す
func (f *FileConfig) ToJob(base engine.Job) (engine.Job, error) {
	jc := f.Job
	job := base

	if jc.Mode != "" {
		mode, err := engine.ParseMode(jc.Mode)
		if err != nil {
			return job, err
		}
		job.Mode = mode
	}
	if jc.Region != nil {
		job.Region = *jc.Region
	}
	if jc.Resolution != nil {
		job.Resolution = *jc.Resolution
	}
	if jc.Iterations != nil {
		job.MaxIterations = *jc.Iterations
	}
	if jc.Granularity > 0 {
		job.Granularity = jc.Granularity
	}
	if jc.Parallelism > 0 {
		job.Parallelism = jc.Parallelism
	}
	if jc.Remainder != "" {
		policy, err := partition.ParseRemainderPolicy(jc.Remainder)
		if err != nil {
			return job, err
		}
		job.Remainder = policy
	}
	if jc.Output != "" {
		job.Output = jc.Output
	}

	return job, nil
}

// ToSweepConfig はファイルのスイープ設定を sweep.Config に変換する
// スイープの基本ジョブは job を test モードにしたもの
func (f *FileConfig) ToSweepConfig(job engine.Job) (sweep.Config, error) {
	sc := f.Sweep

	config := sweep.DefaultConfig()
	if sc.Preset != "" {
		preset, ok := sweep.GetPreset(sc.Preset)
		if !ok {
			return config, fmt.Errorf("unknown sweep preset: %s", sc.Preset)
		}
		config = preset
	} else {
		config.Job = job
	}
	config.Job.Mode = engine.ModeTest

	if len(sc.Granularities) > 0 {
		config.Granularities = sc.Granularities
	}
	if len(sc.Parallelisms) > 0 {
		config.Parallelisms = sc.Parallelisms
	}
	if sc.Repeat > 0 {
		config.Repeat = sc.Repeat
	}

	return config, nil
}

// ToChaosConfig はファイルの障害注入設定を変換する。無効ならnil
func (f *FileConfig) ToChaosConfig() (*chaos.Config, error) {
	cc := f.Chaos
	if !cc.Enabled {
		return nil, nil
	}

	config := chaos.DefaultConfig()
	if cc.TargetCount > 0 {
		config.TargetCount = cc.TargetCount
	}
	if len(cc.Targets) > 0 {
		config.Targets = cc.Targets
	}
	if len(cc.AttackTypes) > 0 {
		attacks, err := parseAttackTypes(cc.AttackTypes)
		if err != nil {
			return nil, err
		}
		config.AttackTypes = attacks
	}
	if cc.DelayAmount != "" {
		d, err := time.ParseDuration(cc.DelayAmount)
		if err != nil {
			return nil, fmt.Errorf("invalid chaos delay: %w", err)
		}
		config.DelayDuration = d
	}
	config.Seed = cc.Seed

	return &config, nil
}

// parseAttackTypes は文字列の攻撃タイプをパースする
func parseAttackTypes(types []string) ([]chaos.AttackType, error) {
	var attacks []chaos.AttackType

	for _, t := range types {
		attack, err := chaos.ParseAttackType(strings.ToLower(t))
		if err != nil {
			return nil, err
		}
		attacks = append(attacks, attack)
	}

	return attacks, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	jc := f.Job

	if jc.Granularity < 0 {
		return fmt.Errorf("job.granularity must be non-negative")
	}
	if jc.Parallelism < 0 {
		return fmt.Errorf("job.parallelism must be non-negative")
	}
	if jc.Iterations != nil && (*jc.Iterations < 0 || *jc.Iterations > engine.MaxIterationsLimit) {
		return fmt.Errorf("job.iterations must be in 0..%d", engine.MaxIterationsLimit)
	}
	if jc.Region != nil {
		if err := jc.Region.Validate(); err != nil {
			return fmt.Errorf("job.region: %w", err)
		}
	}
	if jc.Resolution != nil {
		if err := jc.Resolution.Validate(); err != nil {
			return fmt.Errorf("job.resolution: %w", err)
		}
	}

	for _, g := range f.Sweep.Granularities {
		if g < 1 {
			return fmt.Errorf("sweep.granularities must be positive")
		}
	}
	for _, p := range f.Sweep.Parallelisms {
		if p < 1 {
			return fmt.Errorf("sweep.parallelisms must be positive")
		}
	}
	if f.Sweep.Repeat < 0 {
		return fmt.Errorf("sweep.repeat must be non-negative")
	}

	if f.Chaos.TargetCount < 0 {
		return fmt.Errorf("chaos.target_count must be non-negative")
	}

	if f.Engine.Kind == string(engine.KindExternal) && f.Engine.Binary == "" {
		return fmt.Errorf("engine.binary is required for the external engine")
	}

	switch f.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json")
	}

	return nil
}

// Apply は環境変数の設定をsettingsへ反映する
func (e *Env) Apply(s *Settings) error {
	if e.Output != "" {
		s.Job.Output = e.Output
	}
	if e.Mode != "" {
		mode, err := engine.ParseMode(e.Mode)
		if err != nil {
			return err
		}
		s.Job.Mode = mode
	}
	if e.Parallelism > 0 {
		s.Job.Parallelism = e.Parallelism
	}
	if e.Granularity > 0 {
		s.Job.Granularity = e.Granularity
	}
	if e.Iterations != nil {
		s.Job.MaxIterations = *e.Iterations
	}
	if e.Remainder != "" {
		policy, err := partition.ParseRemainderPolicy(e.Remainder)
		if err != nil {
			return err
		}
		s.Job.Remainder = policy
	}
	if e.Engine != "" {
		kind, err := engine.ParseKind(e.Engine)
		if err != nil {
			return err
		}
		s.Engine = kind
	}
	if e.Binary != "" {
		s.Binary = e.Binary
	}
	if e.Addr != "" {
		s.Addr = e.Addr
	}
	if e.LogLevel != "" {
		level, err := logger.ParseLevel(e.LogLevel)
		if err != nil {
			return err
		}
		s.LogLevel = level
	}
	if e.LogFormat != "" {
		s.LogFormat = e.LogFormat
	}
	return nil
}
