// Package main is the entry point for mandelgen.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mandelgen/internal/api"
	"mandelgen/internal/chaos"
	"mandelgen/internal/config"
	"mandelgen/internal/engine"
	"mandelgen/internal/events"
	"mandelgen/internal/logger"
	"mandelgen/internal/metrics"
	"mandelgen/internal/partition"
	"mandelgen/internal/plane"
	"mandelgen/internal/sweep"
)

var (
	version = "dev"
)

// defaultOutput は -o も MANDEL_OUTPUT も無い場合の出力先
const defaultOutput = "matrix.txt"

// positionalArgs は位置引数形式 P G XMIN XMAX YMIN YMAX W H ITERS MODE の個数
const positionalArgs = 10

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// flags はコマンドラインフラグ
type flags struct {
	parallelism int
	granularity int
	iterations  int
	area        string
	resolution  string
	mode        string
	output      string
	configFile  string
	engineKind  string
	binary      string
	remainder   string
	logLevel    string
	serverMode  bool
	serverAddr  string
	listPresets bool
	showVersion bool

	set map[string]bool
}

func newFlagSet(f *flags, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("mandelgen", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.IntVar(&f.parallelism, "p", 1, "並列度（ワーカー数）")
	fs.IntVar(&f.granularity, "g", 4, "粒度（ワーカーあたりのブロック数）")
	fs.IntVar(&f.iterations, "i", 255, "最大反復回数")
	fs.StringVar(&f.area, "area", "-2.5 1 -1.5 1.5", "複素平面の領域 \"xmin xmax ymin ymax\"")
	fs.StringVar(&f.resolution, "res", "1920 1080", "解像度 \"width height\"")
	fs.StringVar(&f.mode, "mode", "gen", "モード (gen, test)")
	fs.StringVar(&f.output, "o", "", "出力ファイル (既定: $MANDEL_OUTPUT または "+defaultOutput+")")
	fs.StringVar(&f.configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	fs.StringVar(&f.engineKind, "engine", "inprocess", "エンジン (inprocess, external)")
	fs.StringVar(&f.binary, "bin", "", "external エンジンで実行するバイナリ")
	fs.StringVar(&f.remainder, "remainder", "gap", "余り行の扱い (gap, last)")
	fs.StringVar(&f.logLevel, "log-level", "info", "ログレベル (debug, info, warn, error)")
	fs.BoolVar(&f.serverMode, "server", false, "APIサーバーモードで起動")
	fs.StringVar(&f.serverAddr, "addr", ":8080", "サーバーアドレス (例: :8080, 0.0.0.0:3000)")
	fs.BoolVar(&f.listPresets, "list-presets", false, "スイープのプリセットを表示")
	fs.BoolVar(&f.showVersion, "version", false, "バージョンを表示")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `mandelgen - Parallel Mandelbrot escape-time generator

Usage:
  mandelgen [options]
  mandelgen [options] P G XMIN XMAX YMIN YMAX W H ITERS MODE

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(stderr, `
Examples:
  # 行列ファイルを生成
  mandelgen -p 8 -g 4 -res "3840 2160" -o matrix.txt

  # 位置引数形式（出力先は MANDEL_OUTPUT）
  MANDEL_OUTPUT=matrix.txt mandelgen 8 4 -2.5 1 -1.5 1.5 3840 2160 256 gen

  # 粒度と並列度のスイープ
  mandelgen -mode test -res "1920 1080"

  # APIサーバーモードで起動
  mandelgen -server -addr :3000
`)
	}
	return fs
}

// run はCLIを実行し、終了コードを返す
func run(args []string, stdout, stderr io.Writer) int {
	var f flags
	fs := newFlagSet(&f, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	f.set = make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })

	// バージョン表示
	if f.showVersion {
		fmt.Fprintf(stdout, "mandelgen version %s\n", version)
		return 0
	}

	// プリセット一覧表示
	if f.listPresets {
		printPresets(stdout)
		return 0
	}

	settings, err := buildSettings(&f, fs.Args())
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		return 1
	}

	setupLogger(settings, stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			logger.Warn("", "中断シグナルを受信、終了中...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := execute(ctx, settings, f.serverMode, stdout); err != nil {
		logger.Error("", "実行エラー: %v", err)
		return 1
	}
	return 0
}

// buildSettings は 設定ファイル -> 環境変数 -> フラグ -> 位置引数 の順に設定を重ねる
func buildSettings(f *flags, positional []string) (*config.Settings, error) {
	settings, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}

	if err := applyFlags(f, settings); err != nil {
		return nil, err
	}

	switch len(positional) {
	case 0:
	case positionalArgs:
		job, err := parsePositional(positional, settings.Job)
		if err != nil {
			return nil, err
		}
		settings.Job = job
	default:
		return nil, fmt.Errorf("expected %d positional arguments (P G XMIN XMAX YMIN YMAX W H ITERS MODE), got %d",
			positionalArgs, len(positional))
	}

	if settings.Job.Output == "" {
		settings.Job.Output = defaultOutput
	}
	return settings, nil
}

// applyFlags は明示的に指定されたフラグのみ反映する
func applyFlags(f *flags, s *config.Settings) error {
	if f.set["p"] {
		s.Job.Parallelism = f.parallelism
	}
	if f.set["g"] {
		s.Job.Granularity = f.granularity
	}
	if f.set["i"] {
		s.Job.MaxIterations = f.iterations
	}
	if f.set["area"] {
		region, err := parseArea(f.area)
		if err != nil {
			return err
		}
		s.Job.Region = region
	}
	if f.set["res"] {
		res, err := parseResolution(f.resolution)
		if err != nil {
			return err
		}
		s.Job.Resolution = res
	}
	if f.set["mode"] {
		mode, err := engine.ParseMode(f.mode)
		if err != nil {
			return err
		}
		s.Job.Mode = mode
	}
	if f.set["o"] {
		s.Job.Output = f.output
	}
	if f.set["engine"] {
		kind, err := engine.ParseKind(f.engineKind)
		if err != nil {
			return err
		}
		s.Engine = kind
	}
	if f.set["bin"] {
		s.Binary = f.binary
	}
	if f.set["remainder"] {
		policy, err := partition.ParseRemainderPolicy(f.remainder)
		if err != nil {
			return err
		}
		s.Job.Remainder = policy
	}
	if f.set["log-level"] {
		level, err := logger.ParseLevel(f.logLevel)
		if err != nil {
			return err
		}
		s.LogLevel = level
	}
	if f.set["addr"] {
		s.Addr = f.serverAddr
	}
	return nil
}

// parsePositional は P G XMIN XMAX YMIN YMAX W H ITERS MODE をbaseに重ねる
func parsePositional(args []string, base engine.Job) (engine.Job, error) {
	job := base
	if len(args) != positionalArgs {
		return job, fmt.Errorf("expected %d positional arguments, got %d", positionalArgs, len(args))
	}

	ints := map[int]*int{
		0: &job.Parallelism,
		1: &job.Granularity,
		6: &job.Resolution.Width,
		7: &job.Resolution.Height,
		8: &job.MaxIterations,
	}
	for i, dst := range ints {
		v, err := strconv.Atoi(args[i])
		if err != nil {
			return job, fmt.Errorf("argument %d (%q): %w", i+1, args[i], err)
		}
		*dst = v
	}

	region, err := parseArea(strings.Join(args[2:6], " "))
	if err != nil {
		return job, err
	}
	job.Region = region

	mode, err := engine.ParseMode(args[9])
	if err != nil {
		return job, err
	}
	job.Mode = mode

	return job, nil
}

// parseArea は "xmin xmax ymin ymax" をパースする
func parseArea(s string) (plane.Region, error) {
	fields := strings.Fields(s)
	if len(fields) != 4 {
		return plane.Region{}, fmt.Errorf("%w: area needs 4 numbers, got %q", plane.ErrInvalidRegion, s)
	}
	var v [4]float64
	for i, field := range fields {
		f, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return plane.Region{}, fmt.Errorf("%w: %v", plane.ErrInvalidRegion, err)
		}
		v[i] = f
	}
	return plane.Region{XMin: v[0], XMax: v[1], YMin: v[2], YMax: v[3]}, nil
}

// parseResolution は "width height" をパースする
func parseResolution(s string) (plane.Resolution, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return plane.Resolution{}, fmt.Errorf("%w: resolution needs 2 integers, got %q", plane.ErrInvalidResolution, s)
	}
	w, err := strconv.Atoi(fields[0])
	if err != nil {
		return plane.Resolution{}, fmt.Errorf("%w: %v", plane.ErrInvalidResolution, err)
	}
	h, err := strconv.Atoi(fields[1])
	if err != nil {
		return plane.Resolution{}, fmt.Errorf("%w: %v", plane.ErrInvalidResolution, err)
	}
	return plane.Resolution{Width: w, Height: h}, nil
}

func setupLogger(s *config.Settings, stderr io.Writer) {
	if s.LogFormat == "json" {
		logger.SetDefault(logger.NewJSON(stderr, s.LogLevel))
		return
	}
	logger.SetDefault(logger.New(stderr, s.LogLevel))
}

// execute は設定に従ってサーバー、生成、スイープのいずれかを実行する
func execute(ctx context.Context, s *config.Settings, serverMode bool, stdout io.Writer) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewWithConfig(metrics.Config{Namespace: "mandelgen", Registerer: reg})

	bus := events.NewBus()
	defer bus.Close()

	var monkey *chaos.Monkey
	if s.Chaos != nil {
		monkey = chaos.New(*s.Chaos)
		monkey.SetEventBus(bus)
		logger.Warn("", "Fault injection enabled (targets: %v, types: %v)", s.Chaos.Targets, s.Chaos.AttackTypes)
	}

	eng, err := engine.New(engine.Options{
		Kind:    s.Engine,
		Binary:  s.Binary,
		Bus:     bus,
		Metrics: m,
		Monkey:  monkey,
	})
	if err != nil {
		return err
	}

	if serverMode {
		fmt.Fprintf(stdout, "mandelgen - API Server on http://%s\n", s.Addr)
		server := api.NewServer(api.Options{
			Addr:       s.Addr,
			Engine:     eng,
			Metrics:    m,
			Gatherer:   reg,
			Bus:        bus,
			DefaultJob: s.Job,
		})
		return server.Start(ctx)
	}

	switch s.Job.Mode {
	case engine.ModeTest:
		result, err := sweep.New(s.SweepConfig(), eng).Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, result.Report())
		return nil
	default:
		result, err := eng.Compute(ctx, s.Job)
		if err != nil {
			return err
		}
		if err := result.WriteFile(s.Job.Output); err != nil {
			return err
		}
		fmt.Fprintln(stdout, result.Report())
		logger.Info(result.RunID, "Wrote %s", s.Job.Output)
		return nil
	}
}

// printPresets は利用可能なプリセットを表示する
func printPresets(w io.Writer) {
	fmt.Fprintln(w, "利用可能なスイーププリセット:")
	fmt.Fprintln(w)

	for _, name := range sweep.ListPresets() {
		preset, _ := sweep.GetPreset(name)
		fmt.Fprintf(w, "  %-12s %s\n", name, preset.Description)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "使用例: mandelgen -mode test -config sweep.yaml")
}
