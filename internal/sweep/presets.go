package sweep

import (
	"runtime"

	"mandelgen/internal/engine"
	"mandelgen/internal/plane"
)

func presetJob(width, height, iterations int) engine.Job {
	job := engine.DefaultJob()
	job.Mode = engine.ModeTest
	job.Resolution = plane.Resolution{Width: width, Height: height}
	job.MaxIterations = iterations
	return job
}

// QuickSweep はクイックテスト用のスイープを返す
// 小さい解像度での動作確認用
func QuickSweep() Config {
	return Config{
		Name:          "quick",
		Description:   "Quick sweep for verification",
		Granularities: []int{1, 4},
		Parallelisms:  []int{1, 2},
		Repeat:        1,
		Job:           presetJob(320, 180, 64),
	}
}

// ScalingSweep は並列度に対するスケーリングを測るスイープを返す
// 粒度を固定し、3回計測の平均を取る
func ScalingSweep() Config {
	return Config{
		Name:          "scaling",
		Description:   "Strong scaling at fixed granularity",
		Granularities: []int{4},
		Parallelisms:  Range(1, runtime.NumCPU()),
		Repeat:        3,
		Job:           presetJob(1920, 1080, 255),
	}
}

// GranularitySweep は粒度の影響を測るスイープを返す
// 並列度をCPU数に固定し、粒度を倍々に増やす
func GranularitySweep() Config {
	return Config{
		Name:          "granularity",
		Description:   "Load balance versus granularity at full parallelism",
		Granularities: []int{1, 2, 4, 8, 16, 32},
		Parallelisms:  []int{runtime.NumCPU()},
		Repeat:        3,
		Job:           presetJob(1920, 1080, 255),
	}
}

// GetPreset は名前からプリセットスイープを取得する
func GetPreset(name string) (Config, bool) {
	presets := map[string]func() Config{
		"default":     DefaultConfig,
		"quick":       QuickSweep,
		"scaling":     ScalingSweep,
		"granularity": GranularitySweep,
	}

	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	return []string{"default", "quick", "scaling", "granularity"}
}
