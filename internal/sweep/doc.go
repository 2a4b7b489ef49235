// Package sweep は粒度と並列度の組み合わせを計測するベンチマーク機能を提供する。
//
// Runnerは各組み合わせでエンジンを実行し、実行時間、p=1に対する速度向上率、
// ワーカー間の負荷の偏りを記録する。ファイルは書き出さない。
//
// # 機能
//
// - 粒度 x 並列度の総当たり計測
// - 定義済みプリセット
// - 実行結果のレポート生成
//
// # プリセット
//
// - default: 粒度 {1, 4, 16} x 並列度 1..CPU数
// - quick: 小さい解像度での動作確認
// - scaling: 粒度固定のスケーリング計測
// - granularity: 並列度固定の粒度計測
//
// 行数に対してタイル数が多すぎる組み合わせはスキップとして記録される。
//
// # 使用例
//
//	config := sweep.DefaultConfig()
//	config.Job.Region = region
//	runner := sweep.New(config, engine.NewInProcess())
//	result, err := runner.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
package sweep
