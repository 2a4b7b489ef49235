// Package chaos はワーカーへの障害注入機能を提供する。
//
// Monkeyは1回の計算で使われるワーカージョブを包み、選ばれたワーカーに
// 障害を注入する。ワーカー異常終了時に共有メモリが解放され、
// 出力ファイルが書かれないことを確かめるために使用される。
//
// # 障害タイプ
//
// - Panic: ワーカー内でpanicさせる
// - Error: ワーカーがエラーを返す
// - Delay: ワーカーの開始を遅らせる（負荷の偏りを再現）
//
// # 使用例
//
//	config := chaos.DefaultConfig()
//	config.Targets = []int{1}
//	config.AttackTypes = []chaos.AttackType{chaos.AttackPanic}
//
//	monkey := chaos.New(config)
//	job = monkey.Wrap(runID, parallelism, job)
package chaos
