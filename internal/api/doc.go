// Package api はHTTP/WebSocketのAPIサーバーを提供する。
//
// # エンドポイント
//
//   - POST /api/compute: ジョブを計算し要約を返す（?format=matrix で行列ファイル）
//   - GET /api/status: 実行中フラグと直近の実行
//   - GET /api/runs: 直近32件の実行履歴
//   - GET /api/metrics: メトリクスのJSONスナップショット
//   - GET /api/presets: スイープのプリセット一覧
//   - GET /metrics: Prometheus形式のメトリクス
//   - /ws: エンジンイベントのWebSocket配信
//
// 同時に実行できる計算は1つだけで、実行中のリクエストには409を返す。
package api
