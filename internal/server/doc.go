// Package server は、アーカイブ閲覧用のHTTPサーバーを管理します。
//
// このパッケージは、撮影済みタイムラプス動画の一覧と再生用の配信、
// 撮影状態の参照を担当します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - 動画一覧（過去日の動画と当日のクリップ）のJSON配信
//   - 動画ファイルの配信（Rangeリクエスト対応）
//   - 撮影状態の参照
//
// 仕様:
//   - ルーティングはgin、CORSはgin-contrib/corsを使用
//   - 配信できるのはアーカイブ走査で認識された動画のみ
//   - 読み取り専用で、アーカイブを変更しない
package server
