// Package camera シグナルモードで常駐するキャプチャプロセスの制御を担う
//
// # 責務
// - 残存キャプチャプロセスの終了と新規起動
// - 起動直後の準備完了の確認（テスト撮影）
// - SIGUSR1による撮影トリガーと一時ファイルのポーリング
// - プロセス終了の検知と停止処理
//
// # 仕様
// - Controller: 単一の一時ファイルを共有するため撮影はシリアライズされる
// - Launcher: 外部プロセスの起動を抽象化（ExecLauncher / MockLauncher）
// - 一時ファイルの読み取り失敗は規定回数まで再試行し、超えた場合はErrCaptureTimeout
// - プロセスが終了している場合は再試行せずErrProcessExitedを返す
//
// # 前提要件
//   - raspistill: シグナルモード (-s) で撮影に使用
//     Raspberry Pi OS: sudo apt install libraspberrypi-bin
//   - killall: 残存プロセスの終了に使用
//     Debian: sudo apt install psmisc
//   - 一時ファイルはRAMディスク上に置くことを推奨
//     例: tmpfs /mnt/ram tmpfs nodev,nosuid,size=16M 0 0
package camera
