package timelapse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrMultipleTodayFolders はアーカイブに当日フォルダが2つ以上あることを表す（致命的）
	ErrMultipleTodayFolders = errors.New("当日フォルダが複数存在します")
	// ErrInvalidBufferTransition はバッファの状態遷移違反を表す（致命的）
	ErrInvalidBufferTransition = errors.New("不正なバッファ状態遷移")
)

// エラーメッセージに含めるstderrの上限
const maxStderrInError = 4 * 1024

// CommandError は外部コマンドの異常終了を表す
type CommandError struct {
	Command string // 実行したコマンドライン
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if len(stderr) > maxStderrInError {
		cut := len(stderr) - maxStderrInError
		// マルチバイト文字の途中で切らない
		for cut < len(stderr) && !utf8.RuneStart(stderr[cut]) {
			cut++
		}
		stderr = "..." + stderr[cut:]
	}
	if stderr == "" {
		return fmt.Sprintf("コマンドが失敗しました: %s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("コマンドが失敗しました: %s: %v (stderr: %s)", e.Command, e.Err, stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// StitchError は日毎の結合失敗を表す
// 当日フォルダはそのまま残り、次のウィンドウで再試行される
type StitchError struct {
	Folder string
	Err    error
}

func (e *StitchError) Error() string {
	return fmt.Sprintf("当日フォルダの結合に失敗 (%s): %v", e.Folder, e.Err)
}

func (e *StitchError) Unwrap() error { return e.Err }

// IsFatal はerrがプロセスを終了させるべきエラーかを判定する
// 結合失敗とコンテキストのキャンセルは致命的ではない
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var stitchErr *StitchError
	if errors.As(err, &stitchErr) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
