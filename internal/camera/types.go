package camera

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

// 撮影パイプラインのエラー
var (
	// ErrNotStarted はStart前にキャプチャを要求したことを表す
	ErrNotStarted = errors.New("キャプチャプロセスが起動していません")
	// ErrCaptureTimeout は一時ファイルの読み取り試行回数を使い切ったことを表す
	ErrCaptureTimeout = errors.New("撮影画像の読み取りが規定回数内に完了しませんでした")
	// ErrProcessExited はキャプチャプロセスが終了していることを表す
	ErrProcessExited = errors.New("キャプチャプロセスが終了しています")
)

// Config はキャプチャプロセス（raspistill）の設定
type Config struct {
	Binary      string `yaml:"binary"`       // 実行ファイル
	ProcessName string `yaml:"process_name"` // 残存プロセスを終了させる際の名前（空ならBinaryのベース名）
	Slot        string `yaml:"slot"`         // 撮影画像が書き出される一時ファイル

	Width    int    `yaml:"width"`    // 画像幅
	Height   int    `yaml:"height"`   // 画像高さ
	Quality  int    `yaml:"quality"`  // JPEG品質 (0-100)
	Exposure string `yaml:"exposure"` // 露出モード

	AnnotateFlags int    `yaml:"annotate_flags"` // 0の場合は注記なし
	AnnotateText  string `yaml:"annotate_text"`  // 日時注記のフォーマット

	Settle       time.Duration `yaml:"settle"`        // 最初のトリガーを送るまでの待機
	WarmUp       time.Duration `yaml:"warm_up"`       // 準備完了確認の上限時間
	PollInterval time.Duration `yaml:"poll_interval"` // 一時ファイルの確認間隔
	MaxAttempts  int           `yaml:"max_attempts"`  // 一時ファイルの確認回数
	StopGrace    time.Duration `yaml:"stop_grace"`    // SIGTERM後に強制終了するまでの猶予
}

// DefaultConfig はデフォルトのキャプチャ設定を返す
func DefaultConfig() Config {
	return Config{
		Binary:        "raspistill",
		Slot:          "/mnt/ram/image_latest.jpg",
		Width:         1640,
		Height:        1232,
		Quality:       7,
		Exposure:      "sports",
		AnnotateFlags: 8,
		AnnotateText:  "%d-%m-%Y %X",
		Settle:        2 * time.Second,
		WarmUp:        10 * time.Second,
		PollInterval:  500 * time.Millisecond,
		MaxAttempts:   10,
		StopGrace:     3 * time.Second,
	}
}

// Validate は設定の妥当性を検証する
func (c Config) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("キャプチャプロセスの実行ファイルが指定されていません")
	}
	if c.Slot == "" {
		return fmt.Errorf("一時ファイルのパスが指定されていません")
	}
	if c.Width <= 0 || c.Width > 4096 {
		return fmt.Errorf("無効な幅: %d", c.Width)
	}
	if c.Height <= 0 || c.Height > 4096 {
		return fmt.Errorf("無効な高さ: %d", c.Height)
	}
	if c.Quality < 0 || c.Quality > 100 {
		return fmt.Errorf("無効なJPEG品質: %d", c.Quality)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("無効な確認間隔: %s", c.PollInterval)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("無効な確認回数: %d", c.MaxAttempts)
	}
	if c.Settle < 0 || c.WarmUp < c.Settle {
		return fmt.Errorf("ウォームアップ時間 (%s) は待機時間 (%s) 以上である必要があります", c.WarmUp, c.Settle)
	}
	return nil
}

// Args はキャプチャプロセスの引数を組み立てる
func (c Config) Args() []string {
	args := []string{
		"-q", strconv.Itoa(c.Quality),
		"-w", strconv.Itoa(c.Width),
		"-h", strconv.Itoa(c.Height),
		"-s", // シグナルモード
		"-n", // プレビューなし
	}
	if c.Exposure != "" {
		args = append(args, "-ex", c.Exposure)
	}
	if c.AnnotateFlags != 0 {
		args = append(args, "-a", strconv.Itoa(c.AnnotateFlags))
		if c.AnnotateText != "" {
			args = append(args, "-a", c.AnnotateText)
		}
	}
	return append(args, "-o", c.Slot)
}

func (c Config) processName() string {
	if c.ProcessName != "" {
		return c.ProcessName
	}
	return filepath.Base(c.Binary)
}

// Handle は起動済みキャプチャプロセスの識別情報
type Handle struct {
	Pid       int
	StartedAt time.Time
}

// ProcessError は外部プロセスの起動・制御の失敗を表す
type ProcessError struct {
	Name   string // 実行ファイル
	Op     string // 失敗した操作
	Pid    int
	Stderr string
	Err    error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("%s の%sに失敗 (pid %d): %v", e.Name, e.Op, e.Pid, e.Err)
	if e.Stderr != "" {
		msg += fmt.Sprintf(" (stderr: %s)", e.Stderr)
	}
	return msg
}

func (e *ProcessError) Unwrap() error { return e.Err }
