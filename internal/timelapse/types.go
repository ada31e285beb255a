package timelapse

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Config はタイムラプス設定
type Config struct {
	Enabled      bool   `yaml:"enabled"`       // 有効/無効
	PicsRoot     string `yaml:"pics_root"`     // A/Bバッファの親ディレクトリ
	MoviesRoot   string `yaml:"movies_root"`   // アーカイブ（日毎の動画と当日フォルダ）
	EncodingRoot string `yaml:"encoding_root"` // エンコード・結合の作業ディレクトリ（起動時に削除）

	MinFrames       int           `yaml:"min_frames"`       // 1ウィンドウの最小フレーム数
	CaptureInterval time.Duration `yaml:"capture_interval"` // フレーム間の待機 (0なら連続撮影)

	Encoder EncoderConfig `yaml:"encoder"`
}

// EncoderConfig はffmpegの設定
type EncoderConfig struct {
	Binary         string `yaml:"binary"`           // 実行ファイル
	InputFrameRate int    `yaml:"input_frame_rate"` // -framerate
	VideoSize      string `yaml:"video_size"`       // -video_size
	OutputFPS      int    `yaml:"output_fps"`       // -vf fps=
	Preset         string `yaml:"preset"`           // -preset
	CRF            int    `yaml:"crf"`              // -crf
}

// DefaultConfig はデフォルトのタイムラプス設定を返す
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		PicsRoot:        "/mnt/skynet/pics",
		MoviesRoot:      "/mnt/skynet/movies",
		EncodingRoot:    "/mnt/skynet/encoding",
		MinFrames:       5,
		CaptureInterval: 0,
		Encoder:         DefaultEncoderConfig(),
	}
}

// DefaultEncoderConfig はデフォルトのffmpeg設定を返す
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Binary:         "ffmpeg",
		InputFrameRate: 10,
		VideoSize:      "1640:1232",
		OutputFPS:      10,
		Preset:         "slow",
		CRF:            32,
	}
}

// Validate は設定の妥当性を検証する
func (c Config) Validate() error {
	roots := map[string]string{
		"pics_root":     c.PicsRoot,
		"movies_root":   c.MoviesRoot,
		"encoding_root": c.EncodingRoot,
	}
	for name, root := range roots {
		if root == "" {
			return fmt.Errorf("%s が指定されていません", name)
		}
	}

	// 作業ディレクトリは起動時に削除されるため、他と重ならないこと
	if overlaps(c.EncodingRoot, c.MoviesRoot) || overlaps(c.EncodingRoot, c.PicsRoot) || overlaps(c.PicsRoot, c.MoviesRoot) {
		return fmt.Errorf("pics_root / movies_root / encoding_root は互いに重ならない必要があります")
	}

	if c.MinFrames <= 0 {
		return fmt.Errorf("無効な最小フレーム数: %d", c.MinFrames)
	}
	if c.CaptureInterval < 0 {
		return fmt.Errorf("無効な撮影間隔: %s", c.CaptureInterval)
	}
	return c.Encoder.Validate()
}

// Validate はffmpeg設定の妥当性を検証する
func (e EncoderConfig) Validate() error {
	if e.Binary == "" {
		return fmt.Errorf("エンコーダーの実行ファイルが指定されていません")
	}
	if e.InputFrameRate <= 0 || e.OutputFPS <= 0 {
		return fmt.Errorf("無効なフレームレート: input=%d output=%d", e.InputFrameRate, e.OutputFPS)
	}
	if e.CRF < 0 || e.CRF > 51 {
		return fmt.Errorf("無効なCRF: %d (0-51)", e.CRF)
	}
	return nil
}

// AbsRoots はpics_root / movies_root / encoding_root を絶対パスにした設定を返す
func (c Config) AbsRoots() (Config, error) {
	for _, root := range []*string{&c.PicsRoot, &c.MoviesRoot, &c.EncodingRoot} {
		if *root == "" {
			continue
		}
		abs, err := filepath.Abs(*root)
		if err != nil {
			return c, fmt.Errorf("パスを解決できません (%s): %w", *root, err)
		}
		*root = abs
	}
	return c, nil
}

// overlaps はどちらかのパスがもう一方を含むかを判定する
func overlaps(a, b string) bool {
	a, b = absPath(a), absPath(b)
	return within(a, b) || within(b, a)
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Movie はアーカイブ内の動画ファイル
type Movie struct {
	Filename  string    `json:"filename"`  // {unix}.mp4
	Timestamp int64     `json:"timestamp"` // ファイル名の数値部分
	Time      time.Time `json:"time"`      // Timestampのローカル時刻
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
}

// TodayFolder は当日分の時間毎クリップを保持するフォルダ
type TodayFolder struct {
	Timestamp int64     `json:"timestamp"` // フォルダ名の数値部分
	Time      time.Time `json:"time"`
	Path      string    `json:"path"`
	Movies    []Movie   `json:"movies"` // タイムスタンプ昇順
}

// Name はフォルダのディレクトリ名を返す
func (t TodayFolder) Name() string {
	return filepath.Base(t.Path)
}

// DirStructure はアーカイブのスキャン結果
type DirStructure struct {
	Movies []Movie      `json:"movies"` // タイムスタンプ昇順
	Today  *TodayFolder `json:"today,omitempty"`

	// 命名規則に合わないため無視したエントリ
	Skipped []string `json:"-"`
}

// Size はアーカイブ全体のファイルサイズ合計を返す
func (d DirStructure) Size() int64 {
	var total int64
	for _, m := range d.Movies {
		total += m.Size
	}
	if d.Today != nil {
		for _, m := range d.Today.Movies {
			total += m.Size
		}
	}
	return total
}

// Video はタイムラプス動画情報
type Video struct {
	Date      time.Time `json:"date"`      // 撮影開始日時
	Timestamp int64     `json:"timestamp"` // ファイル名・フォルダ名のタイムスタンプ
	FilePath  string    `json:"file_path"` // アーカイブルートからの相対パス
	FileSize  int64     `json:"file_size"` // ファイルサイズ（当日フォルダはクリップ合計）
	Clips     int       `json:"clips"`     // 含まれる時間毎クリップ数
	Status    Status    `json:"status"`    // ステータス
}

// Status はタイムラプス動画のステータス
type Status string

// Status の定数定義
const (
	StatusRecording Status = "recording" // 当日分を蓄積中
	StatusCompleted Status = "completed" // 結合済み
)

// StatusInfo はタイムラプスシステムの状態情報
type StatusInfo struct {
	Enabled        bool              `json:"enabled"`
	Running        bool              `json:"running"`
	CapturePid     int               `json:"capture_pid"`
	ActiveBuffer   string            `json:"active_buffer"`
	Buffers        map[string]string `json:"buffers"`
	WindowID       string            `json:"window_id"`
	WindowStart    time.Time         `json:"window_start"`
	FramesInWindow int64             `json:"frames_in_window"`
	LastClip       string            `json:"last_clip"`
	LastStitch     string            `json:"last_stitch"`
	LastError      string            `json:"last_error"`
	TotalVideos    int               `json:"total_videos"`
	TodayClips     int               `json:"today_clips"`
	StorageUsed    int64             `json:"storage_used"`
	LastUpdate     time.Time         `json:"last_update"`
}
