package timelapse

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"kitchen-timelapse/internal/camera"
)

// Manager はタイムラプス機能全体を管理するインターフェース
type Manager interface {
	// システム制御
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Done はループが終了したときにその理由を1回だけ送る
	Done() <-chan error

	// データ取得
	GetTimelapseVideos() ([]Video, error)
	GetTimelapseStatus() (StatusInfo, error)

	// 設定取得
	GetConfig() Config
}

// CaptureDevice はキャプチャプロセスの起動・撮影・停止を行う
type CaptureDevice interface {
	Start(ctx context.Context) (camera.Handle, error)
	Stop(ctx context.Context) error
	CaptureOneTo(ctx context.Context, path string) error
	Pid() int
}

// DefaultManager はManagerのデフォルト実装
type DefaultManager struct {
	device  CaptureDevice
	config  Config
	options []Option
	logger  zerolog.Logger
	archive *Archive

	mu           sync.RWMutex
	manufacturer *Manufacturer
	cancel       context.CancelFunc
	runDone      chan struct{}
	done         chan error
}

// NewDefaultManager は新しいDefaultManagerを作成する
func NewDefaultManager(device CaptureDevice, config Config, logger zerolog.Logger, opts ...Option) *DefaultManager {
	return &DefaultManager{
		device:  device,
		config:  config,
		options: opts,
		logger:  logger.With().Str("component", "timelapse").Logger(),
		archive: NewArchive(config.MoviesRoot, logger),
		done:    make(chan error, 1),
	}
}

// Start はキャプチャプロセスを起動し、撮影ループを開始する
func (m *DefaultManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled {
		m.logger.Info().Msg("タイムラプス機能は無効です")
		return nil
	}
	if m.manufacturer != nil {
		return fmt.Errorf("タイムラプスは既に開始しています")
	}

	if err := NewVideoGenerator(m.config.Encoder, m.logger).ValidateFFmpeg(ctx); err != nil {
		return err
	}

	handle, err := m.device.Start(ctx)
	if err != nil {
		return fmt.Errorf("キャプチャプロセスの起動に失敗: %w", err)
	}
	m.logger.Info().Int("pid", handle.Pid).Msg("キャプチャプロセスを起動しました")

	opts := append([]Option{WithArchive(m.archive)}, m.options...)
	manufacturer, err := NewManufacturer(m.config, m.device, m.logger, opts...)
	if err != nil {
		_ = m.device.Stop(ctx)
		return fmt.Errorf("タイムラプスの初期化に失敗: %w", err)
	}
	m.manufacturer = manufacturer

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.runDone = make(chan struct{})

	go func() {
		defer close(m.runDone)
		err := manufacturer.Run(runCtx)
		if IsFatal(err) {
			m.logger.Error().Err(err).Msg("タイムラプスのループが異常終了しました")
		}
		m.done <- err
	}()

	m.logger.Info().
		Str("pics_root", m.config.PicsRoot).
		Str("movies_root", m.config.MoviesRoot).
		Msg("タイムラプスマネージャーを開始しました")
	return nil
}

// Stop は撮影ループを止めてからキャプチャプロセスを停止する
func (m *DefaultManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}

	// ワーカーの終了を待機
	if m.runDone != nil {
		select {
		case <-m.runDone:
		case <-ctx.Done():
			m.logger.Warn().Msg("タイムラプスのループ終了待ちがタイムアウトしました")
		}
	}

	if m.manufacturer != nil {
		if err := m.device.Stop(ctx); err != nil {
			m.logger.Error().Err(err).Msg("キャプチャプロセスの停止に失敗しました")
		}
	}

	m.logger.Info().Msg("タイムラプスマネージャーを停止しました")
	return nil
}

// Done はループの終了理由を受け取るチャンネルを返す
// 無効設定で開始していない場合は何も送られない
func (m *DefaultManager) Done() <-chan error {
	return m.done
}

// GetTimelapseVideos はアーカイブ上の動画一覧を取得する
// 結合済みの日毎の動画に加え、当日フォルダを蓄積中の1件として返す
func (m *DefaultManager) GetTimelapseVideos() ([]Video, error) {
	d, err := m.archive.Scan()
	if err != nil {
		return nil, err
	}
	return videosFromDir(d), nil
}

func videosFromDir(d DirStructure) []Video {
	videos := make([]Video, 0, len(d.Movies)+1)
	for _, movie := range d.Movies {
		videos = append(videos, Video{
			Date:      movie.Time,
			Timestamp: movie.Timestamp,
			FilePath:  movie.Filename,
			FileSize:  movie.Size,
			Clips:     1,
			Status:    StatusCompleted,
		})
	}

	if d.Today != nil {
		var size int64
		for _, clip := range d.Today.Movies {
			size += clip.Size
		}
		videos = append(videos, Video{
			Date:      d.Today.Time,
			Timestamp: d.Today.Timestamp,
			FilePath:  filepath.Base(d.Today.Path),
			FileSize:  size,
			Clips:     len(d.Today.Movies),
			Status:    StatusRecording,
		})
	}
	return videos
}

// GetTimelapseStatus はタイムラプスシステムの状態を取得する
func (m *DefaultManager) GetTimelapseStatus() (StatusInfo, error) {
	m.mu.RLock()
	manufacturer := m.manufacturer
	m.mu.RUnlock()

	status := StatusInfo{Enabled: m.config.Enabled}
	if manufacturer != nil {
		status = manufacturer.Status()
		status.CapturePid = m.device.Pid()
	}

	d, err := m.archive.Scan()
	if err != nil {
		return status, err
	}
	status.TotalVideos = len(d.Movies)
	if d.Today != nil {
		status.TodayClips = len(d.Today.Movies)
	}
	status.StorageUsed = d.Size()
	return status, nil
}

// GetConfig は設定を取得する
func (m *DefaultManager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Archive はアーカイブを返す
func (m *DefaultManager) Archive() *Archive {
	return m.archive
}
