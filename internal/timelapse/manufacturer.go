package timelapse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ワーカーからの完了通知チャンネルの容量
const handoffCapacity = 2

// Observer はオーケストレーターの進行をイベントとして受け取る
//
// すべてのイベントはRunを実行しているゴルーチンから呼ばれる。
type Observer interface {
	// OnWindowStart は撮影ワーカーを起動する直前に呼ばれる
	OnWindowStart(window Window)
	// OnCaptureDone は撮影ワーカーの完了を受け取った直後に呼ばれる
	OnCaptureDone(done CaptureDone)
	// OnEncodeStart はエンコードワーカーを起動する直前に呼ばれる
	OnEncodeStart(window Window)
	// OnClipFiled はクリップを当日フォルダへ移動した後に呼ばれる
	OnClipFiled(clip Movie, today TodayFolder)
	// OnStitch は結合を試みた後に呼ばれる（errは致命的でない結合失敗を含む）
	OnStitch(result StitchResult, err error)
}

// Option はManufacturerの設定を変更する
type Option func(*Manufacturer)

// WithClock は時刻の取得元を差し替える
func WithClock(clock Clock) Option {
	return func(m *Manufacturer) { m.clock = clock }
}

// WithArchive はアーカイブを共有する（閲覧サーバーと同じロックを使うため）
func WithArchive(archive *Archive) Option {
	return func(m *Manufacturer) { m.archive = archive }
}

// WithObserver はイベントの通知先を設定する
func WithObserver(observer Observer) Option {
	return func(m *Manufacturer) { m.observer = observer }
}

// Manufacturer はA/Bバッファを交互に使い、撮影・エンコード・日毎の結合を回し続ける
type Manufacturer struct {
	config   Config
	clock    Clock
	observer Observer
	logger   zerolog.Logger

	buffers   *BufferSet
	archive   *Archive
	generator *VideoGenerator
	capture   *CaptureWorker
	encode    *EncodeWorker
	stitch    *StitchWorker

	captureDone chan CaptureDone
	encodeDone  chan EncodeDone
	wg          sync.WaitGroup

	// Runのゴルーチンだけが変更する
	active BufferID

	mu     sync.RWMutex
	status runStatus
}

type runStatus struct {
	running    bool
	window     Window
	lastClip   string
	lastStitch string
	lastError  string
	lastUpdate time.Time
}

// NewManufacturer は新しいManufacturerを作成する
//
// 両方のバッファを空で作り直し、前回の作業ディレクトリを削除してから
// アーカイブを走査する。当日フォルダが複数あればエラーを返す。
func NewManufacturer(config Config, capturer FrameCapturer, logger zerolog.Logger, opts ...Option) (*Manufacturer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("タイムラプス設定が不正です: %w", err)
	}

	m := &Manufacturer{
		config:      config,
		clock:       SystemClock(),
		logger:      logger.With().Str("component", "manufacturer").Logger(),
		buffers:     NewBufferSet(config.PicsRoot),
		archive:     NewArchive(config.MoviesRoot, logger),
		generator:   NewVideoGenerator(config.Encoder, logger),
		captureDone: make(chan CaptureDone, handoffCapacity),
		encodeDone:  make(chan EncodeDone, handoffCapacity),
		active:      BufferA,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.capture = NewCaptureWorker(capturer, m.buffers, m.clock, config, logger)
	m.encode = NewEncodeWorker(m.generator, m.buffers, config.EncodingRoot, logger)
	m.stitch = NewStitchWorker(m.archive, m.generator, config.EncodingRoot, logger)

	if err := m.buffers.Init(); err != nil {
		return nil, err
	}

	if err := os.RemoveAll(config.EncodingRoot); err != nil {
		return nil, fmt.Errorf("作業ディレクトリの削除に失敗 (%s): %w", config.EncodingRoot, err)
	}
	if err := os.MkdirAll(filepath.Join(config.EncodingRoot, "today"), 0o755); err != nil {
		return nil, fmt.Errorf("作業ディレクトリの作成に失敗 (%s): %w", config.EncodingRoot, err)
	}

	d, err := m.archive.Scan()
	if err != nil {
		return nil, err
	}
	event := m.logger.Info().Int("movies", len(d.Movies))
	if d.Today != nil {
		event = event.Str("today", d.Today.Path).Int("today_clips", len(d.Today.Movies))
	}
	event.Msg("アーカイブを確認しました")

	return m, nil
}

// Buffers はバッファの状態管理を返す
func (m *Manufacturer) Buffers() *BufferSet {
	return m.buffers
}

// Archive はアーカイブを返す
func (m *Manufacturer) Archive() *Archive {
	return m.archive
}

// Run は撮影・エンコード・結合のループを実行する
//
// 通常は戻らない。致命的なエラーが発生するか、ctxがキャンセルされると
// 実行中のワーカーを止めてから戻る。
func (m *Manufacturer) Run(ctx context.Context) error {
	defer m.wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.setRunning(true)
	defer m.setRunning(false)

	var window *Window
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// 1. 撮影中のウィンドウがなければ開始する
		if window == nil {
			w, err := m.startWindow(ctx, m.active)
			if err != nil {
				return m.fail(err)
			}
			window = &w
		}

		// 2. 撮影の完了を待つ
		captured, err := m.waitCapture(ctx)
		if err != nil {
			return m.fail(err)
		}
		finished := *window

		// 3. 撮影先のバッファを切り替える
		m.active = m.active.Other()

		// 4. 撮影を途切れさせないよう、すぐに次のウィンドウを開始する
		next, err := m.startWindow(ctx, m.active)
		if err != nil {
			return m.fail(err)
		}
		window = &next

		// 5. 撮影済みのバッファをエンコードする
		encoded, err := m.encodeWindow(ctx, finished, captured.Frames)
		if err != nil {
			return m.fail(err)
		}

		// 6. エンコード済みのバッファを空にする
		if err := m.buffers.Reset(finished.Buffer); err != nil {
			return m.fail(err)
		}

		// 7. クリップを当日フォルダへ移動する
		if err := m.fileClip(ctx, finished, encoded); err != nil {
			return m.fail(err)
		}

		// 8. 日付が変わっていれば当日フォルダを結合する
		if !sameDay(finished.Start, next.Start) {
			m.logger.Info().
				Time("finished_start", finished.Start).
				Time("next_start", next.Start).
				Msg("日付が変わったため当日フォルダを結合します")
			if err := m.runStitch(ctx); err != nil {
				return m.fail(err)
			}
		}

		// 9. 次のウィンドウを撮影中のウィンドウとして繰り返す
	}
}

func (m *Manufacturer) startWindow(ctx context.Context, id BufferID) (Window, error) {
	if err := m.buffers.BeginFill(id); err != nil {
		return Window{}, err
	}

	window := Window{
		ID:     uuid.NewString(),
		Buffer: id,
		Start:  m.clock.Now(),
	}
	if m.observer != nil {
		m.observer.OnWindowStart(window)
	}
	m.updateStatus(func(s *runStatus) { s.window = window })

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.capture.Run(ctx, window, m.captureDone)
	}()
	return window, nil
}

func (m *Manufacturer) waitCapture(ctx context.Context) (CaptureDone, error) {
	var done CaptureDone
	select {
	case <-ctx.Done():
		return CaptureDone{}, ctx.Err()
	case done = <-m.captureDone:
	}

	if m.observer != nil {
		m.observer.OnCaptureDone(done)
	}
	if done.Err != nil {
		return done, fmt.Errorf("バッファ%sの撮影に失敗: %w", done.Window.Buffer, done.Err)
	}
	if err := m.buffers.MarkFull(done.Window.Buffer); err != nil {
		return done, err
	}
	return done, nil
}

func (m *Manufacturer) encodeWindow(ctx context.Context, window Window, frames int) (EncodeDone, error) {
	if err := m.buffers.BeginEncode(window.Buffer); err != nil {
		return EncodeDone{}, err
	}
	if m.observer != nil {
		m.observer.OnEncodeStart(window)
	}
	m.logger.Info().Str("window", window.ID).Str("buffer", window.Buffer.String()).Int("frames", frames).Msg("前のウィンドウをエンコードします")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.encode.Run(ctx, window, m.encodeDone)
	}()

	select {
	case <-ctx.Done():
		return EncodeDone{}, ctx.Err()
	case done := <-m.encodeDone:
		if done.Err != nil {
			return done, fmt.Errorf("バッファ%sのエンコードに失敗: %w", window.Buffer, done.Err)
		}
		return done, nil
	}
}

// fileClip はクリップを当日フォルダへ移動する
// 以前の日付の当日フォルダが残っていれば先に結合を再試行する
func (m *Manufacturer) fileClip(ctx context.Context, window Window, encoded EncodeDone) error {
	d, err := m.archive.Scan()
	if err != nil {
		return err
	}
	if d.Today != nil && !sameDay(d.Today.Time, window.Start) {
		m.logger.Warn().Str("today", d.Today.Path).Msg("前日以前の当日フォルダが残っているため結合を再試行します")
		if err := m.runStitch(ctx); err != nil {
			return err
		}
	}

	clip, today, err := m.archive.FileClip(encoded.OutputPath, window.Start.Unix())
	if err != nil {
		return err
	}
	m.logger.Info().Str("clip", clip.Path).Int("today_clips", len(today.Movies)).Msg("クリップを当日フォルダへ移動しました")

	if m.observer != nil {
		m.observer.OnClipFiled(clip, today)
	}
	m.updateStatus(func(s *runStatus) { s.lastClip = clip.Path })
	return nil
}

// runStitch は結合を実行する。結合失敗は記録して続行し、それ以外のエラーだけを返す
func (m *Manufacturer) runStitch(ctx context.Context) error {
	result, attempted, err := m.stitch.Stitch(ctx)
	if !attempted && err == nil {
		return nil
	}
	if m.observer != nil {
		m.observer.OnStitch(result, err)
	}

	if err != nil {
		if IsFatal(err) {
			return err
		}
		m.logger.Error().Err(err).Msg("結合に失敗しました。当日フォルダを残して次のウィンドウで再試行します")
		m.updateStatus(func(s *runStatus) { s.lastError = err.Error() })
		return nil
	}

	m.updateStatus(func(s *runStatus) {
		if result.Output != "" {
			s.lastStitch = result.Output
		}
	})
	return nil
}

// fail は致命的なエラーを状態に記録して返す
func (m *Manufacturer) fail(err error) error {
	if IsFatal(err) {
		m.updateStatus(func(s *runStatus) { s.lastError = err.Error() })
	}
	return err
}

func (m *Manufacturer) setRunning(running bool) {
	m.updateStatus(func(s *runStatus) { s.running = running })
}

func (m *Manufacturer) updateStatus(fn func(s *runStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.status)
	m.status.lastUpdate = m.clock.Now()
}

// Status は現在の状態を返す
func (m *Manufacturer) Status() StatusInfo {
	m.mu.RLock()
	s := m.status
	m.mu.RUnlock()

	states := m.buffers.States()
	buffers := make(map[string]string, len(states))
	for id, state := range states {
		buffers[id.String()] = state.String()
	}

	info := StatusInfo{
		Enabled:    m.config.Enabled,
		Running:    s.running,
		Buffers:    buffers,
		LastClip:   s.lastClip,
		LastStitch: s.lastStitch,
		LastError:  s.lastError,
		LastUpdate: s.lastUpdate,
	}
	if s.running && s.window.ID != "" {
		info.ActiveBuffer = s.window.Buffer.String()
		info.WindowID = s.window.ID
		info.WindowStart = s.window.Start
		info.FramesInWindow = m.capture.Frames()
	}
	return info
}
