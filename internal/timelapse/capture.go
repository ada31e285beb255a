package timelapse

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// FrameCapturer は1枚撮影して指定パスに書き込む
type FrameCapturer interface {
	CaptureOneTo(ctx context.Context, path string) error
}

// Window は1時間分の撮影ウィンドウ
type Window struct {
	ID     string    `json:"id"`
	Buffer BufferID  `json:"buffer"`
	Start  time.Time `json:"start"` // クリップ名・日付判定に使う開始時刻
}

// ClipFilename はウィンドウから作られるクリップのファイル名を返す
func (w Window) ClipFilename() string {
	return MovieFilename(w.Start.Unix())
}

// CaptureDone は撮影ワーカーの完了通知
type CaptureDone struct {
	Window Window
	Frames int
	Err    error
}

// CaptureWorker は1つのバッファに開始時刻と同じ時台のあいだフレームを撮影し続ける
type CaptureWorker struct {
	capturer  FrameCapturer
	buffers   *BufferSet
	clock     Clock
	minFrames int
	interval  time.Duration
	logger    zerolog.Logger

	// 撮影中ウィンドウのフレーム数（状態表示用）
	frames atomic.Int64
}

// NewCaptureWorker は新しいCaptureWorkerを作成する
func NewCaptureWorker(capturer FrameCapturer, buffers *BufferSet, clock Clock, config Config, logger zerolog.Logger) *CaptureWorker {
	return &CaptureWorker{
		capturer:  capturer,
		buffers:   buffers,
		clock:     clock,
		minFrames: config.MinFrames,
		interval:  config.CaptureInterval,
		logger:    logger.With().Str("component", "capture").Logger(),
	}
}

// Frames は撮影中ウィンドウのフレーム数を返す
func (w *CaptureWorker) Frames() int64 {
	return w.frames.Load()
}

// Run は時台が変わり、かつ最小フレーム数に達するまで撮影する
// 完了・失敗にかかわらずdoneに1回だけ通知する
func (w *CaptureWorker) Run(ctx context.Context, window Window, done chan<- CaptureDone) {
	w.frames.Store(0)
	logger := w.logger.With().Str("window", window.ID).Str("buffer", window.Buffer.String()).Logger()
	logger.Info().Int("hour", window.Start.Hour()).Msg("撮影を開始します")

	frames := 0
	for sameHour(w.clock.Now(), window.Start) || frames < w.minFrames {
		if err := ctx.Err(); err != nil {
			done <- CaptureDone{Window: window, Frames: frames, Err: err}
			return
		}

		path := w.buffers.FramePath(window.Buffer, frames)
		if err := w.capturer.CaptureOneTo(ctx, path); err != nil {
			logger.Error().Err(err).Int("frame", frames).Msg("撮影に失敗しました")
			done <- CaptureDone{Window: window, Frames: frames, Err: err}
			return
		}
		frames++
		w.frames.Store(int64(frames))

		if w.interval > 0 {
			if err := sleepContext(ctx, w.interval); err != nil {
				done <- CaptureDone{Window: window, Frames: frames, Err: err}
				return
			}
		}
	}

	logger.Info().Int("frames", frames).Msg("撮影が完了しました")
	done <- CaptureDone{Window: window, Frames: frames}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
