package timelapse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// EncodeDone はエンコードワーカーの完了通知
type EncodeDone struct {
	Window     Window
	OutputPath string // 作業ディレクトリ上のクリップ
	Filename   string // {unix}.mp4
	Err        error
}

// EncodeWorker は撮影済みバッファを時間毎クリップにエンコードする
type EncodeWorker struct {
	generator *VideoGenerator
	buffers   *BufferSet
	outputDir string // {encoding_root}/today
	logger    zerolog.Logger
}

// NewEncodeWorker は新しいEncodeWorkerを作成する
func NewEncodeWorker(generator *VideoGenerator, buffers *BufferSet, encodingRoot string, logger zerolog.Logger) *EncodeWorker {
	return &EncodeWorker{
		generator: generator,
		buffers:   buffers,
		outputDir: filepath.Join(encodingRoot, "today"),
		logger:    logger.With().Str("component", "encode").Logger(),
	}
}

// Run はウィンドウのバッファをエンコードし、doneに1回だけ通知する
func (w *EncodeWorker) Run(ctx context.Context, window Window, done chan<- EncodeDone) {
	filename := window.ClipFilename()
	output := filepath.Join(w.outputDir, filename)
	result := EncodeDone{Window: window, OutputPath: output, Filename: filename}

	logger := w.logger.With().Str("window", window.ID).Str("buffer", window.Buffer.String()).Logger()

	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		result.Err = fmt.Errorf("エンコード出力先の作成に失敗 (%s): %w", w.outputDir, err)
		done <- result
		return
	}

	logger.Info().Str("output", output).Msg("エンコードを開始します")
	if err := w.generator.EncodeFrames(ctx, w.buffers.FramePattern(window.Buffer), output); err != nil {
		logger.Error().Err(err).Msg("エンコードに失敗しました")
		result.Err = err
		done <- result
		return
	}

	logger.Info().Str("output", output).Msg("エンコードが完了しました")
	done <- result
}
