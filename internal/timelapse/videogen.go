package timelapse

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"kitchen-timelapse/internal/fsx"
)

// VideoGenerator はffmpegによる動画生成を担当する
type VideoGenerator struct {
	config EncoderConfig
	logger zerolog.Logger
}

// NewVideoGenerator は新しいVideoGeneratorを作成する
func NewVideoGenerator(config EncoderConfig, logger zerolog.Logger) *VideoGenerator {
	return &VideoGenerator{
		config: config,
		logger: logger.With().Str("component", "ffmpeg").Logger(),
	}
}

// EncodeArgs は連番JPEGから時間毎クリップを作る引数を組み立てる
func (vg *VideoGenerator) EncodeArgs(framePattern, output string) []string {
	return []string{
		"-framerate", strconv.Itoa(vg.config.InputFrameRate),
		"-i", framePattern,
		"-video_size", vg.config.VideoSize,
		"-vf", "fps=" + strconv.Itoa(vg.config.OutputFPS),
		"-preset", vg.config.Preset,
		"-crf", strconv.Itoa(vg.config.CRF),
		"-y", // 上書き許可
		output,
	}
}

// ConcatArgs はクリップを再エンコードなしで結合する引数を組み立てる
func (vg *VideoGenerator) ConcatArgs(listFile, output string) []string {
	return []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy", // 再エンコードなし
		"-y",
		output,
	}
}

// EncodeFrames は連番JPEGをエンコードしてoutputに書き出す
func (vg *VideoGenerator) EncodeFrames(ctx context.Context, framePattern, output string) error {
	return vg.run(ctx, vg.EncodeArgs(framePattern, output))
}

// Concat は結合リストのクリップを連結してoutputに書き出す
func (vg *VideoGenerator) Concat(ctx context.Context, listFile, output string) error {
	return vg.run(ctx, vg.ConcatArgs(listFile, output))
}

func (vg *VideoGenerator) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, vg.config.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	vg.logger.Debug().Strs("args", args).Msg("ffmpegを実行します")

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &CommandError{
			Command: vg.config.Binary + " " + strings.Join(args, " "),
			Stderr:  stderr.String(),
			Err:     err,
		}
	}

	vg.logger.Debug().Dur("elapsed", time.Since(start)).Msg("ffmpegが完了しました")
	return nil
}

// WriteConcatList はffmpegのconcat demuxer用リストをdir/nameに書き込む
// クリップは渡された順（再生順）に並ぶ
func WriteConcatList(dir, name string, clips []string) (string, error) {
	var b strings.Builder
	for _, clip := range clips {
		// concatは相対パスをリストファイルの場所から解決するため絶対パスで書く
		abs, err := filepath.Abs(clip)
		if err != nil {
			return "", fmt.Errorf("クリップのパスを解決できません (%s): %w", clip, err)
		}
		fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(abs))
	}
	if err := fsx.WriteFileAtomic(dir, name, []byte(b.String())); err != nil {
		return "", fmt.Errorf("結合リストの作成に失敗: %w", err)
	}
	return filepath.Join(dir, name), nil
}

// escapeConcatPath はシングルクォート内で使えるようにパスをエスケープする
func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

// ValidateFFmpeg はFFmpegが利用可能かチェックする
func (vg *VideoGenerator) ValidateFFmpeg(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, vg.config.Binary, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("FFmpegが見つかりません。インストールしてください (%s): %w", vg.config.Binary, err)
	}

	return nil
}
