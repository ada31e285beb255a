package timelapse

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StitchResult は日毎の結合結果
type StitchResult struct {
	Folder    string `json:"folder"`    // 結合した当日フォルダ
	Timestamp int64  `json:"timestamp"` // 当日フォルダのタイムスタンプ
	Clips     int    `json:"clips"`     // 結合したクリップ数
	Output    string `json:"output"`    // 公開した動画（空フォルダの場合は空）
	Empty     bool   `json:"empty"`     // クリップがなくフォルダを削除しただけ
}

// StitchWorker は当日フォルダのクリップを1本の動画に結合してアーカイブする
type StitchWorker struct {
	archive      *Archive
	generator    *VideoGenerator
	encodingRoot string
	logger       zerolog.Logger
}

// NewStitchWorker は新しいStitchWorkerを作成する
func NewStitchWorker(archive *Archive, generator *VideoGenerator, encodingRoot string, logger zerolog.Logger) *StitchWorker {
	return &StitchWorker{
		archive:      archive,
		generator:    generator,
		encodingRoot: encodingRoot,
		logger:       logger.With().Str("component", "stitch").Logger(),
	}
}

// Stitch は現在の当日フォルダを結合する
//
// 当日フォルダがなければ何もしない。クリップが1本もなければフォルダを削除するだけで
// アーカイブには何も追加しない。ffmpegの失敗は*StitchErrorとして返し、
// 当日フォルダはそのまま残す。
func (s *StitchWorker) Stitch(ctx context.Context) (StitchResult, bool, error) {
	d, err := s.archive.Scan()
	if err != nil {
		return StitchResult{}, false, err
	}
	if d.Today == nil {
		s.logger.Info().Msg("結合する当日フォルダはありません")
		return StitchResult{}, false, nil
	}

	today := *d.Today
	result := StitchResult{
		Folder:    today.Path,
		Timestamp: today.Timestamp,
		Clips:     len(today.Movies),
	}
	logger := s.logger.With().Str("folder", today.Path).Int("clips", len(today.Movies)).Logger()

	if len(today.Movies) == 0 {
		if err := s.archive.RemoveEmptyToday(today); err != nil {
			return StitchResult{}, true, err
		}
		logger.Info().Msg("クリップのない当日フォルダを削除しました")
		result.Empty = true
		return result, true, nil
	}

	// 再生順（古い順）に並べる
	clips := make([]string, 0, len(today.Movies))
	for _, m := range today.Movies {
		clips = append(clips, m.Path)
	}

	listName := "concat-" + uuid.NewString() + ".txt"
	listFile, err := WriteConcatList(s.encodingRoot, listName, clips)
	if err != nil {
		return StitchResult{}, true, err
	}
	defer func() {
		_ = os.Remove(listFile) // cleanup中のエラーは無視
	}()

	output := filepath.Join(s.encodingRoot, MovieFilename(today.Timestamp))
	logger.Info().Str("output", output).Msg("当日フォルダの結合を開始します")

	if err := s.generator.Concat(ctx, listFile, output); err != nil {
		_ = os.Remove(output)
		if ctx.Err() != nil {
			return StitchResult{}, true, ctx.Err()
		}
		return StitchResult{}, true, &StitchError{Folder: today.Path, Err: err}
	}

	movie, err := s.archive.Promote(today, output)
	if err != nil {
		return StitchResult{}, true, err
	}
	result.Output = movie.Path

	logger.Info().Str("movie", movie.Path).Int64("size", movie.Size).Msg("日毎の動画を公開しました")
	return result, true, nil
}
