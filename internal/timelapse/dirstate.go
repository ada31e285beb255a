package timelapse

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kitchen-timelapse/internal/fsx"
)

const movieExt = ".mp4"

// Scan はアーカイブルートを走査してDirStructureを返す
//
// ルートが存在しなければ作成する。数値名の.mp4ファイルを日毎の動画、
// 数値名のディレクトリを当日フォルダとして扱い、それ以外は無視する。
// 当日フォルダが2つ以上ある場合はErrMultipleTodayFoldersを返す。
func Scan(root string) (DirStructure, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return DirStructure{}, fmt.Errorf("アーカイブルートの作成に失敗 (%s): %w", root, err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return DirStructure{}, fmt.Errorf("アーカイブルートの読み取りに失敗 (%s): %w", root, err)
	}

	d := DirStructure{Movies: []Movie{}}
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())

		switch {
		case entry.Type().IsRegular():
			movie, ok, err := movieFromEntry(path, entry)
			if err != nil {
				return DirStructure{}, err
			}
			if !ok {
				d.Skipped = append(d.Skipped, path)
				continue
			}
			d.Movies = append(d.Movies, movie)

		case entry.IsDir():
			ts, ok := parseTimestamp(entry.Name())
			if !ok {
				d.Skipped = append(d.Skipped, path)
				continue
			}
			if d.Today != nil {
				return DirStructure{}, fmt.Errorf("%w: %s, %s", ErrMultipleTodayFolders, d.Today.Path, path)
			}
			today, skipped, err := scanToday(path, ts)
			if err != nil {
				return DirStructure{}, err
			}
			d.Today = &today
			d.Skipped = append(d.Skipped, skipped...)

		default:
			d.Skipped = append(d.Skipped, path)
		}
	}

	sortMovies(d.Movies)
	return d, nil
}

func scanToday(path string, ts int64) (TodayFolder, []string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return TodayFolder{}, nil, fmt.Errorf("当日フォルダの読み取りに失敗 (%s): %w", path, err)
	}

	today := TodayFolder{
		Timestamp: ts,
		Time:      time.Unix(ts, 0),
		Path:      path,
		Movies:    []Movie{},
	}
	var skipped []string
	for _, entry := range entries {
		clipPath := filepath.Join(path, entry.Name())
		if !entry.Type().IsRegular() {
			skipped = append(skipped, clipPath)
			continue
		}
		movie, ok, err := movieFromEntry(clipPath, entry)
		if err != nil {
			return TodayFolder{}, nil, err
		}
		if !ok {
			skipped = append(skipped, clipPath)
			continue
		}
		today.Movies = append(today.Movies, movie)
	}

	sortMovies(today.Movies)
	return today, skipped, nil
}

func movieFromEntry(path string, entry os.DirEntry) (Movie, bool, error) {
	name := entry.Name()
	if !strings.HasSuffix(name, movieExt) {
		return Movie{}, false, nil
	}
	ts, ok := parseTimestamp(strings.TrimSuffix(name, movieExt))
	if !ok {
		return Movie{}, false, nil
	}

	info, err := entry.Info()
	if err != nil {
		// 走査中に削除された
		if errors.Is(err, os.ErrNotExist) {
			return Movie{}, false, nil
		}
		return Movie{}, false, fmt.Errorf("ファイル情報の取得に失敗 (%s): %w", path, err)
	}

	return Movie{
		Filename:  name,
		Timestamp: ts,
		Time:      time.Unix(ts, 0),
		Path:      path,
		Size:      info.Size(),
	}, true, nil
}

// parseTimestamp は数字のみからなる名前をUNIXタイムスタンプとして解釈する
func parseTimestamp(name string) (int64, bool) {
	if name == "" {
		return 0, false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	ts, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

func sortMovies(movies []Movie) {
	sort.Slice(movies, func(i, j int) bool {
		if movies[i].Timestamp != movies[j].Timestamp {
			return movies[i].Timestamp < movies[j].Timestamp
		}
		return movies[i].Filename < movies[j].Filename
	})
}

// MovieFilename はタイムスタンプからアーカイブ上のファイル名を返す
func MovieFilename(ts int64) string {
	return strconv.FormatInt(ts, 10) + movieExt
}

// Archive はアーカイブルートへの読み書きをロックで保護する
// 走査は読み取りロック、公開・結合は書き込みロックで行う
type Archive struct {
	root   string
	logger zerolog.Logger
	mu     sync.RWMutex
}

// NewArchive は新しいArchiveを作成する
func NewArchive(root string, logger zerolog.Logger) *Archive {
	return &Archive{
		root:   root,
		logger: logger.With().Str("component", "archive").Logger(),
	}
}

// Root はアーカイブルートを返す
func (a *Archive) Root() string {
	return a.root
}

// Scan は読み取りロック下でアーカイブを走査する
func (a *Archive) Scan() (DirStructure, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.scanLocked()
}

func (a *Archive) scanLocked() (DirStructure, error) {
	d, err := Scan(a.root)
	if err != nil {
		return DirStructure{}, err
	}
	for _, path := range d.Skipped {
		a.logger.Debug().Str("path", path).Msg("命名規則に合わないエントリを無視しました")
	}
	return d, nil
}

// FileClip はエンコード済みのクリップを当日フォルダへ移動する
// folderTS はクリップの撮影ウィンドウ開始時刻で、当日フォルダがなければこれを名前にして作成する
func (a *Archive) FileClip(clipPath string, folderTS int64) (Movie, TodayFolder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, err := a.scanLocked()
	if err != nil {
		return Movie{}, TodayFolder{}, err
	}

	todayPath := ""
	if d.Today != nil {
		todayPath = d.Today.Path
	} else {
		todayPath = filepath.Join(a.root, strconv.FormatInt(folderTS, 10))
		if err := os.MkdirAll(todayPath, 0o755); err != nil {
			return Movie{}, TodayFolder{}, fmt.Errorf("当日フォルダの作成に失敗 (%s): %w", todayPath, err)
		}
		a.logger.Info().Str("path", todayPath).Msg("当日フォルダを作成しました")
	}

	dest := filepath.Join(todayPath, filepath.Base(clipPath))
	if err := fsx.Rename(clipPath, dest); err != nil {
		return Movie{}, TodayFolder{}, fmt.Errorf("クリップの移動に失敗 (%s -> %s): %w", clipPath, dest, err)
	}

	after, err := a.scanLocked()
	if err != nil {
		return Movie{}, TodayFolder{}, err
	}
	if after.Today == nil {
		return Movie{}, TodayFolder{}, fmt.Errorf("移動後に当日フォルダが見つかりません (%s)", todayPath)
	}
	for _, m := range after.Today.Movies {
		if m.Path == dest {
			return m, *after.Today, nil
		}
	}
	return Movie{}, TodayFolder{}, fmt.Errorf("移動したクリップが命名規則に合いません (%s)", dest)
}

// Promote は当日フォルダを削除し、結合済みの動画を {root}/{ts}.mp4 として公開する
func (a *Archive) Promote(today TodayFolder, stitched string) (Movie, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.RemoveAll(today.Path); err != nil {
		return Movie{}, fmt.Errorf("当日フォルダの削除に失敗 (%s): %w", today.Path, err)
	}

	dest := filepath.Join(a.root, MovieFilename(today.Timestamp))
	if err := fsx.Rename(stitched, dest); err != nil {
		return Movie{}, fmt.Errorf("結合済み動画の公開に失敗 (%s -> %s): %w", stitched, dest, err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return Movie{}, fmt.Errorf("公開した動画の確認に失敗 (%s): %w", dest, err)
	}
	return Movie{
		Filename:  filepath.Base(dest),
		Timestamp: today.Timestamp,
		Time:      time.Unix(today.Timestamp, 0),
		Path:      dest,
		Size:      info.Size(),
	}, nil
}

// RemoveEmptyToday はクリップのない当日フォルダを削除する
func (a *Archive) RemoveEmptyToday(today TodayFolder) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	empty, err := fsx.IsEmptyDir(today.Path)
	if err != nil {
		return fmt.Errorf("当日フォルダの確認に失敗 (%s): %w", today.Path, err)
	}
	if !empty {
		// 命名規則に合わないファイルだけが残っている
		a.logger.Warn().Str("path", today.Path).Msg("クリップ以外のファイルを含む当日フォルダを削除します")
	}
	if err := os.RemoveAll(today.Path); err != nil {
		return fmt.Errorf("当日フォルダの削除に失敗 (%s): %w", today.Path, err)
	}
	return nil
}

// Resolve はアーカイブルートからの相対パスを、走査で認識される動画の絶対パスに変換する
// 認識されないパスの場合はfalseを返す
func (a *Archive) Resolve(rel string) (Movie, bool, error) {
	d, err := a.Scan()
	if err != nil {
		return Movie{}, false, err
	}

	rel = strings.TrimPrefix(filepath.ToSlash(rel), "/")
	for _, m := range d.Movies {
		if rel == m.Filename {
			return m, true, nil
		}
	}
	if d.Today != nil {
		folder := d.Today.Name()
		for _, m := range d.Today.Movies {
			if rel == folder+"/"+m.Filename {
				return m, true, nil
			}
		}
	}
	return Movie{}, false, nil
}
