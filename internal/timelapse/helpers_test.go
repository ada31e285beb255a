package timelapse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"kitchen-timelapse/internal/fsx"
)

// fakeClock は撮影ごとに進めるテスト用の時計
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeCapturer は1枚撮影するたびに時計をstepだけ進める
type fakeCapturer struct {
	clock *fakeClock
	step  time.Duration

	mu     sync.Mutex
	count  int
	failAt int // この回数目の撮影で失敗する（0以下なら失敗しない）
	err    error
}

func (f *fakeCapturer) CaptureOneTo(_ context.Context, path string) error {
	f.mu.Lock()
	f.count++
	count := f.count
	f.mu.Unlock()

	if f.failAt > 0 && count >= f.failAt {
		return f.err
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("frame-%d", count)), 0o644); err != nil {
		return err
	}
	f.clock.Advance(f.step)
	return nil
}

func (f *fakeCapturer) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// writeFakeFFmpeg は引数に応じて出力ファイルを作るffmpegの代わりのスクリプトを作成する
//
// エンコード時は入力ディレクトリのファイル一覧を、結合時は結合リストの内容を出力に書く。
func writeFakeFFmpeg(t *testing.T, failEncode, failConcat bool) string {
	t.Helper()

	script := `#!/bin/sh
if [ "$1" = "-version" ]; then
  echo "ffmpeg version test"
  exit 0
fi
in=""
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  prev="$a"
  out="$a"
done
if [ "$1" = "-f" ]; then
  if [ "` + fmt.Sprint(failConcat) + `" = "true" ]; then
    echo "concat: Invalid data found when processing input" >&2
    exit 1
  fi
  cat "$in" > "$out"
else
  if [ "` + fmt.Sprint(failEncode) + `" = "true" ]; then
    echo "encode: No such file or directory" >&2
    exit 1
  fi
  ls "$(dirname "$in")" > "$out"
fi
`
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("ffmpegスクリプトの作成に失敗: %v", err)
	}
	return path
}

// testTimelapseConfig はt.TempDir配下を使う設定を返す
func testTimelapseConfig(t *testing.T, ffmpeg string) Config {
	t.Helper()
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.PicsRoot = filepath.Join(root, "pics")
	cfg.MoviesRoot = filepath.Join(root, "movies")
	cfg.EncodingRoot = filepath.Join(root, "encoding")
	cfg.Encoder.Binary = ffmpeg
	return cfg
}

// writeMovie はアーカイブにダミーの動画ファイルを作る
func writeMovie(t *testing.T, dir string, ts int64) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, MovieFilename(ts))
	if err := os.WriteFile(path, []byte("mp4"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// recordingObserver はイベントを記録し、バッファの不変条件を検査する
type recordingObserver struct {
	t       *testing.T
	buffers *BufferSet

	mu         sync.Mutex
	windows    []Window
	clips      []Movie
	todayCount []int
	clipData   []string
	stitches   []StitchResult
	stitchErrs []error
	violations []string

	onStitch func(count int)
}

func (o *recordingObserver) checkBuffers(event string) {
	states := o.buffers.States()
	if states[BufferA] == BufferFilling && states[BufferB] == BufferFilling {
		o.violations = append(o.violations, event+": 両方のバッファが撮影中")
	}
}

func (o *recordingObserver) OnWindowStart(window Window) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.windows = append(o.windows, window)
	o.checkBuffers("OnWindowStart")
	if s := o.buffers.State(window.Buffer); s != BufferFilling {
		o.violations = append(o.violations, fmt.Sprintf("OnWindowStart: バッファ%sが%s", window.Buffer, s))
	}
	empty, err := fsx.IsEmptyDir(o.buffers.Path(window.Buffer))
	if err != nil || !empty {
		o.violations = append(o.violations, fmt.Sprintf("OnWindowStart: バッファ%sが空ではない (%v)", window.Buffer, err))
	}
}

func (o *recordingObserver) OnCaptureDone(CaptureDone) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checkBuffers("OnCaptureDone")
}

func (o *recordingObserver) OnEncodeStart(window Window) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.checkBuffers("OnEncodeStart")
	if s := o.buffers.State(window.Buffer); s != BufferEncoding {
		o.violations = append(o.violations, fmt.Sprintf("OnEncodeStart: バッファ%sが%s", window.Buffer, s))
	}
	// エンコード中も撮影は止まらない
	if s := o.buffers.State(window.Buffer.Other()); s != BufferFilling {
		o.violations = append(o.violations, fmt.Sprintf("OnEncodeStart: もう一方のバッファ%sが%s", window.Buffer.Other(), s))
	}
}

func (o *recordingObserver) OnClipFiled(clip Movie, today TodayFolder) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.checkBuffers("OnClipFiled")
	o.clips = append(o.clips, clip)
	o.todayCount = append(o.todayCount, len(today.Movies))
	data, err := os.ReadFile(clip.Path)
	if err != nil {
		o.violations = append(o.violations, fmt.Sprintf("OnClipFiled: クリップを読めない: %v", err))
	}
	o.clipData = append(o.clipData, string(data))
}

func (o *recordingObserver) OnStitch(result StitchResult, err error) {
	o.mu.Lock()
	o.stitches = append(o.stitches, result)
	o.stitchErrs = append(o.stitchErrs, err)
	count := len(o.stitches)
	cb := o.onStitch
	o.mu.Unlock()

	if cb != nil {
		cb(count)
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains: it changes
// the working directory, sets PWD, and restores both when the test ends.
func chdir(t *testing.T, dir string) {
	t.Helper()
	oldwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("PWD", abs)
	t.Cleanup(func() {
		if err := os.Chdir(oldwd); err != nil {
			panic("testing: chdir back to " + oldwd + ": " + err.Error())
		}
	})
}
