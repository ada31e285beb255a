package camera

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// testConfig はテスト用の短い待機時間を持つ設定を返す
func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ProcessName = "kitchen-timelapse-no-such-process"
	cfg.Slot = filepath.Join(t.TempDir(), "ram", "image_latest.jpg")
	cfg.Settle = 5 * time.Millisecond
	cfg.WarmUp = 5 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	cfg.MaxAttempts = 4
	cfg.StopGrace = 100 * time.Millisecond
	return cfg
}

// writeOnSignal はSIGUSR1を受けると一時ファイルに画像を書くMockを返す
func writeOnSignal(t *testing.T, slot string, payload []byte) func(p *MockProcess, sig os.Signal) {
	t.Helper()
	return func(p *MockProcess, sig os.Signal) {
		switch sig {
		case syscall.SIGUSR1:
			if err := os.WriteFile(slot, payload, 0o644); err != nil {
				t.Errorf("一時ファイルの書き込みに失敗: %v", err)
			}
		case syscall.SIGTERM:
			p.Exit(nil)
		}
	}
}

func TestController_StartAndCapture(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	launcher := NewMockLauncher()
	launcher.OnSignal = writeOnSignal(t, cfg.Slot, []byte("jpeg-frame"))

	ctrl := NewController(cfg, launcher, zerolog.Nop())

	handle, err := ctrl.Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if handle.Pid == 0 {
		t.Error("PIDが設定されていません")
	}
	if ctrl.Pid() != handle.Pid {
		t.Errorf("Pid mismatch: got %d, want %d", ctrl.Pid(), handle.Pid)
	}

	// 残存プロセスの終了は設定された名前で行われる
	killed := launcher.Killed()
	if len(killed) != 1 || killed[0] != cfg.ProcessName {
		t.Errorf("KillByName の呼び出しが不正: %v", killed)
	}

	data, err := ctrl.CaptureOne(ctx)
	if err != nil {
		t.Fatalf("CaptureOne failed: %v", err)
	}
	if !bytes.Equal(data, []byte("jpeg-frame")) {
		t.Errorf("撮影画像が一致しません: %q", data)
	}
	if _, err := os.Stat(cfg.Slot); !os.IsNotExist(err) {
		t.Errorf("読み取り後に一時ファイルが削除されていません: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "00000.jpg")
	if err := ctrl.CaptureOneTo(ctx, dest); err != nil {
		t.Fatalf("CaptureOneTo failed: %v", err)
	}
	written, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("書き込まれた画像の読み取りに失敗: %v", err)
	}
	if !bytes.Equal(written, []byte("jpeg-frame")) {
		t.Errorf("書き込まれた画像が一致しません: %q", written)
	}

	if err := ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if ctrl.Pid() != 0 {
		t.Error("停止後もPIDが残っています")
	}

	procs := launcher.Launched()
	if len(procs) != 1 {
		t.Fatalf("Expected 1 launched process, got %d", len(procs))
	}
	select {
	case <-procs[0].Done():
	default:
		t.Error("Stop後もプロセスが終了していません")
	}
}

func TestController_CaptureTimeout(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	// シグナルを受けても何も書かないカメラ
	launcher := NewMockLauncher()
	ctrl := NewController(cfg, launcher, zerolog.Nop())

	if _, err := ctrl.Start(ctx); err != nil {
		t.Fatalf("準備完了を確認できなくてもStartは続行するべきです: %v", err)
	}
	defer func() { _ = ctrl.Stop(ctx) }()

	_, err := ctrl.CaptureOne(ctx)
	if !errors.Is(err, ErrCaptureTimeout) {
		t.Fatalf("ErrCaptureTimeout が期待されました: %v", err)
	}
}

func TestController_EmptySlotIsRetried(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	launcher := NewMockLauncher()
	launcher.OnSignal = writeOnSignal(t, cfg.Slot, nil)
	ctrl := NewController(cfg, launcher, zerolog.Nop())

	if _, err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = ctrl.Stop(ctx) }()

	// 空ファイルは撮影失敗として扱われる
	if _, err := ctrl.CaptureOne(ctx); !errors.Is(err, ErrCaptureTimeout) {
		t.Fatalf("ErrCaptureTimeout が期待されました: %v", err)
	}
}

func TestController_ProcessExitIsFatal(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	launcher := NewMockLauncher()
	launcher.OnSignal = writeOnSignal(t, cfg.Slot, []byte("jpeg-frame"))
	ctrl := NewController(cfg, launcher, zerolog.Nop())

	if _, err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	launcher.Launched()[0].Exit(errors.New("exit status 70"))

	_, err := ctrl.CaptureOne(ctx)
	if !errors.Is(err, ErrProcessExited) {
		t.Fatalf("ErrProcessExited が期待されました: %v", err)
	}
	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("ProcessError が期待されました: %T", err)
	}
}

func TestController_CaptureBeforeStart(t *testing.T) {
	ctrl := NewController(testConfig(t), NewMockLauncher(), zerolog.Nop())

	if _, err := ctrl.CaptureOne(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("ErrNotStarted が期待されました: %v", err)
	}
	if err := ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("未起動でのStopはエラーにならないはずです: %v", err)
	}
}

func TestController_LaunchFailure(t *testing.T) {
	launcher := NewMockLauncher()
	launcher.FailLaunch = errors.New("exec: \"raspistill\": executable file not found in $PATH")
	ctrl := NewController(testConfig(t), launcher, zerolog.Nop())

	_, err := ctrl.Start(context.Background())
	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("ProcessError が期待されました: %v", err)
	}
}

// TestController_ExecProcessExitsDuringWarmUp は実プロセスがウォームアップ中に終了した場合をテストする
func TestController_ExecProcessExitsDuringWarmUp(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-raspistill")
	body := "#!/bin/sh\necho 'mmal: Camera is not detected' >&2\nexit 70\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("スクリプトの作成に失敗: %v", err)
	}

	cfg := testConfig(t)
	cfg.Binary = script
	cfg.Settle = 2 * time.Second
	cfg.WarmUp = 2 * time.Second

	ctrl := NewController(cfg, NewExecLauncher(), zerolog.Nop())

	start := time.Now()
	_, err := ctrl.Start(context.Background())
	if err == nil {
		t.Fatal("エラーが期待されましたが、nilでした")
	}
	if !errors.Is(err, ErrProcessExited) {
		t.Fatalf("ErrProcessExited が期待されました: %v", err)
	}
	if !strings.Contains(err.Error(), "Camera is not detected") {
		t.Errorf("エラーにstderrが含まれていません: %v", err)
	}
	if time.Since(start) >= cfg.Settle {
		t.Errorf("プロセス終了を待機時間より前に検知するべきです: %s", time.Since(start))
	}
}

func TestConfig_Args(t *testing.T) {
	cfg := DefaultConfig()
	args := strings.Join(cfg.Args(), " ")

	for _, want := range []string{"-q 7", "-w 1640", "-h 1232", "-s", "-n", "-ex sports", "-a 8", "-a %d-%m-%Y %X", "-o /mnt/ram/image_latest.jpg"} {
		if !strings.Contains(args, want) {
			t.Errorf("引数に %q が含まれていません: %s", want, args)
		}
	}

	cfg.AnnotateFlags = 0
	if strings.Contains(strings.Join(cfg.Args(), " "), "-a") {
		t.Error("注記なしの設定で -a が含まれています")
	}
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{"デフォルト設定", func(c *Config) {}, false},
		{"実行ファイルなし", func(c *Config) { c.Binary = "" }, true},
		{"一時ファイルなし", func(c *Config) { c.Slot = "" }, true},
		{"無効な幅", func(c *Config) { c.Width = 0 }, true},
		{"無効な品質", func(c *Config) { c.Quality = 101 }, true},
		{"確認回数0", func(c *Config) { c.MaxAttempts = 0 }, true},
		{"ウォームアップが待機より短い", func(c *Config) { c.WarmUp = time.Second; c.Settle = 2 * time.Second }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}
