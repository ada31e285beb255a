package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Controller はシグナルモードで常駐するキャプチャプロセスを制御する
//
// 撮影画像は単一の一時ファイルに書き出されるため、CaptureOneは
// 内部でシリアライズされる。
type Controller struct {
	config   Config
	launcher Launcher
	logger   zerolog.Logger

	mu     sync.Mutex
	proc   Process
	handle Handle
}

// NewController は新しいControllerを作成する
func NewController(config Config, launcher Launcher, logger zerolog.Logger) *Controller {
	return &Controller{
		config:   config,
		launcher: launcher,
		logger:   logger.With().Str("component", "camera").Logger(),
	}
}

// Start は残存プロセスを終了させてからキャプチャプロセスを起動し、準備完了を待つ
func (c *Controller) Start(ctx context.Context) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc != nil && !exited(c.proc) {
		return Handle{}, fmt.Errorf("キャプチャプロセスは既に起動しています (pid %d)", c.handle.Pid)
	}

	// 前回起動したプロセスが残っていれば終了させる（失敗しても続行）
	name := c.config.processName()
	killed, err := c.launcher.KillByName(ctx, name)
	switch {
	case err != nil:
		c.logger.Warn().Err(err).Str("process", name).Msg("残存プロセスの終了に失敗しました")
	case killed:
		c.logger.Info().Str("process", name).Msg("残存していたキャプチャプロセスを終了しました")
	default:
		c.logger.Info().Str("process", name).Msg("残存しているキャプチャプロセスはありません")
	}

	// 古い撮影画像を残さない
	if err := os.MkdirAll(filepath.Dir(c.config.Slot), 0o755); err != nil {
		return Handle{}, fmt.Errorf("一時ファイル用ディレクトリの作成に失敗: %w", err)
	}
	if err := os.Remove(c.config.Slot); err != nil && !os.IsNotExist(err) {
		return Handle{}, fmt.Errorf("古い一時ファイルの削除に失敗: %w", err)
	}

	proc, err := c.launcher.Launch(c.config.Binary, c.config.Args()...)
	if err != nil {
		return Handle{}, &ProcessError{Name: c.config.Binary, Op: "起動", Err: err}
	}
	c.logger.Info().Int("pid", proc.Pid()).Strs("args", c.config.Args()).Msg("キャプチャプロセスを起動しました")

	if err := c.waitReady(ctx, proc); err != nil {
		c.terminate(proc)
		return Handle{}, err
	}

	c.proc = proc
	c.handle = Handle{Pid: proc.Pid(), StartedAt: time.Now()}
	return c.handle, nil
}

// waitReady はテスト撮影が成功するまで待つ
// WarmUp以内に確認できなければ、プロセスが生きている限り警告を出して続行する
func (c *Controller) waitReady(ctx context.Context, proc Process) error {
	settle := time.NewTimer(c.config.Settle)
	defer settle.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-proc.Done():
		return c.exitedError(proc)
	case <-settle.C:
	}

	deadline := time.Now().Add(c.config.WarmUp - c.config.Settle)
	for {
		data, err := c.triggerAndRead(ctx, proc)
		if err == nil {
			c.logger.Info().Int("bytes", len(data)).Msg("キャプチャプロセスの準備が完了しました")
			return nil
		}
		if !errors.Is(err, ErrCaptureTimeout) {
			return err
		}
		if !time.Now().Before(deadline) {
			c.logger.Warn().Dur("warm_up", c.config.WarmUp).Msg("準備完了を確認できないまま続行します")
			return nil
		}
	}
}

// CaptureOne はトリガーを送り、一時ファイルから撮影画像を取得する
func (c *Controller) CaptureOne(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc == nil {
		return nil, ErrNotStarted
	}
	return c.triggerAndRead(ctx, c.proc)
}

// CaptureOneTo は1枚撮影して指定パスに書き込む
func (c *Controller) CaptureOneTo(ctx context.Context, path string) error {
	data, err := c.CaptureOne(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("撮影画像の書き込みに失敗 (%s): %w", path, err)
	}
	return nil
}

// triggerAndRead はSIGUSR1を送り、一時ファイルを一定間隔で確認する（ロック済み前提）
func (c *Controller) triggerAndRead(ctx context.Context, proc Process) ([]byte, error) {
	if err := proc.Signal(syscall.SIGUSR1); err != nil {
		if exited(proc) || errors.Is(err, os.ErrProcessDone) {
			return nil, c.exitedError(proc)
		}
		return nil, &ProcessError{Name: c.config.Binary, Op: "シグナル送信", Pid: proc.Pid(), Err: err}
	}

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-proc.Done():
			return nil, c.exitedError(proc)
		case <-ticker.C:
		}

		data, err := os.ReadFile(c.config.Slot)
		if err != nil {
			if !os.IsNotExist(err) {
				c.logger.Warn().Err(err).Int("attempt", attempt).Msg("一時ファイルの読み取りに失敗しました")
			}
			continue
		}
		if len(data) == 0 {
			continue
		}

		if err := os.Remove(c.config.Slot); err != nil {
			return nil, fmt.Errorf("一時ファイルの削除に失敗 (%s): %w", c.config.Slot, err)
		}
		return data, nil
	}

	return nil, fmt.Errorf("%w (%d回 x %s)", ErrCaptureTimeout, c.config.MaxAttempts, c.config.PollInterval)
}

// Stop はキャプチャプロセスを停止する
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc == nil {
		return nil
	}

	proc := c.proc
	c.proc = nil
	c.handle = Handle{}

	select {
	case <-ctx.Done():
		_ = proc.Signal(os.Kill)
		return ctx.Err()
	default:
	}

	c.terminate(proc)
	c.logger.Info().Int("pid", proc.Pid()).Msg("キャプチャプロセスを停止しました")
	return nil
}

// Pid は現在のキャプチャプロセスのPIDを返す。未起動なら0
func (c *Controller) Pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle.Pid
}

// terminate はSIGTERMを送り、猶予時間内に終了しなければ強制終了する
func (c *Controller) terminate(proc Process) {
	if exited(proc) {
		return
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return
	}

	grace := time.NewTimer(c.config.StopGrace)
	defer grace.Stop()

	select {
	case <-proc.Done():
	case <-grace.C:
		c.logger.Warn().Int("pid", proc.Pid()).Msg("キャプチャプロセスが終了しないため強制終了します")
		_ = proc.Signal(os.Kill)
		<-proc.Done()
	}
}

func (c *Controller) exitedError(proc Process) error {
	return &ProcessError{
		Name:   c.config.Binary,
		Op:     "実行",
		Pid:    proc.Pid(),
		Stderr: proc.Stderr(),
		Err:    fmt.Errorf("%w: %v", ErrProcessExited, proc.Wait()),
	}
}

func exited(proc Process) bool {
	select {
	case <-proc.Done():
		return true
	default:
		return false
	}
}
