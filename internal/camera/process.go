package camera

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
)

// stderrの保持上限
const maxStderrBytes = 16 * 1024

// Process は起動済みの外部プロセスを表す
type Process interface {
	Pid() int
	Signal(sig os.Signal) error
	// Done はプロセス終了時にcloseされる
	Done() <-chan struct{}
	// Wait は終了を待ち、終了時のエラーを返す
	Wait() error
	Stderr() string
}

// Launcher は外部プロセスの起動と名前による終了を担う
type Launcher interface {
	// KillByName は同名のプロセスを終了させる。対象がなければfalseを返す
	KillByName(ctx context.Context, name string) (bool, error)
	Launch(name string, args ...string) (Process, error)
}

// ExecLauncher はos/execによるLauncher実装
type ExecLauncher struct{}

// NewExecLauncher は新しいExecLauncherを作成する
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

// KillByName はkillallで同名のプロセスを終了させる
func (l *ExecLauncher) KillByName(ctx context.Context, name string) (bool, error) {
	cmd := exec.CommandContext(ctx, "killall", name)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// 該当プロセスなし
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Launch はプロセスを起動し、終了を監視するゴルーチンを開始する
func (l *ExecLauncher) Launch(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	done   chan struct{}
	err    error
	stderr tailBuffer
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *execProcess) Stderr() string { return p.stderr.String() }

// tailBuffer は末尾maxStderrBytesだけを保持するスレッドセーフなバッファ
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - maxStderrBytes; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// MockLauncher はテスト用のLauncher実装
type MockLauncher struct {
	mu       sync.Mutex
	launched []*MockProcess
	killed   []string

	// OnSignal は起動したプロセスにシグナルが届いたときに呼ばれる
	OnSignal func(p *MockProcess, sig os.Signal)
	// FailLaunch がnilでなければLaunchはこのエラーを返す
	FailLaunch error
}

// NewMockLauncher は新しいMockLauncherを作成する
func NewMockLauncher() *MockLauncher {
	return &MockLauncher{}
}

// KillByName は呼び出しを記録する
func (m *MockLauncher) KillByName(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killed = append(m.killed, name)
	return false, nil
}

// Launch はMockProcessを作成する
func (m *MockLauncher) Launch(name string, args ...string) (Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailLaunch != nil {
		return nil, m.FailLaunch
	}

	p := &MockProcess{
		Name:     name,
		Args:     args,
		pid:      1000 + len(m.launched),
		done:     make(chan struct{}),
		onSignal: m.OnSignal,
	}
	m.launched = append(m.launched, p)
	return p, nil
}

// Launched は起動されたプロセス一覧を返す
func (m *MockLauncher) Launched() []*MockProcess {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockProcess(nil), m.launched...)
}

// Killed はKillByNameに渡された名前一覧を返す
func (m *MockLauncher) Killed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.killed...)
}

// MockProcess はテスト用のProcess実装
type MockProcess struct {
	Name string
	Args []string

	mu       sync.Mutex
	pid      int
	done     chan struct{}
	exitErr  error
	exited   bool
	signals  []os.Signal
	onSignal func(p *MockProcess, sig os.Signal)
}

// Pid はプロセスIDを返す
func (p *MockProcess) Pid() int { return p.pid }

// Signal はシグナルを記録する。終了済みならos.ErrProcessDoneを返す
func (p *MockProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return os.ErrProcessDone
	}
	p.signals = append(p.signals, sig)
	cb := p.onSignal
	p.mu.Unlock()

	if sig == os.Kill {
		p.Exit(errors.New("signal: killed"))
		return nil
	}
	if cb != nil {
		cb(p, sig)
	}
	return nil
}

// Done は終了チャンネルを返す
func (p *MockProcess) Done() <-chan struct{} { return p.done }

// Wait は終了を待つ
func (p *MockProcess) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Stderr は空文字を返す
func (p *MockProcess) Stderr() string { return "" }

// Exit はプロセスの終了を模擬する
func (p *MockProcess) Exit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.exited = true
	p.exitErr = err
	close(p.done)
}

// Signals は受け取ったシグナル一覧を返す
func (p *MockProcess) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}
