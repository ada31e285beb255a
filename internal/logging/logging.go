// Package logging はzerologによる構造化ログの初期化を担う
//
// 端末に接続されている場合は人が読みやすいコンソール形式、
// それ以外（systemdやsupervisor配下）ではJSON形式で出力する。
// ログディレクトリが指定された場合はファイルにも追記する。
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// 出力フォーマット
const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
)

// LogFileName はログディレクトリ内のファイル名
const LogFileName = "timelapse.log"

// Config はログ設定
type Config struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // auto, console, json
	Dir    string `yaml:"dir"`    // 空の場合はファイル出力なし
}

// DefaultConfig はデフォルトのログ設定を返す
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: FormatAuto,
		Dir:    "",
	}
}

// Validate はログ設定の妥当性を検証する
func (c Config) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "", FormatAuto, FormatConsole, FormatJSON:
		return nil
	default:
		return fmt.Errorf("無効なログフォーマット: %q", c.Format)
	}
}

// New は設定に従ってロガーを作成する
// 戻り値のio.Closerはログファイルを閉じるために使う
func New(cfg Config, out *os.File) (zerolog.Logger, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}
	level, _ := parseLevel(cfg.Level)

	writers := []io.Writer{consoleOrJSON(cfg.Format, out)}
	var closer io.Closer = nopCloser{}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("ログディレクトリの作成に失敗: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(cfg.Dir, LogFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("ログファイルのオープンに失敗: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	return logger, closer, nil
}

// consoleOrJSON は出力先に応じたwriterを返す
func consoleOrJSON(format string, out *os.File) io.Writer {
	switch format {
	case FormatJSON:
		return out
	case FormatConsole:
		return zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05"}
	}

	if term.IsTerminal(int(out.Fd())) {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05"}
	}
	return out
}

func parseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("無効なログレベル: %q", s)
	}
	return level, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
