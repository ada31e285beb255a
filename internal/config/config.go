package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"kitchen-timelapse/internal/camera"
	"kitchen-timelapse/internal/logging"
	"kitchen-timelapse/internal/timelapse"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Capture   camera.Config    `yaml:"capture"`
	Timelapse timelapse.Config `yaml:"timelapse"`
	Log       logging.Config   `yaml:"log"`
}

// ServerConfig はアーカイブ閲覧用HTTPサーバーの設定
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"` // 撮影と同じプロセスで起動するか
	Host    string `yaml:"host"`    // リッスンするホスト
	Port    int    `yaml:"port"`    // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト

	AllowOrigins []string `yaml:"allow_origins"` // CORSで許可するオリジン（空なら全て）
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:      true,
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // 動画配信用にタイムアウト無効化
		},
		Capture:   camera.DefaultConfig(),
		Timelapse: timelapse.DefaultConfig(),
		Log:       logging.DefaultConfig(),
	}
}

// Load は設定を読み込む
//
// デフォルト値にYAMLファイル（pathが空なら省略）を重ね、
// 最後に環境変数で上書きしてから検証する。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// 作業ディレクトリの削除や結合リストが起動時のカレントディレクトリに依存しないようにする
	roots, err := cfg.Timelapse.AbsRoots()
	if err != nil {
		return nil, err
	}
	cfg.Timelapse = roots

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗 (%s): %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)

	c.Timelapse.PicsRoot = getEnvOrDefault("TIMELAPSE_PICS_ROOT", c.Timelapse.PicsRoot)
	c.Timelapse.MoviesRoot = getEnvOrDefault("TIMELAPSE_MOVIES_ROOT", c.Timelapse.MoviesRoot)
	c.Timelapse.EncodingRoot = getEnvOrDefault("TIMELAPSE_ENCODING_ROOT", c.Timelapse.EncodingRoot)
	c.Capture.Slot = getEnvOrDefault("TIMELAPSE_CAPTURE_SLOT", c.Capture.Slot)

	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Dir = getEnvOrDefault("LOG_DIR", c.Log.Dir)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("タイムアウトに負の値は指定できません")
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := c.Timelapse.Validate(); err != nil {
		return fmt.Errorf("timelapse: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
