package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"kitchen-timelapse/internal/camera"
	"kitchen-timelapse/internal/config"
	"kitchen-timelapse/internal/logging"
	"kitchen-timelapse/internal/server"
	"kitchen-timelapse/internal/timelapse"
)

// 停止処理に許す最大時間
const shutdownTimeout = 15 * time.Second

func main() {
	var (
		configPath = flag.String("config", "", "設定ファイル(YAML)のパス")
		dryRun     = flag.Bool("dry-run", false, "有効な設定を表示して終了")
	)
	flag.Parse()

	// .envは任意
	_ = godotenv.Load()

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if *dryRun {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			log.Fatalf("設定の出力に失敗しました: %v", err)
		}
		os.Stdout.Write(out)
		return
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "異常終了: %v\n", err)
		os.Exit(1)
	}
}

// run は撮影ループと閲覧サーバーを起動し、シグナルか致命的エラーまで待つ
func run(cfg *config.Config) error {
	logger, closer, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller := camera.NewController(cfg.Capture, camera.NewExecLauncher(), logger)
	manager := timelapse.NewDefaultManager(controller, cfg.Timelapse, logger)
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("タイムラプスの開始に失敗: %w", err)
	}

	var serverErr chan error
	if cfg.Server.Enabled {
		serverErr = make(chan error, 1)
		srv := server.New(cfg, manager.Archive(), manager, logger)
		go func() {
			serverErr <- srv.Start(ctx)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("シグナルを受信しました")
	case runErr = <-manager.Done():
	case runErr = <-serverErr:
		serverErr = nil
	}

	// サーバーも止める
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("タイムラプスの停止に失敗しました")
	}
	if serverErr != nil {
		select {
		case err := <-serverErr:
			if err != nil {
				logger.Error().Err(err).Msg("サーバーの停止に失敗しました")
			}
		case <-shutdownCtx.Done():
		}
	}

	if timelapse.IsFatal(runErr) {
		return runErr
	}
	logger.Info().Msg("正常に終了しました")
	return nil
}
