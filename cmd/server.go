// Package main はアーカイブの確認と閲覧サーバーのコマンドの実装です
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"kitchen-timelapse/internal/config"
	"kitchen-timelapse/internal/logging"
	"kitchen-timelapse/internal/server"
	"kitchen-timelapse/internal/timelapse"
)

func main() {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", "", "設定ファイル(YAML)のパス")
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8000)")
		showTree   = flag.Bool("tree", false, "アーカイブをツリー表示して終了")
		showJSON   = flag.Bool("json", false, "アーカイブの走査結果をJSONで表示して終了")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("kitchen-timelapse アーカイブ閲覧")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	_ = godotenv.Load()

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger, closer, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗しました: %v", err)
	}
	defer closer.Close()

	archive := timelapse.NewArchive(cfg.Timelapse.MoviesRoot, logger)

	if *showTree || *showJSON {
		d, err := archive.Scan()
		if err != nil {
			log.Fatalf("アーカイブの走査に失敗しました: %v", err)
		}
		if *showTree {
			fmt.Print(archiveTree(archive.Root(), d))
			return
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			log.Fatalf("JSONの出力に失敗しました: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 撮影は別プロセスのため状態は提供しない
	srv := server.New(cfg, archive, nil, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("サーバーの起動に失敗しました")
		os.Exit(1)
	}
}
