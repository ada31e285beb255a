package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"kitchen-timelapse/internal/config"
	"kitchen-timelapse/internal/timelapse"
)

// StatusProvider は撮影状態を返す
//
// 撮影と別プロセスで閲覧サーバーだけを起動する場合はnilになる。
type StatusProvider interface {
	GetTimelapseStatus() (timelapse.StatusInfo, error)
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	archive    *timelapse.Archive
	status     StatusProvider
	logger     zerolog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, archive *timelapse.Archive, status StatusProvider, logger zerolog.Logger) *Server {
	s := &Server{
		config:  cfg,
		archive: archive,
		status:  status,
		logger:  logger.With().Str("component", "server").Logger(),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(s.logger))
	engine.Use(CORS(cfg.Server.AllowOrigins))
	s.setupRoutes(engine)
	s.engine = engine

	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes(r *gin.Engine) {
	// ヘルスチェックエンドポイント
	r.GET("/health", s.handleHealth)

	// APIエンドポイント
	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/movies", s.handleMovies)
	}

	// 動画ファイルの配信（プレイヤーはHEADで長さを確認する）
	r.GET("/stream/*path", s.handleStream)
	r.HEAD("/stream/*path", s.handleStream)
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start はサーバーを起動し、ctxが終了するとシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("コンテキストがキャンセルされました")
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("サーバーをシャットダウンしています...")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}
