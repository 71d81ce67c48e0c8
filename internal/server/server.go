package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"camerakit/internal/camera"
	"camerakit/internal/config"
	"camerakit/internal/gallery"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	backend    camera.Backend
	camera     *camera.Camera
	gallery    *gallery.Store
	logger     *zap.SugaredLogger
	engine     *gin.Engine
	httpServer *http.Server

	mu        sync.RWMutex
	lastError *camera.MountError
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, logger *zap.SugaredLogger) (*Server, error) {
	backend, err := camera.NewBackend(cfg.Camera.Backend, logger.Named("backend"))
	if err != nil {
		return nil, errors.Wrap(err, "カメラバックエンドの作成に失敗")
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	s := &Server{
		config:  cfg,
		backend: backend,
		camera:  camera.New(backend.Devices, logger.Named("camera")),
		gallery: gallery.NewStore(cfg.Gallery, nil, logger.Named("gallery")),
		logger:  logger,
		engine:  engine,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s, nil
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	s.engine.Use(requestLogger(s.logger), corsMiddleware(), gin.Recovery())

	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)

	cam := api.Group("/camera")
	cam.POST("/open", s.handleOpen)
	cam.PATCH("/config", s.handleUpdateConfig)
	cam.POST("/capture", s.handleCapture)
	cam.POST("/pause", s.handlePause)
	cam.POST("/resume", s.handleResume)
	cam.POST("/close", s.handleClose)
	cam.GET("/picture-sizes", s.handlePictureSizes)
	cam.GET("/preview", s.handlePreview)

	api.GET("/pictures", s.handleListPictures)
	api.GET("/pictures/:name", s.handleGetPicture)
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	if err := s.gallery.Start(ctx); err != nil {
		return errors.Wrap(err, "ギャラリーの開始に失敗")
	}

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Infow("HTTPサーバーを起動しています", "addr", s.config.ServerAddress(), "backend", s.config.Camera.Backend)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- errors.Wrap(err, "サーバーの起動に失敗")
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Infow("シグナルを受信しました", "signal", sig.String())
	case err := <-shutdownCh:
		return multierr.Append(err, s.gallery.Stop(context.Background()))
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はカメラを閉じ、サーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if closeErr := s.camera.Close(); closeErr != nil {
		err = multierr.Append(err, errors.Wrap(closeErr, "カメラの停止に失敗"))
	}
	if stopErr := s.gallery.Stop(ctx); stopErr != nil {
		err = multierr.Append(err, errors.Wrap(stopErr, "ギャラリーの停止に失敗"))
	}
	if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
		err = multierr.Append(err, errors.Wrap(shutdownErr, "サーバーのシャットダウンに失敗"))
	}
	if err != nil {
		return err
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}

// onMountError はマウントエラーを記録する
func (s *Server) onMountError(err *camera.MountError) {
	s.mu.Lock()
	s.lastError = err
	s.mu.Unlock()
	s.logger.Warnw("カメラを開けませんでした", "code", err.Code, "error", err.Message)
}

// onReady は前回のマウントエラーを消す
func (s *Server) onReady() {
	s.mu.Lock()
	s.lastError = nil
	s.mu.Unlock()
}

func (s *Server) mountError() *camera.MountError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// requestLogger はリクエストをzapで記録する
func requestLogger(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugw("リクエスト",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"client", c.ClientIP(),
			"latency", time.Since(start),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
