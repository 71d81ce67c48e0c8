package main

import (
	"context"
	"log"

	"camerakit/internal/config"
	"camerakit/internal/logging"
	_ "camerakit/internal/platform/native"
	"camerakit/internal/server"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	logger := logging.NewLogger("camerakit")
	defer func() { _ = logger.Sync() }()

	// サーバーを作成
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatalw("サーバーの作成に失敗しました", "error", err)
	}

	// サーバーを起動
	if err := srv.Start(context.Background()); err != nil {
		logger.Fatalw("サーバーの起動に失敗しました", "error", err)
	}
}
