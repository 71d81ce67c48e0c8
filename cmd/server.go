// Package main はcamerakitサーバーコマンドの実装です
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"camerakit/internal/camera"
	"camerakit/internal/config"
	"camerakit/internal/logging"
	_ "camerakit/internal/platform/native"
	"camerakit/internal/server"
)

const (
	flagConfig  = "config"
	flagHost    = "host"
	flagPort    = "port"
	flagBackend = "backend"
	flagDebug   = "debug"
)

var app = &cli.App{
	Name:            "camerakit",
	Usage:           "カメラをHTTPで操作するサーバー",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "設定を `FILE` から読み込む",
			EnvVars: []string{config.EnvConfigFile},
		},
		&cli.StringFlag{
			Name:  flagHost,
			Usage: "サーバーのホスト (デフォルト: 0.0.0.0)",
		},
		&cli.IntFlag{
			Name:  flagPort,
			Usage: "サーバーのポート (デフォルト: 8080)",
		},
		&cli.StringFlag{
			Name:  flagBackend,
			Usage: "カメラバックエンド (native / fake)",
		},
		&cli.BoolFlag{
			Name:  flagDebug,
			Usage: "デバッグログを有効にする",
		},
	},
	Action: serveAction,
	Commands: []*cli.Command{
		{
			Name:   "backends",
			Usage:  "利用できるカメラバックエンドを表示する",
			Action: backendsAction,
		},
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("camerakit: %v", err)
	}
}

func serveAction(c *cli.Context) error {
	// 設定を読み込む
	cfg, err := config.LoadFile(c.String(flagConfig))
	if err != nil {
		return err
	}

	// コマンドラインオプションで設定を上書き
	if c.IsSet(flagHost) {
		cfg.Server.Host = c.String(flagHost)
	}
	if c.IsSet(flagPort) {
		cfg.Server.Port = c.Int(flagPort)
	}
	if c.IsSet(flagBackend) {
		cfg.Camera.Backend = c.String(flagBackend)
	}
	if c.Bool(flagDebug) {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.NewLogger("camerakit")
	if cfg.Debug {
		logger = logging.NewDebugLogger("camerakit")
	}
	defer func() { _ = logger.Sync() }()

	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}

	logger.Infow("camerakit サーバーを起動します", "addr", cfg.ServerAddress())
	return srv.Start(context.Background())
}

func backendsAction(c *cli.Context) error {
	for _, name := range camera.Backends() {
		if _, err := fmt.Fprintln(c.App.Writer, name); err != nil {
			return err
		}
	}
	return nil
}
