// Package logging はアプリケーション全体で使うzapロガーを提供する
package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewLoggerConfig はデフォルトのロガー設定を返す
// スタックトレースは出さず、レベルは色付きで表示する
func NewLoggerConfig() zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// NewLogger はInfo以上を標準出力に出すロガーを返す
func NewLogger(name string) *zap.SugaredLogger {
	return newLogger(name, zap.InfoLevel)
}

// NewDebugLogger はDebug以上を標準出力に出すロガーを返す
func NewDebugLogger(name string) *zap.SugaredLogger {
	return newLogger(name, zap.DebugLevel)
}

func newLogger(name string, level zapcore.Level) *zap.SugaredLogger {
	cfg := NewLoggerConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		// 出力先が開けない環境でもアプリケーションは止めない
		return zap.NewNop().Sugar().Named(name)
	}
	return logger.Sugar().Named(name)
}

// NewTestLogger はテスト用のロガーを返す
func NewTestLogger(tb testing.TB) *zap.SugaredLogger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger はテスト出力に加えて、ログを検査できるobserverも返す
func NewObservedTestLogger(tb testing.TB) (*zap.SugaredLogger, *observer.ObservedLogs) {
	tb.Helper()
	observerCore, observedLogs := observer.New(zap.DebugLevel)

	encoderCfg := NewLoggerConfig().EncoderConfig
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	testCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(testWriter{tb}),
		zap.DebugLevel,
	)

	logger := zap.New(zapcore.NewTee(testCore, observerCore), zap.AddCaller())
	return logger.Sugar().Named(tb.Name()), observedLogs
}

// testWriter はログを testing.TB に流す
type testWriter struct {
	tb testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.tb.Log(string(p))
	return len(p), nil
}
