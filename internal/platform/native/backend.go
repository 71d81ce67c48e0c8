//go:build !js

// Package native は pion/mediadevices を使ったカメラバックエンドを提供する
//
// V4L2 (Linux) / AVFoundation (macOS) のドライバからフレームを読み出す。
// ドライバは実行中の制約変更に対応しないため、ズームなどの設定は適用されない。
package native

import (
	"go.uber.org/zap"

	"camerakit/internal/camera"
)

// BackendName は登録名
const BackendName = "native"

func init() {
	camera.RegisterBackend(BackendName, func(logger *zap.SugaredLogger) (camera.Backend, error) {
		return camera.Backend{
			Devices:    NewDevices(logger),
			NewSurface: func() camera.Surface { return NewSurface(logger) },
		}, nil
	})
}
