//go:build js && wasm

// Package main はブラウザ向けのcamerakitです
//
// グローバルの camerakit オブジェクトにカメラ操作を公開する。
// 各メソッドはJSON文字列を受け取り、Promiseを返す。
package main

import (
	"context"
	"encoding/json"
	"syscall/js"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"camerakit/internal/camera"
	"camerakit/internal/logging"
	"camerakit/internal/platform/browser"
)

type bridge struct {
	backend camera.Backend
	camera  *camera.Camera
	logger  *zap.SugaredLogger
	global  js.Value
}

func main() {
	logger := logging.NewLogger("camerakit")

	backend, err := camera.NewBackend(browser.BackendName, logger.Named("backend"))
	if err != nil {
		logger.Fatalw("バックエンドの作成に失敗しました", "error", err)
	}

	b := &bridge{
		backend: backend,
		camera:  camera.New(backend.Devices, logger.Named("camera")),
		logger:  logger,
		global:  js.Global().Get("Object").New(),
	}
	b.register()
	js.Global().Set("camerakit", b.global)

	// JS側から呼ばれ続けるので終了しない
	select {}
}

func (b *bridge) register() {
	b.method("open", func(arg string) (any, error) {
		var cfg camera.Config
		if err := decodeArg(arg, &cfg); err != nil {
			return nil, err
		}
		callbacks := camera.Callbacks{
			OnReady: func() { b.emit("onReady", nil) },
			OnMountError: func(err *camera.MountError) {
				b.emit("onMountError", err)
			},
		}
		if err := b.camera.Open(context.Background(), b.backend.NewSurface(), cfg, callbacks); err != nil {
			return nil, err
		}
		return b.camera.State(), nil
	})
	b.method("updateConfig", func(arg string) (any, error) {
		var patch camera.Patch
		if err := decodeArg(arg, &patch); err != nil {
			return nil, err
		}
		if err := b.camera.UpdateConfig(context.Background(), patch); err != nil {
			return nil, err
		}
		return b.camera.Config(), nil
	})
	b.method("capture", func(arg string) (any, error) {
		var opts struct {
			Quality   float64 `json:"quality"`
			ImageType string  `json:"imageType"`
			Mirror    bool    `json:"mirror"`
			Scale     float64 `json:"scale"`
		}
		if err := decodeArg(arg, &opts); err != nil {
			return nil, err
		}
		return b.camera.Capture(camera.CaptureOptions{
			Quality:   opts.Quality,
			ImageType: opts.ImageType,
			Base64:    true,
			Mirror:    opts.Mirror,
			Scale:     opts.Scale,
		})
	})
	b.method("pause", func(string) (any, error) {
		return nil, b.camera.Pause()
	})
	b.method("resume", func(string) (any, error) {
		return nil, b.camera.Resume()
	})
	b.method("close", func(string) (any, error) {
		return nil, b.camera.Close()
	})
	b.method("pictureSizes", func(ratio string) (any, error) {
		return b.camera.AvailablePictureSizes(ratio)
	})
	b.method("status", func(string) (any, error) {
		status := map[string]any{
			"state":  b.camera.State(),
			"paused": b.camera.Paused(),
			"facing": b.camera.ActualFacing(),
		}
		if info, ok := b.camera.Session(); ok {
			status["session"] = info
		}
		return status, nil
	})
}

// method は fn を Promise を返すJS関数として登録する
func (b *bridge) method(name string, fn func(arg string) (any, error)) {
	b.global.Set(name, js.FuncOf(func(_ js.Value, args []js.Value) any {
		arg := ""
		if len(args) > 0 && args[0].Type() == js.TypeString {
			arg = args[0].String()
		}
		return browser.NewPromise(func() (any, error) {
			v, err := fn(arg)
			if err != nil {
				return nil, err
			}
			return toJS(v)
		})
	}))
}

// emit は camerakit.<name> に登録されたJS関数を呼ぶ
func (b *bridge) emit(name string, v any) {
	handler := b.global.Get(name)
	if handler.Type() != js.TypeFunction {
		return
	}
	arg, err := toJS(v)
	if err != nil {
		b.logger.Warnw("イベントの変換に失敗しました", "event", name, "error", err)
		return
	}
	handler.Invoke(arg)
}

func decodeArg(arg string, v any) error {
	if arg == "" {
		return nil
	}
	return errors.Wrap(json.Unmarshal([]byte(arg), v), "引数の解析に失敗")
}

// toJS はJSONを経由してJSの値に変換する
func toJS(v any) (any, error) {
	if v == nil {
		return js.Undefined(), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "結果の変換に失敗")
	}
	return js.Global().Get("JSON").Call("parse", string(data)), nil
}
