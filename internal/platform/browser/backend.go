//go:build js && wasm

// Package browser は WebAssembly から navigator.mediaDevices を使うカメラバックエンドを提供する
package browser

import (
	"syscall/js"

	"go.uber.org/zap"

	"camerakit/internal/camera"
)

const (
	// BackendName は登録名
	BackendName = "browser"
	// PreviewElementID はプレビューに使う video 要素の id
	PreviewElementID = "camerakit-preview"
)

func init() {
	camera.RegisterBackend(BackendName, func(logger *zap.SugaredLogger) (camera.Backend, error) {
		return camera.Backend{
			Devices:    NewDevices(logger),
			NewSurface: func() camera.Surface { return NewSurface(previewElement()) },
		}, nil
	})
}

// previewElement は id で video 要素を探し、なければ作成して body に追加する
func previewElement() js.Value {
	doc := js.Global().Get("document")
	if el := doc.Call("getElementById", PreviewElementID); !el.IsNull() {
		return el
	}
	el := doc.Call("createElement", "video")
	el.Set("id", PreviewElementID)
	el.Set("autoplay", true)
	doc.Get("body").Call("appendChild", el)
	return el
}
