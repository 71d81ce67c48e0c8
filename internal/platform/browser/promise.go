//go:build js && wasm

package browser

import (
	"syscall/js"

	"github.com/pkg/errors"

	"camerakit/internal/camera"
)

// await は Promise の完了を待つ
// ブラウザの getUserMedia は中断できないため、キャンセルされても完了まで待つ
func await(p js.Value) (js.Value, error) {
	done := make(chan struct{})
	var (
		result js.Value
		err    error
	)
	onResolve := js.FuncOf(func(_ js.Value, args []js.Value) any {
		if len(args) > 0 {
			result = args[0]
		}
		close(done)
		return nil
	})
	onReject := js.FuncOf(func(_ js.Value, args []js.Value) any {
		if len(args) > 0 {
			err = domError(args[0])
		} else {
			err = errors.New("promise rejected")
		}
		close(done)
		return nil
	})
	defer onResolve.Release()
	defer onReject.Release()

	p.Call("then", onResolve, onReject)
	<-done
	return result, err
}

// domError は DOMException を camera のエラーへ分類する
func domError(v js.Value) error {
	if v.IsUndefined() || v.IsNull() {
		return errors.New("unknown error")
	}
	name := v.Get("name").String()
	msg := v.Get("message").String()
	switch name {
	case "NotAllowedError", "SecurityError", "PermissionDeniedError":
		return errors.Wrap(camera.ErrPermissionDenied, msg)
	case "NotFoundError", "DevicesNotFoundError":
		return errors.Wrap(camera.ErrNoCameraAvailable, msg)
	case "NotReadableError", "TrackStartError", "AbortError":
		return errors.Wrap(camera.ErrDeviceBusy, msg)
	case "OverconstrainedError":
		return errors.Wrap(camera.ErrUnsupported, msg)
	default:
		return errors.Errorf("%s: %s", name, msg)
	}
}

// NewPromise は fn をゴルーチンで実行して結果を Promise として返す
// js.Func のコールバック内ではブロックできないため、Go 側の呼び出しはこれを経由する
func NewPromise(fn func() (any, error)) js.Value {
	var executor js.Func
	executor = js.FuncOf(func(_ js.Value, args []js.Value) any {
		resolve, reject := args[0], args[1]
		go func() {
			defer executor.Release()
			v, err := fn()
			if err != nil {
				reject.Invoke(js.Global().Get("Error").New(err.Error()))
				return
			}
			resolve.Invoke(v)
		}()
		return nil
	})
	return js.Global().Get("Promise").New(executor)
}
