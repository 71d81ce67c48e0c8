package camera

import (
	"github.com/pkg/errors"
)

var (
	// ErrPermissionDenied はユーザーまたはプラットフォームがカメラアクセスを拒否した
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrNoCameraAvailable は利用可能なカメラが存在しない
	ErrNoCameraAvailable = errors.New("no camera available")
	// ErrDeviceBusy はデバイスが使用中、または一時的な取得失敗
	ErrDeviceBusy = errors.New("camera device is busy")
	// ErrNotReady はアクティブなセッションがない状態で撮影・制御を呼んだ
	ErrNotReady = errors.New("camera is not ready")
	// ErrNotMounted は close 後に resume / updateConfig を呼んだ
	ErrNotMounted = errors.New("camera is not mounted")
	// ErrAlreadyMounted は既にオープン済みのカメラに対して Open を呼んだ
	ErrAlreadyMounted = errors.New("camera is already mounted")
	// ErrUnsupported はトラックが指定の制約に対応していない
	// 呼び出し側には伝播させない
	ErrUnsupported = errors.New("constraint not supported by track")
)

// MountErrorCode はマウントエラーの分類
type MountErrorCode string

const (
	CodePermissionDenied  MountErrorCode = "PermissionDenied"
	CodeNoCameraAvailable MountErrorCode = "NoCameraAvailable"
	CodeDeviceBusy        MountErrorCode = "DeviceBusy"
)

// MountError は onMountError コールバックへ渡す構造化エラー
type MountError struct {
	Code    MountErrorCode `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
}

func (e *MountError) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *MountError) Unwrap() error {
	return e.Err
}

// Retriable は同じ操作を再試行して成功する見込みがあるか
func (e *MountError) Retriable() bool {
	return e.Code == CodeDeviceBusy
}

// newMountError はプラットフォームのエラーを分類する
// 分類できないものは一時的な取得失敗として扱う
func newMountError(err error) *MountError {
	code := CodeDeviceBusy
	switch {
	case errors.Is(err, ErrPermissionDenied):
		code = CodePermissionDenied
	case errors.Is(err, ErrNoCameraAvailable):
		code = CodeNoCameraAvailable
	}
	return &MountError{Code: code, Message: err.Error(), Err: err}
}
