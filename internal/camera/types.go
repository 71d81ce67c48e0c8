package camera

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Facing はカメラの向きを表す
type Facing string

const (
	FacingUnspecified Facing = ""      // 指定なし
	FacingFront       Facing = "front" // インカメラ
	FacingBack        Facing = "back"  // アウトカメラ
)

// State はセッションマネージャーの状態を表す
type State string

const (
	StateUnmounted     State = "unmounted"     // 未接続
	StateOpening       State = "opening"       // ストリーム取得中
	StateReady         State = "ready"         // プレビュー中
	StateReconfiguring State = "reconfiguring" // 再構成中
	StateClosing       State = "closing"       // 停止処理中
	StateError         State = "error"         // 接続失敗
)

// FlashMode はフラッシュ設定
type FlashMode string

const (
	FlashOff   FlashMode = "off"
	FlashOn    FlashMode = "on"
	FlashAuto  FlashMode = "auto"
	FlashTorch FlashMode = "torch"
)

// AutoFocus はオートフォーカス設定
type AutoFocus string

const (
	AutoFocusOn  AutoFocus = "on"
	AutoFocusOff AutoFocus = "off"
)

// WhiteBalance はホワイトバランス設定
type WhiteBalance string

const (
	WhiteBalanceAuto         WhiteBalance = "auto"
	WhiteBalanceSunny        WhiteBalance = "sunny"
	WhiteBalanceCloudy       WhiteBalance = "cloudy"
	WhiteBalanceShadow       WhiteBalance = "shadow"
	WhiteBalanceFluorescent  WhiteBalance = "fluorescent"
	WhiteBalanceIncandescent WhiteBalance = "incandescent"
)

// Resolution は解像度を表す
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// String は "WxH" 形式の文字列を返す
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// IsZero は解像度が未指定かどうか
func (r Resolution) IsZero() bool {
	return r.Width <= 0 || r.Height <= 0
}

// ParsePictureSize は "1280x720" 形式の文字列を解像度に変換する
// 解釈できない値はゼロ値を返す
func ParsePictureSize(s string) Resolution {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(s)), "x", 2)
	if len(parts) != 2 {
		return Resolution{}
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil || w <= 0 {
		return Resolution{}
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil || h <= 0 {
		return Resolution{}
	}
	return Resolution{Width: w, Height: h}
}

// Config は呼び出し側が指定するカメラ設定
// 未知の値もそのまま受け付け、単に効果を持たない
type Config struct {
	Facing       Facing       `json:"facing,omitempty"`
	Zoom         float64      `json:"zoom"`
	PictureSize  string       `json:"pictureSize,omitempty"`
	FlashMode    FlashMode    `json:"flashMode,omitempty"`
	AutoFocus    AutoFocus    `json:"autoFocus,omitempty"`
	WhiteBalance WhiteBalance `json:"whiteBalance,omitempty"`
}

// Patch は Config の部分更新
type Patch struct {
	Facing       *Facing       `json:"facing,omitempty"`
	Zoom         *float64      `json:"zoom,omitempty"`
	PictureSize  *string       `json:"pictureSize,omitempty"`
	FlashMode    *FlashMode    `json:"flashMode,omitempty"`
	AutoFocus    *AutoFocus    `json:"autoFocus,omitempty"`
	WhiteBalance *WhiteBalance `json:"whiteBalance,omitempty"`
}

// Merge は Patch を適用した新しい Config を返す
func (c Config) Merge(p Patch) Config {
	if p.Facing != nil {
		c.Facing = *p.Facing
	}
	if p.Zoom != nil {
		c.Zoom = *p.Zoom
	}
	if p.PictureSize != nil {
		c.PictureSize = *p.PictureSize
	}
	if p.FlashMode != nil {
		c.FlashMode = *p.FlashMode
	}
	if p.AutoFocus != nil {
		c.AutoFocus = *p.AutoFocus
	}
	if p.WhiteBalance != nil {
		c.WhiteBalance = *p.WhiteBalance
	}
	return c
}

// pendingSettings は実行中トラックに適用するランタイム設定
func (c Config) pendingSettings() PendingSettings {
	zoom := c.Zoom
	if zoom < 0 {
		zoom = 0
	}
	if zoom > 1 {
		zoom = 1
	}
	return PendingSettings{
		Zoom:         zoom,
		FlashMode:    c.FlashMode,
		WhiteBalance: c.WhiteBalance,
		AutoFocus:    c.AutoFocus,
	}
}

// StreamConstraints は1回のオープン試行で要求するストリーム条件
type StreamConstraints struct {
	DeviceID  string
	Facing    Facing
	Width     int
	Height    int
	FrameRate float64
}

// PendingSettings は最新の希望設定
type PendingSettings struct {
	Zoom         float64
	FlashMode    FlashMode
	WhiteBalance WhiteBalance
	AutoFocus    AutoFocus
}

// Range は数値ケーパビリティの範囲
// Supported が false の場合は未対応
type Range struct {
	Supported bool
	Min       float64
	Max       float64
	Step      float64
}

// TrackCapabilities はアクティブトラックから取得したケーパビリティ
type TrackCapabilities struct {
	Zoom              Range
	Torch             bool
	WhiteBalanceModes []string
	ColorTemperature  Range
	FocusModes        []string
	Width             Range
	Height            Range
	// Resizable は実行中のトラックに解像度変更を適用できるか
	Resizable bool
}

// HasWhiteBalanceMode はホワイトバランスモードに対応しているか
func (c TrackCapabilities) HasWhiteBalanceMode(mode string) bool {
	return lo.Contains(c.WhiteBalanceModes, mode)
}

// HasFocusMode はフォーカスモードに対応しているか
func (c TrackCapabilities) HasFocusMode(mode string) bool {
	return lo.Contains(c.FocusModes, mode)
}

// TrackSettings はトラックの現在値
type TrackSettings struct {
	Width  int
	Height int
	Facing Facing
}

// TrackConstraints は実行中トラックへ適用する制約
// ゼロ値/nil のフィールドは変更しない
type TrackConstraints struct {
	Width            int
	Height           int
	Zoom             *float64
	Torch            *bool
	WhiteBalanceMode string
	ColorTemperature *float64
	FocusMode        string
}

// CaptureOptions は静止画撮影のオプション
type CaptureOptions struct {
	// Quality はJPEG品質 (0..1)、0の場合はデフォルト
	Quality float64
	// ImageType は "jpg" または "png"
	ImageType string
	Base64    bool
	// Mirror が true の場合は左右反転した画像を返す
	Mirror bool
	// Scale は縮小率 (0..1]、0の場合は等倍
	Scale float64
	// OnPictureSaved は保存先へ渡すコールバック。呼び出し元をブロックしない
	OnPictureSaved func(*CapturedImage)
}

// CapturedImage は撮影結果。所有権は呼び出し側に移る
type CapturedImage struct {
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Format string      `json:"format"`
	Base64 string      `json:"base64,omitempty"`
	URI    string      `json:"uri,omitempty"`
	Data   []byte      `json:"-"`
	Image  *image.RGBA `json:"-"`
}

// Callbacks はUI層への通知
type Callbacks struct {
	OnReady      func()
	OnMountError func(*MountError)
}
