//go:build js && wasm

package browser

import (
	"context"
	"syscall/js"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"camerakit/internal/camera"
)

// Devices は navigator.mediaDevices を使う MediaDevices 実装
type Devices struct {
	logger *zap.SugaredLogger
}

// NewDevices は新しいDevicesを作成する
func NewDevices(logger *zap.SugaredLogger) *Devices {
	return &Devices{logger: logger}
}

func mediaDevices() (js.Value, error) {
	md := js.Global().Get("navigator").Get("mediaDevices")
	if md.IsUndefined() {
		return js.Undefined(), errors.Wrap(camera.ErrNoCameraAvailable, "navigator.mediaDevices is not available")
	}
	return md, nil
}

// EnumerateDevices はブラウザが公開するデバイス一覧を返す
// 権限を得る前はラベルが空になる
func (d *Devices) EnumerateDevices(_ context.Context) ([]camera.DeviceInfo, error) {
	md, err := mediaDevices()
	if err != nil {
		return nil, err
	}
	list, err := await(md.Call("enumerateDevices"))
	if err != nil {
		return nil, err
	}

	devices := make([]camera.DeviceInfo, 0, list.Length())
	for i := 0; i < list.Length(); i++ {
		v := list.Index(i)
		info := camera.DeviceInfo{
			ID:    v.Get("deviceId").String(),
			Label: v.Get("label").String(),
			Kind:  camera.DeviceKind(v.Get("kind").String()),
		}
		if getCaps := v.Get("getCapabilities"); getCaps.Type() == js.TypeFunction {
			info.Facing = facingFromMode(firstString(v.Call("getCapabilities").Get("facingMode")))
		}
		devices = append(devices, info)
	}
	return devices, nil
}

// GetUserMedia は getUserMedia でストリームを取得する
func (d *Devices) GetUserMedia(_ context.Context, c camera.StreamConstraints) (camera.Stream, error) {
	md, err := mediaDevices()
	if err != nil {
		return nil, err
	}

	video := map[string]any{}
	if c.DeviceID != "" {
		video["deviceId"] = map[string]any{"exact": c.DeviceID}
	} else if c.Facing != camera.FacingUnspecified {
		video["facingMode"] = map[string]any{"ideal": facingMode(c.Facing)}
	}
	if c.Width > 0 && c.Height > 0 {
		video["width"] = map[string]any{"ideal": c.Width}
		video["height"] = map[string]any{"ideal": c.Height}
	}
	if c.FrameRate > 0 {
		video["frameRate"] = map[string]any{"ideal": c.FrameRate}
	}

	v, err := await(md.Call("getUserMedia", js.ValueOf(map[string]any{
		"audio": false,
		"video": video,
	})))
	if err != nil {
		return nil, err
	}
	d.logger.Debugw("ブラウザのストリームを開きました", "device", c.DeviceID)
	return &Stream{v: v}, nil
}

// Stream は MediaStream のラッパー
type Stream struct {
	v js.Value
}

// ID はストリームIDを返す
func (s *Stream) ID() string { return s.v.Get("id").String() }

// VideoTracks は映像トラックを返す
func (s *Stream) VideoTracks() []camera.Track {
	arr := s.v.Call("getVideoTracks")
	tracks := make([]camera.Track, 0, arr.Length())
	for i := 0; i < arr.Length(); i++ {
		tracks = append(tracks, &Track{v: arr.Index(i)})
	}
	return tracks
}

// Track は MediaStreamTrack のラッパー
type Track struct {
	v js.Value
}

// ID はトラックIDを返す
func (t *Track) ID() string { return t.v.Get("id").String() }

// Capabilities は getCapabilities の結果を返す。未実装のブラウザでは空
func (t *Track) Capabilities() camera.TrackCapabilities {
	if t.v.Get("getCapabilities").Type() != js.TypeFunction {
		return camera.TrackCapabilities{}
	}
	c := t.v.Call("getCapabilities")
	return camera.TrackCapabilities{
		Zoom:              numberRange(c.Get("zoom")),
		Torch:             c.Get("torch").Truthy(),
		WhiteBalanceModes: stringList(c.Get("whiteBalanceMode")),
		ColorTemperature:  numberRange(c.Get("colorTemperature")),
		FocusModes:        stringList(c.Get("focusMode")),
		Width:             numberRange(c.Get("width")),
		Height:            numberRange(c.Get("height")),
		Resizable:         true,
	}
}

// Settings は getSettings の結果を返す
func (t *Track) Settings() camera.TrackSettings {
	s := t.v.Call("getSettings")
	return camera.TrackSettings{
		Width:  intOr(s.Get("width")),
		Height: intOr(s.Get("height")),
		Facing: facingFromMode(stringOr(s.Get("facingMode"))),
	}
}

// ApplyConstraints は applyConstraints を呼ぶ
// 拡張プロパティは advanced に入れ、解像度は通常の制約として渡す
func (t *Track) ApplyConstraints(_ context.Context, c camera.TrackConstraints) error {
	advanced := map[string]any{}
	if c.Zoom != nil {
		advanced["zoom"] = *c.Zoom
	}
	if c.Torch != nil {
		advanced["torch"] = *c.Torch
	}
	if c.WhiteBalanceMode != "" {
		advanced["whiteBalanceMode"] = c.WhiteBalanceMode
	}
	if c.ColorTemperature != nil {
		advanced["colorTemperature"] = *c.ColorTemperature
	}
	if c.FocusMode != "" {
		advanced["focusMode"] = c.FocusMode
	}

	constraints := map[string]any{}
	if len(advanced) > 0 {
		constraints["advanced"] = []any{advanced}
	}
	if c.Width > 0 {
		constraints["width"] = map[string]any{"ideal": c.Width}
	}
	if c.Height > 0 {
		constraints["height"] = map[string]any{"ideal": c.Height}
	}
	if len(constraints) == 0 {
		return nil
	}

	_, err := await(t.v.Call("applyConstraints", js.ValueOf(constraints)))
	return err
}

// Stop はトラックを停止する
func (t *Track) Stop() error {
	t.v.Call("stop")
	return nil
}

func facingMode(f camera.Facing) string {
	if f == camera.FacingFront {
		return "user"
	}
	return "environment"
}

func facingFromMode(mode string) camera.Facing {
	switch mode {
	case "user":
		return camera.FacingFront
	case "environment":
		return camera.FacingBack
	default:
		return camera.FacingUnspecified
	}
}

func numberRange(v js.Value) camera.Range {
	if v.Type() != js.TypeObject {
		return camera.Range{}
	}
	return camera.Range{
		Supported: true,
		Min:       floatOr(v.Get("min")),
		Max:       floatOr(v.Get("max")),
		Step:      floatOr(v.Get("step")),
	}
}

func stringList(v js.Value) []string {
	if v.Type() != js.TypeObject {
		return nil
	}
	return lo.Times(v.Length(), func(i int) string {
		return v.Index(i).String()
	})
}

func firstString(v js.Value) string {
	if list := stringList(v); len(list) > 0 {
		return list[0]
	}
	return ""
}

func stringOr(v js.Value) string {
	if v.Type() != js.TypeString {
		return ""
	}
	return v.String()
}

func floatOr(v js.Value) float64 {
	if v.Type() != js.TypeNumber {
		return 0
	}
	return v.Float()
}

func intOr(v js.Value) int {
	if v.Type() != js.TypeNumber {
		return 0
	}
	return v.Int()
}
