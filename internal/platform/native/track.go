//go:build !js

package native

import (
	"context"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/samber/lo"

	"camerakit/internal/camera"
)

// Track は mediadevices.VideoTrack のラッパー
// ドライバは実行中の制約変更を持たないため ApplyConstraints は常に ErrUnsupported
type Track struct {
	mu      sync.Mutex
	vt      *mediadevices.VideoTrack
	facing  camera.Facing
	caps    camera.TrackCapabilities
	width   int
	height  int
	stopped bool
}

func newTrack(vt *mediadevices.VideoTrack, c camera.StreamConstraints, label string, props []prop.Media) *Track {
	width, height := c.Width, c.Height
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	facing := c.Facing
	if facing == camera.FacingUnspecified {
		facing = camera.FacingFromLabel(label)
	}
	return &Track{
		vt:     vt,
		facing: facing,
		caps:   capabilitiesFromProps(props),
		width:  width,
		height: height,
	}
}

// capabilitiesFromProps はドライバのプロパティから解像度の範囲を求める
func capabilitiesFromProps(props []prop.Media) camera.TrackCapabilities {
	sizes := resolutionsFromProps(props)
	if len(sizes) == 0 {
		return camera.TrackCapabilities{}
	}
	widths := lo.Map(sizes, func(r camera.Resolution, _ int) int { return r.Width })
	heights := lo.Map(sizes, func(r camera.Resolution, _ int) int { return r.Height })
	return camera.TrackCapabilities{
		Width:  camera.Range{Supported: true, Min: float64(lo.Min(widths)), Max: float64(lo.Max(widths)), Step: 1},
		Height: camera.Range{Supported: true, Min: float64(lo.Min(heights)), Max: float64(lo.Max(heights)), Step: 1},
	}
}

// ID はトラックIDを返す
func (t *Track) ID() string {
	return t.vt.ID()
}

// Capabilities はケーパビリティを返す
func (t *Track) Capabilities() camera.TrackCapabilities {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.caps
}

// Settings は現在の設定を返す。解像度は最初のフレームを受け取った時点で実際の値になる
func (t *Track) Settings() camera.TrackSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return camera.TrackSettings{Width: t.width, Height: t.height, Facing: t.facing}
}

// ApplyConstraints は空の制約以外には対応しない
func (t *Track) ApplyConstraints(_ context.Context, c camera.TrackConstraints) error {
	if c == (camera.TrackConstraints{}) {
		return nil
	}
	return camera.ErrUnsupported
}

// Stop はドライバを閉じる。複数回呼んでもよい
func (t *Track) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.mu.Unlock()
	return t.vt.Close()
}

// setSize はフレームから得た実際の解像度を記録する
func (t *Track) setSize(width, height int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.width, t.height = width, height
}
