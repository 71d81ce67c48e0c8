package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// FakeDevices はテスト用のMediaDevices実装
// 実際のブラウザと同様に、GetUserMedia はキャンセルされても結果を返す
type FakeDevices struct {
	mu      sync.Mutex
	devices []DeviceInfo
	caps    map[string]TrackCapabilities
	streams []*FakeStream
	nextID  int

	// テスト制御用
	enumerateErr error
	mediaErr     error
	gate         chan struct{}
	requested    chan StreamConstraints
}

// NewFakeDevices は新しいFakeDevicesを作成する
func NewFakeDevices(devices ...DeviceInfo) *FakeDevices {
	return &FakeDevices{
		devices: devices,
		caps:    make(map[string]TrackCapabilities),
	}
}

// FakeCamera はテスト用のカメラデバイス情報を作る
func FakeCamera(id, label string, facing Facing) DeviceInfo {
	return DeviceInfo{ID: id, Label: label, Kind: KindVideoInput, Facing: facing}
}

// SetCapabilities はデバイスのトラックが報告するケーパビリティを設定する
func (f *FakeDevices) SetCapabilities(deviceID string, caps TrackCapabilities) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caps[deviceID] = caps
}

// SetEnumerateError は EnumerateDevices が返すエラーを設定する
func (f *FakeDevices) SetEnumerateError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enumerateErr = err
}

// SetGetUserMediaError は GetUserMedia が返すエラーを設定する
func (f *FakeDevices) SetGetUserMediaError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mediaErr = err
}

// Hold は Release が呼ばれるまで GetUserMedia をブロックさせる
// 要求された制約は返されるチャンネルに送られる
func (f *FakeDevices) Hold() <-chan StreamConstraints {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.requested = make(chan StreamConstraints, 8)
	return f.requested
}

// Release は Hold でブロックした GetUserMedia を再開させる
func (f *FakeDevices) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

// Streams はこれまでに取得されたストリーム一覧を返す
func (f *FakeDevices) Streams() []*FakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeStream(nil), f.streams...)
}

// OpenStreams は停止されていないストリーム数を返す
func (f *FakeDevices) OpenStreams() int {
	n := 0
	for _, s := range f.Streams() {
		if !s.track.Stopped() {
			n++
		}
	}
	return n
}

// EnumerateDevices はモックデバイス一覧を返す
func (f *FakeDevices) EnumerateDevices(_ context.Context) ([]DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enumerateErr != nil {
		return nil, f.enumerateErr
	}
	return append([]DeviceInfo(nil), f.devices...), nil
}

// GetUserMedia はモックストリームを返す
func (f *FakeDevices) GetUserMedia(_ context.Context, constraints StreamConstraints) (Stream, error) {
	f.mu.Lock()
	gate := f.gate
	requested := f.requested
	f.mu.Unlock()

	if requested != nil {
		requested <- constraints
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mediaErr != nil {
		return nil, f.mediaErr
	}

	var device *DeviceInfo
	for i := range f.devices {
		if f.devices[i].ID == constraints.DeviceID {
			device = &f.devices[i]
			break
		}
	}
	if device == nil {
		return nil, errors.Wrapf(ErrNoCameraAvailable, "device %q not found", constraints.DeviceID)
	}

	width, height := constraints.Width, constraints.Height
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}

	f.nextID++
	track := &FakeTrack{
		id:     fmt.Sprintf("track-%d", f.nextID),
		caps:   f.caps[device.ID],
		width:  width,
		height: height,
		facing: device.Facing,
	}
	stream := &FakeStream{id: fmt.Sprintf("stream-%d", f.nextID), deviceID: device.ID, track: track}
	f.streams = append(f.streams, stream)
	return stream, nil
}

// FakeStream はテスト用のStream実装
type FakeStream struct {
	id       string
	deviceID string
	track    *FakeTrack
}

// ID はストリームIDを返す
func (s *FakeStream) ID() string { return s.id }

// DeviceID はストリームを取得したデバイスIDを返す
func (s *FakeStream) DeviceID() string { return s.deviceID }

// VideoTracks は映像トラックを返す
func (s *FakeStream) VideoTracks() []Track { return []Track{s.track} }

// Track はモックトラックを返す
func (s *FakeStream) Track() *FakeTrack { return s.track }

// FakeTrack はテスト用のTrack実装
type FakeTrack struct {
	mu      sync.Mutex
	id      string
	caps    TrackCapabilities
	width   int
	height  int
	facing  Facing
	applied []TrackConstraints
	stopped bool

	applyErr error
}

// ID はトラックIDを返す
func (t *FakeTrack) ID() string { return t.id }

// Capabilities はケーパビリティを返す
func (t *FakeTrack) Capabilities() TrackCapabilities {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.caps
}

// Settings は現在の設定を返す
func (t *FakeTrack) Settings() TrackSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TrackSettings{Width: t.width, Height: t.height, Facing: t.facing}
}

// ApplyConstraints は制約を記録する。ケーパビリティにないものは ErrUnsupported
func (t *FakeTrack) ApplyConstraints(_ context.Context, c TrackConstraints) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return errors.New("track is stopped")
	}
	if t.applyErr != nil {
		return t.applyErr
	}
	if c.Zoom != nil && !t.caps.Zoom.Supported {
		return ErrUnsupported
	}
	if c.Torch != nil && !t.caps.Torch {
		return ErrUnsupported
	}
	if (c.Width > 0 || c.Height > 0) && !t.caps.Resizable {
		return ErrUnsupported
	}
	if c.Width > 0 {
		t.width = c.Width
	}
	if c.Height > 0 {
		t.height = c.Height
	}
	t.applied = append(t.applied, c)
	return nil
}

// Stop はトラックを停止する
func (t *FakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

// Stopped は停止済みか
func (t *FakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Applied は適用された制約の履歴を返す
func (t *FakeTrack) Applied() []TrackConstraints {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TrackConstraints(nil), t.applied...)
}

// SetApplyError はテスト用に ApplyConstraints の失敗を設定する
func (t *FakeTrack) SetApplyError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyErr = err
}

// FakeSurface はテスト用のSurface実装
// 結び付いたトラックの解像度でテストパターンを描画する
type FakeSurface struct {
	mu        sync.Mutex
	stream    Stream
	frame     *image.RGBA
	frozen    *image.RGBA
	paused    bool
	mirrored  bool
	seq       uint8
	attachErr error
}

// NewFakeSurface は新しいFakeSurfaceを作成する
func NewFakeSurface() *FakeSurface {
	return &FakeSurface{}
}

// SetAttachError はテスト用に Attach の失敗を設定する
func (s *FakeSurface) SetAttachError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachErr = err
}

// Attach はストリームを結び付け、最初のフレームを描画する
func (s *FakeSurface) Attach(_ context.Context, stream Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attachErr != nil {
		return s.attachErr
	}
	s.stream = stream
	s.paused = false
	s.frozen = nil
	s.drawLocked()
	return nil
}

// Detach はストリームを切り離す
func (s *FakeSurface) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = nil
	s.frame = nil
	s.frozen = nil
}

// Attached は現在結び付いているストリームを返す
func (s *FakeSurface) Attached() Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Pause は現在のフレームを固定する
func (s *FakeSurface) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame != nil {
		s.frozen = s.frame
	}
	s.paused = true
}

// Resume はフレームの更新を再開する
func (s *FakeSurface) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return errors.New("no stream attached")
	}
	s.paused = false
	s.frozen = nil
	return nil
}

// Advance は次のフレームを描画する。一時停止中は表示が変わらない
func (s *FakeSurface) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		s.drawLocked()
	}
}

// Frame は表示中のフレームを返す。反転表示中は左右反転した画像になる
func (s *FakeSurface) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame := s.frame
	if s.paused && s.frozen != nil {
		frame = s.frozen
	}
	if frame == nil {
		return nil, errors.New("no frame available")
	}
	if s.mirrored {
		return imaging.FlipH(frame), nil
	}
	return frame, nil
}

// SetMirrored はプレビューの左右反転を設定する
func (s *FakeSurface) SetMirrored(mirrored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirrored = mirrored
}

// Mirrored はプレビューが左右反転されているか
func (s *FakeSurface) Mirrored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirrored
}

// drawLocked はテストパターンを描画する（ロック済み前提）
// 左端が暗く右端が明るいグラデーションで、左右反転を検出できる
func (s *FakeSurface) drawLocked() {
	width, height := 640, 480
	if tracks := s.stream.VideoTracks(); len(tracks) > 0 {
		if st := tracks[0].Settings(); st.Width > 0 && st.Height > 0 {
			width, height = st.Width, st.Height
		}
	}
	s.seq++
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8(x * 255 / width)
			img.SetRGBA(x, y, color.RGBA{R: v, G: uint8(y * 255 / height), B: s.seq, A: 255})
		}
	}
	s.frame = img
}
