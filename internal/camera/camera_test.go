package camera

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"camerakit/internal/logging"
)

// recorder はコールバックの呼び出しを記録する
type recorder struct {
	mu          sync.Mutex
	ready       int
	mountErrors []*MountError
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnReady: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ready++
		},
		OnMountError: func(err *MountError) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.mountErrors = append(r.mountErrors, err)
		},
	}
}

func (r *recorder) readyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

func (r *recorder) errors() []*MountError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*MountError(nil), r.mountErrors...)
}

func fullCapabilities() TrackCapabilities {
	return TrackCapabilities{
		Zoom:              Range{Supported: true, Min: 1, Max: 5, Step: 0.5},
		Torch:             true,
		WhiteBalanceModes: []string{"continuous", "manual"},
		ColorTemperature:  Range{Supported: true, Min: 2800, Max: 6500, Step: 100},
		FocusModes:        []string{"continuous", "manual"},
		Width:             Range{Supported: true, Min: 320, Max: 1920, Step: 1},
		Height:            Range{Supported: true, Min: 240, Max: 1080, Step: 1},
	}
}

func newTestCamera(t *testing.T, devices *FakeDevices) *Camera {
	t.Helper()
	cam := New(devices, logging.NewTestLogger(t))
	t.Cleanup(func() { _ = cam.Close() })
	return cam
}

func TestCamera_OpenClose(t *testing.T) {
	ctx := context.Background()
	devices := NewFakeDevices(FakeCamera("back-1", "Back Camera", FacingBack))
	cam := newTestCamera(t, devices)
	surface := NewFakeSurface()
	rec := &recorder{}

	if cam.State() != StateUnmounted {
		t.Fatalf("Expected initial state unmounted, got %s", cam.State())
	}

	if err := cam.Open(ctx, surface, Config{Facing: FacingBack}, rec.callbacks()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if cam.State() != StateReady {
		t.Fatalf("Expected state ready, got %s", cam.State())
	}
	if rec.readyCount() != 1 {
		t.Errorf("Expected onReady once, got %d", rec.readyCount())
	}
	if surface.Attached() == nil {
		t.Error("Expected stream to be attached to surface")
	}

	// 二重オープンは呼び出し順序の誤り
	if err := cam.Open(ctx, surface, Config{}, rec.callbacks()); !errors.Is(err, ErrAlreadyMounted) {
		t.Errorf("Expected ErrAlreadyMounted, got %v", err)
	}

	if err := cam.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if cam.State() != StateUnmounted {
		t.Errorf("Expected state unmounted after close, got %s", cam.State())
	}
	if n := devices.OpenStreams(); n != 0 {
		t.Errorf("Expected all tracks stopped, %d still open", n)
	}
	if surface.Attached() != nil {
		t.Error("Expected surface to be detached after close")
	}
}

func TestCamera_RepeatedOpenCloseLeaksNothing(t *testing.T) {
	ctx := context.Background()
	devices := NewFakeDevices(
		FakeCamera("front-1", "Front Camera", FacingFront),
		FakeCamera("back-1", "Back Camera", FacingBack),
	)
	cam := newTestCamera(t, devices)

	facings := []Facing{FacingFront, FacingBack, FacingUnspecified, FacingFront}
	for i, facing := range facings {
		if err := cam.Open(ctx, NewFakeSurface(), Config{Facing: facing}, Callbacks{}); err != nil {
			t.Fatalf("Open #%d failed: %v", i, err)
		}
		if err := cam.Close(); err != nil {
			t.Fatalf("Close #%d failed: %v", i, err)
		}
		if cam.State() != StateUnmounted {
			t.Fatalf("Expected unmounted after close #%d, got %s", i, cam.State())
		}
	}

	if len(devices.Streams()) != len(facings) {
		t.Errorf("Expected %d streams, got %d", len(facings), len(devices.Streams()))
	}
	if n := devices.OpenStreams(); n != 0 {
		t.Errorf("Expected no open streams, got %d", n)
	}
}

func TestCamera_CloseDuringOpen(t *testing.T) {
	ctx := context.Background()
	devices := NewFakeDevices(FakeCamera("back-1", "Back Camera", FacingBack))
	cam := newTestCamera(t, devices)
	surface := NewFakeSurface()
	rec := &recorder{}

	requested := devices.Hold()

	done := make(chan error, 1)
	go func() {
		done <- cam.Open(ctx, surface, Config{}, rec.callbacks())
	}()

	select {
	case <-requested:
	case <-time.After(2 * time.Second):
		t.Fatal("GetUserMedia was not requested")
	}

	if cam.State() != StateOpening {
		t.Errorf("Expected state opening, got %s", cam.State())
	}

	// ストリーム取得中に close する
	if err := cam.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	devices.Release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Open returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not return")
	}

	streams := devices.Streams()
	if len(streams) != 1 {
		t.Fatalf("Expected the in-flight stream to be obtained, got %d streams", len(streams))
	}
	if !streams[0].Track().Stopped() {
		t.Error("Expected stream obtained after close to be stopped")
	}
	if cam.State() != StateUnmounted {
		t.Errorf("Expected state unmounted, got %s", cam.State())
	}
	if rec.readyCount() != 0 {
		t.Error("onReady must not fire for a cancelled open")
	}
	if len(rec.errors()) != 0 {
		t.Errorf("Expected no mount errors, got %v", rec.errors())
	}
	if surface.Attached() != nil {
		t.Error("Expected surface to stay detached")
	}
}

func TestCamera_MountErrors(t *testing.T) {
	testCases := []struct {
		name     string
		setup    func(*FakeDevices, *FakeSurface)
		devices  []DeviceInfo
		wantCode MountErrorCode
	}{
		{
			name: "権限拒否",
			setup: func(d *FakeDevices, _ *FakeSurface) {
				d.SetEnumerateError(errors.Wrap(ErrPermissionDenied, "NotAllowedError"))
			},
			devices:  []DeviceInfo{FakeCamera("back-1", "Back Camera", FacingBack)},
			wantCode: CodePermissionDenied,
		},
		{
			name:     "カメラなし",
			devices:  []DeviceInfo{{ID: "mic", Label: "Microphone", Kind: KindAudioInput}},
			wantCode: CodeNoCameraAvailable,
		},
		{
			name: "デバイス使用中",
			setup: func(d *FakeDevices, _ *FakeSurface) {
				d.SetGetUserMediaError(errors.Wrap(ErrDeviceBusy, "NotReadableError"))
			},
			devices:  []DeviceInfo{FakeCamera("back-1", "Back Camera", FacingBack)},
			wantCode: CodeDeviceBusy,
		},
		{
			name: "サーフェスのエラー",
			setup: func(_ *FakeDevices, s *FakeSurface) {
				s.SetAttachError(errors.New("video element error"))
			},
			devices:  []DeviceInfo{FakeCamera("back-1", "Back Camera", FacingBack)},
			wantCode: CodeDeviceBusy,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			devices := NewFakeDevices(tc.devices...)
			surface := NewFakeSurface()
			if tc.setup != nil {
				tc.setup(devices, surface)
			}
			cam := newTestCamera(t, devices)
			rec := &recorder{}

			if err := cam.Open(ctx, surface, Config{}, rec.callbacks()); err != nil {
				t.Fatalf("Open must not return mount failures, got %v", err)
			}

			errs := rec.errors()
			if len(errs) != 1 {
				t.Fatalf("Expected exactly one mount error, got %d", len(errs))
			}
			if errs[0].Code != tc.wantCode {
				t.Errorf("Expected code %s, got %s", tc.wantCode, errs[0].Code)
			}
			if cam.State() != StateError {
				t.Errorf("Expected state error, got %s", cam.State())
			}
			if rec.readyCount() != 0 {
				t.Error("onReady must not fire on failure")
			}
			if n := devices.OpenStreams(); n != 0 {
				t.Errorf("Expected no open streams after failure, got %d", n)
			}

			if err := cam.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
			if cam.State() != StateUnmounted {
				t.Errorf("Expected unmounted after close, got %s", cam.State())
			}
		})
	}
}

func TestCamera_RetryAfterMountError(t *testing.T) {
	ctx := context.Background()
	devices := NewFakeDevices(FakeCamera("back-1", "Back Camera", FacingBack))
	devices.SetGetUserMediaError(ErrDeviceBusy)
	cam := newTestCamera(t, devices)
	rec := &recorder{}

	if err := cam.Open(ctx, NewFakeSurface(), Config{}, rec.callbacks()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if errs := rec.errors(); len(errs) != 1 || !errs[0].Retriable() {
		t.Fatalf("Expected one retriable mount error, got %v", errs)
	}

	// エラー状態から再オープンできる
	devices.SetGetUserMediaError(nil)
	if err := cam.Open(ctx, NewFakeSurface(), Config{}, rec.callbacks()); err != nil {
		t.Fatalf("Retry Open failed: %v", err)
	}
	if cam.State() != StateReady {
		t.Errorf("Expected ready after retry, got %s", cam.State())
	}
}

func TestCamera_FacingFallback(t *testing.T) {
	ctx := context.Background()
	// ラベルだけが向きを示すデバイス
	devices := NewFakeDevices(DeviceInfo{ID: "cam-0", Label: "Back Camera", Kind: KindVideoInput})
	cam := newTestCamera(t, devices)
	rec := &recorder{}

	if err := cam.Open(ctx, NewFakeSurface(), Config{Facing: FacingFront}, rec.callbacks()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if len(rec.errors()) != 0 {
		t.Fatalf("Expected no mount error, got %v", rec.errors())
	}
	if got := cam.ActualFacing(); got != FacingBack {
		t.Errorf("Expected actual facing back, got %q", got)
	}
}

func TestCamera_ReconfigureZoomKeepsSession(t *testing.T) {
	ctx := context.Background()
	devices := NewFakeDevices(
		FakeCamera("front-1", "Front Camera", FacingFront),
		FakeCamera("back-1", "Back Camera", FacingBack),
	)
	devices.SetCapabilities("back-1", fullCapabilities())
	devices.SetCapabilities("front-1", fullCapabilities())
	cam := newTestCamera(t, devices)

	if err := cam.Open(ctx, NewFakeSurface(), Config{Facing: FacingBack}, Callbacks{}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	before, ok := cam.Session()
	if !ok {
		t.Fatal("Expected an active session")
	}

	zoom := 0.5
	if err := cam.UpdateConfig(ctx, Patch{Zoom: &zoom}); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}

	after, _ := cam.Session()
	if after.ID != before.ID {
		t.Errorf("Zoom change must not reopen the stream: %s -> %s", before.ID, after.ID)
	}
	if len(devices.Streams()) != 1 {
		t.Errorf("Expected a single stream, got %d", len(devices.Streams()))
	}

	applied := devices.Streams()[0].Track().Applied()
	last := applied[len(applied)-1]
	if last.Zoom == nil || *last.Zoom != 3 {
		t.Errorf("Expected zoom 3 (midpoint of 1..5), got %v", last.Zoom)
	}

	// 向きの変更は必ず新しいセッションになる
	front := FacingFront
	if err := cam.UpdateConfig(ctx, Patch{Facing: &front}); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	switched, _ := cam.Session()
	if switched.ID == after.ID {
		t.Error("Facing change must produce a new session")
	}
	if cam.ActualFacing() != FacingFront {
		t.Errorf("Expected front facing, got %s", cam.ActualFacing())
	}
	if !devices.Streams()[0].Track().Stopped() {
		t.Error("Expected previous stream to be stopped")
	}
	if n := devices.OpenStreams(); n != 1 {
		t.Errorf("Expected exactly one open stream, got %d", n)
	}
}

func TestCamera_ReconfigurePictureSize(t *testing.T) {
	testCases := []struct {
		name        string
		resizable   bool
		wantReopen  bool
		wantStreams int
	}{
		{name: "実行中に変更可能", resizable: true, wantReopen: false, wantStreams: 1},
		{name: "実行中に変更不可", resizable: false, wantReopen: true, wantStreams: 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			devices := NewFakeDevices(FakeCamera("back-1", "Back Camera", FacingBack))
			caps := fullCapabilities()
			caps.Resizable = tc.resizable
			devices.SetCapabilities("back-1", caps)
			cam := newTestCamera(t, devices)

			if err := cam.Open(ctx, NewFakeSurface(), Config{PictureSize: "640x480"}, Callbacks{}); err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			before, _ := cam.Session()

			size := "1280x720"
			if err := cam.UpdateConfig(ctx, Patch{PictureSize: &size}); err != nil {
				t.Fatalf("UpdateConfig failed: %v", err)
			}

			after, _ := cam.Session()
			if reopened := after.ID != before.ID; reopened != tc.wantReopen {
				t.Errorf("Expected reopen=%v, got %v", tc.wantReopen, reopened)
			}
			if after.Width != 1280 || after.Height != 720 {
				t.Errorf("Expected 1280x720, got %dx%d", after.Width, after.Height)
			}
			if len(devices.Streams()) != tc.wantStreams {
				t.Errorf("Expected %d streams, got %d", tc.wantStreams, len(devices.Streams()))
			}
			if cam.State() != StateReady {
				t.Errorf("Expected ready, got %s", cam.State())
			}
		})
	}
}

func TestCamera_LastWriterWins(t *testing.T) {
	ctx := context.Background()
	devices := NewFakeDevices(
		FakeCamera("front-1", "Front Camera", FacingFront),
		FakeCamera("back-1", "Back Camera", FacingBack),
	)
	cam := newTestCamera(t, devices)
	requested := devices.Hold()

	openDone := make(chan error, 1)
	go func() {
		openDone <- cam.Open(ctx, NewFakeSurface(), Config{Facing: FacingFront}, Callbacks{})
	}()
	<-requested

	back := FacingBack
	updateDone := make(chan error, 1)
	go func() {
		updateDone <- cam.UpdateConfig(ctx, Patch{Facing: &back})
	}()

	// UpdateConfig が希望設定を書き換えるまで待つ
	deadline := time.Now().Add(2 * time.Second)
	for cam.Config().Facing != FacingBack {
		if time.Now().After(deadline) {
			t.Fatal("UpdateConfig did not record the new config")
		}
		time.Sleep(time.Millisecond)
	}

	devices.Release()
	if err := <-openDone; err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := <-updateDone; err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}

	if cam.ActualFacing() != FacingBack {
		t.Errorf("Expected last config (back) to win, got %s", cam.ActualFacing())
	}
	if n := devices.OpenStreams(); n != 1 {
		t.Errorf("Expected one open stream, got %d", n)
	}
	info, _ := cam.Session()
	if info.DeviceID != "back-1" {
		t.Errorf("Expected device back-1, got %s", info.DeviceID)
	}
}

func TestCamera_QueuedUpdateAfterMountError(t *testing.T) {
	ctx := context.Background()
	devices := NewFakeDevices(FakeCamera("back-1", "Back Camera", FacingBack))
	cam := newTestCamera(t, devices)
	rec := &recorder{}
	requested := devices.Hold()

	openDone := make(chan error, 1)
	go func() {
		openDone <- cam.Open(ctx, NewFakeSurface(), Config{}, rec.callbacks())
	}()
	<-requested

	zoom := 0.4
	updateDone := make(chan error, 1)
	go func() {
		updateDone <- cam.UpdateConfig(ctx, Patch{Zoom: &zoom})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for cam.Config().Zoom != zoom {
		if time.Now().After(deadline) {
			t.Fatal("UpdateConfig did not record the new config")
		}
		time.Sleep(time.Millisecond)
	}

	// 待機中の Open をデバイス拒否で失敗させる
	devices.SetGetUserMediaError(ErrPermissionDenied)
	devices.Release()

	if err := <-openDone; err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if err := <-updateDone; !errors.Is(err, ErrNotMounted) {
		t.Errorf("Expected queued UpdateConfig to fail with ErrNotMounted, got %v", err)
	}

	if cam.State() != StateError {
		t.Errorf("Expected state error, got %s", cam.State())
	}
	if errs := rec.errors(); len(errs) != 1 {
		t.Errorf("Expected exactly one mount error, got %d", len(errs))
	}
	select {
	case <-requested:
		t.Error("Expected no device request after the mount failed")
	default:
	}

	// 新しい Open からは回復できる
	devices.SetGetUserMediaError(nil)
	if err := cam.Open(ctx, NewFakeSurface(), Config{}, rec.callbacks()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	<-requested
	if cam.State() != StateReady {
		t.Errorf("Expected state ready after reopen, got %s", cam.State())
	}
}

func TestCamera_CaptureDuringReconfigure(t *testing.T) {
	ctx := context.Background()
	devices := NewFakeDevices(
		FakeCamera("front-1", "Front Camera", FacingFront),
		FakeCamera("back-1", "Back Camera", FacingBack),
	)
	caps := fullCapabilities()
	caps.Resizable = true
	devices.SetCapabilities("front-1", caps)
	devices.SetCapabilities("back-1", caps)
	cam := newTestCamera(t, devices)
	rec := &recorder{}

	if err := cam.Open(ctx, NewFakeSurface(), Config{Facing: FacingBack}, rec.callbacks()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	stop := make(chan struct{})
	unexpected := make(chan error, 1)
	var captured atomic.Int64
	var wg sync.WaitGroup
	var once sync.Once
	stopCapturing := func() {
		once.Do(func() { close(stop) })
		wg.Wait()
	}
	defer stopCapturing()

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				img, err := cam.Capture(CaptureOptions{Scale: 0.25})
				switch {
				case err == nil:
					if img.Width == 0 || img.Height == 0 {
						err = errors.New("empty picture")
					} else {
						captured.Add(1)
						continue
					}
				case errors.Is(err, ErrNotReady):
					continue
				}
				select {
				case unexpected <- err:
				default:
				}
				return
			}
		}()
	}

	zoom := 0.5
	torch := FlashTorch
	off := FlashOff
	large := "1280x720"
	small := "640x480"
	front := FacingFront
	back := FacingBack
	patches := []Patch{
		{Zoom: &zoom},
		{FlashMode: &torch},
		{PictureSize: &large},
		{Facing: &front},
		{FlashMode: &off},
		{PictureSize: &small},
		{Facing: &back},
	}
	for round := 0; round < 3; round++ {
		for _, p := range patches {
			if err := cam.UpdateConfig(ctx, p); err != nil {
				t.Fatalf("UpdateConfig failed: %v", err)
			}
			time.Sleep(2 * time.Millisecond)
		}
	}

	stopCapturing()
	select {
	case err := <-unexpected:
		t.Fatalf("Capture returned an unexpected error: %v", err)
	default:
	}

	if captured.Load() == 0 {
		t.Error("Expected at least one successful capture")
	}
	if len(rec.errors()) != 0 {
		t.Errorf("Expected no mount errors, got %v", rec.errors())
	}
	if cam.State() != StateReady {
		t.Errorf("Expected state ready, got %s", cam.State())
	}
	if n := devices.OpenStreams(); n != 1 {
		t.Errorf("Expected one open stream, got %d", n)
	}
}

func TestCamera_ContractErrors(t *testing.T) {
	ctx := context.Background()
	devices := NewFakeDevices(FakeCamera("back-1", "Back Camera", FacingBack))
	cam := newTestCamera(t, devices)

	if _, err := cam.Capture(CaptureOptions{}); !errors.Is(err, ErrNotReady) {
		t.Errorf("Capture before open: expected ErrNotReady, got %v", err)
	}
	if _, err := cam.AvailablePictureSizes("4:3"); !errors.Is(err, ErrNotReady) {
		t.Errorf("AvailablePictureSizes before open: expected ErrNotReady, got %v", err)
	}
	if err := cam.ApplySettings(ctx, PendingSettings{Zoom: 0.3}); !errors.Is(err, ErrNotReady) {
		t.Errorf("ApplySettings before open: expected ErrNotReady, got %v", err)
	}

	if err := cam.Open(ctx, NewFakeSurface(), Config{}, Callbacks{}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := cam.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := cam.Resume(); !errors.Is(err, ErrNotMounted) {
		t.Errorf("Resume after close: expected ErrNotMounted, got %v", err)
	}
	if err := cam.Pause(); !errors.Is(err, ErrNotMounted) {
		t.Errorf("Pause after close: expected ErrNotMounted, got %v", err)
	}
	zoom := 0.2
	if err := cam.UpdateConfig(ctx, Patch{Zoom: &zoom}); !errors.Is(err, ErrNotMounted) {
		t.Errorf("UpdateConfig after close: expected ErrNotMounted, got %v", err)
	}
	if _, err := cam.Capture(CaptureOptions{}); !errors.Is(err, ErrNotReady) {
		t.Errorf("Capture after close: expected ErrNotReady, got %v", err)
	}

	// close は何度呼んでもよい
	if err := cam.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestCamera_PauseResume(t *testing.T) {
	ctx := context.Background()
	devices := NewFakeDevices(FakeCamera("back-1", "Back Camera", FacingBack))
	cam := newTestCamera(t, devices)

	if err := cam.Open(ctx, NewFakeSurface(), Config{}, Callbacks{}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := cam.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if !cam.Paused() {
		t.Error("Expected camera to be paused")
	}
	if n := devices.OpenStreams(); n != 1 {
		t.Errorf("Pause must not release the device, open streams=%d", n)
	}

	if err := cam.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if cam.Paused() {
		t.Error("Expected camera to be resumed")
	}
}

func TestCamera_AvailablePictureSizes(t *testing.T) {
	ctx := context.Background()
	devices := NewFakeDevices(FakeCamera("back-1", "Back Camera", FacingBack))
	devices.SetCapabilities("back-1", fullCapabilities())
	cam := newTestCamera(t, devices)

	if err := cam.Open(ctx, NewFakeSurface(), Config{}, Callbacks{}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	sizes, err := cam.AvailablePictureSizes("16:9")
	if err != nil {
		t.Fatalf("AvailablePictureSizes failed: %v", err)
	}
	want := []string{"1920x1080", "1280x720", "640x360"}
	if len(sizes) != len(want) {
		t.Fatalf("Expected %v, got %v", want, sizes)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("sizes[%d]: expected %s, got %s", i, want[i], sizes[i])
		}
	}
}
