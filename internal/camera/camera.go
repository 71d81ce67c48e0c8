package camera

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Camera は1つのサーフェスに対するカメラ制御を担う
//
// Open / UpdateConfig / ApplySettings は到着順に1つずつ実行される。
// Close だけは実行中の操作と並行して呼べ、その操作の結果を無効にする。
type Camera struct {
	devices  MediaDevices
	resolver *Resolver
	control  controlChannel
	capturer captureEngine
	logger   *zap.SugaredLogger

	// 同時に1つの操作だけを実行するためのセマフォ
	opSem chan struct{}

	mu        sync.RWMutex
	state     State
	epoch     uint64
	surface   Surface
	session   *ActiveSession
	desired   Config
	callbacks Callbacks
	paused    bool

	// マウント単位のコンテキスト。close でキャンセルされる
	mountCtx    context.Context
	cancelMount context.CancelFunc
}

// New は新しいCameraを作成する
func New(devices MediaDevices, logger *zap.SugaredLogger) *Camera {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Camera{
		devices:  devices,
		resolver: NewResolver(devices, logger),
		control:  controlChannel{logger: logger},
		capturer: captureEngine{logger: logger},
		logger:   logger,
		opSem:    make(chan struct{}, 1),
		state:    StateUnmounted,
	}
}

// Open はサーフェスにストリームを結び付け、Ready になるまで待つ
// デバイス取得やサーフェスの失敗は OnMountError で通知し、戻り値にはしない
func (c *Camera) Open(ctx context.Context, surface Surface, cfg Config, callbacks Callbacks) error {
	if surface == nil {
		return errors.New("surface is required")
	}

	c.mu.Lock()
	if c.state != StateUnmounted && c.state != StateError {
		c.mu.Unlock()
		return ErrAlreadyMounted
	}
	c.epoch++
	epoch := c.epoch
	c.surface = surface
	c.desired = cfg
	c.callbacks = callbacks
	c.paused = false
	c.mountCtx, c.cancelMount = context.WithCancel(context.Background())
	c.setStateLocked(StateOpening)
	c.mu.Unlock()

	if err := c.run(ctx, epoch); err != nil && !c.isStale(epoch) {
		c.failMount(epoch, err)
	}
	return nil
}

// UpdateConfig は設定を部分更新して現在のセッションへ反映する
// 再オープンが失敗した場合は OnMountError で通知する。
// 実行待ちの間に先行する Open が失敗した場合は ErrNotMounted を返す
func (c *Camera) UpdateConfig(ctx context.Context, patch Patch) error {
	c.mu.Lock()
	if !c.mountedLocked() {
		c.mu.Unlock()
		return ErrNotMounted
	}
	c.desired = c.desired.Merge(patch)
	epoch := c.epoch
	c.mu.Unlock()

	return c.run(ctx, epoch)
}

// ApplySettings はズーム・フラッシュ・ホワイトバランス・フォーカスだけを更新する
func (c *Camera) ApplySettings(ctx context.Context, s PendingSettings) error {
	c.mu.Lock()
	if c.state != StateReady || c.session == nil {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.desired.Zoom = s.Zoom
	c.desired.FlashMode = s.FlashMode
	c.desired.WhiteBalance = s.WhiteBalance
	c.desired.AutoFocus = s.AutoFocus
	epoch := c.epoch
	c.mu.Unlock()

	return c.run(ctx, epoch)
}

// run は操作を直列に実行する
// 操作自体の失敗は failMount で処理する。戻り値はセマフォ待ちのキャンセルと、待機中にマウントが失敗した場合の ErrNotMounted
func (c *Camera) run(ctx context.Context, epoch uint64) error {
	c.mu.RLock()
	mountCtx := c.mountCtx
	c.mu.RUnlock()

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(mountCtx, cancel)
	defer stop()

	select {
	case c.opSem <- struct{}{}:
	case <-opCtx.Done():
		if c.isStale(epoch) {
			return nil
		}
		return opCtx.Err()
	}
	defer func() { <-c.opSem }()

	// 待っている間にマウントが失敗した場合、新しい Open までデバイスは取得しない
	c.mu.RLock()
	failed := c.state == StateError
	c.mu.RUnlock()
	if failed {
		return ErrNotMounted
	}
	if c.isStale(epoch) {
		return nil
	}
	if err := c.reconcile(opCtx, epoch); err != nil {
		if errors.Is(err, errStale) || c.isStale(epoch) {
			return nil
		}
		c.failMount(epoch, err)
	}
	return nil
}

// Close は全トラックを停止してサーフェスから切り離す
// どの状態からでも呼べる。実行中の Open が後から取得したストリームも停止される
func (c *Camera) Close() error {
	c.mu.Lock()
	if c.state == StateUnmounted {
		c.mu.Unlock()
		return nil
	}
	c.epoch++
	if c.cancelMount != nil {
		c.cancelMount()
		c.cancelMount = nil
	}
	old := c.session
	surface := c.surface
	c.session = nil
	c.paused = false
	c.setStateLocked(StateClosing)
	c.mu.Unlock()

	var err error
	if surface != nil {
		surface.Detach()
	}
	if old != nil {
		err = stopStream(old.Stream)
		c.logger.Infow("カメラストリームを停止しました", "session", old.ID)
	}

	c.mu.Lock()
	if c.state == StateClosing {
		c.surface = nil
		c.setStateLocked(StateUnmounted)
	}
	c.mu.Unlock()

	return errors.Wrap(err, "failed to stop tracks")
}

// Pause はプレビューを固定する。デバイスは解放しない
func (c *Camera) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mountedLocked() {
		return ErrNotMounted
	}
	if c.state != StateReady {
		return ErrNotReady
	}
	c.surface.Pause()
	c.paused = true
	return nil
}

// Resume はプレビューを再開する。close 後は ErrNotMounted
func (c *Camera) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mountedLocked() {
		return ErrNotMounted
	}
	if c.state != StateReady {
		return ErrNotReady
	}
	if err := c.surface.Resume(); err != nil {
		return errors.Wrap(err, "failed to resume preview")
	}
	c.paused = false
	return nil
}

// Capture は表示中のフレームから静止画を作る
func (c *Camera) Capture(opts CaptureOptions) (*CapturedImage, error) {
	c.mu.RLock()
	if c.state != StateReady || c.session == nil {
		c.mu.RUnlock()
		return nil, ErrNotReady
	}
	surface := c.surface
	session := c.session
	c.mu.RUnlock()

	img, err := c.capturer.capture(surface, opts)
	if err != nil && c.sessionChanged(session) {
		// 読み出し中に再構成・クローズが始まった
		return nil, errors.Wrap(ErrNotReady, "session changed during capture")
	}
	return img, err
}

// sessionChanged は session が現在の Ready なセッションでなくなったか調べる
func (c *Camera) sessionChanged(session *ActiveSession) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state != StateReady || c.session != session
}

// AvailablePictureSizes はアスペクト比 ("4:3" など) に合う撮影サイズを返す
func (c *Camera) AvailablePictureSizes(ratio string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, ErrNotReady
	}
	return pictureSizes(ratio, c.session.Capabilities, c.session.Device.Resolutions), nil
}

// ActualFacing は現在のセッションの実際の向きを返す
func (c *Camera) ActualFacing() Facing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return FacingUnspecified
	}
	return c.session.Facing
}

// State は現在の状態を返す
func (c *Camera) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Paused はプレビューが一時停止中か
func (c *Camera) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// Session は現在のセッション情報を返す
func (c *Camera) Session() (SessionInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return SessionInfo{}, false
	}
	return c.session.info(), true
}

// Config は現在の希望設定を返す
func (c *Camera) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.desired
}

// mountedLocked はサーフェスに結び付いている状態か（ロック済み前提）
func (c *Camera) mountedLocked() bool {
	switch c.state {
	case StateUnmounted, StateClosing, StateError:
		return false
	default:
		return true
	}
}
