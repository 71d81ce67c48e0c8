package camera

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// errStale は close により無効になった操作を示す。呼び出し側には返さない
var errStale = errors.New("operation superseded by close")

// ActiveSession はサーフェスに結び付いた1本のストリーム
// 向きが変わる場合は破棄して作り直す
type ActiveSession struct {
	ID           string
	DeviceID     string
	Device       DeviceInfo
	Stream       Stream
	Track        Track
	Facing       Facing
	Capabilities TrackCapabilities
	Width        int
	Height       int

	// 要求時の向きとサイズ。実際の値とは異なる場合がある
	requestedFacing Facing
	requestedSize   Resolution

	applied *PendingSettings
}

// SessionInfo は ActiveSession の読み取り専用スナップショット
type SessionInfo struct {
	ID           string            `json:"id"`
	DeviceID     string            `json:"deviceId"`
	Label        string            `json:"label"`
	Facing       Facing            `json:"facing"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	Capabilities TrackCapabilities `json:"capabilities"`
}

func (s *ActiveSession) info() SessionInfo {
	return SessionInfo{
		ID:           s.ID,
		DeviceID:     s.DeviceID,
		Label:        s.Device.Label,
		Facing:       s.Facing,
		Width:        s.Width,
		Height:       s.Height,
		Capabilities: s.Capabilities,
	}
}

// reconcile は現在のセッションを最新の希望設定に合わせる
// 呼び出し時点で opSem を保持していること
func (c *Camera) reconcile(ctx context.Context, epoch uint64) error {
	c.mu.RLock()
	desired := c.desired
	session := c.session
	c.mu.RUnlock()

	size := ParsePictureSize(desired.PictureSize)

	switch {
	case session == nil:
		if err := c.reopen(ctx, epoch, desired, size); err != nil {
			return err
		}
	case desired.Facing != FacingUnspecified && desired.Facing != session.requestedFacing:
		c.logger.Debugw("向きが変わったためストリームを開き直します",
			"from", session.requestedFacing, "to", desired.Facing)
		if err := c.reopen(ctx, epoch, desired, size); err != nil {
			return err
		}
	case !size.IsZero() && size != session.requestedSize:
		if !c.resizeInPlace(ctx, epoch, session, size) {
			if err := c.reopen(ctx, epoch, desired, size); err != nil {
				return err
			}
		}
	}

	return c.applySettings(ctx, epoch, desired.pendingSettings())
}

// reopen は現在のストリームを破棄し、新しいセッションを開く
func (c *Camera) reopen(ctx context.Context, epoch uint64, desired Config, size Resolution) error {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return errStale
	}
	old := c.session
	surface := c.surface
	c.session = nil
	if old != nil {
		c.setStateLocked(StateReconfiguring)
	} else {
		c.setStateLocked(StateOpening)
	}
	c.mu.Unlock()

	if old != nil {
		surface.Detach()
		if err := stopStream(old.Stream); err != nil {
			c.logger.Warnw("前のストリームの停止に失敗しました", "session", old.ID, "error", err)
		}
	}

	constraints, device, err := c.resolver.Resolve(ctx, desired.Facing, size)
	if err != nil {
		return err
	}
	if c.isStale(epoch) {
		return errStale
	}

	stream, err := c.devices.GetUserMedia(ctx, constraints)
	if err != nil {
		return err
	}
	// close 後に取得できたストリームは即座に停止する
	if c.isStale(epoch) {
		c.release(nil, stream)
		return errStale
	}

	tracks := stream.VideoTracks()
	if len(tracks) == 0 {
		c.release(nil, stream)
		return errors.Wrap(ErrNoCameraAvailable, "stream has no video track")
	}

	if err := surface.Attach(ctx, stream); err != nil {
		c.release(nil, stream)
		return errors.Wrap(err, "failed to attach stream to surface")
	}
	if c.isStale(epoch) {
		c.release(surface, stream)
		return errStale
	}

	track := tracks[0]
	settings := track.Settings()
	facing := constraints.Facing
	if settings.Facing != FacingUnspecified {
		facing = settings.Facing
	}

	session := &ActiveSession{
		ID:              uuid.NewString(),
		DeviceID:        constraints.DeviceID,
		Device:          device,
		Stream:          stream,
		Track:           track,
		Facing:          facing,
		Capabilities:    track.Capabilities(),
		Width:           settings.Width,
		Height:          settings.Height,
		requestedFacing: desired.Facing,
		requestedSize:   size,
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.release(surface, stream)
		return errStale
	}
	c.session = session
	c.paused = false
	c.mu.Unlock()

	surface.SetMirrored(facing == FacingFront)

	c.logger.Infow("カメラストリームを開きました",
		"session", session.ID, "device", device.Label, "facing", facing,
		"width", session.Width, "height", session.Height)

	if err := c.applySettings(ctx, epoch, desired.pendingSettings()); err != nil {
		return err
	}
	c.markReady(epoch)
	return nil
}

// resizeInPlace は実行中のトラックへ解像度変更を適用する
// トラックが対応していない、または失敗した場合は false を返す
func (c *Camera) resizeInPlace(ctx context.Context, epoch uint64, session *ActiveSession, size Resolution) bool {
	caps := session.Capabilities
	if !caps.Resizable {
		return false
	}
	target := size
	if len(session.Device.Resolutions) > 0 {
		target = closestResolution(session.Device.Resolutions, size)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return false
	}
	c.setStateLocked(StateReconfiguring)
	c.mu.Unlock()

	err := session.Track.ApplyConstraints(ctx, TrackConstraints{Width: target.Width, Height: target.Height})
	if err != nil {
		c.logger.Debugw("解像度の変更に失敗したためストリームを開き直します", "session", session.ID, "error", err)
		return false
	}

	settings := session.Track.Settings()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.session != session {
		return false
	}
	session.requestedSize = size
	session.Width = settings.Width
	session.Height = settings.Height
	session.Capabilities = session.Track.Capabilities()
	c.setStateLocked(StateReady)
	return true
}

// applySettings は制御チャンネルを通じて現在のトラックへ設定を適用する
func (c *Camera) applySettings(ctx context.Context, epoch uint64, pending PendingSettings) error {
	c.mu.RLock()
	session := c.session
	stale := c.epoch != epoch
	var applied *PendingSettings
	if session != nil && session.applied != nil {
		copied := *session.applied
		applied = &copied
	}
	c.mu.RUnlock()

	if stale {
		return errStale
	}
	if session == nil {
		return ErrNotReady
	}

	result := c.control.apply(ctx, session.Track, session.Capabilities, applied, pending)

	c.mu.Lock()
	if c.session == session {
		session.applied = &result
	}
	c.mu.Unlock()
	return nil
}

// markReady は Ready へ遷移して onReady を呼ぶ
func (c *Camera) markReady(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.session == nil {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateReady)
	onReady := c.callbacks.OnReady
	c.mu.Unlock()

	if onReady != nil {
		onReady()
	}
}

// failMount は Error へ遷移して onMountError を呼ぶ
func (c *Camera) failMount(epoch uint64, err error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	old := c.session
	surface := c.surface
	c.session = nil
	// この試行に続く操作は無効にする。再開は次の Open から
	c.epoch++
	c.setStateLocked(StateError)
	onMountError := c.callbacks.OnMountError
	c.mu.Unlock()

	if old != nil {
		c.release(surface, old.Stream)
	}

	mountErr := newMountError(err)
	c.logger.Errorw("カメラを開けませんでした", "code", mountErr.Code, "error", err)
	if onMountError != nil {
		onMountError(mountErr)
	}
}

// release はサーフェスから切り離してストリームを停止する
func (c *Camera) release(surface Surface, stream Stream) {
	if surface != nil {
		surface.Detach()
	}
	if err := stopStream(stream); err != nil {
		c.logger.Warnw("ストリームの停止に失敗しました", "stream", stream.ID(), "error", err)
	}
}

func (c *Camera) isStale(epoch uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch != epoch
}

// setStateLocked は状態を変更する（ロック済み前提）
func (c *Camera) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.logger.Debugw("カメラの状態が変わりました", "from", c.state, "to", s)
	c.state = s
}
