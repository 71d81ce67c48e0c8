//go:build !js

package native

import (
	"context"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"camerakit/internal/camera"
)

// Surface は画面を持たないプレビュー
// トラックからフレームを読み続け、最新のフレームを保持する
type Surface struct {
	logger *zap.SugaredLogger

	mu       sync.Mutex
	stream   camera.Stream
	latest   image.Image
	frozen   image.Image
	paused   bool
	mirrored bool
	cancel   context.CancelFunc
}

// NewSurface は新しいSurfaceを作成する
func NewSurface(logger *zap.SugaredLogger) *Surface {
	return &Surface{logger: logger}
}

// Attach はストリームのフレーム読み出しを開始し、最初のフレームを待つ
func (s *Surface) Attach(ctx context.Context, stream camera.Stream) error {
	native, ok := stream.(*Stream)
	if !ok || len(native.tracks) == 0 {
		return errors.New("stream is not a native video stream")
	}
	track := native.tracks[0]

	s.Detach()

	loopCtx, cancel := context.WithCancel(context.Background())
	first := make(chan struct{})

	s.mu.Lock()
	s.stream = stream
	s.paused = false
	s.frozen = nil
	s.cancel = cancel
	s.mu.Unlock()

	go s.readLoop(loopCtx, track, track.vt.NewReader(false), first)

	if err := s.waitFirstFrame(ctx, first); err != nil {
		s.Detach()
		return err
	}
	return nil
}

// waitFirstFrame は最初のフレームか読み出しの終了を待つ
// 待ち時間は ctx のキャンセルだけで決まる
func (s *Surface) waitFirstFrame(ctx context.Context, first <-chan struct{}) error {
	select {
	case <-first:
		s.mu.Lock()
		got := s.latest != nil
		s.mu.Unlock()
		if !got {
			return errors.New("camera stream ended before the first frame")
		}
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "no frame received from camera")
	}
}

// readLoop はフレームを読み出して latest を更新する
// Detach 後に読み出したフレームは捨てる
func (s *Surface) readLoop(ctx context.Context, track *Track, reader video.Reader, first chan struct{}) {
	var once sync.Once
	defer once.Do(func() { close(first) })
	for {
		img, release, err := reader.Read()
		if ctx.Err() != nil {
			if err == nil {
				release()
			}
			return
		}
		if err != nil {
			s.logger.Debugw("フレームの読み出しが終了しました", "track", track.ID(), "error", err)
			return
		}

		// release 後はバッファが再利用されるため複製する
		copied := imaging.Clone(img)
		release()

		s.mu.Lock()
		if ctx.Err() == nil {
			s.latest = copied
		}
		s.mu.Unlock()

		once.Do(func() {
			b := copied.Bounds()
			track.setSize(b.Dx(), b.Dy())
			close(first)
		})
	}
}

// Detach はフレームの読み出しを止める
// 読み出し中の Read はトラックの停止で戻る
func (s *Surface) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.stream = nil
	s.latest = nil
	s.frozen = nil
}

// Pause は現在のフレームを固定する
func (s *Surface) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = s.latest
	s.paused = true
}

// Resume はフレームの更新を再開する
func (s *Surface) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return errors.New("no stream attached")
	}
	s.paused = false
	s.frozen = nil
	return nil
}

// Frame は表示中のフレームを返す
func (s *Surface) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame := s.latest
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
func (s *Surface) SetMirrored(mirrored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirrored = mirrored
}

// Mirrored はプレビューが左右反転されているか
func (s *Surface) Mirrored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirrored
}
