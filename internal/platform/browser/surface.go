//go:build js && wasm

package browser

import (
	"context"
	"image"
	"sync"
	"syscall/js"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"camerakit/internal/camera"
)

// Surface は <video> 要素をプレビューに使う
// 左右反転は CSS の transform で表示する
type Surface struct {
	mu       sync.Mutex
	video    js.Value
	canvas   js.Value
	attached bool
	mirrored bool
}

// NewSurface は video 要素をラップした Surface を作成する
func NewSurface(video js.Value) *Surface {
	video.Set("muted", true)
	video.Set("playsInline", true)
	video.Call("setAttribute", "playsinline", "")
	return &Surface{
		video:  video,
		canvas: js.Global().Get("document").Call("createElement", "canvas"),
	}
}

// Attach は srcObject にストリームを設定して再生を開始する
func (s *Surface) Attach(_ context.Context, stream camera.Stream) error {
	bs, ok := stream.(*Stream)
	if !ok {
		return errors.New("stream is not a browser media stream")
	}
	s.video.Set("srcObject", bs.v)
	if _, err := await(s.video.Call("play")); err != nil {
		s.video.Set("srcObject", js.Null())
		return errors.Wrap(err, "failed to start video playback")
	}

	s.mu.Lock()
	s.attached = true
	s.mu.Unlock()
	return nil
}

// Detach は再生を止めて srcObject を外す
func (s *Surface) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.video.Call("pause")
	s.video.Set("srcObject", js.Null())
	s.attached = false
}

// Pause は video 要素を一時停止する。表示中のフレームが残る
func (s *Surface) Pause() {
	s.video.Call("pause")
}

// Resume は再生を再開する
func (s *Surface) Resume() error {
	s.mu.Lock()
	attached := s.attached
	s.mu.Unlock()
	if !attached {
		return errors.New("no stream attached")
	}
	// play() の完了は待たない
	s.video.Call("play")
	return nil
}

// Frame は video 要素に表示中のフレームを canvas 経由で読み出す
func (s *Surface) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return nil, errors.New("no stream attached")
	}

	width := s.video.Get("videoWidth").Int()
	height := s.video.Get("videoHeight").Int()
	if width == 0 || height == 0 {
		return nil, errors.New("video has no frame yet")
	}

	s.canvas.Set("width", width)
	s.canvas.Set("height", height)
	ctx2d := s.canvas.Call("getContext", "2d")
	ctx2d.Call("drawImage", s.video, 0, 0, width, height)
	data := ctx2d.Call("getImageData", 0, 0, width, height).Get("data")

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	pixels := js.Global().Get("Uint8Array").New(data.Get("buffer"), data.Get("byteOffset"), data.Get("byteLength"))
	js.CopyBytesToGo(img.Pix, pixels)

	if s.mirrored {
		return imaging.FlipH(img), nil
	}
	return img, nil
}

// SetMirrored は CSS でプレビューを左右反転する
func (s *Surface) SetMirrored(mirrored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirrored = mirrored
	if mirrored {
		s.video.Get("style").Set("transform", "scaleX(-1)")
	} else {
		s.video.Get("style").Set("transform", "")
	}
}

// Mirrored はプレビューが左右反転されているか
func (s *Surface) Mirrored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirrored
}
