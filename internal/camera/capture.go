package camera

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	FormatJPEG = "jpg"
	FormatPNG  = "png"

	defaultJPEGQuality = 0.92
)

// captureEngine は表示中のフレームから静止画を生成する
type captureEngine struct {
	logger *zap.SugaredLogger
}

// capture は surface の現在のフレームを読み出して CapturedImage を作る
// 同じフレームに対しては常に同じ結果を返す
func (e *captureEngine) capture(surface Surface, opts CaptureOptions) (*CapturedImage, error) {
	frame, err := surface.Frame()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read frame")
	}
	if frame == nil || frame.Bounds().Empty() {
		return nil, errors.Wrap(ErrNotReady, "surface has no frame")
	}

	var img image.Image = toRGBA(frame)

	// 表示が反転していて反転なしの出力を求められた場合は元に戻す
	if surface.Mirrored() != opts.Mirror {
		img = imaging.FlipH(img)
	}

	if opts.Scale > 0 && opts.Scale < 1 {
		w := int(math.Round(float64(img.Bounds().Dx()) * opts.Scale))
		h := int(math.Round(float64(img.Bounds().Dy()) * opts.Scale))
		if w > 0 && h > 0 {
			img = imaging.Resize(img, w, h, imaging.Lanczos)
		}
	}

	pixels := toRGBA(img)
	format := normalizeFormat(opts.ImageType)
	data, err := encode(pixels, format, opts.Quality)
	if err != nil {
		return nil, err
	}

	result := &CapturedImage{
		Width:  pixels.Bounds().Dx(),
		Height: pixels.Bounds().Dy(),
		Format: format,
		Data:   data,
		Image:  pixels,
	}
	if opts.Base64 {
		result.Base64 = base64.StdEncoding.EncodeToString(data)
		result.URI = "data:" + mimeType(format) + ";base64," + result.Base64
	}

	if opts.OnPictureSaved != nil {
		saved := *result
		saved.Data = append([]byte(nil), data...)
		saved.Image = nil
		go opts.OnPictureSaved(&saved)
	}

	return result, nil
}

// toRGBA は原点 (0,0) の RGBA バッファへフレームをコピーする
func toRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func normalizeFormat(imageType string) string {
	switch strings.ToLower(imageType) {
	case "png":
		return FormatPNG
	default:
		return FormatJPEG
	}
}

func mimeType(format string) string {
	if format == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// encode は指定フォーマットでエンコードする。quality は 0..1
func encode(img image.Image, format string, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, errors.Wrap(err, "failed to encode png")
		}
	default:
		if quality <= 0 || quality > 1 {
			quality = defaultJPEGQuality
		}
		q := int(math.Round(quality * 100))
		if q < 1 {
			q = 1
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, errors.Wrap(err, "failed to encode jpeg")
		}
	}
	return buf.Bytes(), nil
}
