package camera

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// 解像度を公開しないプラットフォーム向けの候補
var standardPictureSizes = []Resolution{
	{Width: 4096, Height: 2160},
	{Width: 3840, Height: 2160},
	{Width: 4032, Height: 3024},
	{Width: 2592, Height: 1944},
	{Width: 1920, Height: 1080},
	{Width: 1600, Height: 1200},
	{Width: 1280, Height: 720},
	{Width: 1280, Height: 960},
	{Width: 1080, Height: 1080},
	{Width: 1024, Height: 768},
	{Width: 800, Height: 600},
	{Width: 720, Height: 720},
	{Width: 640, Height: 480},
	{Width: 640, Height: 360},
	{Width: 352, Height: 288},
	{Width: 320, Height: 240},
}

// ラベルから向きを推定するためのキーワード
var (
	frontLabelKeywords = []string{"front", "user", "facetime", "selfie", "前面"}
	backLabelKeywords  = []string{"back", "rear", "environment", "world", "背面"}
)

// Resolver は要求された向きとサイズから使用するデバイスと制約を決定する
type Resolver struct {
	devices MediaDevices
	logger  *zap.SugaredLogger
}

// NewResolver は新しいResolverを作成する
func NewResolver(devices MediaDevices, logger *zap.SugaredLogger) *Resolver {
	return &Resolver{devices: devices, logger: logger}
}

// Resolve はデバイスを列挙し、最も合致するデバイスとストリーム制約を返す
// 要求した向きのデバイスがない場合も失敗せず、実際の向きを返す
func (r *Resolver) Resolve(ctx context.Context, facing Facing, desired Resolution) (StreamConstraints, DeviceInfo, error) {
	devices, err := r.videoInputs(ctx)
	if err != nil {
		return StreamConstraints{}, DeviceInfo{}, err
	}

	device, ok := lo.Find(devices, func(d DeviceInfo) bool {
		return facing != FacingUnspecified && deviceFacing(d) == facing
	})
	if !ok {
		device = devices[0]
		if facing != FacingUnspecified {
			r.logger.Debugw("要求された向きのカメラがないため代替を使います",
				"requested", facing, "device", device.Label)
		}
	}

	constraints := StreamConstraints{
		DeviceID: device.ID,
		Facing:   deviceFacing(device),
	}
	if !desired.IsZero() {
		size := desired
		if len(device.Resolutions) > 0 {
			size = closestResolution(device.Resolutions, desired)
		}
		constraints.Width = size.Width
		constraints.Height = size.Height
	}

	return constraints, device, nil
}

// videoInputs は映像入力デバイスのみを返す
func (r *Resolver) videoInputs(ctx context.Context) ([]DeviceInfo, error) {
	all, err := r.devices.EnumerateDevices(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to enumerate devices")
	}

	devices := lo.Filter(all, func(d DeviceInfo, _ int) bool {
		return d.Kind == KindVideoInput
	})
	if len(devices) == 0 {
		return nil, ErrNoCameraAvailable
	}
	return devices, nil
}

// deviceFacing はデバイスの向きを返す。報告がなければラベルから推定する
func deviceFacing(d DeviceInfo) Facing {
	if d.Facing != FacingUnspecified {
		return d.Facing
	}
	return FacingFromLabel(d.Label)
}

// FacingFromLabel はデバイスラベルから向きを推定する
func FacingFromLabel(label string) Facing {
	lower := strings.ToLower(label)
	for _, kw := range backLabelKeywords {
		if strings.Contains(lower, kw) {
			return FacingBack
		}
	}
	for _, kw := range frontLabelKeywords {
		if strings.Contains(lower, kw) {
			return FacingFront
		}
	}
	return FacingUnspecified
}

// closestResolution は面積とアスペクト比の差が最も小さい解像度を選ぶ
func closestResolution(candidates []Resolution, desired Resolution) Resolution {
	best := candidates[0]
	bestScore := math.Inf(1)
	desiredArea := float64(desired.Width * desired.Height)
	desiredRatio := float64(desired.Width) / float64(desired.Height)
	for _, c := range candidates {
		if c.IsZero() {
			continue
		}
		if c == desired {
			return c
		}
		area := float64(c.Width * c.Height)
		ratio := float64(c.Width) / float64(c.Height)
		score := math.Abs(math.Log(area/desiredArea)) + 4*math.Abs(ratio-desiredRatio)
		if score < bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

// parseRatio は "4:3" 形式のアスペクト比を解釈する
func parseRatio(ratio string) (float64, bool) {
	parts := strings.SplitN(strings.TrimSpace(ratio), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	w, err := strconv.ParseFloat(parts[0], 64)
	if err != nil || w <= 0 {
		return 0, false
	}
	h, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || h <= 0 {
		return 0, false
	}
	return w / h, true
}

// pictureSizes はアスペクト比に合う撮影サイズを大きい順に返す
// ratio が解釈できない場合は全サイズを返す
func pictureSizes(ratio string, caps TrackCapabilities, deviceSizes []Resolution) []string {
	candidates := deviceSizes
	if len(candidates) == 0 {
		candidates = standardPictureSizes
	}
	want, filterRatio := parseRatio(ratio)

	sizes := lo.Filter(lo.Uniq(candidates), func(r Resolution, _ int) bool {
		if r.IsZero() {
			return false
		}
		if filterRatio && math.Abs(float64(r.Width)/float64(r.Height)-want) > 0.01 {
			return false
		}
		return withinRange(caps.Width, r.Width) && withinRange(caps.Height, r.Height)
	})
	sort.SliceStable(sizes, func(i, j int) bool {
		return sizes[i].Width*sizes[i].Height > sizes[j].Width*sizes[j].Height
	})
	return lo.Map(sizes, func(r Resolution, _ int) string {
		return r.String()
	})
}

func withinRange(r Range, v int) bool {
	if !r.Supported {
		return true
	}
	return float64(v) >= r.Min && float64(v) <= r.Max
}
