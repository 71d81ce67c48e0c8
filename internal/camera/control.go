package camera

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// プリセットごとの色温度 (K)
var whiteBalanceTemperatures = map[WhiteBalance]float64{
	WhiteBalanceSunny:        5200,
	WhiteBalanceCloudy:       6000,
	WhiteBalanceShadow:       7000,
	WhiteBalanceFluorescent:  4000,
	WhiteBalanceIncandescent: 3000,
}

// controlChannel は実行中トラックへランタイム設定を適用する
// 対応していない設定は黙って無視する
type controlChannel struct {
	logger *zap.SugaredLogger
}

// apply は caps に基づいて設定を制約へ変換し、1項目ずつトラックへ適用する
// 成功した項目だけを反映した設定を返す
func (cc *controlChannel) apply(
	ctx context.Context,
	track Track,
	caps TrackCapabilities,
	applied *PendingSettings,
	pending PendingSettings,
) PendingSettings {
	var result PendingSettings
	if applied != nil {
		result = *applied
	}

	for _, step := range cc.plan(caps, applied, pending) {
		if err := track.ApplyConstraints(ctx, step.constraints); err != nil {
			if errors.Is(err, ErrUnsupported) {
				cc.logger.Debugw("未対応の設定のため適用をスキップします", "setting", step.name)
				continue
			}
			cc.logger.Warnw("設定の適用に失敗しました", "setting", step.name, "error", err)
			continue
		}
		step.commit(&result)
	}
	return result
}

type controlStep struct {
	name        string
	constraints TrackConstraints
	commit      func(*PendingSettings)
}

// plan は変更のあった設定のうち、トラックが対応しているものだけを制約に変換する
func (cc *controlChannel) plan(caps TrackCapabilities, applied *PendingSettings, pending PendingSettings) []controlStep {
	var steps []controlStep
	changed := func(same bool) bool { return applied == nil || !same }

	if caps.Zoom.Supported && changed(applied != nil && applied.Zoom == pending.Zoom) {
		zoom := zoomValue(caps.Zoom, pending.Zoom)
		steps = append(steps, controlStep{
			name:        "zoom",
			constraints: TrackConstraints{Zoom: &zoom},
			commit:      func(s *PendingSettings) { s.Zoom = pending.Zoom },
		})
	}

	if caps.Torch && changed(applied != nil && applied.FlashMode == pending.FlashMode) {
		// ブラウザはフラッシュの発光を持たないため torch 以外は消灯
		torch := pending.FlashMode == FlashTorch
		steps = append(steps, controlStep{
			name:        "torch",
			constraints: TrackConstraints{Torch: &torch},
			commit:      func(s *PendingSettings) { s.FlashMode = pending.FlashMode },
		})
	}

	if pending.WhiteBalance != "" && changed(applied != nil && applied.WhiteBalance == pending.WhiteBalance) {
		if c, ok := whiteBalanceConstraints(caps, pending.WhiteBalance); ok {
			steps = append(steps, controlStep{
				name:        "whiteBalance",
				constraints: c,
				commit:      func(s *PendingSettings) { s.WhiteBalance = pending.WhiteBalance },
			})
		}
	}

	if pending.AutoFocus != "" && changed(applied != nil && applied.AutoFocus == pending.AutoFocus) {
		if mode, ok := focusMode(caps, pending.AutoFocus); ok {
			steps = append(steps, controlStep{
				name:        "focusMode",
				constraints: TrackConstraints{FocusMode: mode},
				commit:      func(s *PendingSettings) { s.AutoFocus = pending.AutoFocus },
			})
		}
	}

	return steps
}

// zoomValue は 0..1 のズーム値をトラックのズーム範囲へ写像する
func zoomValue(r Range, zoom float64) float64 {
	v := r.Min + zoom*(r.Max-r.Min)
	if r.Step > 0 {
		v = r.Min + math.Round((v-r.Min)/r.Step)*r.Step
	}
	return math.Min(math.Max(v, r.Min), r.Max)
}

func whiteBalanceConstraints(caps TrackCapabilities, wb WhiteBalance) (TrackConstraints, bool) {
	if wb == WhiteBalanceAuto {
		if !caps.HasWhiteBalanceMode("continuous") {
			return TrackConstraints{}, false
		}
		return TrackConstraints{WhiteBalanceMode: "continuous"}, true
	}

	temp, known := whiteBalanceTemperatures[wb]
	if !known || !caps.HasWhiteBalanceMode("manual") {
		return TrackConstraints{}, false
	}
	c := TrackConstraints{WhiteBalanceMode: "manual"}
	if caps.ColorTemperature.Supported {
		temp = math.Min(math.Max(temp, caps.ColorTemperature.Min), caps.ColorTemperature.Max)
		c.ColorTemperature = &temp
	}
	return c, true
}

func focusMode(caps TrackCapabilities, af AutoFocus) (string, bool) {
	switch af {
	case AutoFocusOn:
		if caps.HasFocusMode("continuous") {
			return "continuous", true
		}
	case AutoFocusOff:
		if caps.HasFocusMode("manual") {
			return "manual", true
		}
		if caps.HasFocusMode("single-shot") {
			return "single-shot", true
		}
	}
	return "", false
}
