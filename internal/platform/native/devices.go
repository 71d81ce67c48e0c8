//go:build !js

package native

import (
	"context"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	driverutils "github.com/pion/mediadevices/pkg/driver"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"camerakit/internal/camera"
)

var initDrivers sync.Once

// Devices は pion/mediadevices のカメラドライバを使う MediaDevices 実装
type Devices struct {
	logger *zap.SugaredLogger

	// getDrivers はテストで差し替える
	getDrivers func() []driverutils.Driver
}

// NewDevices は新しいDevicesを作成する
func NewDevices(logger *zap.SugaredLogger) *Devices {
	return &Devices{
		logger: logger,
		getDrivers: func() []driverutils.Driver {
			initDrivers.Do(mediadevicescamera.Initialize)
			return driverutils.GetManager().Query(driverutils.FilterVideoRecorder())
		},
	}
}

// EnumerateDevices は映像入力ドライバを列挙する
func (d *Devices) EnumerateDevices(ctx context.Context) ([]camera.DeviceInfo, error) {
	drivers := d.getDrivers()
	devices := make([]camera.DeviceInfo, 0, len(drivers))
	for _, drv := range drivers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		label := driverLabel(drv.Info())

		var resolutions []camera.Resolution
		if drv.Status() == driverutils.StateRunning {
			d.logger.Debugw("ドライバが使用中のためプロパティ取得をスキップします", "driver", label)
		} else {
			props, err := driverProperties(drv)
			if err != nil {
				if isPermissionError(err) {
					return nil, errors.Wrap(camera.ErrPermissionDenied, err.Error())
				}
				d.logger.Debugw("ドライバのプロパティを取得できませんでした", "driver", label, "error", err)
			}
			resolutions = resolutionsFromProps(props)
		}

		devices = append(devices, camera.DeviceInfo{
			ID:          drv.ID(),
			Label:       label,
			Kind:        camera.KindVideoInput,
			Facing:      camera.FacingFromLabel(label),
			Resolutions: resolutions,
		})
	}
	return devices, nil
}

// GetUserMedia はドライバを開いてストリームを返す
func (d *Devices) GetUserMedia(ctx context.Context, c camera.StreamConstraints) (camera.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: videoConstraints(c),
	})
	if err != nil {
		return nil, classifyError(err)
	}

	label := d.labelFor(c.DeviceID)
	stream := &Stream{id: uuid.NewString()}
	for _, t := range ms.GetVideoTracks() {
		vt, ok := t.(*mediadevices.VideoTrack)
		if !ok {
			_ = t.Close()
			continue
		}
		stream.tracks = append(stream.tracks, newTrack(vt, c, label, d.propsFor(c.DeviceID)))
	}
	d.logger.Debugw("ネイティブストリームを開きました", "device", c.DeviceID, "tracks", len(stream.tracks))
	return stream, nil
}

func (d *Devices) labelFor(deviceID string) string {
	drv, ok := lo.Find(d.getDrivers(), func(drv driverutils.Driver) bool {
		return drv.ID() == deviceID
	})
	if !ok {
		return ""
	}
	return driverLabel(drv.Info())
}

// propsFor は実行中のドライバが報告するプロパティを返す
func (d *Devices) propsFor(deviceID string) []prop.Media {
	drv, ok := lo.Find(d.getDrivers(), func(drv driverutils.Driver) bool {
		return drv.ID() == deviceID
	})
	if !ok {
		return nil
	}
	return drv.Properties()
}

// videoConstraints は StreamConstraints を mediadevices の制約へ変換する
func videoConstraints(c camera.StreamConstraints) mediadevices.MediaOption {
	return func(constraint *mediadevices.MediaTrackConstraints) {
		if c.DeviceID != "" {
			constraint.DeviceID = prop.StringExact(c.DeviceID)
		}
		if c.Width > 0 {
			constraint.Width = prop.IntRanged{Min: 0, Ideal: c.Width, Max: 4096}
		} else {
			constraint.Width = prop.IntRanged{Min: 0, Ideal: 640, Max: 4096}
		}
		if c.Height > 0 {
			constraint.Height = prop.IntRanged{Min: 0, Ideal: c.Height, Max: 2160}
		} else {
			constraint.Height = prop.IntRanged{Min: 0, Ideal: 480, Max: 2160}
		}
		if c.FrameRate > 0 {
			constraint.FrameRate = prop.FloatRanged{Min: 0, Ideal: float32(c.FrameRate), Max: 140}
		} else {
			constraint.FrameRate = prop.FloatRanged{Min: 0, Ideal: 30, Max: 140}
		}
		constraint.FrameFormat = prop.FrameFormatOneOf{
			frame.FormatI420,
			frame.FormatI444,
			frame.FormatYUY2,
			frame.FormatUYVY,
			frame.FormatRGBA,
			frame.FormatMJPEG,
			frame.FormatNV12,
			frame.FormatNV21,
		}
	}
}

// driverProperties はドライバを一時的に開いてプロパティを取得する
func driverProperties(d driverutils.Driver) (_ []prop.Media, err error) {
	if d.Status() == driverutils.StateClosed {
		if errOpen := d.Open(); errOpen != nil {
			return nil, errOpen
		}
		defer func() {
			if errClose := d.Close(); errClose != nil && err == nil {
				err = errClose
			}
		}()
	}
	return d.Properties(), err
}

// resolutionsFromProps は重複を除いた解像度一覧を大きい順に返す
func resolutionsFromProps(props []prop.Media) []camera.Resolution {
	sizes := lo.Uniq(lo.FilterMap(props, func(p prop.Media, _ int) (camera.Resolution, bool) {
		r := camera.Resolution{Width: p.Video.Width, Height: p.Video.Height}
		return r, !r.IsZero()
	}))
	sort.SliceStable(sizes, func(i, j int) bool {
		return sizes[i].Width*sizes[i].Height > sizes[j].Width*sizes[j].Height
	})
	return sizes
}

// driverLabel はドライバ情報から表示名を取り出す
// Name がなければ Label の先頭 (デバイスパス) を使う
func driverLabel(info driverutils.Info) string {
	if name := strings.TrimSpace(strings.Split(info.Name, mediadevicescamera.LabelSeparator)[0]); name != "" {
		return name
	}
	return strings.Split(info.Label, mediadevicescamera.LabelSeparator)[0]
}

// classifyError はドライバのエラーを camera のエラーへ分類する
func classifyError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case isPermissionError(err):
		return errors.Wrap(camera.ErrPermissionDenied, err.Error())
	case strings.Contains(msg, "busy"):
		return errors.Wrap(camera.ErrDeviceBusy, err.Error())
	case strings.Contains(msg, "failed to find"), strings.Contains(msg, "no such"), strings.Contains(msg, "not found"):
		return errors.Wrap(camera.ErrNoCameraAvailable, err.Error())
	default:
		return errors.Wrap(err, "failed to get user media")
	}
}

func isPermissionError(err error) bool {
	return errors.Is(err, fs.ErrPermission) || strings.Contains(strings.ToLower(err.Error()), "permission denied")
}

// Stream は mediadevices のトラックをまとめたストリーム
type Stream struct {
	id     string
	tracks []*Track
}

// ID はストリームIDを返す
func (s *Stream) ID() string { return s.id }

// VideoTracks は映像トラックを返す
func (s *Stream) VideoTracks() []camera.Track {
	return lo.Map(s.tracks, func(t *Track, _ int) camera.Track { return t })
}
