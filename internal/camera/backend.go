package camera

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// BackendFake はテスト・デモ用の仮想カメラバックエンド名
const BackendFake = "fake"

// Backend はプラットフォーム実装の組み合わせ
type Backend struct {
	Devices    MediaDevices
	NewSurface func() Surface
}

// BackendCreator はバックエンド作成関数の型
type BackendCreator func(logger *zap.SugaredLogger) (Backend, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]BackendCreator)
)

func init() {
	RegisterBackend(BackendFake, func(_ *zap.SugaredLogger) (Backend, error) {
		devices := NewFakeDevices(
			FakeCamera("fake-front", "Fake Front Camera", FacingFront),
			FakeCamera("fake-back", "Fake Back Camera", FacingBack),
		)
		full := TrackCapabilities{
			Zoom:              Range{Supported: true, Min: 1, Max: 4, Step: 0.1},
			Torch:             true,
			WhiteBalanceModes: []string{"continuous", "manual"},
			ColorTemperature:  Range{Supported: true, Min: 2500, Max: 7500, Step: 100},
			FocusModes:        []string{"continuous", "manual"},
			Width:             Range{Supported: true, Min: 320, Max: 1920, Step: 1},
			Height:            Range{Supported: true, Min: 240, Max: 1080, Step: 1},
			Resizable:         true,
		}
		devices.SetCapabilities("fake-back", full)
		devices.SetCapabilities("fake-front", TrackCapabilities{
			Width:     full.Width,
			Height:    full.Height,
			Resizable: true,
		})
		return Backend{
			Devices:    devices,
			NewSurface: func() Surface { return NewFakeSurface() },
		}, nil
	})
}

// RegisterBackend はバックエンド作成関数を登録する
func RegisterBackend(name string, creator BackendCreator) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = creator
}

// NewBackend は登録済みのバックエンドを作成する
func NewBackend(name string, logger *zap.SugaredLogger) (Backend, error) {
	backendsMu.RLock()
	creator, exists := backends[name]
	backendsMu.RUnlock()
	if !exists {
		return Backend{}, errors.Errorf("unsupported camera backend: %s", name)
	}
	return creator(logger)
}

// Backends は登録済みのバックエンド名を返す
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
