package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"camerakit/internal/camera"
	"camerakit/internal/gallery"
)

// EnvConfigFile は設定ファイルのパスを指定する環境変数
const EnvConfigFile = "CAMERAKIT_CONFIG"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Camera  CameraConfig   `yaml:"camera"`
	Gallery gallery.Config `yaml:"gallery"`
	Debug   bool           `yaml:"debug"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`                 // リッスンするホスト
	Port int    `yaml:"port" validate:"required,min=1,max=65535"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"` // 書き込みタイムアウト
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Backend string `yaml:"backend" validate:"required"` // バックエンド名 (native / fake)

	// オープン時のデフォルト設定
	Facing      camera.Facing `yaml:"facing" validate:"omitempty,oneof=front back"`  // 向き
	PictureSize string        `yaml:"picture_size" validate:"omitempty,picturesize"` // 撮影サイズ (例: 1280x720)

	// プレビュー設定
	PreviewFPS     int     `yaml:"preview_fps" validate:"min=1,max=60"`   // MJPEGプレビューのフレームレート
	PreviewQuality float64 `yaml:"preview_quality" validate:"gt=0,lte=1"` // MJPEGプレビューのJPEG品質
	PreviewScale   float64 `yaml:"preview_scale" validate:"gte=0,lte=1"`  // MJPEGプレビューの縮小率、0は等倍
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Camera: CameraConfig{
			Backend:        "native",
			Facing:         camera.FacingBack,
			PreviewFPS:     10,
			PreviewQuality: 0.7,
			PreviewScale:   0,
		},
		Gallery: gallery.DefaultConfig(),
	}
}

// Load は設定を読み込む
// CAMERAKIT_CONFIG が指定されていればそのファイルを読み、環境変数で上書きする
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvConfigFile))
}

// LoadFile は指定したYAMLファイルから設定を読み込む
// path が空の場合はデフォルト値を使う
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "設定ファイルの読み込みに失敗: %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "設定ファイルの解析に失敗: %s", path)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "設定の検証に失敗")
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Server.Port = getEnvAsIntOrDefault("SERVER_PORT", c.Server.Port)
	c.Camera.Backend = getEnvOrDefault("CAMERA_BACKEND", c.Camera.Backend)
	c.Gallery.Dir = getEnvOrDefault("GALLERY_DIR", c.Gallery.Dir)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("picturesize", func(fl validator.FieldLevel) bool {
		return !camera.ParsePictureSize(fl.Field().String()).IsZero()
	})
	return v
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s=%v", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.Errorf("無効な設定: %s", strings.Join(msgs, ", "))
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// OpenConfig はカメラを開くときのデフォルト設定を返す
func (c *Config) OpenConfig() camera.Config {
	return camera.Config{
		Facing:      c.Camera.Facing,
		PictureSize: c.Camera.PictureSize,
	}
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
