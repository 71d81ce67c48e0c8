package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"camerakit/internal/camera"
)

// TestConfigLoad は設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	t.Setenv(EnvConfigFile, "")

	// 設定を読み込む
	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// 基本的な設定値を検証
	if cfg == nil {
		t.Fatal("設定がnilです")
	}

	// サーバー設定の検証
	if cfg.Server.Host == "" {
		t.Error("サーバーホストが設定されていません")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Errorf("無効なポート番号: %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		t.Error("読み込みタイムアウトが設定されていません")
	}
	// WriteTimeout は 0（無効）でも正常
	if cfg.Server.WriteTimeout < 0 {
		t.Error("書き込みタイムアウトが負の値です")
	}

	// カメラ設定の検証
	if cfg.Camera.Backend == "" {
		t.Error("カメラバックエンドが設定されていません")
	}
	if cfg.Camera.PreviewFPS <= 0 {
		t.Error("プレビューFPSが設定されていません")
	}
	if !cfg.Gallery.Enabled || cfg.Gallery.Dir == "" {
		t.Error("ギャラリーが設定されていません")
	}
}

// TestLoadFile はYAMLファイルからの読み込みをテストする
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camerakit.yaml")
	content := `
server:
  host: 127.0.0.1
  port: 9000
  read_timeout: 5s
camera:
  backend: fake
  facing: front
  picture_size: 1280x720
  preview_fps: 5
  preview_quality: 0.5
gallery:
  enabled: true
  dir: /tmp/pictures
  retention_days: 7
  cleanup_interval: 30m
debug: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.ServerAddress() != "127.0.0.1:9000" {
		t.Errorf("サーバーアドレスが一致しません: %s", cfg.ServerAddress())
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("読み込みタイムアウトが一致しません: %v", cfg.Server.ReadTimeout)
	}
	if cfg.Gallery.CleanupInterval != 30*time.Minute || cfg.Gallery.RetentionDays != 7 {
		t.Errorf("ギャラリー設定が一致しません: %+v", cfg.Gallery)
	}
	if !cfg.Debug {
		t.Error("デバッグ設定が反映されていません")
	}

	want := camera.Config{Facing: camera.FacingFront, PictureSize: "1280x720"}
	if diff := cmp.Diff(want, cfg.OpenConfig()); diff != "" {
		t.Errorf("カメラ設定が一致しません (-want +got):\n%s", diff)
	}
	// ファイルにない項目はデフォルト値のまま
	if cfg.Gallery.MaxPictures != 1000 {
		t.Errorf("デフォルト値が失われています: max_pictures=%d", cfg.Gallery.MaxPictures)
	}
}

// TestLoadFileErrors は読み込みエラーをテストする
func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	badPort := filepath.Join(dir, "port.yaml")
	if err := os.WriteFile(badPort, []byte("server:\n  port: 70000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{filepath.Join(dir, "missing.yaml"), invalid, badPort} {
		if _, err := LoadFile(path); err == nil {
			t.Errorf("%s: エラーが期待されました", filepath.Base(path))
		}
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{
			name:      "正常な設定",
			modify:    func(*Config) {},
			expectErr: false,
		},
		{
			name:      "無効なポート番号",
			modify:    func(c *Config) { c.Server.Port = 99999 },
			expectErr: true,
		},
		{
			name:      "バックエンドなし",
			modify:    func(c *Config) { c.Camera.Backend = "" },
			expectErr: true,
		},
		{
			name:      "無効な向き",
			modify:    func(c *Config) { c.Camera.Facing = "sideways" },
			expectErr: true,
		},
		{
			name:      "向きの指定なし",
			modify:    func(c *Config) { c.Camera.Facing = camera.FacingUnspecified },
			expectErr: false,
		},
		{
			name:      "無効な撮影サイズ",
			modify:    func(c *Config) { c.Camera.PictureSize = "huge" },
			expectErr: true,
		},
		{
			name:      "無効なプレビュー品質",
			modify:    func(c *Config) { c.Camera.PreviewQuality = 1.5 },
			expectErr: true,
		},
		{
			name:      "ギャラリー有効で保存先なし",
			modify:    func(c *Config) { c.Gallery.Dir = "" },
			expectErr: true,
		},
		{
			name: "ギャラリー無効なら保存先は不要",
			modify: func(c *Config) {
				c.Gallery.Enabled = false
				c.Gallery.Dir = ""
			},
			expectErr: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)
			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	actual := cfg.ServerAddress()

	if actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestEnvironmentVariables は環境変数の処理をテストする
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("CAMERA_BACKEND", "fake")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("環境変数のホストが反映されていません: got %s, want test.example.com", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("環境変数のポートが反映されていません: got %d, want 9999", cfg.Server.Port)
	}
	if cfg.Camera.Backend != "fake" {
		t.Errorf("環境変数のバックエンドが反映されていません: got %s", cfg.Camera.Backend)
	}
}
