package gallery

import (
	"time"
)

// Config は撮影画像の保存設定
type Config struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`                                   // 有効/無効
	Dir             string        `yaml:"dir" json:"dir" validate:"required_if=Enabled true"`       // 保存先ディレクトリ
	RetentionDays   int           `yaml:"retention_days" json:"retention_days" validate:"gte=0"`     // 保持期間（日数）、0は無期限
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" validate:"gte=0"` // 期限切れ削除の間隔
	MaxPictures     int           `yaml:"max_pictures" json:"max_pictures" validate:"gte=0"`         // 保持する最大枚数、0は無制限
}

// Picture は保存済みの撮影画像
type Picture struct {
	ID        string    `json:"id"`         // ファイル名から拡張子を除いたもの
	FileName  string    `json:"file_name"`  // ファイル名
	Path      string    `json:"path"`       // ファイルパス
	URI       string    `json:"uri"`        // file:// URI
	Format    string    `json:"format"`     // jpg / png
	Size      int64     `json:"size"`       // ファイルサイズ
	CreatedAt time.Time `json:"created_at"` // 撮影時刻
}

// StatusInfo はギャラリーの状態情報
type StatusInfo struct {
	Enabled       bool      `json:"enabled"`
	TotalPictures int       `json:"total_pictures"`
	StorageUsed   int64     `json:"storage_used"`
	LastSaved     time.Time `json:"last_saved"`
}

// DefaultConfig はデフォルトのギャラリー設定を返す
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Dir:             "pictures",
		RetentionDays:   30,
		CleanupInterval: 1 * time.Hour,
		MaxPictures:     1000,
	}
}
