package gallery

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"camerakit/internal/camera"
)

// ファイル名に埋め込む撮影時刻の形式 (UTC)
const timestampLayout = "20060102T150405.000"

const filePrefix = "picture_"

// Store は撮影画像をディレクトリに保存する
type Store struct {
	config Config
	clock  clock.Clock
	logger *zap.SugaredLogger

	mu        sync.RWMutex
	lastSaved time.Time

	// 制御用
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewStore は新しいStoreを作成する
func NewStore(config Config, clk clock.Clock, logger *zap.SugaredLogger) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		config: config,
		clock:  clk,
		logger: logger,
	}
}

// Start は保存先を作成し、期限切れ画像の定期削除を開始する
func (s *Store) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("ギャラリーは無効です")
		return nil
	}
	if err := os.MkdirAll(s.config.Dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create picture directory")
	}

	s.mu.Lock()
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	if s.config.CleanupInterval > 0 {
		s.wg.Add(1)
		go s.cleanupScheduler(ctx, stopCh)
	}
	s.logger.Infow("ギャラリーを開始しました", "dir", s.config.Dir)
	return nil
}

// Stop は定期削除を停止する
func (s *Store) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Store) cleanupScheduler(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := s.clock.Ticker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if removed, err := s.Cleanup(); err != nil {
				s.logger.Warnw("期限切れ画像の削除に失敗しました", "error", err)
			} else if removed > 0 {
				s.logger.Infow("期限切れ画像を削除しました", "count", removed)
			}
		}
	}
}

// Save は撮影画像をファイルに書き出す
func (s *Store) Save(img *camera.CapturedImage) (Picture, error) {
	if !s.config.Enabled {
		return Picture{}, errors.New("ギャラリーは無効です")
	}
	if img == nil || len(img.Data) == 0 {
		return Picture{}, errors.New("picture has no data")
	}

	format := img.Format
	if format == "" {
		format = camera.FormatJPEG
	}
	now := s.clock.Now().UTC()
	id := filePrefix + now.Format(timestampLayout) + "_" + uuid.NewString()[:8]
	name := id + "." + format
	path := filepath.Join(s.config.Dir, name)

	if err := os.MkdirAll(s.config.Dir, 0o755); err != nil {
		return Picture{}, errors.Wrap(err, "failed to create picture directory")
	}
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		return Picture{}, errors.Wrapf(err, "failed to write picture %s", name)
	}

	s.mu.Lock()
	s.lastSaved = now
	s.mu.Unlock()

	pic := Picture{
		ID:        id,
		FileName:  name,
		Path:      path,
		URI:       fileURI(path),
		Format:    format,
		Size:      int64(len(img.Data)),
		CreatedAt: now,
	}
	s.logger.Debugw("画像を保存しました", "file", name, "size", pic.Size)

	if s.config.MaxPictures > 0 {
		if _, err := s.trim(s.config.MaxPictures); err != nil {
			s.logger.Warnw("古い画像の削除に失敗しました", "error", err)
		}
	}
	return pic, nil
}

// List は保存済み画像を新しい順に返す
func (s *Store) List() ([]Picture, error) {
	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Picture{}, nil
		}
		return nil, errors.Wrap(err, "failed to read picture directory")
	}

	pictures := make([]Picture, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		pic, ok := parsePicture(s.config.Dir, entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.logger.Debugw("画像ファイルの情報を取得できませんでした", "file", entry.Name(), "error", err)
			continue
		}
		pic.Size = info.Size()
		pictures = append(pictures, pic)
	}

	sort.SliceStable(pictures, func(i, j int) bool {
		return pictures[i].CreatedAt.After(pictures[j].CreatedAt)
	})
	return pictures, nil
}

// Cleanup は保持期間を過ぎた画像を削除し、削除数を返す
func (s *Store) Cleanup() (int, error) {
	if s.config.RetentionDays <= 0 {
		return 0, nil
	}
	pictures, err := s.List()
	if err != nil {
		return 0, err
	}

	deadline := s.clock.Now().Add(-time.Duration(s.config.RetentionDays) * 24 * time.Hour)
	expired := lo.Filter(pictures, func(p Picture, _ int) bool {
		return p.CreatedAt.Before(deadline)
	})
	return removeAll(expired)
}

// trim は最大枚数を超えた古い画像を削除する
func (s *Store) trim(limit int) (int, error) {
	pictures, err := s.List()
	if err != nil {
		return 0, err
	}
	if len(pictures) <= limit {
		return 0, nil
	}
	return removeAll(pictures[limit:])
}

// Status はギャラリーの状態を返す
func (s *Store) Status() (StatusInfo, error) {
	pictures, err := s.List()
	if err != nil {
		return StatusInfo{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatusInfo{
		Enabled:       s.config.Enabled,
		TotalPictures: len(pictures),
		StorageUsed:   lo.SumBy(pictures, func(p Picture) int64 { return p.Size }),
		LastSaved:     s.lastSaved,
	}, nil
}

// Open は保存済み画像のパスを返す。ディレクトリ外は参照できない
func (s *Store) Open(fileName string) (Picture, error) {
	if fileName != filepath.Base(fileName) {
		return Picture{}, errors.Errorf("invalid picture name: %s", fileName)
	}
	pic, ok := parsePicture(s.config.Dir, fileName)
	if !ok {
		return Picture{}, errors.Errorf("invalid picture name: %s", fileName)
	}
	info, err := os.Stat(pic.Path)
	if err != nil {
		return Picture{}, errors.Wrapf(err, "picture %s not found", fileName)
	}
	pic.Size = info.Size()
	return pic, nil
}

func removeAll(pictures []Picture) (int, error) {
	var errs error
	removed := 0
	for _, p := range pictures {
		if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}

// parsePicture はファイル名から撮影時刻とフォーマットを取り出す
func parsePicture(dir, name string) (Picture, bool) {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext != camera.FormatJPEG && ext != camera.FormatPNG {
		return Picture{}, false
	}
	id := strings.TrimSuffix(name, "."+ext)
	if !strings.HasPrefix(id, filePrefix) {
		return Picture{}, false
	}
	stamp, _, found := strings.Cut(strings.TrimPrefix(id, filePrefix), "_")
	if !found {
		return Picture{}, false
	}
	createdAt, err := time.Parse(timestampLayout, stamp)
	if err != nil {
		return Picture{}, false
	}

	path := filepath.Join(dir, name)
	return Picture{
		ID:        id,
		FileName:  name,
		Path:      path,
		URI:       fileURI(path),
		Format:    ext,
		CreatedAt: createdAt,
	}, true
}

func fileURI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}
