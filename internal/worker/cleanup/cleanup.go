// Package cleanup はどの投稿からも参照されていない画像を削除するジョブを提供する。
// 投稿の保存に失敗した後の補償削除が失敗した画像などが対象になる。
// アップロード直後の画像を消さないよう、猶予期間より新しいオブジェクトは対象外とする。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/lostfound/internal/storage"
)

// ImageURLLister は投稿が参照している画像URLを列挙する。repository.ItemRepositoryが実装する。
type ImageURLLister interface {
	ListImageURLs(ctx context.Context) ([]string, error)
}

// BlobLister はバケット内のオブジェクトの列挙と削除を行う。
type BlobLister interface {
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	PathFromURL(publicURL string) (string, bool)
	Delete(ctx context.Context, objectPath string) error
}

// Recorder は削除件数を記録する。
type Recorder interface {
	RecordOrphansRemoved(count int)
}

// ErrUnresolvedReferences は投稿が参照する画像URLをバケット内のパスに対応付けられないことを表す。
// 公開URLやバケット名の変更後に参照中の画像を削除しないよう、この場合は削除を行わない。
var ErrUnresolvedReferences = errors.New("referenced image urls do not resolve to stored objects")

// SweepResult は1回のスイープの結果。
type SweepResult struct {
	Scanned    int
	Removed    int
	Failed     int
	Unresolved int // バケット内のパスに対応付けられなかった参照URLの数
}

// OrphanSweeper は参照されていない画像を削除するジョブ。
// 何度実行しても結果は変わらない。
type OrphanSweeper struct {
	items    ImageURLLister
	blobs    BlobLister
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	GracePeriod    time.Duration // これより新しいオブジェクトは削除しない（デフォルト: 24時間）
	MaxConcurrency int           // 削除の最大並列数（デフォルト: 4）
}

// NewOrphanSweeper は新しいOrphanSweeperを生成する。recorderはnilでもよい。
func NewOrphanSweeper(items ImageURLLister, blobs BlobLister, recorder Recorder, logger *slog.Logger) *OrphanSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrphanSweeper{
		items:          items,
		blobs:          blobs,
		recorder:       recorder,
		logger:         logger,
		now:            time.Now,
		GracePeriod:    24 * time.Hour,
		MaxConcurrency: 4,
	}
}

// Start はinterval間隔でスイープを実行する。起動直後に1回実行し、
// コンテキストがキャンセルされるまで継続する。
func (s *OrphanSweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("orphan sweeper started",
		slog.Duration("interval", interval),
		slog.Duration("grace_period", s.GracePeriod),
	)

	s.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("orphan sweeper stopped")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *OrphanSweeper) runLogged(ctx context.Context) {
	if _, err := s.Run(ctx); err != nil {
		s.logger.Error("orphan sweep failed", slog.String("error", err.Error()))
	}
}

// Run はバケット内のオブジェクトと投稿の画像URLを突き合わせ、
// 猶予期間を過ぎた未参照のオブジェクトを削除する。
// 個々の削除失敗はログに残して次回に持ち越す。
// 参照URLが1件でもバケット内のパスに対応付けられない場合は何も削除せずErrUnresolvedReferencesを返す。
func (s *OrphanSweeper) Run(ctx context.Context) (SweepResult, error) {
	start := s.now()
	var result SweepResult

	// 参照一覧はオブジェクトの列挙より先に取得する。
	urls, err := s.items.ListImageURLs(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list referenced images: %w", err)
	}
	referenced := make(map[string]struct{}, len(urls))
	var unresolved []string
	for _, u := range urls {
		if u == "" {
			continue
		}
		p, ok := s.blobs.PathFromURL(u)
		if !ok {
			unresolved = append(unresolved, u)
			continue
		}
		referenced[p] = struct{}{}
	}
	if len(unresolved) > 0 {
		result.Unresolved = len(unresolved)
		s.logger.Warn("orphan sweep skipped: referenced images outside the bucket",
			slog.Int("unresolved", len(unresolved)),
			slog.String("example", unresolved[0]),
		)
		return result, fmt.Errorf("%w: %d of %d urls", ErrUnresolvedReferences, len(unresolved), len(urls))
	}

	objects, err := s.blobs.List(ctx, "")
	if err != nil {
		return result, fmt.Errorf("failed to list stored images: %w", err)
	}
	result.Scanned = len(objects)

	cutoff := start.Add(-s.GracePeriod)
	var orphans []string
	for _, obj := range objects {
		if _, ok := referenced[obj.Path]; ok {
			continue
		}
		if obj.LastModified.After(cutoff) {
			continue
		}
		orphans = append(orphans, obj.Path)
	}

	removed, failed := s.deleteAll(ctx, orphans)
	result.Removed = removed
	result.Failed = failed

	if s.recorder != nil && removed > 0 {
		s.recorder.RecordOrphansRemoved(removed)
	}

	s.logger.Info("orphan sweep completed",
		slog.Int("scanned", result.Scanned),
		slog.Int("removed", result.Removed),
		slog.Int("failed", result.Failed),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)
	return result, nil
}

// deleteAll はsemaphoreで並列数を制限しながらオブジェクトを削除する。
func (s *OrphanSweeper) deleteAll(ctx context.Context, paths []string) (removed, failed int) {
	limit := s.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(objectPath string) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.blobs.Delete(ctx, objectPath)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				s.logger.Error("failed to remove orphaned image",
					slog.String("path", objectPath),
					slog.String("error", err.Error()),
				)
				return
			}
			removed++
		}(p)
	}
	wg.Wait()
	return removed, failed
}
