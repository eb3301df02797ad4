package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/xstitch/internal/downloader"
	"github.com/iconidentify/xstitch/internal/worker"
)

// SegmentFileName returns the scratch file name for the clip at position i.
// Names sort lexically in position order.
func SegmentFileName(i int) string {
	return fmt.Sprintf("%05d.mp4", i)
}

// SegmentFetcher downloads clips into a scratch directory.
type SegmentFetcher struct {
	dl     downloader.Downloader
	pool   *worker.Pool
	logger *slog.Logger
}

// NewSegmentFetcher creates a fetcher that downloads through dl, running up
// to pool.Workers() downloads at once.
func NewSegmentFetcher(dl downloader.Downloader, pool *worker.Pool, logger *slog.Logger) *SegmentFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if pool == nil {
		pool = worker.NewPool(worker.Config{Workers: 1}, logger)
	}
	return &SegmentFetcher{
		dl:     dl,
		pool:   pool,
		logger: logger,
	}
}

// Fetch downloads urls[i] to scratchDir/SegmentFileName(i) and returns the
// local paths in the same order as urls, however downloads interleave.
// The first failed download aborts the rest and is returned.
func (f *SegmentFetcher) Fetch(ctx context.Context, urls []string, scratchDir string) ([]string, error) {
	paths := make([]string, len(urls))
	for i := range urls {
		paths[i] = filepath.Join(scratchDir, SegmentFileName(i))
	}

	f.logger.Info("downloading segments",
		"count", len(urls),
		"dir", scratchDir,
		"concurrency", f.pool.Workers(),
	)

	var total atomic.Int64
	err := f.pool.Run(ctx, len(urls), func(ctx context.Context, i int) error {
		f.logger.Info(fmt.Sprintf("downloading video %d/%d", i+1, len(urls)), "url", urls[i])
		n, err := f.dl.Download(ctx, urls[i], paths[i])
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		total.Add(n)
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info("downloaded segments",
		"count", len(urls),
		"size", humanize.Bytes(uint64(total.Load())),
	)
	return paths, nil
}
