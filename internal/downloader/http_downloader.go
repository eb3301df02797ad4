package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/iconidentify/xstitch/internal/config"
	"github.com/iconidentify/xstitch/internal/domain"
)

// errStalled is returned when no bytes arrive for the configured read timeout.
var errStalled = errors.New("download stalled")

// HTTPDownloader implements Downloader using HTTP requests.
type HTTPDownloader struct {
	// streamClient is used for streaming downloads without overall timeout
	streamClient *http.Client
	userAgent    string
	cfg          config.DownloadConfig
	retry        RetryConfig
	fs           afero.Fs
	logger       *slog.Logger
}

// NewHTTPDownloader creates a new HTTP-based segment downloader writing to fs.
func NewHTTPDownloader(cfg config.DownloadConfig, fs afero.Fs) *HTTPDownloader {
	// Transport for streaming downloads - no overall timeout, but header timeout
	streamTransport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: cfg.HeaderTimeout,
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	d := &HTTPDownloader{
		streamClient: &http.Client{
			Transport: streamTransport,
			// No Timeout - we use per-read stall detection instead
		},
		userAgent: cfg.UserAgent,
		cfg:       cfg,
		retry:     RetryConfigFrom(cfg),
		fs:        fs,
		logger:    slog.Default(),
	}
	d.retry.OnRetry = d.logRetry
	return d
}

// SetLogger sets the logger for download progress reporting.
func (d *HTTPDownloader) SetLogger(logger *slog.Logger) {
	d.logger = logger
}

// Download fetches url into destPath, retrying per the configured policy.
func (d *HTTPDownloader) Download(ctx context.Context, url, destPath string) (int64, error) {
	n, err := RetryWithCheck(ctx, d.retry, func() (int64, error) {
		return d.downloadOnce(ctx, url, destPath)
	}, isRetryableError)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrDownloadFailed, err)
	}
	return n, nil
}

func (d *HTTPDownloader) downloadOnce(ctx context.Context, url, destPath string) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	// Set headers to mimic browser request
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "video/mp4,video/*;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Referer", "https://x.com/")

	resp, err := d.streamClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return 0, domain.ErrURLExpired
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, domain.ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	// Write to a sibling .part file and rename, so a failed transfer never
	// leaves a truncated segment at destPath.
	partPath := destPath + ".part"
	f, err := d.fs.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	pr := newProgressReader(resp.Body, resp.ContentLength, d.cfg.ReadTimeout, cancel, d.logger, url)
	n, copyErr := io.Copy(f, pr)
	pr.Close()
	closeErr := f.Close()

	if copyErr != nil || closeErr != nil {
		d.fs.Remove(partPath)
		if pr.Stalled() {
			return 0, fmt.Errorf("%w: no data received for %v", errStalled, d.cfg.ReadTimeout)
		}
		if copyErr != nil {
			return 0, fmt.Errorf("write body: %w", copyErr)
		}
		return 0, fmt.Errorf("close file: %w", closeErr)
	}

	if resp.ContentLength >= 0 && n != resp.ContentLength {
		d.fs.Remove(partPath)
		return 0, fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}

	if err := d.fs.Rename(partPath, destPath); err != nil {
		d.fs.Remove(partPath)
		return 0, fmt.Errorf("rename file: %w", err)
	}

	return n, nil
}

func (d *HTTPDownloader) logRetry(attempt int, err error, delay time.Duration) {
	d.logger.Warn("download failed, will retry",
		"attempt", attempt,
		"max_attempts", d.retry.MaxAttempts,
		"delay", delay,
		"error", err,
	)
}

func isRetryableError(err error) bool {
	// URL expired is not retryable
	if errors.Is(err, domain.ErrURLExpired) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Rate limits, stalls and network errors are
	return true
}

// progressReader wraps an io.ReadCloser to track download progress
// and detect stalls (no data for readTimeout).
type progressReader struct {
	reader      io.ReadCloser
	total       int64
	downloaded  int64
	lastLog     time.Time
	logger      *slog.Logger
	url         string
	stall       *time.Timer
	readTimeout time.Duration

	mu      sync.Mutex
	closed  bool
	stalled bool
}

func newProgressReader(r io.ReadCloser, total int64, readTimeout time.Duration, onStall context.CancelFunc, logger *slog.Logger, url string) *progressReader {
	p := &progressReader{
		reader:      r,
		total:       total,
		lastLog:     time.Now(),
		logger:      logger,
		url:         url,
		readTimeout: readTimeout,
	}
	if readTimeout > 0 {
		p.stall = time.AfterFunc(readTimeout, func() {
			p.mu.Lock()
			p.stalled = true
			p.mu.Unlock()
			onStall()
		})
	}
	return p
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)

	p.mu.Lock()
	defer p.mu.Unlock()

	if n > 0 {
		p.downloaded += int64(n)
		if p.stall != nil && !p.stalled {
			p.stall.Reset(p.readTimeout)
		}

		// Log progress every 30 seconds
		if time.Since(p.lastLog) > 30*time.Second {
			p.logProgress()
			p.lastLog = time.Now()
		}
	}

	return n, err
}

// Stalled reports whether the read timeout fired.
func (p *progressReader) Stalled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stalled
}

func (p *progressReader) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.stall != nil {
		p.stall.Stop()
	}
	p.mu.Unlock()

	return p.reader.Close()
}

func (p *progressReader) logProgress() {
	if p.total > 0 {
		pct := float64(p.downloaded) / float64(p.total) * 100
		p.logger.Info("download progress",
			"url", p.url,
			"downloaded", humanize.Bytes(uint64(p.downloaded)),
			"total", humanize.Bytes(uint64(p.total)),
			"percent", fmt.Sprintf("%.1f%%", pct),
		)
	} else {
		p.logger.Info("download progress",
			"url", p.url,
			"downloaded", humanize.Bytes(uint64(p.downloaded)),
		)
	}
}
