package downloader

import (
	"context"
)

// Downloader fetches a URL to a local file.
type Downloader interface {
	// Download streams url into destPath and returns the number of bytes written.
	// On failure nothing is left at destPath.
	Download(ctx context.Context, url, destPath string) (int64, error)
}
