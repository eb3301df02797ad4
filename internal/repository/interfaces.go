package repository

import (
	"context"

	"github.com/iconidentify/xstitch/internal/domain"
)

// RunRepository keeps a history of finished stitch runs.
type RunRepository interface {
	// Save inserts or replaces a run by ID.
	Save(ctx context.Context, run *domain.Run) error

	// Get retrieves a run by ID.
	Get(ctx context.Context, id domain.RunID) (*domain.Run, error)

	// Recent returns up to limit runs, newest first.
	Recent(ctx context.Context, limit int) ([]*domain.Run, error)

	// Close releases the underlying store.
	Close() error
}
