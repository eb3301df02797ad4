package domain

import "errors"

// Domain errors.
var (
	// ErrConfiguration is returned when required configuration is missing or invalid.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrInvalidTweetRef is returned when a tweet URL or ID cannot be parsed.
	ErrInvalidTweetRef = errors.New("invalid tweet URL or ID")

	// ErrPostNotFound is returned when the root post does not exist or is inaccessible.
	ErrPostNotFound = errors.New("post not found")

	// ErrAuthResolution is returned when the query service rejects our credentials.
	ErrAuthResolution = errors.New("authentication failed")

	// ErrPaginationOverrun is returned when the reply search never stops paginating.
	ErrPaginationOverrun = errors.New("pagination did not terminate")

	// ErrNoDownloadableVariant is returned when an attachment has no variant with a bit-rate.
	ErrNoDownloadableVariant = errors.New("no downloadable variant")

	// ErrDownloadFailed is returned when a segment download fails.
	ErrDownloadFailed = errors.New("segment download failed")

	// ErrInsufficientSpace is returned when the scratch filesystem is too full to fetch into.
	ErrInsufficientSpace = errors.New("insufficient disk space")

	// ErrURLExpired is returned when the video URL has expired.
	ErrURLExpired = errors.New("video URL has expired")

	// ErrRateLimited is returned when rate limited by external services.
	ErrRateLimited = errors.New("rate limited")

	// ErrConcatenationFailed is returned when the concatenation tool fails.
	ErrConcatenationFailed = errors.New("concatenation failed")

	// ErrNoSegments is returned when a thread yields nothing to stitch.
	ErrNoSegments = errors.New("thread has no video segments")
)

// StageError wraps an error with the pipeline stage it came from.
type StageError struct {
	Stage Stage
	Ref   string
	Err   error
}

func (e *StageError) Error() string {
	if e.Ref != "" {
		return e.Stage.String() + " [" + e.Ref + "]: " + e.Err.Error()
	}
	return e.Stage.String() + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a new StageError.
func NewStageError(stage Stage, ref string, err error) *StageError {
	return &StageError{
		Stage: stage,
		Ref:   ref,
		Err:   err,
	}
}
