package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/iconidentify/xstitch/internal/domain"
)

// maxOutputExcerpt bounds how much ffmpeg output is kept on failure.
const maxOutputExcerpt = 4096

// ConcatError reports a non-zero ffmpeg exit.
type ConcatError struct {
	ExitCode int
	Output   string
}

func (e *ConcatError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("ffmpeg exited with status %d", e.ExitCode)
	}
	return fmt.Sprintf("ffmpeg exited with status %d: %s", e.ExitCode, out)
}

// Unwrap lets callers match domain.ErrConcatenationFailed.
func (e *ConcatError) Unwrap() error {
	return domain.ErrConcatenationFailed
}

// Concatenator joins clips with the ffmpeg concat demuxer, stream-copying
// every input into one output file.
type Concatenator struct {
	ffmpegPath  string
	manifestDir string
	fs          afero.Fs
	logger      *slog.Logger
}

// ConcatConfig configures a Concatenator.
type ConcatConfig struct {
	// FFmpegPath is a binary name looked up in PATH, or a path to the binary.
	FFmpegPath string
	// ManifestDir holds the temporary manifest. Empty means the OS temp dir.
	ManifestDir string
}

// NewConcatenator resolves the ffmpeg binary and returns a Concatenator.
// fs must be backed by the real filesystem since ffmpeg reads the manifest
// and the inputs directly.
func NewConcatenator(cfg ConcatConfig, fs afero.Fs, logger *slog.Logger) (*Concatenator, error) {
	name := cfg.FFmpegPath
	if name == "" {
		name = "ffmpeg"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found: %v", domain.ErrConfiguration, err)
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Concatenator{
		ffmpegPath:  path,
		manifestDir: cfg.ManifestDir,
		fs:          fs,
		logger:      logger,
	}, nil
}

// Concat writes a concat manifest for paths, in order, and has ffmpeg
// stream-copy them into outputPath. The manifest is removed whether or not
// ffmpeg succeeds, and outputPath is only created when it does.
func (c *Concatenator) Concat(ctx context.Context, paths []string, outputPath string) error {
	if len(paths) == 0 {
		return domain.ErrNoSegments
	}

	manifest, err := c.writeManifest(paths)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.fs.Remove(manifest); err != nil {
			c.logger.Warn("failed to remove concat manifest", "path", manifest, "error", err)
		}
	}()

	partial := partialPath(outputPath)
	defer func() {
		// Only present when ffmpeg failed or the rename did not happen.
		_ = c.fs.Remove(partial)
	}()

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-c", "copy",
		"-y",
		partial,
	}

	c.logger.Info("concatenating segments",
		"segments", len(paths),
		"output", outputPath,
	)

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ConcatError{
				ExitCode: exitErr.ExitCode(),
				Output:   excerpt(out.String()),
			}
		}
		return fmt.Errorf("%w: run ffmpeg: %v", domain.ErrConcatenationFailed, err)
	}

	if err := c.fs.Rename(partial, outputPath); err != nil {
		return fmt.Errorf("%w: move output into place: %v", domain.ErrConcatenationFailed, err)
	}

	return nil
}

func (c *Concatenator) writeManifest(paths []string) (string, error) {
	f, err := afero.TempFile(c.fs, c.manifestDir, "xstitch-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create manifest: %w", err)
	}
	name := f.Name()

	if _, err := f.WriteString(BuildManifest(paths)); err != nil {
		f.Close()
		c.fs.Remove(name)
		return "", fmt.Errorf("write manifest: %w", err)
	}
	// Must be closed before ffmpeg reads it.
	if err := f.Close(); err != nil {
		c.fs.Remove(name)
		return "", fmt.Errorf("close manifest: %w", err)
	}
	return name, nil
}

// BuildManifest renders paths in concat demuxer list syntax, one
// "file '<path>'" line per input. Relative paths are made absolute so the
// manifest does not depend on where it is written.
func BuildManifest(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(p, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

// partialPath returns a hidden sibling of outputPath that ffmpeg writes to.
// The extension is kept so ffmpeg can infer the container.
func partialPath(outputPath string) string {
	dir, base := filepath.Split(outputPath)
	ext := filepath.Ext(base)
	if ext == "" {
		ext = ".mp4"
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "."+stem+"."+uuid.NewString()[:8]+".part"+ext)
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutputExcerpt {
		return s[len(s)-maxOutputExcerpt:]
	}
	return s
}

// GetVersion returns the first line of `ffmpeg -version` for the given binary.
func GetVersion(ctx context.Context, ffmpegPath string) (string, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	output, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
		return strings.TrimSpace(lines[0]), nil
	}
	return "unknown", nil
}
