package ffmpeg

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/iconidentify/xstitch/internal/domain"
)

// fakeFFmpeg concatenates the files named in the -i manifest into the last
// argument, which is what the concat demuxer with -c copy does for raw bytes.
const fakeFFmpeg = `#!/bin/sh
if [ "$1" = "-version" ]; then
  echo "ffmpeg version 6.1-fake Copyright (c) the FFmpeg developers"
  exit 0
fi
manifest=""
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-i" ]; then
    manifest="$2"
    shift 2
    continue
  fi
  out="$1"
  shift
done
: > "$out"
sed -n "s/^file '\(.*\)'$/\1/p" "$manifest" | while IFS= read -r f; do
  cat "$f" >> "$out" || exit 1
done
`

const failingFFmpeg = `#!/bin/sh
for a in "$@"; do out="$a"; done
echo "partial" > "$out"
echo "Invalid data found when processing input" >&2
exit 1
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script ffmpeg stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func writeSegments(t *testing.T, dir string, contents ...string) []string {
	t.Helper()
	paths := make([]string, len(contents))
	for i, c := range contents {
		paths[i] = filepath.Join(dir, string(rune('a'+i))+".mp4")
		if err := os.WriteFile(paths[i], []byte(c), 0o644); err != nil {
			t.Fatalf("write segment: %v", err)
		}
	}
	return paths
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func newTestConcatenator(t *testing.T, script, manifestDir string) *Concatenator {
	t.Helper()
	c, err := NewConcatenator(ConcatConfig{FFmpegPath: writeScript(t, script), ManifestDir: manifestDir}, afero.NewOsFs(), testLogger())
	if err != nil {
		t.Fatalf("NewConcatenator failed: %v", err)
	}
	return c
}

func TestBuildManifest(t *testing.T) {
	got := BuildManifest([]string{"/tmp/x/00000.mp4", "/tmp/it's here/00001.mp4"})
	want := "file '/tmp/x/00000.mp4'\n" +
		"file '/tmp/it'\\''s here/00001.mp4'\n"
	if got != want {
		t.Errorf("BuildManifest() = %q, want %q", got, want)
	}
}

func TestBuildManifest_RelativePathsMadeAbsolute(t *testing.T) {
	got := BuildManifest([]string{"clip.mp4"})
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if want := "file '" + filepath.Join(wd, "clip.mp4") + "'\n"; got != want {
		t.Errorf("BuildManifest() = %q, want %q", got, want)
	}
}

func TestPartialPath(t *testing.T) {
	hidden := regexp.MustCompile(`^\.thread\.[0-9a-f]{8}\.part\.mp4$`)

	p := partialPath("/out/thread.mp4")
	if filepath.Dir(p) != "/out" {
		t.Errorf("partial %q should sit next to the output", p)
	}
	if !hidden.MatchString(filepath.Base(p)) {
		t.Errorf("partial name = %q", filepath.Base(p))
	}

	p = partialPath("/out/thread")
	if !hidden.MatchString(filepath.Base(p)) {
		t.Errorf("partial name without extension = %q", filepath.Base(p))
	}
}

func TestNewConcatenator_MissingBinary(t *testing.T) {
	_, err := NewConcatenator(ConcatConfig{
		FFmpegPath: filepath.Join(t.TempDir(), "no-such-ffmpeg"),
	}, afero.NewOsFs(), testLogger())
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("error = %v, want ErrConfiguration", err)
	}
}

func TestConcatenator_Concat(t *testing.T) {
	manifestDir := t.TempDir()
	outDir := t.TempDir()
	c := newTestConcatenator(t, fakeFFmpeg, manifestDir)

	paths := writeSegments(t, t.TempDir(), "one|", "two|", "three")
	out := filepath.Join(outDir, "thread.mp4")

	if err := c.Concat(context.Background(), paths, out); err != nil {
		t.Fatalf("Concat failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "one|two|three" {
		t.Errorf("output = %q, want %q", data, "one|two|three")
	}

	if names := dirNames(t, manifestDir); len(names) != 0 {
		t.Errorf("manifest should be removed, found %v", names)
	}
	if names := dirNames(t, outDir); len(names) != 1 || names[0] != "thread.mp4" {
		t.Errorf("only the final output should remain, found %v", names)
	}
}

func TestConcatenator_Concat_Failure(t *testing.T) {
	manifestDir := t.TempDir()
	outDir := t.TempDir()
	c := newTestConcatenator(t, failingFFmpeg, manifestDir)

	paths := writeSegments(t, t.TempDir(), "one")
	out := filepath.Join(outDir, "thread.mp4")

	err := c.Concat(context.Background(), paths, out)
	if !errors.Is(err, domain.ErrConcatenationFailed) {
		t.Fatalf("error = %v, want ErrConcatenationFailed", err)
	}

	var ce *ConcatError
	if !errors.As(err, &ce) {
		t.Fatalf("error should be a *ConcatError, got %T", err)
	}
	if ce.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", ce.ExitCode)
	}
	if !strings.Contains(ce.Output, "Invalid data found") {
		t.Errorf("Output = %q, want the tool's diagnostics", ce.Output)
	}

	if names := dirNames(t, manifestDir); len(names) != 0 {
		t.Errorf("manifest should be removed on failure, found %v", names)
	}
	if names := dirNames(t, outDir); len(names) != 0 {
		t.Errorf("no partial output should be left behind, found %v", names)
	}
}

func TestConcatenator_Concat_NoSegments(t *testing.T) {
	bin := writeScript(t, fakeFFmpeg)
	c, err := NewConcatenator(ConcatConfig{FFmpegPath: bin}, nil, testLogger())
	if err != nil {
		t.Fatalf("NewConcatenator failed: %v", err)
	}

	err = c.Concat(context.Background(), nil, filepath.Join(t.TempDir(), "out.mp4"))
	if !errors.Is(err, domain.ErrNoSegments) {
		t.Errorf("error = %v, want ErrNoSegments", err)
	}
}

func TestConcatError_Error(t *testing.T) {
	err := &ConcatError{ExitCode: 1, Output: "  bad input \n"}
	if got := err.Error(); got != "ffmpeg exited with status 1: bad input" {
		t.Errorf("Error() = %q", got)
	}

	err = &ConcatError{ExitCode: 69}
	if got := err.Error(); got != "ffmpeg exited with status 69" {
		t.Errorf("Error() = %q", got)
	}
}

func TestGetVersion(t *testing.T) {
	bin := writeScript(t, fakeFFmpeg)
	v, err := GetVersion(context.Background(), bin)
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if v != "ffmpeg version 6.1-fake Copyright (c) the FFmpeg developers" {
		t.Errorf("GetVersion() = %q", v)
	}
}
