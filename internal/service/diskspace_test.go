package service

import (
	"path/filepath"
	"testing"
)

func TestFreeDiskSpace(t *testing.T) {
	free, err := freeDiskSpace(t.TempDir())
	if err != nil {
		t.Fatalf("freeDiskSpace failed: %v", err)
	}
	if free == 0 {
		t.Error("a writable temp dir should report free space")
	}

	if _, err := freeDiskSpace(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("a missing directory should be an error")
	}
}
