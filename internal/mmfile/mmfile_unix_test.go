//go:build unix

package mmfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pmikstacki/bsharp-sub005/internal/testutil"
	"github.com/pmikstacki/bsharp-sub005/internal/view"
)

func TestMapAssembly(t *testing.T) {
	want := testutil.Minimal().Build()
	path := testutil.WriteTemp(t, "test.dll", want)

	data, cleanup, err := Map(path)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer func() {
		if cleanupErr := cleanup(); cleanupErr != nil {
			t.Fatalf("cleanup: %v", cleanupErr)
		}
	}()
	if len(data) != len(want) {
		t.Fatalf("len mismatch: got %d want %d", len(data), len(want))
	}
	a, err := view.Parse(data)
	if err != nil {
		t.Fatalf("Parse mapped image: %v", err)
	}
	if got := len(a.Sections()); got != 1 {
		t.Fatalf("sections: got %d want 1", got)
	}
}

func TestMapZeroLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, cleanup, err := Map(path)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected zero-length mapping, got %d", len(data))
	}
	if cleanup == nil {
		t.Fatalf("expected cleanup function")
	}
	if cleanupErr := cleanup(); cleanupErr != nil {
		t.Fatalf("cleanup: %v", cleanupErr)
	}
}

func TestMapCleanupTwice(t *testing.T) {
	path := testutil.WriteTemp(t, "twice.dll", []byte{0x4D, 0x5A, 0, 0})
	_, cleanup, err := Map(path)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := cleanup(); err != nil {
		t.Fatalf("first cleanup: %v", err)
	}
	if err := cleanup(); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
}

func TestMapMissingFile(t *testing.T) {
	if _, _, err := Map(filepath.Join(t.TempDir(), "missing.dll")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
