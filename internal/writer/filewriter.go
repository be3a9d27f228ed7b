// Package writer applies a planned layout to produce the rewritten image and
// exposes sinks for it.
package writer

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileWriter writes an image to a filesystem path atomically.
type FileWriter struct {
	Path string
	// Mode is applied to the new file. Zero keeps 0o644.
	Mode os.FileMode
}

// WriteAssembly writes buf to the configured path via temp file + rename.
func (w *FileWriter) WriteAssembly(buf []byte) error {
	// temp file in the target directory so the rename stays on one filesystem
	dir := filepath.Dir(w.Path)
	tmpFile, err := os.CreateTemp(dir, ".cilrw-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, writeErr := tmpFile.Write(buf); writeErr != nil {
		return fmt.Errorf("write temp file: %w", writeErr)
	}
	mode := w.Mode
	if mode == 0 {
		mode = 0o644
	}
	if chmodErr := tmpFile.Chmod(mode); chmodErr != nil {
		return fmt.Errorf("chmod temp file: %w", chmodErr)
	}
	if syncErr := syncData(tmpFile); syncErr != nil {
		return fmt.Errorf("sync temp file: %w", syncErr)
	}
	if closeErr := tmpFile.Close(); closeErr != nil {
		return fmt.Errorf("close temp file: %w", closeErr)
	}
	tmpFile = nil

	if renameErr := os.Rename(tmpPath, w.Path); renameErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", renameErr)
	}
	return nil
}
