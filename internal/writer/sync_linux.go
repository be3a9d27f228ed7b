//go:build linux

package writer

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncData flushes file contents without forcing a metadata update.
func syncData(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
