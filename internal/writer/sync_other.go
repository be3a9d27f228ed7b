//go:build !linux

package writer

import "os"

func syncData(f *os.File) error {
	return f.Sync()
}
