//go:build !unix

package mmfile

import "os"

// Map reads the whole file. A mapped view on Windows would keep the file
// locked, and WriteFile must be able to replace the source in place.
func Map(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return nil }, nil
}
