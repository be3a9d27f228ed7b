package cil

import (
	"os"

	"github.com/pmikstacki/bsharp-sub005/internal/layout"
	"github.com/pmikstacki/bsharp-sub005/internal/writer"
	"github.com/pmikstacki/bsharp-sub005/pkg/types"
)

// Plan computes the write layout for the pending edits without producing any
// output.
func (a *Assembly) Plan() (*layout.WriteLayout, error) {
	if a.closed {
		return nil, ErrClosed
	}
	return layout.New(a, layout.WithLogger(a.log)).Plan()
}

// Bytes plans and executes the rewrite, returning the new image.
func (a *Assembly) Bytes() ([]byte, error) {
	l, err := a.Plan()
	if err != nil {
		return nil, err
	}
	return writer.Execute(l, a.view.Bytes(), a.natives(), a.log)
}

// WriteTo plans the rewrite and hands the new image to dst.
func (a *Assembly) WriteTo(dst types.Writer) error {
	l, err := a.Plan()
	if err != nil {
		return err
	}
	return writer.Apply(l, a.view.Bytes(), a.natives(), dst, a.log)
}

// WriteFile writes the rewritten image to path, replacing it atomically. The
// source may be the same path; the mapping stays valid until Close.
func (a *Assembly) WriteFile(path string) error {
	mode := os.FileMode(0o644)
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode().Perm()
	}
	return a.WriteTo(&writer.FileWriter{Path: path, Mode: mode})
}

func (a *Assembly) natives() writer.NativeTables {
	return writer.NativeTablesFor(a.set, a.view.Is64())
}
