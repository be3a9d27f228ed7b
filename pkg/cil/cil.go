// Package cil opens .NET assemblies, records metadata edits against them and
// writes the rewritten image.
//
// Edits never touch the source bytes. They are collected in a change set and
// applied in one pass when the assembly is written:
//
//	asm, err := cil.Open("app.dll")
//	if err != nil {
//	    return err
//	}
//	defer asm.Close()
//
//	name, err := asm.AddString("Patched")
//	if err != nil {
//	    return err
//	}
//	body, err := asm.AddMethodBody(il)
//	if err != nil {
//	    return err
//	}
//	if _, err := asm.InsertRow(cil.MethodDef, cil.Row{body, 0, 0x0096, name, sig, 1}); err != nil {
//	    return err
//	}
//	return asm.WriteFile("app.patched.dll")
//
// Heap indices returned by the Add methods are provisional. They stay valid
// inside rows of the same change set and are remapped to final indices when
// the image is written.
package cil

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pmikstacki/bsharp-sub005/internal/changes"
	"github.com/pmikstacki/bsharp-sub005/internal/format"
	"github.com/pmikstacki/bsharp-sub005/internal/mmfile"
	"github.com/pmikstacki/bsharp-sub005/internal/tables"
	"github.com/pmikstacki/bsharp-sub005/internal/view"
)

// Table identifies a metadata table.
type Table = tables.TableID

// Row holds one table row as raw column values.
type Row = tables.Row

// Heap identifies a metadata heap.
type Heap = changes.HeapKind

// Heaps.
const (
	Strings     = changes.HeapStrings
	Blob        = changes.HeapBlob
	GUID        = changes.HeapGUID
	UserStrings = changes.HeapUserStrings
)

// Tables most edits touch. Use TableByName for the rest.
const (
	Module    = tables.Module
	TypeRef   = tables.TypeRef
	TypeDef   = tables.TypeDef
	Field     = tables.Field
	MethodDef = tables.MethodDef
	Param     = tables.Param
	MemberRef = tables.MemberRef

	AssemblyTable = tables.Assembly
	AssemblyRef   = tables.AssemblyRef
)

// ErrClosed is returned by every method of a closed Assembly.
var ErrClosed = errors.New("cil: assembly is closed")

// TableByName resolves a table name such as "TypeDef".
func TableByName(name string) (Table, bool) {
	return tables.Parse(name)
}

// UserStringToken returns the ldstr operand for a #US index.
func UserStringToken(idx uint32) uint32 {
	return format.UserStringTokenTag | idx&format.TokenRIDMask
}

// Option configures an Assembly.
type Option func(*Assembly)

// WithLogger routes planning and write diagnostics to l.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assembly) {
		if l != nil {
			a.log = l
		}
	}
}

// Assembly is a parsed image plus its pending edits. It is not safe for
// concurrent use.
type Assembly struct {
	view    *view.Assembly
	set     *changes.Set
	log     *zap.Logger
	release func() error
	closed  bool
}

// Open maps the file at path and parses it. Call Close to release the mapping.
func Open(path string, opts ...Option) (*Assembly, error) {
	data, release, err := mmfile.Map(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	a, err := Parse(data, opts...)
	if err != nil {
		_ = release()
		return nil, err
	}
	a.release = release
	return a, nil
}

// Parse parses an image held in memory. data must not change while the
// Assembly is in use.
func Parse(data []byte, opts ...Option) (*Assembly, error) {
	v, err := view.Parse(data)
	if err != nil {
		return nil, err
	}
	a := &Assembly{view: v, log: zap.NewNop()}
	a.set = changes.NewSet(changes.HeapBases{
		Strings:     uint32(len(v.StreamData(format.StreamStrings))),
		Blob:        uint32(len(v.StreamData(format.StreamBlob))),
		GUID:        uint32(len(v.StreamData(format.StreamGUID))),
		UserStrings: uint32(len(v.StreamData(format.StreamUserStrings))),
	}, v.TableInfo().Rows)
	for _, opt := range opts {
		opt(a)
	}
	a.log.Debug("assembly parsed",
		zap.Uint64("size", v.Size()),
		zap.Int("sections", len(v.Sections())),
		zap.Int("streams", len(v.Streams())),
		zap.Bool("pe32plus", v.Is64()))
	return a, nil
}

// View returns the read-only view of the source image.
func (a *Assembly) View() *view.Assembly { return a.view }

// Changes returns the pending edits.
func (a *Assembly) Changes() *changes.Set { return a.set }

// HasChanges reports whether any edit is pending.
func (a *Assembly) HasChanges() bool { return a.set.HasChanges() }

// Close releases the file mapping. It is safe to call more than once.
func (a *Assembly) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if a.release != nil {
		return a.release()
	}
	return nil
}
