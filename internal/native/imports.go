// Package native encodes the PE import and export directories emitted for
// native interop. Both builders report their exact size ahead of time so that
// the planner can reserve space before any RVA is known.
package native

import (
	"sort"

	"github.com/pmikstacki/bsharp-sub005/internal/buf"
	"github.com/pmikstacki/bsharp-sub005/internal/changes"
	"github.com/pmikstacki/bsharp-sub005/internal/format"
	"github.com/pmikstacki/bsharp-sub005/pkg/types"
)

// Table is an encodable native directory.
type Table interface {
	// Size returns the exact encoded size.
	Size(is64 bool) uint64
	// Build encodes the table as if loaded at baseRVA.
	Build(baseRVA uint32, is64 bool) ([]byte, error)
}

// ImportDescriptorSize is sizeof(IMAGE_IMPORT_DESCRIPTOR).
const ImportDescriptorSize = 20

const (
	ordinalFlag32 = 0x80000000
	ordinalFlag64 = 1 << 63
)

// Imports encodes an import directory:
//
//	descriptors[n+1]      20 bytes each, null terminated
//	ILT per DLL           thunk per function + null thunk
//	IAT per DLL           same layout as the ILT
//	DLL names             NUL terminated
//	hint/name entries     hint(2) name NUL
//
// DLLs are emitted sorted by name.
type Imports struct {
	modules []changes.ImportModule
}

// NewImports returns a builder for imp.
func NewImports(imp changes.NativeImports) *Imports {
	mods := append([]changes.ImportModule(nil), imp.Modules...)
	sort.SliceStable(mods, func(i, j int) bool { return mods[i].DLL < mods[j].DLL })
	return &Imports{modules: mods}
}

func thunkSize(is64 bool) uint64 {
	if is64 {
		return 8
	}
	return 4
}

type importLayout struct {
	ilt, iat, names, hints, total uint64
}

func (t *Imports) layout(is64 bool) importLayout {
	var l importLayout
	l.ilt = uint64(len(t.modules)+1) * ImportDescriptorSize
	var thunks, dllNames, hintNames uint64
	for _, m := range t.modules {
		thunks += uint64(len(m.Functions)+1) * thunkSize(is64)
		dllNames += uint64(len(m.DLL)) + 1
		for _, f := range m.Functions {
			if !f.ByOrdinal {
				hintNames += 2 + uint64(len(f.Name)) + 1
			}
		}
	}
	l.iat = l.ilt + thunks
	l.names = l.iat + thunks
	l.hints = l.names + dllNames
	l.total = l.hints + hintNames
	return l
}

// Size returns the encoded size, zero when no DLL is imported.
func (t *Imports) Size(is64 bool) uint64 {
	if len(t.modules) == 0 {
		return 0
	}
	return t.layout(is64).total
}

// Build encodes the directory for baseRVA.
func (t *Imports) Build(baseRVA uint32, is64 bool) ([]byte, error) {
	if len(t.modules) == 0 {
		return nil, nil
	}
	l := t.layout(is64)
	end, ok := buf.AddU64(uint64(baseRVA), l.total)
	if _, fits := buf.ToU32(end); !ok || !fits {
		return nil, types.Overflow(types.StageNativeAllocation, "import table end RVA", end)
	}
	rva := func(off uint64) uint32 { return baseRVA + uint32(off) }

	out := make([]byte, l.total)
	ts := thunkSize(is64)
	ilt, iat, name, hint := l.ilt, l.iat, l.names, l.hints
	for i, m := range t.modules {
		d := i * ImportDescriptorSize
		format.PutU32(out, d, rva(ilt))
		format.PutU32(out, d+12, rva(name))
		format.PutU32(out, d+16, rva(iat))

		copy(out[name:], m.DLL)
		name += uint64(len(m.DLL)) + 1

		for _, f := range m.Functions {
			var thunk uint64
			if f.ByOrdinal {
				thunk = uint64(f.Ordinal) | ordinalFlag32
				if is64 {
					thunk = uint64(f.Ordinal) | ordinalFlag64
				}
			} else {
				thunk = uint64(rva(hint))
				format.PutU16(out, int(hint), f.Hint)
				copy(out[hint+2:], f.Name)
				hint += 2 + uint64(len(f.Name)) + 1
			}
			putThunk(out, ilt, thunk, is64)
			putThunk(out, iat, thunk, is64)
			ilt += ts
			iat += ts
		}
		// null thunk
		ilt += ts
		iat += ts
	}
	return out, nil
}

func putThunk(b []byte, off, v uint64, is64 bool) {
	if is64 {
		format.PutU64(b, int(off), v)
		return
	}
	format.PutU32(b, int(off), uint32(v))
}
