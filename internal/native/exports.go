package native

import (
	"sort"

	"github.com/pmikstacki/bsharp-sub005/internal/buf"
	"github.com/pmikstacki/bsharp-sub005/internal/changes"
	"github.com/pmikstacki/bsharp-sub005/internal/format"
	"github.com/pmikstacki/bsharp-sub005/pkg/types"
)

// ExportDirectorySize is sizeof(IMAGE_EXPORT_DIRECTORY).
const ExportDirectorySize = 40

// Exports encodes an export directory:
//
//	IMAGE_EXPORT_DIRECTORY   40 bytes
//	EAT                      4 bytes per ordinal in [base, max]
//	name pointer table       4 bytes per named export, sorted by name
//	ordinal table            2 bytes per named export
//	strings                  DLL name then export names, NUL terminated
//
// Exports with ordinal 0 are numbered after the highest explicit ordinal.
type Exports struct {
	dll   string
	funcs []changes.ExportFunction
	base  uint16
	count uint32
	named []changes.ExportFunction
}

// NewExports returns a builder for exp.
func NewExports(exp changes.NativeExports) *Exports {
	e := &Exports{dll: exp.DLLName}
	var hi uint16
	lo := uint16(0xFFFF)
	for _, f := range exp.Functions {
		if f.Ordinal == 0 {
			continue
		}
		lo = min(lo, f.Ordinal)
		hi = max(hi, f.Ordinal)
	}
	for _, f := range exp.Functions {
		if f.Ordinal == 0 {
			hi++
			f.Ordinal = hi
			lo = min(lo, f.Ordinal)
		}
		e.funcs = append(e.funcs, f)
		if f.Name != "" {
			e.named = append(e.named, f)
		}
	}
	sort.SliceStable(e.named, func(i, j int) bool { return e.named[i].Name < e.named[j].Name })
	if len(e.funcs) > 0 {
		e.base = lo
		e.count = uint32(hi-lo) + 1
	}
	return e
}

func (e *Exports) stringsSize() uint64 {
	n := uint64(len(e.dll)) + 1
	for _, f := range e.named {
		n += uint64(len(f.Name)) + 1
	}
	return n
}

// Size returns the encoded size, zero when nothing is exported.
func (e *Exports) Size(bool) uint64 {
	if len(e.funcs) == 0 {
		return 0
	}
	return ExportDirectorySize + 4*uint64(e.count) + 6*uint64(len(e.named)) + e.stringsSize()
}

// Build encodes the directory for baseRVA. Bitness does not affect the layout.
func (e *Exports) Build(baseRVA uint32, is64 bool) ([]byte, error) {
	size := e.Size(is64)
	if size == 0 {
		return nil, nil
	}
	end, ok := buf.AddU64(uint64(baseRVA), size)
	if _, fits := buf.ToU32(end); !ok || !fits {
		return nil, types.Overflow(types.StageNativeAllocation, "export table end RVA", end)
	}
	out := make([]byte, size)
	eat := uint64(ExportDirectorySize)
	names := eat + 4*uint64(e.count)
	ords := names + 4*uint64(len(e.named))
	strs := ords + 2*uint64(len(e.named))
	rva := func(off uint64) uint32 { return baseRVA + uint32(off) }

	format.PutU32(out, 12, rva(strs))
	format.PutU32(out, 16, uint32(e.base))
	format.PutU32(out, 20, e.count)
	format.PutU32(out, 24, uint32(len(e.named)))
	format.PutU32(out, 28, rva(eat))
	format.PutU32(out, 32, rva(names))
	format.PutU32(out, 36, rva(ords))

	for _, f := range e.funcs {
		format.PutU32(out, int(eat)+4*int(f.Ordinal-e.base), f.RVA)
	}
	copy(out[strs:], e.dll)
	s := strs + uint64(len(e.dll)) + 1
	for i, f := range e.named {
		format.PutU32(out, int(names)+4*i, rva(s))
		format.PutU16(out, int(ords)+2*i, f.Ordinal-e.base)
		copy(out[s:], f.Name)
		s += uint64(len(f.Name)) + 1
	}
	return out, nil
}
