package writer

import (
	"go.uber.org/zap"

	"github.com/pmikstacki/bsharp-sub005/internal/buf"
	"github.com/pmikstacki/bsharp-sub005/internal/changes"
	"github.com/pmikstacki/bsharp-sub005/internal/layout"
	"github.com/pmikstacki/bsharp-sub005/internal/native"
	"github.com/pmikstacki/bsharp-sub005/pkg/types"
)

// NativeTables supplies the encoders for the native directories a layout
// reserved space for. Nil entries are skipped.
type NativeTables struct {
	Imports native.Table
	Exports native.Table
	Is64    bool
}

// NativeTablesFor returns encoders for the native edits in set.
func NativeTablesFor(set *changes.Set, is64 bool) NativeTables {
	var n NativeTables
	if !set.Imports.IsEmpty() {
		n.Imports = native.NewImports(set.Imports)
	}
	if !set.Exports.IsEmpty() {
		n.Exports = native.NewExports(set.Exports)
	}
	n.Is64 = is64
	return n
}

func execError(reason types.Reason, offset, size uint64, msg string, args ...any) error {
	return types.New(types.ErrKindExecution, types.StageExecution).Reason(reason).
		At(offset, size).Msg(msg, args...).Build()
}

// Execute applies l to src and returns the new image.
func Execute(l *layout.WriteLayout, src []byte, natives NativeTables, log *zap.Logger) ([]byte, error) {
	out := make([]byte, l.TotalFileSize)
	if err := execute(l, src, natives, out, log); err != nil {
		return nil, err
	}
	return out, nil
}

// Apply executes l into a pooled arena and hands the result to dst.
func Apply(l *layout.WriteLayout, src []byte, natives NativeTables, dst types.Writer, log *zap.Logger) error {
	size, ok := buf.ToInt(l.TotalFileSize)
	if !ok {
		return types.Overflow(types.StageExecution, "output size", l.TotalFileSize)
	}
	arena := getArena(size)
	defer putArena(arena)
	if err := execute(l, src, natives, *arena, log); err != nil {
		return err
	}
	return dst.WriteAssembly(*arena)
}

// execute runs copies, then zeroes, then writes, then the native tables.
// Later steps win where regions coincide.
func execute(l *layout.WriteLayout, src []byte, natives NativeTables, out []byte, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if uint64(len(out)) != l.TotalFileSize {
		return execError(types.ReasonBounds, 0, uint64(len(out)), "output buffer is %d bytes, layout needs %d",
			len(out), l.TotalFileSize)
	}
	if err := l.Operations.Validate(l.TotalFileSize, uint64(len(src))); err != nil {
		return err
	}

	for _, c := range l.Operations.Copy {
		copy(out[c.TargetOffset:c.TargetOffset+c.Size], src[c.SourceOffset:c.SourceOffset+c.Size])
	}
	for _, z := range l.Operations.Zero {
		clear(out[z.Offset : z.Offset+z.Size])
	}
	for _, w := range l.Operations.Write {
		copy(out[w.Offset:], w.Data)
	}
	log.Debug("operations applied",
		zap.Int("copy", len(l.Operations.Copy)),
		zap.Int("zero", len(l.Operations.Zero)),
		zap.Int("write", len(l.Operations.Write)))

	req := l.NativeTableRequirements
	if err := writeNative(l, out, "import", natives.Imports, req.ImportTableRVA, req.ImportTableSize, natives.Is64); err != nil {
		return err
	}
	if err := writeNative(l, out, "export", natives.Exports, req.ExportTableRVA, req.ExportTableSize, natives.Is64); err != nil {
		return err
	}
	return nil
}

func writeNative(l *layout.WriteLayout, out []byte, what string, t native.Table, rva *uint32, reserved uint64, is64 bool) error {
	if rva == nil {
		return nil
	}
	if t == nil {
		return execError(types.ReasonMissing, 0, 0, "layout reserves an %s table but no encoder was supplied", what)
	}
	data, err := t.Build(*rva, is64)
	if err != nil {
		return err
	}
	if uint64(len(data)) > reserved {
		return execError(types.ReasonBounds, uint64(*rva), uint64(len(data)),
			"%s table is %d bytes, %d reserved", what, len(data), reserved)
	}
	off, ok := l.FileStructure.RVAToOffset(*rva)
	if !ok || off+uint64(len(data)) > uint64(len(out)) {
		return execError(types.ReasonBounds, uint64(*rva), uint64(len(data)),
			"%s table RVA 0x%X has no file backing", what, *rva)
	}
	copy(out[off:], data)
	return nil
}
