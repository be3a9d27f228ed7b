package layout

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pmikstacki/bsharp-sub005/internal/buf"
	"github.com/pmikstacki/bsharp-sub005/internal/changes"
	"github.com/pmikstacki/bsharp-sub005/internal/format"
	"github.com/pmikstacki/bsharp-sub005/internal/heaps"
	"github.com/pmikstacki/bsharp-sub005/internal/native"
	"github.com/pmikstacki/bsharp-sub005/internal/remap"
	"github.com/pmikstacki/bsharp-sub005/internal/tables"
	"github.com/pmikstacki/bsharp-sub005/internal/view"
	"github.com/pmikstacki/bsharp-sub005/pkg/types"
)

// Source is an assembly with pending edits.
type Source interface {
	View() *view.Assembly
	Changes() *changes.Set
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the logger used for per-stage diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.log = l
		}
	}
}

// WithClock replaces time.Now when measuring planning duration.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
	}
}

// Planner computes a WriteLayout for one source. It is not safe for
// concurrent use; each Plan call starts from scratch.
type Planner struct {
	view *view.Assembly
	set  *changes.Set
	log  *zap.Logger
	now  func() time.Time

	warnings []string
	strings  heaps.Builder
	blobs    heaps.Builder
	guids    heaps.Builder
	us       heaps.Builder
	remapper *remap.IndexRemapper
	tables   tablesStream
	imports  *native.Imports
	exports  *native.Exports
}

// New returns a planner bound to src.
func New(src Source, opts ...Option) *Planner {
	p := &Planner{
		view: src.View(),
		set:  src.Changes(),
		log:  zap.NewNop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Planner) warn(msg string, args ...any) {
	w := fmt.Sprintf(msg, args...)
	p.warnings = append(p.warnings, w)
	p.log.Warn(w)
}

func narrowU32(stage types.Stage, what string, v uint64) (uint32, error) {
	n, ok := buf.ToU32(v)
	if !ok {
		return 0, types.Overflow(stage, what, v)
	}
	return n, nil
}

// wrapErr keeps typed errors as they are and tags anything else with stage.
func wrapErr(kind types.ErrKind, stage types.Stage, err error, msg string, args ...any) error {
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}
	return types.New(kind, stage).Msg(msg, args...).Cause(err).Build()
}

// Plan runs the planning pipeline:
//
//  1. size every metadata component
//  2. size the native import and export tables
//  3. place the original sections and append the metadata section
//  4. lay out the CLI header, metadata root and streams
//  5. allocate RVAs for the native tables
//  6. generate copy, zero and write operations
//  7. assemble mappings and planning info, then validate
//
// Plan either returns a complete layout or a *types.Error naming the stage
// that failed.
func (p *Planner) Plan() (*WriteLayout, error) {
	if p.view == nil || p.set == nil {
		return nil, types.Missing(types.ErrKindPlanning, types.StageNone, "assembly view or change set")
	}
	start := p.now()
	p.warnings = nil

	sizes, err := p.componentSizes()
	if err != nil {
		return nil, err
	}
	p.log.Debug("component sizes",
		zap.Uint64("tables", sizes.TablesStream),
		zap.Uint64("strings", sizes.StringsHeap),
		zap.Uint64("blob", sizes.BlobHeap),
		zap.Uint64("guid", sizes.GUIDHeap),
		zap.Uint64("us", sizes.UserStringHeap),
		zap.Bool("tables_verbatim", p.tables.verbatim))

	natives, err := p.nativeRequirements()
	if err != nil {
		return nil, err
	}
	p.log.Debug("native requirements",
		zap.Uint64("imports", natives.ImportTableSize),
		zap.Uint64("exports", natives.ExportTableSize))

	fs, err := p.fileStructure(sizes, natives)
	if err != nil {
		return nil, err
	}
	meta, _ := fs.MetaSection()
	p.log.Debug("file structure",
		zap.Int("sections", len(fs.Sections)),
		zap.Uint32("meta_rva", meta.VirtualAddress),
		zap.Uint64("meta_offset", meta.FileRegion.Offset),
		zap.Uint64("meta_size", meta.FileRegion.Size))

	md, err := p.metadataLayout(fs, sizes)
	if err != nil {
		return nil, err
	}
	p.log.Debug("metadata layout", zap.Int("streams", len(md.Streams)), zap.Uint64("root", md.MetadataRoot.Offset))

	rvas, err := p.methodBodyRVAs(md)
	if err != nil {
		return nil, err
	}

	if err := p.allocateNative(md, rvas, &natives); err != nil {
		return nil, err
	}

	ops, err := p.operations(fs, md, natives, rvas)
	if err != nil {
		return nil, err
	}
	p.log.Debug("operations",
		zap.Int("copy", len(ops.Copy)),
		zap.Int("zero", len(ops.Zero)),
		zap.Int("write", len(ops.Write)))

	total := fs.Sections[len(fs.Sections)-1].FileRegion.End()
	wl := &WriteLayout{
		TotalFileSize:           total,
		Operations:              ops,
		FileStructure:           fs,
		MetadataLayout:          md,
		RVAMappings:             rvas,
		IndexMappings:           p.remapper,
		NativeTableRequirements: natives,
	}
	wl.PlanningInfo = p.planningInfo(sizes, md.MetaSection.FileRegion.Size, total, start)
	wl.PlanningInfo.OperationCount = ops.Count()
	if err := wl.Validate(); err != nil {
		return nil, err
	}
	p.log.Debug("layout planned",
		zap.Uint64("total_size", total),
		zap.Int("operations", wl.PlanningInfo.OperationCount),
		zap.Int("warnings", len(p.warnings)),
		zap.Duration("elapsed", wl.PlanningInfo.PlanningDuration))
	return wl, nil
}

// componentSizes builds every heap once, derives the index remapper and
// sizes the tables stream and metadata root.
func (p *Planner) componentSizes() (MetadataComponentSizes, error) {
	v := p.view
	p.strings, p.blobs, p.guids, p.us = heaps.NewBuilders(p.set,
		v.StreamData(format.StreamStrings),
		v.StreamData(format.StreamBlob),
		v.StreamData(format.StreamGUID),
		v.StreamData(format.StreamUserStrings))

	sizes := MetadataComponentSizes{COR20Header: format.COR20HeaderSize}
	for _, h := range []struct {
		b   heaps.Builder
		dst *uint64
	}{
		{p.strings, &sizes.StringsHeap},
		{p.blobs, &sizes.BlobHeap},
		{p.guids, &sizes.GUIDHeap},
		{p.us, &sizes.UserStringHeap},
	} {
		n, err := h.b.CalculateSize()
		if err != nil {
			return sizes, wrapErr(types.ErrKindMetadataLayout, types.StageComponentSizing, err, "size %s heap", h.b.Kind())
		}
		if _, err := narrowU32(types.StageComponentSizing, h.b.Kind().StreamName()+" size", n); err != nil {
			return sizes, err
		}
		*h.dst = n
	}

	p.remapper = remap.BuildFromChanges(p.set, p.strings, p.blobs, p.guids, p.us)
	if p.set.UserStrings.HasChanges() && !identityMap(p.originalUserStrings()) {
		p.warn("user string indices moved; ldstr operands in existing method bodies are not rewritten")
	}

	t, err := p.planTables(sizes)
	if err != nil {
		return sizes, err
	}
	if _, err := narrowU32(types.StageComponentSizing, "tables stream size", t.size); err != nil {
		return sizes, err
	}
	p.tables = t
	sizes.TablesStream = t.size

	sizes.MetadataRoot = format.RootHeaderSize(format.MetadataVersion)
	for i, n := range sizes.streamSizes() {
		if n > 0 {
			sizes.MetadataRoot += format.StreamHeaderSize(format.StreamOrder[i])
		}
	}
	return sizes, nil
}

// originalUserStrings restricts the #US mapping to indices of the source heap.
func (p *Planner) originalUserStrings() map[uint32]uint32 {
	limit := uint64(len(p.view.StreamData(format.StreamUserStrings)))
	out := make(map[uint32]uint32)
	for k, v := range p.remapper.UserStrings {
		if uint64(k) < limit {
			out[k] = v
		}
	}
	return out
}

// Conservative native table sizes used when a builder cannot report one.
func estimateImportSize(dlls, functions int) uint64 {
	return uint64(dlls)*64 + uint64(functions)*32 + 1024
}

func estimateExportSize(functions int) uint64 {
	return 40 + uint64(functions)*16 + 512
}

// nativeRequirements sizes the native tables. Nothing is needed when the
// change set is empty.
func (p *Planner) nativeRequirements() (NativeTableRequirements, error) {
	var req NativeTableRequirements
	p.imports, p.exports = nil, nil
	if !p.set.HasChanges() {
		return req, nil
	}
	is64 := p.view.Is64()
	if !p.set.Imports.IsEmpty() {
		req.NeedsImportTables = true
		p.imports = native.NewImports(p.set.Imports)
		req.ImportTableSize = p.imports.Size(is64)
		if req.ImportTableSize == 0 {
			req.ImportTableSize = estimateImportSize(p.set.Imports.DLLCount(), p.set.Imports.FunctionCount())
		}
	}
	if !p.set.Exports.IsEmpty() {
		req.NeedsExportTables = true
		p.exports = native.NewExports(p.set.Exports)
		req.ExportTableSize = p.exports.Size(is64)
		if req.ExportTableSize == 0 {
			req.ExportTableSize = estimateExportSize(p.set.Exports.FunctionCount())
		}
	}
	for _, n := range []struct {
		what string
		v    uint64
	}{{"import table size", req.ImportTableSize}, {"export table size", req.ExportTableSize}} {
		if _, err := narrowU32(types.StageNativeSizing, n.what, n.v); err != nil {
			return req, err
		}
	}
	return req, nil
}

// metaSectionSize returns the unaligned size of the metadata section.
func (p *Planner) metaSectionSize(sizes MetadataComponentSizes, natives NativeTableRequirements) uint64 {
	size := sizes.Total() + format.StreamGap*uint64(sizes.StreamCount())
	if bodies := p.set.MethodBodiesSize(); bodies > 0 {
		size += bodies + format.MethodBodyPadding
	}
	if natives.Any() {
		size += natives.TotalSize() + format.NativeTablePadding
	}
	return size
}

// fileStructure keeps every original section at its virtual address, moves
// sections that collide with the grown section table forward by one header,
// truncates sections that would overlap their successor and appends the
// metadata section.
func (p *Planner) fileStructure(sizes MetadataComponentSizes, natives NativeTableRequirements) (FileStructureLayout, error) {
	v := p.view
	orig := v.Sections()
	fa := uint64(v.FileAlignment())
	sa := uint64(v.SectionAlignment())

	fs := FileStructureLayout{
		DOSHeader: FileRegion{Offset: 0, Size: format.DOSHeaderSize},
		PEHeaders: FileRegion{Offset: v.PEHeadersOffset(), Size: v.PEHeadersSize()},
		SectionTable: FileRegion{
			Offset: v.SectionTableOffset(),
			Size:   uint64(len(orig)+1) * format.SectionHeaderSize,
		},
	}
	tableEnd := fs.SectionTable.End()

	fs.Sections = make([]SectionLayout, 0, len(orig)+1)
	for _, s := range orig {
		off := uint64(s.RawPointer)
		if s.RawSize > 0 && off < tableEnd {
			off += format.SectionHeaderSize
		}
		fs.Sections = append(fs.Sections, SectionLayout{
			Name:            s.Name,
			VirtualAddress:  s.VirtualAddress,
			VirtualSize:     s.VirtualSize,
			FileRegion:      FileRegion{Offset: off, Size: uint64(s.RawSize)},
			Characteristics: s.Characteristics,
		})
	}

	for i := range fs.Sections {
		s := &fs.Sections[i]
		if s.FileRegion.IsEmpty() {
			continue
		}
		next := uint64(0)
		found := false
		for _, later := range fs.Sections[i+1:] {
			if later.FileRegion.IsEmpty() || later.FileRegion.Offset < s.FileRegion.Offset {
				continue
			}
			if !found || later.FileRegion.Offset < next {
				next, found = later.FileRegion.Offset, true
			}
		}
		if !found || s.FileRegion.End() <= next {
			continue
		}
		newSize := next - s.FileRegion.Offset
		p.warn("section %s truncated from %d to %d bytes to avoid overlapping the next section",
			s.Name, s.FileRegion.Size, newSize)
		s.FileRegion.Size = newSize
		s.VirtualSize = uint32(min(uint64(s.VirtualSize), newSize))
	}

	fileEnd, virtualEnd := tableEnd, uint64(0)
	for i, s := range fs.Sections {
		fileEnd = max(fileEnd, s.FileRegion.End())
		span := uint64(orig[i].VirtualSize)
		if span == 0 {
			span = uint64(orig[i].RawSize)
		}
		virtualEnd = max(virtualEnd, uint64(s.VirtualAddress)+format.AlignTo(span, sa))
	}

	size := p.metaSectionSize(sizes, natives)
	vsize, err := narrowU32(types.StageFileStructure, ".meta virtual size", size)
	if err != nil {
		return fs, err
	}
	va, err := narrowU32(types.StageFileStructure, ".meta virtual address", format.AlignTo(virtualEnd, sa))
	if err != nil {
		return fs, err
	}
	meta := SectionLayout{
		Name:             format.MetaSectionName,
		VirtualAddress:   va,
		VirtualSize:      vsize,
		FileRegion:       FileRegion{Offset: format.AlignTo(fileEnd, fa), Size: format.AlignTo(size, fa)},
		Characteristics:  format.ScnMetadata,
		ContainsMetadata: true,
	}
	if _, err := narrowU32(types.StageFileStructure, ".meta file end", meta.FileRegion.End()); err != nil {
		return fs, err
	}
	if _, err := narrowU32(types.StageFileStructure, ".meta virtual end", meta.VirtualEnd()); err != nil {
		return fs, err
	}
	fs.Sections = append(fs.Sections, meta)
	return fs, nil
}

// metadataLayout places the CLI header, the metadata root and every present
// stream at the start of the metadata section.
func (p *Planner) metadataLayout(fs FileStructureLayout, sizes MetadataComponentSizes) (MetadataLayout, error) {
	meta, ok := fs.MetaSection()
	if !ok {
		return MetadataLayout{}, types.Missing(types.ErrKindMetadataLayout, types.StageMetadataLayout, format.MetaSectionName+" section")
	}
	md := MetadataLayout{MetaSection: meta}
	cur := meta.FileRegion.Offset
	md.COR20Header = FileRegion{Offset: cur, Size: sizes.COR20Header}
	cur += sizes.COR20Header
	md.MetadataRoot = FileRegion{Offset: cur, Size: sizes.MetadataRoot}
	header := format.RootHeaderSize(format.MetadataVersion)
	md.StreamDirectory = FileRegion{Offset: cur + header, Size: sizes.MetadataRoot - header}
	cur += sizes.MetadataRoot

	for i, n := range sizes.streamSizes() {
		if n == 0 {
			continue
		}
		name := format.StreamOrder[i]
		rel, err := narrowU32(types.StageMetadataLayout, name+" offset from root", cur-md.MetadataRoot.Offset)
		if err != nil {
			return md, err
		}
		size, err := narrowU32(types.StageMetadataLayout, name+" size", n)
		if err != nil {
			return md, err
		}
		md.Streams = append(md.Streams, StreamLayout{
			Name:           name,
			OffsetFromRoot: rel,
			Size:           size,
			FileRegion:     FileRegion{Offset: cur, Size: n},
		})
		cur = format.Align4(cur + n + format.StreamGap)
	}
	return md, nil
}

// methodBodyBase returns the RVA of the first placed method body: past the
// nominal metadata footprint and never inside the last stream's padding.
func (p *Planner) methodBodyBase(md MetadataLayout) uint64 {
	meta := md.MetaSection
	components := md.COR20Header.Size + md.MetadataRoot.Size
	for _, s := range md.Streams {
		components += s.FileRegion.Size
	}
	nominal := uint64(meta.VirtualAddress) + components + format.StreamGap*uint64(len(md.Streams))
	actual := uint64(meta.VirtualAddress) + (md.StreamsEnd() - meta.FileRegion.Offset)
	return format.Align4(max(nominal, actual))
}

// methodBodyRVAs assigns each queued method body its final RVA, in
// placeholder order, every body 4-byte aligned.
func (p *Planner) methodBodyRVAs(md MetadataLayout) (map[uint32]uint32, error) {
	rvas := make(map[uint32]uint32)
	bodies := p.set.MethodBodies()
	if len(bodies) == 0 {
		return rvas, nil
	}
	cur := p.methodBodyBase(md)
	for _, b := range bodies {
		rva, err := narrowU32(types.StageMappings, "method body RVA", cur)
		if err != nil {
			return nil, err
		}
		rvas[b.Placeholder] = rva
		cur += format.Align4(uint64(len(b.Data)))
	}
	if _, err := narrowU32(types.StageMappings, "method body end RVA", cur); err != nil {
		return nil, err
	}
	return rvas, nil
}

// contentEnd returns the first RVA past the metadata streams and placed bodies.
func (p *Planner) contentEnd(md MetadataLayout, rvas map[uint32]uint32) uint64 {
	meta := md.MetaSection
	end := uint64(meta.VirtualAddress) + (md.StreamsEnd() - meta.FileRegion.Offset)
	for _, b := range p.set.MethodBodies() {
		if rva, ok := rvas[b.Placeholder]; ok {
			end = max(end, uint64(rva)+uint64(len(b.Data)))
		}
	}
	return end
}

// allocateNative places the import table and then the export table in the
// last 1 KiB of the metadata section's virtual range.
func (p *Planner) allocateNative(md MetadataLayout, rvas map[uint32]uint32, req *NativeTableRequirements) error {
	if !req.Any() {
		return nil
	}
	meta := md.MetaSection
	end := meta.VirtualEnd()
	if end < uint64(meta.VirtualAddress)+format.NativeTableReserve {
		return types.New(types.ErrKindPlanning, types.StageNativeAllocation).Reason(types.ReasonNativeSpace).
			Msg("%s virtual size %d is smaller than the %d byte native table reserve",
				meta.Name, meta.VirtualSize, format.NativeTableReserve).Build()
	}
	start := format.Align4(end - format.NativeTableReserve)
	cur := start
	place := func(size uint64, dst **uint32) error {
		rva, err := narrowU32(types.StageNativeAllocation, "native table RVA", cur)
		if err != nil {
			return err
		}
		*dst = &rva
		cur = format.Align4(cur + size)
		return nil
	}
	if req.NeedsImportTables {
		if err := place(req.ImportTableSize, &req.ImportTableRVA); err != nil {
			return err
		}
	}
	if req.NeedsExportTables {
		if err := place(req.ExportTableSize, &req.ExportTableRVA); err != nil {
			return err
		}
	}
	if cur > end {
		return types.New(types.ErrKindPlanning, types.StageNativeAllocation).Reason(types.ReasonNativeSpace).
			Msg("native tables need RVA 0x%X, %s ends at 0x%X", cur, meta.Name, end).Build()
	}
	if content := p.contentEnd(md, rvas); start < content {
		p.warn("native tables at RVA 0x%X overlap metadata content ending at 0x%X", start, content)
	}
	p.log.Debug("native tables allocated", zap.Uint64("start", start), zap.Uint64("end", cur))
	return nil
}

// sectionHoldsMetadata reports whether the source metadata root lies in
// section i's virtual range.
func (p *Planner) sectionHoldsMetadata(i int) bool {
	idx, ok := p.view.SectionForRVA(p.view.COR20().MetadataRVA)
	return ok && idx == i
}

// operations derives every copy, zero and write needed to produce the file.
func (p *Planner) operations(fs FileStructureLayout, md MetadataLayout, natives NativeTableRequirements, rvas map[uint32]uint32) (OperationSet, error) {
	var ops OperationSet
	if err := p.copyOperations(&ops, fs); err != nil {
		return ops, err
	}
	p.zeroOperations(&ops, fs)
	if err := p.writeOperations(&ops, fs, md, natives, rvas); err != nil {
		return ops, err
	}
	return ops, nil
}

func (p *Planner) copyOperations(ops *OperationSet, fs FileStructureLayout) error {
	v := p.view
	ops.Copy = append(ops.Copy, CopyOperation{Size: format.DOSHeaderSize, Description: "DOS header"})
	if pe := fs.PEHeaders.Offset; pe > format.DOSHeaderSize {
		ops.Copy = append(ops.Copy, CopyOperation{
			SourceOffset: format.DOSHeaderSize,
			TargetOffset: format.DOSHeaderSize,
			Size:         pe - format.DOSHeaderSize,
			Description:  "DOS stub",
		})
	}

	for i, s := range v.Sections() {
		if i >= len(fs.Sections) || fs.Sections[i].ContainsMetadata {
			continue
		}
		dst := fs.Sections[i]
		if p.sectionHoldsMetadata(i) {
			if err := p.copyAroundMetadata(ops, s, dst); err != nil {
				return err
			}
			continue
		}
		if size := min(uint64(s.RawSize), dst.FileRegion.Size); size > 0 {
			ops.Copy = append(ops.Copy, CopyOperation{
				SourceOffset: uint64(s.RawPointer),
				TargetOffset: dst.FileRegion.Offset,
				Size:         size,
				Description:  "section " + s.Name,
			})
		}
	}
	return nil
}

// copyAroundMetadata copies a section that holds the source metadata in two
// pieces, skipping the metadata bytes. A code section that gains method
// bodies never copies past its original virtual size.
func (p *Planner) copyAroundMetadata(ops *OperationSet, s view.Section, dst SectionLayout) error {
	v := p.view
	metaOff, err := v.RVAToOffset(v.COR20().MetadataRVA)
	if err != nil {
		return wrapErr(types.ErrKindOperationGeneration, types.StageOperations, err, "resolve source metadata")
	}
	metaEnd := metaOff + uint64(v.COR20().MetadataSize)
	start := uint64(s.RawPointer)
	end := start + uint64(s.RawSize)

	avail := dst.FileRegion.Size
	code := s.Name == format.TextSectionName || s.Characteristics&format.ScnMemExecute != 0
	if code && p.set.MethodBodiesSize() > 0 {
		avail = min(avail, uint64(s.VirtualSize))
	}

	if metaOff > start {
		if size := min(metaOff-start, avail); size > 0 {
			ops.Copy = append(ops.Copy, CopyOperation{
				SourceOffset: start,
				TargetOffset: dst.FileRegion.Offset,
				Size:         size,
				Description:  "section " + s.Name + " before metadata",
			})
		}
	}
	if metaEnd < end {
		rel := metaEnd - start
		var room uint64
		if avail > rel {
			room = avail - rel
		}
		if size := min(end-metaEnd, room); size > 0 {
			ops.Copy = append(ops.Copy, CopyOperation{
				SourceOffset: metaEnd,
				TargetOffset: dst.FileRegion.Offset + rel,
				Size:         size,
				Description:  "section " + s.Name + " after metadata",
			})
		}
	}
	return nil
}

// zeroOperations clears the source metadata range when no copied section
// covers it.
func (p *Planner) zeroOperations(ops *OperationSet, fs FileStructureLayout) {
	v := p.view
	off, err := v.RVAToOffset(v.COR20().MetadataRVA)
	if err != nil {
		return
	}
	old := FileRegion{Offset: off, Size: uint64(v.COR20().MetadataSize)}
	for i, s := range v.Sections() {
		if i >= len(fs.Sections) || fs.Sections[i].ContainsMetadata {
			continue
		}
		if old.Overlaps(FileRegion{Offset: uint64(s.RawPointer), Size: uint64(s.RawSize)}) {
			return
		}
	}
	ops.Zero = append(ops.Zero, ZeroOperation{Offset: old.Offset, Size: old.Size, Reason: "clear source metadata"})
}

func (p *Planner) writeOperations(ops *OperationSet, fs FileStructureLayout, md MetadataLayout, natives NativeTableRequirements, rvas map[uint32]uint32) error {
	table, err := encodeSectionTable(&fs)
	if err != nil {
		return err
	}
	ops.Write = append(ops.Write, WriteOperation{Offset: fs.SectionTable.Offset, Data: table, Component: "section table"})

	headers, err := p.peHeaders(fs, md, natives)
	if err != nil {
		return err
	}
	ops.Write = append(ops.Write, WriteOperation{Offset: fs.PEHeaders.Offset, Data: headers, Component: "PE headers"})

	cor20, err := p.cor20(fs, md)
	if err != nil {
		return err
	}
	ops.Write = append(ops.Write, WriteOperation{Offset: md.COR20Header.Offset, Data: cor20, Component: "COR20 header"})

	dir := make([]format.StreamHeader, len(md.Streams))
	for i, s := range md.Streams {
		dir[i] = format.StreamHeader{Offset: s.OffsetFromRoot, Size: s.Size, Name: s.Name}
	}
	ops.Write = append(ops.Write, WriteOperation{
		Offset:    md.MetadataRoot.Offset,
		Data:      format.EncodeMetadataRoot(format.MetadataVersion, 0, dir),
		Component: "metadata root",
	})

	for _, s := range md.Streams {
		data, err := p.streamData(s.Name, rvas)
		if err != nil {
			return err
		}
		if uint64(len(data)) != s.FileRegion.Size {
			return types.New(types.ErrKindMetadataLayout, types.StageOperations).Reason(types.ReasonBounds).
				Msg("stream %s built %d bytes, planned %d", s.Name, len(data), s.FileRegion.Size).Build()
		}
		padded := make([]byte, format.Align4(uint64(len(data))))
		copy(padded, data)
		ops.Write = append(ops.Write, WriteOperation{Offset: s.FileRegion.Offset, Data: padded, Component: "stream " + s.Name})
	}

	meta := md.MetaSection
	mapUS := func(idx uint32) (uint32, bool) {
		v, ok := p.remapper.UserStrings[idx]
		return v, ok
	}
	for _, b := range p.set.MethodBodies() {
		rva, ok := rvas[b.Placeholder]
		if !ok {
			return types.New(types.ErrKindOperationGeneration, types.StageOperations).Reason(types.ReasonMissing).
				Msg("method body 0x%08X has no RVA", b.Placeholder).Build()
		}
		ops.Write = append(ops.Write, WriteOperation{
			Offset:    meta.FileRegion.Offset + uint64(rva-meta.VirtualAddress),
			Data:      rewriteUserStringTokens(b.Data, mapUS),
			Component: fmt.Sprintf("method body at RVA 0x%08X", rva),
		})
	}
	return nil
}

func (p *Planner) streamData(name string, rvas map[uint32]uint32) ([]byte, error) {
	var b heaps.Builder
	switch name {
	case format.StreamTables:
		return p.encodeTables(rvas)
	case format.StreamStrings:
		b = p.strings
	case format.StreamBlob:
		b = p.blobs
	case format.StreamGUID:
		b = p.guids
	case format.StreamUserStrings:
		b = p.us
	default:
		return nil, types.New(types.ErrKindOperationGeneration, types.StageOperations).
			Msg("unknown stream %q", name).Build()
	}
	data, err := b.Build()
	if err != nil {
		return nil, wrapErr(types.ErrKindMetadataLayout, types.StageOperations, err, "build %s heap", name)
	}
	return data, nil
}

func (p *Planner) peHeaders(fs FileStructureLayout, md MetadataLayout, natives NativeTableRequirements) ([]byte, error) {
	v := p.view
	meta := md.MetaSection
	sections, ok := buf.ToU16(uint64(len(fs.Sections)))
	if !ok {
		return nil, types.Overflow(types.StageOperations, "section count", uint64(len(fs.Sections)))
	}
	image, err := narrowU32(types.StageOperations, "SizeOfImage",
		format.AlignTo(meta.VirtualEnd(), uint64(v.SectionAlignment())))
	if err != nil {
		return nil, err
	}
	headers, err := narrowU32(types.StageOperations, "SizeOfHeaders",
		max(uint64(v.SizeOfHeaders()), format.AlignTo(fs.SectionTable.End(), uint64(v.FileAlignment()))))
	if err != nil {
		return nil, err
	}
	cor20RVA, ok := fs.OffsetToRVA(md.COR20Header.Offset)
	if !ok {
		return nil, types.Missing(types.ErrKindOperationGeneration, types.StageOperations, "section for the COR20 header")
	}

	patch := peHeaderPatch{
		sections:      sections,
		sizeOfImage:   image,
		sizeOfHeaders: headers,
		clr:           [2]uint32{cor20RVA, format.COR20HeaderSize},
	}
	if natives.ImportTableRVA != nil {
		patch.imports = &[2]uint32{*natives.ImportTableRVA, uint32(natives.ImportTableSize)}
	}
	if natives.ExportTableRVA != nil {
		patch.exports = &[2]uint32{*natives.ExportTableRVA, uint32(natives.ExportTableSize)}
	}
	rel := v.DataDirectoriesOffset() - v.PEHeadersOffset()
	dirOffset, ok := buf.ToInt(rel)
	if !ok {
		return nil, types.Overflow(types.StageOperations, "data directory offset", rel)
	}
	return patchPEHeaders(v.PEHeaderBytes(), dirOffset, v.DataDirectoryCount(), patch)
}

func (p *Planner) cor20(fs FileStructureLayout, md MetadataLayout) ([]byte, error) {
	rootRVA, ok := fs.OffsetToRVA(md.MetadataRoot.Offset)
	if !ok {
		return nil, types.Missing(types.ErrKindOperationGeneration, types.StageOperations, "section for the metadata root")
	}
	size, err := narrowU32(types.StageOperations, "metadata size", md.MetaSection.FileRegion.Size-md.COR20Header.Size)
	if err != nil {
		return nil, err
	}
	return rebuildCOR20(p.view.COR20(), rootRVA, size, p.entryPoint()), nil
}

// entryPoint follows a MethodDef entry point token through row compaction.
func (p *Planner) entryPoint() uint32 {
	token := p.view.COR20().EntryPointToken
	if token&format.TokenTypeMask != methodDefToken {
		return token
	}
	rr, ok := p.remapper.Table(tables.MethodDef)
	if !ok {
		return token
	}
	rid, ok := rr.MapRID(token & format.TokenRIDMask)
	if !ok {
		p.warn("entry point method 0x%08X was deleted; entry point cleared", token)
		return 0
	}
	return methodDefToken | rid
}

func (p *Planner) planningInfo(sizes MetadataComponentSizes, metaSize, total uint64, start time.Time) PlanningInfo {
	v := p.view
	var original uint64
	for _, s := range v.Sections() {
		original += uint64(s.RawSize)
	}
	var increase uint64
	if total > v.Size() {
		increase = total - v.Size()
	}
	return PlanningInfo{
		OriginalSize:     v.Size(),
		SizeIncrease:     increase,
		PlanningDuration: p.now().Sub(start),
		Warnings:         append([]string(nil), p.warnings...),
		SizeBreakdown: SizeBreakdown{
			Headers:            v.PEHeadersOffset() + v.PEHeadersSize(),
			SectionTable:       uint64(len(v.Sections())+1) * format.SectionHeaderSize,
			OriginalSections:   original,
			MetadataSection:    metaSize,
			MetadataComponents: sizes,
		},
	}
}
