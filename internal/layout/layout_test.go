package layout

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmikstacki/bsharp-sub005/internal/changes"
	"github.com/pmikstacki/bsharp-sub005/internal/format"
	"github.com/pmikstacki/bsharp-sub005/internal/tables"
	"github.com/pmikstacki/bsharp-sub005/internal/testutil"
	"github.com/pmikstacki/bsharp-sub005/internal/view"
	"github.com/pmikstacki/bsharp-sub005/pkg/types"
)

type source struct {
	v   *view.Assembly
	set *changes.Set
}

func (s source) View() *view.Assembly  { return s.v }
func (s source) Changes() *changes.Set { return s.set }

func newSource(t *testing.T, im *testutil.Image) source {
	t.Helper()
	a, err := view.Parse(im.Build())
	require.NoError(t, err)
	set := changes.NewSet(changes.HeapBases{
		Strings:     uint32(len(a.StreamData(format.StreamStrings))),
		Blob:        uint32(len(a.StreamData(format.StreamBlob))),
		GUID:        uint32(len(a.StreamData(format.StreamGUID))),
		UserStrings: uint32(len(a.StreamData(format.StreamUserStrings))),
	}, a.TableInfo().Rows)
	return source{v: a, set: set}
}

var fixedClock = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

func plan(t *testing.T, src source) *WriteLayout {
	t.Helper()
	l, err := New(src, WithClock(fixedClock)).Plan()
	require.NoError(t, err)
	return l
}

func writeOp(t *testing.T, l *WriteLayout, component string) WriteOperation {
	t.Helper()
	for _, w := range l.Operations.Write {
		if w.Component == component {
			return w
		}
	}
	t.Fatalf("no write for %q", component)
	return WriteOperation{}
}

func hasWarning(l *WriteLayout, substr string) bool {
	for _, w := range l.PlanningInfo.Warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

// tinyLdstr returns a tiny method body: ldstr <token>; ret.
func tinyLdstr(token uint32) []byte {
	body := []byte{6<<2 | format.MethodHeaderTiny, format.OpLdstr, 0, 0, 0, 0, 0x2A}
	format.PutU32(body, 2, token)
	return body
}

func TestPlanWithoutChanges(t *testing.T) {
	src := newSource(t, testutil.Minimal())
	l := plan(t, src)
	require.NoError(t, l.Validate())

	text := src.v.Sections()[0]
	require.Len(t, l.FileStructure.Sections, 2)
	assert.Equal(t, ".text", l.FileStructure.Sections[0].Name)
	assert.Equal(t, uint64(text.RawPointer), l.FileStructure.Sections[0].FileRegion.Offset)

	meta, ok := l.FileStructure.MetaSection()
	require.True(t, ok)
	assert.Equal(t, format.MetaSectionName, meta.Name)
	assert.Equal(t, uint32(0x3000), meta.VirtualAddress)
	assert.Equal(t, uint64(text.RawPointer+text.RawSize), meta.FileRegion.Offset)
	assert.Zero(t, meta.FileRegion.Size%uint64(src.v.FileAlignment()))
	assert.Equal(t, uint32(format.ScnMetadata), meta.Characteristics)
	assert.Equal(t, meta.FileRegion.End(), l.TotalFileSize)
	breakdown := l.PlanningInfo.SizeBreakdown
	assert.Equal(t, meta.FileRegion.Size, breakdown.MetadataSection)
	assert.Greater(t, breakdown.MetadataSection, breakdown.MetadataComponents.Total())

	assert.Empty(t, l.RVAMappings)
	assert.False(t, l.NativeTableRequirements.Any())
	assert.Empty(t, l.Operations.Zero, "the old metadata stays inside the copied .text")
	assert.Empty(t, l.PlanningInfo.Warnings)
	assert.Equal(t, src.v.Size(), l.PlanningInfo.OriginalSize)
	assert.Equal(t, l.TotalFileSize-src.v.Size(), l.SizeIncrease())
	assert.Equal(t, l.Operations.Count(), l.PlanningInfo.OperationCount)
	assert.Zero(t, l.PlanningInfo.PlanningDuration)

	tablesOp := writeOp(t, l, "stream #~")
	want := src.v.StreamData(format.StreamTables)
	assert.Equal(t, want, tablesOp.Data[:len(want)], "tables stream is copied verbatim")
}

func TestPlanStreamPlacement(t *testing.T) {
	src := newSource(t, testutil.Minimal())
	l := plan(t, src)
	md := l.MetadataLayout

	meta := md.MetaSection
	assert.Equal(t, meta.FileRegion.Offset, md.COR20Header.Offset)
	assert.Equal(t, uint64(format.COR20HeaderSize), md.COR20Header.Size)
	assert.Equal(t, md.COR20Header.End(), md.MetadataRoot.Offset)
	assert.Equal(t, md.MetadataRoot.Offset+format.RootHeaderSize(format.MetadataVersion), md.StreamDirectory.Offset)
	assert.Equal(t, md.MetadataRoot.End(), md.StreamDirectory.End())

	names := make([]string, len(md.Streams))
	for i, s := range md.Streams {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"#~", "#Strings", "#Blob", "#GUID", "#US"}, names)

	assert.Equal(t, md.MetadataRoot.End(), md.Streams[0].FileRegion.Offset)
	for i := 1; i < len(md.Streams); i++ {
		prev := md.Streams[i-1]
		assert.Equal(t, format.Align4(prev.FileRegion.End()+format.StreamGap), md.Streams[i].FileRegion.Offset,
			"stream %s", md.Streams[i].Name)
	}
	for _, s := range md.Streams {
		assert.Equal(t, md.MetadataRoot.Offset+uint64(s.OffsetFromRoot), s.FileRegion.Offset)
		assert.Equal(t, uint64(s.Size), s.FileRegion.Size)
		assert.Zero(t, s.FileRegion.Offset%4)
		got, ok := md.Stream(s.Name)
		require.True(t, ok)
		assert.Equal(t, s, got)
	}

	root := writeOp(t, l, "metadata root")
	parsed, err := format.ParseMetadataRoot(root.Data)
	require.NoError(t, err)
	require.Len(t, parsed.Streams, len(md.Streams))
	for i, s := range parsed.Streams {
		assert.Equal(t, md.Streams[i].Name, s.Name)
		assert.Equal(t, md.Streams[i].OffsetFromRoot, s.Offset)
	}
}

func TestPlanCOR20AndHeaders(t *testing.T) {
	im := testutil.Minimal()
	im.COR20Flags = 0xFFFF0001
	src := newSource(t, im)
	l := plan(t, src)
	md := l.MetadataLayout

	cor20, err := format.ParseCOR20(writeOp(t, l, "COR20 header").Data)
	require.NoError(t, err)
	assert.Equal(t, uint32(format.COR20HeaderSize), cor20.Cb)
	assert.Equal(t, md.MetaSection.VirtualAddress+format.COR20HeaderSize, cor20.MetadataRVA)
	assert.Equal(t, uint32(md.MetaSection.FileRegion.Size-format.COR20HeaderSize), cor20.MetadataSize)
	assert.Equal(t, uint32(1), cor20.Flags)
	assert.Equal(t, uint32(0x06000001), cor20.EntryPointToken)
	assert.Equal(t, src.v.COR20().MajorRuntimeVersion, cor20.MajorRuntimeVersion)

	hdr := writeOp(t, l, "PE headers")
	assert.Equal(t, l.FileStructure.PEHeaders.Offset, hdr.Offset)
	coff := format.PESignatureSize
	opt := coff + format.COFFHeaderSize
	assert.Equal(t, uint16(2), format.ReadU16(hdr.Data, coff+format.COFFNumberOfSectionsOffset))
	assert.Equal(t, uint32(0x4000), format.ReadU32(hdr.Data, opt+format.OptSizeOfImageOffset))
	assert.Equal(t, src.v.SizeOfHeaders(), format.ReadU32(hdr.Data, opt+format.OptSizeOfHeadersOffset))
	assert.Zero(t, format.ReadU32(hdr.Data, opt+format.OptCheckSumOffset))
	clr := int(src.v.DataDirectoriesOffset()-src.v.PEHeadersOffset()) + format.DirCLR*format.DataDirectorySize
	assert.Equal(t, md.MetaSection.VirtualAddress, format.ReadU32(hdr.Data, clr))
	assert.Equal(t, uint32(format.COR20HeaderSize), format.ReadU32(hdr.Data, clr+4))

	table := writeOp(t, l, "section table")
	assert.Equal(t, l.FileStructure.SectionTable.Offset, table.Offset)
	require.Len(t, table.Data, 2*format.SectionHeaderSize)
	last, err := format.ParseSectionHeader(table.Data[format.SectionHeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, ".meta", last.Name)
	assert.Equal(t, md.MetaSection.VirtualAddress, last.VirtualAddress)
	assert.Equal(t, uint32(md.MetaSection.FileRegion.Offset), last.PointerToRawData)
}

func TestPlanSplitsCopyAroundOldMetadata(t *testing.T) {
	src := newSource(t, testutil.Minimal())
	l := plan(t, src)

	metaOff, err := src.v.RVAToOffset(src.v.COR20().MetadataRVA)
	require.NoError(t, err)
	metaEnd := metaOff + uint64(src.v.COR20().MetadataSize)
	text := src.v.Sections()[0]

	var before, after *CopyOperation
	for i, c := range l.Operations.Copy {
		switch c.Description {
		case "DOS header":
			assert.Equal(t, uint64(0), c.SourceOffset)
			assert.Equal(t, uint64(format.DOSHeaderSize), c.Size)
		case "DOS stub":
			assert.Equal(t, uint64(testutil.DOSStubEnd-format.DOSHeaderSize), c.Size)
		case "section .text before metadata":
			before = &l.Operations.Copy[i]
		case "section .text after metadata":
			after = &l.Operations.Copy[i]
		}
		assert.False(t, c.Source().Overlaps(FileRegion{Offset: metaOff, Size: metaEnd - metaOff}),
			"copy %q reads old metadata", c.Description)
	}
	require.NotNil(t, before)
	require.NotNil(t, after)
	assert.Equal(t, uint64(text.RawPointer), before.SourceOffset)
	assert.Equal(t, metaOff-uint64(text.RawPointer), before.Size)
	assert.Equal(t, metaEnd, after.SourceOffset)
	assert.Equal(t, uint64(text.RawPointer+text.RawSize)-metaEnd, after.Size)
	assert.Equal(t, after.SourceOffset, after.TargetOffset)
}

func TestPlanAddsStringsAndMethodBody(t *testing.T) {
	src := newSource(t, testutil.Minimal())
	set := src.set
	name := set.Strings.Append("Added")
	us := set.UserStrings.Append("Hello")
	placeholder := set.AddMethodBody(tinyLdstr(format.UserStringTokenTag | us))
	_, err := set.InsertRow(tables.MethodDef, tables.Row{placeholder, 0, 0x0096, name, 1, 1})
	require.NoError(t, err)

	l := plan(t, src)
	require.NoError(t, l.Validate())

	rva, ok := l.RVAMappings[placeholder]
	require.True(t, ok)
	meta := l.MetadataLayout.MetaSection
	assert.Zero(t, rva%4)
	assert.GreaterOrEqual(t, uint64(rva), uint64(meta.VirtualAddress)+(l.MetadataLayout.StreamsEnd()-meta.FileRegion.Offset))
	assert.LessOrEqual(t, uint64(rva)+7, meta.VirtualEnd())

	body := writeOp(t, l, fmt.Sprintf("method body at RVA 0x%08X", rva))
	off, ok := l.FileStructure.RVAToOffset(rva)
	require.True(t, ok)
	assert.Equal(t, off, body.Offset)
	wantToken := format.UserStringTokenTag | l.IndexMappings.MapUserString(us)
	assert.Equal(t, wantToken, format.ReadU32(body.Data, 2))

	ts := writeOp(t, l, "stream #~")
	hdr, err := tables.ParseHeader(ts.Data)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), hdr.Info.RowCount(tables.MethodDef))
	start := hdr.Info.Offsets(hdr.Size)[tables.MethodDef]
	size := uint64(hdr.Info.RowSize(tables.MethodDef))
	row, err := hdr.Info.DecodeRow(tables.MethodDef, ts.Data[start+size:start+2*size])
	require.NoError(t, err)
	assert.Equal(t, rva, row[0], "placeholder RVA is replaced by the placed body")
	assert.Equal(t, l.IndexMappings.MapString(name), row[3])

	orig, err := hdr.Info.DecodeRow(tables.MethodDef, ts.Data[start:start+size])
	require.NoError(t, err)
	assert.Equal(t, uint32(testutil.TextRVA), orig[0])
}

func TestPlanMethodBodiesInPlaceholderOrder(t *testing.T) {
	src := newSource(t, testutil.Minimal())
	first := src.set.AddMethodBody([]byte{0x06, 0x00, 0x2A})
	second := src.set.AddMethodBody([]byte{0x0A, 0x2A})
	third := src.set.AddMethodBody(make([]byte, 13))

	l := plan(t, src)
	assert.Equal(t, l.RVAMappings[first]+4, l.RVAMappings[second])
	assert.Equal(t, l.RVAMappings[second]+4, l.RVAMappings[third])
	assert.False(t, hasWarning(l, "without a method body"))
}

func TestPlanWarnsOnDanglingPlaceholder(t *testing.T) {
	src := newSource(t, testutil.Minimal())
	_, err := src.set.InsertRow(tables.MethodDef, tables.Row{format.PlaceholderRVABase + 0x40, 0, 0x0096, 1, 1, 1})
	require.NoError(t, err)

	l := plan(t, src)
	assert.True(t, hasWarning(l, "placeholder RVA"), "warnings: %v", l.PlanningInfo.Warnings)
}

func TestPlanWarnsOnUnmappedRVA(t *testing.T) {
	src := newSource(t, testutil.Minimal())
	row, err := src.v.Row(tables.MethodDef, 1)
	require.NoError(t, err)
	row[0] = 0x20000000
	require.NoError(t, src.set.UpdateRow(tables.MethodDef, 1, row))

	l := plan(t, src)
	require.NoError(t, l.Validate())
	assert.True(t, hasWarning(l, "unmapped RVA 0x20000000"), "warnings: %v", l.PlanningInfo.Warnings)

	ts := writeOp(t, l, "stream #~").Data
	hdr, err := tables.ParseHeader(ts)
	require.NoError(t, err)
	start := hdr.Info.Offsets(hdr.Size)[tables.MethodDef]
	got, err := hdr.Info.DecodeRow(tables.MethodDef, ts[start:start+uint64(hdr.Info.RowSize(tables.MethodDef))])
	require.NoError(t, err)
	assert.Equal(t, uint32(0x20000000), got[0], "unmapped RVA is kept")
}

func TestPlanZeroesMetadataOutsideSections(t *testing.T) {
	im := testutil.Minimal()
	im.MetadataOffset = 0x400
	src := newSource(t, im)
	_, inSection := src.v.SectionForRVA(src.v.COR20().MetadataRVA)
	require.False(t, inSection)

	l := plan(t, src)
	require.NoError(t, l.Validate())
	require.Len(t, l.Operations.Zero, 1)
	z := l.Operations.Zero[0]
	assert.Equal(t, uint64(0x400), z.Offset)
	assert.Equal(t, uint64(src.v.COR20().MetadataSize), z.Size)
	for _, c := range l.Operations.Copy {
		assert.False(t, c.Source().Overlaps(z.Region()), "copy %q reads the old metadata", c.Description)
	}
}

func TestPlanDeletedEntryPoint(t *testing.T) {
	src := newSource(t, testutil.Minimal())
	require.NoError(t, src.set.DeleteRow(tables.MethodDef, 1))

	l := plan(t, src)
	cor20, err := format.ParseCOR20(writeOp(t, l, "COR20 header").Data)
	require.NoError(t, err)
	assert.Zero(t, cor20.EntryPointToken)
	assert.True(t, hasWarning(l, "entry point"))

	hdr, err := tables.ParseHeader(writeOp(t, l, "stream #~").Data)
	require.NoError(t, err)
	assert.Zero(t, hdr.Info.RowCount(tables.MethodDef))
	assert.Equal(t, uint32(2), hdr.Info.RowCount(tables.TypeDef))
}

func TestPlanEntryPointFollowsCompaction(t *testing.T) {
	im := testutil.Minimal()
	im.AddRow(tables.MethodDef, tables.Row{0, 0, 0x0096, im.String("Second"), 1, 1})
	im.EntryPoint = 0x06000002
	src := newSource(t, im)
	require.NoError(t, src.set.DeleteRow(tables.MethodDef, 1))

	l := plan(t, src)
	cor20, err := format.ParseCOR20(writeOp(t, l, "COR20 header").Data)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x06000001), cor20.EntryPointToken)
}

func TestPlanWidensHeapIndices(t *testing.T) {
	src := newSource(t, testutil.Minimal())
	require.False(t, src.v.TableInfo().WideStrings)
	src.set.Strings.Append(strings.Repeat("x", format.WideHeapThreshold))

	l := plan(t, src)
	require.NoError(t, l.Validate())
	ts := writeOp(t, l, "stream #~")
	hdr, err := tables.ParseHeader(ts.Data)
	require.NoError(t, err)
	assert.True(t, hdr.Info.WideStrings)
	assert.False(t, hdr.Info.WideBlobs)
	assert.Equal(t, src.v.TableInfo().Rows, hdr.Info.Rows)

	s, ok := l.MetadataLayout.Stream(format.StreamTables)
	require.True(t, ok)
	assert.Greater(t, uint64(s.Size), uint64(len(src.v.StreamData(format.StreamTables))))
}

func TestPlanNativeImports(t *testing.T) {
	im := testutil.Minimal()
	im.Blob(make([]byte, 2048))
	src := newSource(t, im)
	src.set.Imports.Add("kernel32.dll", "GetTickCount", 0)
	src.set.Exports.Add("Entry", 1, testutil.TextRVA)

	l := plan(t, src)
	n := l.NativeTableRequirements
	require.True(t, n.NeedsImportTables)
	require.True(t, n.NeedsExportTables)
	require.NotNil(t, n.ImportTableRVA)
	require.NotNil(t, n.ExportTableRVA)
	assert.NotZero(t, n.ImportTableSize)
	assert.NotZero(t, n.ExportTableSize)

	meta := l.MetadataLayout.MetaSection
	start := format.Align4(meta.VirtualEnd() - format.NativeTableReserve)
	assert.Equal(t, uint32(start), *n.ImportTableRVA)
	assert.Equal(t, uint32(format.Align4(start+n.ImportTableSize)), *n.ExportTableRVA)
	assert.LessOrEqual(t, uint64(*n.ExportTableRVA)+n.ExportTableSize, meta.VirtualEnd())
	assert.True(t, hasWarning(l, "overlap"), "warnings: %v", l.PlanningInfo.Warnings)

	hdr := writeOp(t, l, "PE headers")
	dirs := int(src.v.DataDirectoriesOffset() - src.v.PEHeadersOffset())
	imp := dirs + format.DirImport*format.DataDirectorySize
	exp := dirs + format.DirExport*format.DataDirectorySize
	assert.Equal(t, *n.ImportTableRVA, format.ReadU32(hdr.Data, imp))
	assert.Equal(t, uint32(n.ImportTableSize), format.ReadU32(hdr.Data, imp+4))
	assert.Equal(t, *n.ExportTableRVA, format.ReadU32(hdr.Data, exp))
}

func TestPlanNativeSpaceExhausted(t *testing.T) {
	src := newSource(t, testutil.Minimal())
	src.set.Imports.Add("kernel32.dll", "GetTickCount", 0)

	_, err := New(src).Plan()
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNativeSpace), "got %v", err)
	var te *types.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, types.StageNativeAllocation, te.Stage)
}

func TestNativeEstimates(t *testing.T) {
	assert.Equal(t, uint64(2*64+3*32+1024), estimateImportSize(2, 3))
	assert.Equal(t, uint64(40+4*16+512), estimateExportSize(4))
}

func TestPlanRelocatesSectionsBehindGrownTable(t *testing.T) {
	im := testutil.Minimal()
	im.ExtraSections = 2
	src := newSource(t, im)
	// the original table ends within one header of the first section
	require.Greater(t, src.v.SectionTableOffset()+4*format.SectionHeaderSize, uint64(src.v.Sections()[0].RawPointer))

	l := plan(t, src)
	require.NoError(t, l.Validate())
	secs := l.FileStructure.Sections
	require.Len(t, secs, 4)
	orig := src.v.Sections()

	assert.Equal(t, uint64(orig[0].RawPointer)+format.SectionHeaderSize, secs[0].FileRegion.Offset)
	assert.Equal(t, uint64(orig[0].RawSize)-format.SectionHeaderSize, secs[0].FileRegion.Size)
	assert.Equal(t, secs[1].FileRegion.Offset, secs[0].FileRegion.End())
	assert.Equal(t, uint64(orig[1].RawPointer), secs[1].FileRegion.Offset)
	assert.Equal(t, orig[0].VirtualAddress, secs[0].VirtualAddress)
	assert.True(t, hasWarning(l, "truncated"))

	hdr := writeOp(t, l, "PE headers")
	opt := format.PESignatureSize + format.COFFHeaderSize
	assert.Equal(t, uint32(0x400), format.ReadU32(hdr.Data, opt+format.OptSizeOfHeadersOffset))
	assert.Equal(t, uint16(4), format.ReadU16(hdr.Data, format.PESignatureSize+format.COFFNumberOfSectionsOffset))
}

func TestPlanIsDeterministic(t *testing.T) {
	src := newSource(t, testutil.Minimal())
	src.set.Strings.Append("Again")
	src.set.AddMethodBody([]byte{0x0A, 0x2A})

	a := plan(t, src)
	b := plan(t, src)
	assert.Equal(t, a, b)
}

func TestPlanPE32Plus(t *testing.T) {
	im := testutil.Minimal()
	im.PE32Plus = true
	src := newSource(t, im)
	l := plan(t, src)

	hdr := writeOp(t, l, "PE headers")
	clr := int(src.v.DataDirectoriesOffset()-src.v.PEHeadersOffset()) + format.DirCLR*format.DataDirectorySize
	assert.Equal(t, l.MetadataLayout.MetaSection.VirtualAddress, format.ReadU32(hdr.Data, clr))
}

func TestPlanMissingInputs(t *testing.T) {
	_, err := New(source{}).Plan()
	assert.True(t, errors.Is(err, types.ErrMissing), "got %v", err)
}

func TestNarrowU32(t *testing.T) {
	v, err := narrowU32(types.StageMetadataLayout, "size", 0xFFFFFFFF)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), v)

	_, err = narrowU32(types.StageMetadataLayout, "size", 1<<32)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrOverflow))
	var te *types.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, types.StageMetadataLayout, te.Stage)
}

func TestValidateRejectsBrokenLayouts(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(l *WriteLayout)
		reason types.Reason
	}{
		{"no sections", func(l *WriteLayout) { l.FileStructure.Sections = nil }, types.ReasonMissing},
		{"short section table", func(l *WriteLayout) { l.FileStructure.SectionTable.Size = format.SectionHeaderSize }, types.ReasonBounds},
		{"metadata not last", func(l *WriteLayout) {
			s := l.FileStructure.Sections
			s[0], s[1] = s[1], s[0]
		}, types.ReasonOverlap},
		{"size mismatch", func(l *WriteLayout) { l.TotalFileSize++ }, types.ReasonBounds},
		{"stream directory mismatch", func(l *WriteLayout) { l.MetadataLayout.Streams[1].OffsetFromRoot += 4 }, types.ReasonBounds},
		{"overlapping streams", func(l *WriteLayout) {
			s := l.MetadataLayout.Streams
			s[1].FileRegion.Offset = s[0].FileRegion.Offset
			s[1].OffsetFromRoot = s[0].OffsetFromRoot
		}, types.ReasonOverlap},
		{"overlapping copies", func(l *WriteLayout) {
			l.Operations.Copy = append(l.Operations.Copy, CopyOperation{Size: 8, Description: "dup"})
		}, types.ReasonOverlap},
		{"write past end", func(l *WriteLayout) {
			l.Operations.Write = append(l.Operations.Write, WriteOperation{Offset: l.TotalFileSize, Data: []byte{1}})
		}, types.ReasonBounds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := plan(t, newSource(t, testutil.Minimal()))
			tc.mutate(l)
			err := l.Validate()
			require.Error(t, err)
			var te *types.Error
			require.True(t, errors.As(err, &te))
			assert.Equal(t, types.StageValidation, te.Stage)
			assert.Equal(t, tc.reason, te.Reason, "%v", err)
		})
	}
}

func TestSummary(t *testing.T) {
	im := testutil.Minimal()
	im.ExtraSections = 2
	src := newSource(t, im)
	src.set.AddMethodBody([]byte{0x0A, 0x2A})
	l := plan(t, src)

	s := l.Summary()
	for _, want := range []string{".text", ".meta", "(metadata)", "#Strings", "Operations:", "Method bodies placed: 1", "warning: section .text truncated"} {
		assert.Contains(t, s, want)
	}
}

func TestPlanAppendStringGrowsHeap(t *testing.T) {
	src := newSource(t, testutil.Minimal())
	before := uint64(len(src.v.StreamData(format.StreamStrings)))
	src.set.Strings.Append("Hello")

	l := plan(t, src)
	assert.Equal(t, before+6, l.PlanningInfo.SizeBreakdown.MetadataComponents.StringsHeap)
	s, ok := l.MetadataLayout.Stream(format.StreamStrings)
	require.True(t, ok)
	assert.Equal(t, uint32(before+6), s.Size)

	want := src.v.StreamData(format.StreamTables)
	got := writeOp(t, l, "stream #~").Data
	assert.Equal(t, want, got[:len(want)], "tables stream is unchanged")
	assert.False(t, l.NativeTableRequirements.Any())
}

func TestPlanPlacesFatMethodBodyAfterStreams(t *testing.T) {
	src := newSource(t, testutil.Minimal())
	fat := make([]byte, format.MethodHeaderFatSize)
	format.PutU16(fat, 0, 0x3003)
	format.PutU16(fat, 2, 8)
	placeholder := src.set.AddMethodBody(fat)
	require.Equal(t, uint32(0xF0000000), placeholder)

	l := plan(t, src)
	md := l.MetadataLayout
	meta := md.MetaSection
	comps := l.PlanningInfo.SizeBreakdown.MetadataComponents
	nominal := uint64(meta.VirtualAddress) + comps.Total() + format.StreamGap*uint64(comps.StreamCount())
	actual := uint64(meta.VirtualAddress) + md.StreamsEnd() - meta.FileRegion.Offset
	base := format.Align4(max(nominal, actual))

	rva := l.RVAMappings[placeholder]
	assert.Equal(t, uint32(base), rva)
	w := writeOp(t, l, fmt.Sprintf("method body at RVA 0x%08X", rva))
	assert.Len(t, w.Data, 12)
	assert.Equal(t, meta.FileRegion.Offset+uint64(rva-meta.VirtualAddress), w.Offset)
}

func TestPlanCompactsSparseDelete(t *testing.T) {
	im := testutil.Minimal()
	for _, name := range []string{"A", "B", "C"} {
		im.AddRow(tables.TypeDef, tables.Row{0x00100001, im.String(name), 0, 0, 2, 1})
	}
	src := newSource(t, im)
	require.Equal(t, uint32(5), src.v.RowCount(tables.TypeDef))
	require.NoError(t, src.set.DeleteRow(tables.TypeDef, 3))

	l := plan(t, src)
	rr, ok := l.IndexMappings.Table(tables.TypeDef)
	require.True(t, ok)
	assert.Equal(t, uint32(4), rr.FinalCount())
	for from, to := range map[uint32]uint32{1: 1, 2: 2, 4: 3, 5: 4} {
		got, ok := rr.MapRID(from)
		require.True(t, ok)
		assert.Equal(t, to, got, "RID %d", from)
	}
	_, ok = rr.MapRID(3)
	assert.False(t, ok)

	ts := writeOp(t, l, "stream #~").Data
	hdr, err := tables.ParseHeader(ts)
	require.NoError(t, err)
	require.Equal(t, uint32(4), hdr.Info.RowCount(tables.TypeDef))
	start := hdr.Info.Offsets(hdr.Size)[tables.TypeDef]
	size := uint64(hdr.Info.RowSize(tables.TypeDef))
	row3, err := hdr.Info.DecodeRow(tables.TypeDef, ts[start+2*size:start+3*size])
	require.NoError(t, err)
	want, err := src.v.Row(tables.TypeDef, 4)
	require.NoError(t, err)
	assert.Equal(t, want, row3)
}
