package writer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmikstacki/bsharp-sub005/internal/changes"
	"github.com/pmikstacki/bsharp-sub005/internal/format"
	"github.com/pmikstacki/bsharp-sub005/internal/layout"
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

func load(t *testing.T, im *testutil.Image) source {
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

func rewrite(t *testing.T, src source) (*layout.WriteLayout, *view.Assembly) {
	t.Helper()
	l, err := layout.New(src).Plan()
	require.NoError(t, err)
	out, err := Execute(l, src.v.Bytes(), NativeTablesFor(src.set, src.v.Is64()), nil)
	require.NoError(t, err)
	require.Len(t, out, int(l.TotalFileSize))
	got, err := view.Parse(out)
	require.NoError(t, err, "rewritten image must parse")
	return l, got
}

func TestRoundTripWithoutChanges(t *testing.T) {
	src := load(t, testutil.Minimal())
	l, got := rewrite(t, src)

	require.Len(t, got.Sections(), 2)
	assert.Equal(t, ".meta", got.Sections()[1].Name)
	meta := l.MetadataLayout.MetaSection
	assert.Equal(t, meta.VirtualAddress, got.COR20().MetadataRVA-format.COR20HeaderSize)
	assert.Equal(t, src.v.COR20().EntryPointToken, got.COR20().EntryPointToken)

	for _, name := range format.StreamOrder {
		assert.Equal(t, src.v.StreamData(name), got.StreamData(name), "stream %s", name)
	}
	assert.Equal(t, src.v.TableInfo(), got.TableInfo())
	for rid := uint32(1); rid <= src.v.RowCount(tables.TypeDef); rid++ {
		want, err := src.v.Row(tables.TypeDef, rid)
		require.NoError(t, err)
		row, err := got.Row(tables.TypeDef, rid)
		require.NoError(t, err)
		assert.Equal(t, want, row)
	}

	// the original method body still resolves in .text
	body, err := got.RVAToOffset(testutil.TextRVA)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0A, 0x2A}, got.Bytes()[body:body+2])
}

func TestRoundTripWithNewMethod(t *testing.T) {
	src := load(t, testutil.Minimal())
	name := src.set.Strings.Append("Added")
	us := src.set.UserStrings.Append("Hello")
	body := []byte{6<<2 | format.MethodHeaderTiny, format.OpLdstr, 0, 0, 0, 0, 0x2A}
	format.PutU32(body, 2, format.UserStringTokenTag|us)
	placeholder := src.set.AddMethodBody(body)
	_, err := src.set.InsertRow(tables.MethodDef, tables.Row{placeholder, 0, 0x0096, name, 1, 1})
	require.NoError(t, err)

	l, got := rewrite(t, src)
	require.Equal(t, uint32(2), got.RowCount(tables.MethodDef))
	row, err := got.Row(tables.MethodDef, 2)
	require.NoError(t, err)
	assert.Equal(t, l.RVAMappings[placeholder], row[0])

	strs := got.StreamData(format.StreamStrings)
	idx := row[3]
	require.Less(t, int(idx)+6, len(strs)+1)
	assert.Equal(t, "Added\x00", string(strs[idx:idx+6]))

	off, err := got.RVAToOffset(row[0])
	require.NoError(t, err)
	placed := got.Bytes()[off : off+uint64(len(body))]
	assert.Equal(t, format.UserStringTokenTag|l.IndexMappings.MapUserString(us), format.ReadU32(placed, 2))
	assert.Equal(t, byte(0x2A), placed[6])

	usHeap := got.StreamData(format.StreamUserStrings)
	final := l.IndexMappings.MapUserString(us)
	require.Less(t, int(final), len(usHeap))
	assert.Equal(t, byte(11), usHeap[final], "two UTF-16 code units per char plus the terminal byte")
}

func TestRoundTripNativeImports(t *testing.T) {
	im := testutil.Minimal()
	im.Blob(make([]byte, 2048))
	src := load(t, im)
	src.set.Imports.Add("kernel32.dll", "GetTickCount", 0)

	l, got := rewrite(t, src)
	req := l.NativeTableRequirements
	require.NotNil(t, req.ImportTableRVA)

	dir, ok := got.DataDirectory(format.DirImport)
	require.True(t, ok)
	assert.Equal(t, *req.ImportTableRVA, dir.RVA)
	assert.Equal(t, uint32(req.ImportTableSize), dir.Size)

	natives := NativeTablesFor(src.set, false)
	want, err := natives.Imports.Build(*req.ImportTableRVA, false)
	require.NoError(t, err)
	off, err := got.RVAToOffset(dir.RVA)
	require.NoError(t, err)
	assert.Equal(t, want, got.Bytes()[off:off+uint64(len(want))])
	assert.True(t, bytes.Contains(got.Bytes(), []byte("kernel32.dll\x00")))
}

// The native reserve is the last 1 KiB of .meta whatever the stream sizes,
// so with a small native table it lands on the tail of the streams. Native
// tables are written last and replace those stream bytes.
func TestNativeTablesOverwriteStreamTail(t *testing.T) {
	im := testutil.Minimal()
	im.Blob(bytes.Repeat([]byte{0xAB}, 2048))
	src := load(t, im)
	src.set.Imports.Add("kernel32.dll", "GetTickCount", 0)

	l, err := layout.New(src).Plan()
	require.NoError(t, err)
	assert.Contains(t, strings.Join(l.PlanningInfo.Warnings, "\n"), "overlap")

	natives := NativeTablesFor(src.set, false)
	out, err := Execute(l, src.v.Bytes(), natives, nil)
	require.NoError(t, err)

	req := l.NativeTableRequirements
	require.NotNil(t, req.ImportTableRVA)
	off, ok := l.FileStructure.RVAToOffset(*req.ImportTableRVA)
	require.True(t, ok)
	blob, ok := l.MetadataLayout.Stream(format.StreamBlob)
	require.True(t, ok)
	require.True(t, blob.FileRegion.ContainsRegion(layout.FileRegion{Offset: off, Size: req.ImportTableSize}),
		"import table at 0x%X, #Blob %+v", off, blob.FileRegion)

	var planned []byte
	for _, w := range l.Operations.Write {
		if w.Component == "stream "+format.StreamBlob {
			planned = w.Data
		}
	}
	require.NotNil(t, planned)

	want, err := natives.Imports.Build(*req.ImportTableRVA, false)
	require.NoError(t, err)
	n := uint64(len(want))
	rel := off - blob.FileRegion.Offset
	assert.Equal(t, bytes.Repeat([]byte{0xAB}, len(want)), planned[rel:rel+n], "planned #Blob bytes")
	assert.Equal(t, want, out[off:off+n], "written image holds the import table")
}

func TestExecuteRequiresNativeEncoder(t *testing.T) {
	im := testutil.Minimal()
	im.Blob(make([]byte, 2048))
	src := load(t, im)
	src.set.Imports.Add("kernel32.dll", "GetTickCount", 0)
	l, err := layout.New(src).Plan()
	require.NoError(t, err)

	_, err = Execute(l, src.v.Bytes(), NativeTables{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &types.Error{Kind: types.ErrKindExecution, Reason: types.ReasonMissing}))
}

func TestExecuteRejectsShortSource(t *testing.T) {
	src := load(t, testutil.Minimal())
	l, err := layout.New(src).Plan()
	require.NoError(t, err)

	_, err = Execute(l, src.v.Bytes()[:128], NativeTables{}, nil)
	require.Error(t, err)
	var te *types.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, types.ReasonBounds, te.Reason)
}

func TestApplyToSinks(t *testing.T) {
	src := load(t, testutil.Minimal())
	l, err := layout.New(src).Plan()
	require.NoError(t, err)
	want, err := Execute(l, src.v.Bytes(), NativeTables{}, nil)
	require.NoError(t, err)

	mem := &MemWriter{}
	require.NoError(t, Apply(l, src.v.Bytes(), NativeTables{}, mem, nil))
	assert.Equal(t, want, mem.Buf)

	path := filepath.Join(t.TempDir(), "out.dll")
	require.NoError(t, Apply(l, src.v.Bytes(), NativeTables{}, &FileWriter{Path: path}, nil))
	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, onDisk)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file is renamed into place")
}

func TestArenaIsZeroed(t *testing.T) {
	a := getArena(64)
	for i := range *a {
		(*a)[i] = 0xFF
	}
	putArena(a)
	b := getArena(32)
	assert.Equal(t, make([]byte, 32), *b)
	putArena(b)
}
