package cil_test

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pmikstacki/bsharp-sub005/internal/format"
	"github.com/pmikstacki/bsharp-sub005/internal/testutil"
	"github.com/pmikstacki/bsharp-sub005/internal/view"
	"github.com/pmikstacki/bsharp-sub005/internal/writer"
	"github.com/pmikstacki/bsharp-sub005/pkg/cil"
)

func TestParseWithoutChanges(t *testing.T) {
	asm, err := cil.Parse(testutil.Minimal().Build())
	require.NoError(t, err)
	assert.False(t, asm.HasChanges())
	assert.Equal(t, uint32(1), asm.View().RowCount(cil.MethodDef))

	l, err := asm.Plan()
	require.NoError(t, err)
	assert.Equal(t, ".meta", l.MetadataLayout.MetaSection.Name)
}

func TestAddMethodRoundTrip(t *testing.T) {
	asm, err := cil.Parse(testutil.Minimal().Build())
	require.NoError(t, err)

	name, err := asm.AddString("Added")
	require.NoError(t, err)
	sig, err := asm.AddBlob([]byte{0x00, 0x00, 0x01})
	require.NoError(t, err)
	body, err := asm.AddMethodBody([]byte{1<<2 | format.MethodHeaderTiny, 0x2A})
	require.NoError(t, err)
	rid, err := asm.InsertRow(cil.MethodDef, cil.Row{body, 0, 0x0096, name, sig, 1})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), rid)
	assert.True(t, asm.HasChanges())

	out, err := asm.Bytes()
	require.NoError(t, err)

	got, err := cil.Parse(out)
	require.NoError(t, err)
	v := got.View()
	require.Equal(t, uint32(2), v.RowCount(cil.MethodDef))
	row, err := v.Row(cil.MethodDef, 2)
	require.NoError(t, err)

	strs := v.StreamData(format.StreamStrings)
	assert.Equal(t, "Added\x00", string(strs[row[3]:row[3]+6]))

	off, err := v.RVAToOffset(row[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{1<<2 | format.MethodHeaderTiny, 0x2A}, v.Bytes()[off:off+2])
}

func TestDeleteEntryPointWarns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	asm, err := cil.Parse(testutil.Minimal().Build(), cil.WithLogger(zap.New(core)))
	require.NoError(t, err)
	require.NoError(t, asm.DeleteRow(cil.MethodDef, 1))

	out, err := asm.Bytes()
	require.NoError(t, err)
	v, err := view.Parse(out)
	require.NoError(t, err)
	assert.Zero(t, v.COR20().EntryPointToken)
	assert.Equal(t, uint32(0), v.RowCount(cil.MethodDef))
	assert.NotZero(t, logs.Len(), "planner warnings reach the logger")
}

func TestOpenAndWriteFile(t *testing.T) {
	path := testutil.WriteTemp(t, "app.dll", testutil.Minimal().Build())
	asm, err := cil.Open(path)
	require.NoError(t, err)
	defer asm.Close()

	idx, err := asm.AddUserString("Hello")
	require.NoError(t, err)
	assert.Equal(t, uint32(format.UserStringTokenTag)|idx, cil.UserStringToken(idx))

	// rewrite in place while the source is still open
	require.NoError(t, asm.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	v, err := view.Parse(data)
	require.NoError(t, err)
	assert.Greater(t, len(v.StreamData(format.StreamUserStrings)), len(asm.View().StreamData(format.StreamUserStrings)))
}

func TestWriteToSink(t *testing.T) {
	im := testutil.Minimal()
	im.Blob(make([]byte, 2048)) // room for the export directory
	asm, err := cil.Parse(im.Build())
	require.NoError(t, err)
	require.NoError(t, asm.AddNativeExport("Entry", 1, testutil.TextRVA))

	want, err := asm.Bytes()
	require.NoError(t, err)
	mem := &writer.MemWriter{}
	require.NoError(t, asm.WriteTo(mem))
	assert.Equal(t, want, mem.Buf)
}

func TestNativeEditValidation(t *testing.T) {
	asm, err := cil.Parse(testutil.Minimal().Build())
	require.NoError(t, err)
	assert.Error(t, asm.AddNativeImport("", "Beep", 0))
	assert.Error(t, asm.AddNativeImport("kernel32.dll", "", 0))
	assert.Error(t, asm.AddNativeImportOrdinal("", 7))
	assert.Error(t, asm.AddNativeExport("", 1, 0x2000))
	assert.Error(t, asm.ReplaceHeap(cil.Heap(42), nil))
	assert.False(t, asm.HasChanges())
}

func TestClosedAssembly(t *testing.T) {
	asm, err := cil.Parse(testutil.Minimal().Build())
	require.NoError(t, err)
	require.NoError(t, asm.Close())
	require.NoError(t, asm.Close())

	_, err = asm.Plan()
	assert.True(t, errors.Is(err, cil.ErrClosed))
	_, err = asm.Bytes()
	assert.True(t, errors.Is(err, cil.ErrClosed))
	_, err = asm.InsertRow(cil.TypeDef, cil.Row{0, 0, 0, 0, 1, 1})
	assert.True(t, errors.Is(err, cil.ErrClosed))
	assert.True(t, errors.Is(asm.UpdateString(1, "x"), cil.ErrClosed))
	assert.True(t, errors.Is(asm.ReplaceHeap(cil.Blob, []byte{0}), cil.ErrClosed))
	assert.True(t, errors.Is(asm.AddNativeImport("kernel32.dll", "Beep", 0), cil.ErrClosed))

	_, err = asm.AddString("x")
	assert.True(t, errors.Is(err, cil.ErrClosed))
	_, err = asm.AddBlob([]byte{1})
	assert.True(t, errors.Is(err, cil.ErrClosed))
	_, err = asm.AddGUID([16]byte{1})
	assert.True(t, errors.Is(err, cil.ErrClosed))
	_, err = asm.AddUserString("x")
	assert.True(t, errors.Is(err, cil.ErrClosed))
	_, err = asm.AddMethodBody([]byte{0x06, 0x2A})
	assert.True(t, errors.Is(err, cil.ErrClosed))
	assert.True(t, errors.Is(asm.RemoveBlob(1), cil.ErrClosed))
	assert.True(t, errors.Is(asm.UpdateGUID(1, [16]byte{}), cil.ErrClosed))
	assert.True(t, errors.Is(asm.RemoveUserString(1), cil.ErrClosed))
}

func TestRemoveStringClearsReferences(t *testing.T) {
	asm, err := cil.Parse(testutil.Minimal().Build())
	require.NoError(t, err)
	module, err := asm.View().Row(cil.Module, 1)
	require.NoError(t, err)
	require.NotZero(t, module[1])
	require.NoError(t, asm.RemoveString(module[1]))

	out, err := asm.Bytes()
	require.NoError(t, err)
	v, err := view.Parse(out)
	require.NoError(t, err)
	row, err := v.Row(cil.Module, 1)
	require.NoError(t, err)
	assert.Zero(t, row[1])
}

func TestTableByName(t *testing.T) {
	id, ok := cil.TableByName("TypeDef")
	require.True(t, ok)
	assert.Equal(t, cil.TypeDef, id)

	_, ok = cil.TableByName("NoSuchTable")
	assert.False(t, ok)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := cil.Open(t.TempDir() + "/missing.dll")
	require.Error(t, err)
}
