package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/text/encoding/unicode"

	"github.com/pmikstacki/bsharp-sub005/internal/format"
	"github.com/pmikstacki/bsharp-sub005/internal/tables"
)

// Fixed layout of images produced by Image.Build.
const (
	// TextRVA is the virtual address of the .text section.
	TextRVA = 0x2000
	// DOSStubEnd is e_lfanew for generated images.
	DOSStubEnd = 0x80
)

// Image assembles a small but structurally complete CLI image in memory.
// Heaps are appended to in call order and tables hold rows exactly as given;
// the caller is responsible for heap indices inside rows.
//
// Example:
//
//	im := testutil.Minimal()
//	im.String("Extra")
//	data := im.Build()
type Image struct {
	PE32Plus         bool
	FileAlignment    uint32
	SectionAlignment uint32
	// ExtraSections appends small data sections after .text.
	ExtraSections int
	// TextTail is the number of 0xCC bytes following the metadata in .text.
	TextTail   int
	COR20Flags uint32
	EntryPoint uint32
	Timestamp  uint32 // COFF TimeDateStamp
	// MetadataOffset places the metadata in the header region at this file
	// offset (RVA equal to offset) instead of inside .text. Zero keeps it in
	// .text.
	MetadataOffset uint32

	strings []byte
	blobs   []byte
	guids   []byte
	us      []byte
	rows    [tables.Count][]tables.Row
	code    []byte
}

// NewImage returns an image with empty heaps and no rows.
func NewImage() *Image {
	return &Image{
		FileAlignment:    format.DefaultFileAlignment,
		SectionAlignment: format.DefaultSectionAlignment,
		TextTail:         16,
		COR20Flags:       1,
		strings:          []byte{0},
		blobs:            []byte{0},
		us:               []byte{0},
	}
}

// Minimal returns an image with a Module, two TypeDefs, one MethodDef backed
// by a tiny "ret" body, an Assembly row and one user string.
func Minimal() *Image {
	im := NewImage()
	bodyRVA := im.Code([]byte{0x0A, 0x2A})
	mvid := im.GUID([16]byte{0x10, 0x32, 0x54, 0x76, 0x98, 0xBA, 0xDC, 0xFE, 1, 2, 3, 4, 5, 6, 7, 8})
	im.AddRow(tables.Module, tables.Row{0, im.String("Test.dll"), mvid, 0, 0})
	im.AddRow(tables.TypeDef, tables.Row{0, im.String("<Module>"), 0, 0, 1, 1})
	im.AddRow(tables.TypeDef, tables.Row{0x00100001, im.String("Program"), im.String("Test"), 0, 1, 1})
	im.AddRow(tables.MethodDef, tables.Row{bodyRVA, 0, 0x0096, im.String("Main"), im.Blob([]byte{0x00, 0x00, 0x01}), 1})
	im.AddRow(tables.Assembly, tables.Row{0x8004, 1, 0, 0, 0, 0, 0, im.String("Test"), 0})
	im.UserString("Hi")
	im.EntryPoint = 0x06000001
	return im
}

// String appends a NUL-terminated string to #Strings and returns its index.
func (im *Image) String(s string) uint32 {
	idx := uint32(len(im.strings))
	im.strings = append(append(im.strings, s...), 0)
	return idx
}

// Blob appends a length-prefixed blob to #Blob and returns its index.
func (im *Image) Blob(b []byte) uint32 {
	idx := uint32(len(im.blobs))
	im.blobs, _ = format.AppendCompressedUint(im.blobs, uint32(len(b)))
	im.blobs = append(im.blobs, b...)
	return idx
}

// GUID appends a GUID and returns its 1-based index.
func (im *Image) GUID(g [16]byte) uint32 {
	im.guids = append(im.guids, g[:]...)
	return uint32(len(im.guids) / format.GUIDSize)
}

// UserString appends a #US entry (UTF-16LE plus terminal byte) and returns its index.
func (im *Image) UserString(s string) uint32 {
	idx := uint32(len(im.us))
	enc, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		panic(err)
	}
	im.us, _ = format.AppendCompressedUint(im.us, uint32(len(enc)+1))
	im.us = append(append(im.us, enc...), 0)
	return idx
}

// AddRow appends a row and returns its 1-based RID.
func (im *Image) AddRow(id tables.TableID, r tables.Row) uint32 {
	im.rows[id] = append(im.rows[id], r)
	return uint32(len(im.rows[id]))
}

// Code appends a method body at the start of .text and returns its RVA.
// Bodies are 4-byte aligned.
func (im *Image) Code(body []byte) uint32 {
	for len(im.code)%4 != 0 {
		im.code = append(im.code, 0)
	}
	rva := uint32(TextRVA + len(im.code))
	im.code = append(im.code, body...)
	return rva
}

// Info returns the table info the image will be encoded with.
func (im *Image) Info() tables.Info {
	var in tables.Info
	for id, rows := range im.rows {
		in.Rows[id] = uint32(len(rows))
	}
	in.WideStrings = len(im.strings) >= format.WideHeapThreshold
	in.WideGUIDs = len(im.guids)/format.GUIDSize >= format.WideHeapThreshold
	in.WideBlobs = len(im.blobs) >= format.WideHeapThreshold
	return in
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func (im *Image) tablesStream() []byte {
	in := im.Info()
	out := tables.EncodeHeader(2, 0, 0, in)
	for _, id := range tables.All() {
		size := in.RowSize(id)
		for _, r := range im.rows[id] {
			row := make([]byte, size)
			if err := in.EncodeRow(id, r, row); err != nil {
				panic(err)
			}
			out = append(out, row...)
		}
	}
	return pad4(out)
}

// metadata returns the metadata root plus streams in the conventional
// compiler order: #~, #Strings, #US, #GUID, #Blob.
func (im *Image) metadata() []byte {
	type stream struct {
		name string
		data []byte
	}
	streams := []stream{
		{format.StreamTables, im.tablesStream()},
		{format.StreamStrings, pad4(append([]byte(nil), im.strings...))},
		{format.StreamUserStrings, pad4(append([]byte(nil), im.us...))},
		{format.StreamGUID, append([]byte(nil), im.guids...)},
		{format.StreamBlob, pad4(append([]byte(nil), im.blobs...))},
	}
	headers := make([]format.StreamHeader, len(streams))
	off := format.RootHeaderSize(format.MetadataVersion)
	for _, s := range streams {
		off += format.StreamHeaderSize(s.name)
	}
	for i, s := range streams {
		headers[i] = format.StreamHeader{Offset: uint32(off), Size: uint32(len(s.data)), Name: s.name}
		off += uint64(len(s.data))
	}
	out := format.EncodeMetadataRoot(format.MetadataVersion, 0, headers)
	for _, s := range streams {
		out = append(out, s.data...)
	}
	return out
}

// Build encodes the image. Layout: headers, .text (code, COR20, metadata,
// tail), then ExtraSections data sections.
func (im *Image) Build() []byte {
	fa, sa := uint64(im.FileAlignment), uint64(im.SectionAlignment)

	text := append([]byte(nil), im.code...)
	for len(text)%8 != 0 {
		text = append(text, 0)
	}
	cor20Off := len(text)
	text = append(text, make([]byte, format.COR20HeaderSize)...)
	meta := im.metadata()
	metaRVA := uint32(TextRVA + len(text))
	if im.MetadataOffset != 0 {
		metaRVA = im.MetadataOffset
	} else {
		text = append(text, meta...)
	}
	for i := 0; i < im.TextTail; i++ {
		text = append(text, 0xCC)
	}
	cor20 := format.COR20Header{
		Cb:                  format.COR20HeaderSize,
		MajorRuntimeVersion: 2,
		MinorRuntimeVersion: 5,
		MetadataRVA:         metaRVA,
		MetadataSize:        uint32(len(meta)),
		Flags:               im.COR20Flags,
		EntryPointToken:     im.EntryPoint,
	}
	copy(text[cor20Off:], cor20.Encode())

	optSize := 224
	machine := uint16(0x014C)
	if im.PE32Plus {
		optSize = 240
		machine = 0x8664
	}
	nsections := 1 + im.ExtraSections
	tableEnd := uint64(DOSStubEnd + format.PESignatureSize + format.COFFHeaderSize + optSize + nsections*format.SectionHeaderSize)
	if im.MetadataOffset != 0 {
		tableEnd = max(tableEnd, uint64(im.MetadataOffset)+uint64(len(meta)))
	}
	headersSize := format.AlignTo(tableEnd, fa)

	sections := []format.SectionHeader{{
		Name:             format.TextSectionName,
		VirtualSize:      uint32(len(text)),
		VirtualAddress:   TextRVA,
		SizeOfRawData:    uint32(format.AlignTo(uint64(len(text)), fa)),
		PointerToRawData: uint32(headersSize),
		Characteristics:  format.ScnCntCode | format.ScnMemExecute | format.ScnMemRead,
	}}
	datas := [][]byte{text}
	for i := 0; i < im.ExtraSections; i++ {
		prev := sections[len(sections)-1]
		data := make([]byte, 0x10)
		for j := range data {
			data[j] = byte(0xA0 + i)
		}
		sections = append(sections, format.SectionHeader{
			Name:             []string{".rsrc", ".reloc", ".data", ".sdata"}[i%4],
			VirtualSize:      uint32(len(data)),
			VirtualAddress:   uint32(format.AlignTo(uint64(prev.VirtualAddress)+uint64(prev.VirtualSize), sa)),
			SizeOfRawData:    uint32(fa),
			PointerToRawData: prev.PointerToRawData + prev.SizeOfRawData,
			Characteristics:  format.ScnCntInitializedData | format.ScnMemRead,
		})
		datas = append(datas, data)
	}
	last := sections[len(sections)-1]
	fileSize := uint64(last.PointerToRawData) + uint64(last.SizeOfRawData)
	sizeOfImage := format.AlignTo(uint64(last.VirtualAddress)+uint64(last.VirtualSize), sa)

	out := make([]byte, fileSize)
	copy(out, format.DOSSignature)
	format.PutU32(out, format.DOSLfanewOffset, DOSStubEnd)
	copy(out[format.DOSHeaderSize:], "This program cannot be run in DOS mode.\r\r\n$")

	p := DOSStubEnd
	copy(out[p:], format.PESignature)
	coff := p + format.PESignatureSize
	format.PutU16(out, coff, machine)
	format.PutU16(out, coff+format.COFFNumberOfSectionsOffset, uint16(nsections))
	format.PutU32(out, coff+4, im.Timestamp)
	format.PutU16(out, coff+format.COFFSizeOfOptionalHeaderOffset, uint16(optSize))
	format.PutU16(out, coff+18, 0x2102)

	opt := coff + format.COFFHeaderSize
	if im.PE32Plus {
		format.PutU16(out, opt, format.OptionalMagicPE32Plus)
		format.PutU64(out, opt+24, 0x180000000)
		format.PutU32(out, opt+108, 16)
	} else {
		format.PutU16(out, opt, format.OptionalMagicPE32)
		format.PutU32(out, opt+28, 0x400000)
		format.PutU32(out, opt+92, 16)
	}
	out[opt+2] = 8
	format.PutU32(out, opt+4, sections[0].SizeOfRawData)
	format.PutU32(out, opt+20, TextRVA)
	format.PutU32(out, opt+format.OptSectionAlignmentOffset, uint32(sa))
	format.PutU32(out, opt+format.OptFileAlignmentOffset, uint32(fa))
	format.PutU16(out, opt+40, 4)
	format.PutU16(out, opt+48, 4)
	format.PutU32(out, opt+format.OptSizeOfImageOffset, uint32(sizeOfImage))
	format.PutU32(out, opt+format.OptSizeOfHeadersOffset, uint32(headersSize))
	format.PutU16(out, opt+68, 3)
	format.PutU16(out, opt+70, 0x8540)
	dirs := opt + format.OptDataDirectoriesPE32
	if im.PE32Plus {
		dirs = opt + format.OptDataDirectoriesPE32Plus
	}
	clr := dirs + format.DirCLR*format.DataDirectorySize
	format.PutU32(out, clr, uint32(TextRVA+cor20Off))
	format.PutU32(out, clr+4, format.COR20HeaderSize)

	table := opt + optSize
	var hdrs []byte
	for _, s := range sections {
		hdrs, _ = s.AppendTo(hdrs)
	}
	copy(out[table:], hdrs)
	for i, s := range sections {
		copy(out[s.PointerToRawData:], datas[i])
	}
	if im.MetadataOffset != 0 {
		copy(out[im.MetadataOffset:], meta)
	}
	return out
}

// WriteTemp writes data to a file in t.TempDir and returns its path.
func WriteTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
