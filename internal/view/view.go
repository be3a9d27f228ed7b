// Package view provides an immutable, random-access view over a .NET PE image:
// PE headers, section table, CLI header, metadata root, stream directory and
// the tables stream header. Nothing here allocates copies of the image; all
// accessors return sub-slices of the backing buffer.
package view

import (
	"bytes"
	"debug/pe"
	"fmt"

	"github.com/pmikstacki/bsharp-sub005/internal/buf"
	"github.com/pmikstacki/bsharp-sub005/internal/format"
	"github.com/pmikstacki/bsharp-sub005/internal/tables"
	"github.com/pmikstacki/bsharp-sub005/pkg/types"
)

// Section is one entry of the original section table.
type Section struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	RawPointer      uint32
	RawSize         uint32
	Characteristics uint32
}

// Contains reports whether rva falls inside the section's virtual range.
func (s Section) Contains(rva uint32) bool {
	span := s.VirtualSize
	if span == 0 {
		span = s.RawSize
	}
	return rva >= s.VirtualAddress && uint64(rva) < uint64(s.VirtualAddress)+uint64(span)
}

// DataDirectory is an (RVA, size) pair from the optional header.
type DataDirectory struct {
	RVA  uint32
	Size uint32
}

// Stream is a metadata stream header resolved to its file position.
type Stream struct {
	Name       string
	Offset     uint32 // relative to the metadata root
	Size       uint32
	FileOffset uint64
}

// Assembly is the parsed, read-only view of a CLI image.
type Assembly struct {
	data []byte

	peOffset         uint64
	optHeaderSize    uint16
	timestamp        uint32
	is64             bool
	fileAlignment    uint32
	sectionAlignment uint32
	sizeOfHeaders    uint32
	sections         []Section
	dirs             []DataDirectory

	cor20       format.COR20Header
	cor20Offset uint64
	root        format.MetadataRoot
	rootOffset  uint64
	streams     []Stream

	tablesHeader *tables.Header
	tablesOffset uint64
}

func malformed(msg string, args ...any) *types.Builder {
	return types.New(types.ErrKindFormat, types.StageParse).Reason(types.ReasonMalformed).Msg(msg, args...)
}

// Parse builds a view over data. The slice is retained, not copied, and must
// not be modified while the view is in use.
func Parse(data []byte) (*Assembly, error) {
	if len(data) < format.DOSHeaderSize || !bytes.Equal(data[:2], format.DOSSignature) {
		return nil, malformed("missing DOS header").Cause(format.ErrSignatureMismatch).Build()
	}
	a := &Assembly{data: data}
	a.peOffset = uint64(format.ReadU32(data, format.DOSLfanewOffset))
	sig, ok := buf.Slice(data, a.peOffset, format.PESignatureSize+format.COFFHeaderSize)
	if !ok || !bytes.Equal(sig[:4], format.PESignature) {
		return nil, malformed("missing PE signature at 0x%X", a.peOffset).Cause(format.ErrSignatureMismatch).Build()
	}

	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, malformed("decode PE headers").Cause(err).Build()
	}
	defer f.Close()

	a.optHeaderSize = f.FileHeader.SizeOfOptionalHeader
	a.timestamp = f.FileHeader.TimeDateStamp
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		a.fileAlignment, a.sectionAlignment, a.sizeOfHeaders = oh.FileAlignment, oh.SectionAlignment, oh.SizeOfHeaders
		a.dirs = convertDirs(oh.DataDirectory[:], oh.NumberOfRvaAndSizes)
	case *pe.OptionalHeader64:
		a.is64 = true
		a.fileAlignment, a.sectionAlignment, a.sizeOfHeaders = oh.FileAlignment, oh.SectionAlignment, oh.SizeOfHeaders
		a.dirs = convertDirs(oh.DataDirectory[:], oh.NumberOfRvaAndSizes)
	default:
		return nil, malformed("missing optional header").Build()
	}
	if a.fileAlignment == 0 {
		a.fileAlignment = format.DefaultFileAlignment
	}
	if a.sectionAlignment == 0 {
		a.sectionAlignment = format.DefaultSectionAlignment
	}
	if !format.IsPowerOfTwo(a.fileAlignment) || !format.IsPowerOfTwo(a.sectionAlignment) {
		return nil, malformed("alignment not a power of two (file 0x%X, section 0x%X)", a.fileAlignment, a.sectionAlignment).Build()
	}

	for _, s := range f.Sections {
		a.sections = append(a.sections, Section{
			Name:            s.Name,
			VirtualAddress:  s.VirtualAddress,
			VirtualSize:     s.VirtualSize,
			RawPointer:      s.Offset,
			RawSize:         s.Size,
			Characteristics: s.Characteristics,
		})
	}
	if len(a.sections) == 0 {
		return nil, types.Missing(types.ErrKindFormat, types.StageParse, "section table")
	}

	if err := a.parseCLI(); err != nil {
		return nil, err
	}
	return a, nil
}

func convertDirs(dirs []pe.DataDirectory, n uint32) []DataDirectory {
	if int(n) < len(dirs) {
		dirs = dirs[:n]
	}
	out := make([]DataDirectory, len(dirs))
	for i, d := range dirs {
		out[i] = DataDirectory{RVA: d.VirtualAddress, Size: d.Size}
	}
	return out
}

func (a *Assembly) parseCLI() error {
	clr, ok := a.DataDirectory(format.DirCLR)
	if !ok || clr.RVA == 0 {
		return types.Missing(types.ErrKindFormat, types.StageParse, "CLR runtime header directory")
	}
	off, err := a.RVAToOffset(clr.RVA)
	if err != nil {
		return err
	}
	hdr, ok := buf.Slice(a.data, off, format.COR20HeaderSize)
	if !ok {
		return malformed("COR20 header out of bounds").At(off, format.COR20HeaderSize).Build()
	}
	if a.cor20, err = format.ParseCOR20(hdr); err != nil {
		return malformed("decode COR20 header").At(off, format.COR20HeaderSize).Cause(err).Build()
	}
	a.cor20Offset = off

	if a.rootOffset, err = a.RVAToOffset(a.cor20.MetadataRVA); err != nil {
		return err
	}
	meta, ok := buf.Slice(a.data, a.rootOffset, uint64(a.cor20.MetadataSize))
	if !ok {
		return malformed("metadata out of bounds").At(a.rootOffset, uint64(a.cor20.MetadataSize)).Build()
	}
	if a.root, err = format.ParseMetadataRoot(meta); err != nil {
		return malformed("decode metadata root").At(a.rootOffset, uint64(a.cor20.MetadataSize)).Cause(err).Build()
	}

	for _, sh := range a.root.Streams {
		s := Stream{Name: sh.Name, Offset: sh.Offset, Size: sh.Size, FileOffset: a.rootOffset + uint64(sh.Offset)}
		if !buf.Has(a.data, s.FileOffset, uint64(s.Size)) {
			return malformed("stream %s out of bounds", s.Name).At(s.FileOffset, uint64(s.Size)).Build()
		}
		a.streams = append(a.streams, s)
	}

	if ts, ok := a.TablesStream(); ok {
		h, err := tables.ParseHeader(a.data[ts.FileOffset : ts.FileOffset+uint64(ts.Size)])
		if err != nil {
			return malformed("decode tables header").At(ts.FileOffset, uint64(ts.Size)).Cause(err).Build()
		}
		end := uint64(h.Size) + h.Info.DataSize()
		if end > uint64(ts.Size) {
			return malformed("table rows exceed %s stream (%d > %d)", ts.Name, end, ts.Size).At(ts.FileOffset, uint64(ts.Size)).Build()
		}
		a.tablesHeader = &h
		a.tablesOffset = ts.FileOffset
	}
	return nil
}

// Bytes returns the whole image.
func (a *Assembly) Bytes() []byte { return a.data }

// Size returns the image size in bytes.
func (a *Assembly) Size() uint64 { return uint64(len(a.data)) }

// TimeDateStamp returns the raw COFF TimeDateStamp.
func (a *Assembly) TimeDateStamp() uint32 { return a.timestamp }

// Is64 reports whether the optional header is PE32+.
func (a *Assembly) Is64() bool { return a.is64 }

// FileAlignment returns the optional header file alignment.
func (a *Assembly) FileAlignment() uint32 { return a.fileAlignment }

// SectionAlignment returns the optional header section alignment.
func (a *Assembly) SectionAlignment() uint32 { return a.sectionAlignment }

// SizeOfHeaders returns the optional header SizeOfHeaders field.
func (a *Assembly) SizeOfHeaders() uint32 { return a.sizeOfHeaders }

// PEHeadersOffset returns e_lfanew, the file offset of "PE\0\0".
func (a *Assembly) PEHeadersOffset() uint64 { return a.peOffset }

// PEHeadersSize returns signature + COFF header + optional header.
func (a *Assembly) PEHeadersSize() uint64 {
	return format.PESignatureSize + format.COFFHeaderSize + uint64(a.optHeaderSize)
}

// OptionalHeaderOffset returns the file offset of the optional header.
func (a *Assembly) OptionalHeaderOffset() uint64 {
	return a.peOffset + format.PESignatureSize + format.COFFHeaderSize
}

// DataDirectoriesOffset returns the file offset of the data directory array.
func (a *Assembly) DataDirectoriesOffset() uint64 {
	if a.is64 {
		return a.OptionalHeaderOffset() + format.OptDataDirectoriesPE32Plus
	}
	return a.OptionalHeaderOffset() + format.OptDataDirectoriesPE32
}

// SectionTableOffset returns the file offset of the first section header.
func (a *Assembly) SectionTableOffset() uint64 {
	return a.peOffset + a.PEHeadersSize()
}

// PEHeaderBytes returns the original PE signature, COFF and optional headers.
func (a *Assembly) PEHeaderBytes() []byte {
	return a.data[a.peOffset : a.peOffset+a.PEHeadersSize()]
}

// Sections returns the original section table. The slice must not be modified.
func (a *Assembly) Sections() []Section { return a.sections }

// DataDirectory returns directory i when the header declares it.
func (a *Assembly) DataDirectory(i int) (DataDirectory, bool) {
	if i < 0 || i >= len(a.dirs) {
		return DataDirectory{}, false
	}
	return a.dirs[i], true
}

// DataDirectoryCount returns the number of directories the header declares,
// capped at the 16 defined by the format.
func (a *Assembly) DataDirectoryCount() int { return len(a.dirs) }

// COR20 returns the original CLI header.
func (a *Assembly) COR20() format.COR20Header { return a.cor20 }

// COR20Offset returns the file offset of the original CLI header.
func (a *Assembly) COR20Offset() uint64 { return a.cor20Offset }

// MetadataRoot returns the decoded metadata root.
func (a *Assembly) MetadataRoot() format.MetadataRoot { return a.root }

// MetadataOffset returns the file offset of the original metadata root.
func (a *Assembly) MetadataOffset() uint64 { return a.rootOffset }

// Streams returns the stream headers in directory order.
func (a *Assembly) Streams() []Stream { return a.streams }

// Stream finds a stream by exact name.
func (a *Assembly) Stream(name string) (Stream, bool) {
	for _, s := range a.streams {
		if s.Name == name {
			return s, true
		}
	}
	return Stream{}, false
}

// TablesStream returns the #~ stream, or #- for uncompressed metadata.
func (a *Assembly) TablesStream() (Stream, bool) {
	if s, ok := a.Stream(format.StreamTables); ok {
		return s, true
	}
	return a.Stream(format.StreamTablesUncompressed)
}

// StreamData returns the bytes of a named stream, or nil when absent.
func (a *Assembly) StreamData(name string) []byte {
	s, ok := a.Stream(name)
	if !ok {
		return nil
	}
	return a.data[s.FileOffset : s.FileOffset+uint64(s.Size)]
}

// TablesHeader returns the decoded tables header when a tables stream exists.
func (a *Assembly) TablesHeader() (tables.Header, bool) {
	if a.tablesHeader == nil {
		return tables.Header{}, false
	}
	return *a.tablesHeader, true
}

// TableInfo returns the original row counts and heap widths.
func (a *Assembly) TableInfo() tables.Info {
	if a.tablesHeader == nil {
		return tables.Info{}
	}
	return a.tablesHeader.Info
}

// RowCount returns the original number of rows in a table.
func (a *Assembly) RowCount(id tables.TableID) uint32 {
	return a.TableInfo().RowCount(id)
}

// TableData returns the raw bytes of every row of a table.
func (a *Assembly) TableData(id tables.TableID) []byte {
	if a.tablesHeader == nil || !id.Valid() {
		return nil
	}
	info := a.tablesHeader.Info
	start := a.tablesOffset + info.Offsets(a.tablesHeader.Size)[id]
	size := uint64(info.Rows[id]) * uint64(info.RowSize(id))
	return a.data[start : start+size]
}

// Row decodes row rid (1-based) of a table.
func (a *Assembly) Row(id tables.TableID, rid uint32) (tables.Row, error) {
	count := a.RowCount(id)
	if rid == 0 || rid > count {
		return nil, fmt.Errorf("view: %s row %d out of range (1..%d): %w", id, rid, count, format.ErrNotFound)
	}
	info := a.tablesHeader.Info
	size := info.RowSize(id)
	data := a.TableData(id)
	off := int(rid-1) * size
	return info.DecodeRow(id, data[off:off+size])
}

// SectionForRVA returns the index of the section containing rva.
func (a *Assembly) SectionForRVA(rva uint32) (int, bool) {
	for i, s := range a.sections {
		if s.Contains(rva) {
			return i, true
		}
	}
	return -1, false
}

// RVAToOffset converts an RVA to a file offset using the original sections.
// RVAs below the first section map to the identical header offset.
func (a *Assembly) RVAToOffset(rva uint32) (uint64, error) {
	if i, ok := a.SectionForRVA(rva); ok {
		s := a.sections[i]
		delta := rva - s.VirtualAddress
		if delta >= s.RawSize {
			return 0, types.New(types.ErrKindFormat, types.StageParse).Reason(types.ReasonBounds).
				Msg("RVA 0x%X lies in the uninitialised tail of %s", rva, s.Name).Build()
		}
		return uint64(s.RawPointer) + uint64(delta), nil
	}
	if rva < a.sections[0].VirtualAddress && uint64(rva) < a.Size() {
		return uint64(rva), nil
	}
	return 0, types.New(types.ErrKindFormat, types.StageParse).Reason(types.ReasonMissing).
		Msg("no section contains RVA 0x%X", rva).Build()
}
