package layout

// SectionLayout places one section in the rewritten file.
type SectionLayout struct {
	Name             string
	VirtualAddress   uint32
	VirtualSize      uint32
	FileRegion       FileRegion
	Characteristics  uint32
	ContainsMetadata bool
}

// VirtualEnd returns the first RVA past the section's virtual range.
func (s SectionLayout) VirtualEnd() uint64 {
	return uint64(s.VirtualAddress) + uint64(s.VirtualSize)
}

// StreamLayout places one metadata stream inside the metadata section.
type StreamLayout struct {
	Name string
	// OffsetFromRoot is the stream offset relative to the metadata root,
	// as recorded in the stream directory.
	OffsetFromRoot uint32
	// Size is the unpadded stream size.
	Size       uint32
	FileRegion FileRegion
}

// MetadataComponentSizes holds the byte size of every metadata component.
// A zero stream size means the stream is omitted.
type MetadataComponentSizes struct {
	COR20Header    uint64
	MetadataRoot   uint64
	TablesStream   uint64
	StringsHeap    uint64
	BlobHeap       uint64
	GUIDHeap       uint64
	UserStringHeap uint64
}

// Total returns the sum of all components.
func (c MetadataComponentSizes) Total() uint64 {
	return c.COR20Header + c.MetadataRoot + c.TablesStream + c.StringsHeap +
		c.BlobHeap + c.GUIDHeap + c.UserStringHeap
}

// StreamCount returns the number of non-empty streams.
func (c MetadataComponentSizes) StreamCount() int {
	n := 0
	for _, s := range c.streamSizes() {
		if s > 0 {
			n++
		}
	}
	return n
}

// streamSizes lists stream sizes in layout order, matching format.StreamOrder.
func (c MetadataComponentSizes) streamSizes() [5]uint64 {
	return [5]uint64{c.TablesStream, c.StringsHeap, c.BlobHeap, c.GUIDHeap, c.UserStringHeap}
}

// NativeTableRequirements describes the native import and export tables the
// rewrite has to emit. RVAs stay nil until allocation.
type NativeTableRequirements struct {
	NeedsImportTables bool
	NeedsExportTables bool
	ImportTableSize   uint64
	ExportTableSize   uint64
	ImportTableRVA    *uint32
	ExportTableRVA    *uint32
}

// Any reports whether either table is needed.
func (n NativeTableRequirements) Any() bool {
	return n.NeedsImportTables || n.NeedsExportTables
}

// TotalSize returns the combined size of the needed tables.
func (n NativeTableRequirements) TotalSize() uint64 {
	return n.ImportTableSize + n.ExportTableSize
}

// FileStructureLayout is the top-level shape of the rewritten file.
type FileStructureLayout struct {
	DOSHeader    FileRegion
	PEHeaders    FileRegion
	SectionTable FileRegion
	// Sections are ordered as in the section table; the metadata section is last.
	Sections []SectionLayout
}

// MetaSection returns the section holding the rebuilt metadata.
func (f *FileStructureLayout) MetaSection() (SectionLayout, bool) {
	for _, s := range f.Sections {
		if s.ContainsMetadata {
			return s, true
		}
	}
	return SectionLayout{}, false
}

// OffsetToRVA resolves a file offset through the planned sections.
func (f *FileStructureLayout) OffsetToRVA(off uint64) (uint32, bool) {
	for _, s := range f.Sections {
		if s.FileRegion.Contains(off) {
			return s.VirtualAddress + uint32(off-s.FileRegion.Offset), true
		}
	}
	return 0, false
}

// RVAToOffset resolves an RVA through the planned sections.
func (f *FileStructureLayout) RVAToOffset(rva uint32) (uint64, bool) {
	for _, s := range f.Sections {
		if rva < s.VirtualAddress {
			continue
		}
		if delta := uint64(rva - s.VirtualAddress); delta < s.FileRegion.Size {
			return s.FileRegion.Offset + delta, true
		}
	}
	return 0, false
}

// MetadataLayout places the CLI header, metadata root and streams inside the
// metadata section.
type MetadataLayout struct {
	MetaSection     SectionLayout
	COR20Header     FileRegion
	MetadataRoot    FileRegion
	StreamDirectory FileRegion
	Streams         []StreamLayout
}

// Stream returns the layout of a named stream.
func (m *MetadataLayout) Stream(name string) (StreamLayout, bool) {
	for _, s := range m.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return StreamLayout{}, false
}

// StreamsEnd returns the first file offset past the last stream, or past the
// metadata root when there are no streams.
func (m *MetadataLayout) StreamsEnd() uint64 {
	end := m.MetadataRoot.End()
	for _, s := range m.Streams {
		end = max(end, s.FileRegion.End())
	}
	return end
}
