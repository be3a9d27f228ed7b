// Package format houses low-level decoders and encoders for the PE/COFF and
// ECMA-335 structures touched when an assembly is rewritten. The goal is to
// keep byte-level knowledge in one place, free of planning policy, so that
// higher-level packages can reason in terms of regions and indices.
package format

var (
	// DOSSignature is the two-byte magic at the start of every PE image.
	// Layout:
	//   0x00  'M' 'Z'
	DOSSignature = []byte{'M', 'Z'}

	// PESignature follows the DOS stub at the offset stored in e_lfanew.
	// Layout:
	//   0x00  'P' 'E' 0x00 0x00
	PESignature = []byte{'P', 'E', 0, 0}

	// MetadataSignature opens the ECMA-335 metadata root ("BSJB").
	MetadataSignature = []byte{'B', 'S', 'J', 'B'}
)

const (
	// DOSHeaderSize is the fixed size of IMAGE_DOS_HEADER.
	DOSHeaderSize = 64

	// DOSLfanewOffset holds the file offset of the PE signature.
	DOSLfanewOffset = 0x3C

	// PESignatureSize is the size of "PE\0\0".
	PESignatureSize = 4

	// COFFHeaderSize is the size of IMAGE_FILE_HEADER.
	COFFHeaderSize = 20

	// Field offsets inside IMAGE_FILE_HEADER, relative to the header start.
	COFFNumberOfSectionsOffset     = 2
	COFFSizeOfOptionalHeaderOffset = 16

	// Optional header magics.
	OptionalMagicPE32     = 0x10B
	OptionalMagicPE32Plus = 0x20B

	// Field offsets inside the optional header. Identical for PE32 and PE32+
	// up to the data directories.
	OptSectionAlignmentOffset = 32
	OptFileAlignmentOffset    = 36
	OptSizeOfImageOffset      = 56
	OptSizeOfHeadersOffset    = 60
	OptCheckSumOffset         = 64

	// Start of the data directory array inside the optional header.
	OptDataDirectoriesPE32     = 96
	OptDataDirectoriesPE32Plus = 112

	// DataDirectorySize is one (RVA, size) pair.
	DataDirectorySize = 8

	// Data directory indices used by the rewriter.
	DirExport = 0
	DirImport = 1
	DirCLR    = 14

	// DefaultFileAlignment and DefaultSectionAlignment are used when the
	// optional header reports zero.
	DefaultFileAlignment    = 0x200
	DefaultSectionAlignment = 0x1000
)

// Section header layout (IMAGE_SECTION_HEADER, 40 bytes):
//
//	0x00  Name[8]
//	0x08  VirtualSize
//	0x0C  VirtualAddress
//	0x10  SizeOfRawData
//	0x14  PointerToRawData
//	0x18  PointerToRelocations, PointerToLinenumbers (zeroed on rewrite)
//	0x20  NumberOfRelocations, NumberOfLinenumbers (zeroed on rewrite)
//	0x24  Characteristics
const (
	SectionHeaderSize          = 40
	SectionNameSize            = 8
	SectionVirtualSizeOffset   = 0x08
	SectionVirtualAddrOffset   = 0x0C
	SectionRawSizeOffset       = 0x10
	SectionRawPointerOffset    = 0x14
	SectionCharacteristicsOffs = 0x24
)

// Section characteristics.
const (
	ScnCntCode            = 0x00000020
	ScnCntInitializedData = 0x00000040
	ScnMemExecute         = 0x20000000
	ScnMemRead            = 0x40000000

	// ScnMetadata marks the appended metadata section: initialized data, readable.
	ScnMetadata = ScnCntInitializedData | ScnMemRead
)

const (
	// MetaSectionName is the name of the section that receives the rebuilt metadata.
	MetaSectionName = ".meta"

	// TextSectionName is the conventional code section.
	TextSectionName = ".text"
)

// CLI header and metadata root.
const (
	// COR20HeaderSize is the fixed size of IMAGE_COR20_HEADER.
	COR20HeaderSize = 72

	// COR20ValidFlags masks the runtime flags preserved on rewrite.
	COR20ValidFlags = 0x0000001F

	// MetadataVersion is the version string written into rebuilt metadata roots.
	MetadataVersion = "v4.0.30319"

	// MetadataRootFixedSize covers signature, major/minor, reserved, version
	// length, flags and stream count. The padded version string is extra.
	MetadataRootFixedSize = 20

	// StreamHeaderFixedSize is offset + size; the padded name is extra.
	StreamHeaderFixedSize = 8
)

// Stream names.
const (
	StreamTables             = "#~"
	StreamTablesUncompressed = "#-"
	StreamStrings            = "#Strings"
	StreamBlob               = "#Blob"
	StreamGUID               = "#GUID"
	StreamUserStrings        = "#US"
)

// StreamOrder is the order streams are laid out inside the rebuilt metadata.
var StreamOrder = []string{StreamTables, StreamStrings, StreamBlob, StreamGUID, StreamUserStrings}

// Tables stream header.
const (
	// TablesHeaderFixedSize is reserved(4) major(1) minor(1) heapSizes(1)
	// reserved(1) valid(8) sorted(8). Row counts follow.
	TablesHeaderFixedSize = 24

	HeapSizeWideStrings = 0x01
	HeapSizeWideGUIDs   = 0x02
	HeapSizeWideBlobs   = 0x04
	HeapSizeExtraData   = 0x40

	// WideHeapThreshold is the heap size at which indices switch to 4 bytes.
	WideHeapThreshold = 0x10000

	// GUIDSize is the size of one #GUID entry.
	GUIDSize = 16
)

// Method bodies and tokens.
const (
	// PlaceholderRVABase marks method bodies not yet placed in the image.
	PlaceholderRVABase = 0xF0000000

	// MaxReasonableRVA bounds RVAs that are plausible in real images.
	MaxReasonableRVA = 0x10000000

	OpLdstr            = 0x72
	UserStringTokenTag = 0x70000000
	TokenTypeMask      = 0xFF000000
	TokenRIDMask       = 0x00FFFFFF

	MethodHeaderFormatMask = 0x03
	MethodHeaderTiny       = 0x02
	MethodHeaderFatSize    = 12
)

const (
	// NativeTableReserve is the tail of the metadata section reserved for
	// native import/export tables.
	NativeTableReserve = 1024

	// MethodBodyPadding follows the method bodies in the metadata section.
	MethodBodyPadding = 128

	// NativeTablePadding is added once when any native table is present.
	NativeTablePadding = 256

	// StreamGap separates consecutive streams before 4-byte alignment.
	StreamGap = 4
)
