package format

// COR20Header mirrors IMAGE_COR20_HEADER (ECMA-335 II.25.3.3).
//
// Layout (little-endian):
//
//	0x00  cb
//	0x04  MajorRuntimeVersion, MinorRuntimeVersion
//	0x08  MetaData (RVA, size)
//	0x10  Flags
//	0x14  EntryPointToken
//	0x18  Resources (RVA, size)
//	0x20  StrongNameSignature (RVA, size)
//	0x28  CodeManagerTable (RVA, size)
//	0x30  VTableFixups (RVA, size)
//	0x38  ExportAddressTableJumps (RVA, size)
//	0x40  ManagedNativeHeader (RVA, size)
type COR20Header struct {
	Cb                      uint32
	MajorRuntimeVersion     uint16
	MinorRuntimeVersion     uint16
	MetadataRVA             uint32
	MetadataSize            uint32
	Flags                   uint32
	EntryPointToken         uint32
	ResourcesRVA            uint32
	ResourcesSize           uint32
	StrongNameSignatureRVA  uint32
	StrongNameSignatureSize uint32
	CodeManagerTableRVA     uint32
	CodeManagerTableSize    uint32
	VTableFixupsRVA         uint32
	VTableFixupsSize        uint32
	ExportAddressTableJumps uint32
	ExportAddressTableSize  uint32
	ManagedNativeHeaderRVA  uint32
	ManagedNativeHeaderSize uint32
}

// ParseCOR20 decodes the CLI header from the start of b.
func ParseCOR20(b []byte) (COR20Header, error) {
	if len(b) < COR20HeaderSize {
		return COR20Header{}, ErrTruncated
	}
	h := COR20Header{
		Cb:                      ReadU32(b, 0x00),
		MajorRuntimeVersion:     ReadU16(b, 0x04),
		MinorRuntimeVersion:     ReadU16(b, 0x06),
		MetadataRVA:             ReadU32(b, 0x08),
		MetadataSize:            ReadU32(b, 0x0C),
		Flags:                   ReadU32(b, 0x10),
		EntryPointToken:         ReadU32(b, 0x14),
		ResourcesRVA:            ReadU32(b, 0x18),
		ResourcesSize:           ReadU32(b, 0x1C),
		StrongNameSignatureRVA:  ReadU32(b, 0x20),
		StrongNameSignatureSize: ReadU32(b, 0x24),
		CodeManagerTableRVA:     ReadU32(b, 0x28),
		CodeManagerTableSize:    ReadU32(b, 0x2C),
		VTableFixupsRVA:         ReadU32(b, 0x30),
		VTableFixupsSize:        ReadU32(b, 0x34),
		ExportAddressTableJumps: ReadU32(b, 0x38),
		ExportAddressTableSize:  ReadU32(b, 0x3C),
		ManagedNativeHeaderRVA:  ReadU32(b, 0x40),
		ManagedNativeHeaderSize: ReadU32(b, 0x44),
	}
	if h.Cb < COR20HeaderSize {
		return COR20Header{}, ErrSignatureMismatch
	}
	return h, nil
}

// Encode serialises the header into a fresh 72-byte slice.
func (h COR20Header) Encode() []byte {
	b := make([]byte, COR20HeaderSize)
	PutU32(b, 0x00, h.Cb)
	PutU16(b, 0x04, h.MajorRuntimeVersion)
	PutU16(b, 0x06, h.MinorRuntimeVersion)
	PutU32(b, 0x08, h.MetadataRVA)
	PutU32(b, 0x0C, h.MetadataSize)
	PutU32(b, 0x10, h.Flags)
	PutU32(b, 0x14, h.EntryPointToken)
	PutU32(b, 0x18, h.ResourcesRVA)
	PutU32(b, 0x1C, h.ResourcesSize)
	PutU32(b, 0x20, h.StrongNameSignatureRVA)
	PutU32(b, 0x24, h.StrongNameSignatureSize)
	PutU32(b, 0x28, h.CodeManagerTableRVA)
	PutU32(b, 0x2C, h.CodeManagerTableSize)
	PutU32(b, 0x30, h.VTableFixupsRVA)
	PutU32(b, 0x34, h.VTableFixupsSize)
	PutU32(b, 0x38, h.ExportAddressTableJumps)
	PutU32(b, 0x3C, h.ExportAddressTableSize)
	PutU32(b, 0x40, h.ManagedNativeHeaderRVA)
	PutU32(b, 0x44, h.ManagedNativeHeaderSize)
	return b
}
