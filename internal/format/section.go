package format

import (
	"bytes"
	"fmt"
)

// SectionHeader is the subset of IMAGE_SECTION_HEADER carried through a rewrite.
// Relocation and line-number fields are always written as zero.
type SectionHeader struct {
	Name             string
	VirtualSize      uint32
	VirtualAddress   uint32
	SizeOfRawData    uint32
	PointerToRawData uint32
	Characteristics  uint32
}

// ParseSectionHeader decodes one 40-byte section header.
func ParseSectionHeader(b []byte) (SectionHeader, error) {
	if len(b) < SectionHeaderSize {
		return SectionHeader{}, ErrTruncated
	}
	name := b[:SectionNameSize]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return SectionHeader{
		Name:             string(name),
		VirtualSize:      ReadU32(b, SectionVirtualSizeOffset),
		VirtualAddress:   ReadU32(b, SectionVirtualAddrOffset),
		SizeOfRawData:    ReadU32(b, SectionRawSizeOffset),
		PointerToRawData: ReadU32(b, SectionRawPointerOffset),
		Characteristics:  ReadU32(b, SectionCharacteristicsOffs),
	}, nil
}

// AppendTo appends the 40-byte encoding of s to dst.
func (s SectionHeader) AppendTo(dst []byte) ([]byte, error) {
	if len(s.Name) > SectionNameSize {
		return dst, fmt.Errorf("%w: section name %q longer than %d bytes", ErrUnsupported, s.Name, SectionNameSize)
	}
	var b [SectionHeaderSize]byte
	copy(b[:SectionNameSize], s.Name)
	PutU32(b[:], SectionVirtualSizeOffset, s.VirtualSize)
	PutU32(b[:], SectionVirtualAddrOffset, s.VirtualAddress)
	PutU32(b[:], SectionRawSizeOffset, s.SizeOfRawData)
	PutU32(b[:], SectionRawPointerOffset, s.PointerToRawData)
	PutU32(b[:], SectionCharacteristicsOffs, s.Characteristics)
	return append(dst, b[:]...), nil
}
