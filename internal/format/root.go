package format

import "bytes"

// StreamHeader is one entry of the metadata stream directory.
type StreamHeader struct {
	Offset uint32 // relative to the metadata root
	Size   uint32
	Name   string
}

// MetadataRoot is the decoded "BSJB" header (ECMA-335 II.24.2.1).
type MetadataRoot struct {
	MajorVersion uint16
	MinorVersion uint16
	Version      string
	Flags        uint16
	Streams      []StreamHeader
}

// ParseMetadataRoot decodes the metadata root and its stream directory.
//
// Layout:
//
//	0x00  'B' 'S' 'J' 'B'
//	0x04  MajorVersion, MinorVersion
//	0x08  Reserved
//	0x0C  Length (padded version length)
//	0x10  Version[Length]
//	+0    Flags, Streams
//	+4    StreamHeader[Streams]
func ParseMetadataRoot(b []byte) (MetadataRoot, error) {
	if len(b) < MetadataRootFixedSize {
		return MetadataRoot{}, ErrTruncated
	}
	if !bytes.Equal(b[:4], MetadataSignature) {
		return MetadataRoot{}, ErrSignatureMismatch
	}
	root := MetadataRoot{
		MajorVersion: ReadU16(b, 4),
		MinorVersion: ReadU16(b, 6),
	}
	versionLen := int(ReadU32(b, 12))
	off := 16
	if versionLen < 0 || off+versionLen+4 > len(b) {
		return MetadataRoot{}, ErrTruncated
	}
	version := b[off : off+versionLen]
	if i := bytes.IndexByte(version, 0); i >= 0 {
		version = version[:i]
	}
	root.Version = string(version)
	off += versionLen
	root.Flags = ReadU16(b, off)
	count := int(ReadU16(b, off+2))
	off += 4

	root.Streams = make([]StreamHeader, 0, count)
	for i := 0; i < count; i++ {
		if off+StreamHeaderFixedSize > len(b) {
			return MetadataRoot{}, ErrTruncated
		}
		sh := StreamHeader{
			Offset: ReadU32(b, off),
			Size:   ReadU32(b, off+4),
		}
		off += StreamHeaderFixedSize
		end := bytes.IndexByte(b[off:], 0)
		if end < 0 || end > 32 {
			return MetadataRoot{}, ErrTruncated
		}
		sh.Name = string(b[off : off+end])
		off += int(Align4(uint64(end + 1)))
		root.Streams = append(root.Streams, sh)
	}
	return root, nil
}

// RootHeaderSize returns the size of the fixed root header for a version string,
// excluding the stream directory.
func RootHeaderSize(version string) uint64 {
	return MetadataRootFixedSize + Align4(uint64(len(version)))
}

// StreamHeaderSize returns the directory entry size for a stream name.
func StreamHeaderSize(name string) uint64 {
	return StreamHeaderFixedSize + Align4(uint64(len(name)+1))
}

// EncodeMetadataRoot serialises a root header plus stream directory using
// the given version string. Each entry's size is written 4-byte aligned.
func EncodeMetadataRoot(version string, flags uint16, streams []StreamHeader) []byte {
	size := RootHeaderSize(version)
	for _, s := range streams {
		size += StreamHeaderSize(s.Name)
	}
	b := make([]byte, size)
	copy(b, MetadataSignature)
	PutU16(b, 4, 1)
	PutU16(b, 6, 1)
	padded := int(Align4(uint64(len(version))))
	PutU32(b, 12, uint32(padded))
	copy(b[16:], version)
	off := 16 + padded
	PutU16(b, off, flags)
	PutU16(b, off+2, uint16(len(streams)))
	off += 4
	for _, s := range streams {
		PutU32(b, off, s.Offset)
		PutU32(b, off+4, uint32(Align4(uint64(s.Size))))
		copy(b[off+8:], s.Name)
		off += int(StreamHeaderSize(s.Name))
	}
	return b
}
