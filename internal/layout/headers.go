package layout

import (
	"github.com/pmikstacki/bsharp-sub005/internal/format"
	"github.com/pmikstacki/bsharp-sub005/internal/tables"
	"github.com/pmikstacki/bsharp-sub005/pkg/types"
)

const methodDefToken = uint32(tables.MethodDef) << 24

// encodeSectionTable serialises every planned section header.
func encodeSectionTable(fs *FileStructureLayout) ([]byte, error) {
	out := make([]byte, 0, fs.SectionTable.Size)
	for _, s := range fs.Sections {
		off, err := narrowU32(types.StageOperations, "section "+s.Name+" file offset", s.FileRegion.Offset)
		if err != nil {
			return nil, err
		}
		size, err := narrowU32(types.StageOperations, "section "+s.Name+" raw size", s.FileRegion.Size)
		if err != nil {
			return nil, err
		}
		h := format.SectionHeader{
			Name:             s.Name,
			VirtualSize:      s.VirtualSize,
			VirtualAddress:   s.VirtualAddress,
			SizeOfRawData:    size,
			PointerToRawData: off,
			Characteristics:  s.Characteristics,
		}
		if out, err = h.AppendTo(out); err != nil {
			return nil, types.New(types.ErrKindOperationGeneration, types.StageOperations).
				Msg("encode section header %q", s.Name).Cause(err).Build()
		}
	}
	return out, nil
}

// peHeaderPatch lists the optional header fields rewritten for the new image.
type peHeaderPatch struct {
	sections      uint16
	sizeOfImage   uint32
	sizeOfHeaders uint32
	clr           [2]uint32
	imports       *[2]uint32
	exports       *[2]uint32
}

// patchPEHeaders applies p to a copy of the PE signature, COFF header and
// optional header. dirOffset is the data directory array offset relative to
// the start of hdr; dirCount is NumberOfRvaAndSizes.
func patchPEHeaders(hdr []byte, dirOffset, dirCount int, p peHeaderPatch) ([]byte, error) {
	out := append([]byte(nil), hdr...)
	coff := format.PESignatureSize
	opt := coff + format.COFFHeaderSize
	if len(out) < opt+format.OptCheckSumOffset+4 {
		return nil, types.New(types.ErrKindOperationGeneration, types.StageOperations).
			Reason(types.ReasonBounds).Msg("PE headers are %d bytes, too short to patch", len(out)).Build()
	}
	format.PutU16(out, coff+format.COFFNumberOfSectionsOffset, p.sections)
	format.PutU32(out, opt+format.OptSizeOfImageOffset, p.sizeOfImage)
	format.PutU32(out, opt+format.OptSizeOfHeadersOffset, p.sizeOfHeaders)
	format.PutU32(out, opt+format.OptCheckSumOffset, 0)

	putDir := func(index int, rva, size uint32) error {
		at := dirOffset + index*format.DataDirectorySize
		if index >= dirCount || at+format.DataDirectorySize > len(out) {
			return types.New(types.ErrKindOperationGeneration, types.StageOperations).Reason(types.ReasonMissing).
				Msg("optional header declares %d data directories, need index %d", dirCount, index).Build()
		}
		format.PutU32(out, at, rva)
		format.PutU32(out, at+4, size)
		return nil
	}
	if err := putDir(format.DirCLR, p.clr[0], p.clr[1]); err != nil {
		return nil, err
	}
	if p.imports != nil {
		if err := putDir(format.DirImport, p.imports[0], p.imports[1]); err != nil {
			return nil, err
		}
	}
	if p.exports != nil {
		if err := putDir(format.DirExport, p.exports[0], p.exports[1]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// rebuildCOR20 returns the CLI header for the new image. Fields that do not
// move with the metadata are carried from orig.
func rebuildCOR20(orig format.COR20Header, metadataRVA, metadataSize, entryPoint uint32) []byte {
	h := orig
	h.Cb = format.COR20HeaderSize
	h.MetadataRVA = metadataRVA
	h.MetadataSize = metadataSize
	h.Flags = orig.Flags & format.COR20ValidFlags
	h.EntryPointToken = entryPoint
	return h.Encode()
}
