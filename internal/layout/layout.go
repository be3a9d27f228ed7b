package layout

import (
	"fmt"
	"strings"
	"time"

	"github.com/pmikstacki/bsharp-sub005/internal/format"
	"github.com/pmikstacki/bsharp-sub005/internal/remap"
	"github.com/pmikstacki/bsharp-sub005/pkg/types"
)

// SizeBreakdown splits the output size by component.
type SizeBreakdown struct {
	Headers            uint64
	SectionTable       uint64
	OriginalSections   uint64
	MetadataSection    uint64
	MetadataComponents MetadataComponentSizes
}

// PlanningInfo records diagnostics gathered while planning.
type PlanningInfo struct {
	OriginalSize     uint64
	SizeIncrease     uint64
	OperationCount   int
	PlanningDuration time.Duration
	// Warnings lists anomalies that did not abort planning.
	Warnings      []string
	SizeBreakdown SizeBreakdown
}

// WriteLayout is the complete plan for one rewrite. It is never modified
// after Plan returns and may be shared between goroutines.
type WriteLayout struct {
	TotalFileSize  uint64
	Operations     OperationSet
	FileStructure  FileStructureLayout
	MetadataLayout MetadataLayout
	// RVAMappings maps placeholder method-body RVAs to their final RVAs.
	RVAMappings             map[uint32]uint32
	IndexMappings           *remap.IndexRemapper
	NativeTableRequirements NativeTableRequirements
	PlanningInfo            PlanningInfo
}

// SizeIncrease returns how many bytes the output grows over the source.
func (l *WriteLayout) SizeIncrease() uint64 { return l.PlanningInfo.SizeIncrease }

// OperationCount returns the number of planned operations.
func (l *WriteLayout) OperationCount() int { return l.Operations.Count() }

func invalid(kind types.ErrKind, reason types.Reason, msg string, args ...any) *types.Builder {
	return types.New(kind, types.StageValidation).Reason(reason).Msg(msg, args...)
}

// Validate re-checks the structural properties every layout must satisfy.
func (l *WriteLayout) Validate() error {
	fs := &l.FileStructure
	if len(fs.Sections) == 0 {
		return invalid(types.ErrKindSectionLayout, types.ReasonMissing, "no sections").Build()
	}
	if need := uint64(len(fs.Sections)) * format.SectionHeaderSize; fs.SectionTable.Size < need {
		return invalid(types.ErrKindSectionLayout, types.ReasonBounds,
			"section table holds %d bytes, %d sections need %d", fs.SectionTable.Size, len(fs.Sections), need).
			At(fs.SectionTable.Offset, fs.SectionTable.Size).Build()
	}

	metaCount := 0
	var prev *SectionLayout
	for i := range fs.Sections {
		s := fs.Sections[i]
		if s.ContainsMetadata {
			metaCount++
		}
		// sections without raw data occupy no file bytes
		if s.FileRegion.IsEmpty() {
			continue
		}
		if s.FileRegion.Overlaps(fs.SectionTable) {
			return invalid(types.ErrKindSectionLayout, types.ReasonOverlap, "section %s overlaps the section table", s.Name).
				At(s.FileRegion.Offset, s.FileRegion.Size).Build()
		}
		if prev == nil {
			prev = &fs.Sections[i]
			continue
		}
		if s.FileRegion.Offset < prev.FileRegion.Offset {
			return invalid(types.ErrKindSectionLayout, types.ReasonOverlap,
				"section %s at 0x%X precedes %s at 0x%X", s.Name, s.FileRegion.Offset, prev.Name, prev.FileRegion.Offset).Build()
		}
		if s.FileRegion.Overlaps(prev.FileRegion) {
			return invalid(types.ErrKindSectionLayout, types.ReasonOverlap, "section %s overlaps %s", s.Name, prev.Name).
				At(s.FileRegion.Offset, s.FileRegion.Size).Build()
		}
		prev = &fs.Sections[i]
	}
	last := fs.Sections[len(fs.Sections)-1]
	if metaCount != 1 || !last.ContainsMetadata || last.Name != format.MetaSectionName {
		return invalid(types.ErrKindSectionLayout, types.ReasonMissing,
			"expected exactly one trailing %s section, found %d", format.MetaSectionName, metaCount).Build()
	}
	if l.TotalFileSize != last.FileRegion.End() {
		return invalid(types.ErrKindSectionLayout, types.ReasonBounds,
			"total size 0x%X does not end at the last section (0x%X)", l.TotalFileSize, last.FileRegion.End()).Build()
	}

	if err := l.validateMetadata(last); err != nil {
		return err
	}
	return l.Operations.Validate(l.TotalFileSize, l.PlanningInfo.OriginalSize)
}

func (l *WriteLayout) validateMetadata(meta SectionLayout) error {
	md := &l.MetadataLayout
	regions := []struct {
		name string
		r    FileRegion
	}{
		{"COR20 header", md.COR20Header},
		{"metadata root", md.MetadataRoot},
	}
	for _, s := range md.Streams {
		want := md.MetadataRoot.Offset + uint64(s.OffsetFromRoot)
		if s.FileRegion.Offset != want {
			return invalid(types.ErrKindMetadataLayout, types.ReasonBounds,
				"stream %s at 0x%X, directory says 0x%X", s.Name, s.FileRegion.Offset, want).Build()
		}
		regions = append(regions, struct {
			name string
			r    FileRegion
		}{s.Name, s.FileRegion})
	}
	for i, a := range regions {
		if !meta.FileRegion.ContainsRegion(a.r) {
			return invalid(types.ErrKindMetadataLayout, types.ReasonBounds, "%s %s outside %s %s",
				a.name, a.r, meta.Name, meta.FileRegion).At(a.r.Offset, a.r.Size).Build()
		}
		for _, b := range regions[i+1:] {
			if a.r.Overlaps(b.r) {
				return invalid(types.ErrKindMetadataLayout, types.ReasonOverlap, "%s overlaps %s", a.name, b.name).
					At(b.r.Offset, b.r.Size).Build()
			}
		}
	}
	return nil
}

// Summary renders a human-readable report of the layout.
func (l *WriteLayout) Summary() string {
	var b strings.Builder
	info := l.PlanningInfo
	fmt.Fprintf(&b, "Write layout: %d bytes (+%d over %d)\n", l.TotalFileSize, info.SizeIncrease, info.OriginalSize)
	fmt.Fprintf(&b, "  planned in %s\n", info.PlanningDuration)

	b.WriteString("Sections:\n")
	for _, s := range l.FileStructure.Sections {
		marker := ""
		if s.ContainsMetadata {
			marker = " (metadata)"
		}
		fmt.Fprintf(&b, "  %-8s VA 0x%08X vsize 0x%08X file %s%s\n",
			s.Name, s.VirtualAddress, s.VirtualSize, s.FileRegion, marker)
	}

	md := l.MetadataLayout
	b.WriteString("Metadata:\n")
	fmt.Fprintf(&b, "  COR20    %s\n", md.COR20Header)
	fmt.Fprintf(&b, "  root     %s\n", md.MetadataRoot)
	for _, s := range md.Streams {
		fmt.Fprintf(&b, "  %-8s %s size %d\n", s.Name, s.FileRegion, s.Size)
	}

	if n := l.NativeTableRequirements; n.Any() {
		b.WriteString("Native tables:\n")
		if n.ImportTableRVA != nil {
			fmt.Fprintf(&b, "  imports  RVA 0x%08X size %d\n", *n.ImportTableRVA, n.ImportTableSize)
		}
		if n.ExportTableRVA != nil {
			fmt.Fprintf(&b, "  exports  RVA 0x%08X size %d\n", *n.ExportTableRVA, n.ExportTableSize)
		}
	}

	fmt.Fprintf(&b, "Operations: %d copy, %d zero, %d write (%d bytes written)\n",
		len(l.Operations.Copy), len(l.Operations.Zero), len(l.Operations.Write), l.Operations.WrittenBytes())
	if len(l.RVAMappings) > 0 {
		fmt.Fprintf(&b, "Method bodies placed: %d\n", len(l.RVAMappings))
	}
	for _, w := range info.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	return b.String()
}
