package layout

import (
	"sort"

	"github.com/pmikstacki/bsharp-sub005/pkg/types"
)

// CopyOperation copies bytes from the source image to the output.
type CopyOperation struct {
	SourceOffset uint64
	TargetOffset uint64
	Size         uint64
	Description  string
}

// Source returns the region read from the source image.
func (c CopyOperation) Source() FileRegion { return FileRegion{Offset: c.SourceOffset, Size: c.Size} }

// Target returns the region written in the output.
func (c CopyOperation) Target() FileRegion { return FileRegion{Offset: c.TargetOffset, Size: c.Size} }

// ZeroOperation clears a range of the output.
type ZeroOperation struct {
	Offset uint64
	Size   uint64
	Reason string
}

// Region returns the cleared range.
func (z ZeroOperation) Region() FileRegion { return FileRegion{Offset: z.Offset, Size: z.Size} }

// WriteOperation writes freshly generated bytes to the output.
type WriteOperation struct {
	Offset    uint64
	Data      []byte
	Component string
}

// Region returns the written range.
func (w WriteOperation) Region() FileRegion {
	return FileRegion{Offset: w.Offset, Size: uint64(len(w.Data))}
}

// OperationSet groups operations by kind. Executors apply every copy, then
// every zero, then every write.
type OperationSet struct {
	Copy  []CopyOperation
	Zero  []ZeroOperation
	Write []WriteOperation
}

// Count returns the total number of operations.
func (o *OperationSet) Count() int {
	return len(o.Copy) + len(o.Zero) + len(o.Write)
}

// WrittenBytes returns the number of bytes produced by write operations.
func (o *OperationSet) WrittenBytes() uint64 {
	var n uint64
	for _, w := range o.Write {
		n += uint64(len(w.Data))
	}
	return n
}

func opError(reason types.Reason, r FileRegion, msg string, args ...any) error {
	return types.New(types.ErrKindOperationGeneration, types.StageValidation).
		Reason(reason).At(r.Offset, r.Size).Msg(msg, args...).Build()
}

// Validate checks that every operation stays inside an output of outSize
// bytes, that copies read inside a source of srcSize bytes, and that no two
// copy targets overlap.
func (o *OperationSet) Validate(outSize, srcSize uint64) error {
	targets := make([]CopyOperation, 0, len(o.Copy))
	for _, c := range o.Copy {
		if c.Size == 0 {
			continue
		}
		if c.Source().End() > srcSize || c.Source().End() < c.SourceOffset {
			return opError(types.ReasonBounds, c.Source(), "copy %q reads past source end 0x%X", c.Description, srcSize)
		}
		if c.Target().End() > outSize || c.Target().End() < c.TargetOffset {
			return opError(types.ReasonBounds, c.Target(), "copy %q writes past output end 0x%X", c.Description, outSize)
		}
		targets = append(targets, c)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].TargetOffset < targets[j].TargetOffset })
	for i := 1; i < len(targets); i++ {
		if targets[i-1].Target().Overlaps(targets[i].Target()) {
			return opError(types.ReasonOverlap, targets[i].Target(), "copy %q overlaps copy %q",
				targets[i].Description, targets[i-1].Description)
		}
	}
	for _, z := range o.Zero {
		if z.Region().End() > outSize {
			return opError(types.ReasonBounds, z.Region(), "zero %q past output end 0x%X", z.Reason, outSize)
		}
	}
	for _, w := range o.Write {
		if w.Region().End() > outSize {
			return opError(types.ReasonBounds, w.Region(), "write %q past output end 0x%X", w.Component, outSize)
		}
	}
	return nil
}
