package remap

import (
	"sort"

	"github.com/pmikstacki/bsharp-sub005/internal/changes"
)

// RidRemapper maps row IDs of one table from their pre-edit values to the
// compacted, post-edit values.
//
// Surviving original rows keep their relative order and close the gaps left
// by deletes. Rows inserted past the original count follow in ascending RID
// order. Rows inserted at or below the original count overwrite in place.
type RidRemapper struct {
	forward    map[uint32]uint32
	deleted    map[uint32]struct{}
	reverse    map[uint32]uint32
	finalCount uint32
}

// NewRidRemapper returns an identity remapper for a table of count rows.
func NewRidRemapper(count uint32) *RidRemapper {
	return &RidRemapper{
		forward:    map[uint32]uint32{},
		deleted:    map[uint32]struct{}{},
		reverse:    map[uint32]uint32{},
		finalCount: count,
	}
}

// BuildFromOps replays ops in Seq order against a table of originalCount rows.
func BuildFromOps(originalCount uint32, ops []changes.TableOp) *RidRemapper {
	sorted := append([]changes.TableOp(nil), ops...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	inserted := map[uint32]struct{}{}
	deleted := map[uint32]struct{}{}
	for _, op := range sorted {
		switch op.Kind {
		case changes.OpInsert:
			inserted[op.RID] = struct{}{}
			delete(deleted, op.RID)
		case changes.OpDelete:
			deleted[op.RID] = struct{}{}
			delete(inserted, op.RID)
		case changes.OpUpdate:
			delete(deleted, op.RID)
		}
	}

	r := NewRidRemapper(originalCount)
	next := uint32(1)
	for rid := uint32(1); rid <= originalCount; rid++ {
		if _, gone := deleted[rid]; gone {
			r.deleted[rid] = struct{}{}
			continue
		}
		r.set(rid, next)
		next++
	}

	var extra []uint32
	for rid := range inserted {
		if rid > originalCount {
			extra = append(extra, rid)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	for _, rid := range extra {
		r.set(rid, next)
		next++
	}
	for rid := range deleted {
		if rid > originalCount {
			r.deleted[rid] = struct{}{}
		}
	}
	r.finalCount = next - 1
	return r
}

func (r *RidRemapper) set(from, to uint32) {
	r.forward[from] = to
	r.reverse[to] = from
}

// MapRID returns the final RID for rid, or false when the row was deleted
// or lies outside the final table.
func (r *RidRemapper) MapRID(rid uint32) (uint32, bool) {
	if _, gone := r.deleted[rid]; gone {
		return 0, false
	}
	if v, ok := r.forward[rid]; ok {
		return v, true
	}
	if rid > 0 && rid <= r.finalCount {
		return rid, true
	}
	return 0, false
}

// ReverseLookup returns the pre-edit RID that ends up at final.
func (r *RidRemapper) ReverseLookup(final uint32) (uint32, bool) {
	if v, ok := r.reverse[final]; ok {
		return v, true
	}
	if len(r.forward) == 0 && final > 0 && final <= r.finalCount {
		return final, true
	}
	return 0, false
}

// FinalCount returns the number of rows after the edits.
func (r *RidRemapper) FinalCount() uint32 { return r.finalCount }

// NextRID returns the RID a row appended after the edits would receive.
func (r *RidRemapper) NextRID() uint32 { return r.finalCount + 1 }
