// Package remap translates heap indices and table row IDs from their values
// in the source assembly to their values after a rewrite.
package remap

import (
	"sort"

	"github.com/pmikstacki/bsharp-sub005/internal/changes"
	"github.com/pmikstacki/bsharp-sub005/internal/tables"
)

// IndexMapper is implemented by heap builders.
type IndexMapper interface {
	IndexMappings() map[uint32]uint32
}

// IndexRemapper holds old-to-new maps for every heap and a RID remapper for
// every modified table. An absent key means the index is unchanged.
type IndexRemapper struct {
	Strings     map[uint32]uint32
	Blobs       map[uint32]uint32
	GUIDs       map[uint32]uint32
	UserStrings map[uint32]uint32
	Tables      map[tables.TableID]*RidRemapper

	stringStarts []uint32
}

// New returns an empty remapper: every index maps to itself.
func New() *IndexRemapper {
	return &IndexRemapper{
		Strings:     map[uint32]uint32{},
		Blobs:       map[uint32]uint32{},
		GUIDs:       map[uint32]uint32{},
		UserStrings: map[uint32]uint32{},
		Tables:      map[tables.TableID]*RidRemapper{},
	}
}

// BuildFromChanges assembles the remapper from the heap builders' mappings
// and the table operations in set.
func BuildFromChanges(set *changes.Set, strings, blobs, guids, userStrings IndexMapper) *IndexRemapper {
	r := New()
	copyMap(r.Strings, strings)
	copyMap(r.Blobs, blobs)
	copyMap(r.GUIDs, guids)
	copyMap(r.UserStrings, userStrings)
	r.indexStrings()

	for _, id := range set.ModifiedTables() {
		m, _ := set.TableChanges(id)
		if m.IsReplaced() {
			r.Tables[id] = NewRidRemapper(uint32(len(m.Rows())))
			continue
		}
		r.Tables[id] = BuildFromOps(m.OriginalCount(), m.Ops())
	}
	return r
}

func copyMap(dst map[uint32]uint32, src IndexMapper) {
	if src == nil {
		return
	}
	for k, v := range src.IndexMappings() {
		dst[k] = v
	}
}

func (r *IndexRemapper) indexStrings() { r.stringStarts = sortedKeys(r.Strings) }

func sortedKeys(m map[uint32]uint32) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// MapString maps a #Strings index. Indices pointing into the middle of an
// entry (suffix sharing) follow the entry they fall in.
func (r *IndexRemapper) MapString(idx uint32) uint32 {
	if v, ok := r.Strings[idx]; ok {
		return v
	}
	starts := r.stringStarts
	if len(starts) != len(r.Strings) {
		starts = sortedKeys(r.Strings)
	}
	i := sort.Search(len(starts), func(i int) bool { return starts[i] > idx }) - 1
	if i < 0 {
		return idx
	}
	start := starts[i]
	to := r.Strings[start]
	if to == 0 && start != 0 {
		return 0
	}
	return to + (idx - start)
}

// MapBlob maps a #Blob index.
func (r *IndexRemapper) MapBlob(idx uint32) uint32 { return lookup(r.Blobs, idx) }

// MapGUID maps a 1-based #GUID index.
func (r *IndexRemapper) MapGUID(idx uint32) uint32 { return lookup(r.GUIDs, idx) }

// MapUserString maps a #US index.
func (r *IndexRemapper) MapUserString(idx uint32) uint32 { return lookup(r.UserStrings, idx) }

func lookup(m map[uint32]uint32, idx uint32) uint32 {
	if v, ok := m[idx]; ok {
		return v
	}
	return idx
}

// Table returns the RID remapper for a modified table.
func (r *IndexRemapper) Table(id tables.TableID) (*RidRemapper, bool) {
	t, ok := r.Tables[id]
	return t, ok
}

// HeapsIdentity reports whether every heap index maps to itself.
func (r *IndexRemapper) HeapsIdentity() bool {
	for _, m := range []map[uint32]uint32{r.Strings, r.Blobs, r.GUIDs, r.UserStrings} {
		for k, v := range m {
			if k != v {
				return false
			}
		}
	}
	return true
}

// RemapRow returns a copy of row with its heap index columns remapped.
func (r *IndexRemapper) RemapRow(id tables.TableID, row tables.Row) tables.Row {
	out := row.Clone()
	for i, c := range tables.Schema(id) {
		if i >= len(out) || out[i] == 0 {
			continue
		}
		switch c.Kind {
		case tables.ColString:
			out[i] = r.MapString(out[i])
		case tables.ColBlob:
			out[i] = r.MapBlob(out[i])
		case tables.ColGUID:
			out[i] = r.MapGUID(out[i])
		}
	}
	return out
}
