// Package changes holds the pending edits applied to an assembly before it is
// rewritten: heap additions and removals, table row operations, new method
// bodies and native import/export descriptors. Nothing here touches bytes of
// the source image; the planner reads a Set and decides the layout.
package changes

import (
	"sort"

	"github.com/pmikstacki/bsharp-sub005/internal/format"
	"github.com/pmikstacki/bsharp-sub005/internal/tables"
)

// HeapBases carries the byte sizes of the source heaps.
type HeapBases struct {
	Strings     uint32
	Blob        uint32
	GUID        uint32
	UserStrings uint32
}

// MethodBody is a queued body keyed by its placeholder RVA.
type MethodBody struct {
	Placeholder uint32
	Data        []byte
}

// Set aggregates every pending edit for one assembly.
type Set struct {
	Strings     *HeapChanges[string]
	Blobs       *HeapChanges[[]byte]
	GUIDs       *HeapChanges[[16]byte]
	UserStrings *HeapChanges[string]

	Imports NativeImports
	Exports NativeExports

	tables      map[tables.TableID]*TableModifications
	rowCounts   [tables.Count]uint32
	bodies      map[uint32][]byte
	nextBodyRVA uint32
	seq         uint64
}

// NewSet returns an empty change set for a source with the given heap sizes
// and table row counts.
func NewSet(heaps HeapBases, rows [tables.Count]uint32) *Set {
	return &Set{
		Strings:     NewStringChanges(heaps.Strings),
		Blobs:       NewBlobChanges(heaps.Blob),
		GUIDs:       NewGUIDChanges(heaps.GUID),
		UserStrings: NewUserStringChanges(heaps.UserStrings),
		tables:      make(map[tables.TableID]*TableModifications),
		rowCounts:   rows,
		bodies:      make(map[uint32][]byte),
		nextBodyRVA: format.PlaceholderRVABase,
	}
}

// HasChanges reports whether anything is pending.
func (s *Set) HasChanges() bool {
	if s.Strings.HasChanges() || s.Blobs.HasChanges() || s.GUIDs.HasChanges() || s.UserStrings.HasChanges() {
		return true
	}
	for _, m := range s.tables {
		if m.HasModifications() {
			return true
		}
	}
	return len(s.bodies) > 0 || !s.Imports.IsEmpty() || !s.Exports.IsEmpty()
}

// HasHeapChanges reports whether any heap differs from its source.
func (s *Set) HasHeapChanges() bool {
	return s.Strings.HasChanges() || s.Blobs.HasChanges() || s.GUIDs.HasChanges() || s.UserStrings.HasChanges()
}

// Table returns the modifications for id, creating an empty record on first use.
func (s *Set) Table(id tables.TableID) *TableModifications {
	m, ok := s.tables[id]
	if !ok {
		m = NewTableModifications(id, s.rowCounts[id])
		s.tables[id] = m
	}
	return m
}

// TableChanges returns the modifications for id when any exist.
func (s *Set) TableChanges(id tables.TableID) (*TableModifications, bool) {
	m, ok := s.tables[id]
	if !ok || !m.HasModifications() {
		return nil, false
	}
	return m, true
}

// ModifiedTables returns the IDs of tables with pending edits in ascending order.
func (s *Set) ModifiedTables() []tables.TableID {
	var ids []tables.TableID
	for id, m := range s.tables {
		if m.HasModifications() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Set) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// InsertRow appends row to table id and returns its RID.
func (s *Set) InsertRow(id tables.TableID, row tables.Row) (uint32, error) {
	m := s.Table(id)
	rid := m.NextRID()
	if err := m.Apply(TableOp{Seq: s.nextSeq(), Kind: OpInsert, RID: rid, Row: row}); err != nil {
		return 0, err
	}
	return rid, nil
}

// InsertRowAt records an insert at an explicit RID.
func (s *Set) InsertRowAt(id tables.TableID, rid uint32, row tables.Row) error {
	return s.Table(id).Apply(TableOp{Seq: s.nextSeq(), Kind: OpInsert, RID: rid, Row: row})
}

// UpdateRow overwrites row rid of table id.
func (s *Set) UpdateRow(id tables.TableID, rid uint32, row tables.Row) error {
	return s.Table(id).Apply(TableOp{Seq: s.nextSeq(), Kind: OpUpdate, RID: rid, Row: row})
}

// DeleteRow removes row rid of table id.
func (s *Set) DeleteRow(id tables.TableID, rid uint32) error {
	return s.Table(id).Apply(TableOp{Seq: s.nextSeq(), Kind: OpDelete, RID: rid})
}

// ReplaceTable substitutes every row of table id.
func (s *Set) ReplaceTable(id tables.TableID, rows []tables.Row) error {
	return s.Table(id).Replace(rows)
}

// AddMethodBody queues body and returns the placeholder RVA that rows should
// reference until the planner assigns a real one.
func (s *Set) AddMethodBody(body []byte) uint32 {
	rva := s.nextBodyRVA
	s.bodies[rva] = append([]byte(nil), body...)
	s.nextBodyRVA++
	return rva
}

// MethodBody returns the body queued under placeholder.
func (s *Set) MethodBody(placeholder uint32) ([]byte, bool) {
	b, ok := s.bodies[placeholder]
	return b, ok
}

// IsPlaceholder reports whether rva refers to a queued method body.
func (s *Set) IsPlaceholder(rva uint32) bool {
	if rva < format.PlaceholderRVABase {
		return false
	}
	_, ok := s.bodies[rva]
	return ok
}

// MethodBodies returns queued bodies ordered by placeholder RVA.
func (s *Set) MethodBodies() []MethodBody {
	out := make([]MethodBody, 0, len(s.bodies))
	for rva, data := range s.bodies {
		out = append(out, MethodBody{Placeholder: rva, Data: data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Placeholder < out[j].Placeholder })
	return out
}

// MethodBodiesSize returns the total size of queued bodies, each padded to 4 bytes.
func (s *Set) MethodBodiesSize() uint64 {
	var n uint64
	for _, b := range s.bodies {
		n += format.Align4(uint64(len(b)))
	}
	return n
}
