package changes

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pmikstacki/bsharp-sub005/internal/tables"
)

// ErrReplacedTable is returned when a sparse operation targets a replaced table.
var ErrReplacedTable = errors.New("changes: table was replaced; sparse operations are not allowed")

// ErrInvalidRID is returned for operations on RID 0 or on rows that do not exist.
var ErrInvalidRID = errors.New("changes: invalid row id")

// OpKind is the kind of a sparse table operation.
type OpKind uint8

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// TableOp is one sparse edit. Seq orders operations across the change set.
type TableOp struct {
	Seq  uint64
	Kind OpKind
	RID  uint32
	Row  tables.Row // nil for deletes
}

// TableModifications records edits to one table: either a sequence of sparse
// operations against the original rows, or a full replacement row set.
type TableModifications struct {
	table         tables.TableID
	originalCount uint32

	ops     []TableOp
	deleted map[uint32]struct{}
	nextRID uint32

	replaced bool
	rows     []tables.Row
}

// NewTableModifications starts sparse tracking for a table with originalCount rows.
func NewTableModifications(id tables.TableID, originalCount uint32) *TableModifications {
	return &TableModifications{
		table:         id,
		originalCount: originalCount,
		deleted:       make(map[uint32]struct{}),
		nextRID:       originalCount + 1,
	}
}

// Table returns the table the modifications apply to.
func (m *TableModifications) Table() tables.TableID { return m.table }

// OriginalCount returns the row count of the source table.
func (m *TableModifications) OriginalCount() uint32 { return m.originalCount }

// IsReplaced reports whether the table was fully replaced.
func (m *TableModifications) IsReplaced() bool { return m.replaced }

// Rows returns the replacement rows.
func (m *TableModifications) Rows() []tables.Row { return m.rows }

// Ops returns sparse operations ordered by Seq.
func (m *TableModifications) Ops() []TableOp { return m.ops }

// NextRID returns the RID a new appended row would receive.
func (m *TableModifications) NextRID() uint32 { return m.nextRID }

// HasModifications reports whether any edit is pending.
func (m *TableModifications) HasModifications() bool {
	if m.replaced {
		return true
	}
	return len(m.ops) > 0
}

// HasRow reports whether rid exists after the pending operations.
func (m *TableModifications) HasRow(rid uint32) bool {
	if rid == 0 {
		return false
	}
	if m.replaced {
		return int(rid) <= len(m.rows)
	}
	if _, gone := m.deleted[rid]; gone {
		return false
	}
	if rid <= m.originalCount {
		return true
	}
	for _, op := range m.ops {
		if op.Kind == OpInsert && op.RID == rid {
			return true
		}
	}
	return false
}

// Apply validates op and records it in Seq order.
func (m *TableModifications) Apply(op TableOp) error {
	if m.replaced {
		return ErrReplacedTable
	}
	if op.RID == 0 {
		return fmt.Errorf("%s %s: %w: RID 0", m.table, op.Kind, ErrInvalidRID)
	}
	switch op.Kind {
	case OpInsert:
		if m.HasRow(op.RID) && op.RID > m.originalCount {
			return fmt.Errorf("%s insert: %w: RID %d already exists", m.table, ErrInvalidRID, op.RID)
		}
	case OpUpdate, OpDelete:
		if !m.HasRow(op.RID) {
			return fmt.Errorf("%s %s: %w: RID %d not found", m.table, op.Kind, ErrInvalidRID, op.RID)
		}
	}
	if op.Kind != OpDelete {
		if err := checkRowShape(m.table, op.Row); err != nil {
			return err
		}
		op.Row = op.Row.Clone()
	}

	i := sort.Search(len(m.ops), func(i int) bool { return m.ops[i].Seq > op.Seq })
	m.ops = append(m.ops, TableOp{})
	copy(m.ops[i+1:], m.ops[i:])
	m.ops[i] = op

	switch op.Kind {
	case OpInsert:
		delete(m.deleted, op.RID)
		if op.RID >= m.nextRID {
			m.nextRID = op.RID + 1
		}
	case OpDelete:
		m.deleted[op.RID] = struct{}{}
	case OpUpdate:
		delete(m.deleted, op.RID)
	}
	return nil
}

// Replace discards sparse operations and substitutes the full row set.
func (m *TableModifications) Replace(rows []tables.Row) error {
	out := make([]tables.Row, len(rows))
	for i, r := range rows {
		if err := checkRowShape(m.table, r); err != nil {
			return err
		}
		out[i] = r.Clone()
	}
	m.replaced = true
	m.rows = out
	m.ops = nil
	m.deleted = make(map[uint32]struct{})
	m.nextRID = uint32(len(out)) + 1
	return nil
}

func checkRowShape(id tables.TableID, r tables.Row) error {
	if want := len(tables.Schema(id)); len(r) != want {
		return fmt.Errorf("changes: %s row has %d values, want %d", id, len(r), want)
	}
	return nil
}
