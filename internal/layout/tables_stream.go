package layout

import (
	"github.com/pmikstacki/bsharp-sub005/internal/changes"
	"github.com/pmikstacki/bsharp-sub005/internal/format"
	"github.com/pmikstacki/bsharp-sub005/internal/tables"
	"github.com/pmikstacki/bsharp-sub005/pkg/types"
)

// tablesStream describes how the #~ stream is produced. A verbatim stream is
// copied from the source; otherwise every row is decoded with the source
// widths and re-encoded with the final ones.
type tablesStream struct {
	present  bool
	verbatim bool
	source   []byte
	header   tables.Header
	info     tables.Info
	size     uint64
}

func identityMap(m map[uint32]uint32) bool {
	for k, v := range m {
		if k != v {
			return false
		}
	}
	return true
}

// planTables decides between copying and rebuilding the tables stream and
// returns its final size. Heap sizes must already be known.
func (p *Planner) planTables(sizes MetadataComponentSizes) (tablesStream, error) {
	hdr, ok := p.view.TablesHeader()
	if !ok {
		return tablesStream{}, nil
	}
	ts, _ := p.view.TablesStream()
	t := tablesStream{present: true, source: p.view.StreamData(ts.Name), header: hdr}

	info := hdr.Info
	info.WideStrings = info.WideStrings || sizes.StringsHeap >= format.WideHeapThreshold
	info.WideBlobs = info.WideBlobs || sizes.BlobHeap >= format.WideHeapThreshold
	info.WideGUIDs = info.WideGUIDs || sizes.GUIDHeap/format.GUIDSize >= format.WideHeapThreshold
	modified := p.set.ModifiedTables()
	for _, id := range modified {
		rr, ok := p.remapper.Table(id)
		if !ok {
			return tablesStream{}, types.Missing(types.ErrKindMetadataLayout, types.StageComponentSizing,
				"row remapper for "+id.String())
		}
		info.Rows[id] = rr.FinalCount()
	}
	t.info = info

	r := p.remapper
	if len(modified) == 0 && info == hdr.Info &&
		identityMap(r.Strings) && identityMap(r.Blobs) && identityMap(r.GUIDs) {
		t.verbatim = true
		t.size = uint64(len(t.source))
		return t, nil
	}
	t.size = uint64(tables.HeaderSize(info.PresentCount())) + info.DataSize()
	return t, nil
}

// sourceRows decodes every original row of a table.
func (p *Planner) sourceRows(id tables.TableID) ([]tables.Row, error) {
	info := p.tables.header.Info
	n := info.RowCount(id)
	if n == 0 {
		return nil, nil
	}
	data := p.view.TableData(id)
	size := info.RowSize(id)
	rows := make([]tables.Row, n)
	for i := range rows {
		row, err := info.DecodeRow(id, data[i*size:(i+1)*size])
		if err != nil {
			return nil, types.New(types.ErrKindFormat, types.StageOperations).Reason(types.ReasonMalformed).
				Msg("decode %s row %d", id, i+1).Cause(err).Build()
		}
		rows[i] = row
	}
	return rows, nil
}

// finalRows returns the rows of a table after the pending edits, in final
// RID order, still carrying source heap indices and RVAs.
func (p *Planner) finalRows(id tables.TableID) ([]tables.Row, error) {
	m, ok := p.set.TableChanges(id)
	if !ok || !m.HasModifications() {
		return p.sourceRows(id)
	}
	if m.IsReplaced() {
		return m.Rows(), nil
	}

	source, err := p.sourceRows(id)
	if err != nil {
		return nil, err
	}
	overlay := make(map[uint32]tables.Row)
	for _, op := range m.Ops() {
		switch op.Kind {
		case changes.OpInsert, changes.OpUpdate:
			overlay[op.RID] = op.Row
		case changes.OpDelete:
			delete(overlay, op.RID)
		}
	}

	rr, _ := p.remapper.Table(id)
	rows := make([]tables.Row, 0, rr.FinalCount())
	for final := uint32(1); final <= rr.FinalCount(); final++ {
		rid, ok := rr.ReverseLookup(final)
		if !ok {
			return nil, types.Missing(types.ErrKindMetadataLayout, types.StageOperations,
				"source row for "+id.String()+" final RID")
		}
		if row, ok := overlay[rid]; ok {
			rows = append(rows, row)
			continue
		}
		if rid == 0 || int(rid) > len(source) {
			return nil, types.New(types.ErrKindMetadataLayout, types.StageOperations).Reason(types.ReasonMissing).
				Msg("%s RID %d has neither source data nor a pending row", id, rid).Build()
		}
		rows = append(rows, source[rid-1])
	}
	return rows, nil
}

// rvaColumn returns the index of the RVA column of id, or -1.
func rvaColumn(id tables.TableID) int {
	for i, c := range tables.Schema(id) {
		if c.Kind == tables.ColRVA {
			return i
		}
	}
	return -1
}

// remapRVA retargets a placed method body RVA and flags suspicious values.
func (p *Planner) remapRVA(id tables.TableID, rid uint32, row tables.Row, rvas map[uint32]uint32) {
	col := rvaColumn(id)
	if col < 0 || row[col] == 0 {
		return
	}
	v := row[col]
	if to, ok := rvas[v]; ok {
		row[col] = to
		return
	}
	switch {
	case v >= format.PlaceholderRVABase:
		p.warn("%s row %d references placeholder RVA 0x%08X without a method body", id, rid, v)
	case v > format.MaxReasonableRVA:
		p.warn("%s row %d has unmapped RVA 0x%08X", id, rid, v)
	}
}

// encodeTables produces the final tables stream bytes.
func (p *Planner) encodeTables(rvas map[uint32]uint32) ([]byte, error) {
	t := &p.tables
	if !t.present {
		return nil, nil
	}
	if t.verbatim {
		return append([]byte(nil), t.source...), nil
	}

	hdr := tables.EncodeHeader(t.header.MajorVersion, t.header.MinorVersion, t.header.Sorted, t.info)
	out := make([]byte, t.size)
	copy(out, hdr)
	off := len(hdr)
	for _, id := range tables.All() {
		rows, err := p.finalRows(id)
		if err != nil {
			return nil, err
		}
		if uint32(len(rows)) != t.info.RowCount(id) {
			return nil, types.New(types.ErrKindMetadataLayout, types.StageOperations).Reason(types.ReasonBounds).
				Msg("%s has %d rows, header declares %d", id, len(rows), t.info.RowCount(id)).Build()
		}
		size := t.info.RowSize(id)
		for i, row := range rows {
			r := p.remapper.RemapRow(id, row)
			p.remapRVA(id, uint32(i+1), r, rvas)
			if err := t.info.EncodeRow(id, r, out[off:off+size]); err != nil {
				return nil, types.New(types.ErrKindMetadataLayout, types.StageOperations).Reason(types.ReasonOverflow).
					Msg("encode %s row %d", id, i+1).Cause(err).Build()
			}
			off += size
		}
	}
	return out, nil
}
