package cil

import (
	"errors"
	"fmt"

	"github.com/pmikstacki/bsharp-sub005/internal/changes"
)

// AddString appends s to #Strings and returns its provisional index.
func (a *Assembly) AddString(s string) (uint32, error) {
	if a.closed {
		return 0, ErrClosed
	}
	return a.set.Strings.Append(s), nil
}

// AddBlob appends b to #Blob and returns its provisional index.
func (a *Assembly) AddBlob(b []byte) (uint32, error) {
	if a.closed {
		return 0, ErrClosed
	}
	return a.set.Blobs.Append(b), nil
}

// AddGUID appends g to #GUID and returns its 1-based index.
func (a *Assembly) AddGUID(g [16]byte) (uint32, error) {
	if a.closed {
		return 0, ErrClosed
	}
	return a.set.GUIDs.Append(g), nil
}

// AddUserString appends s to #US. Use UserStringToken to build the ldstr
// operand.
func (a *Assembly) AddUserString(s string) (uint32, error) {
	if a.closed {
		return 0, ErrClosed
	}
	return a.set.UserStrings.Append(s), nil
}

// UpdateString replaces the string at idx.
func (a *Assembly) UpdateString(idx uint32, s string) error {
	if a.closed {
		return ErrClosed
	}
	a.set.Strings.Modify(idx, s)
	return nil
}

// RemoveString drops the string at idx. Rows that still reference it are
// rewritten to index 0, the empty string.
func (a *Assembly) RemoveString(idx uint32) error {
	if a.closed {
		return ErrClosed
	}
	a.set.Strings.Remove(idx)
	return nil
}

// UpdateBlob replaces the blob at idx.
func (a *Assembly) UpdateBlob(idx uint32, b []byte) error {
	if a.closed {
		return ErrClosed
	}
	a.set.Blobs.Modify(idx, b)
	return nil
}

// RemoveBlob drops the blob at idx. References to it become 0.
func (a *Assembly) RemoveBlob(idx uint32) error {
	if a.closed {
		return ErrClosed
	}
	a.set.Blobs.Remove(idx)
	return nil
}

// UpdateGUID replaces the GUID at 1-based idx.
func (a *Assembly) UpdateGUID(idx uint32, g [16]byte) error {
	if a.closed {
		return ErrClosed
	}
	a.set.GUIDs.Modify(idx, g)
	return nil
}

// RemoveGUID drops the GUID at idx. Later GUIDs move down one slot and
// references to the removed one become 0.
func (a *Assembly) RemoveGUID(idx uint32) error {
	if a.closed {
		return ErrClosed
	}
	a.set.GUIDs.Remove(idx)
	return nil
}

// UpdateUserString replaces the user string at idx.
func (a *Assembly) UpdateUserString(idx uint32, s string) error {
	if a.closed {
		return ErrClosed
	}
	a.set.UserStrings.Modify(idx, s)
	return nil
}

// RemoveUserString drops the user string at idx. ldstr operands in added
// method bodies that referenced it become index 0. Existing bodies are not
// rewritten.
func (a *Assembly) RemoveUserString(idx uint32) error {
	if a.closed {
		return ErrClosed
	}
	a.set.UserStrings.Remove(idx)
	return nil
}

// ReplaceHeap swaps the whole heap for data. Every other edit queued against
// that heap is discarded.
func (a *Assembly) ReplaceHeap(h Heap, data []byte) error {
	if a.closed {
		return ErrClosed
	}
	switch h {
	case changes.HeapStrings:
		a.set.Strings.Replace(data)
	case changes.HeapBlob:
		a.set.Blobs.Replace(data)
	case changes.HeapGUID:
		a.set.GUIDs.Replace(data)
	case changes.HeapUserStrings:
		a.set.UserStrings.Replace(data)
	default:
		return fmt.Errorf("cil: unknown heap %d", h)
	}
	return nil
}

// InsertRow appends row to table t and returns its provisional RID.
func (a *Assembly) InsertRow(t Table, row Row) (uint32, error) {
	if a.closed {
		return 0, ErrClosed
	}
	return a.set.InsertRow(t, row)
}

// UpdateRow overwrites the row at rid.
func (a *Assembly) UpdateRow(t Table, rid uint32, row Row) error {
	if a.closed {
		return ErrClosed
	}
	return a.set.UpdateRow(t, rid, row)
}

// DeleteRow removes the row at rid. Later rows move down when the image is
// written. The entry point follows MethodDef compaction; other references to
// moved rows are left as is.
func (a *Assembly) DeleteRow(t Table, rid uint32) error {
	if a.closed {
		return ErrClosed
	}
	return a.set.DeleteRow(t, rid)
}

// ReplaceTable discards the original rows of t in favour of rows.
func (a *Assembly) ReplaceTable(t Table, rows []Row) error {
	if a.closed {
		return ErrClosed
	}
	return a.set.ReplaceTable(t, rows)
}

// AddMethodBody queues an encoded method body (header, IL and any extra
// sections) and returns a placeholder RVA for the MethodDef row.
func (a *Assembly) AddMethodBody(body []byte) (uint32, error) {
	if a.closed {
		return 0, ErrClosed
	}
	return a.set.AddMethodBody(body), nil
}

// AddNativeImport adds a by-name import of fn from dll.
func (a *Assembly) AddNativeImport(dll, fn string, hint uint16) error {
	if a.closed {
		return ErrClosed
	}
	if dll == "" || fn == "" {
		return errors.New("cil: native import needs a module and a function name")
	}
	a.set.Imports.Add(dll, fn, hint)
	return nil
}

// AddNativeImportOrdinal adds an import of dll by ordinal.
func (a *Assembly) AddNativeImportOrdinal(dll string, ordinal uint16) error {
	if a.closed {
		return ErrClosed
	}
	if dll == "" {
		return errors.New("cil: native import needs a module name")
	}
	a.set.Imports.AddOrdinal(dll, ordinal)
	return nil
}

// AddNativeExport exports the code at rva under name and ordinal.
func (a *Assembly) AddNativeExport(name string, ordinal uint16, rva uint32) error {
	if a.closed {
		return ErrClosed
	}
	if name == "" {
		return errors.New("cil: native export needs a name")
	}
	a.set.Exports.Add(name, ordinal, rva)
	return nil
}
