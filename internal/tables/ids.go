// Package tables describes the ECMA-335 metadata tables: their identifiers,
// column schemas, index widths and the binary row codec.
//
// Every table is a closed TableID; the schema for each one is a fixed list of
// columns, and all size and offset questions are answered from that schema
// together with an Info carrying the row counts and heap index widths.
package tables

import "fmt"

// TableID identifies a metadata table (ECMA-335 II.22).
type TableID uint8

const (
	Module                 TableID = 0x00
	TypeRef                TableID = 0x01
	TypeDef                TableID = 0x02
	FieldPtr               TableID = 0x03
	Field                  TableID = 0x04
	MethodPtr              TableID = 0x05
	MethodDef              TableID = 0x06
	ParamPtr               TableID = 0x07
	Param                  TableID = 0x08
	InterfaceImpl          TableID = 0x09
	MemberRef              TableID = 0x0A
	Constant               TableID = 0x0B
	CustomAttribute        TableID = 0x0C
	FieldMarshal           TableID = 0x0D
	DeclSecurity           TableID = 0x0E
	ClassLayout            TableID = 0x0F
	FieldLayout            TableID = 0x10
	StandAloneSig          TableID = 0x11
	EventMap               TableID = 0x12
	EventPtr               TableID = 0x13
	Event                  TableID = 0x14
	PropertyMap            TableID = 0x15
	PropertyPtr            TableID = 0x16
	Property               TableID = 0x17
	MethodSemantics        TableID = 0x18
	MethodImpl             TableID = 0x19
	ModuleRef              TableID = 0x1A
	TypeSpec               TableID = 0x1B
	ImplMap                TableID = 0x1C
	FieldRVA               TableID = 0x1D
	EncLog                 TableID = 0x1E
	EncMap                 TableID = 0x1F
	Assembly               TableID = 0x20
	AssemblyProcessor      TableID = 0x21
	AssemblyOS             TableID = 0x22
	AssemblyRef            TableID = 0x23
	AssemblyRefProcessor   TableID = 0x24
	AssemblyRefOS          TableID = 0x25
	File                   TableID = 0x26
	ExportedType           TableID = 0x27
	ManifestResource       TableID = 0x28
	NestedClass            TableID = 0x29
	GenericParam           TableID = 0x2A
	MethodSpec             TableID = 0x2B
	GenericParamConstraint TableID = 0x2C
)

// Count is the number of table identifiers this package knows.
const Count = 0x2D

// MaxID is the highest bit position of the 64-bit valid mask.
const MaxID = 63

var names = [Count]string{
	"Module", "TypeRef", "TypeDef", "FieldPtr", "Field", "MethodPtr", "MethodDef",
	"ParamPtr", "Param", "InterfaceImpl", "MemberRef", "Constant", "CustomAttribute",
	"FieldMarshal", "DeclSecurity", "ClassLayout", "FieldLayout", "StandAloneSig",
	"EventMap", "EventPtr", "Event", "PropertyMap", "PropertyPtr", "Property",
	"MethodSemantics", "MethodImpl", "ModuleRef", "TypeSpec", "ImplMap", "FieldRVA",
	"EncLog", "EncMap", "Assembly", "AssemblyProcessor", "AssemblyOS", "AssemblyRef",
	"AssemblyRefProcessor", "AssemblyRefOS", "File", "ExportedType", "ManifestResource",
	"NestedClass", "GenericParam", "MethodSpec", "GenericParamConstraint",
}

// Valid reports whether id names a known table.
func (id TableID) Valid() bool { return id < Count }

func (id TableID) String() string {
	if id.Valid() {
		return names[id]
	}
	return fmt.Sprintf("Table(0x%02X)", uint8(id))
}

// Parse resolves a table name as printed by String.
func Parse(name string) (TableID, bool) {
	for i, n := range names {
		if n == name {
			return TableID(i), true
		}
	}
	return 0, false
}

// All returns every known table in identifier order.
func All() []TableID {
	ids := make([]TableID, Count)
	for i := range ids {
		ids[i] = TableID(i)
	}
	return ids
}
