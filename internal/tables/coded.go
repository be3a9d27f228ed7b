package tables

// CodedKind identifies a coded index family (ECMA-335 II.24.2.6).
type CodedKind uint8

const (
	TypeDefOrRef CodedKind = iota
	HasConstant
	HasCustomAttribute
	HasFieldMarshal
	HasDeclSecurity
	MemberRefParent
	HasSemantics
	MethodDefOrRef
	MemberForwarded
	Implementation
	CustomAttributeType
	ResolutionScope
	TypeOrMethodDef
)

// unused fills tag slots that ECMA-335 reserves without assigning a table.
const unused TableID = 0xFF

type codedSpec struct {
	name   string
	bits   uint
	tables []TableID
}

var codedSpecs = [...]codedSpec{
	TypeDefOrRef:    {"TypeDefOrRef", 2, []TableID{TypeDef, TypeRef, TypeSpec}},
	HasConstant:     {"HasConstant", 2, []TableID{Field, Param, Property}},
	HasFieldMarshal: {"HasFieldMarshal", 1, []TableID{Field, Param}},
	HasCustomAttribute: {"HasCustomAttribute", 5, []TableID{
		MethodDef, Field, TypeRef, TypeDef, Param, InterfaceImpl, MemberRef, Module,
		DeclSecurity, Property, Event, StandAloneSig, ModuleRef, TypeSpec, Assembly,
		AssemblyRef, File, ExportedType, ManifestResource, GenericParam,
		GenericParamConstraint, MethodSpec,
	}},
	HasDeclSecurity:     {"HasDeclSecurity", 2, []TableID{TypeDef, MethodDef, Assembly}},
	MemberRefParent:     {"MemberRefParent", 3, []TableID{TypeDef, TypeRef, ModuleRef, MethodDef, TypeSpec}},
	HasSemantics:        {"HasSemantics", 1, []TableID{Event, Property}},
	MethodDefOrRef:      {"MethodDefOrRef", 1, []TableID{MethodDef, MemberRef}},
	MemberForwarded:     {"MemberForwarded", 1, []TableID{Field, MethodDef}},
	Implementation:      {"Implementation", 2, []TableID{File, AssemblyRef, ExportedType}},
	CustomAttributeType: {"CustomAttributeType", 3, []TableID{unused, unused, MethodDef, MemberRef, unused}},
	ResolutionScope:     {"ResolutionScope", 2, []TableID{Module, ModuleRef, AssemblyRef, TypeRef}},
	TypeOrMethodDef:     {"TypeOrMethodDef", 1, []TableID{TypeDef, MethodDef}},
}

func (k CodedKind) String() string {
	if int(k) < len(codedSpecs) {
		return codedSpecs[k].name
	}
	return "CodedKind(?)"
}

// TagBits returns the number of low bits used for the table tag.
func (k CodedKind) TagBits() uint { return codedSpecs[k].bits }

// Tables returns the candidate tables in tag order. Reserved tags are 0xFF.
func (k CodedKind) Tables() []TableID { return codedSpecs[k].tables }

// Decode splits a coded index into its table and row id.
func (k CodedKind) Decode(v uint32) (TableID, uint32, bool) {
	spec := codedSpecs[k]
	tag := v & (1<<spec.bits - 1)
	if int(tag) >= len(spec.tables) || spec.tables[tag] == unused {
		return 0, 0, false
	}
	return spec.tables[tag], v >> spec.bits, true
}

// Encode combines a table and row id into a coded index.
func (k CodedKind) Encode(t TableID, rid uint32) (uint32, bool) {
	spec := codedSpecs[k]
	for tag, candidate := range spec.tables {
		if candidate == t {
			return rid<<spec.bits | uint32(tag), true
		}
	}
	return 0, false
}
