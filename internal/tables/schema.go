package tables

// ColumnKind classifies a column for sizing and remapping.
type ColumnKind uint8

const (
	ColU16    ColumnKind = iota // fixed 2-byte constant
	ColU32                      // fixed 4-byte constant
	ColRVA                      // fixed 4-byte RVA, remapped for placed method bodies
	ColString                   // #Strings index
	ColGUID                     // #GUID index
	ColBlob                     // #Blob index
	ColTable                    // simple index into Target
	ColCoded                    // coded index of kind Coded
)

// Column is one field of a table row.
type Column struct {
	Name   string
	Kind   ColumnKind
	Target TableID   // ColTable only
	Coded  CodedKind // ColCoded only
}

// IsHeap reports whether the column indexes a heap.
func (c Column) IsHeap() bool {
	return c.Kind == ColString || c.Kind == ColGUID || c.Kind == ColBlob
}

func u16(name string) Column  { return Column{Name: name, Kind: ColU16} }
func u32(name string) Column  { return Column{Name: name, Kind: ColU32} }
func rva(name string) Column  { return Column{Name: name, Kind: ColRVA} }
func str(name string) Column  { return Column{Name: name, Kind: ColString} }
func guid(name string) Column { return Column{Name: name, Kind: ColGUID} }
func blob(name string) Column { return Column{Name: name, Kind: ColBlob} }

func idx(name string, t TableID) Column {
	return Column{Name: name, Kind: ColTable, Target: t}
}

func coded(name string, k CodedKind) Column {
	return Column{Name: name, Kind: ColCoded, Coded: k}
}

// schemas follows ECMA-335 II.22 column order. Constant.Type is a one-byte
// constant followed by one byte of padding, so it is modelled as ColU16.
var schemas = [Count][]Column{
	Module:                 {u16("Generation"), str("Name"), guid("Mvid"), guid("EncId"), guid("EncBaseId")},
	TypeRef:                {coded("ResolutionScope", ResolutionScope), str("TypeName"), str("TypeNamespace")},
	TypeDef:                {u32("Flags"), str("TypeName"), str("TypeNamespace"), coded("Extends", TypeDefOrRef), idx("FieldList", Field), idx("MethodList", MethodDef)},
	FieldPtr:               {idx("Field", Field)},
	Field:                  {u16("Flags"), str("Name"), blob("Signature")},
	MethodPtr:              {idx("Method", MethodDef)},
	MethodDef:              {rva("RVA"), u16("ImplFlags"), u16("Flags"), str("Name"), blob("Signature"), idx("ParamList", Param)},
	ParamPtr:               {idx("Param", Param)},
	Param:                  {u16("Flags"), u16("Sequence"), str("Name")},
	InterfaceImpl:          {idx("Class", TypeDef), coded("Interface", TypeDefOrRef)},
	MemberRef:              {coded("Class", MemberRefParent), str("Name"), blob("Signature")},
	Constant:               {u16("Type"), coded("Parent", HasConstant), blob("Value")},
	CustomAttribute:        {coded("Parent", HasCustomAttribute), coded("Type", CustomAttributeType), blob("Value")},
	FieldMarshal:           {coded("Parent", HasFieldMarshal), blob("NativeType")},
	DeclSecurity:           {u16("Action"), coded("Parent", HasDeclSecurity), blob("PermissionSet")},
	ClassLayout:            {u16("PackingSize"), u32("ClassSize"), idx("Parent", TypeDef)},
	FieldLayout:            {u32("Offset"), idx("Field", Field)},
	StandAloneSig:          {blob("Signature")},
	EventMap:               {idx("Parent", TypeDef), idx("EventList", Event)},
	EventPtr:               {idx("Event", Event)},
	Event:                  {u16("EventFlags"), str("Name"), coded("EventType", TypeDefOrRef)},
	PropertyMap:            {idx("Parent", TypeDef), idx("PropertyList", Property)},
	PropertyPtr:            {idx("Property", Property)},
	Property:               {u16("Flags"), str("Name"), blob("Type")},
	MethodSemantics:        {u16("Semantics"), idx("Method", MethodDef), coded("Association", HasSemantics)},
	MethodImpl:             {idx("Class", TypeDef), coded("MethodBody", MethodDefOrRef), coded("MethodDeclaration", MethodDefOrRef)},
	ModuleRef:              {str("Name")},
	TypeSpec:               {blob("Signature")},
	ImplMap:                {u16("MappingFlags"), coded("MemberForwarded", MemberForwarded), str("ImportName"), idx("ImportScope", ModuleRef)},
	FieldRVA:               {rva("RVA"), idx("Field", Field)},
	EncLog:                 {u32("Token"), u32("FuncCode")},
	EncMap:                 {u32("Token")},
	Assembly:               {u32("HashAlgId"), u16("MajorVersion"), u16("MinorVersion"), u16("BuildNumber"), u16("RevisionNumber"), u32("Flags"), blob("PublicKey"), str("Name"), str("Culture")},
	AssemblyProcessor:      {u32("Processor")},
	AssemblyOS:             {u32("OSPlatformID"), u32("OSMajorVersion"), u32("OSMinorVersion")},
	AssemblyRef:            {u16("MajorVersion"), u16("MinorVersion"), u16("BuildNumber"), u16("RevisionNumber"), u32("Flags"), blob("PublicKeyOrToken"), str("Name"), str("Culture"), blob("HashValue")},
	AssemblyRefProcessor:   {u32("Processor"), idx("AssemblyRef", AssemblyRef)},
	AssemblyRefOS:          {u32("OSPlatformID"), u32("OSMajorVersion"), u32("OSMinorVersion"), idx("AssemblyRef", AssemblyRef)},
	File:                   {u32("Flags"), str("Name"), blob("HashValue")},
	ExportedType:           {u32("Flags"), u32("TypeDefId"), str("TypeName"), str("TypeNamespace"), coded("Implementation", Implementation)},
	ManifestResource:       {u32("Offset"), u32("Flags"), str("Name"), coded("Implementation", Implementation)},
	NestedClass:            {idx("NestedClass", TypeDef), idx("EnclosingClass", TypeDef)},
	GenericParam:           {u16("Number"), u16("Flags"), coded("Owner", TypeOrMethodDef), str("Name")},
	MethodSpec:             {coded("Method", MethodDefOrRef), blob("Instantiation")},
	GenericParamConstraint: {idx("Owner", GenericParam), coded("Constraint", TypeDefOrRef)},
}

// Schema returns the column list of a table. The slice must not be modified.
func Schema(id TableID) []Column {
	if !id.Valid() {
		return nil
	}
	return schemas[id]
}

// ColumnIndex returns the position of a named column, or -1.
func ColumnIndex(id TableID, name string) int {
	for i, c := range Schema(id) {
		if c.Name == name {
			return i
		}
	}
	return -1
}
