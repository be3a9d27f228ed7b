package changes

// ImportFunction is one imported symbol, by name or by ordinal.
type ImportFunction struct {
	Name      string
	Hint      uint16
	Ordinal   uint16
	ByOrdinal bool
}

// ImportModule groups the functions imported from one DLL.
type ImportModule struct {
	DLL       string
	Functions []ImportFunction
}

// NativeImports is the set of native imports to emit.
type NativeImports struct {
	Modules []ImportModule
}

func (n *NativeImports) module(dll string) *ImportModule {
	for i := range n.Modules {
		if n.Modules[i].DLL == dll {
			return &n.Modules[i]
		}
	}
	n.Modules = append(n.Modules, ImportModule{DLL: dll})
	return &n.Modules[len(n.Modules)-1]
}

// Add imports fn from dll by name.
func (n *NativeImports) Add(dll, fn string, hint uint16) {
	m := n.module(dll)
	m.Functions = append(m.Functions, ImportFunction{Name: fn, Hint: hint})
}

// AddOrdinal imports ordinal from dll.
func (n *NativeImports) AddOrdinal(dll string, ordinal uint16) {
	m := n.module(dll)
	m.Functions = append(m.Functions, ImportFunction{Ordinal: ordinal, ByOrdinal: true})
}

// IsEmpty reports whether no imports are queued.
func (n *NativeImports) IsEmpty() bool { return len(n.Modules) == 0 }

// DLLCount returns the number of distinct DLLs.
func (n *NativeImports) DLLCount() int { return len(n.Modules) }

// FunctionCount returns the total number of imported functions.
func (n *NativeImports) FunctionCount() int {
	total := 0
	for _, m := range n.Modules {
		total += len(m.Functions)
	}
	return total
}

// ExportFunction is one exported symbol. An empty Name exports by ordinal only.
type ExportFunction struct {
	Name    string
	Ordinal uint16
	RVA     uint32
}

// NativeExports is the export directory to emit.
type NativeExports struct {
	DLLName   string
	Functions []ExportFunction
}

// Add exports a function.
func (n *NativeExports) Add(name string, ordinal uint16, rva uint32) {
	n.Functions = append(n.Functions, ExportFunction{Name: name, Ordinal: ordinal, RVA: rva})
}

// IsEmpty reports whether no exports are queued.
func (n *NativeExports) IsEmpty() bool { return len(n.Functions) == 0 }

// FunctionCount returns the number of exports.
func (n *NativeExports) FunctionCount() int { return len(n.Functions) }
