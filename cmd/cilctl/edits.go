package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pmikstacki/bsharp-sub005/pkg/cil"
)

// editFlags are the edits shared by plan and rewrite.
type editFlags struct {
	strings       []string
	userStrings   []string
	imports       []string
	exports       []string
	deleteMethods []uint
}

func (e *editFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringArrayVar(&e.strings, "add-string", nil, "Append a string to #Strings (repeatable)")
	f.StringArrayVar(&e.userStrings, "add-user-string", nil, "Append a string to #US (repeatable)")
	f.StringArrayVar(&e.imports, "import", nil, "Add a native import as dll!function or dll#ordinal")
	f.StringArrayVar(&e.exports, "export", nil, "Add a native export as name@ordinal=rva")
	f.UintSliceVar(&e.deleteMethods, "delete-method", nil, "Delete MethodDef rows by RID")
}

func (e *editFlags) empty() bool {
	return len(e.strings)+len(e.userStrings)+len(e.imports)+len(e.exports)+len(e.deleteMethods) == 0
}

// apply queues every edit on asm and returns one line per edit.
func (e *editFlags) apply(asm *cil.Assembly) ([]string, error) {
	var done []string
	for _, s := range e.strings {
		idx, err := asm.AddString(s)
		if err != nil {
			return nil, err
		}
		done = append(done, fmt.Sprintf("#Strings 0x%X: %q", idx, s))
	}
	for _, s := range e.userStrings {
		idx, err := asm.AddUserString(s)
		if err != nil {
			return nil, err
		}
		done = append(done, fmt.Sprintf("#US 0x%X (token 0x%08X): %q", idx, cil.UserStringToken(idx), s))
	}
	for _, arg := range e.imports {
		if err := addImport(asm, arg); err != nil {
			return nil, err
		}
		done = append(done, "import "+arg)
	}
	for _, arg := range e.exports {
		if err := addExport(asm, arg); err != nil {
			return nil, err
		}
		done = append(done, "export "+arg)
	}
	// RIDs name original rows; compaction happens at plan time
	for _, rid := range e.deleteMethods {
		if err := asm.DeleteRow(cil.MethodDef, uint32(rid)); err != nil {
			return nil, fmt.Errorf("delete MethodDef %d: %w", rid, err)
		}
		done = append(done, fmt.Sprintf("delete MethodDef #%d", rid))
	}
	return done, nil
}

func addImport(asm *cil.Assembly, arg string) error {
	if dll, fn, ok := strings.Cut(arg, "!"); ok {
		return asm.AddNativeImport(dll, fn, 0)
	}
	if dll, ord, ok := strings.Cut(arg, "#"); ok {
		n, err := strconv.ParseUint(ord, 10, 16)
		if err != nil {
			return fmt.Errorf("import %q: bad ordinal: %w", arg, err)
		}
		return asm.AddNativeImportOrdinal(dll, uint16(n))
	}
	return fmt.Errorf("import %q: want dll!function or dll#ordinal", arg)
}

func addExport(asm *cil.Assembly, arg string) error {
	name, rest, ok := strings.Cut(arg, "@")
	if !ok {
		return fmt.Errorf("export %q: want name@ordinal=rva", arg)
	}
	ord, rva, ok := strings.Cut(rest, "=")
	if !ok {
		return fmt.Errorf("export %q: want name@ordinal=rva", arg)
	}
	n, err := strconv.ParseUint(ord, 10, 16)
	if err != nil {
		return fmt.Errorf("export %q: bad ordinal: %w", arg, err)
	}
	addr, err := strconv.ParseUint(rva, 0, 32)
	if err != nil {
		return fmt.Errorf("export %q: bad rva: %w", arg, err)
	}
	return asm.AddNativeExport(name, uint16(n), uint32(addr))
}
