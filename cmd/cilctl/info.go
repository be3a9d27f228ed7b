package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pmikstacki/bsharp-sub005/internal/format"
	"github.com/pmikstacki/bsharp-sub005/pkg/cil"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <assembly>",
		Short: "Report PE and CLI header information",
		Long: `The info command parses an assembly and prints its PE format, sections,
CLI header and metadata root.

Example:
  cilctl info app.dll
  cilctl info app.dll --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(args)
		},
	}
	return cmd
}

type sectionInfo struct {
	Name            string `json:"name"`
	VirtualAddress  uint32 `json:"virtual_address"`
	VirtualSize     uint32 `json:"virtual_size"`
	RawPointer      uint32 `json:"raw_pointer"`
	RawSize         uint32 `json:"raw_size"`
	Characteristics uint32 `json:"characteristics"`
}

type assemblyInfo struct {
	File             string        `json:"file"`
	Size             uint64        `json:"size"`
	Format           string        `json:"format"`
	TimeDateStamp    uint32        `json:"time_date_stamp"`
	FileAlignment    uint32        `json:"file_alignment"`
	SectionAlignment uint32        `json:"section_alignment"`
	Sections         []sectionInfo `json:"sections"`
	RuntimeVersion   string        `json:"runtime_version"`
	MetadataVersion  string        `json:"metadata_version"`
	MetadataRVA      uint32        `json:"metadata_rva"`
	MetadataSize     uint32        `json:"metadata_size"`
	Flags            uint32        `json:"flags"`
	EntryPoint       uint32        `json:"entry_point"`
	Streams          int           `json:"streams"`
}

func collectInfo(path string, asm *cil.Assembly) assemblyInfo {
	v := asm.View()
	cor := v.COR20()
	info := assemblyInfo{
		File:             path,
		Size:             v.Size(),
		Format:           "PE32",
		TimeDateStamp:    v.TimeDateStamp(),
		FileAlignment:    v.FileAlignment(),
		SectionAlignment: v.SectionAlignment(),
		RuntimeVersion:   fmt.Sprintf("%d.%d", cor.MajorRuntimeVersion, cor.MinorRuntimeVersion),
		MetadataVersion:  v.MetadataRoot().Version,
		MetadataRVA:      cor.MetadataRVA,
		MetadataSize:     cor.MetadataSize,
		Flags:            cor.Flags,
		EntryPoint:       cor.EntryPointToken,
		Streams:          len(v.Streams()),
	}
	if v.Is64() {
		info.Format = "PE32+"
	}
	for _, s := range v.Sections() {
		info.Sections = append(info.Sections, sectionInfo(s))
	}
	return info
}

func runInfo(args []string) error {
	path := args[0]
	printVerbose("Opening assembly: %s\n", path)

	asm, err := cil.Open(path)
	if err != nil {
		return err
	}
	defer asm.Close()

	info := collectInfo(path, asm)
	if jsonOut {
		return printJSON(info)
	}

	printSection("Assembly")
	printLabelValue("File", "%s", info.File)
	printLabelValue("Size", "%s", formatSize(info.Size))
	printLabelValue("Format", "%s", info.Format)
	if info.TimeDateStamp != 0 {
		printLabelValue("Built", "%s (0x%08X)", format.TimeDateStampToTime(info.TimeDateStamp).Format(time.RFC3339), info.TimeDateStamp)
	}
	printLabelValue("Alignment", "file 0x%X, section 0x%X", info.FileAlignment, info.SectionAlignment)

	printSection("Sections")
	for _, s := range info.Sections {
		printInfo("  %-8s VA 0x%08X vsize 0x%08X raw 0x%08X+0x%X\n",
			s.Name, s.VirtualAddress, s.VirtualSize, s.RawPointer, s.RawSize)
	}

	printSection("CLI header")
	printLabelValue("Runtime", "%s", info.RuntimeVersion)
	printLabelValue("Metadata", "RVA 0x%08X size %d (%s)", info.MetadataRVA, info.MetadataSize, info.MetadataVersion)
	printLabelValue("Flags", "0x%08X", info.Flags)
	if cil.Table(info.EntryPoint>>24) == cil.MethodDef {
		printLabelValue("Entry point", "MethodDef #%d", info.EntryPoint&format.TokenRIDMask)
	} else {
		printLabelValue("Entry point", "0x%08X", info.EntryPoint)
	}
	printLabelValue("Streams", "%d", info.Streams)
	return nil
}
