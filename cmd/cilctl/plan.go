package main

import (
	"github.com/spf13/cobra"

	"github.com/pmikstacki/bsharp-sub005/internal/layout"
	"github.com/pmikstacki/bsharp-sub005/internal/logger"
	"github.com/pmikstacki/bsharp-sub005/pkg/cil"
)

var planEdits editFlags

func init() {
	cmd := newPlanCmd()
	planEdits.register(cmd)
	rootCmd.AddCommand(cmd)
}

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <assembly>",
		Short: "Compute the write layout for a set of edits without writing",
		Long: `The plan command queues the given edits and prints the resulting write
layout: section placement, metadata streams, native tables, operation counts
and any planning warnings.

Example:
  cilctl plan app.dll
  cilctl plan app.dll --add-string Patched --import kernel32.dll!GetTickCount --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(args)
		},
	}
}

type planSection struct {
	Name           string `json:"name"`
	VirtualAddress uint32 `json:"virtual_address"`
	VirtualSize    uint32 `json:"virtual_size"`
	FileOffset     uint64 `json:"file_offset"`
	FileSize       uint64 `json:"file_size"`
	Metadata       bool   `json:"metadata,omitempty"`
}

type planStream struct {
	Name       string `json:"name"`
	Offset     uint32 `json:"offset"`
	Size       uint32 `json:"size"`
	FileOffset uint64 `json:"file_offset"`
}

type planOutput struct {
	TotalSize    uint64        `json:"total_size"`
	SizeIncrease uint64        `json:"size_increase"`
	Sections     []planSection `json:"sections"`
	Streams      []planStream  `json:"streams"`
	ImportRVA    *uint32       `json:"import_rva,omitempty"`
	ExportRVA    *uint32       `json:"export_rva,omitempty"`
	Copies       int           `json:"copies"`
	Zeros        int           `json:"zeros"`
	Writes       int           `json:"writes"`
	Warnings     []string      `json:"warnings,omitempty"`
}

func summarize(l *layout.WriteLayout) planOutput {
	out := planOutput{
		TotalSize:    l.TotalFileSize,
		SizeIncrease: l.SizeIncrease(),
		ImportRVA:    l.NativeTableRequirements.ImportTableRVA,
		ExportRVA:    l.NativeTableRequirements.ExportTableRVA,
		Copies:       len(l.Operations.Copy),
		Zeros:        len(l.Operations.Zero),
		Writes:       len(l.Operations.Write),
		Warnings:     l.PlanningInfo.Warnings,
	}
	for _, s := range l.FileStructure.Sections {
		out.Sections = append(out.Sections, planSection{
			Name:           s.Name,
			VirtualAddress: s.VirtualAddress,
			VirtualSize:    s.VirtualSize,
			FileOffset:     s.FileRegion.Offset,
			FileSize:       s.FileRegion.Size,
			Metadata:       s.ContainsMetadata,
		})
	}
	for _, s := range l.MetadataLayout.Streams {
		out.Streams = append(out.Streams, planStream{
			Name:       s.Name,
			Offset:     s.OffsetFromRoot,
			Size:       s.Size,
			FileOffset: s.FileRegion.Offset,
		})
	}
	return out
}

func runPlan(args []string) error {
	asm, err := cil.Open(args[0], cil.WithLogger(logger.L()))
	if err != nil {
		return err
	}
	defer asm.Close()

	applied, err := planEdits.apply(asm)
	if err != nil {
		return err
	}
	for _, a := range applied {
		printVerbose("queued %s\n", a)
	}

	l, err := asm.Plan()
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(summarize(l))
	}
	printInfo("%s", l.Summary())
	return nil
}
