package main

import (
	"bytes"

	"github.com/spf13/cobra"

	"github.com/pmikstacki/bsharp-sub005/internal/format"
	"github.com/pmikstacki/bsharp-sub005/internal/heaps"
	"github.com/pmikstacki/bsharp-sub005/internal/view"
	"github.com/pmikstacki/bsharp-sub005/pkg/cil"
)

var (
	streamsDumpStrings bool
	streamsDumpUS      bool
)

func init() {
	cmd := newStreamsCmd()
	cmd.Flags().BoolVar(&streamsDumpStrings, "strings", false, "Dump #Strings entries")
	cmd.Flags().BoolVar(&streamsDumpUS, "us", false, "Dump #US entries")
	rootCmd.AddCommand(cmd)
}

func newStreamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "streams <assembly>",
		Short: "List metadata streams and optionally dump heap contents",
		Long: `The streams command lists the metadata streams of an assembly with
their offsets and sizes.

Example:
  cilctl streams app.dll
  cilctl streams app.dll --us`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStreams(args)
		},
	}
}

type streamInfo struct {
	Name       string `json:"name"`
	Offset     uint32 `json:"offset"`
	Size       uint32 `json:"size"`
	FileOffset uint64 `json:"file_offset"`
}

type heapEntry struct {
	Index uint32 `json:"index"`
	Value string `json:"value"`
}

type streamsOutput struct {
	Streams     []streamInfo `json:"streams"`
	Strings     []heapEntry  `json:"strings,omitempty"`
	UserStrings []heapEntry  `json:"user_strings,omitempty"`
}

// stringEntries splits a #Strings heap into its NUL-terminated entries,
// skipping the leading empty string.
func stringEntries(heap []byte) []heapEntry {
	var out []heapEntry
	for idx := 1; idx < len(heap); {
		end := bytes.IndexByte(heap[idx:], 0)
		if end < 0 {
			end = len(heap) - idx
		}
		if end > 0 {
			out = append(out, heapEntry{Index: uint32(idx), Value: string(heap[idx : idx+end])})
		}
		idx += end + 1
	}
	return out
}

// userStringEntries walks a #US heap entry by entry. Padding and undecodable
// entries are skipped.
func userStringEntries(heap []byte) []heapEntry {
	var out []heapEntry
	for idx := 1; idx < len(heap); {
		n, w, err := format.ReadCompressedUint(heap[idx:])
		if err != nil {
			break
		}
		if n > 0 {
			if s, err := heaps.DecodeUserString(heap, uint32(idx)); err == nil {
				out = append(out, heapEntry{Index: uint32(idx), Value: s})
			}
		}
		idx += w + int(n)
	}
	return out
}

func collectStreams(v *view.Assembly) streamsOutput {
	var res streamsOutput
	for _, s := range v.Streams() {
		res.Streams = append(res.Streams, streamInfo(s))
	}
	if streamsDumpStrings {
		res.Strings = stringEntries(v.StreamData(format.StreamStrings))
	}
	if streamsDumpUS {
		res.UserStrings = userStringEntries(v.StreamData(format.StreamUserStrings))
	}
	return res
}

func runStreams(args []string) error {
	asm, err := cil.Open(args[0])
	if err != nil {
		return err
	}
	defer asm.Close()

	res := collectStreams(asm.View())
	if jsonOut {
		return printJSON(res)
	}

	printSection("Streams")
	for _, s := range res.Streams {
		printInfo("  %-9s offset 0x%06X size %-8d file 0x%08X\n", s.Name, s.Offset, s.Size, s.FileOffset)
	}
	if streamsDumpStrings {
		printSection("#Strings")
		for _, e := range res.Strings {
			printDim("  0x%06X ", e.Index)
			printInfo("%q\n", e.Value)
		}
	}
	if streamsDumpUS {
		printSection("#US")
		for _, e := range res.UserStrings {
			printDim("  0x%06X ", e.Index)
			printInfo("%q\n", e.Value)
		}
	}
	return nil
}
