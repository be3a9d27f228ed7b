package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pmikstacki/bsharp-sub005/internal/logger"
	"github.com/pmikstacki/bsharp-sub005/pkg/cil"
)

var (
	rewriteEdits  editFlags
	rewriteDryRun bool
)

func init() {
	cmd := newRewriteCmd()
	rewriteEdits.register(cmd)
	cmd.Flags().BoolVar(&rewriteDryRun, "dry-run", false, "Plan and execute in memory without writing")
	rootCmd.AddCommand(cmd)
}

func newRewriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rewrite <input> <output>",
		Short: "Apply edits and write the rewritten assembly",
		Long: `The rewrite command applies the given edits and writes the result.
Output and input may be the same file; the output is replaced atomically.

Example:
  cilctl rewrite app.dll app.patched.dll --add-user-string "Hello"
  cilctl rewrite app.dll app.dll --import user32.dll!MessageBoxW`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRewrite(args)
		},
	}
}

type rewriteResult struct {
	Input    string   `json:"input"`
	Output   string   `json:"output"`
	Size     uint64   `json:"size"`
	Edits    []string `json:"edits"`
	Warnings []string `json:"warnings,omitempty"`
	Written  bool     `json:"written"`
}

func runRewrite(args []string) error {
	in, out := args[0], args[1]
	if rewriteEdits.empty() {
		printVerbose("no edits given; metadata is rebuilt unchanged\n")
	}

	asm, err := cil.Open(in, cil.WithLogger(logger.L()))
	if err != nil {
		return err
	}
	defer asm.Close()

	applied, err := rewriteEdits.apply(asm)
	if err != nil {
		return err
	}
	l, err := asm.Plan()
	if err != nil {
		return err
	}

	res := rewriteResult{
		Input:    in,
		Output:   out,
		Size:     l.TotalFileSize,
		Edits:    applied,
		Warnings: l.PlanningInfo.Warnings,
	}
	if rewriteDryRun {
		if _, err := asm.Bytes(); err != nil {
			return err
		}
	} else {
		if err := asm.WriteFile(out); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		res.Written = true
	}

	if jsonOut {
		return printJSON(res)
	}
	for _, e := range res.Edits {
		printVerbose("  %s\n", e)
	}
	for _, w := range res.Warnings {
		printWarning("%s", w)
	}
	if res.Written {
		printSuccess("wrote %s (%s)", out, formatSize(res.Size))
	} else {
		printSuccess("dry run ok (%s)", formatSize(res.Size))
	}
	return nil
}
