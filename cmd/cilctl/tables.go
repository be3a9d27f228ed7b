package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pmikstacki/bsharp-sub005/pkg/cil"
)

func init() {
	rootCmd.AddCommand(newTablesCmd())
}

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables <assembly> [table]",
		Short: "List metadata tables or dump the rows of one table",
		Long: `The tables command prints the row count of every present metadata table.
With a table name it dumps that table's rows as raw column values.

Example:
  cilctl tables app.dll
  cilctl tables app.dll MethodDef --json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTables(args)
		},
	}
}

type tableCount struct {
	Name string `json:"name"`
	Rows uint32 `json:"rows"`
}

type tableRow struct {
	RID     uint32   `json:"rid"`
	Columns []uint32 `json:"columns"`
}

func runTables(args []string) error {
	asm, err := cil.Open(args[0])
	if err != nil {
		return err
	}
	defer asm.Close()
	v := asm.View()

	if len(args) == 1 {
		info := v.TableInfo()
		var counts []tableCount
		for id, n := range info.Rows {
			if n > 0 {
				counts = append(counts, tableCount{Name: cil.Table(id).String(), Rows: n})
			}
		}
		if jsonOut {
			return printJSON(counts)
		}
		printSection("Tables")
		for _, c := range counts {
			printLabelValue(c.Name, "%d", c.Rows)
		}
		return nil
	}

	id, ok := cil.TableByName(args[1])
	if !ok {
		return fmt.Errorf("unknown table %q", args[1])
	}
	var rows []tableRow
	for rid := uint32(1); rid <= v.RowCount(id); rid++ {
		row, err := v.Row(id, rid)
		if err != nil {
			return fmt.Errorf("read %s row %d: %w", id, rid, err)
		}
		rows = append(rows, tableRow{RID: rid, Columns: row})
	}
	if jsonOut {
		return printJSON(rows)
	}
	printSection(fmt.Sprintf("%s (%d rows)", id, len(rows)))
	for _, r := range rows {
		cols := make([]string, len(r.Columns))
		for i, c := range r.Columns {
			cols[i] = fmt.Sprintf("0x%X", c)
		}
		printDim("  %4d ", r.RID)
		printInfo("%s\n", strings.Join(cols, " "))
	}
	return nil
}
