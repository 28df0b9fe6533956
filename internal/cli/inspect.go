package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/malbeclabs/powerfeat/pkg/duck"
	"github.com/malbeclabs/powerfeat/pkg/frame"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type InspectCmd struct{}

func NewInspectCmd() *InspectCmd {
	return &InspectCmd{}
}

func (c *InspectCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <table>",
		Short: "Show the schema and first rows of a Parquet or CSV table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := cmd.Flags().GetInt("rows")
			if err != nil {
				return fmt.Errorf("failed to get rows flag: %w", err)
			}
			uri := args[0]

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sess, err := openSession(ctx, cmd, uri)
			if err != nil {
				return err
			}
			defer sess.close()

			conn, err := sess.db.Conn(ctx)
			if err != nil {
				return fmt.Errorf("failed to get connection: %w", err)
			}
			defer conn.Close()

			info, err := duck.Describe(ctx, conn, uri)
			if err != nil {
				return err
			}
			f, err := duck.ReadTable(ctx, sess.log, conn, uri)
			if err != nil {
				return err
			}
			renderSchema(cmd.OutOrStdout(), info, f)
			renderPreview(cmd.OutOrStdout(), f, rows)
			return nil
		},
	}

	cmd.Flags().IntP("rows", "n", getenvInt("FEATBUILD_PREVIEW_ROWS", 10), "number of rows to preview (env: FEATBUILD_PREVIEW_ROWS)")

	return cmd
}

func renderSchema(w io.Writer, info []duck.ColumnInfo, f *frame.Frame) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Column", "Type", "Nulls"})
	for _, ci := range info {
		nulls := ""
		if c, err := f.Column(ci.Name); err == nil {
			nulls = fmt.Sprintf("%d", c.NullCount())
		}
		table.Append([]string{ci.Name, ci.Type, nulls})
	}
	table.Render()
	fmt.Fprintf(w, "* %d rows x %d columns\n", f.NumRows(), f.NumCols())
}

func renderPreview(w io.Writer, f *frame.Frame, rows int) {
	if rows <= 0 || f.NumRows() == 0 {
		return
	}
	rows = min(rows, f.NumRows())

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader(f.Names())
	for r := 0; r < rows; r++ {
		line := make([]string, f.NumCols())
		for i, c := range f.Columns() {
			if c.IsNull(r) {
				line[i] = "NULL"
				continue
			}
			line[i] = c.Format(r)
		}
		table.Append(line)
	}
	table.Render()
}
