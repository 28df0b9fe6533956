package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/malbeclabs/powerfeat/pkg/featbuild"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type BuildCmd struct{}

func NewBuildCmd() *BuildCmd {
	return &BuildCmd{}
}

func (c *BuildCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <investigation-dir>",
		Short: "Build the feature table of an investigation directory",
		Long: "Reads raw/ under the investigation directory, fuses it with the encoded device\n" +
			"table and writes out/feat.parquet and out/scaler.json.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, err := cmd.Flags().GetBool("force-sysinfo")
			if err != nil {
				return fmt.Errorf("failed to get force-sysinfo flag: %w", err)
			}
			invDir := args[0]

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sess, err := openSession(ctx, cmd, invDir)
			if err != nil {
				return err
			}
			defer sess.close()

			builder, err := featbuild.NewBuilder(&featbuild.Config{
				Logger:       sess.log,
				DB:           sess.db,
				S3:           sess.s3,
				Settings:     sess.settings,
				ForceSysinfo: force,
			})
			if err != nil {
				return fmt.Errorf("failed to create builder: %w", err)
			}
			defer builder.Close()

			report, err := builder.Build(ctx, invDir)
			if err != nil {
				sess.log.Error("featbuild: build failed", "inv_dir", invDir, "error", err)
				return err
			}
			renderReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().Bool("force-sysinfo", getenvBool("FEATBUILD_FORCE_SYSINFO", false), "re-encode the device table even when a cached encoding exists (env: FEATBUILD_FORCE_SYSINFO)")

	return cmd
}

func renderReport(w io.Writer, report *featbuild.Report) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Stage", "Block", "Join", "Left\nRows", "Right\nRows", "Out\nRows", "Note"})
	for _, j := range report.Joins {
		note := ""
		if j.Emptied() {
			note = "no rows matched"
		}
		table.Append([]string{
			j.Stage,
			j.Block,
			j.How,
			fmt.Sprintf("%d", j.LeftRows),
			fmt.Sprintf("%d", j.RightRows),
			fmt.Sprintf("%d", j.OutRows),
			note,
		})
	}
	table.Render()

	source := "cached"
	if report.SysinfoEncoded {
		source = "encoded"
	}
	fmt.Fprintf(w, "* %d rows x %d columns, device table %s, took %s\n",
		report.Rows, len(report.Columns), source, report.Duration.Round(time.Millisecond))
}
