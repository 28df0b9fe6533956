package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/malbeclabs/powerfeat/pkg/featbuild"
	"github.com/malbeclabs/powerfeat/pkg/sysinfo"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type SysinfoCmd struct{}

func NewSysinfoCmd() *SysinfoCmd {
	return &SysinfoCmd{}
}

func (c *SysinfoCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "sysinfo",
		Short: "Encode the device table",
		Long: "Fits the device encoder on sysinfo and writes the encoded device table, the\n" +
			"chassis table and the fitted encoder to the data directory.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sess, err := openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			builder, err := featbuild.NewBuilder(&featbuild.Config{
				Logger:   sess.log,
				DB:       sess.db,
				S3:       sess.s3,
				Settings: sess.settings,
			})
			if err != nil {
				return fmt.Errorf("failed to create builder: %w", err)
			}
			defer builder.Close()

			res, err := builder.EncodeSysinfo(ctx)
			if err != nil {
				sess.log.Error("featbuild: sysinfo encoding failed", "error", err)
				return err
			}
			renderEncoder(cmd.OutOrStdout(), res.Encoder)
			return nil
		},
	}
}

const maxListedCategories = 6

func renderEncoder(w io.Writer, enc *sysinfo.Encoder) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Column", "Encoding", "Outputs", "Detail"})

	for _, v := range enc.Vocabularies {
		detail := v.Categories
		if len(detail) > maxListedCategories {
			detail = append(detail[:maxListedCategories:maxListedCategories], "...")
		}
		table.Append([]string{v.Column, string(sysinfo.RoleOneHot), fmt.Sprintf("%d", len(v.Categories)), strings.Join(detail, ", ")})
	}
	if o := enc.Schema.Ordinal; o != "" {
		table.Append([]string{o, string(sysinfo.RoleOrdinal), "1", fmt.Sprintf("%d levels", len(enc.Schema.OrdinalOrder))})
	}
	for _, n := range enc.Numeric {
		table.Append([]string{n.Column, string(sysinfo.RoleNumeric), "1", fmt.Sprintf("impute %.4g, mean %.4g, scale %.4g", n.Impute, n.Mean, n.Scale)})
	}
	table.Render()
	fmt.Fprintf(w, "* %d encoded columns\n", len(enc.Names()))
}
