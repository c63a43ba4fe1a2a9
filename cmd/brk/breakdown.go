package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/breakdown/internal/breakdown"
	"github.com/zulandar/breakdown/internal/config"
	"github.com/zulandar/breakdown/internal/mirror"
	"github.com/zulandar/breakdown/internal/mirror/google"
)

func newListCmd() *cobra.Command {
	var (
		configPath string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List breakdowns",
		Long:  "Prints open breakdowns, or every breakdown with --all.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, configPath, all)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Breakdown config file")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include closed breakdowns")
	return cmd
}

func runList(cmd *cobra.Command, configPath string, all bool) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	records, err := breakdown.NewStore(gormDB)
	if err != nil {
		return err
	}
	list, err := records.List(cmd.Context(), all)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No breakdowns found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMACHINE\tREASON\tOPENED\tCLOSED\tCLOSED BY")
	for _, b := range list {
		closed := "-"
		if b.FixedAt != nil {
			closed = mirror.FormatTime(*b.FixedAt)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			b.ID, b.MachineName, truncate(b.Reason, 40), mirror.FormatTime(b.CreatedAt), closed, b.FixedBy)
	}
	return w.Flush()
}

func newCloseCmd() *cobra.Command {
	var (
		configPath string
		by         string
	)

	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a breakdown from the command line",
		Long:  "Marks an open breakdown as fixed and writes the close time to the spreadsheet when Google is configured.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid breakdown id %q", args[0])
			}
			return runClose(cmd, configPath, uint(id), by)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Breakdown config file")
	cmd.Flags().StringVar(&by, "by", "cli", "name recorded as the closer")
	return cmd
}

func runClose(cmd *cobra.Command, configPath string, id uint, by string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	records, err := breakdown.NewStore(gormDB)
	if err != nil {
		return err
	}
	sheet, err := openSheet(cmd.Context(), cfg.Google)
	if err != nil {
		return err
	}
	return closeRecord(cmd.Context(), cmd.OutOrStdout(), records, sheet, id, by, time.Now())
}

// openSheet returns the Sheets mirror, or nil when Google is not configured.
func openSheet(ctx context.Context, g config.GoogleConfig) (mirror.Sheet, error) {
	if !g.Enabled() {
		return nil, nil
	}
	sheet, err := google.NewSheet(ctx, google.SheetOpts{
		CredentialsFile: g.CredentialsFile,
		SpreadsheetID:   g.SpreadsheetID,
		SheetName:       g.SheetName,
	})
	if err != nil {
		return nil, err
	}
	return sheet, nil
}

// closeRecord closes id and mirrors the close time to sheet when set.
func closeRecord(ctx context.Context, out io.Writer, records *breakdown.Store, sheet mirror.Sheet, id uint, by string, now time.Time) error {
	rec, err := records.TryClose(ctx, id, now, by)
	switch {
	case errors.Is(err, breakdown.ErrNotFound):
		return fmt.Errorf("breakdown #%d not found", id)
	case errors.Is(err, breakdown.ErrAlreadyClosed):
		return fmt.Errorf("breakdown #%d is already closed", id)
	case err != nil:
		return err
	}
	fmt.Fprintf(out, "Closed breakdown #%d (%s)\n", rec.ID, rec.MachineName)

	if sheet == nil {
		return nil
	}
	row, found, err := sheet.FindRowByRecordID(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("sheet: find #%d: %w", rec.ID, err)
	}
	if !found {
		fmt.Fprintf(out, "Breakdown #%d has no spreadsheet row\n", rec.ID)
		return nil
	}
	if err := sheet.UpdateCell(ctx, row, mirror.ColumnClosedAt, mirror.FormatTime(now)); err != nil {
		return fmt.Errorf("sheet: update row %d: %w", row, err)
	}
	fmt.Fprintf(out, "Spreadsheet row %d updated\n", row)
	return nil
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
