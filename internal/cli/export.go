package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/logline/internal/export"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	RangeOptions
	Type    string
	Output  string
	Redact  bool
	Summary bool
}

// ExportResult is the JSON payload of export when writing to a file or
// printing a summary.
type ExportResult struct {
	Output  string          `json:"output,omitempty"`
	Type    string          `json:"type"`
	Events  int             `json:"events"`
	Summary *export.Summary `json:"summary,omitempty"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export indexed events as CSV or JSON",
		Long: `Write the events of a time range as CSV or JSON, newest first.
--redact replaces entity names with a salted hash so exports can leave
the machine without personal data.

Example:
  logline export --type csv --from 2025-06-01 --to 2025-06-30 -o june.csv
  logline export --summary --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	opts.RangeOptions.bind(cmd)
	cmd.Flags().StringVar(&opts.Type, "type", string(export.FormatCSV), "export encoding (csv|json)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().BoolVar(&opts.Redact, "redact", false, "hash entity names")
	cmd.Flags().BoolVar(&opts.Summary, "summary", false, "print totals instead of rows")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	typ, err := export.ParseFormat(opts.Type)
	if err != nil {
		return f.Fail(ExitCommandError, "export", err)
	}

	a, err := opts.open(cmd, f)
	if err != nil {
		return err
	}
	defer closeApp(a)

	q, err := a.RequireQuery()
	if err != nil {
		return f.Fail(ExitCommandError, "export", err)
	}
	start, end, err := opts.resolve(opts.now(), q.Location())
	if err != nil {
		return f.Fail(ExitCommandError, "export", err)
	}
	evs, err := q.EventsBetween(commandContext(cmd), start, end)
	if err != nil {
		return queryFail(f, err)
	}

	if opts.Summary {
		s := export.Summarize(evs)
		if f.JSON() {
			return f.Success(ExportResult{Type: "summary", Events: len(evs), Summary: &s})
		}
		printSummary(f, s)
		return nil
	}

	x, err := a.Exporter(opts.Redact)
	if err != nil {
		return f.Fail(ExitFailure, "export", err)
	}

	var buf bytes.Buffer
	if err := x.Write(&buf, typ, evs); err != nil {
		if errors.Is(err, export.ErrNoData) {
			_ = f.Error(ErrCodeNotFound, "no events in range", nil)
			return &ExitError{Code: ExitFailure, Message: "export", Err: err, reported: true}
		}
		return f.Fail(ExitFailure, "export", err)
	}

	if opts.Output == "" {
		// Rows are the output; no envelope even in JSON mode.
		_, err := io.Copy(f.Writer, &buf)
		return err
	}

	if err := os.WriteFile(opts.Output, buf.Bytes(), 0o600); err != nil {
		return f.Fail(ExitCommandError, "write export", err)
	}
	res := ExportResult{Output: opts.Output, Type: string(typ), Events: len(evs)}
	if f.JSON() {
		return f.Success(res)
	}
	f.OK("exported %d event(s) to %s", res.Events, res.Output)
	return nil
}

func printSummary(f *OutputFormatter, s export.Summary) {
	w := f.Writer
	fmt.Fprintf(w, "transactions:    %d\n", s.TotalTransactions)
	fmt.Fprintf(w, "total value:     %s\n", formatValue(s.TotalValue))
	fmt.Fprintf(w, "average value:   %s\n", formatValue(s.AverageValue))
	fmt.Fprintf(w, "unique entities: %d\n", s.UniqueEntities)
	for _, action := range slices.Sorted(maps.Keys(s.ActionBreakdown)) {
		fmt.Fprintf(w, "  %-14s %d\n", action, s.ActionBreakdown[action])
	}
}
