package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/logline/internal/app"
)

// ReindexResult is the JSON payload of the reindex command.
type ReindexResult struct {
	Records  int    `json:"records"`
	Days     int    `json:"days"`
	Duration string `json:"duration"`
}

// NewReindexCommand creates the reindex command.
func NewReindexCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the index from the journal",
		Long: `Replay every segment, oldest day first, into the configured index.
Replaying is idempotent, so reindex is safe to run at any time.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(rootOpts, cmd)
		},
	}
	return cmd
}

func runReindex(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	a, err := opts.open(cmd, f)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if a.Index == nil {
		return f.Fail(ExitCommandError, "reindex", app.ErrNoIndex)
	}

	days, err := a.Journal.Days()
	if err != nil {
		return f.Fail(ExitCommandError, "list days", err)
	}

	start := time.Now()
	n, err := a.Ledger.Reindex(commandContext(cmd))
	if err != nil {
		return f.Fail(ExitFailure, "reindex", err)
	}
	res := ReindexResult{Records: n, Days: len(days), Duration: time.Since(start).Round(time.Millisecond).String()}

	if f.JSON() {
		return f.Success(res)
	}
	f.OK("reindexed %d record(s) from %d day(s)", res.Records, res.Days)
	f.VerboseLog("took %s", res.Duration)
	return nil
}
