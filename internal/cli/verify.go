package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/logline/internal/ledger"
)

// VerifyResult is the JSON payload of the verify command.
type VerifyResult struct {
	OK    bool                  `json:"ok"`
	Days  []ledger.VerifyReport `json:"days"`
	Fails int                   `json:"fails"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [day...]",
		Short: "Replay days and check every hash against the manifest",
		Long: `Recompute every row hash, chain hash and Merkle root from the stored
canonical payloads and compare them with the recorded values and the
day's manifest. With no days, every day in the journal is verified.

Exits 1 when any day does not verify.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runVerify(opts *RootOptions, days []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	a, err := opts.open(cmd, f)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if len(days) == 0 {
		days, err = a.Journal.Days()
		if err != nil {
			return f.Fail(ExitCommandError, "list days", err)
		}
	}

	res := VerifyResult{OK: true, Days: []ledger.VerifyReport{}}
	for _, day := range days {
		f.VerboseLog("verifying %s", day)
		rep, err := a.Ledger.Verify(commandContext(cmd), day)
		if err != nil {
			return f.Fail(ExitCommandError, "verify "+day, err)
		}
		res.Days = append(res.Days, rep)
		if !rep.OK {
			res.OK = false
			res.Fails++
		}
	}

	if f.JSON() {
		if err := f.Success(res); err != nil {
			return err
		}
	} else {
		printVerify(f, res)
	}

	if !res.OK {
		return &ExitError{
			Code:     ExitFailure,
			Message:  fmt.Sprintf("%d of %d day(s) failed verification", res.Fails, len(res.Days)),
			reported: true,
		}
	}
	return nil
}

func printVerify(f *OutputFormatter, res VerifyResult) {
	if len(res.Days) == 0 {
		f.Warn("no days to verify")
		return
	}
	for _, rep := range res.Days {
		if rep.OK {
			f.OK("%s  %d record(s)  root %s", rep.Day, rep.Records, short(rep.MerkleRootHex))
			continue
		}
		f.Bad("%s  %d record(s)  %d problem(s)", rep.Day, rep.Records, len(rep.Problems))
		for _, p := range rep.Problems {
			where := "manifest"
			if p.Index >= 0 {
				where = fmt.Sprintf("record %d", p.Index)
			}
			fmt.Fprintf(f.Writer, "    %s: %s", where, p.Kind)
			if p.Detail != "" {
				fmt.Fprintf(f.Writer, " (%s)", p.Detail)
			}
			fmt.Fprintln(f.Writer)
		}
	}
}

// short abbreviates a hex digest for text output.
func short(h string) string {
	if len(h) <= 12 {
		if h == "" {
			return "-"
		}
		return h
	}
	return h[:12]
}
