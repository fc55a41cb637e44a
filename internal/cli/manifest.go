package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/logline/internal/journal"
	"github.com/roach88/logline/internal/ledger"
)

// NewManifestCommand creates the manifest command.
func NewManifestCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest [day]",
		Short: "Show a day's manifest, or the active day's chain state",
		Long: `Show the stored manifest of a day: the last chain hash, the Merkle
root and the ordered row hashes. Without a day, show the in-memory chain
state of the active day instead.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runState(rootOpts, cmd)
			}
			return runManifest(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runManifest(opts *RootOptions, day string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	a, err := opts.open(cmd, f)
	if err != nil {
		return err
	}
	defer closeApp(a)

	m, err := a.Ledger.Manifest(day)
	switch {
	case errors.Is(err, journal.ErrNoManifest):
		_ = f.Error(ErrCodeNotFound, fmt.Sprintf("no manifest for %s", day), nil)
		return &ExitError{Code: ExitCommandError, Message: "no manifest for " + day, Err: err, reported: true}
	case errors.Is(err, journal.ErrInvalidDay):
		return f.Fail(ExitCommandError, "manifest", err)
	case err != nil:
		return f.Fail(ExitFailure, "manifest", err)
	}

	if f.JSON() {
		return f.Success(m)
	}
	w := f.Writer
	fmt.Fprintf(w, "day:         %s\n", m.Day)
	fmt.Fprintf(w, "records:     %d\n", m.Len())
	fmt.Fprintf(w, "last chain:  %s\n", m.LastChain)
	fmt.Fprintf(w, "merkle root: %s\n", m.MerkleRoot)
	for i, h := range m.RowHashesHex {
		id := ""
		if i < len(m.EventIDs) {
			id = m.EventIDs[i]
		}
		fmt.Fprintf(w, "  %4d  %s  %s\n", i, h, id)
	}
	return nil
}

func runState(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	a, err := opts.open(cmd, f)
	if err != nil {
		return err
	}
	defer closeApp(a)

	st, err := a.Ledger.State()
	if err != nil {
		return f.Fail(ExitFailure, "load chain state", err)
	}
	if f.JSON() {
		return f.Success(st)
	}
	printState(f, st)
	return nil
}

func printState(f *OutputFormatter, st ledger.State) {
	w := f.Writer
	fmt.Fprintf(w, "active day:  %s\n", st.Day)
	fmt.Fprintf(w, "records:     %d\n", st.Leaves)
	fmt.Fprintf(w, "last chain:  %s\n", orDash(st.LastChainHex))
	fmt.Fprintf(w, "merkle root: %s\n", orDash(st.MerkleRootHex))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
