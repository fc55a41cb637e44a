package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/logline/internal/journal"
	"github.com/roach88/logline/internal/ledger"
)

// ProofResult is the JSON payload of the proof command.
type ProofResult struct {
	ledger.InclusionProof
	Valid bool `json:"valid"`
}

// NewProofCommand creates the proof command.
func NewProofCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proof <day> <event-id>",
		Short: "Print a Merkle inclusion proof for one event",
		Long: `Build the sibling path from an event's row hash to its day's Merkle
root, using the day's manifest, and check it. Exits 1 if the path does not
lead to the recorded root.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProof(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runProof(opts *RootOptions, day, id string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	a, err := opts.open(cmd, f)
	if err != nil {
		return err
	}
	defer closeApp(a)

	p, err := a.Ledger.Proof(day, id)
	if errors.Is(err, journal.ErrNoManifest) || errors.Is(err, ledger.ErrEventNotFound) {
		_ = f.Error(ErrCodeNotFound, err.Error(), nil)
		return &ExitError{Code: ExitCommandError, Message: "proof", Err: err, reported: true}
	}
	if err != nil {
		return f.Fail(ExitCommandError, "proof", err)
	}

	res := ProofResult{InclusionProof: p, Valid: p.Check()}
	if f.JSON() {
		err = f.Success(res)
	} else {
		w := f.Writer
		fmt.Fprintf(w, "event: %s (leaf %d of %s)\n", p.EventID, p.Index, p.Day)
		fmt.Fprintf(w, "leaf:  %s\n", p.LeafHex)
		for _, s := range p.Path {
			side := "right"
			if s.Left {
				side = "left "
			}
			fmt.Fprintf(w, "  %s %s\n", side, s.HashHex)
		}
		fmt.Fprintf(w, "root:  %s\n", p.MerkleRootHex)
		if res.Valid {
			f.OK("path leads to the recorded root")
		} else {
			f.Bad("path does not lead to the recorded root")
		}
	}
	if err != nil {
		return err
	}
	if !res.Valid {
		return &ExitError{Code: ExitFailure, Message: "inclusion proof does not verify", reported: true}
	}
	return nil
}
