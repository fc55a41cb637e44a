package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/logline/internal/canon"
	"github.com/roach88/logline/internal/ledger"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	Event string
	ID    string
	Text  string
	Actor string
}

// AppendResult is the JSON payload of a successful append.
type AppendResult struct {
	ledger.Receipt
	Incomplete []string `json:"incomplete"`
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append [event.json | -]",
		Short: "Append a canonical event to the ledger",
		Long: `Append one structured business event to today's segment.

The event is read from --event, from the named file, or from stdin when
the argument is "-" or omitted. Appending again with the same --id is a
no-op that returns the original receipt.

Example:
  logline append sale.json --text "vendi 2 camisetas pra Amanda"
  echo '{"events":[{"action":"inquiry","subject":"price"}]}' | logline append -`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Event, "event", "e", "", "event JSON inline")
	cmd.Flags().StringVar(&opts.ID, "id", "", "idempotency id (default: generated)")
	cmd.Flags().StringVarP(&opts.Text, "text", "t", "", "original message the event was extracted from")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "who recorded the event (default: ledger.actor)")

	return cmd
}

func runAppend(opts *AppendOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	raw, err := readEvent(opts.Event, args, cmd.InOrStdin())
	if err != nil {
		return f.Fail(ExitCommandError, "read event", err)
	}
	ev, err := canon.DecodeEvent(raw)
	if err != nil {
		return f.Fail(ExitCommandError, "parse event", err)
	}

	a, err := opts.open(cmd, f)
	if err != nil {
		return err
	}
	defer closeApp(a)

	actor := opts.Actor
	if actor == "" {
		actor = opts.config.Ledger.Actor
	}

	rc, err := a.Ledger.AppendWithID(commandContext(cmd), opts.ID, ev, opts.Text, actor)
	if err != nil {
		return f.Fail(ExitFailure, "append", err)
	}

	res := AppendResult{Receipt: rc, Incomplete: ev.IncompleteFields()}
	if f.JSON() {
		return f.Success(res)
	}

	if rc.Duplicate {
		f.Warn("already recorded %s on %s", rc.EventID, rc.Day)
	} else {
		f.OK("appended %s on %s", rc.EventID, rc.Day)
	}
	w := f.Writer
	fmt.Fprintf(w, "  event hash:  %s\n", rc.EventHashHex)
	fmt.Fprintf(w, "  chain hash:  %s\n", rc.ChainHashHex)
	fmt.Fprintf(w, "  merkle root: %s\n", rc.MerkleRootHex)
	if len(res.Incomplete) > 0 {
		f.Warn("incomplete: %s", strings.Join(res.Incomplete, ", "))
	}
	return nil
}

func readEvent(inline string, args []string, stdin io.Reader) ([]byte, error) {
	if inline != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("--event and a file argument are mutually exclusive")
		}
		return []byte(inline), nil
	}
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(args[0])
}
