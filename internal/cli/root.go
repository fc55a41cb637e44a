package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/logline/internal/app"
	"github.com/roach88/logline/internal/config"
	"github.com/roach88/logline/internal/ledger"
	"github.com/roach88/logline/internal/telemetry"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	DataDir    string

	// EnvFiles are loaded into the environment before the config is resolved.
	EnvFiles []string

	// LedgerOptions are applied when a command opens the ledger (for testing).
	LedgerOptions []ledger.Option

	// Now defaults query ranges; nil means time.Now (for testing).
	Now func() time.Time

	config            *config.Config
	shutdownTelemetry telemetry.Shutdown
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the logline CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{EnvFiles: []string{".env"}})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logline",
		Short: "logline - tamper-evident business event ledger",
		Long: `An append-only ledger of business events.

Every event is canonically encoded, authenticated with a keyed hash,
chained to the previous event of the same day and written to a daily
NDJSON segment. Per-day manifests record the chain head and Merkle root
so any day can be verified offline. A rebuildable index answers queries.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.resolveConfig(cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to logline.yaml")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "data directory (overrides config and LOGLINE_DATA_DIR)")

	cmd.AddCommand(NewAppendCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewReindexCommand(opts))
	cmd.AddCommand(NewManifestCommand(opts))
	cmd.AddCommand(NewProofCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMCPCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code.
// Errors not already reported by a command are printed to stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := &RootOptions{EnvFiles: []string{".env"}}
	return execute(ctx, newRootCommand(opts), opts, args, stdout, stderr)
}

func execute(ctx context.Context, cmd *cobra.Command, opts *RootOptions, args []string, stdout, stderr io.Writer) int {
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	opts.flushTelemetry()
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if !exitErr.reported {
			color.New(color.FgRed).Fprintf(stderr, "Error: %v\n", err)
		}
		return exitErr.Code
	}
	// Flag and argument errors from cobra itself.
	color.New(color.FgRed).Fprintf(stderr, "Error: %v\n", err)
	return ExitCommandError
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// resolveConfig loads .env files, the config file and environment, applies
// flag overrides and installs the default logger.
func (o *RootOptions) resolveConfig(cmd *cobra.Command) error {
	if err := config.LoadEnvFiles(o.EnvFiles...); err != nil {
		return WrapExitError(ExitCommandError, "load env", err)
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	slog.SetDefault(cfg.NewLogger(cmd.ErrOrStderr(), o.Verbose))

	shutdown, err := telemetry.Init(cfg.Telemetry, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "init telemetry", err)
	}
	o.shutdownTelemetry = shutdown
	o.config = cfg
	return nil
}

// flushTelemetry exports what the command recorded and uninstalls the
// providers. Safe to call when none were installed.
func (o *RootOptions) flushTelemetry() {
	if o.shutdownTelemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.shutdownTelemetry(ctx); err != nil {
		slog.Warn("telemetry shutdown", "error", err)
	}
	o.shutdownTelemetry = nil
}

// Config returns the resolved configuration. Only valid inside RunE.
func (o *RootOptions) Config() *config.Config { return o.config }

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// open opens the ledger stack. The caller closes the returned App.
func (o *RootOptions) open(cmd *cobra.Command, f *OutputFormatter) (*app.App, error) {
	a, err := app.Open(commandContext(cmd), o.config, o.LedgerOptions...)
	if err != nil {
		return nil, f.Fail(ExitCommandError, "open ledger", err)
	}
	f.VerboseLog("ledger %s (index: %s, timezone: %s)", o.config.LedgerDir(), o.config.Index.Driver, a.Location)
	return a, nil
}

func (o *RootOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		slog.Error("error closing index", "error", err)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
