package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/logline/internal/httpapi"
)

// shutdownTimeout bounds how long in-flight requests may take after a signal.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr   string
	APIKey string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Start the HTTP API: POST /v1/events appends, the GET routes under /v1
query the index and verify days. /health and /ready are unauthenticated.
When an API key is configured every /v1 request must carry X-API-Key.

Example:
  logline serve --addr 127.0.0.1:8080
  LOGLINE_HTTP_API_KEY=secret logline serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default: http.addr)")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", "", "require this X-API-Key (default: http.api_key)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg := opts.config

	addr := opts.Addr
	if addr == "" {
		addr = cfg.HTTP.Addr
	}
	key := opts.APIKey
	if key == "" {
		key = cfg.HTTP.APIKey
	}

	a, err := opts.open(cmd, f)
	if err != nil {
		return err
	}
	defer closeApp(a)

	q, err := a.RequireQuery()
	if err != nil {
		return f.Fail(ExitCommandError, "serve", err)
	}

	apiOpts := []httpapi.Option{httpapi.WithActor(cfg.Ledger.Actor)}
	if key != "" {
		apiOpts = append(apiOpts, httpapi.WithAPIKey(key))
	}
	if opts.Now != nil {
		apiOpts = append(apiOpts, httpapi.WithNow(opts.Now))
	}
	api := httpapi.New(a.Ledger, q, apiOpts...)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return f.Fail(ExitCommandError, "listen", err)
	}
	srv := &http.Server{
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	slog.Info("http api listening", "addr", ln.Addr().String(), "auth", key != "")
	fmt.Fprintf(f.Writer, "Listening on http://%s\n", ln.Addr())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return f.Fail(ExitFailure, "serve", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down http api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return f.Fail(ExitFailure, "shutdown", err)
	}
	slog.Info("http api stopped gracefully")
	return nil
}
