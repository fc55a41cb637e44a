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

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/roach88/logline/internal/mcpserver"
)

// MCPOptions holds flags for the mcp command.
type MCPOptions struct {
	*RootOptions
	Transport string
	Addr      string
}

// NewMCPCommand creates the mcp command.
func NewMCPCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MCPOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the ledger as MCP tools",
		Long: `Expose append_event, the query tools and verify_day to an MCP client.
The default transport is stdio; --transport http serves the streamable HTTP
transport on --addr.

Example:
  logline mcp
  logline mcp --transport http --addr 127.0.0.1:8081`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Transport, "transport", "stdio", "transport (stdio|http)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8081", "listen address for --transport http")

	return cmd
}

func runMCP(opts *MCPOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	if opts.Transport != "stdio" && opts.Transport != "http" {
		return f.Fail(ExitCommandError, "mcp", fmt.Errorf("unknown transport %q (use stdio or http)", opts.Transport))
	}

	a, err := opts.open(cmd, f)
	if err != nil {
		return err
	}
	defer closeApp(a)

	q, err := a.RequireQuery()
	if err != nil {
		return f.Fail(ExitCommandError, "mcp", err)
	}

	srv := mcpserver.New(&mcpserver.Tools{
		Ledger: a.Ledger,
		Query:  q,
		Actor:  opts.config.Ledger.Actor,
		Now:    opts.Now,
	})

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Transport == "stdio" {
		// stdout carries the protocol; everything else goes to stderr.
		slog.Info("mcp server starting", "transport", "stdio")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return f.Fail(ExitFailure, "mcp", err)
		}
		return nil
	}
	return serveMCPHTTP(ctx, f, srv, opts.Addr)
}

func serveMCPHTTP(ctx context.Context, f *OutputFormatter, srv *mcp.Server, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return srv
	}, nil)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return f.Fail(ExitCommandError, "listen", err)
	}
	hs := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- hs.Serve(ln)
	}()
	slog.Info("mcp server listening", "transport", "http", "addr", ln.Addr().String())
	fmt.Fprintf(f.Writer, "MCP listening on http://%s\n", ln.Addr())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return f.Fail(ExitFailure, "mcp", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return f.Fail(ExitFailure, "shutdown", err)
	}
	slog.Info("mcp server stopped gracefully")
	return nil
}
