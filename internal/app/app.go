// Package app assembles a ledger, its index and its query engine from a
// resolved configuration. Every entry point (CLI, HTTP, MCP) goes through
// Open so they all agree on where data lives.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/logline/internal/authn"
	"github.com/roach88/logline/internal/config"
	"github.com/roach88/logline/internal/export"
	"github.com/roach88/logline/internal/index"
	"github.com/roach88/logline/internal/journal"
	"github.com/roach88/logline/internal/keystore"
	"github.com/roach88/logline/internal/ledger"
	"github.com/roach88/logline/internal/query"
	"github.com/roach88/logline/internal/schema"
)

// App is an opened ledger with everything around it.
type App struct {
	Config   *config.Config
	Location *time.Location
	Keys     keystore.Store
	Journal  *journal.Dir
	Index    index.Index // nil when the index driver is "none"
	Ledger   *ledger.Ledger
	Query    *query.Engine
}

// Option adjusts the ledger built by Open.
type Option = ledger.Option

// Open validates cfg and builds the ledger stack. Extra ledger options
// are applied last.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var fopts []keystore.FileOption
	if cfg.KeyStore.Passphrase != "" {
		fopts = append(fopts, keystore.WithPassphrase(cfg.KeyStore.Passphrase))
	}
	keys := keystore.NewFileStore(cfg.KeyDir(), fopts...)

	dir, err := journal.Open(cfg.LedgerDir())
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	idx, err := OpenIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}

	v, err := schema.New()
	if err != nil {
		closeIndex(idx)
		return nil, fmt.Errorf("load event schema: %w", err)
	}

	lopts := []ledger.Option{
		ledger.WithLocation(loc),
		ledger.WithValidator(v),
	}
	if idx != nil {
		lopts = append(lopts, ledger.WithIndex(idx))
	}
	l := ledger.New(dir, authn.New(keys, cfg.Ledger.KeyName), append(lopts, opts...)...)

	a := &App{
		Config:   cfg,
		Location: loc,
		Keys:     keys,
		Journal:  dir,
		Index:    idx,
		Ledger:   l,
	}
	if idx != nil {
		a.Query = query.New(idx, loc)
	}
	slog.Debug("ledger opened", "dir", cfg.LedgerDir(), "index", cfg.Index.Driver, "timezone", loc.String())
	return a, nil
}

// OpenIndex opens the configured index backend, wrapped in an async
// worker when index.async is set. It returns nil for the "none" driver.
func OpenIndex(ctx context.Context, cfg *config.Config) (index.Index, error) {
	var (
		backend index.Index
		err     error
	)
	switch cfg.Index.Driver {
	case config.DriverNone:
		return nil, nil
	case config.DriverSQLite:
		backend, err = index.OpenSQLite(cfg.IndexPath())
	case config.DriverPostgres:
		backend, err = index.OpenPostgres(ctx, cfg.Index.DSN)
	default:
		return nil, fmt.Errorf("unknown index driver %q", cfg.Index.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s index: %w", cfg.Index.Driver, err)
	}

	if cfg.Index.Async {
		var wopts []index.WorkerOption
		if cfg.Index.QueueSize > 0 {
			wopts = append(wopts, index.WithQueueCapacity(cfg.Index.QueueSize))
		}
		return index.NewWorker(context.Background(), backend, wopts...), nil
	}
	return backend, nil
}

// ErrNoIndex is returned by operations that need the index when the
// index driver is "none".
var ErrNoIndex = errors.New("index disabled (index.driver: none)")

// RequireQuery returns the query engine, or ErrNoIndex.
func (a *App) RequireQuery() (*query.Engine, error) {
	if a.Query == nil {
		return nil, ErrNoIndex
	}
	return a.Query, nil
}

// Exporter builds an exporter, redacting entity names when redact is set.
func (a *App) Exporter(redact bool) (*export.Exporter, error) {
	if !redact {
		return export.New(), nil
	}
	r, err := export.NewRedactor(a.Keys)
	if err != nil {
		return nil, err
	}
	return export.New(export.WithRedactor(r)), nil
}

// Close flushes and closes the index.
func (a *App) Close() error {
	if a.Index == nil {
		return nil
	}
	return a.Index.Close()
}

func closeIndex(idx index.Index) {
	if idx == nil {
		return
	}
	if err := idx.Close(); err != nil {
		slog.Warn("closing index", "error", err)
	}
}
