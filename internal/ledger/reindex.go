package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/logline/internal/canon"
	"github.com/roach88/logline/internal/errs"
	"github.com/roach88/logline/internal/index"
	"github.com/roach88/logline/internal/journal"
)

// flusher is implemented by asynchronous indexes such as *index.Worker.
type flusher interface {
	Flush(ctx context.Context) error
}

// Reindex replays every segment, oldest day first, into the index and
// returns the number of records applied. Replaying is idempotent.
func (l *Ledger) Reindex(ctx context.Context) (int, error) {
	ctx, span := l.inst.tracer.Start(ctx, "ledger.Reindex")
	defer span.End()

	if l.index == nil {
		return 0, errs.Newf(errs.CodeIndex, "reindex", "no index configured")
	}

	days, err := l.journal.Days()
	if err != nil {
		return 0, errs.New(errs.CodeIndex, "reindex", err)
	}

	n := 0
	for _, day := range days {
		err := l.journal.Scan(day, func(r journal.Record) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := canon.DecodeEvent(r.Canonical)
			if err != nil {
				return errs.New(errs.CodeEncoding, "reindex", err).WithDay(day).WithEvent(r.ID)
			}
			if err := l.index.Upsert(ctx, index.Project(r.ID, r.Timestamp, day, c)); err != nil {
				return err
			}
			n++
			return nil
		})
		if err != nil {
			return n, fmt.Errorf("reindex %s: %w", day, err)
		}
		slog.Debug("reindexed day", "day", day)
	}

	if f, ok := l.index.(flusher); ok {
		if err := f.Flush(ctx); err != nil {
			return n, err
		}
	}
	slog.Info("reindex complete", "days", len(days), "records", n)
	return n, nil
}
