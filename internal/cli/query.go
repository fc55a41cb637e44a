package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/logline/internal/index"
	"github.com/roach88/logline/internal/query"
)

// RangeOptions holds the --from/--to flags shared by range queries.
type RangeOptions struct {
	From string
	To   string
}

func (r *RangeOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.From, "from", "", "start date (YYYY-MM-DD) or RFC 3339 time (default: start of this month)")
	cmd.Flags().StringVar(&r.To, "to", "", "end date, inclusive, or RFC 3339 time, exclusive (default: one month after --from)")
}

func (r *RangeOptions) resolve(now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	return query.ParseRange(r.From, r.To, now, loc)
}

// AggregateResult is the JSON payload of query aggregate.
type AggregateResult struct {
	Entity string    `json:"entity"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Count  int       `json:"count"`
	Sum    float64   `json:"sum"`
}

// NewQueryCommand creates the query command and its subcommands.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Read events and totals from the index",
		Long: `Query the secondary index. The index is rebuilt from the journal with
"logline reindex" and never affects what the ledger has recorded.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newQueryDayCommand(rootOpts))
	cmd.AddCommand(newQueryRangeCommand(rootOpts))
	cmd.AddCommand(newQueryAggregateCommand(rootOpts))
	cmd.AddCommand(newQueryEntitiesCommand(rootOpts))
	cmd.AddCommand(newQueryEntityCommand(rootOpts))
	cmd.AddCommand(newQuerySearchCommand(rootOpts))
	cmd.AddCommand(newQueryTopCommand(rootOpts))

	return cmd
}

func newQueryDayCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "day <YYYY-MM-DD>",
		Short:         "Events recorded on one day, newest first",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(opts, cmd, func(ctx context.Context, f *OutputFormatter, q *query.Engine) error {
				evs, err := q.EventsForDay(ctx, args[0])
				if err != nil {
					return queryFail(f, err)
				}
				return outputEvents(f, evs, q.Location())
			})
		},
	}
}

func newQueryRangeCommand(opts *RootOptions) *cobra.Command {
	var r RangeOptions
	cmd := &cobra.Command{
		Use:           "range",
		Short:         "Events in a time range, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(opts, cmd, func(ctx context.Context, f *OutputFormatter, q *query.Engine) error {
				start, end, err := r.resolve(opts.now(), q.Location())
				if err != nil {
					return f.Fail(ExitCommandError, "range", err)
				}
				evs, err := q.EventsBetween(ctx, start, end)
				if err != nil {
					return queryFail(f, err)
				}
				return outputEvents(f, evs, q.Location())
			})
		},
	}
	r.bind(cmd)
	return cmd
}

func newQueryAggregateCommand(opts *RootOptions) *cobra.Command {
	var (
		r     RangeOptions
		month string
	)
	cmd := &cobra.Command{
		Use:   "aggregate <entity>",
		Short: "Revenue count and total for one entity",
		Long: `Count and sum the sales and payments of an entity. Defaults to the
current month; --month selects another month and --from/--to any range.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(opts, cmd, func(ctx context.Context, f *OutputFormatter, q *query.Engine) error {
				var (
					start, end time.Time
					err        error
				)
				if month != "" {
					start, end, err = query.ParseMonth(month, q.Location())
				} else {
					start, end, err = r.resolve(opts.now(), q.Location())
				}
				if err != nil {
					return f.Fail(ExitCommandError, "aggregate", err)
				}

				agg, err := q.PurchasesBetween(ctx, args[0], start, end)
				if err != nil {
					return queryFail(f, err)
				}
				res := AggregateResult{Entity: args[0], From: start, To: end, Count: agg.Count, Sum: agg.Sum}
				if f.JSON() {
					return f.Success(res)
				}
				fmt.Fprintf(f.Writer, "%s: %d purchase(s), total %s (%s to %s)\n",
					res.Entity, res.Count, formatValue(res.Sum),
					start.Format(time.DateOnly), end.Add(-time.Nanosecond).Format(time.DateOnly))
				return nil
			})
		},
	}
	r.bind(cmd)
	cmd.Flags().StringVar(&month, "month", "", "month as YYYY-MM (overrides --from/--to)")
	return cmd
}

func newQueryEntitiesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "entities",
		Short:         "All entity names, sorted",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(opts, cmd, func(ctx context.Context, f *OutputFormatter, q *query.Engine) error {
				names, err := q.Entities(ctx)
				if err != nil {
					return queryFail(f, err)
				}
				if f.JSON() {
					return f.Success(names)
				}
				for _, n := range names {
					fmt.Fprintln(f.Writer, n)
				}
				return nil
			})
		},
	}
}

func newQueryEntityCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "entity <name>",
		Short:         "Events that name one entity, newest first",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(opts, cmd, func(ctx context.Context, f *OutputFormatter, q *query.Engine) error {
				evs, err := q.EventsForEntity(ctx, args[0])
				if err != nil {
					return queryFail(f, err)
				}
				return outputEvents(f, evs, q.Location())
			})
		},
	}
}

func newQuerySearchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "search <text>",
		Short:         "Case-insensitive search over entity names, subjects and actions",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(opts, cmd, func(ctx context.Context, f *OutputFormatter, q *query.Engine) error {
				evs, err := q.Search(ctx, args[0])
				if err != nil {
					return queryFail(f, err)
				}
				return outputEvents(f, evs, q.Location())
			})
		},
	}
}

func newQueryTopCommand(opts *RootOptions) *cobra.Command {
	var (
		r     RangeOptions
		limit int
	)
	cmd := &cobra.Command{
		Use:           "top",
		Short:         "Entities ranked by revenue",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(opts, cmd, func(ctx context.Context, f *OutputFormatter, q *query.Engine) error {
				start, end, err := r.resolve(opts.now(), q.Location())
				if err != nil {
					return f.Fail(ExitCommandError, "top", err)
				}
				rows, err := q.TopCustomers(ctx, limit, start, end)
				if err != nil {
					return queryFail(f, err)
				}
				if f.JSON() {
					return f.Success(rows)
				}
				return printTop(f, rows)
			})
		},
	}
	r.bind(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", query.DefaultTopLimit, "number of entities")
	return cmd
}

// withQuery opens the ledger, requires an index and runs fn.
func withQuery(opts *RootOptions, cmd *cobra.Command, fn func(context.Context, *OutputFormatter, *query.Engine) error) error {
	f := opts.formatter(cmd)

	a, err := opts.open(cmd, f)
	if err != nil {
		return err
	}
	defer closeApp(a)

	q, err := a.RequireQuery()
	if err != nil {
		return f.Fail(ExitCommandError, "query", err)
	}
	return fn(commandContext(cmd), f, q)
}

// queryFail maps invalid arguments to a command error and index failures
// to a plain failure.
func queryFail(f *OutputFormatter, err error) error {
	if errors.Is(err, query.ErrInvalid) {
		return f.Fail(ExitCommandError, "query", err)
	}
	return f.Fail(ExitFailure, "query", err)
}

func outputEvents(f *OutputFormatter, evs []index.Event, loc *time.Location) error {
	if f.JSON() {
		return f.Success(evs)
	}
	if len(evs) == 0 {
		f.Warn("no events")
		return nil
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tENTITY\tACTION\tSUBJECT\tVALUE\tPAYMENT\tID")
	for _, ev := range evs {
		value := "-"
		if ev.Value != nil {
			value = formatValue(*ev.Value)
			if ev.Currency != "" {
				value += " " + ev.Currency
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Timestamp.In(loc).Format("2006-01-02 15:04"),
			orDash(ev.EntityName), ev.Action, ev.Subject, value, orDash(ev.Payment), ev.ID)
	}
	return tw.Flush()
}

func printTop(f *OutputFormatter, rows []index.EntityTotal) error {
	if len(rows) == 0 {
		f.Warn("no revenue in range")
		return nil
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tENTITY\tCOUNT\tTOTAL")
	for i, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i+1, r.Name, r.Count, formatValue(r.Sum))
	}
	return tw.Flush()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
