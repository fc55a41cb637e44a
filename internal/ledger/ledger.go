package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/logline/internal/authn"
	"github.com/roach88/logline/internal/canon"
	"github.com/roach88/logline/internal/errs"
	"github.com/roach88/logline/internal/index"
	"github.com/roach88/logline/internal/journal"
)

// EventIDPrefix starts every generated event id.
const EventIDPrefix = "evt:"

// Journal is the durable storage the ledger writes through.
// *journal.Dir implements it.
type Journal interface {
	Append(day string, r *journal.Record) error
	Repair(day string) (int64, error)
	Records(day string) ([]journal.Record, error)
	Scan(day string, fn func(journal.Record) error) error
	Days() ([]string, error)
	ReadManifest(day string) (*journal.Manifest, error)
	WriteManifest(m *journal.Manifest) error
}

// Validator checks a canonical payload before it is hashed.
// *schema.Validator implements it.
type Validator interface {
	Validate(payload []byte) error
}

// Receipt is returned for every append. It never changes once issued.
type Receipt struct {
	EventID       string `json:"eventId"`
	Day           string `json:"day"`
	EventHashHex  string `json:"eventHashHex"`
	ChainHashHex  string `json:"chainHashHex"`
	MerkleRootHex string `json:"merkleRootHex"`

	// Duplicate is set when the id had already been appended and nothing
	// was written.
	Duplicate bool `json:"duplicate,omitempty"`
}

// State is a read-only snapshot of the active day.
type State struct {
	Day           string `json:"day"`
	Leaves        int    `json:"leaves"`
	LastChainHex  string `json:"lastChainHex"`
	MerkleRootHex string `json:"merkleRootHex"`
}

// Ledger appends canonical events to the journal and keeps the per-day hash
// chain. It is safe for concurrent use; appends are serialized.
type Ledger struct {
	journal   Journal
	auth      *authn.Authenticator
	index     index.Index
	validator Validator
	clock     Clock
	loc       *time.Location
	newID     func() (string, error)

	mu    sync.Mutex
	state *chainState

	indexFailures  atomic.Int64
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	inst           instruments
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithIndex sets the secondary index upserted after every append.
func WithIndex(idx index.Index) Option {
	return func(l *Ledger) { l.index = idx }
}

// WithValidator checks every payload against a schema before hashing.
func WithValidator(v Validator) Option {
	return func(l *Ledger) { l.validator = v }
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithLocation sets the time zone day keys are computed in.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithIDGenerator replaces the event id generator.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(l *Ledger) { l.newID = fn }
}

// WithTracerProvider sets where append, verify and reindex spans go.
// The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Ledger) { l.tracerProvider = tp }
}

// WithMeterProvider sets where the ledger counters are recorded.
// The global provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(l *Ledger) { l.meterProvider = mp }
}

// New returns a Ledger writing to j and hashing with auth.
// No state is loaded until the first append.
func New(j Journal, auth *authn.Authenticator, opts ...Option) *Ledger {
	l := &Ledger{
		journal: j,
		auth:    auth,
		clock:   SystemClock{},
		loc:     time.Local,
		newID:   newEventID,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.inst = newInstruments(l.tracerProvider, l.meterProvider)
	return l
}

func newEventID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return EventIDPrefix + id.String(), nil
}

// Location returns the time zone of day keys.
func (l *Ledger) Location() *time.Location { return l.loc }

// Index returns the configured secondary index, or nil.
func (l *Ledger) Index() index.Index { return l.index }

// IndexFailures returns how many synchronous index upserts failed.
func (l *Ledger) IndexFailures() int64 { return l.indexFailures.Load() }

// Append records c with a generated id.
func (l *Ledger) Append(ctx context.Context, c *canon.Canonical, originalText, actor string) (Receipt, error) {
	return l.AppendWithID(ctx, "", c, originalText, actor)
}

// AppendWithID records c under a caller-chosen id. When id was already
// appended today the original receipt is returned and nothing is written,
// which makes retries safe. An empty id generates one.
func (l *Ledger) AppendWithID(ctx context.Context, id string, c *canon.Canonical, originalText, actor string) (Receipt, error) {
	ctx, span := l.inst.tracer.Start(ctx, "ledger.Append")
	defer span.End()

	rc, err := l.append(ctx, id, c, originalText, actor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if l.inst.appendErrors != nil {
			l.inst.appendErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", string(errs.CodeOf(err)))))
		}
		return Receipt{}, err
	}

	span.SetAttributes(
		attribute.String("event_id", rc.EventID),
		attribute.String("day", rc.Day),
		attribute.Bool("duplicate", rc.Duplicate),
	)
	if l.inst.appends != nil && !rc.Duplicate {
		l.inst.appends.Add(ctx, 1)
	}
	return rc, nil
}

func (l *Ledger) append(ctx context.Context, id string, c *canon.Canonical, originalText, actor string) (Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now().UTC().Truncate(time.Millisecond)
	day := DayKey(now, l.loc)

	st, err := l.activate(day)
	if err != nil {
		return Receipt{}, err
	}

	if id != "" {
		if i, ok := st.seen[id]; ok {
			slog.Info("duplicate event id, returning original receipt", "day", day, "event_id", id)
			return l.receiptAt(st, i)
		}
	} else {
		id, err = l.newID()
		if err != nil {
			return Receipt{}, errs.New(errs.CodeEncoding, "append", err).WithDay(day)
		}
	}

	if c == nil {
		return Receipt{}, errs.New(errs.CodeEncoding, "append", canon.ErrNilEvent).WithDay(day).WithEvent(id)
	}
	payload, err := canon.EncodeEvent(c)
	if err != nil {
		return Receipt{}, errs.New(errs.CodeEncoding, "append", err).WithDay(day).WithEvent(id)
	}
	if l.validator != nil {
		if err := l.validator.Validate(payload); err != nil {
			return Receipt{}, errs.New(errs.CodeEncoding, "append", err).WithDay(day).WithEvent(id)
		}
	}

	row, err := l.auth.Authenticate(payload)
	if err != nil {
		return Receipt{}, annotate(err, day, id)
	}
	chain, err := l.auth.Chain(st.prev, row)
	if err != nil {
		return Receipt{}, annotate(err, day, id)
	}

	before := st.mark()
	st.push(id, row, chain)

	rec := &journal.Record{
		ID:        id,
		Timestamp: now,
		Actor:     actor,
		Canonical: payload,
		Attrs: journal.Attrs{
			OriginalText: originalText,
			Temporal:     c.TemporalHint(),
			Location:     c.LocationHint(),
		},
		RowHash:   hex.EncodeToString(row),
		ChainHash: hex.EncodeToString(chain),
	}
	if be := c.PrimaryEvent(); be != nil {
		rec.Action = string(be.Action)
		rec.Subject = be.Subject
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		rec.TraceID = sc.TraceID().String()
		rec.SpanID = sc.SpanID().String()
	}

	if err := l.journal.Append(day, rec); err != nil {
		st.rollback(before)
		if errors.Is(err, journal.ErrRollbackFailed) {
			// The line may still be on disk. Reload the day on the next
			// append so the chain folds whatever the segment holds.
			slog.Error("journal rollback failed, reloading day", "day", day, "event_id", id, "error", err)
			l.state = nil
		}
		return Receipt{}, errs.New(errs.CodeLogWrite, "append", err).WithDay(day).WithEvent(id)
	}

	root := st.root()
	l.upsertIndex(ctx, index.Project(id, now, day, c))
	l.persistManifest(st)

	return Receipt{
		EventID:       id,
		Day:           day,
		EventHashHex:  rec.RowHash,
		ChainHashHex:  rec.ChainHash,
		MerkleRootHex: hex.EncodeToString(root),
	}, nil
}

// activate returns the state for day, rolling over when the day changed.
func (l *Ledger) activate(day string) (*chainState, error) {
	if l.state != nil && l.state.day == day {
		return l.state, nil
	}
	st, err := l.loadOrInit(day)
	if err != nil {
		return nil, err
	}
	if l.state != nil {
		slog.Info("day rollover, starting new chain", "from", l.state.day, "to", day, "leaves", len(st.leaves))
	}
	l.state = st
	return st, nil
}

func (l *Ledger) receiptAt(st *chainState, i int) (Receipt, error) {
	chain, err := l.chainAt(st, i)
	if err != nil {
		return Receipt{}, annotate(err, st.day, st.ids[i])
	}
	root := st.root()
	if i < len(st.leaves)-1 {
		root = rootOf(st.leaves[:i+1])
	}
	return Receipt{
		EventID:       st.ids[i],
		Day:           st.day,
		EventHashHex:  hex.EncodeToString(st.leaves[i]),
		ChainHashHex:  hex.EncodeToString(chain),
		MerkleRootHex: hex.EncodeToString(root),
		Duplicate:     true,
	}, nil
}

func (l *Ledger) upsertIndex(ctx context.Context, ev index.Event) {
	if l.index == nil {
		return
	}
	if err := l.index.Upsert(ctx, ev); err != nil {
		l.indexFailures.Add(1)
		if l.inst.indexFailures != nil {
			l.inst.indexFailures.Add(ctx, 1)
		}
		slog.Warn("index upsert failed, replay to repair", "day", ev.Day, "event_id", ev.ID, "error", err)
	}
}

func (l *Ledger) persistManifest(st *chainState) {
	if err := l.journal.WriteManifest(st.manifest()); err != nil {
		slog.Warn("manifest write failed, state recoverable from segment",
			"day", st.day, "error", errs.New(errs.CodeManifest, "write_manifest", err))
	}
}

// State returns a snapshot of the active day, loading it if needed.
func (l *Ledger) State() (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.activate(DayKey(l.clock.Now(), l.loc))
	if err != nil {
		return State{}, err
	}
	return State{
		Day:           st.day,
		Leaves:        len(st.leaves),
		LastChainHex:  hex.EncodeToString(st.prev),
		MerkleRootHex: hex.EncodeToString(st.root()),
	}, nil
}

// Manifest reads the manifest of day.
func (l *Ledger) Manifest(day string) (*journal.Manifest, error) {
	m, err := l.journal.ReadManifest(day)
	if err != nil {
		if errors.Is(err, journal.ErrNoManifest) {
			return nil, err
		}
		return nil, errs.New(errs.CodeManifest, "read_manifest", err).WithDay(day)
	}
	return m, nil
}

// spanDay annotates the current span with a day attribute.
func spanDay(span trace.Span, day string) {
	span.SetAttributes(attribute.String("day", day))
}
