// Package stream is the caller-facing, pull-driven row/page delivery
// surface for one statement. It is a thin, ergonomic wrapper around
// internal/engine's Cursor: nothing here participates in the protocol
// state machine.
package stream

import (
	"context"
	"net/http"

	"github.com/nilsjohansson/lento/internal/engine"
)

// RowFormat selects the shape of emitted rows.
type RowFormat = engine.RowFormat

const (
	// RowFormatObject emits rows as map[string]any keyed by column name.
	RowFormatObject = engine.RowFormatObject
	// RowFormatArray emits rows as []any aligned with the statement's
	// columns (as reported to Observer.OnColumns).
	RowFormatArray = engine.RowFormatArray
)

// Row is either []any or map[string]any, depending on RowFormat.
type Row = engine.Row

// ColumnMeta describes one result column.
type ColumnMeta = engine.ColumnMeta

// Stats is the coordinator's reported query progress.
type Stats = engine.Stats

// Observer is the closed set of optional callbacks a caller may
// register to observe protocol events. Register it with WithObserver.
type Observer = engine.Observer

type config struct {
	engine.Options
	observer *Observer
	pageSize int
}

// Option configures a Stream at Start time.
type Option func(*config)

// WithObserver registers callbacks for protocol events on this
// statement. Callbacks run synchronously and must not block or call back
// into the Stream. All of them run on the engine's driver goroutine,
// except OnCancel, which may also run on the goroutine that calls
// Destroy.
func WithObserver(o *Observer) Option {
	return func(c *config) { c.observer = o }
}

// WithHeaders adds per-statement HTTP headers, overriding any
// client-level header of the same name.
func WithHeaders(h http.Header) Option {
	return func(c *config) { c.Headers = h }
}

// WithRowFormat selects the row shape. The default is RowFormatObject.
func WithRowFormat(f RowFormat) Option {
	return func(c *config) { c.RowFormat = f }
}

// WithMaxRetries overrides the client's default retry budget for this
// statement only. Zero means "not overridden" and leaves the client's
// default in place; zero retries are configured at the client level with
// lento.WithMaxRetries(0).
func WithMaxRetries(n int) Option {
	return func(c *config) { c.MaxRetries = n }
}

// WithPageSize bounds how many rows NextPage returns at a time. Zero (the
// default) returns whatever page the coordinator sent, unsplit.
func WithPageSize(n int) Option {
	return func(c *config) { c.pageSize = n }
}

// Stream is the pull-driven, back-pressured delivery surface for one
// statement's rows.
type Stream struct {
	cursor   *engine.Cursor
	pageSize int
}

// Start submits sql as a new statement on eng and returns its Stream.
func Start(eng *engine.Engine, ctx context.Context, sql []byte, opts ...Option) *Stream {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	cursor := eng.Start(ctx, sql, cfg.observer, cfg.Options)
	return &Stream{cursor: cursor, pageSize: cfg.pageSize}
}

// Next returns the next row, or ok=false at end of stream (err nil) or
// on a terminal error (err non-nil). Safe to call again after ok=false;
// it keeps returning the same terminal outcome.
func (s *Stream) Next(ctx context.Context) (row Row, ok bool, err error) {
	return s.cursor.Next(ctx)
}

// NextPage returns the next page of rows, pre-split to the WithPageSize
// bound if one was configured, or ok=false at end of stream or error.
func (s *Stream) NextPage(ctx context.Context) (page []Row, ok bool, err error) {
	return s.cursor.NextPage(ctx, s.pageSize)
}

// Destroy cancels the statement. It is idempotent and safe to call
// whether or not the stream has already finished; cause becomes (part
// of) the error subsequently returned by Next/NextPage, or
// engine.ErrCancelled if nil.
func (s *Stream) Destroy(cause error) {
	s.cursor.Destroy(cause)
}
