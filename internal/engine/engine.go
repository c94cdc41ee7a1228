// Package engine drives the Presto/Trino HTTP statement protocol: one
// goroutine per statement walks the nextUri chain, classifies transient
// failures for retry or full query restart, and exposes a pull-driven
// Cursor to the public stream package.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/nilsjohansson/lento/internal/backoffutil"
	"github.com/nilsjohansson/lento/internal/metrics"
	"github.com/nilsjohansson/lento/internal/request"
	"github.com/nilsjohansson/lento/internal/session"
	"github.com/nilsjohansson/lento/internal/transport"
)

const (
	queryBackoffFloor   = 1 * time.Second
	queryBackoffCeiling = 5 * time.Minute
)

// Engine is a long-lived, client-scoped driver factory: one Engine backs
// every statement issued by a single client, sharing its HTTP transport,
// request builder, and session store.
type Engine struct {
	target      Target
	builder     *request.Builder
	transport   *transport.Transport
	session     *session.Store
	logger      *zap.Logger
	metrics     *metrics.Engine
	pollWait    time.Duration
	deserialize Deserializer
	maxRetries  int
}

// New creates an Engine. Any of logger, m, deserialize may be nil to get
// the obvious default (no-op logger, private metrics registry,
// DefaultDeserializer).
func New(target Target, builder *request.Builder, tr *transport.Transport, sess *session.Store, logger *zap.Logger, m *metrics.Engine, pollWait time.Duration, deserialize Deserializer, maxRetries int) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewEngine(nil)
	}
	if deserialize == nil {
		deserialize = DefaultDeserializer
	}
	if pollWait <= 0 {
		pollWait = 1 * time.Second
	}
	return &Engine{
		target:      target,
		builder:     builder,
		transport:   tr,
		session:     sess,
		logger:      logger,
		metrics:     m,
		pollWait:    pollWait,
		deserialize: deserialize,
		maxRetries:  maxRetries,
	}
}

// budgetFor returns a fresh retry budget capped at max. Used for the
// cancellation DELETE, which gets its own small, independent allowance.
func (e *Engine) budgetFor(max int) *backoffutil.Budget {
	return backoffutil.NewBudget(max)
}

// Start submits sql as a new statement and returns its Cursor. The
// driver goroutine runs until the stream is fully consumed, errors, or
// is destroyed.
func (e *Engine) Start(ctx context.Context, sql []byte, observer *Observer, opts Options) *Cursor {
	driveCtx, cancel := context.WithCancel(ctx)

	h := &handle{}
	h.setLocation(e.target.Scheme, e.target.Host, e.target.Port)

	c := &Cursor{
		ctx:      driveCtx,
		cancel:   cancel,
		pages:    make(chan pageMsg),
		done:     make(chan struct{}),
		h:        h,
		eng:      e,
		observer: observer,
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = e.maxRetries
	}

	d := &driver{
		eng:       e,
		h:         h,
		c:         c,
		observer:  observer,
		headers:   opts.Headers,
		rowFormat: opts.RowFormat,
		budget:    backoffutil.NewBudget(maxRetries),
	}

	e.metrics.QueriesStarted.Inc()
	go d.run(driveCtx, sql)
	return c
}

// driver holds the goroutine-local state of one statement's lifecycle;
// only this goroutine ever touches it, aside from the handle it shares
// with the Cursor.
type driver struct {
	eng       *Engine
	h         *handle
	c         *Cursor
	observer  *Observer
	headers   http.Header
	rowFormat RowFormat
	budget    *backoffutil.Budget
	sql       []byte

	sawInfo      bool
	lastState    string
	queryBackoff interface{ NextBackOff() time.Duration }
}

func (d *driver) run(ctx context.Context, sql []byte) {
	d.sql = sql
	desc := d.eng.builder.Initial(d.eng.target.Scheme, d.eng.target.Host, d.eng.target.Port, sql, d.headers)
	d.queryBackoff = backoffutil.New(queryBackoffFloor, queryBackoffCeiling)

	for {
		result, stop := d.step(ctx, desc)
		if stop {
			return
		}
		if result.next == nil {
			d.finishUpstream(ctx)
			return
		}
		desc = *result.next
	}
}

// stepResult carries the next descriptor to dispatch, or nil if the
// stream has reached its natural end.
type stepResult struct {
	next *request.Descriptor
}

// step performs exactly one request/response cycle: dispatch, react to
// cancellation, classify Presto-level errors, and deliver any rows.
// stop is true once the driver has finished (delivered a terminal
// message and must not be invoked again).
func (d *driver) step(ctx context.Context, desc request.Descriptor) (res stepResult, stop bool) {
	d.observer.request(desc.Method, desc.URL())
	d.h.setInflight(true)
	d.h.setLocation(desc.Scheme, desc.Host, desc.Port)

	result, err := d.eng.transport.Do(ctx, desc, d.budget, d.observer.retry)
	action := d.h.completeRequest()

	if action == actionDeliver {
		if snap := d.h.snapshot(); snap.destroyed {
			if snap.queryID != "" {
				// Destroy knew the query ID and already sent the DELETE.
				return res, true
			}
			action = actionCancelWithID
		}
	}

	if action == actionCancelWithID {
		d.handleCancelDuringFlight(result)
		return res, true
	}

	if err != nil {
		return d.handleTransportError(ctx, desc, err)
	}

	return d.handleResult(ctx, desc, result)
}

// handleCancelDuringFlight runs when Destroy arrived while a request was
// in flight: it completes using whatever the just-finished response
// revealed, rather than the response the driver was about to process.
func (d *driver) handleCancelDuringFlight(result *transport.Result) {
	snap := d.h.snapshot()
	cause := snap.cancelCause

	id, _ := queryIDOf(result)
	if id == "" {
		id = snap.queryID
	}
	if id == "" {
		d.c.finish(pageMsg{err: composeCancelError(cause, nil)})
		return
	}

	d.observer.cancel()
	desc := d.eng.builder.Cancel(snap.scheme, snap.host, snap.port, id)
	_, delErr := d.eng.transport.Do(context.Background(), desc, d.eng.budgetFor(0), nil)
	d.c.finish(pageMsg{err: composeCancelError(cause, delErr)})
}

// handleTransportError classifies a failed request/response cycle: a
// caller-initiated cancellation is left to the Destroy path that caused
// it, everything else is a fatal stream error.
func (d *driver) handleTransportError(ctx context.Context, desc request.Descriptor, err error) (res stepResult, stop bool) {
	if ctx.Err() != nil && d.h.snapshot().destroyed {
		// Destroy() already owns finishing this stream.
		return res, true
	}
	d.h.markErrored()
	d.eng.metrics.QueriesFailed.Inc()
	d.eng.logger.Warn("statement failed", zap.Error(err))
	d.c.finish(pageMsg{err: err})
	return res, true
}

// handleResult processes a successful HTTP response: session updates,
// protocol metadata, a fatal or transient Presto error, row delivery,
// and the next nextUri transition.
func (d *driver) handleResult(ctx context.Context, desc request.Descriptor, result *transport.Result) (res stepResult, stop bool) {
	if updateType, ok := stringField(result.Body, "updateType"); ok {
		d.eng.session.Apply(result.Header, updateType)
	}

	if id, ok := queryIDOf(result); ok {
		if d.h.adoptID(id) {
			d.observer.id(id)
		}
	}

	if infoURI, ok := stringField(result.Body, "infoUri"); ok && !d.sawInfo {
		d.sawInfo = true
		d.observer.info(infoURI)
	}

	if cols := columnsOf(result.Body); len(cols) > 0 {
		if d.h.adoptColumns(cols) {
			d.observer.columns(cols)
		}
	}

	if stats, ok := statsOf(result.Body); ok {
		d.observer.stats(stats)
		if stats.State != "" && stats.State != d.lastState {
			d.lastState = stats.State
			d.observer.stateChange(stats.State)
		}
	}

	if perr, ok := prestoErrorOf(result.Body); ok {
		return d.handlePrestoError(ctx, perr)
	}

	rows := rowsOf(result.Body, d.h.snapshotColumns(), d.rowFormat, d.eng.deserialize)
	if len(rows) > 0 {
		d.h.setReceived()
		d.observer.rawPageSize(len(rows))
		if !d.deliver(ctx, rows) {
			return res, true
		}
	}

	nextURI, ok, err := nextURIOf(result.Body)
	if err != nil {
		d.h.markErrored()
		d.c.finish(pageMsg{err: err})
		return res, true
	}
	if !ok {
		return stepResult{next: nil}, false
	}

	sameTarget := nextURI.Path == desc.Path
	next := d.eng.builder.Continuation(desc.Scheme, nextURI, d.headers)
	d.h.setNext(nextURI, desc.Path)

	if sameTarget {
		if !d.sleep(ctx, d.eng.pollWait) {
			return res, true
		}
	}

	return stepResult{next: &next}, false
}

// handlePrestoError decides between a full query restart (transient,
// retry budget available, nothing delivered yet) and a fatal stream
// error.
func (d *driver) handlePrestoError(ctx context.Context, perr *PrestoError) (res stepResult, stop bool) {
	if transientPrestoErrors[perr.Code] && d.h.retryAllowed() && d.budget.Consume() {
		delay := d.queryBackoff.NextBackOff()
		d.eng.metrics.QueryRestarts.Inc()
		d.eng.logger.Info("restarting statement after transient error",
			zap.String("code", perr.Code), zap.Duration("delay", delay))
		d.observer.retry(delay)
		d.h.reset()
		d.sawInfo = false
		d.lastState = ""

		if !d.sleep(ctx, delay) {
			return res, true
		}

		restart := d.eng.builder.Initial(d.eng.target.Scheme, d.eng.target.Host, d.eng.target.Port, d.sql, d.headers)
		return stepResult{next: &restart}, false
	}

	d.h.markErrored()
	d.eng.metrics.QueriesFailed.Inc()
	d.c.finish(pageMsg{err: perr})
	return res, true
}

// deliver sends rows to the Cursor, respecting both the driving context
// and a destroy that arrives while blocked on send. Returns false if the
// stream is now finished and the caller must stop.
func (d *driver) deliver(ctx context.Context, rows []Row) bool {
	select {
	case d.c.pages <- pageMsg{rows: rows}:
		return true
	case <-ctx.Done():
		if snap := d.h.snapshot(); !snap.destroyed {
			d.c.finish(pageMsg{err: ctx.Err()})
		}
		return false
	}
}

// sleep waits out delay, returning false if the stream ended first.
func (d *driver) sleep(ctx context.Context, delay time.Duration) bool {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		if snap := d.h.snapshot(); !snap.destroyed {
			d.c.finish(pageMsg{err: ctx.Err()})
		}
		return false
	}
}

// finishUpstream marks the statement done and delivers end-of-stream,
// unless a concurrent Destroy has already claimed the terminal message.
func (d *driver) finishUpstream(ctx context.Context) {
	d.h.markFinished()
	d.c.finish(pageMsg{end: true})
}

func (h *handle) snapshotColumns() []ColumnMeta {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.columns
}

// --- response field extraction ---

func stringField(body map[string]any, key string) (string, bool) {
	v, ok := body[key].(string)
	return v, ok && v != ""
}

func queryIDOf(result *transport.Result) (string, bool) {
	if result == nil {
		return "", false
	}
	return stringField(result.Body, "id")
}

func columnsOf(body map[string]any) []ColumnMeta {
	raw, ok := body["columns"].([]any)
	if !ok {
		return nil
	}
	cols := make([]ColumnMeta, 0, len(raw))
	for _, c := range raw {
		m, ok := c.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		typ, _ := m["type"].(string)
		cols = append(cols, ColumnMeta{Name: name, Type: typ})
	}
	return cols
}

func statsOf(body map[string]any) (Stats, bool) {
	raw, ok := body["stats"].(map[string]any)
	if !ok {
		return Stats{}, false
	}
	state, _ := raw["state"].(string)
	return Stats{State: state, Raw: raw}, true
}

func prestoErrorOf(body map[string]any) (*PrestoError, bool) {
	raw, ok := body["error"].(map[string]any)
	if !ok {
		return nil, false
	}
	code, _ := raw["errorName"].(string)
	typ, _ := raw["errorType"].(string)
	message, _ := raw["message"].(string)
	return &PrestoError{Code: code, Type: typ, Message: message, Info: raw["failureInfo"]}, true
}

func nextURIOf(body map[string]any) (*url.URL, bool, error) {
	raw, ok := stringField(body, "nextUri")
	if !ok {
		return nil, false, nil
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return nil, false, fmt.Errorf("Presto sent invalid nextUri: %s", raw)
	}
	return u, true, nil
}

func rowsOf(body map[string]any, columns []ColumnMeta, format RowFormat, deserialize Deserializer) []Row {
	raw, ok := body["data"].([]any)
	if !ok || len(raw) == 0 {
		return nil
	}

	rows := make([]Row, 0, len(raw))
	for _, r := range raw {
		values, ok := r.([]any)
		if !ok {
			continue
		}
		rows = append(rows, buildRow(values, columns, format, deserialize))
	}
	return rows
}

func buildRow(values []any, columns []ColumnMeta, format RowFormat, deserialize Deserializer) Row {
	for i, v := range values {
		if i < len(columns) {
			values[i] = deserialize(columns[i].Type, v)
		}
	}

	if format == RowFormatArray || len(columns) == 0 {
		return values
	}

	obj := make(map[string]any, len(values))
	for i, v := range values {
		if i < len(columns) {
			obj[columns[i].Name] = v
		}
	}
	return obj
}
