package engine

import (
	"context"
	"sync"
)

// pageMsg is one unit handed from the driver goroutine to the Cursor:
// either a non-empty page of rows, end-of-stream, or a terminal error.
// A page is always non-empty — empty responses are absorbed by the
// driver and never produce a pageMsg.
type pageMsg struct {
	rows []Row
	end  bool
	err  error
}

// Cursor is the pull-driven, back-pressured delivery surface for one
// statement. The public stream package wraps it with row/page/RowFormat
// aware ergonomics.
type Cursor struct {
	ctx    context.Context
	cancel context.CancelFunc

	pages chan pageMsg // unbuffered: driver blocks until a pull consumes it
	done  chan struct{}

	h        *handle
	eng      *Engine
	observer *Observer

	finishOnce sync.Once
	final      pageMsg
	term       *pageMsg // consumer-local cache of the terminal message

	// consumer-owned leftover buffers; Next/NextPage are not meant to
	// be called concurrently by multiple goroutines, same as any
	// single-consumer iterator.
	rowBuf  []Row
	pageBuf []Row
}

// Next returns the next row, or ok=false at end of stream (err nil) or
// on error (err non-nil).
func (c *Cursor) Next(ctx context.Context) (row Row, ok bool, err error) {
	for len(c.rowBuf) == 0 {
		msg, received := c.recv(ctx)
		if !received {
			return nil, false, ctx.Err()
		}
		if msg.err != nil {
			return nil, false, msg.err
		}
		if msg.end {
			return nil, false, nil
		}
		c.rowBuf = msg.rows
	}
	row = c.rowBuf[0]
	c.rowBuf = c.rowBuf[1:]
	return row, true, nil
}

// NextPage returns the next page, pre-split to at most pageSize rows (0
// means no splitting), or ok=false at end of stream or on error.
func (c *Cursor) NextPage(ctx context.Context, pageSize int) (page []Row, ok bool, err error) {
	if len(c.pageBuf) > 0 {
		return c.takeChunk(pageSize), true, nil
	}

	msg, received := c.recv(ctx)
	if !received {
		return nil, false, ctx.Err()
	}
	if msg.err != nil {
		return nil, false, msg.err
	}
	if msg.end {
		return nil, false, nil
	}

	c.pageBuf = msg.rows
	return c.takeChunk(pageSize), true, nil
}

func (c *Cursor) takeChunk(pageSize int) []Row {
	if pageSize <= 0 || len(c.pageBuf) <= pageSize {
		chunk := c.pageBuf
		c.pageBuf = nil
		return chunk
	}
	chunk := c.pageBuf[:pageSize]
	c.pageBuf = c.pageBuf[pageSize:]
	return chunk
}

// recv waits for the next message from the driver, honoring both the
// caller's ctx and a cached terminal result from a prior call (Next/
// NextPage remain safely callable after the stream has ended). Terminal
// messages arrive over done rather than pages, so a message delivered
// before the consumer is listening is never lost.
func (c *Cursor) recv(ctx context.Context) (pageMsg, bool) {
	if c.term != nil {
		return *c.term, true
	}
	select {
	case m := <-c.pages:
		return m, true
	case <-c.done:
		c.term = &c.final
		return c.final, true
	case <-ctx.Done():
		return pageMsg{}, false
	}
}

// Destroy is the cancellation entry point. It is idempotent: only the
// first call has any effect.
func (c *Cursor) Destroy(cause error) {
	h := c.h

	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return
	}
	h.destroyed = true
	h.cancelCause = cause

	if !h.upstreamFinished && !h.errored {
		c.eng.metrics.QueriesCancelled.Inc()
	}

	switch {
	case h.upstreamFinished || h.errored:
		// The statement is already done: close synchronously, no DELETE.
		h.mu.Unlock()
		c.cancel()

	case h.queryID != "":
		queryID, scheme, host, port := h.queryID, h.scheme, h.host, h.port
		h.mu.Unlock()
		c.observer.cancel()
		c.cancel() // abort any in-flight request for this statement
		go c.sendCancelDelete(scheme, host, port, queryID, cause)

	case h.inflight:
		// Let the in-flight request complete naturally so its response
		// can reveal the query ID; don't cancel yet.
		h.action = actionCancelWithID
		h.mu.Unlock()

	default:
		h.mu.Unlock()
		c.cancel()
		c.finish(pageMsg{err: composeCancelError(cause, nil)})
	}
}

// sendCancelDelete issues DELETE /v1/query/{id} and finalizes the stream
// with the aggregated cancellation error once it completes.
func (c *Cursor) sendCancelDelete(scheme, host string, port int, queryID string, cause error) {
	desc := c.eng.builder.Cancel(scheme, host, port, queryID)
	_, err := c.eng.transport.Do(context.Background(), desc, c.eng.budgetFor(0), nil)
	c.finish(pageMsg{err: composeCancelError(cause, err)})
}

// finish delivers the driver's terminal message, idempotently. The write
// to final happens-before the close of done, so any recv that wakes
// because of the close observes it safely without extra locking.
func (c *Cursor) finish(msg pageMsg) {
	c.finishOnce.Do(func() {
		c.final = msg
		close(c.done)
	})
}
