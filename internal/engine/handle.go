package engine

import (
	"net/url"
	"sync"
)

// postResponseAction is an explicit state field that tells the driver
// goroutine what to do with the next response it reads, used in place of
// rebinding a completion callback from another goroutine.
type postResponseAction int

const (
	actionDeliver postResponseAction = iota
	actionCancelWithID
	actionDrop
)

// handle is the private per-statement state shared between the driver
// goroutine and the consumer-facing Cursor. It is owned by the driver
// goroutine; Destroy (called from the consumer's goroutine) only ever
// reads/writes the fields below under mu, never the driver's local
// variables.
type handle struct {
	mu sync.Mutex

	queryID      string
	columns      []ColumnMeta
	nextURI      *url.URL
	previousPath string

	// scheme/host/port track where the *last* request landed, so a
	// cancellation DELETE targets the coordinator node currently
	// holding the query rather than the original entry point.
	scheme string
	host   string
	port   int

	upstreamFinished bool
	received         bool
	errored          bool
	inflight         bool

	destroyed   bool
	action      postResponseAction
	cancelCause error
}

// handleSnapshot is a point-in-time, lock-free copy of the handle fields
// the driver and Cursor read (everything but the mutex, nextURI and
// previousPath).
type handleSnapshot struct {
	queryID          string
	columns          []ColumnMeta
	scheme           string
	host             string
	port             int
	upstreamFinished bool
	received         bool
	errored          bool
	inflight         bool
	destroyed        bool
	action           postResponseAction
	cancelCause      error
}

func (h *handle) snapshot() handleSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return handleSnapshot{
		queryID:          h.queryID,
		columns:          h.columns,
		scheme:           h.scheme,
		host:             h.host,
		port:             h.port,
		upstreamFinished: h.upstreamFinished,
		received:         h.received,
		errored:          h.errored,
		inflight:         h.inflight,
		destroyed:        h.destroyed,
		action:           h.action,
		cancelCause:      h.cancelCause,
	}
}

func (h *handle) setInflight(v bool) {
	h.mu.Lock()
	h.inflight = v
	h.mu.Unlock()
}

// completeRequest atomically clears inflight and consumes the pending
// post-response action in one critical section, so a concurrent Destroy
// call can never observe a request as neither inflight nor yet acted on.
func (h *handle) completeRequest() postResponseAction {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inflight = false
	a := h.action
	h.action = actionDeliver
	return a
}

func (h *handle) adoptID(id string) (emitted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id == "" || h.queryID != "" {
		return false
	}
	h.queryID = id
	return true
}

func (h *handle) adoptColumns(cols []ColumnMeta) (emitted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(cols) == 0 || len(h.columns) != 0 {
		return false
	}
	h.columns = cols
	return true
}

func (h *handle) setReceived() {
	h.mu.Lock()
	h.received = true
	h.mu.Unlock()
}

func (h *handle) markFinished() {
	h.mu.Lock()
	h.upstreamFinished = true
	h.mu.Unlock()
}

func (h *handle) markErrored() {
	h.mu.Lock()
	h.errored = true
	h.mu.Unlock()
}

func (h *handle) setNext(nextURI *url.URL, previousPath string) {
	h.mu.Lock()
	h.nextURI = nextURI
	h.previousPath = previousPath
	h.mu.Unlock()
}

func (h *handle) setLocation(scheme, host string, port int) {
	h.mu.Lock()
	h.scheme, h.host, h.port = scheme, host, port
	h.mu.Unlock()
}

// reset clears the handle for a query-level restart, except `received`
// which stays false by construction — restart is only reachable when
// received is already false.
func (h *handle) reset() {
	h.mu.Lock()
	h.queryID = ""
	h.columns = nil
	h.nextURI = nil
	h.previousPath = ""
	h.mu.Unlock()
}

func (h *handle) retryAllowed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.received
}
