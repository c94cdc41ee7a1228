// Package transport executes single HTTP request/response cycles against
// a Presto/Trino coordinator: keep-alive dispatch, content-encoding
// handling, 307 protocol-preserving redirects, and exponential back-off
// retry of transport-level retryable outcomes.
package transport

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nilsjohansson/lento/internal/backoffutil"
	"github.com/nilsjohansson/lento/internal/metrics"
	"github.com/nilsjohansson/lento/internal/request"
)

const (
	backoffFloor   = 1 * time.Second
	backoffCeiling = 10 * time.Second
)

// Result is a decoded, successful HTTP response.
type Result struct {
	Header http.Header
	Body   map[string]any
}

// Transport is a single long-lived HTTP client shared across a
// statement's requests, reusing one *http.Client for keep-alive pooling.
type Transport struct {
	httpClient    *http.Client
	socketTimeout time.Duration
	logger        *zap.Logger
	metrics       *metrics.Transport
}

// New creates a Transport. httpClient may be nil to use a default client
// with keep-alive enabled. A positive socketTimeout is a deadline on each
// HTTP round trip as a whole, from dispatch through reading the body; it
// is not reset by progress, so it is not an idle timeout. Zero disables it.
func New(httpClient *http.Client, socketTimeout time.Duration, logger *zap.Logger, m *metrics.Transport) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewTransport(nil)
	}
	return &Transport{httpClient: httpClient, socketTimeout: socketTimeout, logger: logger, metrics: m}
}

// Do executes d, following 307 redirects and retrying transport-level
// retryable outcomes against budget, emitting onRetry(delay) before each
// retry. onRetry may be nil.
func (t *Transport) Do(ctx context.Context, d request.Descriptor, budget *backoffutil.Budget, onRetry func(time.Duration)) (*Result, error) {
	boff := backoffutil.New(backoffFloor, backoffCeiling)
	attempt := 0
	correlationID := uuid.NewString()

	for {
		result, err := t.attempt(ctx, d, correlationID)
		if err == nil {
			return result, nil
		}

		var terr *Error
		if !errors.As(err, &terr) || !terr.Retryable {
			return nil, err
		}

		if !budget.Consume() {
			return nil, err
		}

		delay := boff.NextBackOff()
		attempt++
		t.metrics.RetriesTotal.WithLabelValues(terr.Code).Inc()
		t.logger.Warn("transport retry",
			zap.String("correlation_id", correlationID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if onRetry != nil {
			onRetry(delay)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// attempt performs one dispatch, following any 307 redirects inline
// (redirects do not themselves consume retry budget).
func (t *Transport) attempt(ctx context.Context, d request.Descriptor, correlationID string) (*Result, error) {
	for {
		t.metrics.RequestsTotal.Inc()
		t.logger.Debug("transport request",
			zap.String("correlation_id", correlationID),
			zap.String("method", d.Method),
			zap.String("url", d.URL()),
		)

		result, redirectTo, err := t.dispatch(ctx, d)
		if err != nil {
			return nil, err
		}
		if redirectTo == nil {
			return result, nil
		}

		next, rerr := redirectDescriptor(d, redirectTo)
		if rerr != nil {
			return nil, rerr
		}
		d = next
	}
}

// dispatch performs exactly one HTTP round trip. A non-nil redirectTo
// means the caller must re-dispatch at that location; result and
// redirectTo are never both non-nil.
func (t *Transport) dispatch(ctx context.Context, d request.Descriptor) (result *Result, redirectTo *url.URL, err error) {
	reqCtx := ctx
	var cancel context.CancelFunc
	if t.socketTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, t.socketTimeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if d.Body != nil {
		bodyReader = bytes.NewReader(d.Body)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, d.Method, d.URL(), bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header = d.Header.Clone()

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, classifyDoError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTemporaryRedirect {
		loc := resp.Header.Get("Location")
		if loc == "" {
			return nil, nil, statusError(resp.StatusCode, "HTTP 307 redirect missing Location header")
		}
		u, perr := url.Parse(loc)
		if perr != nil || !u.IsAbs() {
			return nil, nil, statusError(resp.StatusCode, "HTTP 307 redirect with invalid Location header")
		}
		if u.Scheme != d.Scheme {
			return nil, nil, statusError(resp.StatusCode, "HTTP 307 redirect protocol switch is not allowed")
		}
		// Drain and close so the underlying connection is released
		// before re-dispatch.
		io.Copy(io.Discard, resp.Body)
		return nil, u, nil
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		io.Copy(io.Discard, resp.Body)
		return nil, nil, &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Retryable: true}
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode != d.ExpectStatusCode {
		return nil, nil, statusFailure(resp, body)
	}

	if d.JSONExpected {
		contentType := resp.Header.Get("Content-Type")
		if !strings.HasPrefix(contentType, "application/json") {
			return nil, nil, statusError(resp.StatusCode, fmt.Sprintf("Unexpected HTTP content type: %s", contentType))
		}

		var decoded map[string]any
		if len(body) > 0 {
			if err := json.Unmarshal(body, &decoded); err != nil {
				return nil, nil, statusError(resp.StatusCode, fmt.Sprintf("invalid JSON response: %s", err))
			}
		}
		return &Result{Header: resp.Header, Body: decoded}, nil, nil
	}

	return &Result{Header: resp.Header}, nil, nil
}

func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, dataError("gzip", err)
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	case "", "identity":
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, dataError(contentEncodingOf(resp), err)
	}
	return body, nil
}

func contentEncodingOf(resp *http.Response) string {
	enc := strings.ToLower(resp.Header.Get("Content-Encoding"))
	if enc == "" {
		return "identity"
	}
	return enc
}

func dataError(encoding string, err error) *Error {
	return &Error{
		Code:    "Z_DATA_ERROR",
		Message: fmt.Sprintf("Unable to decode %s content: %s", encoding, err),
	}
}

// statusFailure builds the fatal error for an unexpected status code,
// preferring a trimmed text/plain body over the standard reason phrase.
func statusFailure(resp *http.Response, body []byte) *Error {
	status := resp.StatusCode
	message := http.StatusText(status)

	if status >= 400 && status < 600 {
		if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
			if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
				message = trimmed
			}
		}
		return &Error{StatusCode: status, Message: message}
	}

	return &Error{StatusCode: status, Message: fmt.Sprintf("Unexpected HTTP status code: %d", status)}
}

// classifyDoError turns an error from (*http.Client).Do into a
// transport.Error, marking the transport-level retryable subset: socket
// timeout, connection refused, connection reset.
func classifyDoError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return retryableError("ETIMEDOUT", "socket timeout")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retryableError("ETIMEDOUT", "socket timeout")
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return retryableError("ECONNREFUSED", "connection refused")
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return retryableError("ECONNRESET", "connection reset")
	}

	return &Error{Message: err.Error()}
}

// redirectDescriptor rebuilds d's host/port/path/query from the 307
// Location, preserving method, body, headers, and the original scheme
// (already validated by the caller).
func redirectDescriptor(d request.Descriptor, location *url.URL) (request.Descriptor, error) {
	next := d
	next.Host = location.Hostname()
	next.Path = location.Path
	next.RawQuery = location.RawQuery

	if p := location.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return request.Descriptor{}, fmt.Errorf("redirect: invalid port %q: %w", p, err)
		}
		next.Port = n
	} else {
		next.Port = 0
	}

	return next, nil
}
