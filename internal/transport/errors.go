package transport

import "fmt"

// Error is a transport-level failure: a network error, an HTTP status the
// caller did not expect, or a protocol violation (redirect-protocol-switch,
// invalid location, unexpected content type, JSON decode failure).
//
//	var terr *transport.Error
//	if errors.As(err, &terr) {
//		fmt.Println(terr.Code, terr.StatusCode)
//	}
type Error struct {
	// Code is a short machine-readable reason, e.g. ETIMEDOUT,
	// ECONNREFUSED, ECONNRESET, Z_DATA_ERROR. Empty for plain HTTP
	// status failures, which are identified by StatusCode instead.
	Code string
	// StatusCode is the HTTP status that caused the failure, or 0 if
	// the failure occurred before a status line was read.
	StatusCode int
	// Message is the human-readable reason: the trimmed text/plain
	// body, the standard reason phrase, or a protocol violation
	// description.
	Message string
	// Retryable reports whether Do should retry this outcome against its
	// budget rather than returning it immediately.
	Retryable bool
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.StatusCode != 0 {
		return e.Message
	}
	return "transport error"
}

func retryableError(code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: true}
}

func statusError(status int, message string) *Error {
	return &Error{StatusCode: status, Message: message}
}
