// Package request builds immutable HTTP request descriptors for the
// Presto statement protocol from client configuration, per-statement
// overrides, and session state. Descriptors are passed by value across
// the engine/transport boundary so neither side mutates the other's view
// of an in-flight request.
package request

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/nilsjohansson/lento/internal/session"
)

// Descriptor is a prepared HTTP request, independent of any particular
// transport. Re-dispatch after a 307 redirect mutates a copy of this
// struct's Host/Port/Path/RawQuery, never the original.
type Descriptor struct {
	Method           string
	Scheme           string
	Host             string
	Port             int
	Path             string
	RawQuery         string
	Header           http.Header
	Body             []byte
	ExpectStatusCode int
	JSONExpected     bool
}

// URL renders the descriptor's target as an absolute URL string.
func (d Descriptor) URL() string {
	u := url.URL{
		Scheme:   d.Scheme,
		Host:     d.hostport(),
		Path:     d.Path,
		RawQuery: d.RawQuery,
	}
	return u.String()
}

func (d Descriptor) hostport() string {
	if d.Port == 0 {
		return d.Host
	}
	return d.Host + ":" + strconv.Itoa(d.Port)
}

// Identity carries the optional identity/context headers from client
// configuration.
type Identity struct {
	User               string
	Catalog            string
	Schema             string
	Timezone           string
	ParametricDatetime bool
}

// Builder composes Descriptors for the three request shapes the protocol
// needs: the initial POST, a GET continuation of nextUri, and the DELETE
// cancellation.
type Builder struct {
	Identity      Identity
	Source        string
	UserAgent     string
	ClientHeaders http.Header // caller-supplied, client-level
	Session       *session.Store
}

// Initial builds `POST /v1/statement` for a new statement.
func (b *Builder) Initial(scheme, host string, port int, sql []byte, perRequestHeaders http.Header) Descriptor {
	h := b.protocolHeaders(true)
	mergeHeaders(h, b.ClientHeaders)
	mergeHeaders(h, perRequestHeaders)
	stripSessionHeaderIfNotPOST(h, "POST")

	return Descriptor{
		Method:           "POST",
		Scheme:           scheme,
		Host:             host,
		Port:             port,
		Path:             "/v1/statement",
		Header:           h,
		Body:             sql,
		ExpectStatusCode: http.StatusOK,
		JSONExpected:     true,
	}
}

// Continuation builds the `GET <nextUri>` request for the next protocol
// frame. scheme is the original statement's scheme — a nextUri with a
// different scheme is honored for host/port/path only.
func (b *Builder) Continuation(scheme string, nextURI *url.URL, perRequestHeaders http.Header) Descriptor {
	port := 0
	if p := nextURI.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	} else {
		port = defaultPort(scheme)
	}

	h := b.protocolHeaders(false)
	mergeHeaders(h, b.ClientHeaders)
	mergeHeaders(h, perRequestHeaders)
	stripSessionHeaderIfNotPOST(h, "GET")

	return Descriptor{
		Method:           "GET",
		Scheme:           scheme,
		Host:             nextURI.Hostname(),
		Port:             port,
		Path:             nextURI.Path,
		RawQuery:         nextURI.RawQuery,
		Header:           h,
		ExpectStatusCode: http.StatusOK,
		JSONExpected:     true,
	}
}

// Cancel builds `DELETE /v1/query/{queryID}`.
func (b *Builder) Cancel(scheme, host string, port int, queryID string) Descriptor {
	h := b.protocolHeaders(false)
	mergeHeaders(h, b.ClientHeaders)
	stripSessionHeaderIfNotPOST(h, "DELETE")

	return Descriptor{
		Method:           "DELETE",
		Scheme:           scheme,
		Host:             host,
		Port:             port,
		Path:             "/v1/query/" + queryID,
		Header:           h,
		ExpectStatusCode: http.StatusNoContent,
	}
}

func (b *Builder) protocolHeaders(isPost bool) http.Header {
	h := make(http.Header)
	h.Set("X-Presto-Source", b.Source)
	h.Set("User-Agent", b.UserAgent)
	h.Set("Connection", "keep-alive")
	h.Set("Accept-Encoding", "gzip, deflate, identity")
	h.Set("Accept", "application/json")

	if b.Identity.Catalog != "" {
		h.Set("X-Presto-Catalog", b.Identity.Catalog)
	}
	if b.Identity.Schema != "" {
		h.Set("X-Presto-Schema", b.Identity.Schema)
	}
	if b.Identity.Timezone != "" {
		h.Set("X-Presto-Time-Zone", b.Identity.Timezone)
	}
	if b.Identity.User != "" {
		h.Set("X-Presto-User", b.Identity.User)
	}
	if b.Identity.ParametricDatetime {
		h.Set("X-Presto-Client-Capabilities", "PARAMETRIC_DATETIME")
	}

	if isPost && b.Session != nil {
		if serialized, ok := b.Session.Serialize(); ok {
			h.Set("X-Presto-Session", serialized)
		}
	}

	return h
}

// mergeHeaders overrides dst with every key in src, case-insensitively.
func mergeHeaders(dst, src http.Header) {
	for key, values := range src {
		if len(values) == 0 {
			continue
		}
		dst.Set(key, values[0])
		for _, v := range values[1:] {
			dst.Add(key, v)
		}
	}
}

// stripSessionHeaderIfNotPOST drops x-presto-session from non-POST
// requests, even if a caller-supplied header override tried to set it.
func stripSessionHeaderIfNotPOST(h http.Header, method string) {
	if method != "POST" {
		h.Del("X-Presto-Session")
	}
}

func defaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}
