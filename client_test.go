package lento

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

func TestNew_AppliesDefaults(t *testing.T) {
	c, err := New("presto.example.com")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", c.cfg.Port, DefaultPort)
	}
	if c.cfg.Protocol != DefaultProtocol {
		t.Errorf("Protocol = %q, want %q", c.cfg.Protocol, DefaultProtocol)
	}
	if c.cfg.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", c.cfg.MaxRetries, DefaultMaxRetries)
	}
	if c.cfg.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %s, want %s", c.cfg.PollInterval, DefaultPollInterval)
	}
	if c.cfg.SocketTimeout != DefaultSocketTimeout {
		t.Errorf("SocketTimeout = %s, want %s", c.cfg.SocketTimeout, DefaultSocketTimeout)
	}
}

func TestNew_EmptyHostnameIsInputError(t *testing.T) {
	_, err := New("")
	var ierr *InputError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected *InputError, got %v (%T)", err, err)
	}
	if ierr.Field != "Hostname" {
		t.Errorf("Field = %q, want %q", ierr.Field, "Hostname")
	}
}

func TestNew_RejectsOptionErrors(t *testing.T) {
	cases := []struct {
		name string
		opt  Option
	}{
		{"bad port", WithPort(0)},
		{"bad protocol", WithProtocol("ftp")},
		{"negative retries", WithMaxRetries(-1)},
		{"non-positive poll interval", WithPollInterval(0)},
		{"bad session key", WithSessionProperty("Bad-Key!", "x")},
		{"non-finite session value", WithSessionProperty("query_max_run_time", math.Inf(1))},
		{"wrong session value type", WithSessionProperty("query_max_run_time", []string{"no"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New("presto.example.com", tc.opt)
			var ierr *InputError
			if !errors.As(err, &ierr) {
				t.Fatalf("expected *InputError, got %v (%T)", err, err)
			}
		})
	}
}

func TestQuery_EmptySQLIsInputError(t *testing.T) {
	c, err := New("presto.example.com")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Query(context.Background(), "")
	var ierr *InputError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected *InputError, got %v (%T)", err, err)
	}
}

func TestQuery_RunsAgainstCoordinator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"q1","columns":[{"name":"a","type":"bigint"}],"data":[[1],[2]]}`))
	}))
	defer server.Close()

	c := newClientForServer(t, server)

	s, err := c.Query(context.Background(), "SELECT 1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	var got []any
	for {
		row, ok, err := s.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, row)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
}

func TestNew_SeedsSessionPropertiesIntoRequests(t *testing.T) {
	var sawHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawHeader = r.Header.Get("X-Presto-Session")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"q1"}`))
	}))
	defer server.Close()

	c := newClientForServer(t, server, WithSessionProperty("query_max_run_time", "1h"))
	s, err := c.Query(context.Background(), "SELECT 1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if _, _, err := s.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if sawHeader != "query_max_run_time=1h" {
		t.Errorf("X-Presto-Session = %q, want %q", sawHeader, "query_max_run_time=1h")
	}
}

// newClientForServer builds a Client targeting server, bypassing DNS.
func newClientForServer(t *testing.T, server *httptest.Server, opts ...Option) *Client {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())

	all := append([]Option{WithPort(port), WithProtocol(u.Scheme)}, opts...)
	c, err := New(u.Hostname(), all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}
