package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/nilsjohansson/lento/internal/engine"
	"github.com/nilsjohansson/lento/internal/request"
	"github.com/nilsjohansson/lento/internal/session"
	"github.com/nilsjohansson/lento/internal/transport"
)

func newTestEngine(t *testing.T, server *httptest.Server) *engine.Engine {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())

	sess := session.New()
	builder := &request.Builder{
		Source:        "lento",
		UserAgent:     "lento-test",
		ClientHeaders: make(http.Header),
		Session:       sess,
	}
	tr := transport.New(nil, 0, nil, nil)
	target := engine.Target{Scheme: u.Scheme, Host: u.Hostname(), Port: port}
	return engine.New(target, builder, tr, sess, nil, nil, time.Millisecond, nil, 0)
}

func TestStream_NextDeliversObjectRowsByDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"q1","columns":[{"name":"a","type":"bigint"}],"data":[[0],[1],[2]]}`))
	}))
	defer server.Close()

	eng := newTestEngine(t, server)
	s := Start(eng, context.Background(), []byte("SELECT 1"))

	var got []any
	for {
		row, ok, err := s.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		m, ok := row.(map[string]any)
		if !ok {
			t.Fatalf("row not an object: %#v", row)
		}
		got = append(got, m["a"])
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
}

func TestStream_RowFormatArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"q1","columns":[{"name":"a","type":"bigint"},{"name":"b","type":"bigint"}],"data":[[1,2]]}`))
	}))
	defer server.Close()

	eng := newTestEngine(t, server)
	s := Start(eng, context.Background(), []byte("SELECT 1"), WithRowFormat(RowFormatArray))

	row, ok, err := s.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	arr, ok := row.([]any)
	if !ok {
		t.Fatalf("row not an array: %#v", row)
	}
	if len(arr) != 2 || arr[0] != 1.0 || arr[1] != 2.0 {
		t.Errorf("row = %#v", arr)
	}
}

func TestStream_NextPageHonorsPageSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"q1","columns":[{"name":"a","type":"bigint"}],"data":[[0],[1],[2],[3],[4]]}`))
	}))
	defer server.Close()

	eng := newTestEngine(t, server)
	s := Start(eng, context.Background(), []byte("SELECT 1"), WithPageSize(2))

	var pages [][]Row
	for {
		page, ok, err := s.NextPage(context.Background())
		if err != nil {
			t.Fatalf("NextPage: %v", err)
		}
		if !ok {
			break
		}
		pages = append(pages, page)
	}
	if len(pages) != 3 {
		t.Fatalf("pages = %d, want 3 (2,2,1)", len(pages))
	}
	if len(pages[0]) != 2 || len(pages[1]) != 2 || len(pages[2]) != 1 {
		t.Errorf("page sizes = %d,%d,%d", len(pages[0]), len(pages[1]), len(pages[2]))
	}
}

func TestStream_ObserverReceivesColumns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"q1","columns":[{"name":"a","type":"bigint"}],"data":[[0]]}`))
	}))
	defer server.Close()

	eng := newTestEngine(t, server)
	var cols []ColumnMeta
	observer := &Observer{OnColumns: func(c []ColumnMeta) { cols = c }}

	s := Start(eng, context.Background(), []byte("SELECT 1"), WithObserver(observer))
	if _, _, err := drainAll(s); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(cols) != 1 || cols[0].Name != "a" {
		t.Errorf("cols = %#v", cols)
	}
}

func TestStream_DestroyIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"q1","columns":[{"name":"a","type":"bigint"}],"data":[[0]]}`))
	}))
	defer server.Close()

	eng := newTestEngine(t, server)
	s := Start(eng, context.Background(), []byte("SELECT 1"))
	s.Destroy(nil)
	s.Destroy(nil) // must not panic or block
}

func drainAll(s *Stream) (n int, last Row, err error) {
	ctx := context.Background()
	for {
		row, ok, rerr := s.Next(ctx)
		if rerr != nil {
			return n, last, rerr
		}
		if !ok {
			return n, last, nil
		}
		n++
		last = row
	}
}
