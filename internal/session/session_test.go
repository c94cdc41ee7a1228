package session

import (
	"net/http"
	"testing"
)

func headerWith(key, value string) http.Header {
	h := make(http.Header)
	h.Set(key, value)
	return h
}

func TestStore_SetThenSerialize(t *testing.T) {
	s := New()
	s.Apply(headerWith(setSessionHeader, "query_max_run_time=1h"), "SET SESSION")

	got, ok := s.Serialize()
	if !ok {
		t.Fatal("expected ok, store should be non-empty")
	}
	if want := "query_max_run_time=1h"; got != want {
		t.Errorf("Serialize() = %q, want %q", got, want)
	}
}

func TestStore_EmptySerializeIsAbsent(t *testing.T) {
	s := New()
	if _, ok := s.Serialize(); ok {
		t.Fatal("expected ok=false for empty store")
	}
}

func TestStore_InsertionOrderPreserved(t *testing.T) {
	s := New()
	s.Apply(headerWith(setSessionHeader, "b=2"), "SET SESSION")
	s.Apply(headerWith(setSessionHeader, "a=1"), "SET SESSION")
	s.Apply(headerWith(setSessionHeader, "c=3"), "SET SESSION")

	got, _ := s.Serialize()
	if want := "b=2,a=1,c=3"; got != want {
		t.Errorf("Serialize() = %q, want %q", got, want)
	}
}

func TestStore_OverwriteKeepsOriginalPosition(t *testing.T) {
	s := New()
	s.Apply(headerWith(setSessionHeader, "a=1"), "SET SESSION")
	s.Apply(headerWith(setSessionHeader, "b=2"), "SET SESSION")
	s.Apply(headerWith(setSessionHeader, "a=9"), "SET SESSION")

	got, _ := s.Serialize()
	if want := "a=9,b=2"; got != want {
		t.Errorf("Serialize() = %q, want %q", got, want)
	}
}

func TestStore_ResetRemovesKey(t *testing.T) {
	s := New()
	s.Apply(headerWith(setSessionHeader, "a=1"), "SET SESSION")
	s.Apply(headerWith(setSessionHeader, "b=2"), "SET SESSION")
	s.Apply(headerWith(clearSessionHeader, "a"), "RESET SESSION")

	got, _ := s.Serialize()
	if want := "b=2"; got != want {
		t.Errorf("Serialize() = %q, want %q", got, want)
	}
}

func TestStore_IgnoresOtherUpdateTypes(t *testing.T) {
	s := New()
	s.Apply(headerWith(setSessionHeader, "a=1"), "")
	if _, ok := s.Serialize(); ok {
		t.Fatal("expected no-op for unrecognized updateType")
	}
}
