package id

import (
	"strings"
	"testing"
)

func TestNewIDLengthAndCase(t *testing.T) {
	value, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if len(value) != 26 {
		t.Fatalf("expected 26 character id, got %d (%q)", len(value), value)
	}
	if value != strings.ToLower(value) {
		t.Fatalf("expected lowercase id, got %q", value)
	}
	if strings.Contains(value, "=") {
		t.Fatalf("expected unpadded id, got %q", value)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		value, err := NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if _, dup := seen[value]; dup {
			t.Fatalf("duplicate id generated: %q", value)
		}
		seen[value] = struct{}{}
	}
}
