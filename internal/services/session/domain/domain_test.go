package domain

import (
	"reflect"
	"testing"
	"time"
)

func TestNewSessionValidation(t *testing.T) {
	if _, err := NewSession("", "camp-1"); err != ErrEmptySessionID {
		t.Fatalf("err = %v, want ErrEmptySessionID", err)
	}
	if _, err := NewSession("ses-1", "  "); err != ErrEmptyCampaignID {
		t.Fatalf("err = %v, want ErrEmptyCampaignID", err)
	}

	session, err := NewSession(" ses-1 ", "camp-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if session.ID != "ses-1" || session.CampaignID != "camp-1" {
		t.Fatalf("session = %+v, expected trimmed ids", session)
	}
	if session.Active {
		t.Fatal("new session should be inactive")
	}
}

func TestDefaultGameProperties(t *testing.T) {
	props := DefaultGameProperties()
	if props.GameSpeed != 1 {
		t.Fatalf("game speed = %v, want 1", props.GameSpeed)
	}
	if props.GraceTime != 30*time.Second {
		t.Fatalf("grace time = %v, want 30s", props.GraceTime)
	}
}

func TestEventValidity(t *testing.T) {
	for _, event := range []Event{EventInstantiated, EventStarted, EventConnection, EventDisconnect, EventEnded} {
		if !event.IsValid() {
			t.Fatalf("event %v should be valid", event)
		}
	}
	if Event(99).IsValid() {
		t.Fatal("event 99 should not be valid")
	}
	if Event(99).String() != "UNKNOWN" {
		t.Fatalf("event 99 name = %q, want UNKNOWN", Event(99).String())
	}
}

func TestCharacterInstanceVariants(t *testing.T) {
	persisted := NewPersistedInstance("inst-1", map[string]any{"hp": 10})
	if !persisted.Persisted() {
		t.Fatal("expected persisted instance")
	}
	if got, ok := persisted.InstanceID(); !ok || got != "inst-1" {
		t.Fatalf("instance id = %q ok=%v, want inst-1 true", got, ok)
	}

	transient := NewTransientInstance(map[string]any{"hp": 4})
	if transient.Persisted() {
		t.Fatal("expected transient instance")
	}
	if _, ok := transient.InstanceID(); ok {
		t.Fatal("transient instance should not expose an instance id")
	}
}

func TestFlattenAttributesCollapsesConflicts(t *testing.T) {
	got := FlattenAttributes([]Attribute{
		{Name: "hp", Value: 10},
		{Name: "speed", Value: 6},
		{Name: "hp", Value: 12},
		{Name: "hp", Value: 14},
	}, map[string]any{"speed": 8, "stance": "guarded"})

	want := map[string]any{
		"hp":     []any{10, 12, 14},
		"speed":  []any{6, 8},
		"stance": "guarded",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("flattened = %#v, want %#v", got, want)
	}
}
