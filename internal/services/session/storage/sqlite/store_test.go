package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cityofconcourse/concourse/internal/services/session/domain"
	"github.com/cityofconcourse/concourse/internal/services/session/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestPutAndGetSession(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	session := domain.Session{ID: "ses-1", CampaignID: "camp-1"}
	if err := store.PutSession(ctx, session); err != nil {
		t.Fatalf("put session: %v", err)
	}

	got, err := store.GetSession(ctx, "ses-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got != session {
		t.Fatalf("session = %+v, want %+v", got, session)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := openTempStore(t)

	_, err := store.GetSession(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkActiveAndInactive(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if err := store.PutSession(ctx, domain.Session{ID: "ses-1", CampaignID: "camp-1"}); err != nil {
		t.Fatalf("put session: %v", err)
	}
	if err := store.MarkActive(ctx, "ses-1", "ws://node-a/api/v1/sessions/ses-1/join", "node-a"); err != nil {
		t.Fatalf("mark active: %v", err)
	}

	got, err := store.GetSession(ctx, "ses-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !got.Active || got.HostID != "node-a" || got.URL == "" {
		t.Fatalf("session = %+v, expected active on node-a", got)
	}

	if err := store.MarkInactive(ctx, "ses-1"); err != nil {
		t.Fatalf("mark inactive: %v", err)
	}
	got, err = store.GetSession(ctx, "ses-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Active || got.URL != "" || got.HostID != "" {
		t.Fatalf("session = %+v, expected inactive with cleared url and host", got)
	}
}

func TestMarkActiveUnknownSession(t *testing.T) {
	store := openTempStore(t)

	err := store.MarkActive(context.Background(), "missing", "ws://x", "node-a")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReleaseHostOnlyTouchesMatchingHost(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	for _, session := range []struct {
		id   string
		host string
	}{
		{id: "ses-self-1", host: "self"},
		{id: "ses-self-2", host: "self"},
		{id: "ses-other", host: "other-node"},
	} {
		if err := store.PutSession(ctx, domain.Session{ID: session.id, CampaignID: "camp-1"}); err != nil {
			t.Fatalf("put session %s: %v", session.id, err)
		}
		if err := store.MarkActive(ctx, session.id, "ws://"+session.host, session.host); err != nil {
			t.Fatalf("mark active %s: %v", session.id, err)
		}
	}

	released, err := store.ReleaseHost(ctx, "self")
	if err != nil {
		t.Fatalf("release host: %v", err)
	}
	if released != 2 {
		t.Fatalf("released = %d, want 2", released)
	}

	for _, id := range []string{"ses-self-1", "ses-self-2"} {
		got, err := store.GetSession(ctx, id)
		if err != nil {
			t.Fatalf("get session %s: %v", id, err)
		}
		if got.Active || got.URL != "" || got.HostID != "" {
			t.Fatalf("session %s = %+v, expected reconciled inactive", id, got)
		}
	}

	other, err := store.GetSession(ctx, "ses-other")
	if err != nil {
		t.Fatalf("get other session: %v", err)
	}
	if !other.Active || other.HostID != "other-node" {
		t.Fatalf("other session = %+v, expected untouched", other)
	}
}

func TestAppendAndListLogEntries(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	first := domain.LogEntry{
		SessionID:     "ses-1",
		Event:         domain.EventInstantiated,
		Timestamp:     time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC),
		Text:          "Session ses-1 instantiated for campaign camp-1 by user user-1.",
		InvolvedUsers: []string{"user-1"},
	}
	second := domain.LogEntry{
		SessionID:     "ses-1",
		Event:         domain.EventConnection,
		Timestamp:     time.Date(2026, 3, 1, 18, 5, 0, 0, time.UTC),
		Text:          "User user-2 has joined session ses-1",
		InvolvedUsers: []string{"user-2"},
	}
	for _, entry := range []domain.LogEntry{first, second} {
		if err := store.AppendLogEntry(ctx, entry); err != nil {
			t.Fatalf("append log entry: %v", err)
		}
	}

	entries, err := store.ListLogEntries(ctx, "ses-1")
	if err != nil {
		t.Fatalf("list log entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Event != domain.EventInstantiated || entries[1].Event != domain.EventConnection {
		t.Fatalf("entries out of append order: %+v", entries)
	}
	if !entries[0].Timestamp.Equal(first.Timestamp) {
		t.Fatalf("timestamp = %v, want %v", entries[0].Timestamp, first.Timestamp)
	}
	if len(entries[1].InvolvedUsers) != 1 || entries[1].InvolvedUsers[0] != "user-2" {
		t.Fatalf("involved users = %v, want [user-2]", entries[1].InvolvedUsers)
	}
}

func TestAppendLogEntryRejectsUnknownEvent(t *testing.T) {
	store := openTempStore(t)

	err := store.AppendLogEntry(context.Background(), domain.LogEntry{
		SessionID: "ses-1",
		Event:     domain.Event(42),
		Text:      "bogus",
	})
	if err == nil {
		t.Fatal("expected error for unknown event")
	}
}

func TestNilStoreGuards(t *testing.T) {
	var store *Store
	if err := store.PutSession(context.Background(), domain.Session{ID: "s", CampaignID: "c"}); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := store.ReleaseHost(context.Background(), "self"); err == nil {
		t.Fatal("expected error for nil store")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("nil store close should be nil, got %v", err)
	}
}
