package session

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("session", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8087" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.StoragePath != "session.db" {
		t.Fatalf("expected default db path, got %q", cfg.StoragePath)
	}
	if cfg.HostID != "" {
		t.Fatalf("expected empty default host id, got %q", cfg.HostID)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("CONCOURSE_SESSION_HTTP_ADDR", "env-addr")
	t.Setenv("CONCOURSE_SESSION_HOST_ID", "env-host")
	t.Setenv("CONCOURSE_SESSION_DB_PATH", "env.db")

	fs := flag.NewFlagSet("session", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-addr",
		"-db-path", "flag.db",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-addr" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.StoragePath != "flag.db" {
		t.Fatalf("expected flag db path, got %q", cfg.StoragePath)
	}
	if cfg.HostID != "env-host" {
		t.Fatalf("expected env host id, got %q", cfg.HostID)
	}
}
