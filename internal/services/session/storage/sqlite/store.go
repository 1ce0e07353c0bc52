// Package sqlite provides a SQLite-backed session storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/cityofconcourse/concourse/internal/platform/storage/sqlitemigrate"
	"github.com/cityofconcourse/concourse/internal/services/session/domain"
	"github.com/cityofconcourse/concourse/internal/services/session/storage"
	"github.com/cityofconcourse/concourse/internal/services/session/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339Nano

// Store persists session records and audit log entries in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite session store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutSession inserts or replaces a session record.
func (s *Store) PutSession(ctx context.Context, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(session.CampaignID) == "" {
		return fmt.Errorf("campaign id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (id, campaign_id, active, url, host_id)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    campaign_id = excluded.campaign_id,
    active = excluded.active,
    url = excluded.url,
    host_id = excluded.host_id
`, session.ID, session.CampaignID, boolToInt(session.Active), session.URL, session.HostID)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession fetches a session record by ID.
func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Session{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Session{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT id, campaign_id, active, url, host_id FROM sessions WHERE id = ?", id)

	var session domain.Session
	var active int
	if err := row.Scan(&session.ID, &session.CampaignID, &active, &session.URL, &session.HostID); err != nil {
		if err == sql.ErrNoRows {
			return domain.Session{}, storage.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}
	session.Active = active != 0
	return session, nil
}

// MarkActive records where the session's live hub is reachable.
func (s *Store) MarkActive(ctx context.Context, id, url, hostID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(hostID) == "" {
		return fmt.Errorf("host id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE sessions SET active = 1, url = ?, host_id = ? WHERE id = ?", url, hostID, id)
	if err != nil {
		return fmt.Errorf("mark session active: %w", err)
	}
	return requireRow(result)
}

// MarkInactive clears the active flag, url, and host of a session.
func (s *Store) MarkInactive(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("session id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE sessions SET active = 0, url = '', host_id = '' WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark session inactive: %w", err)
	}
	return requireRow(result)
}

// ReleaseHost marks every session claiming the given host as inactive.
func (s *Store) ReleaseHost(ctx context.Context, hostID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	hostID = strings.TrimSpace(hostID)
	if hostID == "" {
		return 0, fmt.Errorf("host id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE sessions SET active = 0, url = '', host_id = '' WHERE active = 1 AND host_id = ?", hostID)
	if err != nil {
		return 0, fmt.Errorf("release host sessions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count released sessions: %w", err)
	}
	return int(affected), nil
}

// AppendLogEntry appends one audit log record for a session.
func (s *Store) AppendLogEntry(ctx context.Context, entry domain.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(entry.SessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if !entry.Event.IsValid() {
		return fmt.Errorf("unknown log event %d", entry.Event)
	}
	logTime := entry.Timestamp
	if logTime.IsZero() {
		logTime = time.Now().UTC()
	}

	users := entry.InvolvedUsers
	if users == nil {
		users = []string{}
	}
	involved, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("marshal involved users: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO session_log (session_id, event, log_time, entry, involved_users)
VALUES (?, ?, ?, ?, ?)
`, entry.SessionID, int(entry.Event), logTime.UTC().Format(timeFormat), entry.Text, string(involved))
	if err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

// ListLogEntries returns a session's audit log in append order.
func (s *Store) ListLogEntries(ctx context.Context, sessionID string) ([]domain.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT session_id, event, log_time, entry, involved_users
FROM session_log WHERE session_id = ? ORDER BY seq
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var entry domain.LogEntry
		var event int
		var logTime string
		var involved string
		if err := rows.Scan(&entry.SessionID, &event, &logTime, &entry.Text, &involved); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entry.Event = domain.Event(event)
		entry.Timestamp, err = time.Parse(timeFormat, logTime)
		if err != nil {
			return nil, fmt.Errorf("parse log time: %w", err)
		}
		if err := json.Unmarshal([]byte(involved), &entry.InvolvedUsers); err != nil {
			return nil, fmt.Errorf("unmarshal involved users: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log entries: %w", err)
	}
	return entries, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("count affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

var _ storage.SessionStore = (*Store)(nil)
var _ storage.LogStore = (*Store)(nil)
