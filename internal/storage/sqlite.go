package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS request_audit (
  token        TEXT PRIMARY KEY,
  endpoint     TEXT NOT NULL,
  remote_addr  TEXT,
  status       INTEGER NOT NULL,
  started_at   TEXT NOT NULL,
  completed_at TEXT NOT NULL,
  duration_ms  INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS request_audit_endpoint_started_at_idx ON request_audit(endpoint, started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

// AuditRecord is one completed request as written to request_audit.
type AuditRecord struct {
	Token       string    `json:"token"`
	Endpoint    string    `json:"endpoint"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	Status      int       `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// AuditLog writes and reads the per-request audit trail.
type AuditLog struct {
	db *sql.DB
}

// NewAuditLog wraps an open database.
func NewAuditLog(db *sql.DB) *AuditLog {
	return &AuditLog{db: db}
}

// Record inserts one completed request.
func (a *AuditLog) Record(ctx context.Context, rec AuditRecord) error {
	if rec.Token == "" {
		return fmt.Errorf("audit record has no token")
	}
	durationMS := rec.CompletedAt.Sub(rec.StartedAt).Milliseconds()
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO request_audit (token, endpoint, remote_addr, status, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.Token, rec.Endpoint, rec.RemoteAddr, rec.Status,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.CompletedAt.UTC().Format(time.RFC3339Nano),
		durationMS)
	if err != nil {
		return fmt.Errorf("record request audit: %w", err)
	}
	return nil
}

// Recent returns the most recently completed requests, newest first.
func (a *AuditLog) Recent(ctx context.Context, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT token, endpoint, remote_addr, status, started_at, completed_at
		 FROM request_audit ORDER BY completed_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query request audit: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var started, completed string
		if err := rows.Scan(&rec.Token, &rec.Endpoint, &rec.RemoteAddr, &rec.Status, &started, &completed); err != nil {
			return nil, fmt.Errorf("scan request audit: %w", err)
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if rec.CompletedAt, err = time.Parse(time.RFC3339Nano, completed); err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
