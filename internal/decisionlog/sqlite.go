// Package decisionlog keeps an append-only audit trail of every
// completed evaluation in a local SQLite database.
package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gouthelper-server/internal/domain"
)

// Entry is one recorded evaluation outcome.
type Entry struct {
	ID          int64     `json:"id"`
	SubjectID   string    `json:"subject_id"`
	Kind        string    `json:"kind"`
	Outcome     string    `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Export is the envelope for a JSON export of the log.
type Export struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Entries    []*Entry  `json:"entries"`
}

const (
	kindAki = "aki_classification"
	kindPpx = "ppx_decision"
)

// SQLiteLog implements domain.DecisionLogger using SQLite.
type SQLiteLog struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteLog opens (creating if needed) the decision log database.
func NewSQLiteLog(dbPath string) (*SQLiteLog, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteLog{db: db, dbPath: dbPath}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT DEFAULT '',
		evaluated_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_subject ON decisions(subject_id);
	CREATE INDEX IF NOT EXISTS idx_decisions_kind ON decisions(kind);
	CREATE INDEX IF NOT EXISTS idx_decisions_evaluated_at ON decisions(evaluated_at);
	`

	_, err := db.Exec(schema)
	return err
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (*Entry, error) {
	entry := &Entry{}
	err := s.Scan(&entry.ID, &entry.SubjectID, &entry.Kind, &entry.Outcome,
		&entry.Detail, &entry.EvaluatedAt, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (l *SQLiteLog) insert(ctx context.Context, subjectID uuid.UUID, kind, outcome, detail string, evaluatedAt time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO decisions (subject_id, kind, outcome, detail, evaluated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, subjectID.String(), kind, outcome, detail, evaluatedAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// LogAkiClassification records one AKI status classification.
func (l *SQLiteLog) LogAkiClassification(ctx context.Context, subjectID uuid.UUID, status domain.AkiStatus, evaluatedAt time.Time) error {
	return l.insert(ctx, subjectID, kindAki, string(status), "", evaluatedAt)
}

// LogPpxDecision records one prophylaxis evaluation with its
// intermediate classifications serialized as the detail payload.
func (l *SQLiteLog) LogPpxDecision(ctx context.Context, decision *domain.PpxDecision) error {
	detail, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	return l.insert(ctx, decision.SubjectID, kindPpx, decision.Indication.String(), string(detail), decision.EvaluatedAt)
}

// List returns entries for a subject, newest first, with pagination.
func (l *SQLiteLog) List(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, subject_id, kind, outcome, detail, evaluated_at, created_at
		FROM decisions
		WHERE subject_id = ?
		ORDER BY evaluated_at DESC
		LIMIT ? OFFSET ?
	`, subjectID.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

// Count returns the total number of recorded decisions.
func (l *SQLiteLog) Count(ctx context.Context) (int64, error) {
	var count int64
	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM decisions").Scan(&count)
	return count, err
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// ExportJSON writes the whole log as indented JSON.
func (l *SQLiteLog) ExportJSON(ctx context.Context, writer io.Writer) error {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, subject_id, kind, outcome, detail, evaluated_at, created_at
		FROM decisions
		ORDER BY evaluated_at DESC
		LIMIT ?
	`, maxExportLimit)
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var all []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		all = append(all, entry)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	export := &Export{
		Version:    "1.0",
		ExportedAt: time.Now(),
		Count:      len(all),
		Entries:    all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// Close closes the log and releases resources.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
