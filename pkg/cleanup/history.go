package cleanup

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zots0127/tempstore/pkg/types"
)

// HistoryStore appends sweep reports to a SQLite file so operators can
// audit past cleanups. Writes are best-effort: a history failure never
// fails the sweep that produced the report.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore opens (creating if needed) the history database
func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	store := &HistoryStore{db: db}
	if err := store.initTables(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initTables creates the cleanup_runs table
func (h *HistoryStore) initTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cleanup_runs (
		cleanup_id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL,
		files_scanned INTEGER NOT NULL DEFAULT 0,
		files_deleted INTEGER NOT NULL DEFAULT 0,
		bytes_reclaimed INTEGER NOT NULL DEFAULT 0,
		policy_applied TEXT NOT NULL DEFAULT '',
		dry_run BOOLEAN NOT NULL DEFAULT FALSE,
		errors TEXT, -- newline-separated per-file failure messages
		summary TEXT -- JSON CleanupSummary
	);

	CREATE INDEX IF NOT EXISTS idx_cleanup_runs_started_at ON cleanup_runs(started_at);
	`

	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create history tables: %w", err)
	}
	return nil
}

// Record appends one sweep report
func (h *HistoryStore) Record(result *types.CleanupResult) error {
	summary, err := json.Marshal(result.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	_, err = h.db.Exec(`
		INSERT INTO cleanup_runs
			(cleanup_id, started_at, completed_at, files_scanned, files_deleted,
			 bytes_reclaimed, policy_applied, dry_run, errors, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.CleanupID, result.StartedAt, result.CompletedAt,
		result.FilesScanned, result.FilesDeleted, result.BytesReclaimed,
		result.PolicyApplied, result.DryRun,
		strings.Join(result.Errors, "\n"), string(summary))
	if err != nil {
		return fmt.Errorf("failed to insert cleanup run: %w", err)
	}
	return nil
}

// Recent returns up to limit sweep reports, newest first
func (h *HistoryStore) Recent(limit int) ([]*types.CleanupResult, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := h.db.Query(`
		SELECT cleanup_id, started_at, completed_at, files_scanned, files_deleted,
		       bytes_reclaimed, policy_applied, dry_run, errors, summary
		FROM cleanup_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cleanup runs: %w", err)
	}
	defer rows.Close()

	var results []*types.CleanupResult
	for rows.Next() {
		var (
			r          types.CleanupResult
			startedAt  time.Time
			errorsText sql.NullString
			summary    sql.NullString
		)
		if err := rows.Scan(&r.CleanupID, &startedAt, &r.CompletedAt, &r.FilesScanned,
			&r.FilesDeleted, &r.BytesReclaimed, &r.PolicyApplied, &r.DryRun,
			&errorsText, &summary); err != nil {
			return nil, fmt.Errorf("failed to scan cleanup run: %w", err)
		}
		r.StartedAt = startedAt
		if errorsText.Valid && errorsText.String != "" {
			r.Errors = strings.Split(errorsText.String, "\n")
		}
		if summary.Valid && summary.String != "" {
			if err := json.Unmarshal([]byte(summary.String), &r.Summary); err != nil {
				return nil, fmt.Errorf("failed to decode summary for %s: %w", r.CleanupID, err)
			}
		}
		results = append(results, &r)
	}

	return results, rows.Err()
}

// Close releases the database handle
func (h *HistoryStore) Close() error {
	return h.db.Close()
}
