package progress

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	_ "modernc.org/sqlite"

	"github.com/jackzampolin/paperbatch/internal/item"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLiteStore keeps an explicit completion table. An item counts as complete
// only while the artifact its row points at still exists.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	layout Layout
}

// Completion is one row of the completion table.
type Completion struct {
	ItemID       string    `json:"item_id"`
	Category     string    `json:"category"`
	ArtifactPath string    `json:"artifact_path"`
	CompletedAt  time.Time `json:"completed_at"`
}

// OpenSQLite initializes or connects to the progress database.
func OpenSQLite(dbPath string, layout Layout) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite progress backend requires a database path")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath, layout: layout}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to rebuild it)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	return retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(busyRetryAttempts),
		retry.Delay(busyRetryInitialBackoff),
		retry.MaxDelay(busyRetryMaxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isSQLiteBusy),
		retry.LastErrorOnly(true),
	)
}

// IsComplete reports whether itemID has a row whose artifact still exists.
// An artifact at the layout path without a row is adopted as complete, so a
// lost marker or a switch from the fs backend never reprocesses an item.
func (s *SQLiteStore) IsComplete(ctx context.Context, itemID string) (bool, error) {
	var artifactPath string
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			"SELECT artifact_path FROM completions WHERE item_id = ?", itemID,
		).Scan(&artifactPath)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return s.adopt(ctx, itemID)
	}
	if err != nil {
		return false, fmt.Errorf("query completion %s: %w", itemID, err)
	}
	return artifactExists(artifactPath)
}

// adopt records a completion for an artifact that exists without a row.
func (s *SQLiteStore) adopt(ctx context.Context, itemID string) (bool, error) {
	path, err := s.layout.PathForID(itemID)
	if err != nil {
		return false, err
	}
	ok, err := artifactExists(path)
	if err != nil || !ok {
		return false, err
	}
	category, _, err := item.ParseID(itemID)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err = retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO completions (item_id, category, artifact_path, completed_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(item_id) DO NOTHING`,
			itemID, category, path, now)
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("adopt completion %s: %w", itemID, err)
	}
	return true, nil
}

// MarkComplete records itemID as completed with its artifact.
func (s *SQLiteStore) MarkComplete(ctx context.Context, itemID, artifactPath string) error {
	category, _, err := item.ParseID(itemID)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err = retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO completions (item_id, category, artifact_path, completed_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(item_id) DO UPDATE SET
				artifact_path = excluded.artifact_path,
				completed_at = excluded.completed_at`,
			itemID, category, artifactPath, now)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("record completion %s: %w", itemID, err)
	}
	return nil
}

// Completions lists the recorded completions of a category in id order.
func (s *SQLiteStore) Completions(ctx context.Context, category string) ([]Completion, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT item_id, category, artifact_path, completed_at FROM completions WHERE category = ? ORDER BY item_id",
		category)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	var out []Completion
	for rows.Next() {
		var c Completion
		var completedAt string
		if err := rows.Scan(&c.ItemID, &c.Category, &c.ArtifactPath, &completedAt); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		c.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
