package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/resumeforge/aiqueue/internal/storage"
	"github.com/resumeforge/aiqueue/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

type SQLiteStore struct {
	db *sql.DB
}

func New(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRecord(ctx context.Context, rec *storage.RequestRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_log (
			id, owner_id, kind, priority, status, provider, model,
			input_tokens, output_tokens, total_tokens, cached, error,
			submitted_at, completed_at, duration_ms, attempts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, string(rec.Kind), string(rec.Priority), string(rec.Status),
		rec.Provider, rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.TotalTokens,
		boolToInt(rec.Cached), toNullString(rec.Error),
		rec.SubmittedAt.UnixNano(), rec.CompletedAt.UnixNano(), rec.DurationMs, rec.Attempts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*storage.RequestRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" FROM request_log WHERE id = ?", id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter storage.RecordFilter) ([]*storage.RequestRecord, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var conditions []string
	var args []interface{}

	if filter.OwnerID != nil {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, *filter.OwnerID)
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*filter.Status))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM request_log"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	if filter.Cursor != nil {
		conditions = append(conditions, "completed_at < ?")
		args = append(args, filter.Cursor.UnixNano())
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx,
		selectColumns+" FROM request_log"+where+" ORDER BY completed_at DESC LIMIT ?", args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*storage.RequestRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate records: %w", err)
	}

	return records, total, nil
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM request_log GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

const selectColumns = `SELECT id, owner_id, kind, priority, status, provider, model,
	input_tokens, output_tokens, total_tokens, cached, error,
	submitted_at, completed_at, duration_ms, attempts`

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scannable) (*storage.RequestRecord, error) {
	var rec storage.RequestRecord
	var kind, priority, status string
	var cached int
	var errMsg sql.NullString
	var submittedAt, completedAt int64

	err := row.Scan(
		&rec.ID, &rec.OwnerID, &kind, &priority, &status, &rec.Provider, &rec.Model,
		&rec.InputTokens, &rec.OutputTokens, &rec.TotalTokens, &cached, &errMsg,
		&submittedAt, &completedAt, &rec.DurationMs, &rec.Attempts,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = types.RequestKind(kind)
	rec.Priority = types.Priority(priority)
	rec.Status = types.RecordStatus(status)
	rec.Cached = cached != 0
	if errMsg.Valid {
		rec.Error = &errMsg.String
	}
	rec.SubmittedAt = time.Unix(0, submittedAt)
	rec.CompletedAt = time.Unix(0, completedAt)

	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
