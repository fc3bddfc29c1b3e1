// Package store provides the SQLite commit journal for inboxsweep.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/wesm/inboxsweep/internal/fileutil"
	"github.com/wesm/inboxsweep/internal/mail"
)

//go:embed schema.sql
var schemaSQL string

// Store provides database operations for the journal.
type Store struct {
	db     *sql.DB
	dbPath string
}

const sqliteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// timeLayout is how timestamps are stored. Fixed width keeps text ordering
// chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// isConstraintError reports whether err is a SQLite constraint violation,
// such as a UNIQUE conflict from a concurrent insert.
func isConstraintError(err error) bool {
	var value sqlite3.Error
	if errors.As(err, &value) {
		return value.Code == sqlite3.ErrConstraint
	}
	var ptr *sqlite3.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code == sqlite3.ErrConstraint
	}
	return false
}

// Open opens the journal database and applies the schema, creating its
// directory with owner-only permissions.
func Open(dbPath string) (*Store, error) {
	if err := fileutil.MkdirPrivate(filepath.Dir(dbPath)); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+sqliteParams)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal %s: %w", dbPath, err)
	}
	st := &Store{db: db, dbPath: dbPath}
	if err := st.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema creates the journal tables if they do not exist.
func (s *Store) InitSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("init journal schema: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// maxParams stays under SQLite's default host parameter limit of 999.
const maxParams = 900

// insertRows runs "prefix (?, ?, ...), (...)" over rows, splitting the
// statement so no single INSERT binds more than maxParams values. Every row
// must have the same width.
func insertRows(ctx context.Context, tx *sql.Tx, prefix string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	width := len(rows[0])
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", width), ", ") + ")"
	perStmt := max(maxParams/width, 1)

	for chunk := range slices.Chunk(rows, perStmt) {
		tuples := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*width)
		for i, row := range chunk {
			tuples[i] = tuple
			args = append(args, row...)
		}
		if _, err := tx.ExecContext(ctx, prefix+strings.Join(tuples, ", "), args...); err != nil {
			return err
		}
	}
	return nil
}

// Stats summarises the journal.
type Stats struct {
	SourceCount  int64
	CommitCount  int64
	MessageCount int64
	Deleted      int64
	Archived     int64
	Unsubscribed int64
	DatabaseSize int64
}

// GetStats returns journal totals. Per-mode totals count messages whose
// commit succeeded.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sources),
			(SELECT COUNT(*) FROM commits),
			(SELECT COUNT(*) FROM commit_messages)
	`).Scan(&stats.SourceCount, &stats.CommitCount, &stats.MessageCount)
	if err != nil {
		return nil, fmt.Errorf("count journal rows: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT mode, COALESCE(SUM(succeeded), 0) FROM commits GROUP BY mode
	`)
	if err != nil {
		return nil, fmt.Errorf("sum commits by mode: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mode string
		var n int64
		if err := rows.Scan(&mode, &n); err != nil {
			return nil, fmt.Errorf("scan mode total: %w", err)
		}
		switch mail.Mode(mode) {
		case mail.ModeDelete:
			stats.Deleted = n
		case mail.ModeArchive:
			stats.Archived = n
		case mail.ModeUnsubscribe:
			stats.Unsubscribed = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sum commits by mode: %w", err)
	}

	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}
