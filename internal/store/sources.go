package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Source is a mail account the journal has recorded commits for.
type Source struct {
	ID           int64
	SourceType   string // "gmail" or "imap"
	Identifier   string // account address
	CreatedAt    time.Time
	LastCommitAt sql.NullTime
}

const sourceColumns = `id, source_type, identifier, created_at, last_commit_at`

func scanSource(sc interface{ Scan(...any) error }) (*Source, error) {
	var src Source
	var createdAt string
	var lastCommitAt sql.NullString
	if err := sc.Scan(&src.ID, &src.SourceType, &src.Identifier, &createdAt, &lastCommitAt); err != nil {
		return nil, err
	}
	src.CreatedAt = parseTime(createdAt)
	if lastCommitAt.Valid {
		src.LastCommitAt = sql.NullTime{Time: parseTime(lastCommitAt.String), Valid: true}
	}
	return &src, nil
}

// GetOrCreateSource gets or creates a source by type and identifier.
func (s *Store) GetOrCreateSource(ctx context.Context, sourceType, identifier string) (*Source, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE source_type = ? AND identifier = ?
	`, sourceType, identifier)
	src, err := scanSource(row)
	if err == nil {
		return src, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get source: %w", err)
	}

	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (source_type, identifier, created_at)
		VALUES (?, ?, ?)
	`, sourceType, identifier, formatTime(now))
	if isConstraintError(err) {
		// Another process registered the account first.
		row := s.db.QueryRowContext(ctx, `
			SELECT `+sourceColumns+`
			FROM sources
			WHERE source_type = ? AND identifier = ?
		`, sourceType, identifier)
		return scanSource(row)
	}
	if err != nil {
		return nil, fmt.Errorf("insert source: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert source: %w", err)
	}
	return &Source{ID: id, SourceType: sourceType, Identifier: identifier, CreatedAt: now.UTC()}, nil
}

// ListSources returns all sources ordered by identifier, optionally filtered
// by source type. Pass an empty string to return all sources.
func (s *Store) ListSources(ctx context.Context, sourceType string) ([]*Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources`
	var args []any
	if sourceType != "" {
		query += ` WHERE source_type = ?`
		args = append(args, sourceType)
	}
	query += ` ORDER BY identifier`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return sources, nil
}
