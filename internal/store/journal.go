package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wesm/inboxsweep/internal/gateway"
	"github.com/wesm/inboxsweep/internal/mail"
)

const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
)

// Journal appends commit outcomes for one account. It implements
// gateway.Journal.
type Journal struct {
	store  *Store
	source *Source
	newID  func() string
}

// Journal returns the journal for an account, registering the account as a
// source on first use.
func (s *Store) Journal(ctx context.Context, sourceType, account string) (*Journal, error) {
	src, err := s.GetOrCreateSource(ctx, sourceType, mail.NormalizeAddress(account))
	if err != nil {
		return nil, err
	}
	return &Journal{store: s, source: src, newID: uuid.NewString}, nil
}

// Source returns the account the journal writes for.
func (j *Journal) Source() *Source {
	return j.source
}

// RecordCommit stores one commit with its per-message outcomes.
func (j *Journal) RecordCommit(ctx context.Context, c gateway.Commit) error {
	id := j.newID()
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	var errMsg sql.NullString
	if c.Err != nil {
		errMsg = sql.NullString{String: c.Err.Error(), Valid: true}
	}

	type outcome struct{ id, result string }
	outcomes := make([]outcome, 0, len(c.Succeeded)+len(c.Failed))
	seen := make(map[string]bool, len(c.IDs))
	for _, mid := range c.Succeeded {
		if !seen[mid] {
			seen[mid] = true
			outcomes = append(outcomes, outcome{mid, outcomeSucceeded})
		}
	}
	for _, mid := range c.Failed {
		if !seen[mid] {
			seen[mid] = true
			outcomes = append(outcomes, outcome{mid, outcomeFailed})
		}
	}

	err := j.store.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO commits (id, source_id, mode, requested, succeeded, failed, error_message, committed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id, j.source.ID, string(c.Mode), len(c.IDs), len(c.Succeeded), len(c.Failed), errMsg, formatTime(at))
		if err != nil {
			return fmt.Errorf("insert commit: %w", err)
		}

		rows := make([][]any, len(outcomes))
		for i, o := range outcomes {
			rows[i] = []any{id, o.id, o.result}
		}
		err = insertRows(ctx, tx, `INSERT INTO commit_messages (commit_id, message_id, outcome) VALUES `, rows)
		if err != nil {
			return fmt.Errorf("insert commit messages: %w", err)
		}

		_, err = tx.ExecContext(ctx, `UPDATE sources SET last_commit_at = ? WHERE id = ?`,
			formatTime(at), j.source.ID)
		if err != nil {
			return fmt.Errorf("update source: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record %s commit: %w", c.Mode, err)
	}
	return nil
}

// CommitRecord is one journal row.
type CommitRecord struct {
	ID          string    `json:"id"`
	Account     string    `json:"account"`
	Mode        mail.Mode `json:"mode"`
	Requested   int       `json:"requested"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Error       string    `json:"error,omitempty"`
	CommittedAt time.Time `json:"committedAt"`
}

// ListOptions filters ListCommits.
type ListOptions struct {
	Account string    // empty for all accounts
	Mode    mail.Mode // empty for all modes
	Since   time.Time // zero for no lower bound
	Limit   int       // <= 0 means 50
}

// ListCommits returns commits newest first.
func (s *Store) ListCommits(ctx context.Context, opts ListOptions) ([]*CommitRecord, error) {
	var conds []string
	var args []any
	if opts.Account != "" {
		conds = append(conds, "s.identifier = ?")
		args = append(args, mail.NormalizeAddress(opts.Account))
	}
	if opts.Mode != "" {
		conds = append(conds, "c.mode = ?")
		args = append(args, string(opts.Mode))
	}
	if !opts.Since.IsZero() {
		conds = append(conds, "c.committed_at >= ?")
		args = append(args, formatTime(opts.Since))
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT c.id, s.identifier, c.mode, c.requested, c.succeeded, c.failed,
		       c.error_message, c.committed_at
		FROM commits c
		JOIN sources s ON s.id = c.source_id`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY c.committed_at DESC, c.rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	defer rows.Close()

	records := []*CommitRecord{}
	for rows.Next() {
		var r CommitRecord
		var mode, committedAt string
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.Account, &mode, &r.Requested, &r.Succeeded, &r.Failed,
			&errMsg, &committedAt); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		r.Mode = mail.Mode(mode)
		r.Error = errMsg.String
		r.CommittedAt = parseTime(committedAt)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return records, nil
}

// CommitMessages returns the message ids of a commit split by outcome.
func (s *Store) CommitMessages(ctx context.Context, commitID string) (succeeded, failed []string, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, outcome
		FROM commit_messages
		WHERE commit_id = ?
		ORDER BY rowid
	`, commitID)
	if err != nil {
		return nil, nil, fmt.Errorf("list commit messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, outcome string
		if err := rows.Scan(&id, &outcome); err != nil {
			return nil, nil, fmt.Errorf("scan commit message: %w", err)
		}
		if outcome == outcomeSucceeded {
			succeeded = append(succeeded, id)
		} else {
			failed = append(failed, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate commit messages: %w", err)
	}
	return succeeded, failed, nil
}

var _ gateway.Journal = (*Journal)(nil)
