package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLStore implements Store on database/sql. It supports SQLite and
// PostgreSQL backends, selected by dbType.
type SQLStore struct {
	db         *sql.DB
	dbType     string
	ttls       TTLTable
	valueBytes int
	timeout    time.Duration

	// now is swapped out in tests to control the clock
	now func() time.Time
}

// NewSQLStore creates a new SQLStore. dbType is "sqlite" or "postgres".
func NewSQLStore(db *sql.DB, dbType string, ttls TTLTable, valueBytes int, timeout time.Duration) *SQLStore {
	if ttls == nil {
		ttls = DefaultTTLTable()
	}
	if valueBytes <= 0 {
		valueBytes = DefaultValueBytes
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SQLStore{
		db:         db,
		dbType:     dbType,
		ttls:       ttls,
		valueBytes: valueBytes,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Issue generates a new token for the pair, removing any prior unconsumed
// token in the same transaction. A partial unique index on unconsumed
// (subject_id, action_kind) rows backstops concurrent issuers; losing the
// race surfaces as a unique violation and the issue is retried once.
func (s *SQLStore) Issue(ctx context.Context, subjectID int64, kind ActionKind) (*ActionToken, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for attempt := 0; attempt < 2; attempt++ {
		value, err := generateValue(s.valueBytes)
		if err != nil {
			return nil, err
		}

		now := s.now().UTC()
		tok := &ActionToken{
			ID:        uuid.New().String(),
			Value:     value,
			SubjectID: subjectID,
			Kind:      kind,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.ttls.TTL(kind)),
		}

		err = s.insertFresh(ctx, tok)
		if err == nil {
			return tok, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		// Lost the race against a concurrent issuer for the same pair;
		// the retry deletes its token and inserts ours.
	}

	return nil, fmt.Errorf("%w: could not issue token for pair", ErrStoreUnavailable)
}

// insertFresh deletes any unconsumed token for the pair and inserts the new
// one, in a single transaction.
func (s *SQLStore) insertFresh(ctx context.Context, tok *ActionToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	deleteQuery := `DELETE FROM action_tokens WHERE subject_id = ? AND action_kind = ? AND consumed_at IS NULL`
	insertQuery := `INSERT INTO action_tokens (id, token_value, subject_id, action_kind, issued_at, expires_at)
					VALUES (?, ?, ?, ?, ?, ?)`
	if s.dbType == "postgres" {
		deleteQuery = `DELETE FROM action_tokens WHERE subject_id = $1 AND action_kind = $2 AND consumed_at IS NULL`
		insertQuery = `INSERT INTO action_tokens (id, token_value, subject_id, action_kind, issued_at, expires_at)
					VALUES ($1, $2, $3, $4, $5, $6)`
	}

	if _, err := tx.ExecContext(ctx, deleteQuery, tok.SubjectID, string(tok.Kind)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, insertQuery, tok.ID, tok.Value, tok.SubjectID, string(tok.Kind), tok.IssuedAt, tok.ExpiresAt); err != nil {
		return err
	}

	return tx.Commit()
}

// ValidateAndConsume atomically marks a live token consumed via a single
// conditional update. The update's WHERE clause is the whole check, so at
// most one concurrent caller sees an affected row.
func (s *SQLStore) ValidateAndConsume(ctx context.Context, value string) (*ActionToken, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now().UTC()

	query := `UPDATE action_tokens SET consumed_at = ? WHERE token_value = ? AND consumed_at IS NULL AND expires_at > ?`
	if s.dbType == "postgres" {
		query = `UPDATE action_tokens SET consumed_at = $1 WHERE token_value = $2 AND consumed_at IS NULL AND expires_at > $3`
	}

	result, err := s.db.ExecContext(ctx, query, now, value, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	tok, getErr := s.getByValue(ctx, value)
	if getErr != nil {
		return nil, getErr
	}

	if affected == 1 {
		return tok, nil
	}

	// The conditional update matched nothing: classify why. Consumption
	// is sticky and expiry is monotonic, so the classification cannot
	// flip back to live underneath us.
	if tok.ConsumedAt != nil {
		return nil, ErrAlreadyConsumed
	}
	if !now.Before(tok.ExpiresAt) {
		return nil, ErrExpired
	}
	return nil, fmt.Errorf("%w: consume raced an unexpected state", ErrStoreUnavailable)
}

// Invalidate marks any live token for the pair expired without consuming it.
func (s *SQLStore) Invalidate(ctx context.Context, subjectID int64, kind ActionKind) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now().UTC()

	query := `UPDATE action_tokens SET expires_at = ? WHERE subject_id = ? AND action_kind = ? AND consumed_at IS NULL AND expires_at > ?`
	if s.dbType == "postgres" {
		query = `UPDATE action_tokens SET expires_at = $1 WHERE subject_id = $2 AND action_kind = $3 AND consumed_at IS NULL AND expires_at > $4`
	}

	if _, err := s.db.ExecContext(ctx, query, now, subjectID, string(kind), now); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GetLive returns the live token for the pair, if any.
func (s *SQLStore) GetLive(ctx context.Context, subjectID int64, kind ActionKind) (*ActionToken, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now().UTC()

	query := `SELECT id, token_value, subject_id, action_kind, issued_at, expires_at, consumed_at
			FROM action_tokens
			WHERE subject_id = ? AND action_kind = ? AND consumed_at IS NULL AND expires_at > ?`
	if s.dbType == "postgres" {
		query = `SELECT id, token_value, subject_id, action_kind, issued_at, expires_at, consumed_at
			FROM action_tokens
			WHERE subject_id = $1 AND action_kind = $2 AND consumed_at IS NULL AND expires_at > $3`
	}

	return s.scanOne(s.db.QueryRowContext(ctx, query, subjectID, string(kind), now))
}

// DeleteExpired removes expired tokens and consumed tokens older than the
// retention window.
func (s *SQLStore) DeleteExpired(ctx context.Context, retainConsumed time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now().UTC()
	consumedCutoff := now.Add(-retainConsumed)

	query := `DELETE FROM action_tokens
			WHERE (consumed_at IS NULL AND expires_at <= ?)
			OR (consumed_at IS NOT NULL AND consumed_at <= ?)`
	if s.dbType == "postgres" {
		query = `DELETE FROM action_tokens
			WHERE (consumed_at IS NULL AND expires_at <= $1)
			OR (consumed_at IS NOT NULL AND consumed_at <= $2)`
	}

	result, err := s.db.ExecContext(ctx, query, now, consumedCutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return result.RowsAffected()
}

// Close is a no-op: the store does not own the database handle.
func (s *SQLStore) Close() error {
	return nil
}

func (s *SQLStore) getByValue(ctx context.Context, value string) (*ActionToken, error) {
	query := `SELECT id, token_value, subject_id, action_kind, issued_at, expires_at, consumed_at
			FROM action_tokens
			WHERE token_value = ?`
	if s.dbType == "postgres" {
		query = `SELECT id, token_value, subject_id, action_kind, issued_at, expires_at, consumed_at
			FROM action_tokens
			WHERE token_value = $1`
	}

	return s.scanOne(s.db.QueryRowContext(ctx, query, value))
}

func (s *SQLStore) scanOne(row *sql.Row) (*ActionToken, error) {
	tok := &ActionToken{}
	var kind string
	var consumedAt sql.NullTime
	err := row.Scan(&tok.ID, &tok.Value, &tok.SubjectID, &kind, &tok.IssuedAt, &tok.ExpiresAt, &consumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	tok.Kind = ActionKind(kind)
	if consumedAt.Valid {
		t := consumedAt.Time
		tok.ConsumedAt = &t
	}
	return tok, nil
}

// isUniqueViolation reports whether the error is a unique constraint
// violation from either backend.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
