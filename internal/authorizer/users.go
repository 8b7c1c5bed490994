package authorizer

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

// UserRecord is the subset of the user account the authorizer needs.
// Raw secrets never pass through here, only hashes.
type UserRecord struct {
	ID            int64
	Email         string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UserDirectory is the external user-record collaborator. The authorizer
// resolves subjects through it and applies guarded mutations to it.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*UserRecord, error)
	FindBySubjectID(ctx context.Context, id int64) (*UserRecord, error)
	UpdateCredential(ctx context.Context, id int64, secretHash string) error
	SetEmailVerified(ctx context.Context, id int64) error
}

// SQLUserDirectory implements UserDirectory for SQLite and PostgreSQL.
type SQLUserDirectory struct {
	db     *sql.DB
	dbType string
}

// NewSQLUserDirectory creates a new SQLUserDirectory.
func NewSQLUserDirectory(db *sql.DB, dbType string) *SQLUserDirectory {
	return &SQLUserDirectory{db: db, dbType: dbType}
}

// FindByEmail retrieves a user by email
func (d *SQLUserDirectory) FindByEmail(ctx context.Context, email string) (*UserRecord, error) {
	query := `SELECT id, email, email_verified, created_at, updated_at FROM users WHERE email = ?`
	if d.dbType == "postgres" {
		query = `SELECT id, email, email_verified, created_at, updated_at FROM users WHERE email = $1`
	}
	return d.scanOne(d.db.QueryRowContext(ctx, query, email))
}

// FindBySubjectID retrieves a user by ID
func (d *SQLUserDirectory) FindBySubjectID(ctx context.Context, id int64) (*UserRecord, error) {
	query := `SELECT id, email, email_verified, created_at, updated_at FROM users WHERE id = ?`
	if d.dbType == "postgres" {
		query = `SELECT id, email, email_verified, created_at, updated_at FROM users WHERE id = $1`
	}
	return d.scanOne(d.db.QueryRowContext(ctx, query, id))
}

// UpdateCredential replaces the stored credential hash
func (d *SQLUserDirectory) UpdateCredential(ctx context.Context, id int64, secretHash string) error {
	query := `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`
	if d.dbType == "postgres" {
		query = `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`
	}
	result, err := d.db.ExecContext(ctx, query, secretHash, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetEmailVerified marks the user's email address as verified
func (d *SQLUserDirectory) SetEmailVerified(ctx context.Context, id int64) error {
	query := `UPDATE users SET email_verified = ?, updated_at = ? WHERE id = ?`
	if d.dbType == "postgres" {
		query = `UPDATE users SET email_verified = $1, updated_at = $2 WHERE id = $3`
	}
	result, err := d.db.ExecContext(ctx, query, true, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (d *SQLUserDirectory) scanOne(row *sql.Row) (*UserRecord, error) {
	user := &UserRecord{}
	err := row.Scan(&user.ID, &user.Email, &user.EmailVerified, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
