package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"budget-tracker/backend/internal/db"
	"budget-tracker/backend/internal/session/domain"
)

type PostgresRepository struct {
	db db.DBTX
	// beginner is nil when the repository is already bound to a transaction.
	beginner db.TxBeginner
}

// NewPostgresRepository returns a session repository backed by conn.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn, beginner: conn}
}

const sessionColumns = `id, secret_hash, user_id, created_at, expires_at, last_used_at, user_agent, ip_address`

func (r *PostgresRepository) Create(ctx context.Context, s *domain.RefreshSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.SecretHash, s.UserID, s.CreatedAt, s.ExpiresAt, nullTime(s.LastUsedAt), s.UserAgent, s.IPAddress)
	if err != nil {
		return fmt.Errorf("insert refresh session: %w", err)
	}
	return nil
}

// GetByHash returns the session for hash, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM refresh_sessions WHERE secret_hash = $1`, hash)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select refresh session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) DeleteByHash(ctx context.Context, hash string) (bool, error) {
	n, err := r.exec(ctx, `DELETE FROM refresh_sessions WHERE secret_hash = $1`, hash)
	return n > 0, err
}

func (r *PostgresRepository) DeleteByID(ctx context.Context, id string) (bool, error) {
	n, err := r.exec(ctx, `DELETE FROM refresh_sessions WHERE id = $1`, id)
	return n > 0, err
}

func (r *PostgresRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	return r.exec(ctx, `DELETE FROM refresh_sessions WHERE user_id = $1`, userID)
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM refresh_sessions WHERE expires_at < $1`, now)
}

func (r *PostgresRepository) CountForUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM refresh_sessions WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count refresh sessions: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ListLiveForUser(ctx context.Context, userID string, now time.Time) ([]*domain.RefreshSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM refresh_sessions WHERE user_id = $1 AND expires_at > $2 ORDER BY created_at ASC, id ASC`,
		userID, now)
	if err != nil {
		return nil, fmt.Errorf("list refresh sessions: %w", err)
	}
	defer rows.Close()
	var out []*domain.RefreshSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refresh session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list refresh sessions: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.exec(ctx, `UPDATE refresh_sessions SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}

// LockUser takes a row lock on the owning user, so concurrent logins of one user count and
// evict one after the other.
func (r *PostgresRepository) LockUser(ctx context.Context, userID string) error {
	_, err := r.exec(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID)
	return err
}

// InTx runs fn in one database transaction. Nested calls reuse the outer transaction.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	if r.beginner == nil {
		return fn(r)
	}
	return db.WithTx(ctx, r.beginner, nil, func(ctx context.Context, tx db.DBTX) error {
		return fn(&PostgresRepository{db: tx})
	})
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("refresh sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("refresh sessions: rows affected: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.RefreshSession, error) {
	var (
		s        domain.RefreshSession
		lastUsed sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.SecretHash, &s.UserID, &s.CreatedAt, &s.ExpiresAt, &lastUsed, &s.UserAgent, &s.IPAddress); err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		s.LastUsedAt = &t
	}
	return &s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
