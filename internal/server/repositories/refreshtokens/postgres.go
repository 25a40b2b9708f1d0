package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/feedauth/internal/common"
	"github.com/dmitrijs2005/feedauth/internal/dbx"
	"github.com/dmitrijs2005/feedauth/internal/server/models"
)

const tokenColumns = `id, token, user_id, expires_at, user_agent, ip_address, revoked, created_at, updated_at`

// PostgresRepository implements Repository over dbx.DBTX, so it works the
// same on *sql.DB and inside a *sql.Tx.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*models.RefreshToken, error) {
	t := &models.RefreshToken{}
	err := row.Scan(&t.ID, &t.Token, &t.UserID, &t.ExpiresAt,
		&t.Device.UserAgent, &t.Device.IPAddress, &t.Revoked, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *PostgresRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (token, user_id, expires_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token) DO NOTHING
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		token.Token, token.UserID, token.ExpiresAt, token.Device.UserAgent, token.Device.IPAddress).
		Scan(&token.ID, &token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		// ON CONFLICT keeps a surrounding transaction usable, so the caller
		// can retry with a fresh token.
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrDuplicateToken
		}
		if _, ok := dbx.UniqueViolation(err); ok {
			return common.ErrDuplicateToken
		}
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindActive(ctx context.Context, token, userID string) (*models.RefreshToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM refresh_tokens
		WHERE token = $1 AND user_id = $2 AND revoked = false
	`
	t, err := scanToken(r.db.QueryRowContext(ctx, query, token, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

// Consume relies on the row lock taken by DELETE: a concurrent DELETE of the
// same row waits, then finds nothing and returns no row.
func (r *PostgresRepository) Consume(ctx context.Context, token, userID string) error {
	query := `
		DELETE FROM refresh_tokens
		WHERE token = $1 AND user_id = $2 AND revoked = false
		RETURNING id
	`
	var id string
	if err := r.db.QueryRowContext(ctx, query, token, userID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, token string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked = true, updated_at = now()
		WHERE token = $1 AND revoked = false
	`
	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = true, updated_at = now()
		WHERE user_id = $1 AND revoked = false
	`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM refresh_tokens
		WHERE user_id = $1 AND revoked = false AND expires_at > $2
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.RefreshToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at <= $1
	`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
