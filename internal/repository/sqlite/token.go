package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakif/taskflow-api/internal/apperror"
	"github.com/sakif/taskflow-api/internal/model"
	"github.com/sakif/taskflow-api/internal/repository"
)

var _ repository.TokenRepository = (*TokenDB)(nil)

// TokenDB is the access_tokens table: one row per live bearer token.
type TokenDB struct {
	conn *sql.DB
}

func (d *TokenDB) Insert(ctx context.Context, token model.AccessToken) (model.AccessToken, error) {
	token.CreatedAt = now()

	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO access_tokens (id, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
		token.ID,
		token.UserID,
		token.Name,
		token.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.AccessToken{}, apperror.Conflict("", "The access token already exists.")
		}
		return model.AccessToken{}, fmt.Errorf("sqlite: inserting access token for user %d: %w", token.UserID, err)
	}

	return token, nil
}

// Find is a primary-key lookup; it runs on every authenticated request.
func (d *TokenDB) Find(ctx context.Context, id string) (model.AccessToken, error) {
	var t model.AccessToken
	err := d.conn.QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at FROM access_tokens WHERE id = ?`, id,
	).Scan(&t.ID, &t.UserID, &t.Name, &t.CreatedAt)
	if err != nil {
		return model.AccessToken{}, notFound(err, "Access token", "getting access token")
	}
	return t, nil
}

func (d *TokenDB) Delete(ctx context.Context, id string) error {
	res, err := d.conn.ExecContext(ctx, `DELETE FROM access_tokens WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting access token: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("Access token")
	}
	return nil
}
