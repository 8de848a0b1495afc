package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakif/taskflow-api/internal/apperror"
	"github.com/sakif/taskflow-api/internal/model"
	"github.com/sakif/taskflow-api/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the users table.
type UserDB struct {
	conn *sql.DB
}

const userColumns = `id, username, email, password, github_id, avatar, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		u                          model.User
		password, githubID, avatar sql.NullString
	)
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&password,
		&githubID,
		&avatar,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return model.User{}, err
	}
	u.Password = stringPtr(password)
	u.GitHubID = stringPtr(githubID)
	u.Avatar = stringPtr(avatar)
	return u, nil
}

func (u *UserDB) findOne(ctx context.Context, where string, arg any) (model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, arg)
	return scanUser(row)
}

// FindByID returns apperror.ErrNotFound if no user has that id.
func (u *UserDB) FindByID(ctx context.Context, id int64) (model.User, error) {
	user, err := u.findOne(ctx, "id = ?", id)
	if err != nil {
		return model.User{}, notFound(err, "User", fmt.Sprintf("getting user %d", id))
	}
	return user, nil
}

func (u *UserDB) FindByEmail(ctx context.Context, email string) (model.User, error) {
	user, err := u.findOne(ctx, "email = ?", email)
	if err != nil {
		return model.User{}, notFound(err, "User", "getting user by email")
	}
	return user, nil
}

func (u *UserDB) FindByGitHubID(ctx context.Context, githubID string) (model.User, error) {
	user, err := u.findOne(ctx, "github_id = ?", githubID)
	if err != nil {
		return model.User{}, notFound(err, "User", "getting user by github_id "+githubID)
	}
	return user, nil
}

// Insert creates a user and returns the stored row with its new id and
// timestamps. A duplicate email or github_id yields apperror.ErrConflict.
func (u *UserDB) Insert(ctx context.Context, user model.User) (model.User, error) {
	ts := now()

	res, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (username, email, password, github_id, avatar, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.Username,
		user.Email,
		nullString(user.Password),
		nullString(user.GitHubID),
		nullString(user.Avatar),
		ts,
		ts,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, userConflict(err)
		}
		return model.User{}, fmt.Errorf("sqlite: inserting user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, fmt.Errorf("sqlite: reading inserted user id: %w", err)
	}

	return u.FindByID(ctx, id)
}

// Update overwrites every mutable column of the row identified by user.ID and
// bumps updated_at.
func (u *UserDB) Update(ctx context.Context, user model.User) (model.User, error) {
	res, err := u.conn.ExecContext(ctx,
		`UPDATE users
		 SET username = ?, email = ?, password = ?, github_id = ?, avatar = ?, updated_at = ?
		 WHERE id = ?`,
		user.Username,
		user.Email,
		nullString(user.Password),
		nullString(user.GitHubID),
		nullString(user.Avatar),
		now(),
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, userConflict(err)
		}
		return model.User{}, fmt.Errorf("sqlite: updating user %d: %w", user.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return model.User{}, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return model.User{}, apperror.NotFound("User")
	}

	return u.FindByID(ctx, user.ID)
}

// Delete removes the user; their tasks and tokens go with them (ON DELETE CASCADE).
func (u *UserDB) Delete(ctx context.Context, id int64) error {
	res, err := u.conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("User")
	}
	return nil
}

// userConflict turns a UNIQUE violation on users into a message a client can
// act on.
func userConflict(err error) *apperror.AppError {
	switch conflictColumn(err) {
	case "users.email":
		return apperror.Conflict("email", "The email has already been taken.")
	case "users.github_id":
		return apperror.Conflict("github_id", "This GitHub account is already linked to another user.")
	default:
		return apperror.Conflict("", "The user already exists.")
	}
}
