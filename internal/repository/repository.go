// Package repository declares the storage contracts the services depend on.
//
// Services only ever see these interfaces; internal/repository/sqlite is the
// production implementation and the service tests use in-memory fakes.
//
// CONTRACT SHARED BY ALL WRITE METHODS:
//   - arguments are values, never pointers into shared state
//   - the returned value is a fresh snapshot read back from the store
//   - a violated UNIQUE constraint surfaces as apperror.ErrConflict
//   - a missing row surfaces as apperror.ErrNotFound
package repository

import (
	"context"

	"github.com/sakif/taskflow-api/internal/model"
)

type UserRepository interface {
	FindByID(ctx context.Context, id int64) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	FindByGitHubID(ctx context.Context, githubID string) (model.User, error)
	Insert(ctx context.Context, user model.User) (model.User, error)
	Update(ctx context.Context, user model.User) (model.User, error)
	Delete(ctx context.Context, id int64) error
}

// TaskRepository scopes every single-row operation by owner. A task that
// exists but belongs to someone else is reported as ErrNotFound.
type TaskRepository interface {
	ListByOwner(ctx context.Context, ownerID int64) ([]model.Task, error)
	FindByID(ctx context.Context, ownerID, id int64) (model.Task, error)
	Insert(ctx context.Context, task model.Task) (model.Task, error)
	Update(ctx context.Context, task model.Task) (model.Task, error)
	Delete(ctx context.Context, ownerID, id int64) error
}

type TokenRepository interface {
	Insert(ctx context.Context, token model.AccessToken) (model.AccessToken, error)
	Find(ctx context.Context, id string) (model.AccessToken, error)
	Delete(ctx context.Context, id string) error
}
