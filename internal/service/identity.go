package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/taskflow-api/internal/apperror"
	"github.com/sakif/taskflow-api/internal/model"
	"github.com/sakif/taskflow-api/internal/repository"
)

// maxReconcileAttempts bounds the lookup → create/link loop when a
// concurrent request keeps winning the uniqueness race.
const maxReconcileAttempts = 3

// placeholderEmailDomain is reserved for accounts whose GitHub profile hides
// the email. Registration refuses it so a placeholder can't be squatted.
const placeholderEmailDomain = "@github.user"

// errPlaceholderTaken marks a step-3 clash that no retry can resolve: the
// synthesized address belongs to an account without this GitHub id.
var errPlaceholderTaken = errors.New("placeholder email belongs to another account")

// ExternalIdentity is what the identity provider vouches for. Only ID is
// guaranteed; every other field may be empty.
type ExternalIdentity struct {
	ID        string
	Email     string
	Name      string
	Nickname  string
	AvatarURL string
}

// Reconciler maps an external identity onto exactly one local user.
//
// LOOKUP ORDER (first match wins):
//  1. users.github_id == identity.ID     → refresh avatar only
//  2. users.email == identity.Email      → link: set github_id + avatar
//  3. nothing matched                    → create an OAuth-only user
//
// Step 2 only runs when step 1 misses, so an already-linked user keeps the
// username and email recorded at link time even if GitHub reports new ones.
//
// RACES:
// Two simultaneous logins for the same identity both miss in step 1 and both
// try to insert. The UNIQUE constraints let one win; the loser's
// apperror.ErrConflict sends it back to step 1, where it now finds the
// winner's row.
type Reconciler struct {
	users  repository.UserRepository
	logger *slog.Logger
}

func NewReconciler(users repository.UserRepository, logger *slog.Logger) *Reconciler {
	return &Reconciler{users: users, logger: logger}
}

// Reconcile returns the user the identity resolves to, creating or linking
// one if needed.
func (r *Reconciler) Reconcile(ctx context.Context, identity ExternalIdentity) (model.User, error) {
	if identity.ID == "" {
		return model.User{}, fmt.Errorf("service/identity: external identity has no id")
	}

	var lastErr error
	for attempt := 1; attempt <= maxReconcileAttempts; attempt++ {
		user, err := r.reconcileOnce(ctx, identity)
		if err == nil {
			return user, nil
		}
		if errors.Is(err, errPlaceholderTaken) || !errors.Is(err, apperror.ErrConflict) {
			return model.User{}, err
		}

		lastErr = err
		r.logger.Warn("identity reconcile lost a uniqueness race, retrying",
			slog.String("githubID", identity.ID),
			slog.Int("attempt", attempt),
		)
	}

	return model.User{}, fmt.Errorf("service/identity: giving up after %d attempts: %w", maxReconcileAttempts, lastErr)
}

func (r *Reconciler) reconcileOnce(ctx context.Context, identity ExternalIdentity) (model.User, error) {
	avatar := model.StringPtr(identity.AvatarURL)

	// 1. already linked
	user, err := r.users.FindByGitHubID(ctx, identity.ID)
	switch {
	case err == nil:
		user.Avatar = avatar
		updated, err := r.users.Update(ctx, user)
		if err != nil {
			return model.User{}, fmt.Errorf("service/identity: refreshing avatar for user %d: %w", user.ID, err)
		}
		return updated, nil
	case !errors.Is(err, apperror.ErrNotFound):
		return model.User{}, fmt.Errorf("service/identity: looking up github id: %w", err)
	}

	// 2. link to an existing account with the same email
	if identity.Email != "" {
		user, err := r.users.FindByEmail(ctx, identity.Email)
		switch {
		case err == nil:
			user.GitHubID = model.StringPtr(identity.ID)
			user.Avatar = avatar
			linked, err := r.users.Update(ctx, user)
			if err != nil {
				return model.User{}, fmt.Errorf("service/identity: linking github id to user %d: %w", user.ID, err)
			}
			r.logger.Info("github account linked",
				slog.Int64("userID", linked.ID),
				slog.String("githubID", identity.ID),
			)
			return linked, nil
		case !errors.Is(err, apperror.ErrNotFound):
			return model.User{}, fmt.Errorf("service/identity: looking up email: %w", err)
		}
	}

	// 3. brand-new OAuth-only user
	created, err := r.users.Insert(ctx, model.User{
		Username: usernameFor(identity),
		Email:    emailFor(identity),
		GitHubID: model.StringPtr(identity.ID),
		Avatar:   avatar,
	})
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) && identity.Email == "" && !r.linkedElsewhere(ctx, identity.ID) {
			r.logger.Warn("placeholder email already in use",
				slog.String("githubID", identity.ID),
			)
			return model.User{}, fmt.Errorf("service/identity: %w: %w", errPlaceholderTaken,
				apperror.Conflict("email", "The email has already been taken."))
		}
		return model.User{}, fmt.Errorf("service/identity: creating user: %w", err)
	}

	r.logger.Info("user created from github identity",
		slog.Int64("userID", created.ID),
		slog.String("githubID", identity.ID),
	)
	return created, nil
}

// linkedElsewhere reports whether a concurrent login has already stored the
// GitHub id, in which case a retry will find it in step 1.
func (r *Reconciler) linkedElsewhere(ctx context.Context, githubID string) bool {
	_, err := r.users.FindByGitHubID(ctx, githubID)
	return err == nil
}

func usernameFor(identity ExternalIdentity) string {
	switch {
	case identity.Name != "":
		return identity.Name
	case identity.Nickname != "":
		return identity.Nickname
	default:
		return "github-" + identity.ID
	}
}

// emailFor synthesizes "{id}@github.user" when GitHub gave us no address.
// Provider ids are unique, so the placeholder is too.
func emailFor(identity ExternalIdentity) string {
	if identity.Email != "" {
		return identity.Email
	}
	return identity.ID + placeholderEmailDomain
}

func isPlaceholderEmail(email string) bool {
	return strings.HasSuffix(strings.ToLower(email), placeholderEmailDomain)
}
