package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sakif/taskflow-api/internal/apperror"
	"github.com/sakif/taskflow-api/internal/auth"
	"github.com/sakif/taskflow-api/internal/repository"
)

// compile-time check that *Guard can back auth.RequireAuth
var _ auth.Authenticator = (*Guard)(nil)

// Guard turns an Authorization header into the request's caller.
//
// CHECKS, IN ORDER:
//  1. header is "Bearer <token>"
//  2. signature, algorithm and issuer verify
//  3. the token's jti names a stored token record (not revoked)
//  4. that record belongs to the user named in sub
//  5. the user still exists
//
// Every failure collapses to apperror.Unauthenticated; the reason is only
// logged at debug level.
type Guard struct {
	tokens *auth.TokenService
	store  repository.TokenRepository
	users  repository.UserRepository
	logger *slog.Logger
}

func NewGuard(
	tokens *auth.TokenService,
	store repository.TokenRepository,
	users repository.UserRepository,
	logger *slog.Logger,
) *Guard {
	return &Guard{tokens: tokens, store: store, users: users, logger: logger}
}

func (g *Guard) Authenticate(ctx context.Context, authorization string) (auth.Caller, error) {
	raw, ok := auth.BearerToken(authorization)
	if !ok {
		return auth.Caller{}, apperror.Unauthenticated()
	}

	userID, tokenID, err := g.tokens.Parse(raw)
	if err != nil {
		g.logger.Debug("rejecting bearer token", slog.String("reason", err.Error()))
		return auth.Caller{}, apperror.Unauthenticated()
	}

	record, err := g.store.Find(ctx, tokenID)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			g.logger.Error("token lookup failed", slog.String("error", err.Error()))
		}
		return auth.Caller{}, apperror.Unauthenticated()
	}

	if record.UserID != userID {
		g.logger.Warn("token subject does not match its record",
			slog.Int64("subject", userID),
			slog.Int64("owner", record.UserID),
		)
		return auth.Caller{}, apperror.Unauthenticated()
	}

	user, err := g.users.FindByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			g.logger.Error("user lookup failed", slog.String("error", err.Error()))
		}
		return auth.Caller{}, apperror.Unauthenticated()
	}

	return auth.Caller{User: user, TokenID: tokenID}, nil
}
