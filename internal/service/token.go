package service

import (
	"context"
	"fmt"

	"github.com/sakif/taskflow-api/internal/auth"
	"github.com/sakif/taskflow-api/internal/model"
	"github.com/sakif/taskflow-api/internal/repository"
)

// TokenIssuer mints bearer tokens and records them so they can be revoked.
// Issuing never touches a user's other tokens: every device keeps its own.
type TokenIssuer struct {
	tokens *auth.TokenService
	store  repository.TokenRepository
}

func NewTokenIssuer(tokens *auth.TokenService, store repository.TokenRepository) *TokenIssuer {
	return &TokenIssuer{tokens: tokens, store: store}
}

// Issue returns a fresh bearer token bound to user. name records how it was
// obtained (model.TokenNamePassword, model.TokenNameGitHub).
func (i *TokenIssuer) Issue(ctx context.Context, user model.User, name string) (string, error) {
	tokenID, signed, err := i.tokens.Mint(user.ID)
	if err != nil {
		return "", fmt.Errorf("service/token: minting token for user %d: %w", user.ID, err)
	}

	if _, err := i.store.Insert(ctx, model.AccessToken{
		ID:     tokenID,
		UserID: user.ID,
		Name:   name,
	}); err != nil {
		return "", fmt.Errorf("service/token: storing token for user %d: %w", user.ID, err)
	}

	return signed, nil
}

// Revoke deletes one token record. The signed string stops authenticating
// immediately.
func (i *TokenIssuer) Revoke(ctx context.Context, tokenID string) error {
	if err := i.store.Delete(ctx, tokenID); err != nil {
		return fmt.Errorf("service/token: revoking token: %w", err)
	}
	return nil
}
