// Package service holds the business rules. It sits between the HTTP
// handlers and the repositories:
//
//	handler (HTTP) → service (rules, validation) → repository (SQL)
//
// Services never see an *http.Request. The authenticated caller is passed in
// explicitly, and failures come back as apperror values that the handler
// layer maps to status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/taskflow-api/internal/apperror"
	"github.com/sakif/taskflow-api/internal/auth"
	"github.com/sakif/taskflow-api/internal/model"
	"github.com/sakif/taskflow-api/internal/repository"
)

// GitHubClient is the slice of *auth.GitHubProvider the service needs.
// Tests substitute a fake so no request ever reaches GitHub.
type GitHubClient interface {
	UserFromToken(ctx context.Context, accessToken string) (*auth.GitHubUser, error)
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
	AuthURL(state string) string
	RedirectEnabled() bool
}

// AuthResult is the payload of every successful authentication.
type AuthResult struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

type RegisterInput struct {
	Username             string `json:"username" validate:"required,max=255"`
	Email                string `json:"email" validate:"required,email,max=255"`
	Password             string `json:"password" validate:"required,min=6,bcryptmax,eqfield=PasswordConfirmation"`
	PasswordConfirmation string `json:"password_confirmation"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type GitHubTokenInput struct {
	AccessToken string `json:"access_token" validate:"required"`
}

// AuthService implements registration, password login, logout and both
// GitHub login flows. Each successful authentication issues exactly one new
// token.
type AuthService struct {
	users      repository.UserRepository
	passwords  *auth.PasswordService
	issuer     *TokenIssuer
	reconciler *Reconciler
	github     GitHubClient
	logger     *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	passwords *auth.PasswordService,
	issuer *TokenIssuer,
	reconciler *Reconciler,
	github GitHubClient,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:      users,
		passwords:  passwords,
		issuer:     issuer,
		reconciler: reconciler,
		github:     github,
		logger:     logger,
	}
}

func emailTaken() *apperror.AppError {
	return apperror.ValidationFailed("email", "The email has already been taken.")
}

// Register creates a password account and signs it in.
//
// The up-front FindByEmail gives the friendly validation message; the UNIQUE
// constraint still catches a concurrent registration that slips between the
// check and the insert, and reports it the same way.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	if err := validateStruct(in); err != nil {
		return AuthResult{}, err
	}
	if isPlaceholderEmail(in.Email) {
		return AuthResult{}, apperror.ValidationFailed("email", "The email field must not use a reserved domain.")
	}

	_, err := s.users.FindByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return AuthResult{}, emailTaken()
	case !errors.Is(err, apperror.ErrNotFound):
		return AuthResult{}, fmt.Errorf("service/auth: checking email: %w", err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return AuthResult{}, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user, err := s.users.Insert(ctx, model.User{
		Username: in.Username,
		Email:    in.Email,
		Password: &hash,
	})
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return AuthResult{}, emailTaken()
		}
		return AuthResult{}, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered", slog.Int64("userID", user.ID))

	return s.signIn(ctx, user, model.TokenNamePassword)
}

// Login checks an email/password pair. Unknown email, OAuth-only account and
// wrong password all produce the same apperror.InvalidCredentials, so the
// response never reveals which accounts exist.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	in.Email = strings.TrimSpace(in.Email)

	if err := validateStruct(in); err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return AuthResult{}, apperror.InvalidCredentials()
		}
		return AuthResult{}, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if !user.HasPassword() {
		return AuthResult{}, apperror.InvalidCredentials()
	}

	if err := s.passwords.Verify(*user.Password, in.Password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("password verification failed",
				slog.Int64("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		return AuthResult{}, apperror.InvalidCredentials()
	}

	return s.signIn(ctx, user, model.TokenNamePassword)
}

// Logout revokes only the token the caller authenticated with.
func (s *AuthService) Logout(ctx context.Context, caller auth.Caller) error {
	if err := s.issuer.Revoke(ctx, caller.TokenID); err != nil {
		return fmt.Errorf("service/auth: logout: %w", err)
	}
	return nil
}

// LoginWithGitHubToken is the mobile flow: the client already holds a GitHub
// access token. A token GitHub won't accept ends here with
// apperror.ExternalAuth and the store is never touched.
func (s *AuthService) LoginWithGitHubToken(ctx context.Context, in GitHubTokenInput) (AuthResult, error) {
	in.AccessToken = strings.TrimSpace(in.AccessToken)
	if err := validateStruct(in); err != nil {
		return AuthResult{}, err
	}

	ghUser, err := s.github.UserFromToken(ctx, in.AccessToken)
	if err != nil {
		s.logger.Info("github token rejected", slog.String("error", err.Error()))
		return AuthResult{}, apperror.ExternalAuth("Invalid GitHub token")
	}

	return s.loginGitHubUser(ctx, ghUser)
}

// LoginWithGitHubCode is the browser flow's callback step.
func (s *AuthService) LoginWithGitHubCode(ctx context.Context, code string) (AuthResult, error) {
	if code == "" {
		return AuthResult{}, apperror.ValidationFailed("code", "The code field is required.")
	}

	ghUser, err := s.github.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("github code exchange failed", slog.String("error", err.Error()))
		return AuthResult{}, apperror.ExternalAuth("GitHub authentication failed")
	}

	return s.loginGitHubUser(ctx, ghUser)
}

// GitHubRedirectURL returns where to send the browser, or ok == false when
// no OAuth app is configured.
func (s *AuthService) GitHubRedirectURL(state string) (url string, ok bool) {
	if !s.github.RedirectEnabled() {
		return "", false
	}
	return s.github.AuthURL(state), true
}

func (s *AuthService) loginGitHubUser(ctx context.Context, ghUser *auth.GitHubUser) (AuthResult, error) {
	user, err := s.reconciler.Reconcile(ctx, ExternalIdentity{
		ID:        ghUser.IDString(),
		Email:     ghUser.Email,
		Name:      ghUser.Name,
		Nickname:  ghUser.Login,
		AvatarURL: ghUser.AvatarURL,
	})
	if err != nil {
		return AuthResult{}, fmt.Errorf("service/auth: reconciling github user %d: %w", ghUser.ID, err)
	}

	return s.signIn(ctx, user, model.TokenNameGitHub)
}

func (s *AuthService) signIn(ctx context.Context, user model.User, tokenName string) (AuthResult, error) {
	token, err := s.issuer.Issue(ctx, user, tokenName)
	if err != nil {
		return AuthResult{}, fmt.Errorf("service/auth: %w", err)
	}
	return AuthResult{User: user, Token: token}, nil
}
