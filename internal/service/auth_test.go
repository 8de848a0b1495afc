package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sakif/taskflow-api/internal/apperror"
	"github.com/sakif/taskflow-api/internal/auth"
	"github.com/sakif/taskflow-api/internal/model"
)

// fieldErrors pulls the field → messages map out of a validation error.
func fieldErrors(t *testing.T, err error) map[string][]string {
	t.Helper()
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error %v is not an *AppError", err)
	}
	return appErr.Fields
}

// =========================================================================
// REGISTER
// =========================================================================

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	res := env.register(t, "alice", "a@x.com", "secret1")

	if res.User.ID == 0 || res.Token == "" {
		t.Fatalf("Register() = %+v", res)
	}
	if res.User.Password == nil || *res.User.Password == "secret1" {
		t.Error("password must be stored hashed")
	}
	if env.tokens.count() != 1 {
		t.Errorf("tokens = %d, want exactly 1", env.tokens.count())
	}

	for _, tok := range env.tokens.tokens {
		if tok.Name != model.TokenNamePassword || tok.UserID != res.User.ID {
			t.Errorf("token record = %+v", tok)
		}
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "a@x.com", "secret1")

	_, err := env.auth.Register(context.Background(), RegisterInput{
		Username: "imposter", Email: "a@x.com", Password: "secret2", PasswordConfirmation: "secret2",
	})

	fields := fieldErrors(t, err)
	if got := fields["email"]; len(got) != 1 || got[0] != "The email has already been taken." {
		t.Errorf("email errors = %v", got)
	}
	if env.users.count() != 1 {
		t.Errorf("users = %d, want 1 (no record created)", env.users.count())
	}
}

// The pre-check misses but the store's UNIQUE constraint fires.
func TestRegister_DuplicateEmailRace(t *testing.T) {
	env := newTestEnv(t)
	env.users.beforeInsert = func(f *fakeUserRepo) {
		f.insertLocked(model.User{Username: "first", Email: "a@x.com"})
	}

	_, err := env.auth.Register(context.Background(), RegisterInput{
		Username: "second", Email: "a@x.com", Password: "secret1", PasswordConfirmation: "secret1",
	})

	fields := fieldErrors(t, err)
	if _, ok := fields["email"]; !ok {
		t.Errorf("errors = %v, want email", fields)
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name      string
		in        RegisterInput
		wantField string
	}{
		{"missing username", RegisterInput{Email: "a@x.com", Password: "secret1", PasswordConfirmation: "secret1"}, "username"},
		{"blank username", RegisterInput{Username: "   ", Email: "a@x.com", Password: "secret1", PasswordConfirmation: "secret1"}, "username"},
		{"missing email", RegisterInput{Username: "a", Password: "secret1", PasswordConfirmation: "secret1"}, "email"},
		{"bad email", RegisterInput{Username: "a", Email: "not-an-email", Password: "secret1", PasswordConfirmation: "secret1"}, "email"},
		{"short password", RegisterInput{Username: "a", Email: "a@x.com", Password: "12345", PasswordConfirmation: "12345"}, "password"},
		{"confirmation mismatch", RegisterInput{Username: "a", Email: "a@x.com", Password: "secret1", PasswordConfirmation: "secret2"}, "password"},
		{"long username", RegisterInput{Username: strings.Repeat("u", 256), Email: "a@x.com", Password: "secret1", PasswordConfirmation: "secret1"}, "username"},
		{"long ascii password", RegisterInput{Username: "a", Email: "a@x.com", Password: strings.Repeat("p", 73), PasswordConfirmation: strings.Repeat("p", 73)}, "password"},
		{"placeholder domain", RegisterInput{Username: "a", Email: "4242@github.user", Password: "secret1", PasswordConfirmation: "secret1"}, "email"},
		{"placeholder domain any case", RegisterInput{Username: "a", Email: "4242@GitHub.User", Password: "secret1", PasswordConfirmation: "secret1"}, "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := env.auth.Register(context.Background(), tt.in)

			fields := fieldErrors(t, err)
			if _, ok := fields[tt.wantField]; !ok {
				t.Errorf("errors = %v, want field %q", fields, tt.wantField)
			}
			if env.users.count() != 0 {
				t.Error("a user was created despite the validation error")
			}
		})
	}
}

func TestRegister_ConfirmationMessage(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.auth.Register(context.Background(), RegisterInput{
		Username: "a", Email: "a@x.com", Password: "secret1", PasswordConfirmation: "nope",
	})

	fields := fieldErrors(t, err)
	if got := fields["password"]; len(got) != 1 || got[0] != "The password field confirmation does not match." {
		t.Errorf("password errors = %v", got)
	}
}

// 30 runes but 90 bytes: bcrypt would only ever see the first 72.
func TestRegister_PasswordByteLimit(t *testing.T) {
	env := newTestEnv(t)
	long := strings.Repeat("€", 30)

	_, err := env.auth.Register(context.Background(), RegisterInput{
		Username: "zed", Email: "z@x.com", Password: long, PasswordConfirmation: long,
	})

	fields := fieldErrors(t, err)
	if got := fields["password"]; len(got) != 1 || got[0] != "The password field must not be greater than 72 bytes." {
		t.Errorf("password errors = %v", got)
	}
	if env.users.count() != 0 {
		t.Error("a user was created despite the validation error")
	}

	// exactly 72 bytes is fine
	fits := strings.Repeat("€", 24)
	if _, err := env.auth.Register(context.Background(), RegisterInput{
		Username: "zed", Email: "z@x.com", Password: fits, PasswordConfirmation: fits,
	}); err != nil {
		t.Fatalf("Register() with a 72-byte password error = %v", err)
	}
}

// =========================================================================
// LOGIN
// =========================================================================

func TestLogin_Scenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg := env.register(t, "alice", "a@x.com", "secret1")

	_, err := env.auth.Login(ctx, LoginInput{Email: "a@x.com", Password: "wrong"})
	if !errors.Is(err, apperror.ErrInvalidCredentials) {
		t.Fatalf("wrong password error = %v, want ErrInvalidCredentials", err)
	}

	login, err := env.auth.Login(ctx, LoginInput{Email: "a@x.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if login.User.ID != reg.User.ID {
		t.Errorf("logged in as %d, want %d", login.User.ID, reg.User.ID)
	}
	if login.Token == reg.Token {
		t.Error("Login() reused the registration token")
	}

	// both tokens stay valid
	for _, tok := range []string{reg.Token, login.Token} {
		if _, err := env.guard.Authenticate(ctx, "Bearer "+tok); err != nil {
			t.Errorf("token no longer authenticates: %v", err)
		}
	}
}

func TestLogin_UniformFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "a@x.com", "secret1")
	if _, err := env.recon.Reconcile(ctx, ExternalIdentity{ID: "9", Email: "oauth@x.com", Nickname: "o"}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	cases := []LoginInput{
		{Email: "nobody@x.com", Password: "secret1"}, // unknown email
		{Email: "a@x.com", Password: "wrong"},        // wrong password
		{Email: "oauth@x.com", Password: "anything"}, // OAuth-only account
	}

	var messages []string
	for _, in := range cases {
		_, err := env.auth.Login(ctx, in)
		if !errors.Is(err, apperror.ErrInvalidCredentials) {
			t.Fatalf("Login(%s) error = %v, want ErrInvalidCredentials", in.Email, err)
		}
		messages = append(messages, err.Error())
	}

	for _, m := range messages[1:] {
		if m != messages[0] {
			t.Errorf("messages differ: %q vs %q", messages[0], m)
		}
	}
	if env.tokens.count() != 1 {
		t.Errorf("tokens = %d, want 1 (failed logins issue nothing)", env.tokens.count())
	}
}

func TestLogin_Validation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.auth.Login(context.Background(), LoginInput{})

	fields := fieldErrors(t, err)
	if _, ok := fields["email"]; !ok {
		t.Errorf("errors = %v, want email", fields)
	}
	if _, ok := fields["password"]; !ok {
		t.Errorf("errors = %v, want password", fields)
	}
}

// =========================================================================
// LOGOUT
// =========================================================================

func TestLogout_RevokesOnlyPresentedToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg := env.register(t, "alice", "a@x.com", "secret1")
	other, err := env.auth.Login(ctx, LoginInput{Email: "a@x.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	caller, err := env.guard.Authenticate(ctx, "Bearer "+reg.Token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if err := env.auth.Logout(ctx, caller); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if _, err := env.guard.Authenticate(ctx, "Bearer "+reg.Token); !errors.Is(err, apperror.ErrUnauthenticated) {
		t.Errorf("revoked token error = %v, want ErrUnauthenticated", err)
	}
	if _, err := env.guard.Authenticate(ctx, "Bearer "+other.Token); err != nil {
		t.Errorf("sibling token was revoked: %v", err)
	}
}

// =========================================================================
// GITHUB
// =========================================================================

func TestLoginWithGitHubToken(t *testing.T) {
	env := newTestEnv(t)
	env.github.byToken["gho_good"] = &auth.GitHubUser{ID: 42, Login: "octocat", Email: "octo@x.com", AvatarURL: "https://a/42"}

	res, err := env.auth.LoginWithGitHubToken(context.Background(), GitHubTokenInput{AccessToken: "gho_good"})
	if err != nil {
		t.Fatalf("LoginWithGitHubToken() error = %v", err)
	}

	if res.Token == "" || res.User.Username != "octocat" {
		t.Errorf("result = %+v", res)
	}
	for _, tok := range env.tokens.tokens {
		if tok.Name != model.TokenNameGitHub {
			t.Errorf("token name = %q, want %q", tok.Name, model.TokenNameGitHub)
		}
	}
}

func TestLoginWithGitHubToken_Rejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.auth.LoginWithGitHubToken(context.Background(), GitHubTokenInput{AccessToken: "gho_bad"})
	if !errors.Is(err, apperror.ErrExternalAuth) {
		t.Fatalf("error = %v, want ErrExternalAuth", err)
	}
	if env.users.inserts != 0 || env.users.updates != 0 {
		t.Error("store was touched for an unverified identity")
	}
	if env.tokens.count() != 0 {
		t.Error("token issued for an unverified identity")
	}
}

func TestLoginWithGitHubToken_MissingToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.auth.LoginWithGitHubToken(context.Background(), GitHubTokenInput{})
	fields := fieldErrors(t, err)
	if _, ok := fields["access_token"]; !ok {
		t.Errorf("errors = %v, want access_token", fields)
	}
	if env.github.calls != 0 {
		t.Error("GitHub was called without a token")
	}
}

func TestLoginWithGitHubCode(t *testing.T) {
	env := newTestEnv(t)
	env.github.byCode["code-1"] = &auth.GitHubUser{ID: 7, Login: "coder"}

	res, err := env.auth.LoginWithGitHubCode(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("LoginWithGitHubCode() error = %v", err)
	}
	if res.User.Email != "7@github.user" {
		t.Errorf("Email = %q, want placeholder", res.User.Email)
	}

	if _, err := env.auth.LoginWithGitHubCode(context.Background(), "bad"); !errors.Is(err, apperror.ErrExternalAuth) {
		t.Errorf("bad code error = %v, want ErrExternalAuth", err)
	}
	if _, err := env.auth.LoginWithGitHubCode(context.Background(), ""); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("empty code error = %v, want ErrValidation", err)
	}
}

func TestGitHubRedirectURL(t *testing.T) {
	env := newTestEnv(t)

	url, ok := env.auth.GitHubRedirectURL("abc")
	if !ok || !strings.HasSuffix(url, "state=abc") {
		t.Errorf("GitHubRedirectURL() = %q, %v", url, ok)
	}
}

// Each successful authentication issues exactly one token.
func TestOneTokenPerAuthentication(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.github.byToken["t"] = &auth.GitHubUser{ID: 1, Login: "x", Email: "a@x.com"}

	env.register(t, "alice", "a@x.com", "secret1")
	if _, err := env.auth.Login(ctx, LoginInput{Email: "a@x.com", Password: "secret1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.auth.LoginWithGitHubToken(ctx, GitHubTokenInput{AccessToken: "t"}); err != nil {
		t.Fatal(err)
	}

	if env.tokens.count() != 3 {
		t.Errorf("tokens = %d, want 3", env.tokens.count())
	}
}
