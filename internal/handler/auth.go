package handler

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rs/xid"

	"github.com/sakif/taskflow-api/internal/auth"
	"github.com/sakif/taskflow-api/internal/service"
)

const stateCookieName = "oauth_state"

// AuthHandler serves registration, login, logout, the current user, and
// both GitHub flows.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister        → POST /api/register
//   - HandleLogin           → POST /api/login
//   - HandleGitHubToken     → POST /api/auth/github (mobile: client holds a GitHub token)
//   - HandleUser            → GET  /api/user
//   - HandleLogout          → POST /api/logout
//   - HandleGitHubRedirect  → GET  /auth/github/redirect (browser)
//   - HandleGitHubCallback  → GET  /login/oauth2/code/github (browser)
type AuthHandler struct {
	auth *service.AuthService
	// appRedirectURI receives ?token=... at the end of the browser flow.
	appRedirectURI string
	logger         *slog.Logger
}

func NewAuthHandler(authService *service.AuthService, appRedirectURI string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:           authService,
		appRedirectURI: appRedirectURI,
		logger:         logger,
	}
}

// HandleRegister creates a password account.
//
// HTTP: POST /api/register
// BODY: {"username", "email", "password", "password_confirmation"}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.auth.Register(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "Registration successful", res)
}

// HandleLogin exchanges an email/password pair for a new token.
//
// HTTP: POST /api/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in service.LoginInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.auth.Login(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Login successful", res)
}

// HandleGitHubToken signs in with an access token the client already
// obtained from GitHub.
//
// HTTP: POST /api/auth/github
// BODY: {"access_token": "gho_..."}
func (h *AuthHandler) HandleGitHubToken(w http.ResponseWriter, r *http.Request) {
	var in service.GitHubTokenInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.auth.LoginWithGitHubToken(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "GitHub login successful", res)
}

// HandleUser returns the authenticated user.
//
// HTTP: GET /api/user
// Auth: Required
func (h *AuthHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Unauthenticated.")
		return
	}

	writeSuccess(w, http.StatusOK, "User retrieved successfully", caller.User)
}

// HandleLogout revokes the token this request was made with. Other tokens
// belonging to the same user stay valid.
//
// HTTP: POST /api/logout
// Auth: Required
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Unauthenticated.")
		return
	}

	if err := h.auth.Logout(r.Context(), caller); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Logged out successfully", nil)
}

// HandleGitHubRedirect starts the browser flow.
//
// HTTP: GET /auth/github/redirect
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived HttpOnly cookie and into the
// GitHub URL. The callback only proceeds when both come back equal.
func (h *AuthHandler) HandleGitHubRedirect(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	target, ok := h.auth.GitHubRedirectURL(state)
	if !ok {
		writeFailure(w, http.StatusNotFound, "GitHub login is not configured")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// HandleGitHubCallback finishes the browser flow.
//
// HTTP: GET /login/oauth2/code/github?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter against the cookie
//  2. Exchange the code and reconcile the GitHub user
//  3. Redirect to {appRedirectURI}?token=... so the app can pick it up
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// --- Step 1: CSRF state ---
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || query.Get("state") != stateCookie.Value {
		h.logger.Warn("github callback: invalid state")
		writeFailure(w, http.StatusBadRequest, "Invalid OAuth state")
		return
	}

	// single use
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := query.Get("error"); errParam != "" {
		h.logger.Info("github callback: authorization denied", slog.String("error", errParam))
		writeFailure(w, http.StatusUnauthorized, "GitHub authentication failed")
		return
	}

	// --- Step 2: exchange + reconcile ---
	res, err := h.auth.LoginWithGitHubCode(r.Context(), query.Get("code"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	// --- Step 3: hand the token to the app ---
	http.Redirect(w, r, appRedirect(h.appRedirectURI, res.Token), http.StatusFound)
}

// appRedirect appends token to base, keeping any query base already has.
func appRedirect(base, token string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
