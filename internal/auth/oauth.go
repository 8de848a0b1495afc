package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// ErrGitHubTokenRejected means GitHub answered 401/403 for the access token.
// Any other failure (network, 5xx, bad JSON) is returned as a plain error.
var ErrGitHubTokenRejected = errors.New("auth: GitHub rejected the access token")

const defaultGitHubAPI = "https://api.github.com"

// GitHubUser is the subset of GET /user we use.
// API docs: https://docs.github.com/en/rest/users/users#get-the-authenticated-user
type GitHubUser struct {
	ID        int64  `json:"id"`         // stable, never reused
	Login     string `json:"login"`      // nickname, e.g. "octocat"
	Name      string `json:"name"`       // display name, often empty
	Email     string `json:"email"`      // public email, empty when hidden
	AvatarURL string `json:"avatar_url"` // profile picture
}

// IDString is the form stored in users.github_id.
func (u GitHubUser) IDString() string {
	return strconv.FormatInt(u.ID, 10)
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubProvider talks to GitHub on behalf of a user.
//
// TWO ENTRY POINTS:
//   - UserFromToken: the mobile app already ran the OAuth dance and posts
//     its GitHub access token to /api/auth/github. We only look the user up.
//   - Exchange: the browser flow. GitHub redirects back with a code, we
//     trade it for an access token server-to-server, then look the user up.
type GitHubProvider struct {
	config     *oauth2.Config
	apiBaseURL string
}

// NewGitHubProvider configures the OAuth app. clientID/clientSecret come from
// https://github.com/settings/developers. callbackURL must match the app's
// registered "Authorization callback URL" exactly.
//
// Scopes: read:user for the profile, user:email so /user/emails works when
// the user hides their address.
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBaseURL: defaultGitHubAPI,
	}
}

// RedirectEnabled reports whether the browser code flow can run. Token-based
// login works without client credentials.
func (p *GitHubProvider) RedirectEnabled() bool {
	return p.config.ClientID != "" && p.config.ClientSecret != ""
}

// AuthURL is where the browser goes to approve access. state is echoed back
// on the callback and compared against a cookie (CSRF protection).
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for an access token and returns the
// profile behind it.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*GitHubUser, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}
	return p.fetchUser(ctx, p.config.Client(ctx, oauthToken))
}

// UserFromToken looks up the GitHub user that owns accessToken.
func (p *GitHubProvider) UserFromToken(ctx context.Context, accessToken string) (*GitHubUser, error) {
	if accessToken == "" {
		return nil, ErrGitHubTokenRejected
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	return p.fetchUser(ctx, client)
}

// fetchUser calls GET /user and, if the email is hidden, GET /user/emails.
// client already carries the Authorization header.
func (p *GitHubProvider) fetchUser(ctx context.Context, client *http.Client) (*GitHubUser, error) {
	var ghUser GitHubUser
	if err := p.getJSON(ctx, client, "/user", &ghUser); err != nil {
		return nil, err
	}

	if ghUser.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}

	if ghUser.Email == "" {
		// Best effort: a token without user:email scope gets 404 here, and
		// the reconciler has a fallback address for that case.
		var emails []githubEmail
		if err := p.getJSON(ctx, client, "/user/emails", &emails); err == nil {
			ghUser.Email = pickEmail(emails)
		}
	}

	return &ghUser, nil
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("auth: building GitHub %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: calling GitHub %s API: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w (status %d on %s)", ErrGitHubTokenRejected, resp.StatusCode, path)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("auth: GitHub %s API returned status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("auth: decoding GitHub %s response: %w", path, err)
	}
	return nil
}

// pickEmail prefers the primary verified address, then any verified one.
func pickEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email
		}
	}
	return ""
}
