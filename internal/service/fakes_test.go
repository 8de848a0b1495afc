package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/taskflow-api/internal/apperror"
	"github.com/sakif/taskflow-api/internal/auth"
	"github.com/sakif/taskflow-api/internal/model"
)

// =========================================================================
// FAKES
// =========================================================================
//
// In-memory stand-ins for the repositories. They enforce the same UNIQUE
// rules as the SQLite schema so the conflict paths can be exercised.

type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[int64]model.User
	nextID int64

	// beforeInsert runs once, just before the next Insert, to simulate a
	// concurrent request that wins the race.
	beforeInsert func(*fakeUserRepo)
	// findErr, when set, is returned by every Find* call.
	findErr error
	inserts int
	updates int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]model.User), nextID: 1}
}

func (f *fakeUserRepo) find(match func(model.User) bool) (model.User, error) {
	if f.findErr != nil {
		return model.User{}, f.findErr
	}
	for _, u := range f.users {
		if match(u) {
			return u, nil
		}
	}
	return model.User{}, apperror.NotFound("User")
}

func (f *fakeUserRepo) FindByID(_ context.Context, id int64) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(u model.User) bool { return u.ID == id })
}

func (f *fakeUserRepo) FindByEmail(_ context.Context, email string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(u model.User) bool { return u.Email == email })
}

func (f *fakeUserRepo) FindByGitHubID(_ context.Context, githubID string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(u model.User) bool { return u.GitHubID != nil && *u.GitHubID == githubID })
}

// conflictsWith reports a UNIQUE violation against any row other than selfID.
func (f *fakeUserRepo) conflictsWith(user model.User, selfID int64) bool {
	for id, u := range f.users {
		if id == selfID {
			continue
		}
		if u.Email == user.Email {
			return true
		}
		if user.GitHubID != nil && u.GitHubID != nil && *u.GitHubID == *user.GitHubID {
			return true
		}
	}
	return false
}

func (f *fakeUserRepo) insertLocked(user model.User) model.User {
	user.ID = f.nextID
	f.nextID++
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	f.users[user.ID] = user
	return user
}

func (f *fakeUserRepo) Insert(_ context.Context, user model.User) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if hook := f.beforeInsert; hook != nil {
		f.beforeInsert = nil
		hook(f)
	}

	f.inserts++
	if f.conflictsWith(user, 0) {
		return model.User{}, apperror.Conflict("email", "The email has already been taken.")
	}
	return f.insertLocked(user), nil
}

func (f *fakeUserRepo) Update(_ context.Context, user model.User) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updates++
	existing, ok := f.users[user.ID]
	if !ok {
		return model.User{}, apperror.NotFound("User")
	}
	if f.conflictsWith(user, user.ID) {
		return model.User{}, apperror.Conflict("github_id", "This GitHub account is already linked to another user.")
	}
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = time.Now()
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeUserRepo) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return apperror.NotFound("User")
	}
	delete(f.users, id)
	return nil
}

func (f *fakeUserRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]model.AccessToken
	err    error
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]model.AccessToken)}
}

func (f *fakeTokenRepo) Insert(_ context.Context, token model.AccessToken) (model.AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.AccessToken{}, f.err
	}
	if _, dup := f.tokens[token.ID]; dup {
		return model.AccessToken{}, apperror.Conflict("", "The access token already exists.")
	}
	token.CreatedAt = time.Now()
	f.tokens[token.ID] = token
	return token, nil
}

func (f *fakeTokenRepo) Find(_ context.Context, id string) (model.AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[id]
	if !ok {
		return model.AccessToken{}, apperror.NotFound("Access token")
	}
	return t, nil
}

func (f *fakeTokenRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[id]; !ok {
		return apperror.NotFound("Access token")
	}
	delete(f.tokens, id)
	return nil
}

func (f *fakeTokenRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

type fakeTaskRepo struct {
	mu     sync.Mutex
	tasks  map[int64]model.Task
	nextID int64
	clock  time.Time
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{
		tasks:  make(map[int64]model.Task),
		nextID: 1,
		clock:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick hands out strictly increasing timestamps so ordering is deterministic.
func (f *fakeTaskRepo) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeTaskRepo) ListByOwner(_ context.Context, ownerID int64) ([]model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]model.Task, 0)
	for _, t := range f.tasks {
		if t.UserID == ownerID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (f *fakeTaskRepo) FindByID(_ context.Context, ownerID, id int64) (model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.UserID != ownerID {
		return model.Task{}, apperror.NotFound("Task")
	}
	return t, nil
}

func (f *fakeTaskRepo) Insert(_ context.Context, task model.Task) (model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task.ID = f.nextID
	f.nextID++
	task.CreatedAt = f.tick()
	task.UpdatedAt = task.CreatedAt
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeTaskRepo) Update(_ context.Context, task model.Task) (model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.tasks[task.ID]
	if !ok || existing.UserID != task.UserID {
		return model.Task{}, apperror.NotFound("Task")
	}
	task.CreatedAt = existing.CreatedAt
	task.UpdatedAt = f.tick()
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeTaskRepo) Delete(_ context.Context, ownerID, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.UserID != ownerID {
		return apperror.NotFound("Task")
	}
	delete(f.tasks, id)
	return nil
}

// fakeGitHub maps access tokens (and codes) to GitHub profiles.
type fakeGitHub struct {
	byToken map[string]*auth.GitHubUser
	byCode  map[string]*auth.GitHubUser
	calls   int
}

func (f *fakeGitHub) UserFromToken(_ context.Context, accessToken string) (*auth.GitHubUser, error) {
	f.calls++
	u, ok := f.byToken[accessToken]
	if !ok {
		return nil, auth.ErrGitHubTokenRejected
	}
	copied := *u
	return &copied, nil
}

func (f *fakeGitHub) Exchange(_ context.Context, code string) (*auth.GitHubUser, error) {
	f.calls++
	u, ok := f.byCode[code]
	if !ok {
		return nil, errors.New("bad_verification_code")
	}
	copied := *u
	return &copied, nil
}

func (f *fakeGitHub) AuthURL(state string) string {
	return "https://github.example/authorize?state=" + state
}

func (f *fakeGitHub) RedirectEnabled() bool { return true }

// =========================================================================
// HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestTokenService(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// testEnv bundles one fully wired set of services over shared fakes.
type testEnv struct {
	users  *fakeUserRepo
	tokens *fakeTokenRepo
	tasks  *fakeTaskRepo
	github *fakeGitHub

	auth  *AuthService
	guard *Guard
	task  *TaskService
	recon *Reconciler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		users:  newFakeUserRepo(),
		tokens: newFakeTokenRepo(),
		tasks:  newFakeTaskRepo(),
		github: &fakeGitHub{
			byToken: make(map[string]*auth.GitHubUser),
			byCode:  make(map[string]*auth.GitHubUser),
		},
	}

	ts := newTestTokenService(t)
	ps, err := auth.NewPasswordService(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewPasswordService: %v", err)
	}
	logger := testLogger()

	issuer := NewTokenIssuer(ts, env.tokens)
	env.recon = NewReconciler(env.users, logger)
	env.auth = NewAuthService(env.users, ps, issuer, env.recon, env.github, logger)
	env.guard = NewGuard(ts, env.tokens, env.users, logger)
	env.task = NewTaskService(env.tasks, logger)
	return env
}

func (env *testEnv) register(t *testing.T, username, email, password string) AuthResult {
	t.Helper()
	res, err := env.auth.Register(context.Background(), RegisterInput{
		Username:             username,
		Email:                email,
		Password:             password,
		PasswordConfirmation: password,
	})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", email, err)
	}
	return res
}

func ptr(s string) *string { return &s }
