// Package sourcecontrol talks to GitHub: authentication, repository listing,
// hydrating a repository into the sandbox and opening pull requests.
package sourcecontrol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"
)

var (
	// ErrNotAuthenticated is returned before Authenticate has succeeded.
	ErrNotAuthenticated = errors.New("not authenticated with GitHub")
	// ErrNoActiveRepo is returned when a pull request has no repository to target.
	ErrNoActiveRepo = errors.New("no active repository")
)

// User is the authenticated account.
type User struct {
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Repo is a repository visible to the authenticated user.
type Repo struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"fullName"`
	Owner         string    `json:"owner"`
	Description   string    `json:"description,omitempty"`
	Private       bool      `json:"private"`
	DefaultBranch string    `json:"defaultBranch"`
	HTMLURL       string    `json:"htmlUrl"`
	Language      string    `json:"language,omitempty"`
	Stars         int       `json:"stars"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// PullRequest describes a pull request to open.
type PullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// PRResult is an opened pull request.
type PRResult struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Base   string `json:"base"`
	Head   string `json:"head"`
}

// GitHub holds the authenticated client and the active repository.
type GitHub struct {
	mu         sync.RWMutex
	client     *github.Client
	token      string
	user       *User
	active     *Repo
	hydration  HydrationState
	baseURL    string
	httpClient *http.Client
	cloneBase  string
	cloneHost  string
	onProgress func(HydrationState)
	logger     *slog.Logger
}

// Option configures a GitHub client.
type Option func(*GitHub)

// WithBaseURL points the API client at another endpoint.
func WithBaseURL(u string) Option {
	return func(g *GitHub) {
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		g.baseURL = u
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(g *GitHub) { g.httpClient = c }
}

// WithCloneBase sets the directory repositories are cloned into.
func WithCloneBase(dir string) Option {
	return func(g *GitHub) { g.cloneBase = strings.TrimRight(dir, "/") }
}

// WithCloneHost sets the host used in clone URLs.
func WithCloneHost(host string) Option {
	return func(g *GitHub) { g.cloneHost = host }
}

// WithProgress registers a callback for hydration phases.
func WithProgress(fn func(HydrationState)) Option {
	return func(g *GitHub) { g.onProgress = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *GitHub) { g.logger = l }
}

// New creates an unauthenticated GitHub client.
func New(opts ...Option) *GitHub {
	g := &GitHub{
		cloneBase: "/home/user",
		cloneHost: "github.com",
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *GitHub) newClient(token string) (*github.Client, error) {
	c := github.NewClient(g.httpClient).WithAuthToken(token)
	if g.baseURL != "" {
		u, err := url.Parse(g.baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		c.BaseURL = u
	}
	return c, nil
}

// Authenticate verifies the token and keeps it for later calls. A failed
// attempt clears any previous session.
func (g *GitHub) Authenticate(ctx context.Context, token string) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return User{}, errors.New("token is required")
	}
	c, err := g.newClient(token)
	if err != nil {
		return User{}, err
	}
	u, _, err := c.Users.Get(ctx, "")
	if err != nil {
		g.Disconnect()
		return User{}, fmt.Errorf("authenticate: %w", err)
	}
	user := User{
		Login:     u.GetLogin(),
		Name:      u.GetName(),
		Email:     u.GetEmail(),
		AvatarURL: u.GetAvatarURL(),
	}

	g.mu.Lock()
	g.client, g.token, g.user = c, token, &user
	g.mu.Unlock()

	g.logger.Info("github authenticated", "login", user.Login)
	return user, nil
}

// Disconnect forgets the token and the active repository.
func (g *GitHub) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.client, g.token, g.user, g.active = nil, "", nil, nil
	g.hydration = HydrationState{Phase: PhaseIdle}
}

// User returns the authenticated account, if any.
func (g *GitHub) User() (User, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.user == nil {
		return User{}, false
	}
	return *g.user, true
}

// Ready reports whether a token has been verified.
func (g *GitHub) Ready() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.client != nil
}

// ActiveRepo returns the repository pull requests target.
func (g *GitHub) ActiveRepo() (Repo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.active == nil {
		return Repo{}, false
	}
	return *g.active, true
}

// SelectRepo sets the active repository.
func (g *GitHub) SelectRepo(r Repo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = &r
}

func (g *GitHub) session() (*github.Client, string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.client == nil {
		return nil, "", ErrNotAuthenticated
	}
	return g.client, g.token, nil
}

func fromGitHub(r *github.Repository) Repo {
	return Repo{
		ID:            r.GetID(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Owner:         r.GetOwner().GetLogin(),
		Description:   r.GetDescription(),
		Private:       r.GetPrivate(),
		DefaultBranch: r.GetDefaultBranch(),
		HTMLURL:       r.GetHTMLURL(),
		Language:      r.GetLanguage(),
		Stars:         r.GetStargazersCount(),
		UpdatedAt:     r.GetUpdatedAt().Time,
	}
}

// ListRepos returns up to 100 repositories, most recently updated first.
func (g *GitHub) ListRepos(ctx context.Context) ([]Repo, error) {
	c, _, err := g.session()
	if err != nil {
		return nil, err
	}
	repos, _, err := c.Repositories.ListByAuthenticatedUser(ctx, &github.RepositoryListByAuthenticatedUserOptions{
		Affiliation: "owner,collaborator,organization_member",
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	out := make([]Repo, 0, len(repos))
	for _, r := range repos {
		out = append(out, fromGitHub(r))
	}
	g.logger.Debug("github repositories listed", "count", len(out))
	return out, nil
}

// GetRepo looks up a repository by "owner/name".
func (g *GitHub) GetRepo(ctx context.Context, fullName string) (Repo, error) {
	c, _, err := g.session()
	if err != nil {
		return Repo{}, err
	}
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return Repo{}, err
	}
	r, _, err := c.Repositories.Get(ctx, owner, name)
	if err != nil {
		return Repo{}, fmt.Errorf("get repository %s: %w", fullName, err)
	}
	return fromGitHub(r), nil
}

// CreatePullRequest opens a pull request on the active repository. An empty
// base targets the default branch.
func (g *GitHub) CreatePullRequest(ctx context.Context, pr PullRequest) (PRResult, error) {
	c, _, err := g.session()
	if err != nil {
		return PRResult{}, err
	}
	repo, ok := g.ActiveRepo()
	if !ok {
		return PRResult{}, ErrNoActiveRepo
	}
	if pr.Title == "" || pr.Head == "" {
		return PRResult{}, errors.New("title and head are required")
	}
	base := pr.Base
	if base == "" {
		base = repo.DefaultBranch
	}
	if base == "" {
		base = "main"
	}

	created, _, err := c.PullRequests.Create(ctx, repo.Owner, repo.Name, &github.NewPullRequest{
		Title: github.String(pr.Title),
		Body:  github.String(pr.Body),
		Head:  github.String(pr.Head),
		Base:  github.String(base),
	})
	if err != nil {
		return PRResult{}, fmt.Errorf("create pull request: %w", err)
	}
	g.logger.Info("github pull request created", "repo", repo.FullName, "number", created.GetNumber())
	return PRResult{
		Number: created.GetNumber(),
		URL:    created.GetHTMLURL(),
		Title:  created.GetTitle(),
		Base:   base,
		Head:   pr.Head,
	}, nil
}

func splitFullName(fullName string) (string, string, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(fullName), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q: want owner/name", fullName)
	}
	return owner, name, nil
}
