package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/config"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/logging"
)

// GitHubProvisioner makes sure the archive's GitHub repository exists.
type GitHubProvisioner struct {
	client *github.Client
	logger logging.Logger
}

// NewGitHubProvisioner authenticates with token. apiURL overrides the
// public API endpoint (GitHub Enterprise or tests).
func NewGitHubProvisioner(ctx context.Context, token, apiURL string, logger logging.Logger) (*GitHubProvisioner, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if apiURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(apiURL, apiURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", apiURL, err)
		}
	}
	return &GitHubProvisioner{client: client, logger: logging.OrNop(logger)}, nil
}

// Ensure returns the clone URL of fullName ("owner/name"), creating the
// repository when it does not exist yet.
func (p *GitHubProvisioner) Ensure(ctx context.Context, fullName string, private bool) (string, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" {
		return "", fmt.Errorf("repository must be owner/name, got %q", fullName)
	}

	repo, resp, err := p.client.Repositories.Get(ctx, owner, name)
	if err == nil {
		return repo.GetCloneURL(), nil
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		return "", fmt.Errorf("failed to look up repository %s: %w", fullName, err)
	}

	// Repositories.Create takes "" for the authenticated user's account.
	org := owner
	user, _, err := p.client.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("failed to read authenticated user: %w", err)
	}
	if strings.EqualFold(user.GetLogin(), owner) {
		org = ""
	}

	created, resp, err := p.client.Repositories.Create(ctx, org, &github.Repository{
		Name:        github.String(name),
		Description: github.String("Generated Gherkin feature files"),
		Private:     github.Bool(private),
		AutoInit:    github.Bool(false),
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("failed to create repository: organization %q not found or token lacks permission", owner)
		}
		return "", fmt.Errorf("failed to create repository %s: %w", fullName, err)
	}
	p.logger.Info("Created GitHub repository %s", created.GetFullName())
	return created.GetCloneURL(), nil
}

// ResolveRemote fills cfg.Remote from cfg.GitHubRepo when only the latter
// is configured.
func ResolveRemote(ctx context.Context, cfg config.ArchiveConfig, logger logging.Logger) (config.ArchiveConfig, error) {
	if cfg.Remote != "" || cfg.GitHubRepo == "" {
		return cfg, nil
	}
	if cfg.Token == "" {
		return cfg, errors.New("a token is required to provision a GitHub repository")
	}
	p, err := NewGitHubProvisioner(ctx, cfg.Token, cfg.GitHubAPIURL, logger)
	if err != nil {
		return cfg, err
	}
	remote, err := p.Ensure(ctx, cfg.GitHubRepo, cfg.GitHubPrivate)
	if err != nil {
		return cfg, err
	}
	cfg.Remote = remote
	return cfg, nil
}
