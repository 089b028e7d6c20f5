// Package archive writes generated feature files to disk and versions them
// in a local git repository, optionally pushing to a remote.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/config"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/logging"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

const (
	remoteName         = "origin"
	defaultPushTimeout = 2 * time.Minute
)

// Archive handles feature file storage.
type Archive struct {
	// mu guards the worktree; pushMu serializes pushes.
	mu     sync.Mutex
	pushMu sync.Mutex
	pushes sync.WaitGroup
	dir    string
	repo   *git.Repository
	cfg    config.ArchiveConfig
	logger logging.Logger
}

// Open opens the repository at dir, initializing it when absent.
func Open(dir string, cfg config.ArchiveConfig, logger logging.Logger) (*Archive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open feature archive %s: %w", dir, err)
	}

	a := &Archive{dir: dir, repo: repo, cfg: cfg, logger: logging.OrNop(logger)}
	if cfg.Remote != "" {
		if err := a.ensureRemote(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Dir returns the archive root.
func (a *Archive) Dir() string {
	return a.dir
}

func (a *Archive) ensureRemote() error {
	remote, err := a.repo.Remote(remoteName)
	if errors.Is(err, git.ErrRemoteNotFound) {
		_, err = a.repo.CreateRemote(&gitconfig.RemoteConfig{
			Name: remoteName,
			URLs: []string{a.cfg.Remote},
		})
		if err != nil {
			return fmt.Errorf("failed to add remote: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read remote: %w", err)
	}
	if urls := remote.Config().URLs; len(urls) == 0 || urls[0] != a.cfg.Remote {
		a.logger.Warn("Remote %s points to %v, not %s; keeping existing remote", remoteName, urls, a.cfg.Remote)
	}
	return nil
}

// FileName returns the archive file name for a feature kind generated at at.
func FileName(kind task.FeatureKind, at time.Time) string {
	return fmt.Sprintf("%s_tests_%s.feature", kind, at.Format("20060102_150405"))
}

// Save writes each feature under <dir>/<taskID>/ and commits them. When a
// remote is configured the push runs in the background under its own
// timeout; push failures are logged only. Features are returned with
// FilePath set.
func (a *Archive) Save(ctx context.Context, taskID string, features []task.Feature, at time.Time) ([]task.Feature, error) {
	out, err := a.commit(ctx, taskID, features, at)
	if err != nil {
		return nil, err
	}
	if a.cfg.Remote != "" {
		a.schedulePush(ctx, taskID)
	}
	return out, nil
}

func (a *Archive) commit(ctx context.Context, taskID string, features []task.Feature, at time.Time) ([]task.Feature, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	w, err := a.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	out := make([]task.Feature, len(features))
	for i, f := range features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel := filepath.Join(taskID, FileName(f.Kind, at))
		full := filepath.Join(a.dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", rel, err)
		}
		if err := os.WriteFile(full, []byte(f.Content), 0644); err != nil {
			return nil, fmt.Errorf("failed to write file %s: %w", full, err)
		}
		if _, err := w.Add(filepath.ToSlash(rel)); err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", rel, err)
		}
		f.FilePath = full
		out[i] = f
		a.logger.Info("Saved feature file: %s", full)
	}

	_, err = w.Commit(fmt.Sprintf("Add generated features for task %s", taskID), &git.CommitOptions{
		Author: &object.Signature{
			Name:  a.cfg.AuthorName,
			Email: a.cfg.AuthorEmail,
			When:  at,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return out, nil
}

// schedulePush pushes the current branch without holding up the caller.
// The push keeps ctx's values but not its deadline.
func (a *Archive) schedulePush(ctx context.Context, taskID string) {
	timeout := a.cfg.PushTimeout
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	a.pushes.Add(1)
	go func() {
		defer a.pushes.Done()
		a.pushMu.Lock()
		defer a.pushMu.Unlock()

		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := a.push(pushCtx); err != nil {
			a.logger.Warn("Feature archive push failed for task %s: %v", taskID, err)
			return
		}
		a.logger.Debug("Pushed feature archive for task %s", taskID)
	}()
}

// Wait blocks until background pushes finish or ctx is done.
func (a *Archive) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.pushes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("feature archive pushes still running: %w", ctx.Err())
	}
}

func (a *Archive) push(ctx context.Context) error {
	opts := &git.PushOptions{RemoteName: remoteName}
	if a.cfg.Token != "" {
		opts.Auth = &http.BasicAuth{
			Username: "git",
			Password: a.cfg.Token,
		}
	}
	err := a.repo.PushContext(ctx, opts)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push: %w", err)
	}
	return nil
}
