// Package gitvc implements the version-control worker adapter with go-git:
// phase branches, commits of generated file maps, and review-request URLs
// against a configured remote.
package gitvc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/SamHATIT/fabrica/config"
	"github.com/SamHATIT/fabrica/errors"
)

// Adapter drives a local working repository. One adapter serves one
// execution's build; phase branches are created from the configured base.
type Adapter struct {
	repoPath    string
	remote      string
	authorName  string
	authorEmail string
	logger      *zap.SugaredLogger
}

// New creates a version-control adapter from the git configuration.
func New(cfg config.GitConfig, logger *zap.SugaredLogger) *Adapter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Adapter{
		repoPath:    cfg.RepoPath,
		remote:      cfg.Remote,
		authorName:  cfg.AuthorName,
		authorEmail: cfg.AuthorEmail,
		logger:      logger,
	}
}

func (a *Adapter) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(a.repoPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open repository at %s", a.repoPath)
	}
	return repo, nil
}

// CreateBranch creates (or resets) a branch from base and checks it out.
func (a *Adapter) CreateBranch(ctx context.Context, name, base string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "branch creation cancelled")
	}

	repo, err := a.open()
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return errors.Wrap(err, "failed to get worktree")
	}

	baseRef, err := repo.Reference(plumbing.NewBranchReferenceName(base), true)
	if err != nil {
		return errors.Wrapf(err, "base branch %s not found", base)
	}

	branchRef := plumbing.NewBranchReferenceName(name)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRef, baseRef.Hash())); err != nil {
		return errors.Wrapf(err, "failed to create branch %s", name)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef}); err != nil {
		return errors.Wrapf(err, "failed to checkout branch %s", name)
	}

	a.logger.Debugw("Branch created", "branch", name, "base", base)
	return nil
}

// CommitFiles writes the file map into the worktree, stages it, and
// commits. Returns the new commit's hash.
func (a *Adapter) CommitFiles(ctx context.Context, files map[string]string, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, "commit cancelled")
	}
	if len(files) == 0 {
		return "", errors.New("nothing to commit")
	}

	repo, err := a.open()
	if err != nil {
		return "", err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return "", errors.Wrap(err, "failed to get worktree")
	}

	for path, content := range files {
		if strings.Contains(path, "..") || filepath.IsAbs(path) {
			return "", errors.Newf("refusing to write outside the repository: %s", path)
		}
		full := filepath.Join(a.repoPath, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return "", errors.Wrapf(err, "failed to create directory for %s", path)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return "", errors.Wrapf(err, "failed to write %s", path)
		}
		if _, err := worktree.Add(path); err != nil {
			return "", errors.Wrapf(err, "failed to stage %s", path)
		}
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  a.authorName,
			Email: a.authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to commit")
	}

	a.logger.Infow("Files committed",
		"files", len(files),
		"commit", hash.String()[:7],
	)
	return hash.String(), nil
}

// CreatePR pushes the head branch to the configured remote and returns
// the host's compare URL for opening a review request. With no remote
// configured the branch stays local and a local reference URL is
// returned.
func (a *Adapter) CreatePR(ctx context.Context, title, body, head, base string) (string, error) {
	if a.remote == "" {
		a.logger.Debugw("No remote configured, review request stays local", "head", head)
		return "local://" + head, nil
	}

	repo, err := a.open()
	if err != nil {
		return "", err
	}

	refSpec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", head, head))
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: a.remote,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return "", errors.Wrapf(err, "failed to push %s to %s", head, a.remote)
	}

	remote, err := repo.Remote(a.remote)
	if err != nil {
		return "", errors.Wrapf(err, "remote %s not found", a.remote)
	}
	url := compareURL(remote.Config().URLs[0], base, head)

	a.logger.Infow("Review request prepared",
		"title", title,
		"head", head,
		"base", base,
		"url", url,
	)
	return url, nil
}

// compareURL derives the host's pull-request creation URL from a remote
// URL. Handles HTTPS and SSH forms of the common hosts.
func compareURL(remoteURL, base, head string) string {
	url := strings.TrimSuffix(remoteURL, ".git")
	if strings.HasPrefix(url, "git@") {
		// git@host:user/repo -> https://host/user/repo
		url = strings.TrimPrefix(url, "git@")
		url = "https://" + strings.Replace(url, ":", "/", 1)
	}
	return fmt.Sprintf("%s/compare/%s...%s", url, base, head)
}
