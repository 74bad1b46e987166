// Package repo materializes a remote repository on disk and walks its files.
package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

// ErrCloneFailed is returned when the repository could not be cloned.
var ErrCloneFailed = errors.New("error cloning repository")

// Cloner copies a remote repository into a local directory, replacing
// whatever was there before.
type Cloner interface {
	Clone(ctx context.Context, repoURL, targetDir string) error
}

// ExecCloner shells out to the git binary.
type ExecCloner struct {
	GitPath string
	logger  *zap.Logger
}

func NewExecCloner(logger *zap.Logger) *ExecCloner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecCloner{GitPath: "git", logger: logger}
}

func (c *ExecCloner) Clone(ctx context.Context, repoURL, targetDir string) error {
	if err := removeTarget(targetDir, c.logger); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, c.GitPath, "clone", repoURL, targetDir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%w: %s", ErrCloneFailed, msg)
	}
	c.logger.Info("Repository cloned", zap.String("url", repoURL), zap.String("dir", targetDir))
	return nil
}

// GoGitCloner clones in-process and needs no git binary on the host.
type GoGitCloner struct {
	logger *zap.Logger
}

func NewGoGitCloner(logger *zap.Logger) *GoGitCloner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoGitCloner{logger: logger}
}

func (c *GoGitCloner) Clone(ctx context.Context, repoURL, targetDir string) error {
	if err := removeTarget(targetDir, c.logger); err != nil {
		return err
	}

	_, err := git.PlainCloneContext(ctx, targetDir, false, &git.CloneOptions{URL: repoURL})
	if err != nil {
		// A failed clone can leave a partial .git behind.
		os.RemoveAll(targetDir)
		return fmt.Errorf("%w: %s", ErrCloneFailed, err.Error())
	}
	c.logger.Info("Repository cloned", zap.String("url", repoURL), zap.String("dir", targetDir))
	return nil
}

// NewCloner returns the cloner for a configured backend name.
func NewCloner(backend string, logger *zap.Logger) (Cloner, error) {
	switch backend {
	case "", "git":
		return NewExecCloner(logger), nil
	case "go-git":
		return NewGoGitCloner(logger), nil
	default:
		return nil, fmt.Errorf("unknown clone backend %q", backend)
	}
}

func removeTarget(dir string, logger *zap.Logger) error {
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat target directory: %w", err)
	}
	logger.Info("Target directory already exists, removing it", zap.String("dir", dir))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove target directory %s: %w", dir, err)
	}
	return nil
}
