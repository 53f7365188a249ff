// Package repo reads commits and their changed files from a git work tree.
package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sprite-ai/mistborn/internal/model"
)

// ErrNotARepository is returned by Open for paths outside a git work tree.
var ErrNotARepository = errors.New("not a git repository")

// Repository is a git work tree on disk.
type Repository struct {
	dir string
	log *zap.Logger
}

// Open validates that path is a directory inside a git work tree.
func Open(ctx context.Context, path string, log *zap.Logger) (*Repository, error) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("the specified path does not exist or is not a directory: %s", path)
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Repository{dir: path, log: log.Named("repo")}
	out, err := r.git(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil || !strings.Contains(strings.ToLower(string(out)), "true") {
		return nil, fmt.Errorf("%w: %s", ErrNotARepository, path)
	}
	return r, nil
}

// Dir returns the work tree path.
func (r *Repository) Dir() string { return r.dir }

// Name returns the work tree's directory name.
func (r *Repository) Name() string {
	abs, err := filepath.Abs(r.dir)
	if err != nil {
		return filepath.Base(r.dir)
	}
	return filepath.Base(abs)
}

// git runs a git command in the work tree and returns stdout.
func (r *Repository) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", r.dir}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("git %s: %w", args[0], err)
		}
		return nil, fmt.Errorf("git %s: %w: %s", args[0], err, msg)
	}
	return out, nil
}

// TotalCommits counts commits reachable from HEAD.
func (r *Repository) TotalCommits(ctx context.Context) (int, error) {
	out, err := r.git(ctx, "rev-list", "--count", "HEAD")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("parsing commit count: %w", err)
	}
	return n, nil
}

// LatestCommit returns the hash of HEAD.
func (r *Repository) LatestCommit(ctx context.Context) (string, error) {
	out, err := r.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// CommitByNumber returns the n-th commit counting from the oldest, 1-based.
func (r *Repository) CommitByNumber(ctx context.Context, n int) (string, error) {
	out, err := r.git(ctx, "rev-list", "--reverse", "HEAD")
	if err != nil {
		return "", err
	}
	commits := strings.Fields(string(out))
	if n < 1 || n > len(commits) {
		return "", fmt.Errorf("commit number %d is out of range, total commits: %d", n, len(commits))
	}
	return commits[n-1], nil
}

// CommitDiff parses the changes a commit introduced relative to its first
// parent. Root commits diff against the empty tree.
func (r *Repository) CommitDiff(ctx context.Context, hash string) (*DiffSet, error) {
	out, err := r.git(ctx, "diff-tree", "-r", "-p", "--root", "--no-commit-id",
		"--no-color", "--no-ext-diff", "--no-renames", hash)
	if err != nil {
		return nil, err
	}
	return Parse(string(out))
}

// CommitFiles returns every text file changed by the commit, with its full
// content at that commit and its diff. Deleted and binary files are skipped.
func (r *Repository) CommitFiles(ctx context.Context, hash string) ([]model.ChangedFile, error) {
	ds, err := r.CommitDiff(ctx, hash)
	if err != nil {
		return nil, err
	}

	var files []model.ChangedFile
	for _, f := range ds.Files {
		name := f.Path()
		if f.IsDeleted {
			r.log.Debug("skipping deleted file", zap.String("file", name))
			continue
		}
		if f.IsBinary {
			r.log.Info("skipping binary file", zap.String("file", name))
			continue
		}
		content, err := r.git(ctx, "show", hash+":"+name)
		if err != nil {
			r.log.Warn("reading file at commit", zap.String("file", name), zap.Error(err))
			continue
		}
		if IsBinary(content) {
			r.log.Info("skipping binary file", zap.String("file", name))
			continue
		}
		files = append(files, model.ChangedFile{
			Filename: name,
			Content:  string(content),
			Patch:    f.Patch,
		})
	}
	return files, nil
}
