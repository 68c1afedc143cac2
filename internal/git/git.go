package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pders01/ctxsnap/internal/models"
)

// ProbeTimeout bounds each git invocation made while capturing a snapshot.
const ProbeTimeout = 3 * time.Second

// IsGitRepo checks if dir is inside a git work tree
func IsGitRepo(ctx context.Context, dir string) bool {
	_, err := run(ctx, dir, "rev-parse", "--git-dir")
	return err == nil
}

// GetCurrentBranch returns the current branch name
func GetCurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// GetCurrentCommit returns the current commit hash
func GetCurrentCommit(ctx context.Context, dir string) (string, error) {
	out, err := run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current commit: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// StatusCounts summarises `git status --porcelain` output.
func StatusCounts(ctx context.Context, dir string) (changed, staged, untracked int, err error) {
	out, err := run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to check git status: %w", err)
	}
	changed, staged, untracked = ParsePorcelain(out)
	return changed, staged, untracked, nil
}

// ParsePorcelain counts worktree changes, index changes and untracked
// paths. A path modified in both the index and the worktree counts once in
// each.
func ParsePorcelain(out string) (changed, staged, untracked int) {
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 3 {
			continue
		}
		x, y := line[0], line[1]
		if x == '?' && y == '?' {
			untracked++
			continue
		}
		if x != ' ' && x != '!' {
			staged++
		}
		if y != ' ' && y != '!' {
			changed++
		}
	}
	return changed, staged, untracked
}

// Probe captures the git state of dir. A directory outside any repository
// yields a zero GitState and no error; each git call is bounded by
// ProbeTimeout.
func Probe(ctx context.Context, dir string) (models.GitState, error) {
	var st models.GitState
	if !IsGitRepo(ctx, dir) {
		return st, nil
	}

	branch, err := GetCurrentBranch(ctx, dir)
	if err != nil {
		return st, err
	}
	st.Branch = branch

	// A fresh repository has no HEAD commit yet.
	if sha, err := GetCurrentCommit(ctx, dir); err == nil {
		st.SHA = sha
	}

	changed, staged, untracked, err := StatusCounts(ctx, dir)
	if err != nil {
		return st, err
	}
	st.Changed, st.Staged, st.Untracked = changed, staged, untracked
	st.Dirty = changed+staged+untracked > 0
	return st, nil
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("git %s: %w", args[0], ctx.Err())
		}
		return "", err
	}
	return string(output), nil
}
