package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// TempGitRepo is a throwaway repository with one commit, used to exercise
// git state capture.
type TempGitRepo struct {
	Path string
	T    *testing.T
}

// NewTempGitRepo initializes a repository holding a committed README.md.
func NewTempGitRepo(t *testing.T) *TempGitRepo {
	t.Helper()

	dir, err := os.MkdirTemp("", "ctxsnap-repo-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	r := &TempGitRepo{Path: dir, T: t}

	r.git("init", "-q")
	r.git("config", "user.name", "Test User")
	r.git("config", "user.email", "test@example.com")
	r.git("config", "commit.gpgsign", "false")
	r.CreateFile("README.md", "# scratch\n")
	r.Commit("initial")
	return r
}

func (r *TempGitRepo) git(args ...string) {
	r.T.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Path
	if out, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(r.Path)
		r.T.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

// Cleanup removes the repository.
func (r *TempGitRepo) Cleanup() {
	r.T.Helper()
	if err := os.RemoveAll(r.Path); err != nil {
		r.T.Errorf("failed to remove temp repo: %v", err)
	}
}

// CreateFile writes name relative to the repository root.
func (r *TempGitRepo) CreateFile(name, content string) {
	r.T.Helper()
	path := filepath.Join(r.Path, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.T.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		r.T.Fatalf("failed to write %s: %v", name, err)
	}
}

// Stage adds the named paths to the index without committing.
func (r *TempGitRepo) Stage(names ...string) {
	r.T.Helper()
	r.git(append([]string{"add", "--"}, names...)...)
}

// Commit stages everything and commits it.
func (r *TempGitRepo) Commit(message string) {
	r.T.Helper()
	r.git("add", "-A")
	r.git("commit", "-q", "-m", message)
}
