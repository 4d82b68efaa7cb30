package source

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// GitBinEnv overrides the git binary used for cloning.
const GitBinEnv = "PYHOST_GIT"

// Git materializes an application tree with a shallow clone. The ref is
// a clone URL, optionally with "#branch" appended.
type Git struct {
	url    string
	branch string
}

func NewGit(ref string) *Git {
	url, branch, _ := strings.Cut(ref, "#")
	return &Git{url: url, branch: branch}
}

func (s *Git) Info() string {
	if s.branch != "" {
		return "git:" + s.url + "#" + s.branch
	}

	return "git:" + s.url
}

func (s *Git) Fetch(ctx context.Context, targetDir string) error {
	bin := os.Getenv(GitBinEnv)
	if bin == "" {
		bin = "git"
	}

	args := []string{"clone", "--depth", "1"}
	if s.branch != "" {
		args = append(args, "--branch", s.branch)
	}
	args = append(args, s.url, targetDir)

	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone %s: %w: %s", s.url, err, strings.TrimSpace(string(out)))
	}

	return nil
}
