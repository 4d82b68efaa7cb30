// Package resolve builds environment interpreter prefixes, one venv per
// environment digest, and installs dependency manifests into them.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path"

	"github.com/princesrivastav546-cell/pyhost/pkg/manifest"
)

// VenvResolver creates the environment prefix with the interpreter's venv
// module and installs requirements with pip. The installer cache is
// disabled, cached wheels never end up inside published environments.
type VenvResolver struct {
	logger *slog.Logger
}

func NewVenvResolver() *VenvResolver {
	return &VenvResolver{
		logger: slog.Default(),
	}
}

func (r *VenvResolver) Info() string {
	return "venv+pip"
}

func (r *VenvResolver) Interpreter(envDir string) string {
	return path.Join(envDir, "bin", "python")
}

func (r *VenvResolver) Resolve(ctx context.Context, interpreter string, m manifest.Manifest, envDir string) error {
	r.logger.InfoContext(ctx, "creating environment prefix", "interpreter", interpreter, "envDir", envDir)

	out, err := exec.CommandContext(ctx, interpreter, "-m", "venv", envDir).CombinedOutput()
	if err != nil {
		return fmt.Errorf("create venv: %w: %s", err, tail(out, 1000))
	}

	if m.Empty() {
		return nil
	}

	// the manifest rides along in the environment, pip reads it from there
	// and the published env documents what was installed into it
	reqPath := path.Join(envDir, "requirements.txt")
	if err := os.WriteFile(reqPath, m.Content(), 0o644); err != nil {
		return fmt.Errorf("write requirements: %w", err)
	}

	r.logger.InfoContext(ctx, "installing requirements", "entries", len(m.Entries()))

	pip := exec.CommandContext(ctx, r.Interpreter(envDir), "-m", "pip", "install", "--no-cache-dir", "-r", reqPath)
	out, err = pip.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pip install: %w: %s", err, tail(out, 1000))
	}

	return nil
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}

	return string(b[len(b)-n:])
}
