package resolve

import (
	"context"
	"os"
	"path"

	"github.com/princesrivastav546-cell/pyhost/pkg/manifest"
)

// NoOpResolver creates an empty environment layout without shelling out.
// Used for tests and dry runs.
type NoOpResolver struct{}

func NewNoOpResolver() *NoOpResolver {
	return &NoOpResolver{}
}

func (r *NoOpResolver) Info() string {
	return "noop"
}

func (r *NoOpResolver) Interpreter(envDir string) string {
	return path.Join(envDir, "bin", "python")
}

func (r *NoOpResolver) Resolve(_ context.Context, _ string, _ manifest.Manifest, envDir string) error {
	if err := os.MkdirAll(path.Join(envDir, "bin"), 0o755); err != nil {
		return err
	}

	return os.WriteFile(r.Interpreter(envDir), []byte("#!/bin/sh\n"), 0o755)
}
