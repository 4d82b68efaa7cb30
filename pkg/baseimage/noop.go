package baseimage

import (
	"context"

	"github.com/opencontainers/go-digest"
)

// NoOpResolver for testing
type NoOpResolver struct{}

func NewNoOpResolver() *NoOpResolver {
	return &NoOpResolver{}
}

func (r *NoOpResolver) Info() string {
	return "docker.io/library/noop:latest"
}

func (r *NoOpResolver) Resolve(ctx context.Context) (*Runtime, error) {
	return &Runtime{
		Ref:         "docker.io/library/noop:latest",
		Digest:      digest.FromString("noop-runtime"),
		Env:         []string{"PATH=/usr/local/bin:/usr/bin:/bin", "LANG=C.UTF-8"},
		Interpreter: "/usr/bin/true",
	}, nil
}
