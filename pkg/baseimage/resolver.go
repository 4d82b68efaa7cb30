package baseimage

import (
	"context"

	"github.com/opencontainers/go-digest"
)

// Runtime is a resolved and pinned base runtime. Digest fixes the identity
// of what was declared (e.g. "python:3.10") at build time, Env carries the
// variables baked into the base, Interpreter is the host binary that seeds
// new environments.
type Runtime struct {
	Ref         string
	Digest      digest.Digest
	Env         []string
	Interpreter string
}

// Resolver abstracts where base runtimes come from (registry, local host, etc.)
type Resolver interface {
	Resolve(ctx context.Context) (*Runtime, error)
	Info() string
}
