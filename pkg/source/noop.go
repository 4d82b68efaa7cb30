package source

import (
	"context"
	"os"
)

// NoOp for testing
type NoOp struct{}

func NewNoOp() *NoOp {
	return &NoOp{}
}

func (s *NoOp) Info() string {
	return "noop:"
}

func (s *NoOp) Fetch(ctx context.Context, targetDir string) error {
	return os.MkdirAll(targetDir, 0o755)
}
