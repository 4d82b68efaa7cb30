package source

import (
	"context"
	"fmt"

	"github.com/princesrivastav546-cell/pyhost/pkg/fsutil"
)

// Dir materializes an application tree by copying a local directory.
type Dir struct {
	path string
}

func NewDir(path string) *Dir {
	return &Dir{path: path}
}

func (s *Dir) Info() string {
	return "dir:" + s.path
}

func (s *Dir) Fetch(ctx context.Context, targetDir string) error {
	if err := fsutil.CopyTree(s.path, targetDir); err != nil {
		return fmt.Errorf("copy %s: %w", s.path, err)
	}

	return nil
}
