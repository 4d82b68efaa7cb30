package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/princesrivastav546-cell/pyhost/pkg/fsutil"
)

// File materializes an application tree from a single script file, the
// classic "upload one .py file" case.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (s *File) Info() string {
	return "file:" + s.path
}

func (s *File) Fetch(ctx context.Context, targetDir string) error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a file", s.path)
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}

	dst := filepath.Join(targetDir, filepath.Base(s.path))
	if err := fsutil.CopyFile(s.path, dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("copy %s: %w", s.path, err)
	}

	return nil
}
