package source

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Archive materializes an application tree from a tar.gz file.
type Archive struct {
	path string
}

func NewArchive(path string) *Archive {
	return &Archive{path: path}
}

func (s *Archive) Info() string {
	return "archive:" + s.path
}

func (s *Archive) Fetch(ctx context.Context, targetDir string) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	return Extract(ctx, f, targetDir)
}

// Extract unpacks a tar.gz stream into targetDir. Entries that would
// escape targetDir are rejected, special files are skipped.
func Extract(ctx context.Context, r io.Reader, targetDir string) error {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}

	gzipReader, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("decompress gzip: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		if err := extractEntry(targetDir, header, tarReader); err != nil {
			return fmt.Errorf("extract tar entry %q: %w", header.Name, err)
		}
	}

	return nil
}

// extractEntry extracts a single tar entry to the target directory
func extractEntry(targetDir string, header *tar.Header, reader io.Reader) error {
	targetPath, err := securePath(targetDir, header.Name)
	if err != nil {
		return err
	}

	switch header.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(targetPath, header.FileInfo().Mode().Perm()); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("mkdir parent: %w", err)
		}

		file, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, header.FileInfo().Mode().Perm())
		if err != nil {
			return fmt.Errorf("open file: %w", err)
		}
		defer file.Close()

		if _, err := io.CopyN(file, reader, header.Size); err != nil && err != io.EOF {
			return fmt.Errorf("copy file content: %w", err)
		}

	case tar.TypeSymlink:
		// Links must stay inside the tree, app trees get no business
		// pointing at host paths.
		if filepath.IsAbs(header.Linkname) {
			return fmt.Errorf("absolute symlink target: %s", header.Linkname)
		}
		resolved := filepath.Join(filepath.Dir(targetPath), header.Linkname)
		if resolved != targetDir && !strings.HasPrefix(resolved, targetDir+string(os.PathSeparator)) {
			return fmt.Errorf("symlink escapes tree: %s -> %s", header.Name, header.Linkname)
		}
		_ = os.Remove(targetPath)
		if err := os.Symlink(header.Linkname, targetPath); err != nil {
			return fmt.Errorf("create symlink: %w", err)
		}

	case tar.TypeLink:
		linkTarget, err := securePath(targetDir, header.Linkname)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("mkdir parent: %w", err)
		}
		if err := os.Link(linkTarget, targetPath); err != nil {
			return fmt.Errorf("create hardlink: %w", err)
		}

	default:
		// device nodes, pipes and friends are skipped
		return nil
	}

	return nil
}

// securePath joins name onto base and rejects results outside of base.
func securePath(base, name string) (string, error) {
	target := filepath.Join(base, filepath.Clean(name))
	if target != base && !strings.HasPrefix(target, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal detected: %s", name)
	}

	return target, nil
}
