package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sys/unix"
)

// FileLocker takes advisory locks on files in a shared directory, one file
// per digest. Safe across processes on the same host.
type FileLocker struct {
	dir       string
	pollEvery time.Duration
}

func NewFileLocker(dir string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}

	return &FileLocker{dir: dir, pollEvery: 50 * time.Millisecond}, nil
}

func (l *FileLocker) AcquireLock(ctx context.Context, dgst digest.Digest) (Lock, error) {
	path := filepath.Join(l.dir, dgst.Encoded()+".lock")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &fileLock{f: f}, nil
		}

		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(l.pollEvery):
		}
	}
}

type fileLock struct {
	f *os.File
}

func (l *fileLock) Release() error {
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return errors.Join(err, l.f.Close())
}
