package lock

import (
	"context"

	"github.com/opencontainers/go-digest"
)

// Locker serializes concurrent builds of the same environment.
// AcquireLock blocks until the lock is held or the context is cancelled.
type Locker interface {
	AcquireLock(ctx context.Context, digest digest.Digest) (Lock, error)
}

// Lock is an acquired lock that must be released by the holder.
type Lock interface {
	Release() error
}
