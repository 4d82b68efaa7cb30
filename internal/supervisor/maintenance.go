package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/princesrivastav546-cell/pyhost/pkg/fsutil"
)

const (
	// logMaxBytes is the size at which an app log is trimmed back down to
	// its tail. Apps log to a single file for their whole lifetime.
	logMaxBytes  = 10 << 20
	logKeepBytes = 64 << 10
)

// Maintain runs housekeeping until ctx is cancelled: oversized app logs
// are trimmed to their tail and the data dir usage is reported.
func (m *Manager) Maintain(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	appsDir := path.Join(m.cfg.DataDir, "apps")
	entries, err := os.ReadDir(appsDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.WarnContext(ctx, "sweep cannot list apps", "error", err)
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		trimmed, err := trimLog(m.LogPath(entry.Name()), logMaxBytes, logKeepBytes)
		if err != nil {
			m.logger.WarnContext(ctx, "trimming log failed", "app", entry.Name(), "error", err)
			continue
		}
		if trimmed {
			m.logger.InfoContext(ctx, "trimmed oversized log", "app", entry.Name())
		}
	}

	if usage, err := fsutil.DiskUsage(m.cfg.DataDir); err == nil {
		m.logger.DebugContext(ctx, "data dir usage", "bytes", usage)
	}
}

// trimLog cuts a log file back to its last keepBytes once it grows past
// maxBytes. The running process appends through its own descriptor, after
// the truncate its writes land behind the kept tail.
func trimLog(logPath string, maxBytes, keepBytes int64) (bool, error) {
	f, err := os.OpenFile(logPath, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() <= maxBytes {
		return false, nil
	}

	tail := make([]byte, keepBytes)
	if _, err := f.ReadAt(tail, info.Size()-keepBytes); err != nil {
		return false, err
	}
	// drop the partial first line so the kept tail starts clean
	if i := bytes.IndexByte(tail, '\n'); i >= 0 {
		tail = tail[i+1:]
	}

	if err := f.Truncate(0); err != nil {
		return false, err
	}
	if _, err := f.WriteAt(tail, 0); err != nil {
		return false, err
	}

	return true, nil
}
