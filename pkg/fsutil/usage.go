package fsutil

import (
	"io/fs"
	"path/filepath"
)

// DiskUsage returns the summed size in bytes of all regular files under path.
func DiskUsage(path string) (int64, error) {
	var total int64

	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()

		return nil
	})
	if err != nil {
		return 0, err
	}

	return total, nil
}
