// Package provision installs the OS packages an environment declares.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

const aptListsDir = "/var/lib/apt/lists"

// AptInstaller installs packages with apt-get. The package index cache is
// cleared after a successful install so it never bloats the host between
// builds. Requires root.
type AptInstaller struct {
	logger *slog.Logger
}

func NewAptInstaller() *AptInstaller {
	return &AptInstaller{
		logger: slog.Default(),
	}
}

func (i *AptInstaller) Info() string {
	return "apt"
}

func (i *AptInstaller) InstallPackages(ctx context.Context, packages []string) error {
	if len(packages) == 0 {
		return nil
	}

	i.logger.InfoContext(ctx, "installing os packages", "packages", packages)

	out, err := exec.CommandContext(ctx, "apt-get", "update").CombinedOutput()
	if err != nil {
		return fmt.Errorf("apt-get update: %w: %s", err, tail(out, 1000))
	}

	args := []string{"install", "-y", "--no-install-recommends"}
	args = append(args, packages...)

	install := exec.CommandContext(ctx, "apt-get", args...)
	install.Env = append(os.Environ(), "DEBIAN_FRONTEND=noninteractive")

	out, err = install.CombinedOutput()
	if err != nil {
		return fmt.Errorf("apt-get install: %w: %s", err, tail(out, 1000))
	}

	if err := clearAptLists(); err != nil {
		return fmt.Errorf("clear apt lists: %w", err)
	}

	return nil
}

// clearAptLists mirrors rm -rf /var/lib/apt/lists/*, the directory itself
// stays in place.
func clearAptLists() error {
	entries, err := os.ReadDir(aptListsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(aptListsDir, entry.Name())); err != nil {
			return err
		}
	}

	return nil
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}

	return string(b[len(b)-n:])
}
