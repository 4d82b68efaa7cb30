package provision

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ProbeInstaller verifies that declared packages are already present
// instead of installing them. Used on hosts where the daemon runs without
// root, a missing package fails the provision stage instead of silently
// degrading the environment.
type ProbeInstaller struct{}

func NewProbeInstaller() *ProbeInstaller {
	return &ProbeInstaller{}
}

func (i *ProbeInstaller) Info() string {
	return "probe"
}

func (i *ProbeInstaller) InstallPackages(ctx context.Context, packages []string) error {
	var missing []string

	for _, pkg := range packages {
		// dpkg -s exits non-zero for packages that are not installed
		if err := exec.CommandContext(ctx, "dpkg", "-s", pkg).Run(); err != nil {
			missing = append(missing, pkg)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("packages not installed on host: %s", strings.Join(missing, ", "))
	}

	return nil
}
