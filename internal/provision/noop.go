package provision

import "context"

// NoOpInstaller for testing
type NoOpInstaller struct{}

func NewNoOpInstaller() *NoOpInstaller {
	return &NoOpInstaller{}
}

func (i *NoOpInstaller) Info() string {
	return "noop"
}

func (i *NoOpInstaller) InstallPackages(ctx context.Context, packages []string) error {
	return nil
}
