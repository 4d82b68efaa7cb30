package launcher

import "errors"

// Each pipeline stage fails with its own error type so callers can tell
// a broken package install from an unreachable source or a dead entry
// point. All types wrap the underlying tool diagnostics.

// ProvisioningError reports a failure to resolve the base runtime or to
// install the declared OS packages.
type ProvisioningError struct {
	Err error
}

func (e *ProvisioningError) Error() string { return "provisioning: " + e.Err.Error() }
func (e *ProvisioningError) Unwrap() error { return e.Err }
func (e *ProvisioningError) Stage() Stage  { return StageProvision }

// CopyError reports a failure to materialize the application tree.
type CopyError struct {
	Err error
}

func (e *CopyError) Error() string { return "materialize: " + e.Err.Error() }
func (e *CopyError) Unwrap() error { return e.Err }
func (e *CopyError) Stage() Stage  { return StageMaterialize }

// DependencyResolutionError reports a failure to build the environment's
// interpreter prefix or to install the dependency manifest into it.
type DependencyResolutionError struct {
	Err error
}

func (e *DependencyResolutionError) Error() string {
	return "dependency resolution: " + e.Err.Error()
}
func (e *DependencyResolutionError) Unwrap() error { return e.Err }
func (e *DependencyResolutionError) Stage() Stage  { return StageResolve }

// LaunchError reports a failure to start the entry point.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return "launch: " + e.Err.Error() }
func (e *LaunchError) Unwrap() error { return e.Err }
func (e *LaunchError) Stage() Stage  { return StageLaunch }

// StageOf returns the pipeline stage an error belongs to.
func StageOf(err error) (Stage, bool) {
	var provErr *ProvisioningError
	if errors.As(err, &provErr) {
		return provErr.Stage(), true
	}

	var copyErr *CopyError
	if errors.As(err, &copyErr) {
		return copyErr.Stage(), true
	}

	var depErr *DependencyResolutionError
	if errors.As(err, &depErr) {
		return depErr.Stage(), true
	}

	var launchErr *LaunchError
	if errors.As(err, &launchErr) {
		return launchErr.Stage(), true
	}

	return "", false
}
