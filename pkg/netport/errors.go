package netport

import "errors"

var (
	// Port pool errors
	ErrPoolExhausted = errors.New("no available ports in pool")
	ErrPortNotInPool = errors.New("port is not in the pool")
	ErrPortNotOwned  = errors.New("port is allocated to a different instance")

	// Expose errors
	ErrInvalidPort         = errors.New("invalid port number (must be 1-65535)")
	ErrRedirectSetupFailed = errors.New("failed to setup redirect rule")
)
