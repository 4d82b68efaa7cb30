package netport

import (
	"fmt"
	"strconv"

	"github.com/coreos/go-iptables/iptables"
)

// Expose redirects a public TCP port to the port an instance listens on.
// Instances bind high pool ports, this publishes them on well known ones.
// Requires root.
//
// iptables -t nat -A PREROUTING -p tcp --dport {publicPort} -j REDIRECT --to-ports {instancePort}
func Expose(publicPort, instancePort int) error {
	if err := checkPort(publicPort); err != nil {
		return err
	}
	if err := checkPort(instancePort); err != nil {
		return err
	}

	ipt, err := iptables.New()
	if err != nil {
		return fmt.Errorf("failed to initialize iptables: %w", err)
	}

	err = ipt.AppendUnique("nat", "PREROUTING",
		"-p", "tcp",
		"--dport", strconv.Itoa(publicPort),
		"-j", "REDIRECT",
		"--to-ports", strconv.Itoa(instancePort))
	if err != nil {
		return fmt.Errorf("%w: %d->%d: %v", ErrRedirectSetupFailed, publicPort, instancePort, err)
	}

	// local clients bypass PREROUTING
	err = ipt.AppendUnique("nat", "OUTPUT",
		"-p", "tcp",
		"-o", "lo",
		"--dport", strconv.Itoa(publicPort),
		"-j", "REDIRECT",
		"--to-ports", strconv.Itoa(instancePort))
	if err != nil {
		return fmt.Errorf("%w: %d->%d on loopback: %v", ErrRedirectSetupFailed, publicPort, instancePort, err)
	}

	return nil
}

// Unexpose removes the redirect rules for a published port.
func Unexpose(publicPort, instancePort int) error {
	ipt, err := iptables.New()
	if err != nil {
		return fmt.Errorf("failed to initialize iptables: %w", err)
	}

	_ = ipt.Delete("nat", "PREROUTING",
		"-p", "tcp",
		"--dport", strconv.Itoa(publicPort),
		"-j", "REDIRECT",
		"--to-ports", strconv.Itoa(instancePort))

	_ = ipt.Delete("nat", "OUTPUT",
		"-p", "tcp",
		"-o", "lo",
		"--dport", strconv.Itoa(publicPort),
		"-j", "REDIRECT",
		"--to-ports", strconv.Itoa(instancePort))

	return nil
}

func checkPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	return nil
}
