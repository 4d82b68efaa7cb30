package supervisor

import (
	"context"
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

type execProcess struct {
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
	waitErr  error
}

func newExecProcess(cmd *exec.Cmd) *execProcess {
	p := &execProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go p.reap()

	return p
}

// reap collects the child exactly once, Wait on exec.Cmd must not be
// called twice.
func (p *execProcess) reap() {
	err := p.cmd.Wait()

	p.exitCode = p.cmd.ProcessState.ExitCode()
	if status, ok := p.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		p.exitCode = 128 + int(status.Signal())
	}

	// a nonzero exit is a result, not a wait failure
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}

	close(p.done)
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-p.done:
		return p.exitCode, p.waitErr
	}
}

// alive reports whether a process with the given pid still exists.
func alive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// signalGroup signals the whole process group led by pid.
func signalGroup(pid int, sig unix.Signal) error {
	return unix.Kill(-pid, sig)
}
