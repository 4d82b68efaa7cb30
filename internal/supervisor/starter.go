// Package supervisor starts entry point processes and keeps track of them
// across their lifetime, including across daemon restarts.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/princesrivastav546-cell/pyhost/internal/launcher"
)

// ExecStarter starts the entry point as a host process. The interpreter
// runs the entry file with no arguments, configuration reaches the app
// through its environment and its own files.
type ExecStarter struct {
	logger *slog.Logger
}

func NewExecStarter() *ExecStarter {
	return &ExecStarter{
		logger: slog.Default(),
	}
}

func (s *ExecStarter) Start(ctx context.Context, spec launcher.LaunchSpec) (launcher.Process, error) {
	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("could not open log file: %w", err)
	}

	// not CommandContext, the process has to outlive the request that
	// started it
	cmd := exec.Command(spec.Interpreter, "-u", spec.Entrypoint)
	cmd.Dir = spec.AppDir
	cmd.Env = spec.Env
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// own session so the whole process group can be signalled on stop
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		err = errors.Join(err, logFile.Close())
		return nil, fmt.Errorf("start entrypoint process: %w", err)
	}

	// the child holds its own descriptor now
	_ = logFile.Close()

	s.logger.InfoContext(ctx, "process started", "pid", cmd.Process.Pid, "entrypoint", spec.Entrypoint)

	return newExecProcess(cmd), nil
}
