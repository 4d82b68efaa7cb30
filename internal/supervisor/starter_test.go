package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/princesrivastav546-cell/pyhost/internal/launcher"
)

// startScript runs a shell script through the real starter. /bin/sh
// stands in for the interpreter, it accepts -u just like python does.
func startScript(t *testing.T, script string) (launcher.Process, launcher.LaunchSpec) {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "run.sh"), []byte(script), 0o755); err != nil {
		t.Fatalf("writing script: %v", err)
	}

	spec := launcher.LaunchSpec{
		Interpreter: "/bin/sh",
		Entrypoint:  "run.sh",
		AppDir:      dir,
		Env:         os.Environ(),
		LogPath:     filepath.Join(dir, "app.log"),
	}

	proc, err := NewExecStarter().Start(context.Background(), spec)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = signalGroup(proc.PID(), unix.SIGKILL) })

	return proc, spec
}

func TestExecStarterCapturesBothStreams(t *testing.T) {
	proc, spec := startScript(t, "echo out-line\necho err-line >&2\n")

	code, err := proc.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	data, err := os.ReadFile(spec.LogPath)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(data), "out-line") || !strings.Contains(string(data), "err-line") {
		t.Errorf("log %q misses stdout or stderr output", data)
	}
}

func TestExecStarterPropagatesExitCode(t *testing.T) {
	proc, _ := startScript(t, "exit 3\n")

	code, err := proc.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}

func TestExecStarterRunsInAppDir(t *testing.T) {
	proc, spec := startScript(t, "echo made-it > marker\n")

	if _, err := proc.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(spec.AppDir, "marker")); err != nil {
		t.Errorf("marker not written into app dir: %v", err)
	}
}

func TestExecStarterSignalledExitCode(t *testing.T) {
	proc, _ := startScript(t, "sleep 30\n")

	if err := signalGroup(proc.PID(), unix.SIGKILL); err != nil {
		t.Fatalf("signalGroup failed: %v", err)
	}

	code, err := proc.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if code != 128+int(unix.SIGKILL) {
		t.Errorf("exit code = %d, want %d", code, 128+int(unix.SIGKILL))
	}
}

func TestExecStarterMissingLogDir(t *testing.T) {
	spec := launcher.LaunchSpec{
		Interpreter: "/bin/sh",
		Entrypoint:  "run.sh",
		AppDir:      t.TempDir(),
		LogPath:     filepath.Join(t.TempDir(), "nope", "app.log"),
	}

	if _, err := NewExecStarter().Start(context.Background(), spec); err == nil {
		t.Fatal("expected error for unwritable log path")
	}
}

func TestExecProcessWaitHonorsContext(t *testing.T) {
	proc, _ := startScript(t, "sleep 30\n")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := proc.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait error = %v, want deadline exceeded", err)
	}

	// the process is still running, a second Wait must still work
	_ = signalGroup(proc.PID(), unix.SIGKILL)
	if code, err := proc.Wait(context.Background()); err != nil || code != 128+int(unix.SIGKILL) {
		t.Fatalf("second Wait = %d, %v", code, err)
	}
}
