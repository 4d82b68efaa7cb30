package baseimage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/opencontainers/go-digest"
)

// PythonBinEnv overrides interpreter discovery, e.g. for hosts with
// interpreters outside PATH.
const PythonBinEnv = "PYHOST_PYTHON"

// LocalResolver pins a base runtime against the host's own interpreter.
// Used on hosts without registry access. The pinned digest covers the
// interpreter path and its reported version, so a host upgrade changes
// the environment identity.
type LocalResolver struct {
	ref string
}

func NewLocalResolver(ref string) *LocalResolver {
	return &LocalResolver{ref: ref}
}

func (r *LocalResolver) Info() string {
	return "local:" + r.ref
}

func (r *LocalResolver) Resolve(ctx context.Context) (*Runtime, error) {
	interpreter, err := findInterpreter(ctx, versionTag(r.ref))
	if err != nil {
		return nil, err
	}

	version, err := probeVersion(ctx, interpreter)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Ref:         r.ref,
		Digest:      digest.FromString(interpreter + "\n" + version),
		Interpreter: interpreter,
	}, nil
}

// versionTag extracts the version part of a runtime ref, "python:3.10"
// yields "3.10".
func versionTag(ref string) string {
	if idx := strings.LastIndex(ref, ":"); idx >= 0 {
		return ref[idx+1:]
	}

	return ""
}

// findInterpreter locates a host interpreter for the declared version tag.
// A versioned binary (python3.10) is preferred, generic names are accepted
// as fallback. The declared digest still pins the intended identity.
func findInterpreter(ctx context.Context, tag string) (string, error) {
	if override := os.Getenv(PythonBinEnv); override != "" {
		path, err := exec.LookPath(override)
		if err != nil {
			return "", fmt.Errorf("%s=%s: %w", PythonBinEnv, override, err)
		}
		return path, nil
	}

	var candidates []string
	if tag != "" && tag[0] >= '0' && tag[0] <= '9' {
		major := tag
		if idx := strings.Index(tag, "."); idx > 0 {
			if second := strings.Index(tag[idx+1:], "."); second > 0 {
				major = tag[:idx+1+second]
			}
		}
		candidates = append(candidates, "python"+major)
	}
	candidates = append(candidates, "python3", "python")

	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no python interpreter found, tried %s", strings.Join(candidates, ", "))
}

// probeVersion runs the interpreter with --version. Output goes to stdout
// or stderr depending on the interpreter generation, so both are read.
func probeVersion(ctx context.Context, interpreter string) (string, error) {
	out, err := exec.CommandContext(ctx, interpreter, "--version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("probe %s version: %w", interpreter, err)
	}

	return strings.TrimSpace(string(out)), nil
}
