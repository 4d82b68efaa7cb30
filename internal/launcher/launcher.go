// Package launcher implements the staged pipeline that turns a recipe and
// an application source into a published environment and a running entry
// point. The stages run strictly in order, provision, materialize, resolve,
// launch, and each failure is typed with the stage it belongs to.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/princesrivastav546-cell/pyhost/pkg/baseimage"
	"github.com/princesrivastav546-cell/pyhost/pkg/fsutil"
	"github.com/princesrivastav546-cell/pyhost/pkg/lock"
	"github.com/princesrivastav546-cell/pyhost/pkg/manifest"
	"github.com/princesrivastav546-cell/pyhost/pkg/source"
)

// Provisioner installs OS packages during the provision stage.
type Provisioner interface {
	InstallPackages(ctx context.Context, packages []string) error
	Info() string
}

// Resolver builds an environment's private interpreter prefix and installs
// the dependency manifest into it during the resolve stage.
type Resolver interface {
	Resolve(ctx context.Context, interpreter string, m manifest.Manifest, envDir string) error
	Interpreter(envDir string) string
	Info() string
}

// Starter starts the entry point during the launch stage.
type Starter interface {
	Start(ctx context.Context, spec LaunchSpec) (Process, error)
}

// Process is a started entry point.
type Process interface {
	PID() int
	// Wait blocks until the process exits and returns its exit code.
	Wait(ctx context.Context) (int, error)
}

// LaunchSpec describes how the entry point is started: the environment's
// interpreter runs the entry file with no arguments, from the app root,
// with the given environment, logging to LogPath.
type LaunchSpec struct {
	Interpreter string
	Entrypoint  string
	AppDir      string
	Env         []string
	LogPath     string
}

type BuildOptions struct {
	EnvsDir string // where finished environments are published
	AppDir  string // where the application tree is materialized
}

type RunOptions struct {
	EnvsDir  string
	AppDir   string
	LogPath  string
	ExtraEnv []string // appended after the runtime's own env, later wins
}

// BuildResult describes the published environment
type BuildResult struct {
	EnvPath      string             // directory the environment lives in
	EnvDigest    digest.Digest      // identity of the environment
	Runtime      *baseimage.Runtime // pinned base runtime
	Requirements manifest.Manifest  // normalized manifest that was installed
	BuildTime    time.Duration      // time taken to build
	Cached       bool               // true if an existing environment was reused
}

type Launcher struct {
	provisioner Provisioner
	resolver    Resolver
	starter     Starter
	locker      lock.Locker
	logger      *slog.Logger
}

func New(provisioner Provisioner, resolver Resolver, starter Starter, locker lock.Locker) *Launcher {
	return &Launcher{
		provisioner: provisioner,
		resolver:    resolver,
		starter:     starter,
		locker:      locker,
		logger:      slog.Default(),
	}
}

// Build runs the provision, materialize and resolve stages and publishes
// the environment under its digest. Launch is separate, a built app can be
// started any number of times.
func (l *Launcher) Build(ctx context.Context, runtime baseimage.Resolver, src source.Source, desc EnvironmentDescriptor, opts BuildOptions) (res *BuildResult, err error) {
	startTime := time.Now()
	buildTimeStamp := startTime.Unix()

	logger := l.logger.With("runtime", runtime.Info(), "source", src.Info())
	logger.InfoContext(ctx, "starting build")

	if err := os.MkdirAll(opts.EnvsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create envs directory: %w", err)
	}

	rt, err := runtime.Resolve(ctx)
	if err != nil {
		return nil, &ProvisioningError{Err: err}
	}
	if err := l.provisioner.InstallPackages(ctx, desc.OSPackages); err != nil {
		return nil, &ProvisioningError{Err: err}
	}
	logger.InfoContext(ctx, "runtime provisioned",
		"interpreter", rt.Interpreter,
		"packages", len(desc.OSPackages))

	if err := os.RemoveAll(opts.AppDir); err != nil {
		return nil, &CopyError{Err: fmt.Errorf("clear app dir: %w", err)}
	}
	if err := src.Fetch(ctx, opts.AppDir); err != nil {
		return nil, &CopyError{Err: err}
	}
	logger.InfoContext(ctx, "application tree materialized", "appDir", opts.AppDir)

	m, err := manifest.Load(path.Join(opts.AppDir, desc.ManifestPath))
	if err != nil {
		return nil, &DependencyResolutionError{Err: err}
	}

	envDigest := desc.EnvironmentDigest(rt.Digest, m.Digest())
	logger = logger.With("digest", envDigest.Encoded())

	envPath := path.Join(opts.EnvsDir, envDigest.Encoded())
	if published(envPath) {
		logger.InfoContext(ctx, "environment cached")
		return &BuildResult{
			EnvPath:      envPath,
			EnvDigest:    envDigest,
			Runtime:      rt,
			Requirements: m,
			BuildTime:    time.Since(startTime),
			Cached:       true,
		}, nil
	}

	lk, err := l.locker.AcquireLock(ctx, envDigest)
	if err != nil {
		return nil, &DependencyResolutionError{Err: fmt.Errorf("acquire build lock: %w", err)}
	}
	defer func() {
		err = errors.Join(err, lk.Release())
	}()

	// a concurrent build may have published while we waited on the lock
	if published(envPath) {
		logger.InfoContext(ctx, "environment cached")
		return &BuildResult{
			EnvPath:      envPath,
			EnvDigest:    envDigest,
			Runtime:      rt,
			Requirements: m,
			BuildTime:    time.Since(startTime),
			Cached:       true,
		}, nil
	}

	// build is fresh invoked so set the wanted to this build
	wantedFile := path.Join(opts.EnvsDir, envDigest.Encoded()+".wanted")
	err = fsutil.WriteFileAtomic(wantedFile, []byte(strconv.FormatInt(buildTimeStamp, 10)), 0o644)
	if err != nil {
		return nil, fmt.Errorf("error writing wanted file: %w", err)
	}

	// tmp dir sits next to the final path so the publish rename is atomic
	tmpEnv := envPath + "_tmp"
	if err := os.RemoveAll(tmpEnv); err != nil {
		return nil, &DependencyResolutionError{Err: fmt.Errorf("clear tmp env: %w", err)}
	}
	defer func() {
		_ = os.RemoveAll(tmpEnv)
	}()

	if err := l.resolver.Resolve(ctx, rt.Interpreter, m, tmpEnv); err != nil {
		return nil, &DependencyResolutionError{Err: err}
	}

	meta := EnvMeta{
		Runtime:    rt.Ref,
		Digest:     envDigest,
		Env:        rt.Env,
		Entrypoint: desc.Entrypoint,
		BuiltAt:    startTime.UTC(),
	}
	if err := WriteEnvMeta(tmpEnv, meta); err != nil {
		return nil, &DependencyResolutionError{Err: err}
	}

	if !isNewestBuild(wantedFile, buildTimeStamp) {
		return nil, errors.New("newer build detected not publishing")
	}

	// atomic publish of newest build
	if err := os.Rename(tmpEnv, envPath); err != nil {
		return nil, &DependencyResolutionError{Err: fmt.Errorf("publish environment: %w", err)}
	}

	logger.InfoContext(ctx, "build completed successfully", "duration", time.Since(startTime))

	return &BuildResult{
		EnvPath:      envPath,
		EnvDigest:    envDigest,
		Runtime:      rt,
		Requirements: m,
		BuildTime:    time.Since(startTime),
		Cached:       false,
	}, nil
}

// Launch starts the entry point with no arguments from a built
// environment. Arguments and flags belong in the application, not in the
// contract between the platform and the entry point.
func (l *Launcher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	if _, err := os.Stat(path.Join(spec.AppDir, spec.Entrypoint)); err != nil {
		return nil, &LaunchError{Err: fmt.Errorf("entrypoint %s: %w", spec.Entrypoint, err)}
	}
	if _, err := os.Stat(spec.Interpreter); err != nil {
		return nil, &LaunchError{Err: fmt.Errorf("interpreter %s: %w", spec.Interpreter, err)}
	}

	proc, err := l.starter.Start(ctx, spec)
	if err != nil {
		return nil, &LaunchError{Err: err}
	}

	l.logger.InfoContext(ctx, "entrypoint started", "pid", proc.PID(), "entrypoint", spec.Entrypoint)

	return proc, nil
}

// Run executes the full pipeline in stage order. Each stage is a
// precondition of the next, the first failure aborts the run with that
// stage's error and nothing later executes.
func (l *Launcher) Run(ctx context.Context, runtime baseimage.Resolver, src source.Source, desc EnvironmentDescriptor, opts RunOptions) (*BuildResult, Process, error) {
	res, err := l.Build(ctx, runtime, src, desc, BuildOptions{
		EnvsDir: opts.EnvsDir,
		AppDir:  opts.AppDir,
	})
	if err != nil {
		return nil, nil, err
	}

	env := make([]string, 0, len(res.Runtime.Env)+len(opts.ExtraEnv))
	env = append(env, res.Runtime.Env...)
	env = append(env, opts.ExtraEnv...)

	proc, err := l.Launch(ctx, LaunchSpec{
		Interpreter: l.resolver.Interpreter(res.EnvPath),
		Entrypoint:  desc.Entrypoint,
		AppDir:      opts.AppDir,
		Env:         env,
		LogPath:     opts.LogPath,
	})
	if err != nil {
		return res, nil, err
	}

	return res, proc, nil
}

// Interpreter returns the interpreter path inside a published environment.
func (l *Launcher) Interpreter(envPath string) string {
	return l.resolver.Interpreter(envPath)
}

func published(envPath string) bool {
	info, err := os.Stat(envPath)
	return err == nil && info.IsDir()
}

func isNewestBuild(filePath string, timestamp int64) bool {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return true
	}

	ts, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return true
	}

	return ts <= timestamp
}
