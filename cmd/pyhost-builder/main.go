// pyhost-builder builds one application and runs its entry point in the
// foreground. The process exit code becomes the builder's exit code.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/princesrivastav546-cell/pyhost/internal/launcher"
	"github.com/princesrivastav546-cell/pyhost/internal/provision"
	"github.com/princesrivastav546-cell/pyhost/internal/resolve"
	"github.com/princesrivastav546-cell/pyhost/internal/supervisor"
	"github.com/princesrivastav546-cell/pyhost/pkg/baseimage"
	"github.com/princesrivastav546-cell/pyhost/pkg/lock"
	"github.com/princesrivastav546-cell/pyhost/pkg/recipe"
	"github.com/princesrivastav546-cell/pyhost/pkg/source"
	"github.com/princesrivastav546-cell/pyhost/pkg/utils"
)

func main() {
	startTime := time.Now()

	srcKind := flag.String("source", "dir", "source kind, one of dir, git, file, archive")
	srcRef := flag.String("ref", ".", "source reference, a path, url or archive")
	workDir := flag.String("work-dir", ".pyhost", "directory for the app tree, environments and logs")
	resolver := flag.String("resolver", "local", "base runtime resolver, local or registry")
	installPkg := flag.Bool("os-packages", false, "install declared OS packages through apt")
	port := flag.Int("port", supervisor.DefaultPort, "PORT value handed to the app")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID, err := utils.NewUUID7()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not create run id: %s\n", err)
		os.Exit(1)
	}
	logger = logger.With("run", runID)

	srcDir := filepath.Join(*workDir, "src")
	appDir := filepath.Join(*workDir, "app")
	envsDir := filepath.Join(*workDir, "envs")
	logPath := filepath.Join(*workDir, "app.log")

	src, err := source.New(source.Kind(*srcKind), *srcRef)
	if err != nil {
		fmt.Fprintf(os.Stderr, "source: %s\n", err)
		os.Exit(1)
	}
	logger = logger.With("source", src.Info())

	// the recipe lives inside the source tree, fetch it before building
	if err := os.RemoveAll(srcDir); err != nil {
		fmt.Fprintf(os.Stderr, "clearing source dir: %s\n", err)
		os.Exit(1)
	}
	if err := src.Fetch(ctx, srcDir); err != nil {
		fmt.Fprintf(os.Stderr, "fetching source: %s\n", err)
		os.Exit(1)
	}

	rcp, err := recipe.Load(srcDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recipe: %s\n", err)
		os.Exit(1)
	}

	runtime, err := newRuntime(*resolver, rcp.Base)
	if err != nil {
		fmt.Fprintf(os.Stderr, "runtime: %s\n", err)
		os.Exit(1)
	}
	logger = logger.With("runtime", runtime.Info())

	locker, err := lock.NewFileLocker(filepath.Join(*workDir, "locks"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "locks: %s\n", err)
		os.Exit(1)
	}

	var provisioner launcher.Provisioner = provision.NewProbeInstaller()
	if *installPkg {
		provisioner = provision.NewAptInstaller()
	}

	treeSrc, err := source.New(source.KindDir, srcDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "source: %s\n", err)
		os.Exit(1)
	}

	l := launcher.New(provisioner, resolve.NewVenvResolver(), supervisor.NewExecStarter(), locker)
	res, proc, err := l.Run(ctx, runtime, treeSrc, launcher.NewDescriptor(rcp), launcher.RunOptions{
		EnvsDir:  envsDir,
		AppDir:   appDir,
		LogPath:  logPath,
		ExtraEnv: append(os.Environ(), fmt.Sprintf("PORT=%d", *port)),
	})
	if err != nil {
		if stage, ok := launcher.StageOf(err); ok {
			fmt.Fprintf(os.Stderr, "%s stage failed: %s\n", stage, err)
		} else {
			fmt.Fprintf(os.Stderr, "run failed: %s\n", err)
		}
		os.Exit(1)
	}

	logger.Info("entrypoint running",
		"pid", proc.PID(),
		"digest", res.EnvDigest.Encoded(),
		"cached", res.Cached,
		"build_time", res.BuildTime.Seconds())

	code, err := proc.Wait(ctx)
	if err != nil {
		// interrupted, pass the signal on and collect the real code
		_ = syscall.Kill(-proc.PID(), syscall.SIGTERM)
		killCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if code, err = proc.Wait(killCtx); err != nil {
			_ = syscall.Kill(-proc.PID(), syscall.SIGKILL)
			code = 128 + int(syscall.SIGKILL)
		}
	}

	logger.Info("finished execution", "code", code, "exec_time", time.Since(startTime).Seconds())

	fmt.Println("---- app log ----")
	_ = utils.TailPollUntilIdle(logPath, os.Stdout, 500*time.Millisecond, 20*time.Millisecond)

	os.Exit(code)
}

func newRuntime(kind, ref string) (baseimage.Resolver, error) {
	switch kind {
	case "local":
		return baseimage.NewLocalResolver(ref), nil
	case "registry":
		return baseimage.NewRegistryResolver(ref)
	}

	return nil, fmt.Errorf("unknown resolver %q, want local or registry", kind)
}
