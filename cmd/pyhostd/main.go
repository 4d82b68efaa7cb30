package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/princesrivastav546-cell/pyhost/internal/access"
	"github.com/princesrivastav546-cell/pyhost/internal/db"
	"github.com/princesrivastav546-cell/pyhost/internal/launcher"
	"github.com/princesrivastav546-cell/pyhost/internal/provision"
	"github.com/princesrivastav546-cell/pyhost/internal/resolve"
	"github.com/princesrivastav546-cell/pyhost/internal/server"
	"github.com/princesrivastav546-cell/pyhost/internal/supervisor"
	"github.com/princesrivastav546-cell/pyhost/pkg/baseimage"
	"github.com/princesrivastav546-cell/pyhost/pkg/lock"
	"github.com/princesrivastav546-cell/pyhost/pkg/netport"
)

const sweepEvery = 5 * time.Minute

type options struct {
	dataDir    string
	listen     string
	expose     bool
	grace      time.Duration
	resolver   string
	portStart  int
	portEnd    int
	installPkg bool
}

func main() {
	var opts options
	flag.StringVar(&opts.dataDir, "data-dir", "/var/lib/pyhost", "directory for app trees, environments and state")
	flag.StringVar(&opts.listen, "listen", "127.0.0.1:8484", "address the API listens on")
	logFormat := flag.String("log-format", "text", "log output format, text or json")
	logLevel := flag.String("log-level", "info", "log level, one of debug, info, warn, error")
	flag.BoolVar(&opts.expose, "expose", false, "install iptables redirects for recipes that declare a public port")
	flag.DurationVar(&opts.grace, "grace", supervisor.DefaultGrace, "crash window after start, also the stop timeout")
	flag.StringVar(&opts.resolver, "resolver", "local", "base runtime resolver, local or registry")
	flag.IntVar(&opts.portStart, "port-start", 20000, "first port of the app port pool")
	flag.IntVar(&opts.portEnd, "port-end", 20999, "last port of the app port pool")
	flag.BoolVar(&opts.installPkg, "os-packages", false, "install declared OS packages through apt instead of requiring them on the host")
	flag.Parse()

	slog.SetDefault(newLogger(*logLevel, *logFormat, os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	pyhostDB, err := db.NewDB(ctx, filepath.Join(opts.dataDir, "pyhost.db"))
	if err != nil {
		return err
	}
	defer pyhostDB.Close()

	if err := db.InitSchema(ctx, pyhostDB); err != nil {
		return err
	}

	registry, adminToken, err := access.Open(filepath.Join(opts.dataDir, "users.json"))
	if err != nil {
		return err
	}
	if adminToken != "" {
		// first boot, shown once, only the hash is stored
		fmt.Printf("admin token: %s\n", adminToken)
	}

	pool, err := netport.NewPool(opts.portStart, opts.portEnd)
	if err != nil {
		return err
	}

	locker, err := lock.NewFileLocker(filepath.Join(opts.dataDir, "locks"))
	if err != nil {
		return err
	}

	var provisioner launcher.Provisioner = provision.NewProbeInstaller()
	if opts.installPkg {
		provisioner = provision.NewAptInstaller()
	}

	runtime, err := runtimeFactory(opts.resolver)
	if err != nil {
		return err
	}

	l := launcher.New(provisioner, resolve.NewVenvResolver(), supervisor.NewExecStarter(), locker)
	manager := supervisor.NewManager(pyhostDB, l, pool, runtime, supervisor.Config{
		DataDir: opts.dataDir,
		Grace:   opts.grace,
		Expose:  opts.expose,
	})

	if err := manager.Recover(ctx); err != nil {
		return err
	}

	srv := server.New(opts.listen, manager, registry, pyhostDB)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return manager.Maintain(ctx, sweepEvery) })

	return g.Wait()
}

func runtimeFactory(kind string) (supervisor.RuntimeFactory, error) {
	switch kind {
	case "local":
		return func(ref string) (baseimage.Resolver, error) {
			return baseimage.NewLocalResolver(ref), nil
		}, nil
	case "registry":
		return baseimage.NewRegistryResolver, nil
	}

	return nil, fmt.Errorf("unknown resolver %q, want local or registry", kind)
}

func newLogger(levelStr, formatStr string, out io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if formatStr == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}

	return slog.New(slog.NewTextHandler(out, opts))
}
