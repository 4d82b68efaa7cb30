package supervisor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	models "github.com/princesrivastav546-cell/pyhost/internal/db/models"
	"github.com/princesrivastav546-cell/pyhost/internal/launcher"
	"github.com/princesrivastav546-cell/pyhost/pkg/baseimage"
	"github.com/princesrivastav546-cell/pyhost/pkg/envfile"
	"github.com/princesrivastav546-cell/pyhost/pkg/netport"
	"github.com/princesrivastav546-cell/pyhost/pkg/recipe"
	"github.com/princesrivastav546-cell/pyhost/pkg/source"
	"github.com/princesrivastav546-cell/pyhost/pkg/utils"
)

const (
	// DefaultGrace is how long a fresh process has to stay alive before
	// the start counts as successful, and how long a stopped process has
	// to exit after SIGTERM before it is killed.
	DefaultGrace = 3 * time.Second

	// DefaultPort is the PORT value handed to apps that do not reserve a
	// pool port. Apps read PORT unconditionally, so it is always set.
	DefaultPort = 8080

	crashLogLines = 40
)

var (
	ErrAppRunning    = errors.New("app is already running")
	ErrAppNotRunning = errors.New("app is not running")
)

// AppStatus represents the observable state of an app's process.
type AppStatus string

const (
	AppRunning AppStatus = "running"
	AppStopped AppStatus = "stopped"
)

// RuntimeFactory returns the runtime resolver for a base image reference.
// The daemon decides whether bases resolve against a registry or against
// interpreters installed on the host.
type RuntimeFactory func(imageRef string) (baseimage.Resolver, error)

type Config struct {
	DataDir string
	Grace   time.Duration
	Expose  bool // install redirect rules for recipes that declare a public port
}

// Manager owns the processes of all apps on this host. It builds through
// the launcher, persists instances, and adopts processes that survived a
// daemon restart.
type Manager struct {
	db        *sql.DB
	launch    *launcher.Launcher
	ports     *netport.Pool
	runtime   RuntimeFactory
	cfg       Config
	logger    *slog.Logger
	pollEvery time.Duration

	mu    sync.Mutex
	procs map[string]*tracked // app id -> instance handle
}

type tracked struct {
	instanceID string
	pid        int
	port       int
	publicPort int
	proc       launcher.Process // nil for instances adopted after a restart
}

func NewManager(pyhostDB *sql.DB, l *launcher.Launcher, ports *netport.Pool, runtime RuntimeFactory, cfg Config) *Manager {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}

	return &Manager{
		db:        pyhostDB,
		launch:    l,
		ports:     ports,
		runtime:   runtime,
		cfg:       cfg,
		logger:    slog.Default(),
		pollEvery: time.Second,
		procs:     make(map[string]*tracked),
	}
}

func (m *Manager) DataDir() string {
	return m.cfg.DataDir
}

func (m *Manager) AppDir(appID string) string {
	return path.Join(m.cfg.DataDir, "apps", appID)
}

// SrcDir holds the pristine application tree fetched from the source.
func (m *Manager) SrcDir(appID string) string {
	return path.Join(m.AppDir(appID), "src")
}

// RunDir is the working tree the process runs from. Every build
// materializes it fresh from SrcDir.
func (m *Manager) RunDir(appID string) string {
	return path.Join(m.AppDir(appID), "app")
}

func (m *Manager) EnvFilePath(appID string) string {
	return path.Join(m.AppDir(appID), "env")
}

func (m *Manager) LogPath(appID string) string {
	return path.Join(m.AppDir(appID), "app.log")
}

// UploadPath is where uploaded source archives are saved before they are
// registered as the app's source.
func (m *Manager) UploadPath(appID string) string {
	return path.Join(m.AppDir(appID), "upload.tar.gz")
}

func (m *Manager) envsDir() string {
	return path.Join(m.cfg.DataDir, "envs")
}

// Refresh fetches the app's source into SrcDir. The fetch lands in a tmp
// dir first so a broken clone never destroys the previous tree.
func (m *Manager) Refresh(ctx context.Context, app *models.App) error {
	src, err := source.New(source.Kind(app.SourceKind), app.SourceRef)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(m.AppDir(app.ID), 0o755); err != nil {
		return fmt.Errorf("failed to create app directory: %w", err)
	}

	srcDir := m.SrcDir(app.ID)
	tmpDir := srcDir + "_tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return fmt.Errorf("clear tmp source dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(tmpDir)
	}()

	if err := src.Fetch(ctx, tmpDir); err != nil {
		return fmt.Errorf("fetch source: %w", err)
	}

	if err := os.RemoveAll(srcDir); err != nil {
		return fmt.Errorf("clear source dir: %w", err)
	}
	if err := os.Rename(tmpDir, srcDir); err != nil {
		return fmt.Errorf("publish source dir: %w", err)
	}

	m.logger.InfoContext(ctx, "source refreshed", "app", app.ID, "source", src.Info())

	return nil
}

// BuildApp refreshes the source and runs the build stages, recording the
// outcome as a build row. Rebuilding an unchanged app reuses the
// published environment.
func (m *Manager) BuildApp(ctx context.Context, app *models.App) (*launcher.BuildResult, *models.Build, error) {
	build, err := models.InsertBuild(ctx, m.db, app.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record build: %w", err)
	}
	if err := models.MarkBuildRunning(ctx, m.db, build.ID); err != nil {
		return nil, build, fmt.Errorf("failed to record build: %w", err)
	}

	res, err := m.runBuild(ctx, app)
	if err != nil {
		if dbErr := models.MarkBuildFailed(ctx, m.db, build.ID, err.Error()); dbErr != nil {
			m.logger.ErrorContext(ctx, "failed to record build failure", "build", build.ID, "error", dbErr)
		}
		return nil, build, err
	}

	if err := models.MarkBuildSucceeded(ctx, m.db, build.ID, res.EnvDigest.String()); err != nil {
		m.logger.ErrorContext(ctx, "failed to record build success", "build", build.ID, "error", err)
	}

	return res, build, nil
}

func (m *Manager) runBuild(ctx context.Context, app *models.App) (*launcher.BuildResult, error) {
	if err := m.Refresh(ctx, app); err != nil {
		return nil, &launcher.CopyError{Err: err}
	}

	rcp, err := recipe.Load(m.SrcDir(app.ID))
	if err != nil {
		return nil, err
	}

	runtime, err := m.runtime(rcp.Base)
	if err != nil {
		return nil, &launcher.ProvisioningError{Err: err}
	}

	src, err := source.New(source.KindDir, m.SrcDir(app.ID))
	if err != nil {
		return nil, err
	}

	return m.launch.Build(ctx, runtime, src, launcher.NewDescriptor(rcp), launcher.BuildOptions{
		EnvsDir: m.envsDir(),
		AppDir:  m.RunDir(app.ID),
	})
}

// StartApp builds the app and starts its entry point. Only one instance
// per app runs at a time. A process that dies right after starting is
// reported as a failed start together with the tail of its log.
func (m *Manager) StartApp(ctx context.Context, app *models.App) (instance *models.Instance, err error) {
	m.mu.Lock()
	if _, ok := m.procs[app.ID]; ok {
		m.mu.Unlock()
		return nil, ErrAppRunning
	}
	// reserve the slot so concurrent starts of the same app collide here
	m.procs[app.ID] = &tracked{}
	m.mu.Unlock()

	launched := false
	port := 0
	exposedPublic := 0
	instanceID, err := utils.NewUUID7()
	if err != nil {
		m.unreserve(app.ID)
		return nil, fmt.Errorf("generate instance id: %w", err)
	}

	defer func() {
		if err != nil && !launched {
			m.unreserve(app.ID)
			if exposedPublic > 0 {
				_ = netport.Unexpose(exposedPublic, port)
			}
			if port > 0 {
				_ = m.ports.Release(port, instanceID)
			}
		}
	}()

	res, _, err := m.BuildApp(ctx, app)
	if err != nil {
		return nil, err
	}

	rcp, err := recipe.Load(m.SrcDir(app.ID))
	if err != nil {
		return nil, err
	}

	if rcp.WantsPort {
		port, err = m.ports.Allocate(instanceID)
		if err != nil {
			return nil, err
		}
	}
	if port > 0 && rcp.PublicPort > 0 && m.cfg.Expose {
		if err = netport.Expose(rcp.PublicPort, port); err != nil {
			return nil, err
		}
		exposedPublic = rcp.PublicPort
	}

	env, err := m.launchEnv(app.ID, res.Runtime.Env, port)
	if err != nil {
		return nil, err
	}

	logPath := m.LogPath(app.ID)
	proc, err := m.launch.Launch(ctx, launcher.LaunchSpec{
		Interpreter: m.launch.Interpreter(res.EnvPath),
		Entrypoint:  rcp.Entrypoint,
		AppDir:      m.RunDir(app.ID),
		Env:         env,
		LogPath:     logPath,
	})
	if err != nil {
		return nil, err
	}

	instance = &models.Instance{
		ID:         instanceID,
		AppID:      app.ID,
		Pid:        proc.PID(),
		Port:       port,
		PublicPort: exposedPort(rcp, m.cfg.Expose),
		LogPath:    logPath,
		Status:     models.InstanceRunning,
	}
	if err = models.InsertInstance(ctx, m.db, instance); err != nil {
		_ = signalGroup(proc.PID(), unix.SIGKILL)
		return nil, fmt.Errorf("failed to record instance: %w", err)
	}

	m.mu.Lock()
	m.procs[app.ID] = &tracked{
		instanceID: instanceID,
		pid:        proc.PID(),
		port:       port,
		publicPort: instance.PublicPort,
		proc:       proc,
	}
	m.mu.Unlock()
	launched = true

	go m.reapOwned(app.ID, instanceID, proc)

	// a process that cannot even boot exits within the grace window,
	// catch that here instead of reporting a successful start
	graceCtx, cancel := context.WithTimeout(ctx, m.cfg.Grace)
	defer cancel()
	if code, waitErr := proc.Wait(graceCtx); waitErr == nil {
		logTail, _ := utils.LastLines(logPath, crashLogLines)
		err = &launcher.LaunchError{
			Err: fmt.Errorf("process exited with code %d right after start:\n%s", code, logTail),
		}
		return nil, err
	}

	m.logger.InfoContext(ctx, "app started",
		"app", app.ID,
		"instance", instanceID,
		"pid", instance.Pid,
		"port", port)

	return instance, nil
}

// StopApp terminates the app's process group, SIGTERM first, SIGKILL once
// the grace window passes.
func (m *Manager) StopApp(ctx context.Context, appID string) error {
	m.mu.Lock()
	t, ok := m.procs[appID]
	m.mu.Unlock()
	if !ok || t.pid == 0 {
		return ErrAppNotRunning
	}

	_ = signalGroup(t.pid, unix.SIGTERM)

	if m.waitGone(ctx, t, m.cfg.Grace) {
		m.finalize(appID, t.instanceID, nil)
		return nil
	}

	m.logger.WarnContext(ctx, "process ignored SIGTERM, killing", "app", appID, "pid", t.pid)
	_ = signalGroup(t.pid, unix.SIGKILL)
	m.waitGone(ctx, t, m.cfg.Grace)
	m.finalize(appID, t.instanceID, nil)

	return nil
}

// waitGone waits up to timeout for the tracked process to exit.
func (m *Manager) waitGone(ctx context.Context, t *tracked, timeout time.Duration) bool {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if t.proc != nil {
		_, err := t.proc.Wait(waitCtx)
		return err == nil
	}

	// adopted processes are not our children, poll the process table
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !alive(t.pid) {
			return true
		}
		select {
		case <-waitCtx.Done():
			return !alive(t.pid)
		case <-ticker.C:
		}
	}
}

// StatusApp reports whether the app's process is currently alive.
func (m *Manager) StatusApp(appID string) AppStatus {
	m.mu.Lock()
	t, ok := m.procs[appID]
	m.mu.Unlock()

	if !ok {
		return AppStopped
	}
	if t.pid == 0 {
		// still starting
		return AppRunning
	}
	if alive(t.pid) {
		return AppRunning
	}

	return AppStopped
}

// Instances returns the in memory view of running instances.
func (m *Manager) Instances() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	pids := make(map[string]int, len(m.procs))
	for appID, t := range m.procs {
		if t.pid > 0 {
			pids[appID] = t.pid
		}
	}

	return pids
}

// RemoveApp stops the app if needed and deletes its tree and its rows.
// The published environments stay, other apps may share them.
func (m *Manager) RemoveApp(ctx context.Context, appID string) error {
	if err := m.StopApp(ctx, appID); err != nil && !errors.Is(err, ErrAppNotRunning) {
		return err
	}

	if err := os.RemoveAll(m.AppDir(appID)); err != nil {
		return fmt.Errorf("remove app directory: %w", err)
	}

	return models.DeleteApp(ctx, m.db, appID)
}

// Recover adopts processes that survived a daemon restart and closes the
// rows of those that did not. Leftover tmp dirs from interrupted builds
// are cleaned up as well.
func (m *Manager) Recover(ctx context.Context) error {
	instances, err := models.ListRunningInstances(ctx, m.db)
	if err != nil {
		return fmt.Errorf("list running instances: %w", err)
	}

	for _, instance := range instances {
		if !alive(instance.Pid) {
			m.logger.InfoContext(ctx, "instance died while daemon was down", "instance", instance.ID)
			if err := models.MarkInstanceExited(ctx, m.db, instance.ID, nil); err != nil {
				m.logger.ErrorContext(ctx, "failed to close instance row", "instance", instance.ID, "error", err)
			}
			continue
		}

		if instance.Port > 0 {
			if err := m.ports.Claim(instance.Port, instance.ID); err != nil {
				m.logger.ErrorContext(ctx, "failed to reclaim port", "instance", instance.ID, "port", instance.Port, "error", err)
			}
		}

		m.mu.Lock()
		m.procs[instance.AppID] = &tracked{
			instanceID: instance.ID,
			pid:        instance.Pid,
			port:       instance.Port,
			publicPort: instance.PublicPort,
		}
		m.mu.Unlock()

		go m.watchAdopted(instance.AppID, instance.ID, instance.Pid)

		m.logger.InfoContext(ctx, "adopted running instance",
			"app", instance.AppID,
			"instance", instance.ID,
			"pid", instance.Pid)
	}

	m.cleanupEnvs(ctx)

	return nil
}

// reapOwned waits for a child process and closes its bookkeeping.
func (m *Manager) reapOwned(appID, instanceID string, proc launcher.Process) {
	code, err := proc.Wait(context.Background())
	if err != nil {
		m.logger.Error("wait on process failed", "app", appID, "error", err)
		m.finalize(appID, instanceID, nil)
		return
	}

	m.logger.Info("process exited", "app", appID, "instance", instanceID, "code", code)
	m.finalize(appID, instanceID, &code)
}

// watchAdopted polls an adopted process, it is not our child so there is
// no exit status to collect.
func (m *Manager) watchAdopted(appID, instanceID string, pid int) {
	ticker := time.NewTicker(m.pollEvery)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		t, ok := m.procs[appID]
		stillOurs := ok && t.instanceID == instanceID
		m.mu.Unlock()
		if !stillOurs {
			return
		}

		if !alive(pid) {
			m.logger.Info("adopted process exited", "app", appID, "instance", instanceID)
			m.finalize(appID, instanceID, nil)
			return
		}
	}
}

// finalize releases everything an instance held. Safe to call from both
// the reaper and StopApp, only the first caller does the work.
func (m *Manager) finalize(appID, instanceID string, exitCode *int) {
	m.mu.Lock()
	t, ok := m.procs[appID]
	if !ok || t.instanceID != instanceID {
		m.mu.Unlock()
		return
	}
	delete(m.procs, appID)
	m.mu.Unlock()

	if t.port > 0 {
		if t.publicPort > 0 {
			_ = netport.Unexpose(t.publicPort, t.port)
		}
		if err := m.ports.Release(t.port, instanceID); err != nil {
			m.logger.Error("failed to release port", "port", t.port, "error", err)
		}
	}

	if err := models.MarkInstanceExited(context.Background(), m.db, instanceID, exitCode); err != nil {
		m.logger.Error("failed to close instance row", "instance", instanceID, "error", err)
	}
}

// launchEnv merges the runtime's environment, the host environment and
// the app's env file. Later entries win. PORT is always set last so apps
// can rely on it.
func (m *Manager) launchEnv(appID string, runtimeEnv []string, port int) ([]string, error) {
	overlay, err := envfile.Load(m.EnvFilePath(appID))
	if err != nil {
		return nil, err
	}

	env := make([]string, 0, len(runtimeEnv)+len(overlay)+8)
	env = append(env, runtimeEnv...)
	env = append(env, os.Environ()...)
	env = envfile.Overlay(env, overlay)

	portVal := port
	if portVal == 0 {
		portVal = DefaultPort
	}
	env = append(env, fmt.Sprintf("PORT=%d", portVal))

	return env, nil
}

func (m *Manager) unreserve(appID string) {
	m.mu.Lock()
	delete(m.procs, appID)
	m.mu.Unlock()
}

// cleanupEnvs drops tmp dirs left behind by builds that died mid flight.
func (m *Manager) cleanupEnvs(ctx context.Context) {
	entries, err := os.ReadDir(m.envsDir())
	if err != nil {
		return
	}

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), "_tmp") {
			continue
		}
		m.logger.InfoContext(ctx, "removing interrupted build", "dir", entry.Name())
		_ = os.RemoveAll(path.Join(m.envsDir(), entry.Name()))
	}
}

func exposedPort(rcp recipe.Recipe, expose bool) int {
	if expose && rcp.WantsPort && rcp.PublicPort > 0 {
		return rcp.PublicPort
	}

	return 0
}
