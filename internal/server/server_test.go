package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/princesrivastav546-cell/pyhost/internal/access"
	dbpkg "github.com/princesrivastav546-cell/pyhost/internal/db"
	models "github.com/princesrivastav546-cell/pyhost/internal/db/models"
	"github.com/princesrivastav546-cell/pyhost/internal/launcher"
	"github.com/princesrivastav546-cell/pyhost/internal/provision"
	"github.com/princesrivastav546-cell/pyhost/internal/resolve"
	"github.com/princesrivastav546-cell/pyhost/internal/supervisor"
	"github.com/princesrivastav546-cell/pyhost/pkg/baseimage"
	"github.com/princesrivastav546-cell/pyhost/pkg/lock"
	"github.com/princesrivastav546-cell/pyhost/pkg/netport"
)

type fakeProcess struct {
	pid  int
	done chan struct{}
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-p.done:
		return 0, nil
	}
}

type fakeStarter struct {
	pid        int
	logContent string
}

func (s *fakeStarter) Start(_ context.Context, spec launcher.LaunchSpec) (launcher.Process, error) {
	if s.logContent != "" {
		if err := os.WriteFile(spec.LogPath, []byte(s.logContent), 0o644); err != nil {
			return nil, err
		}
	}

	return &fakeProcess{pid: s.pid, done: make(chan struct{})}, nil
}

// startSleeper spawns a process in its own group so stop requests have a
// real pid to signal without hitting the test process.
func startSleeper(t *testing.T) int {
	t.Helper()

	cmd := exec.Command("sleep", "300")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting sleeper: %v", err)
	}

	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }()
	t.Cleanup(func() { _ = syscall.Kill(-pid, syscall.SIGKILL) })

	return pid
}

type testServer struct {
	http       *httptest.Server
	db         *sql.DB
	adminToken string
}

func newTestServer(t *testing.T, starter launcher.Starter) *testServer {
	t.Helper()

	ctx := context.Background()
	dataDir := t.TempDir()

	conn, err := dbpkg.NewDB(ctx, filepath.Join(dataDir, "pyhost.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := dbpkg.InitSchema(ctx, conn); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	registry, adminToken, err := access.Open(filepath.Join(dataDir, "users.json"))
	if err != nil {
		t.Fatalf("opening registry: %v", err)
	}

	pool, err := netport.NewPool(10000, 10009)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	l := launcher.New(provision.NewNoOpInstaller(), resolve.NewNoOpResolver(), starter, lock.NewNoOpLocker())
	runtime := func(string) (baseimage.Resolver, error) { return baseimage.NewNoOpResolver(), nil }
	manager := supervisor.NewManager(conn, l, pool, runtime, supervisor.Config{
		DataDir: dataDir,
		Grace:   50 * time.Millisecond,
	})

	srv := New("127.0.0.1:0", manager, registry, conn)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{http: ts, db: conn, adminToken: adminToken}
}

func (ts *testServer) request(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}

	return resp.StatusCode, respBody
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decoding response %q: %v", body, err)
	}

	return v
}

func writeSource(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}

	return dir
}

func (ts *testServer) createApp(t *testing.T, token, name, srcDir string) appResponse {
	t.Helper()

	status, body := ts.request(t, http.MethodPost, "/v1/apps", token, createAppRequest{
		Name:       name,
		SourceKind: "dir",
		SourceRef:  srcDir,
	})
	if status != http.StatusCreated {
		t.Fatalf("create app status = %d, body = %s", status, body)
	}

	return decode[appResponse](t, body)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, &fakeStarter{pid: os.Getpid()})

	status, _ := ts.request(t, http.MethodGet, "/v1/apps", "", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", status)
	}

	status, _ = ts.request(t, http.MethodGet, "/v1/apps", "not-a-real-token", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", status)
	}
}

func TestPublicEndpoints(t *testing.T) {
	ts := newTestServer(t, &fakeStarter{pid: os.Getpid()})

	status, body := ts.request(t, http.MethodGet, "/", "", nil)
	if status != http.StatusOK || !strings.Contains(string(body), "alive") {
		t.Errorf("root = %d %q, want 200 with alive message", status, body)
	}

	status, _ = ts.request(t, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", status)
	}

	status, _ = ts.request(t, http.MethodGet, "/status", "", nil)
	if status != http.StatusBadRequest {
		t.Errorf("status without app param = %d, want 400", status)
	}

	status, body = ts.request(t, http.MethodGet, "/status?app=ghost", "", nil)
	if status != http.StatusNotFound || !strings.Contains(string(body), "stopped") {
		t.Errorf("status for unknown app = %d %q, want 404 stopped", status, body)
	}
}

func TestAppLifecycle(t *testing.T) {
	pid := startSleeper(t)
	ts := newTestServer(t, &fakeStarter{pid: pid, logContent: "booting\nready\n"})

	src := writeSource(t, map[string]string{"bot.py": "print('hi')\n"})
	app := ts.createApp(t, ts.adminToken, "bot", src)

	if app.Owner != access.AdminUser {
		t.Errorf("app owner = %q, want %q", app.Owner, access.AdminUser)
	}

	status, _ := ts.request(t, http.MethodPost, "/v1/apps/"+app.ID+"/env", ts.adminToken, "GREETING=hello\n")
	if status != http.StatusNoContent {
		t.Fatalf("append env status = %d, want 204", status)
	}

	status, body := ts.request(t, http.MethodPost, "/v1/apps/"+app.ID+"/build", ts.adminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("build status = %d, body = %s", status, body)
	}
	build := decode[buildResponse](t, body)
	if build.Status != models.BuildSucceeded || build.EnvDigest == "" {
		t.Errorf("build response = %+v, want succeeded with digest", build)
	}

	status, body = ts.request(t, http.MethodPost, "/v1/apps/"+app.ID+"/start", ts.adminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("start status = %d, body = %s", status, body)
	}
	instance := decode[instanceResponse](t, body)
	if instance.Pid != pid {
		t.Errorf("instance pid = %d, want %d", instance.Pid, pid)
	}

	status, body = ts.request(t, http.MethodGet, "/status?app=bot", "", nil)
	if status != http.StatusOK || !strings.Contains(string(body), "running") {
		t.Errorf("status while running = %d %q, want 200 running", status, body)
	}

	status, _ = ts.request(t, http.MethodPost, "/v1/apps/"+app.ID+"/start", ts.adminToken, nil)
	if status != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", status)
	}

	status, body = ts.request(t, http.MethodGet, "/v1/apps/"+app.ID+"/logs", ts.adminToken, nil)
	if status != http.StatusOK || !strings.Contains(string(body), "ready") {
		t.Errorf("logs = %d %q, want 200 with log content", status, body)
	}

	status, body = ts.request(t, http.MethodPost, "/v1/apps/"+app.ID+"/stop", ts.adminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("stop status = %d, body = %s", status, body)
	}

	status, _ = ts.request(t, http.MethodGet, "/status?app=bot", "", nil)
	if status != http.StatusNotFound {
		t.Errorf("status after stop = %d, want 404", status)
	}

	status, _ = ts.request(t, http.MethodPost, "/v1/apps/"+app.ID+"/stop", ts.adminToken, nil)
	if status != http.StatusConflict {
		t.Errorf("second stop status = %d, want 409", status)
	}

	status, _ = ts.request(t, http.MethodDelete, "/v1/apps/"+app.ID, ts.adminToken, nil)
	if status != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", status)
	}

	status, _ = ts.request(t, http.MethodGet, "/v1/apps/"+app.ID, ts.adminToken, nil)
	if status != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", status)
	}
}

func TestCreateAppValidation(t *testing.T) {
	ts := newTestServer(t, &fakeStarter{pid: os.Getpid()})

	status, _ := ts.request(t, http.MethodPost, "/v1/apps", ts.adminToken, createAppRequest{Name: ""})
	if status != http.StatusBadRequest {
		t.Errorf("empty name status = %d, want 400", status)
	}

	status, _ = ts.request(t, http.MethodPost, "/v1/apps", ts.adminToken, createAppRequest{Name: "no spaces"})
	if status != http.StatusBadRequest {
		t.Errorf("invalid name status = %d, want 400", status)
	}

	status, _ = ts.request(t, http.MethodPost, "/v1/apps", ts.adminToken, createAppRequest{
		Name:       "bot",
		SourceKind: "carrier-pigeon",
	})
	if status != http.StatusBadRequest {
		t.Errorf("unknown source kind status = %d, want 400", status)
	}

	src := writeSource(t, map[string]string{"bot.py": ""})
	ts.createApp(t, ts.adminToken, "bot", src)

	status, _ = ts.request(t, http.MethodPost, "/v1/apps", ts.adminToken, createAppRequest{Name: "bot"})
	if status != http.StatusConflict {
		t.Errorf("duplicate name status = %d, want 409", status)
	}
}

func TestBuildFailureReportsStage(t *testing.T) {
	ts := newTestServer(t, &fakeStarter{pid: os.Getpid()})

	app := ts.createApp(t, ts.adminToken, "bot", "/does/not/exist")

	status, body := ts.request(t, http.MethodPost, "/v1/apps/"+app.ID+"/build", ts.adminToken, nil)
	if status != http.StatusInternalServerError {
		t.Fatalf("build status = %d, want 500", status)
	}

	resp := decode[errorResponse](t, body)
	if resp.Stage != string(launcher.StageMaterialize) {
		t.Errorf("error stage = %q, want %q", resp.Stage, launcher.StageMaterialize)
	}
	if resp.Error == "" {
		t.Error("error message is empty")
	}
}

func TestOwnerScoping(t *testing.T) {
	ts := newTestServer(t, &fakeStarter{pid: os.Getpid()})

	addUser := func(name string) string {
		status, body := ts.request(t, http.MethodPost, "/v1/users", ts.adminToken, map[string]string{"name": name})
		if status != http.StatusCreated {
			t.Fatalf("adding user %s: status = %d, body = %s", name, status, body)
		}
		return decode[map[string]string](t, body)["token"]
	}

	aliceToken := addUser("alice")
	bobToken := addUser("bob")

	src := writeSource(t, map[string]string{"bot.py": ""})
	app := ts.createApp(t, aliceToken, "alice-bot", src)

	// bob cannot see or touch alice's app
	status, _ := ts.request(t, http.MethodGet, "/v1/apps/"+app.ID, bobToken, nil)
	if status != http.StatusNotFound {
		t.Errorf("bob get status = %d, want 404", status)
	}
	status, _ = ts.request(t, http.MethodDelete, "/v1/apps/"+app.ID, bobToken, nil)
	if status != http.StatusNotFound {
		t.Errorf("bob delete status = %d, want 404", status)
	}

	status, body := ts.request(t, http.MethodGet, "/v1/apps", bobToken, nil)
	if status != http.StatusOK {
		t.Fatalf("bob list status = %d", status)
	}
	if apps := decode[[]appResponse](t, body); len(apps) != 0 {
		t.Errorf("bob sees %d apps, want 0", len(apps))
	}

	// the owner and the admin both see it
	status, body = ts.request(t, http.MethodGet, "/v1/apps", aliceToken, nil)
	if status != http.StatusOK {
		t.Fatalf("alice list status = %d", status)
	}
	if apps := decode[[]appResponse](t, body); len(apps) != 1 {
		t.Errorf("alice sees %d apps, want 1", len(apps))
	}

	status, body = ts.request(t, http.MethodGet, "/v1/apps/"+app.ID, ts.adminToken, nil)
	if status != http.StatusOK {
		t.Errorf("admin get status = %d, body = %s", status, body)
	}
}

func TestUserManagement(t *testing.T) {
	ts := newTestServer(t, &fakeStarter{pid: os.Getpid()})

	status, body := ts.request(t, http.MethodPost, "/v1/users", ts.adminToken, map[string]string{"name": "alice"})
	if status != http.StatusCreated {
		t.Fatalf("add user status = %d, body = %s", status, body)
	}
	aliceToken := decode[map[string]string](t, body)["token"]
	if aliceToken == "" {
		t.Fatal("add user returned no token")
	}

	// user management is admin only
	status, _ = ts.request(t, http.MethodGet, "/v1/users", aliceToken, nil)
	if status != http.StatusForbidden {
		t.Errorf("non admin list users status = %d, want 403", status)
	}
	status, _ = ts.request(t, http.MethodPost, "/v1/users", aliceToken, map[string]string{"name": "eve"})
	if status != http.StatusForbidden {
		t.Errorf("non admin add user status = %d, want 403", status)
	}

	status, _ = ts.request(t, http.MethodPost, "/v1/users", ts.adminToken, map[string]string{"name": "alice"})
	if status != http.StatusConflict {
		t.Errorf("duplicate user status = %d, want 409", status)
	}

	status, _ = ts.request(t, http.MethodDelete, "/v1/users/"+access.AdminUser, ts.adminToken, nil)
	if status != http.StatusForbidden {
		t.Errorf("remove admin status = %d, want 403", status)
	}
	status, _ = ts.request(t, http.MethodDelete, "/v1/users/ghost", ts.adminToken, nil)
	if status != http.StatusNotFound {
		t.Errorf("remove unknown user status = %d, want 404", status)
	}

	// resetting invalidates the old token
	status, body = ts.request(t, http.MethodPost, "/v1/users/alice/token", ts.adminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("reset token status = %d, body = %s", status, body)
	}
	newToken := decode[map[string]string](t, body)["token"]

	status, _ = ts.request(t, http.MethodGet, "/v1/apps", aliceToken, nil)
	if status != http.StatusUnauthorized {
		t.Errorf("old token status = %d, want 401", status)
	}
	status, _ = ts.request(t, http.MethodGet, "/v1/apps", newToken, nil)
	if status != http.StatusOK {
		t.Errorf("new token status = %d, want 200", status)
	}

	status, _ = ts.request(t, http.MethodDelete, "/v1/users/alice", ts.adminToken, nil)
	if status != http.StatusNoContent {
		t.Errorf("remove user status = %d, want 204", status)
	}
	status, _ = ts.request(t, http.MethodGet, "/v1/apps", newToken, nil)
	if status != http.StatusUnauthorized {
		t.Errorf("removed user token status = %d, want 401", status)
	}
}

func TestUploadSource(t *testing.T) {
	ts := newTestServer(t, &fakeStarter{pid: os.Getpid()})

	src := writeSource(t, map[string]string{"bot.py": ""})
	app := ts.createApp(t, ts.adminToken, "bot", src)

	status, _ := ts.request(t, http.MethodPost, "/v1/apps/"+app.ID+"/source", ts.adminToken, "fake archive bytes")
	if status != http.StatusNoContent {
		t.Fatalf("upload status = %d, want 204", status)
	}

	status, body := ts.request(t, http.MethodGet, "/v1/apps/"+app.ID, ts.adminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("get app status = %d", status)
	}
	updated := decode[appResponse](t, body)
	if updated.SourceKind != "archive" {
		t.Errorf("source kind after upload = %q, want archive", updated.SourceKind)
	}
	if _, err := os.Stat(updated.SourceRef); err != nil {
		t.Errorf("uploaded archive missing: %v", err)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, &fakeStarter{pid: os.Getpid()})

	status, body := ts.request(t, http.MethodGet, "/stats", ts.adminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("stats status = %d, body = %s", status, body)
	}

	var snapshot struct {
		MemoryPercent float64 `json:"memory_percent"`
		ActiveApps    int     `json:"active_apps"`
	}
	if err := json.Unmarshal(body, &snapshot); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if snapshot.MemoryPercent <= 0 {
		t.Errorf("memory percent = %v, want > 0", snapshot.MemoryPercent)
	}
}
