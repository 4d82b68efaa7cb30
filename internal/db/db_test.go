package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	models "github.com/princesrivastav546-cell/pyhost/internal/db/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	conn, err := NewDB(ctx, filepath.Join(t.TempDir(), "pyhost.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := InitSchema(ctx, conn); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	return conn
}

func TestAppRoundTrip(t *testing.T) {
	ctx := context.Background()
	conn := newTestDB(t)

	app := &models.App{
		ID:         "app-1",
		Name:       "discord-bot",
		Owner:      "admin",
		SourceKind: "git",
		SourceRef:  "https://example.com/bot.git",
	}

	if err := models.UpsertApp(ctx, conn, app); err != nil {
		t.Fatalf("UpsertApp failed: %v", err)
	}

	got, err := models.GetAppByID(ctx, conn, "app-1")
	if err != nil {
		t.Fatalf("GetAppByID failed: %v", err)
	}
	if got.Name != app.Name || got.SourceKind != app.SourceKind || got.SourceRef != app.SourceRef {
		t.Errorf("got %+v, want fields of %+v", got, app)
	}

	byName, err := models.GetAppByName(ctx, conn, "discord-bot")
	if err != nil {
		t.Fatalf("GetAppByName failed: %v", err)
	}
	if byName.ID != "app-1" {
		t.Errorf("GetAppByName returned id %q, want %q", byName.ID, "app-1")
	}

	app.Name = "renamed-bot"
	if err := models.UpsertApp(ctx, conn, app); err != nil {
		t.Fatalf("UpsertApp update failed: %v", err)
	}

	apps, err := models.ListApps(ctx, conn)
	if err != nil {
		t.Fatalf("ListApps failed: %v", err)
	}
	if len(apps) != 1 {
		t.Fatalf("expected 1 app after upsert, got %d", len(apps))
	}
	if apps[0].Name != "renamed-bot" {
		t.Errorf("upsert did not update name, got %q", apps[0].Name)
	}

	if err := models.DeleteApp(ctx, conn, "app-1"); err != nil {
		t.Fatalf("DeleteApp failed: %v", err)
	}
	_, err = models.GetAppByID(ctx, conn, "app-1")
	if !models.IsNotFound(err) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

func TestBuildLifecycle(t *testing.T) {
	ctx := context.Background()
	conn := newTestDB(t)

	app := &models.App{ID: "app-1", Name: "bot", SourceKind: "dir", SourceRef: "/srv/bot"}
	if err := models.UpsertApp(ctx, conn, app); err != nil {
		t.Fatalf("UpsertApp failed: %v", err)
	}

	build, err := models.InsertBuild(ctx, conn, app.ID)
	if err != nil {
		t.Fatalf("InsertBuild failed: %v", err)
	}
	if build.Status != models.BuildQueued {
		t.Errorf("new build status = %q, want %q", build.Status, models.BuildQueued)
	}

	if err := models.MarkBuildRunning(ctx, conn, build.ID); err != nil {
		t.Fatalf("MarkBuildRunning failed: %v", err)
	}
	got, err := models.GetBuildByID(ctx, conn, build.ID)
	if err != nil {
		t.Fatalf("GetBuildByID failed: %v", err)
	}
	if got.Status != models.BuildRunning || got.StartedAt == nil {
		t.Errorf("running build = %+v, want status running with started_at", got)
	}

	if err := models.MarkBuildSucceeded(ctx, conn, build.ID, "sha256:abc"); err != nil {
		t.Fatalf("MarkBuildSucceeded failed: %v", err)
	}
	got, err = models.GetBuildByID(ctx, conn, build.ID)
	if err != nil {
		t.Fatalf("GetBuildByID failed: %v", err)
	}
	if got.Status != models.BuildSucceeded || got.EnvDigest == nil || *got.EnvDigest != "sha256:abc" {
		t.Errorf("succeeded build = %+v, want digest sha256:abc", got)
	}
	if got.CompletedAt == nil {
		t.Error("succeeded build has no completed_at")
	}

	second, err := models.InsertBuild(ctx, conn, app.ID)
	if err != nil {
		t.Fatalf("InsertBuild failed: %v", err)
	}
	if err := models.MarkBuildFailed(ctx, conn, second.ID, "pip install: exit status 1"); err != nil {
		t.Fatalf("MarkBuildFailed failed: %v", err)
	}

	latest, err := models.LatestBuildByAppID(ctx, conn, app.ID)
	if err != nil {
		t.Fatalf("LatestBuildByAppID failed: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("latest build = %q, want %q", latest.ID, second.ID)
	}
	if latest.Status != models.BuildFailed || latest.Error == nil {
		t.Errorf("failed build = %+v, want status failed with error", latest)
	}

	builds, err := models.ListBuildsByAppID(ctx, conn, app.ID)
	if err != nil {
		t.Fatalf("ListBuildsByAppID failed: %v", err)
	}
	if len(builds) != 2 {
		t.Errorf("expected 2 builds, got %d", len(builds))
	}
}

func TestInstanceLifecycle(t *testing.T) {
	ctx := context.Background()
	conn := newTestDB(t)

	app := &models.App{ID: "app-1", Name: "bot", SourceKind: "dir", SourceRef: "/srv/bot"}
	if err := models.UpsertApp(ctx, conn, app); err != nil {
		t.Fatalf("UpsertApp failed: %v", err)
	}

	instance := &models.Instance{
		ID:      "inst-1",
		AppID:   app.ID,
		Pid:     4242,
		Port:    10001,
		LogPath: "/var/lib/pyhost/apps/app-1/app.log",
	}
	if err := models.InsertInstance(ctx, conn, instance); err != nil {
		t.Fatalf("InsertInstance failed: %v", err)
	}

	running, err := models.ListRunningInstances(ctx, conn)
	if err != nil {
		t.Fatalf("ListRunningInstances failed: %v", err)
	}
	if len(running) != 1 || running[0].ID != "inst-1" {
		t.Fatalf("expected one running instance inst-1, got %+v", running)
	}
	if running[0].Status != models.InstanceRunning {
		t.Errorf("inserted instance status = %q, want %q", running[0].Status, models.InstanceRunning)
	}

	code := 3
	if err := models.MarkInstanceExited(ctx, conn, instance.ID, &code); err != nil {
		t.Fatalf("MarkInstanceExited failed: %v", err)
	}

	got, err := models.GetInstanceByID(ctx, conn, instance.ID)
	if err != nil {
		t.Fatalf("GetInstanceByID failed: %v", err)
	}
	if got.Status != models.InstanceExited {
		t.Errorf("status = %q, want %q", got.Status, models.InstanceExited)
	}
	if got.ExitCode == nil || *got.ExitCode != 3 {
		t.Errorf("exit code = %v, want 3", got.ExitCode)
	}

	running, err = models.ListRunningInstances(ctx, conn)
	if err != nil {
		t.Fatalf("ListRunningInstances failed: %v", err)
	}
	if len(running) != 0 {
		t.Errorf("expected no running instances, got %d", len(running))
	}

	byApp, err := models.ListInstancesByAppID(ctx, conn, app.ID)
	if err != nil {
		t.Fatalf("ListInstancesByAppID failed: %v", err)
	}
	if len(byApp) != 1 {
		t.Errorf("expected 1 instance for app, got %d", len(byApp))
	}

	// instance rows hang off the app row
	if err := models.DeleteApp(ctx, conn, app.ID); err != nil {
		t.Fatalf("DeleteApp failed: %v", err)
	}
	byApp, err = models.ListInstancesByAppID(ctx, conn, app.ID)
	if err != nil {
		t.Fatalf("ListInstancesByAppID failed: %v", err)
	}
	if len(byApp) != 0 {
		t.Errorf("expected instances gone with their app, got %d", len(byApp))
	}
}
