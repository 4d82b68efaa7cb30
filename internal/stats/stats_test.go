package stats

import (
	"context"
	"os"
	"testing"
)

func TestCollect(t *testing.T) {
	ctx := context.Background()

	snapshot, err := Collect(ctx, map[string]int{"self": os.Getpid()})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if snapshot.ActiveApps != 1 {
		t.Errorf("ActiveApps = %d, want 1", snapshot.ActiveApps)
	}
	if snapshot.MemoryPercent <= 0 || snapshot.MemoryPercent > 100 {
		t.Errorf("MemoryPercent = %f, want within (0, 100]", snapshot.MemoryPercent)
	}
	if len(snapshot.Apps) != 1 {
		t.Fatalf("expected 1 app entry, got %d", len(snapshot.Apps))
	}
	if snapshot.Apps[0].AppID != "self" || snapshot.Apps[0].PID != os.Getpid() {
		t.Errorf("app entry = %+v", snapshot.Apps[0])
	}
}

func TestCollectSkipsDeadProcesses(t *testing.T) {
	ctx := context.Background()

	// pid 0 never names a real userspace process
	snapshot, err := Collect(ctx, map[string]int{"ghost": 0})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if snapshot.ActiveApps != 1 {
		t.Errorf("ActiveApps = %d, want 1", snapshot.ActiveApps)
	}
	if len(snapshot.Apps) != 0 {
		t.Errorf("expected no app entries for dead pid, got %+v", snapshot.Apps)
	}
}
