// Package stats reports host and per app resource usage.
package stats

import (
	"context"
	"sort"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

type Snapshot struct {
	CPUPercent    float64    `json:"cpu_percent"`
	MemoryPercent float64    `json:"memory_percent"`
	ActiveApps    int        `json:"active_apps"`
	Apps          []AppStats `json:"apps,omitempty"`
}

type AppStats struct {
	AppID         string  `json:"app_id"`
	PID           int     `json:"pid"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float32 `json:"memory_percent"`
}

// Collect gathers a snapshot for the host and the given app processes.
// Apps whose process is already gone are skipped, the snapshot is a
// best effort view, not an audit.
func Collect(ctx context.Context, instances map[string]int) (*Snapshot, error) {
	// interval 0 measures since the previous call, the first call of a
	// process lifetime reports 0
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	cpuPercent := 0.0
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		CPUPercent:    cpuPercent,
		MemoryPercent: vm.UsedPercent,
		ActiveApps:    len(instances),
	}

	for appID, pid := range instances {
		proc, err := process.NewProcessWithContext(ctx, int32(pid))
		if err != nil {
			continue
		}

		appCPU, _ := proc.CPUPercentWithContext(ctx)
		appMem, _ := proc.MemoryPercentWithContext(ctx)

		snapshot.Apps = append(snapshot.Apps, AppStats{
			AppID:         appID,
			PID:           pid,
			CPUPercent:    appCPU,
			MemoryPercent: appMem,
		})
	}

	sort.Slice(snapshot.Apps, func(i, j int) bool {
		return snapshot.Apps[i].AppID < snapshot.Apps[j].AppID
	})

	return snapshot, nil
}
