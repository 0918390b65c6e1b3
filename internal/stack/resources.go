package stack

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// ResourceSnapshot is a point-in-time view of host resources, used by
// diagnostics to distinguish "Odoo is slow" from "the host is saturated".
type ResourceSnapshot struct {
	CPUUsagePercent float64   `json:"cpu_usage_percent"`
	CPUCores        int       `json:"cpu_cores"`
	LoadAverage     []float64 `json:"load_average,omitempty"`

	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
	MemoryPercent    float64 `json:"memory_percent"`

	DiskPath        string  `json:"disk_path,omitempty"`
	DiskTotalBytes  uint64  `json:"disk_total_bytes,omitempty"`
	DiskFreeBytes   uint64  `json:"disk_free_bytes,omitempty"`
	DiskUsedPercent float64 `json:"disk_used_percent,omitempty"`
}

// Resources samples host CPU, memory and load, plus disk usage for the
// given path (typically the snapshots dir). Best-effort: individual probe
// failures leave zero values rather than failing the whole snapshot.
func Resources(ctx context.Context, diskPath string) ResourceSnapshot {
	var snap ResourceSnapshot

	if counts, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPUCores = counts
	}
	if percents, err := cpu.PercentWithContext(ctx, 250*time.Millisecond, false); err == nil && len(percents) > 0 {
		snap.CPUUsagePercent = percents[0]
	}
	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		snap.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		snap.MemoryTotalBytes = vm.Total
		snap.MemoryUsedBytes = vm.Used
		snap.MemoryPercent = vm.UsedPercent
	}
	if diskPath != "" {
		if du, err := disk.UsageWithContext(ctx, diskPath); err == nil && du != nil {
			snap.DiskPath = diskPath
			snap.DiskTotalBytes = du.Total
			snap.DiskFreeBytes = du.Free
			snap.DiskUsedPercent = du.UsedPercent
		}
	}
	return snap
}
