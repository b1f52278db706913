package api

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/tphakala/safetynet-go/internal/logger"
)

// SystemInfo describes the host and the running pipeline process.
type SystemInfo struct {
	Version       string       `json:"version,omitempty"`
	OS            string       `json:"os"`
	Architecture  string       `json:"architecture"`
	Hostname      string       `json:"hostname"`
	Platform      string       `json:"platform"`
	PlatformVer   string       `json:"platform_version"`
	KernelVersion string       `json:"kernel_version"`
	UpTime        uint64       `json:"uptime_seconds"`
	BootTime      time.Time    `json:"boot_time"`
	AppStart      time.Time    `json:"app_start_time"`
	AppUptime     int64        `json:"app_uptime_seconds"`
	NumCPU        int          `json:"num_cpu"`
	NumGoroutine  int          `json:"num_goroutine"`
	GoVersion     string       `json:"go_version"`
	Resources     ResourceInfo `json:"resources"`
}

// ResourceInfo is memory and CPU usage of the host and of this process.
type ResourceInfo struct {
	MemoryTotal uint64  `json:"memory_total"`
	MemoryUsed  uint64  `json:"memory_used"`
	MemoryFree  uint64  `json:"memory_free"`
	MemoryUsage float64 `json:"memory_usage_percent"`
	ProcessMem  float64 `json:"process_memory_mb"`
	ProcessCPU  float64 `json:"process_cpu_percent"`
}

// GetSystemInfo handles GET /api/v1/system
func (c *Controller) GetSystemInfo(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()

	hostInfo, err := host.InfoWithContext(reqCtx)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get host information", http.StatusInternalServerError)
	}

	memInfo, err := mem.VirtualMemoryWithContext(reqCtx)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get memory information", http.StatusInternalServerError)
	}

	hostname := hostInfo.Hostname
	if hostname == "" {
		hostname = "unknown"
	}

	info := SystemInfo{
		Version:       c.version,
		OS:            runtime.GOOS,
		Architecture:  runtime.GOARCH,
		Hostname:      hostname,
		Platform:      hostInfo.Platform,
		PlatformVer:   hostInfo.PlatformVersion,
		KernelVersion: hostInfo.KernelVersion,
		UpTime:        hostInfo.Uptime,
		BootTime:      time.Unix(int64(hostInfo.BootTime), 0),
		AppStart:      c.startTime,
		AppUptime:     int64(time.Since(c.startTime).Seconds()),
		NumCPU:        runtime.NumCPU(),
		NumGoroutine:  runtime.NumGoroutine(),
		GoVersion:     runtime.Version(),
		Resources: ResourceInfo{
			MemoryTotal: memInfo.Total,
			MemoryUsed:  memInfo.Used,
			MemoryFree:  memInfo.Free,
			MemoryUsage: memInfo.UsedPercent,
		},
	}

	// Process figures are best effort, some sandboxes hide /proc/self details.
	proc, err := process.NewProcessWithContext(reqCtx, int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		c.log.Debug("process information unavailable", logger.Error(err))
		return ctx.JSON(http.StatusOK, info)
	}
	if rss, err := proc.MemoryInfoWithContext(reqCtx); err == nil {
		info.Resources.ProcessMem = float64(rss.RSS) / 1024 / 1024
	}
	if cpuPercent, err := proc.CPUPercentWithContext(reqCtx); err == nil {
		info.Resources.ProcessCPU = cpuPercent
	}

	return ctx.JSON(http.StatusOK, info)
}
