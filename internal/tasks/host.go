package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stone-age-io/fieldnode/internal/utils"
	"go.uber.org/zap"
)

// maxCPUBaselineAge is how old a CPU baseline may be before it is discarded
const maxCPUBaselineAge = 10 * time.Minute

// HostMetrics describes the board the node runs on
type HostMetrics struct {
	CPUUsagePercent float64 `json:"cpu_usage_percent"`
	MemoryFreeMB    float64 `json:"memory_free_mb"`
}

// HostCollector reads CPU and memory usage with gopsutil.
// CPU usage is a delta between two calls, so the first call reports 0.
type HostCollector struct {
	logger *zap.Logger

	mu            sync.Mutex
	lastTimestamp time.Time
	lastCPUTimes  cpu.TimesStat
	hasCPUTimes   bool
}

// NewHostCollector creates a new gopsutil-based collector
func NewHostCollector(logger *zap.Logger) *HostCollector {
	return &HostCollector{logger: logger}
}

// Collect gathers host metrics. Partial failures are logged and leave the
// affected field at zero.
func (c *HostCollector) Collect(ctx context.Context) *HostMetrics {
	metrics := &HostMetrics{}

	cpuPercent, err := c.collectCPU(ctx)
	if err != nil {
		c.logger.Warn("Failed to collect CPU metrics", zap.Error(err))
	} else {
		metrics.CPUUsagePercent = cpuPercent
	}

	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		c.logger.Warn("Failed to collect memory metrics", zap.Error(err))
	} else {
		metrics.MemoryFreeMB = utils.Megabytes(vmem.Available)
	}

	return metrics
}

func (c *HostCollector) collectCPU(ctx context.Context) (float64, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return 0, err
	}
	if len(times) == 0 {
		return 0, fmt.Errorf("no CPU times returned")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.hasCPUTimes && now.Sub(c.lastTimestamp) > maxCPUBaselineAge {
		c.logger.Debug("Discarding stale CPU baseline", zap.Duration("age", now.Sub(c.lastTimestamp)))
		c.hasCPUTimes = false
	}

	current := times[0]
	prev := c.lastCPUTimes
	hadBaseline := c.hasCPUTimes

	c.lastCPUTimes = current
	c.lastTimestamp = now
	c.hasCPUTimes = true

	if !hadBaseline {
		return 0, nil
	}
	return cpuUsage(prev, current), nil
}

// cpuUsage returns the busy percentage between two CPU time samples
func cpuUsage(prev, current cpu.TimesStat) float64 {
	total := func(t cpu.TimesStat) float64 {
		return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
	}
	idle := func(t cpu.TimesStat) float64 {
		return t.Idle + t.Iowait
	}

	totalDelta := total(current) - total(prev)
	idleDelta := idle(current) - idle(prev)
	if totalDelta <= 0 {
		return 0
	}

	usage := ((totalDelta - idleDelta) / totalDelta) * 100
	if usage < 0 {
		usage = 0
	}
	return utils.Round(usage)
}
