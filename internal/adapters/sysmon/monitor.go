// Package sysmon samples host load and memory pressure for admission
// decisions.
package sysmon

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"specsched/internal/core/domain"
)

// sampleTimeout bounds a single host probe so a stalled /proc read can
// never hold up an admission decision.
const sampleTimeout = 200 * time.Millisecond

const fallbackLoadRatio = 0.5

// Monitor reads the 1-minute load average and virtual memory usage from the
// host. It implements ports.ResourceSampler.
type Monitor struct {
	logger *slog.Logger
	cpus   float64
}

func NewMonitor(logger *slog.Logger) *Monitor {
	cpus := runtime.NumCPU()
	if cpus < 1 {
		cpus = 1
	}
	return &Monitor{logger: logger, cpus: float64(cpus)}
}

// Sample probes the host within sampleTimeout. When a probe fails the
// corresponding reading degrades to a conservative default rather than an
// error: schedulers must keep making decisions on hosts where /proc is
// unreadable.
func (m *Monitor) Sample(ctx context.Context) domain.ResourceSample {
	ctx, cancel := context.WithTimeout(ctx, sampleTimeout)
	defer cancel()

	sample := domain.ResourceSample{SampledAt: time.Now()}

	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		m.logger.Warn("load average unavailable, using fallback", "error", err)
		sample.LoadRatio = fallbackLoadRatio
		sample.Fallback = true
	} else {
		sample.LoadRatio = avg.Load1 / m.cpus
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		m.logger.Warn("memory stats unavailable, using fallback", "error", err)
		sample.MemoryPressure = 0
		sample.Fallback = true
	} else {
		sample.MemoryPressure = vm.UsedPercent / 100.0
	}

	return sample
}
