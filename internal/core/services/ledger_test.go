package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specsched/internal/core/domain"
)

// stubSampler returns a fixed reading.
type stubSampler struct {
	load float64
	mem  float64
}

func (s stubSampler) Sample(ctx context.Context) domain.ResourceSample {
	return domain.ResourceSample{LoadRatio: s.load, MemoryPressure: s.mem, SampledAt: time.Now()}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quietLedger(load, mem float64, maxConcurrent int) *ResourceLedger {
	cfg := domain.DefaultSchedulerConfig()
	cfg.MaxConcurrentTasks = maxConcurrent
	return NewResourceLedger(testLogger(), stubSampler{load: load, mem: mem}, cfg)
}

func TestTryAdmit_QuietHost(t *testing.T) {
	l := quietLedger(0.1, 0.2, 8)
	ok := l.TryAdmit(context.Background(), "t1", "coder", domain.ResourceRequirements{CPUPercent: 10})
	assert.True(t, ok)
	assert.Equal(t, 1, l.Active())
}

func TestTryAdmit_LoadThresholdDeniesWithoutMutation(t *testing.T) {
	l := quietLedger(0.9, 0.2, 8)
	ok := l.TryAdmit(context.Background(), "t1", "coder", domain.ResourceRequirements{})
	assert.False(t, ok)
	assert.Equal(t, 0, l.Active())
}

func TestTryAdmit_MemoryThresholdDenies(t *testing.T) {
	l := quietLedger(0.1, 0.85, 8)
	assert.False(t, l.TryAdmit(context.Background(), "t1", "coder", domain.ResourceRequirements{}))
}

func TestTryAdmit_HighImpactRule(t *testing.T) {
	// cpu > 30 while load > 0.6 => deny even though load is under 0.85
	l := quietLedger(0.7, 0.2, 8)
	assert.False(t, l.TryAdmit(context.Background(), "heavy", "coder", domain.ResourceRequirements{CPUPercent: 50}))
	// A light task is still fine under the same load.
	assert.True(t, l.TryAdmit(context.Background(), "light", "coder", domain.ResourceRequirements{CPUPercent: 10}))
}

func TestTryAdmit_ConcurrencyCap(t *testing.T) {
	l := quietLedger(0.1, 0.1, 2)
	assert.True(t, l.TryAdmit(context.Background(), "a", "x", domain.ResourceRequirements{}))
	assert.True(t, l.TryAdmit(context.Background(), "b", "x", domain.ResourceRequirements{}))
	assert.False(t, l.TryAdmit(context.Background(), "c", "x", domain.ResourceRequirements{}))

	l.Release("a")
	assert.True(t, l.TryAdmit(context.Background(), "c", "x", domain.ResourceRequirements{}))
}

func TestRelease_DoubleReleaseIsNoOp(t *testing.T) {
	l := quietLedger(0.1, 0.1, 4)
	require.True(t, l.TryAdmit(context.Background(), "a", "x", domain.ResourceRequirements{}))
	l.Release("a")
	l.Release("a") // warns, does not panic or corrupt
	assert.Equal(t, 0, l.Active())

	assert.True(t, l.TryAdmit(context.Background(), "a", "x", domain.ResourceRequirements{}))
	assert.Equal(t, 1, l.Active())
}

func TestTryAdmit_NeverExceedsCapUnderContention(t *testing.T) {
	const max = 4
	l := quietLedger(0.1, 0.1, max)

	var violations atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("g%d-i%d", g, i)
				if l.TryAdmit(context.Background(), id, "x", domain.ResourceRequirements{}) {
					if l.Active() > max {
						violations.Add(1)
					}
					l.Release(id)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Zero(t, violations.Load(), "active count exceeded the configured cap")
	assert.Equal(t, 0, l.Active())
	assert.LessOrEqual(t, l.Peak(), max)
}
