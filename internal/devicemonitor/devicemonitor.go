// Package devicemonitor samples host CPU/memory pressure so SyncEngine
// and Reconnector can back off when the device itself is overloaded
// (SPEC_FULL.md §4.10). Grounded on the teacher's ResourceGuard
// (src/resource_guard.go): the same cpu.Percent(100ms, false) +
// runtime.ReadMemStats sampling pair, adapted from a server's
// accept/reject decision to a client-side three-level pressure signal.
package devicemonitor

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// Level is the device pressure classification SyncEngine/Reconnector
// react to.
type Level int

const (
	Normal Level = iota
	Elevated
	Critical
)

func (l Level) String() string {
	switch l {
	case Elevated:
		return "elevated"
	case Critical:
		return "critical"
	default:
		return "normal"
	}
}

// Thresholds configures where Normal/Elevated/Critical boundaries sit.
// A Thresholds whose two CPU fields are both zero is replaced whole by
// DefaultThresholds; otherwise every field, zero or not, is used as
// given.
type Thresholds struct {
	CPUElevatedPercent float64
	CPUCriticalPercent float64
	MemElevatedBytes   int64
	MemCriticalBytes   int64
}

// DefaultThresholds mirrors the teacher's CPURejectThreshold/
// CPUPauseThreshold split, applied to a mobile device's smaller memory
// budget rather than a server's.
var DefaultThresholds = Thresholds{
	CPUElevatedPercent: 70,
	CPUCriticalPercent: 90,
	MemElevatedBytes:   256 * 1024 * 1024,
	MemCriticalBytes:   512 * 1024 * 1024,
}

// Monitor periodically samples CPU and memory usage and classifies the
// result into a Level. Safe for concurrent use.
type Monitor struct {
	thresholds Thresholds
	log        zerolog.Logger

	level atomic.Value // Level

	stop     chan struct{}
	stopOnce chan struct{}
}

// New builds a Monitor. Call Watch to start sampling; Pressure returns
// Normal until the first sample completes.
func New(thresholds Thresholds, log zerolog.Logger) *Monitor {
	if thresholds.CPUElevatedPercent == 0 && thresholds.CPUCriticalPercent == 0 {
		thresholds = DefaultThresholds
	}
	m := &Monitor{thresholds: thresholds, log: log, stop: make(chan struct{})}
	m.level.Store(Normal)
	return m
}

// Pressure returns the most recently sampled Level.
func (m *Monitor) Pressure() Level {
	return m.level.Load().(Level)
}

// Watch starts periodic sampling at interval and returns a channel
// that receives a value every time the classified Level changes. The
// channel is closed when ctx is done.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration) <-chan Level {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ch := make(chan Level, 1)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				prev := m.Pressure()
				next := m.sample()
				if next != prev {
					m.level.Store(next)
					select {
					case ch <- next:
					case <-ctx.Done():
						return
					}
					m.log.Info().Str("pressure", next.String()).Msg("devicemonitor: pressure level changed")
				}
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			}
		}
	}()

	return ch
}

// Stop halts Watch's sampling loop.
func (m *Monitor) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

// sample takes one CPU/memory reading and classifies it. Grounded on
// UpdateResources (src/resource_guard.go): 100ms is short enough not
// to stall the caller and long enough for cpu.Percent to return a real
// delta rather than the invalid first-call reading a 0 interval gives.
func (m *Monitor) sample() Level {
	cpuPercent := 0.0
	if pcts, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pcts) > 0 {
		cpuPercent = pcts[0]
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	memBytes := int64(mem.Alloc)

	switch {
	case cpuPercent >= m.thresholds.CPUCriticalPercent || memBytes >= m.thresholds.MemCriticalBytes:
		return Critical
	case cpuPercent >= m.thresholds.CPUElevatedPercent || memBytes >= m.thresholds.MemElevatedBytes:
		return Elevated
	default:
		return Normal
	}
}
