// Process resource monitor. Brackets one executor run at a time: Start
// records a baseline, Stop returns final metrics, Check enforces the
// configured limits. Session state is not designed for concurrent
// Start/Stop from multiple callers.
package diagnostics

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/archivio/doctor/internal/logging"
)

const (
	// DefaultMaxMemoryMB is permissive enough that default usage never
	// trips Check.
	DefaultMaxMemoryMB = 2048

	// DefaultMaxCPUTime bounds cumulative process CPU time per session.
	DefaultMaxCPUTime = 10 * time.Minute
)

// MonitorConfig sets the resource budget enforced by Check.
type MonitorConfig struct {
	MaxMemoryMB int
	MaxCPUTime  time.Duration
}

// MemoryMetrics describes process memory usage at sample time.
type MemoryMetrics struct {
	RSS       uint64 `json:"rss"`
	HeapUsed  uint64 `json:"heap_used"`
	HeapTotal uint64 `json:"heap_total"`
	External  uint64 `json:"external"`
}

// CPUMetrics describes process CPU usage at sample time. Time is the CPU
// time consumed since the session started.
type CPUMetrics struct {
	Usage float64       `json:"usage"`
	Time  time.Duration `json:"time"`
}

// ResourceMetrics is the sample shape shared by Current and Stop.
type ResourceMetrics struct {
	Memory   MemoryMetrics `json:"memory"`
	CPU      CPUMetrics    `json:"cpu"`
	Duration time.Duration `json:"duration"`
}

// ResourceMonitor samples the engine's own process via gopsutil.
type ResourceMonitor struct {
	cfg MonitorConfig
	log logging.Logger

	mu          sync.Mutex
	active      bool
	started     time.Time
	proc        *process.Process
	baselineCPU float64 // cumulative CPU seconds at Start
}

// NewResourceMonitor builds a monitor with permissive default limits.
func NewResourceMonitor(cfg MonitorConfig, log logging.Logger) *ResourceMonitor {
	if cfg.MaxMemoryMB <= 0 {
		cfg.MaxMemoryMB = DefaultMaxMemoryMB
	}
	if cfg.MaxCPUTime <= 0 {
		cfg.MaxCPUTime = DefaultMaxCPUTime
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &ResourceMonitor{cfg: cfg, log: log}
}

// Start begins a monitoring session and records the CPU baseline. Calling
// Start while a session is active is a no-op.
func (m *ResourceMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return nil
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("resource monitor: %w", err)
	}
	m.proc = proc
	m.baselineCPU = cpuSeconds(proc)
	m.started = time.Now()
	m.active = true
	return nil
}

// Stop ends the session and returns the final metrics.
func (m *ResourceMonitor) Stop() (ResourceMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return ResourceMetrics{}, fmt.Errorf("resource monitor is not active")
	}
	metrics := m.sampleLocked()
	m.active = false
	m.proc = nil
	return metrics, nil
}

// Current returns metrics for the active session; Duration reflects elapsed
// time since Start.
func (m *ResourceMonitor) Current() (ResourceMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return ResourceMetrics{}, fmt.Errorf("resource monitor is not active")
	}
	return m.sampleLocked(), nil
}

// Check compares current usage to the configured limits and returns a
// RESOURCE_LIMIT_EXCEEDED error when a limit is breached. It samples
// whether or not a session is active so it can be used standalone.
func (m *ResourceMonitor) Check() error {
	m.mu.Lock()
	var metrics ResourceMetrics
	if m.active {
		metrics = m.sampleLocked()
	} else {
		proc, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("resource monitor: %w", err)
		}
		metrics = sample(proc, 0, time.Time{})
	}
	m.mu.Unlock()

	maxBytes := uint64(m.cfg.MaxMemoryMB) * 1024 * 1024
	if metrics.Memory.RSS > maxBytes {
		return newResourceLimitError(
			fmt.Sprintf("memory usage %d MB exceeds limit %d MB",
				metrics.Memory.RSS/(1024*1024), m.cfg.MaxMemoryMB),
			metrics,
		)
	}
	if m.active && metrics.CPU.Time > m.cfg.MaxCPUTime {
		return newResourceLimitError(
			fmt.Sprintf("cpu time %s exceeds limit %s", metrics.CPU.Time, m.cfg.MaxCPUTime),
			metrics,
		)
	}
	return nil
}

// IsActive reports whether a session is in progress.
func (m *ResourceMonitor) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// sampleLocked collects metrics for the active session. Caller must hold
// the lock.
func (m *ResourceMonitor) sampleLocked() ResourceMetrics {
	return sample(m.proc, m.baselineCPU, m.started)
}

func sample(proc *process.Process, baselineCPU float64, started time.Time) ResourceMetrics {
	var metrics ResourceMetrics

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	metrics.Memory.HeapUsed = ms.HeapAlloc
	metrics.Memory.HeapTotal = ms.HeapSys
	metrics.Memory.External = ms.Sys - ms.HeapSys

	if proc != nil {
		if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
			metrics.Memory.RSS = mi.RSS
		}
		if pct, err := proc.CPUPercent(); err == nil {
			metrics.CPU.Usage = pct
		}
		metrics.CPU.Time = time.Duration((cpuSeconds(proc) - baselineCPU) * float64(time.Second))
	}
	if !started.IsZero() {
		metrics.Duration = time.Since(started)
	}
	return metrics
}

// cpuSeconds returns cumulative user+system CPU time in seconds.
func cpuSeconds(proc *process.Process) float64 {
	times, err := proc.Times()
	if err != nil || times == nil {
		return 0
	}
	return times.User + times.System
}
