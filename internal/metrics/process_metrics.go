package metrics

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMetrics holds a CPU and memory sample for a single process.
type ProcessMetrics struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// SampleProcess reads the current resource usage of pid.
// CPUPercent is averaged over the lifetime of the process.
func SampleProcess(pid int) (ProcessMetrics, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("failed to get CPU percent: %w", err)
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("failed to get memory info: %w", err)
	}

	m := ProcessMetrics{
		PID:        int32(pid),
		CPUPercent: cpuPercent,
		MemoryRSS:  memInfo.RSS,
		MemoryVMS:  memInfo.VMS,
		Timestamp:  time.Now(),
	}
	if n, err := proc.NumThreads(); err == nil {
		m.NumThreads = n
	}
	return m, nil
}
