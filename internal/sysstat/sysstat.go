// Package sysstat reads host CPU load and the process's resident memory.
package sysstat

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"

	"signwatch/internal/pipeline"
)

const bytesPerMB = 1024 * 1024

// Sampler reports system-wide CPU percent since the previous call and the
// RSS of the current process
type Sampler struct {
	proc *process.Process
}

// NewSampler attaches to the current process
func NewSampler() (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open process stats: %w", err)
	}
	// Prime the CPU counters so the first sample covers a real interval
	if _, err := cpu.Percent(0, false); err != nil {
		return nil, fmt.Errorf("failed to read cpu stats: %w", err)
	}
	return &Sampler{proc: proc}, nil
}

// Sample returns the current reading
func (s *Sampler) Sample() (pipeline.ResourceUsage, error) {
	var usage pipeline.ResourceUsage

	percents, err := cpu.Percent(0, false)
	if err != nil {
		return usage, fmt.Errorf("cpu percent: %w", err)
	}
	if len(percents) > 0 {
		usage.CPUPercent = percents[0]
	}

	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return usage, fmt.Errorf("memory info: %w", err)
	}
	usage.RAMMB = float64(mem.RSS) / bytesPerMB
	return usage, nil
}

var _ pipeline.ResourceSampler = (*Sampler)(nil)
