// Package probe samples host hardware and utilization into a
// catalog.HWStatus snapshot. The default Sampler reads CPU identity via
// klauspost/cpuid, CPU/memory/disk utilization via platform-specific
// counters, and delegates GPU sampling to a pluggable GPUSampler (no GPU
// support ships by default — every backend in this tree is CPU/disk only).
package probe

import (
	"time"

	"github.com/klauspost/cpuid/v2"

	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/catalog"
)

// GPUSampler reports GPU count and per-device utilization percentage.
// Implementations are platform- and vendor-specific; the default NoGPU
// sampler always reports zero.
type GPUSampler interface {
	Sample() (count int, usage map[string]int)
}

// NoGPU is the default GPUSampler: no GPU telemetry available.
type NoGPU struct{}

func (NoGPU) Sample() (int, map[string]int) { return 0, nil }

// Sampler captures a point-in-time HWStatus for the host openidcsd runs
// on, independent of any backend adapter.
type Sampler struct {
	GPU        GPUSampler
	paths      []string // extra mount points to report in DiskExtra
	lastStat   cpuTimes
	lastStatOK bool
}

// NewSampler constructs a Sampler. extraMounts are additional filesystem
// paths (beyond SystemPath) to report per-mount usage for in DiskExtra.
func NewSampler(extraMounts ...string) *Sampler {
	return &Sampler{GPU: NoGPU{}, paths: extraMounts}
}

// Sample returns a fresh HWStatus. systemPath is the root whose usage
// populates DiskTotalMB/DiskUsageMB.
func (s *Sampler) Sample(systemPath string) catalog.HWStatus {
	hw := catalog.HWStatus{
		CPUModel: cpuid.CPU.BrandName,
		CPUCores: cpuid.CPU.LogicalCores,
	}
	if hw.CPUCores == 0 {
		hw.CPUCores = cpuid.CPU.PhysicalCores
	}

	hw.CPUUsage = s.sampleCPUUsage()
	hw.MemTotalMB, hw.MemUsageMB = sampleMemory()
	hw.DiskTotalMB, hw.DiskUsageMB = sampleDisk(systemPath)

	if len(s.paths) > 0 {
		hw.DiskExtra = make(map[string]catalog.DiskUsage, len(s.paths))
		for _, p := range s.paths {
			total, used := sampleDisk(p)
			hw.DiskExtra[p] = catalog.DiskUsage{total, used}
		}
	}

	hw.GPUCount, hw.GPUUsage = s.GPU.Sample()
	hw.SampledAt = time.Now().Unix()
	return hw
}

// cpuTimes is the subset of /proc/stat's aggregate CPU line needed to
// compute a busy-fraction delta between two samples.
type cpuTimes struct {
	idle, total uint64
}

// sampleCPUUsage returns the percentage of CPU time spent busy since the
// previous call, 0 on the first call (no baseline yet) or when platform
// counters are unavailable.
func (s *Sampler) sampleCPUUsage() float64 {
	cur, ok := readCPUTimes()
	if !ok {
		return 0
	}
	if !s.lastStatOK {
		s.lastStat = cur
		s.lastStatOK = true
		return 0
	}

	idleDelta := cur.idle - s.lastStat.idle
	totalDelta := cur.total - s.lastStat.total
	s.lastStat = cur
	if totalDelta == 0 {
		return 0
	}
	busy := totalDelta - idleDelta
	return float64(busy) / float64(totalDelta) * 100
}
