//go:build !linux

package probe

// readCPUTimes, sampleMemory and sampleDisk have no counterpart outside
// Linux: these stubs report CPU times as unavailable and memory and disk
// figures as zero, so HWStatus samples taken on other platforms (such as
// a Windows controller running vmrest.exe locally) carry zero usage.

func readCPUTimes() (cpuTimes, bool) { return cpuTimes{}, false }

func sampleMemory() (totalMB, usedMB int64) { return 0, 0 }

func sampleDisk(path string) (totalMB, usedMB int64) { return 0, 0 }
