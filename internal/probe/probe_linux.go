//go:build linux

package probe

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// readCPUTimes parses the aggregate "cpu " line of /proc/stat.
func readCPUTimes() (cpuTimes, bool) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return cpuTimes{}, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return cpuTimes{}, false
	}
	fields := strings.Fields(sc.Text())
	if len(fields) < 8 || fields[0] != "cpu" {
		return cpuTimes{}, false
	}

	var total uint64
	var idle uint64
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			continue
		}
		total += v
		// field index 3 (0-based within fields[1:]) is idle, index 4 is iowait
		if i == 3 || i == 4 {
			idle += v
		}
	}

	return cpuTimes{idle: idle, total: total}, true
}

// sampleMemory returns total and used memory in MiB via sysinfo(2).
func sampleMemory() (totalMB, usedMB int64) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, 0
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	totalBytes := uint64(info.Totalram) * unit
	freeBytes := uint64(info.Freeram) * unit
	totalMB = int64(totalBytes / (1024 * 1024))
	usedMB = int64((totalBytes - freeBytes) / (1024 * 1024))
	return totalMB, usedMB
}

// sampleDisk returns total and used space in MiB for the filesystem
// containing path, via statfs(2).
func sampleDisk(path string) (totalMB, usedMB int64) {
	if path == "" {
		return 0, 0
	}
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0
	}
	blockSize := uint64(st.Bsize)
	totalBytes := st.Blocks * blockSize
	freeBytes := st.Bfree * blockSize
	totalMB = int64(totalBytes / (1024 * 1024))
	usedMB = int64((totalBytes - freeBytes) / (1024 * 1024))
	return totalMB, usedMB
}
