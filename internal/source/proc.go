// Package source adapts external surfaces (procfs, sysfs, the I2C
// arbiter, firmware tables, and the syscfg CLI) into the typed
// payload values internal/datagroup caches keyed by opcode.
package source

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"cardtelemetryd/internal/wire"
)

// Kernel counter paths, package variables so tests can point them at
// fixture files.
var (
	procMeminfo = "/proc/meminfo"
	procStat    = "/proc/stat"
	procCpuinfo = "/proc/cpuinfo"
)

// MemInfo reads /proc/meminfo: Total/Free/Buffers are read directly,
// Cached is meminfo's Cached plus Slab, and Used is derived as
// Total-Free-Buffers-Cached, or Total-Free when that would go negative.
func MemInfo() (wire.MemoryUsageInfo, error) {
	f, err := os.Open(procMeminfo)
	if err != nil {
		return wire.MemoryUsageInfo{}, fmt.Errorf("source: open %s: %w", procMeminfo, err)
	}
	defer f.Close()

	fields := map[string]uint32{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		key := strings.TrimSuffix(parts[0], ":")
		v, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			continue
		}
		fields[key] = uint32(v)
	}
	if err := sc.Err(); err != nil {
		return wire.MemoryUsageInfo{}, fmt.Errorf("source: scan /proc/meminfo: %w", err)
	}

	// Cached includes Slab; computation borrowed from `free` by
	// procps-ng-3.3.11.
	info := wire.MemoryUsageInfo{
		Total:   fields["MemTotal"],
		Free:    fields["MemFree"],
		Buffers: fields["Buffers"],
		Cached:  fields["Cached"] + fields["Slab"],
	}
	used := info.Total - info.Free - info.Buffers - info.Cached
	if info.Total < info.Free+info.Buffers+info.Cached {
		used = info.Total - info.Free
	}
	info.Used = used
	return info, nil
}

// cpuTimes is one line of /proc/stat, matching CoreCounters' fields.
type cpuTimes struct {
	user, nice, system, idle uint64
}

// CoreUsage aggregates /proc/stat ticks across all logical CPUs and
// /proc/cpuinfo's physical/core id pairs into physical core and
// logical thread counts, matching
// KernelInfo::map_physical_to_logical_cores.
func CoreUsage() (wire.CoreUsageInfo, error) {
	physical, logical, avgMHz, err := cpuTopology()
	if err != nil {
		return wire.CoreUsageInfo{}, err
	}
	sum, ticks, err := aggregateStat()
	if err != nil {
		return wire.CoreUsageInfo{}, err
	}
	threadsPerCore := uint16(1)
	if physical > 0 {
		threadsPerCore = uint16(logical / physical)
	}
	return wire.CoreUsageInfo{
		ClocksPerSec:   ClockTicksPerSec,
		Ticks:          ticks,
		NumCores:       uint32(physical),
		ThreadsPerCore: threadsPerCore,
		Frequency:      uint32(avgMHz),
		Sum:            sum,
	}, nil
}

// CoresInfo answers GetCoresInfo; NumCores/ThreadsPerCore mirror
// CoreUsage, cores_voltage is not sourced from SMBus here (left 0:
// no standalone per-core voltage rail exists on this platform's
// SMBus map, see DESIGN.md).
func CoresInfo() (wire.CoresInfo, error) {
	physical, logical, avgMHz, err := cpuTopology()
	if err != nil {
		return wire.CoresInfo{}, err
	}
	threadsPerCore := uint32(1)
	if physical > 0 {
		threadsPerCore = uint32(logical / physical)
	}
	return wire.CoresInfo{
		NumCores:       uint32(physical),
		CoresFreq:      uint32(avgMHz),
		ClocksPerSec:   uint32(ClockTicksPerSec),
		ThreadsPerCore: threadsPerCore,
	}, nil
}

// ProcessorInfo reads the stepping/family/model triplet out of
// /proc/cpuinfo's first entry.
func ProcessorInfo() (wire.ProcessorInfo, error) {
	f, err := os.Open(procCpuinfo)
	if err != nil {
		return wire.ProcessorInfo{}, fmt.Errorf("source: open %s: %w", procCpuinfo, err)
	}
	defer f.Close()

	var info wire.ProcessorInfo
	var steppingStr string
	sc := bufio.NewScanner(f)
	seenFirst := false
	for sc.Scan() {
		k, v, ok := splitColon(sc.Text())
		if !ok {
			if k == "" && v == "" && seenFirst {
				break
			}
			continue
		}
		switch k {
		case "cpu family":
			if n, err := strconv.ParseUint(v, 10, 16); err == nil {
				info.Family = uint16(n)
			}
		case "model":
			if n, err := strconv.ParseUint(v, 10, 16); err == nil {
				info.Model = uint16(n)
			}
		case "stepping":
			steppingStr = v
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				info.SteppingID = uint32(n)
			}
		}
		seenFirst = true
	}
	copy(info.Stepping[:], steppingStr)
	info.Type = 0
	info.ThreadsPerCore = 1
	if physical, logical, _, err := cpuTopology(); err == nil && physical > 0 {
		info.ThreadsPerCore = uint8(logical / physical)
	}
	return info, nil
}

// ClockTicksPerSec stands in for sysconf(_SC_CLK_TCK), which is 100
// on every Linux platform this daemon targets.
const ClockTicksPerSec = 100

func splitColon(line string) (key, val string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

func cpuTopology() (physicalCores, logicalCPUs int, avgMHz float64, err error) {
	f, err := os.Open(procCpuinfo)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("source: open %s: %w", procCpuinfo, err)
	}
	defer f.Close()

	type key struct{ phys, core int }
	seen := map[key]bool{}
	var mhzSum float64
	var mhzCount int
	var curPhys, curCore int
	var havePhys, haveCore bool

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if havePhys && haveCore {
				seen[key{curPhys, curCore}] = true
			}
			havePhys, haveCore = false, false
			continue
		}
		k, v, ok := splitColon(line)
		if !ok {
			continue
		}
		switch k {
		case "physical id":
			if n, err := strconv.Atoi(v); err == nil {
				curPhys = n
				havePhys = true
			}
		case "core id":
			if n, err := strconv.Atoi(v); err == nil {
				curCore = n
				haveCore = true
			}
		case "processor":
			logicalCPUs++
		case "cpu MHz":
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				mhzSum += n
				mhzCount++
			}
		}
	}
	if havePhys && haveCore {
		seen[key{curPhys, curCore}] = true
	}
	if err := sc.Err(); err != nil {
		return 0, 0, 0, fmt.Errorf("source: scan /proc/cpuinfo: %w", err)
	}
	physicalCores = len(seen)
	if physicalCores == 0 {
		physicalCores = logicalCPUs
	}
	if mhzCount > 0 {
		avgMHz = mhzSum / float64(mhzCount)
	}
	return physicalCores, logicalCPUs, avgMHz, nil
}

func aggregateStat() (wire.CoreCounters, uint64, error) {
	f, err := os.Open(procStat)
	if err != nil {
		return wire.CoreCounters{}, 0, fmt.Errorf("source: open %s: %w", procStat, err)
	}
	defer f.Close()

	var sum wire.CoreCounters
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] != "cpu" {
			continue
		}
		nums := make([]uint64, 0, len(fields)-1)
		for _, s := range fields[1:] {
			n, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				break
			}
			nums = append(nums, n)
		}
		if len(nums) >= 4 {
			sum.User = nums[0]
			sum.Nice = nums[1]
			sum.System = nums[2]
			sum.Idle = nums[3]
			for _, n := range nums {
				sum.Total += n
			}
		}
		break
	}
	if err := sc.Err(); err != nil {
		return wire.CoreCounters{}, 0, fmt.Errorf("source: scan /proc/stat: %w", err)
	}
	return sum, sum.Total, nil
}
