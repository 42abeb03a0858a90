package source

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"cardtelemetryd/internal/wire"
)

// Sysfs roots, package variables so tests can point them at temp dirs.
var (
	raplZone  = "/sys/devices/virtual/powercap/intel-rapl/intel-rapl:0"
	pstateDir = "/sys/devices/system/cpu/intel_pstate"
)

func maxPowerFile() string { return raplZone + "/max_power_range_uw" }
func limitFile(w int) string {
	return fmt.Sprintf("%s/constraint_%d_power_limit_uw", raplZone, w)
}
func windowFile(w int) string {
	return fmt.Sprintf("%s/constraint_%d_time_window_us", raplZone, w)
}
func noTurboFile() string  { return pstateDir + "/no_turbo" }
func turboPctFile() string { return pstateDir + "/turbo_pct" }

func readUintFile(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("source: read %s: %w", path, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("source: parse %s: %w", path, err)
	}
	return v, nil
}

func writeFile(path, value string) error {
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("source: write %s: %w", path, err)
	}
	return nil
}

// PThreshInfo reads the power-cap RAPL zone for both averaging
// windows, matching GetPThreshInfo's sysfs source.
func PThreshInfo() (wire.PowerThresholdsInfo, error) {
	var info wire.PowerThresholdsInfo

	max, err := readUintFile(maxPowerFile())
	if err != nil {
		return info, err
	}
	info.MaxPhysPower = uint32(max)

	w0Limit, err := readUintFile(limitFile(0))
	if err != nil {
		return info, err
	}
	w0Window, err := readUintFile(windowFile(0))
	if err != nil {
		return info, err
	}
	w1Limit, err := readUintFile(limitFile(1))
	if err != nil {
		return info, err
	}
	w1Window, err := readUintFile(windowFile(1))
	if err != nil {
		return info, err
	}
	info.W0 = wire.PowerWindowInfo{Threshold: uint32(w0Limit), TimeWindow: uint32(w0Window)}
	info.W1 = wire.PowerWindowInfo{Threshold: uint32(w1Limit), TimeWindow: uint32(w1Window)}
	info.LowThreshold = info.W0.Threshold
	info.HiThreshold = info.W1.Threshold
	return info, nil
}

// SetPowerWindow updates one RAPL averaging window's limit and/or
// time window, leaving a field alone when it equals wire.NoChange,
// matching the set-pthresh handler's two-leg handshake semantics.
func SetPowerWindow(window int, w wire.PowerWindowInfo) error {
	if window != 0 && window != 1 {
		return fmt.Errorf("source: invalid power window %d", window)
	}
	if w.Threshold != wire.NoChange {
		if err := writeFile(limitFile(window), strconv.FormatUint(uint64(w.Threshold), 10)); err != nil {
			return err
		}
	}
	if w.TimeWindow != wire.NoChange {
		if err := writeFile(windowFile(window), strconv.FormatUint(uint64(w.TimeWindow), 10)); err != nil {
			return err
		}
	}
	return nil
}

// TurboInfo reads the intel_pstate turbo sysfs files. no_turbo holds
// the inverse of "enabled".
func TurboInfo() (wire.TurboInfo, error) {
	noTurbo, err := readUintFile(noTurboFile())
	if err != nil {
		return wire.TurboInfo{}, err
	}
	pct, err := readUintFile(turboPctFile())
	if err != nil {
		return wire.TurboInfo{}, err
	}
	enabled := uint8(0)
	if noTurbo == 0 {
		enabled = 1
	}
	return wire.TurboInfo{Enabled: enabled, TurboPct: uint8(pct)}, nil
}

// SetTurbo writes the inverse of enabled to no_turbo, matching the
// turbo-set handler's documented sysfs sense inversion.
func SetTurbo(enabled bool) error {
	v := "1"
	if enabled {
		v = "0"
	}
	return writeFile(noTurboFile(), v)
}
