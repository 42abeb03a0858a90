package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"cardtelemetryd/internal/wire"
)

// passwordSpecials mirrors the admin-password character whitelist the
// original syscfg wrapper enforced before interpolating the password
// into a shell line. Go's exec.Command never spawns a shell, so the
// whitelist is defense in depth rather than the injection barrier it
// used to be.
const passwordSpecials = "!@#$%^&*()_+=?-"

// ValidPassword reports whether pw is safe to pass as a syscfg argv
// element: non-empty, at most 14 bytes (the syscfg restriction), and
// drawn only from [A-Za-z0-9] plus passwordSpecials.
func ValidPassword(pw string) bool {
	if len(pw) == 0 || len(pw) > 14 {
		return false
	}
	for _, r := range pw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune(passwordSpecials, r):
		default:
			return false
		}
	}
	return true
}

const syscfgTimeout = 5 * time.Second

// runSyscfg invokes the syscfg CLI with an argv array. Parameter names
// contain spaces ("Cluster Mode", "APEI FFM Logging"); each reaches
// syscfg as a single argv element, no quoting involved.
var runSyscfg = func(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), syscfgTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "syscfg", args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("source: syscfg %v: %w: %s", args, err, stderr.String())
	}
	return out.String(), nil
}

// biosParams maps each settings property bit to the syscfg parameter
// it reads and writes through, plus the value-token table syscfg
// prints for it. Token order matches the wire value enums.
var biosParams = map[wire.MicBiosProperty]struct {
	name   string
	tokens []string
}{
	wire.MBCluster:       {"Cluster Mode", []string{"All2All", "SNC-2", "SNC-4", "Hemisphere", "Quadrant", "Auto"}},
	wire.MBEcc:           {"ECC Support", []string{"Disable", "Enable", "Auto"}},
	wire.MBApeiSupport:   {"APEI Support", []string{"Disable", "Enable"}},
	wire.MBApeiFfm:       {"APEI FFM Logging", []string{"Disable", "Enable"}},
	wire.MBApeiEinj:      {"APEI PCIe Error Injection", []string{"Disable", "Enable"}},
	wire.MBApeiEinjTable: {"APEI PCIe EInj Action Table", []string{"Disable", "Enable"}},
	wire.MBFwlock:        {"MICFW Update Flag", []string{"Disable", "Enable"}},
}

// ParamName returns the syscfg parameter name for a settings property bit.
func ParamName(prop wire.MicBiosProperty) (string, bool) {
	p, ok := biosParams[prop]
	return p.name, ok
}

// extractCurrentValue pulls "<value>" out of syscfg's
// "Current Value : <value>" output line.
func extractCurrentValue(out string) (string, error) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "Current Value") {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			break
		}
		return strings.TrimSpace(line[idx+1:]), nil
	}
	return "", fmt.Errorf("source: no Current Value line in syscfg output")
}

// ReadBiosSetting queries one settings property via
// `syscfg -d BIOSSETTINGS <param>` and maps the printed value token
// back to its wire enum value.
func ReadBiosSetting(prop wire.MicBiosProperty) (uint8, error) {
	p, ok := biosParams[prop]
	if !ok {
		return 0, fmt.Errorf("source: unknown BIOS property 0x%02x", uint8(prop))
	}
	out, err := runSyscfg("-d", "BIOSSETTINGS", p.name)
	if err != nil {
		return 0, err
	}
	value, err := extractCurrentValue(out)
	if err != nil {
		return 0, err
	}
	for i, tok := range p.tokens {
		if strings.Contains(value, tok) {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("source: unknown %s value %q", p.name, value)
}

// WriteBiosSetting invokes `syscfg -bcs <pass> <param> <value>`, the
// password-gated settings write path. Values go out as two-digit
// decimals the way syscfg expects them.
func WriteBiosSetting(password string, prop wire.MicBiosProperty, value uint8) error {
	if !ValidPassword(password) {
		return fmt.Errorf("source: invalid admin password")
	}
	p, ok := biosParams[prop]
	if !ok {
		return fmt.Errorf("source: unknown BIOS property 0x%02x", uint8(prop))
	}
	_, err := runSyscfg("-bcs", password, p.name, fmt.Sprintf("%02d", value))
	return err
}

// ChangeBiosPassword invokes `syscfg -bap <old> <new>`.
func ChangeBiosPassword(oldPassword, newPassword string) error {
	if !ValidPassword(oldPassword) || !ValidPassword(newPassword) {
		return fmt.Errorf("source: invalid admin password")
	}
	_, err := runSyscfg("-bap", oldPassword, newPassword)
	return err
}

// Uname runs `uname -r -o` to fill DeviceInfo.OSVersion.
func Uname() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), syscfgTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "uname", "-r", "-o")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("source: uname: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}

// MemoryInfo composes firmware memory-device data with the syscfg
// ECC setting.
func MemoryInfo(fw FirmwareMemory) (wire.MemoryInfo, error) {
	ecc, err := ReadBiosSetting(wire.MBEcc)
	if err != nil {
		return wire.MemoryInfo{}, err
	}
	info := wire.MemoryInfo{
		TotalSize:  fw.TotalSize,
		Speed:      fw.Speed,
		Frequency:  fw.Frequency,
		Type:       fw.Type,
		EccEnabled: boolToU8(ecc != wire.EccDisable),
	}
	copy(info.Manufacturer[:], fw.Manufacturer)
	return info, nil
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// FirmwareMemory is the subset of a parsed firmware memory-device
// record MemoryInfo needs; internal/firmware produces it.
type FirmwareMemory struct {
	TotalSize    uint32
	Speed        uint32
	Frequency    uint32
	Type         uint32
	Manufacturer string
}
