package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cardtelemetryd/internal/wire"
)

// fakeRapl builds a powercap zone in a temp dir and points raplZone at it.
func fakeRapl(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write := func(name, v string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(v+"\n"), 0o644))
	}
	write("max_power_range_uw", "350000000")
	write("constraint_0_power_limit_uw", "300000000")
	write("constraint_0_time_window_us", "976")
	write("constraint_1_power_limit_uw", "345000000")
	write("constraint_1_time_window_us", "976")

	old := raplZone
	raplZone = dir
	t.Cleanup(func() { raplZone = old })
	return dir
}

func fakePstate(t *testing.T, noTurbo, pct string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "no_turbo"), []byte(noTurbo+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "turbo_pct"), []byte(pct+"\n"), 0o644))

	old := pstateDir
	pstateDir = dir
	t.Cleanup(func() { pstateDir = old })
	return dir
}

func TestPThreshInfoReadsBothWindows(t *testing.T) {
	fakeRapl(t)

	info, err := PThreshInfo()
	require.NoError(t, err)
	require.EqualValues(t, 350000000, info.MaxPhysPower)
	require.EqualValues(t, 300000000, info.W0.Threshold)
	require.EqualValues(t, 976, info.W0.TimeWindow)
	require.EqualValues(t, 345000000, info.W1.Threshold)
}

// TestSetPowerWindow matches the S6 write leg: both fields set on
// window 0 land in the constraint files.
func TestSetPowerWindow(t *testing.T) {
	dir := fakeRapl(t)

	err := SetPowerWindow(0, wire.PowerWindowInfo{Threshold: 50000000, TimeWindow: 1000000})
	require.NoError(t, err)

	limit, err := os.ReadFile(filepath.Join(dir, "constraint_0_power_limit_uw"))
	require.NoError(t, err)
	require.Equal(t, "50000000", string(limit))
	window, err := os.ReadFile(filepath.Join(dir, "constraint_0_time_window_us"))
	require.NoError(t, err)
	require.Equal(t, "1000000", string(window))
}

// TestSetPowerWindowNoChange: a field holding the all-ones sentinel is
// left untouched.
func TestSetPowerWindowNoChange(t *testing.T) {
	dir := fakeRapl(t)

	err := SetPowerWindow(1, wire.PowerWindowInfo{Threshold: wire.NoChange, TimeWindow: 2000})
	require.NoError(t, err)

	limit, err := os.ReadFile(filepath.Join(dir, "constraint_1_power_limit_uw"))
	require.NoError(t, err)
	require.Equal(t, "345000000\n", string(limit), "threshold must be left alone")
	window, err := os.ReadFile(filepath.Join(dir, "constraint_1_time_window_us"))
	require.NoError(t, err)
	require.Equal(t, "2000", string(window))
}

func TestSetPowerWindowRejectsBadWindow(t *testing.T) {
	require.Error(t, SetPowerWindow(2, wire.PowerWindowInfo{}))
}

// TestTurboInfoInvertsNoTurbo: the sysfs file stores the inverse of
// "turbo enabled".
func TestTurboInfoInvertsNoTurbo(t *testing.T) {
	fakePstate(t, "0", "25")
	info, err := TurboInfo()
	require.NoError(t, err)
	require.EqualValues(t, 1, info.Enabled)
	require.EqualValues(t, 25, info.TurboPct)

	fakePstate(t, "1", "25")
	info, err = TurboInfo()
	require.NoError(t, err)
	require.EqualValues(t, 0, info.Enabled)
}

func TestSetTurboWritesInvertedSense(t *testing.T) {
	dir := fakePstate(t, "1", "0")

	require.NoError(t, SetTurbo(true))
	b, err := os.ReadFile(filepath.Join(dir, "no_turbo"))
	require.NoError(t, err)
	require.Equal(t, "0", string(b))

	require.NoError(t, SetTurbo(false))
	b, err = os.ReadFile(filepath.Join(dir, "no_turbo"))
	require.NoError(t, err)
	require.Equal(t, "1", string(b))
}
