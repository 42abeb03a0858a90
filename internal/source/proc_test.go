package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func withFixture(t *testing.T, path *string, content string) {
	t.Helper()
	f := filepath.Join(t.TempDir(), "fixture")
	require.NoError(t, os.WriteFile(f, []byte(content), 0o644))
	old := *path
	*path = f
	t.Cleanup(func() { *path = old })
}

// TestMemInfoFixture pins the memory_utilization payload values for a
// known /proc/meminfo: used is derived as total-free-buffers-cached.
func TestMemInfoFixture(t *testing.T) {
	withFixture(t, &procMeminfo, ""+
		"MemTotal:        1048576 kB\n"+
		"MemFree:          524288 kB\n"+
		"Buffers:               0 kB\n"+
		"Cached:                0 kB\n"+
		"Slab:                  0 kB\n")

	info, err := MemInfo()
	require.NoError(t, err)
	require.EqualValues(t, 1048576, info.Total)
	require.EqualValues(t, 524288, info.Used)
	require.EqualValues(t, 524288, info.Free)
	require.EqualValues(t, 0, info.Buffers)
	require.EqualValues(t, 0, info.Cached)
}

// TestMemInfoCachedIncludesSlab: Cached on the wire is meminfo's
// Cached plus Slab, and Used accounts for both.
func TestMemInfoCachedIncludesSlab(t *testing.T) {
	withFixture(t, &procMeminfo, ""+
		"MemTotal:        1000000 kB\n"+
		"MemFree:          400000 kB\n"+
		"Buffers:           50000 kB\n"+
		"Cached:           200000 kB\n"+
		"Slab:              30000 kB\n")

	info, err := MemInfo()
	require.NoError(t, err)
	require.EqualValues(t, 230000, info.Cached)
	require.EqualValues(t, 320000, info.Used)
}

// TestMemInfoUsedFallback: when free+buffers+cached overshoots total,
// used falls back to total-free.
func TestMemInfoUsedFallback(t *testing.T) {
	withFixture(t, &procMeminfo, ""+
		"MemTotal:         100000 kB\n"+
		"MemFree:           60000 kB\n"+
		"Buffers:           30000 kB\n"+
		"Cached:            20000 kB\n"+
		"Slab:               5000 kB\n")

	info, err := MemInfo()
	require.NoError(t, err)
	require.EqualValues(t, 40000, info.Used)
}

func TestCoreUsageFixture(t *testing.T) {
	withFixture(t, &procStat, ""+
		"cpu  100 10 50 840 0 0 0 0 0 0\n"+
		"cpu0 50 5 25 420 0 0 0 0 0 0\n"+
		"cpu1 50 5 25 420 0 0 0 0 0 0\n")
	withFixture(t, &procCpuinfo, ""+
		"processor\t: 0\nphysical id\t: 0\ncore id\t: 0\ncpu MHz\t: 1200.0\n\n"+
		"processor\t: 1\nphysical id\t: 0\ncore id\t: 0\ncpu MHz\t: 1300.0\n\n")

	info, err := CoreUsage()
	require.NoError(t, err)
	require.EqualValues(t, 1, info.NumCores, "two hyperthreads of one core are one physical core")
	require.EqualValues(t, 2, info.ThreadsPerCore)
	require.EqualValues(t, 100, info.Sum.User)
	require.EqualValues(t, 10, info.Sum.Nice)
	require.EqualValues(t, 50, info.Sum.System)
	require.EqualValues(t, 840, info.Sum.Idle)
	require.EqualValues(t, 1000, info.Sum.Total)
	require.EqualValues(t, 1250, info.Frequency)
}

func TestProcessorInfoFixture(t *testing.T) {
	withFixture(t, &procCpuinfo, ""+
		"processor\t: 0\ncpu family\t: 6\nmodel\t: 87\nstepping\t: 1\n"+
		"physical id\t: 0\ncore id\t: 0\n\n")

	info, err := ProcessorInfo()
	require.NoError(t, err)
	require.EqualValues(t, 6, info.Family)
	require.EqualValues(t, 87, info.Model)
	require.EqualValues(t, 1, info.SteppingID)
}

func TestMemInfo(t *testing.T) {
	info, err := MemInfo()
	require.NoError(t, err)
	require.Greater(t, info.Total, uint32(0))
	require.LessOrEqual(t, info.Used, info.Total)
}

func TestCoreUsage(t *testing.T) {
	info, err := CoreUsage()
	require.NoError(t, err)
	require.Greater(t, info.NumCores, uint32(0))
	require.Greater(t, info.Sum.Total, uint64(0))
}

func TestValidPassword(t *testing.T) {
	require.True(t, ValidPassword("Abc123!@#"))
	require.True(t, ValidPassword("abcdefghijklmn"), "14 bytes is the syscfg maximum")
	require.False(t, ValidPassword("abcdefghijklmno"), "15 bytes exceeds the syscfg maximum")
	require.False(t, ValidPassword(""))
	require.False(t, ValidPassword("toolongpasswordxx"))
	require.False(t, ValidPassword("bad;rm -rf"))
	require.False(t, ValidPassword("semi;colon"))
}
