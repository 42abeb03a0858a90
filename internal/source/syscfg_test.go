package source

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"cardtelemetryd/internal/wire"
)

// stubSyscfg swaps the syscfg runner for a function under test control
// and records the argv it was called with.
func stubSyscfg(t *testing.T, out string, err error) *[][]string {
	t.Helper()
	var calls [][]string
	old := runSyscfg
	runSyscfg = func(args ...string) (string, error) {
		calls = append(calls, args)
		return out, err
	}
	t.Cleanup(func() { runSyscfg = old })
	return &calls
}

func TestExtractCurrentValue(t *testing.T) {
	out := "BIOSSETTINGS/Cluster Mode\n  Current Value : SNC-4\n  Possible Values\n"
	v, err := extractCurrentValue(out)
	require.NoError(t, err)
	require.Equal(t, "SNC-4", v)

	_, err = extractCurrentValue("no such line")
	require.Error(t, err)
}

func TestReadBiosSettingMapsTokens(t *testing.T) {
	calls := stubSyscfg(t, "Current Value : SNC-4\n", nil)

	v, err := ReadBiosSetting(wire.MBCluster)
	require.NoError(t, err)
	require.Equal(t, wire.ClusterSNC4, v)
	require.Equal(t, [][]string{{"-d", "BIOSSETTINGS", "Cluster Mode"}}, *calls)
}

func TestReadBiosSettingUnknownToken(t *testing.T) {
	stubSyscfg(t, "Current Value : Bogus\n", nil)
	_, err := ReadBiosSetting(wire.MBEcc)
	require.Error(t, err)
}

func TestWriteBiosSettingArgv(t *testing.T) {
	calls := stubSyscfg(t, "", nil)

	require.NoError(t, WriteBiosSetting("s3cret!", wire.MBEcc, wire.EccEnable))
	require.Equal(t, [][]string{{"-bcs", "s3cret!", "ECC Support", "01"}}, *calls)
}

func TestWriteBiosSettingRejectsBadPassword(t *testing.T) {
	calls := stubSyscfg(t, "", nil)
	require.Error(t, WriteBiosSetting("bad;pass", wire.MBEcc, wire.EccEnable))
	require.Empty(t, *calls, "syscfg must not run with an invalid password")
}

func TestChangeBiosPasswordArgv(t *testing.T) {
	calls := stubSyscfg(t, "", nil)
	require.NoError(t, ChangeBiosPassword("oldpass1", "newpass2"))
	require.Equal(t, [][]string{{"-bap", "oldpass1", "newpass2"}}, *calls)
}

func TestReadBiosSettingPropagatesRunError(t *testing.T) {
	stubSyscfg(t, "", fmt.Errorf("exit status 1"))
	_, err := ReadBiosSetting(wire.MBFwlock)
	require.Error(t, err)
}
