package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{ReqType: ReqGetThermalInfo, Length: 4, CardErrno: 0, Extra: 0xAABBCCDD}
	require.NoError(t, h.PutInline([]byte{1, 2, 3, 4}))

	enc, err := h.Encode()
	require.NoError(t, err)
	require.Len(t, enc, HeaderSize)

	got, err := DecodeHeader(enc[:])
	require.NoError(t, err)
	require.Equal(t, h.ReqType, got.ReqType)
	require.Equal(t, h.Length, got.Length)
	require.Equal(t, h.Extra, got.Extra)
	require.Equal(t, []byte{1, 2, 3, 4}, got.Data[:4])
}

func TestDecodeHeaderShort(t *testing.T) {
	_, err := DecodeHeader(make([]byte, HeaderSize-1))
	require.Error(t, err)
}

func TestPutInlineTooLarge(t *testing.T) {
	var h Header
	err := h.PutInline(make([]byte, MaxDataLength+1))
	require.Error(t, err)
}

func TestRequestIsSet(t *testing.T) {
	require.False(t, ReqGetDeviceInfo.IsSet())
	require.True(t, ReqSetTurbo.IsSet())
	require.True(t, ReqRestartSmba.IsSet())
}

func TestMarshalUnmarshalPayload(t *testing.T) {
	in := PowerWindowInfo{Threshold: 42, TimeWindow: 1000}
	b, err := Marshal(in)
	require.NoError(t, err)
	require.Equal(t, 8, len(b))

	var out PowerWindowInfo
	require.NoError(t, Unmarshal(b, &out))
	require.Equal(t, in, out)
}

func TestPackUnpackSettings(t *testing.T) {
	s := MicBiosSettings{Cluster: 3, Ecc: 2, ApeiSupport: 1, ApeiEinj: 1, ApeiFfm: 0, ApeiEinjTable: 1, Fwlock: 1}
	v := PackSettings(s)
	got := UnpackSettings(v)
	require.Equal(t, s, got)
}

func TestInRange(t *testing.T) {
	require.True(t, InRange(MBEcc, EccAutoMode))
	require.False(t, InRange(MBEcc, 3))
	require.True(t, InRange(MBCluster, ClusterAutoMode))
	require.False(t, InRange(MBCluster, 6))
}
