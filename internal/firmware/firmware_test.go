package firmware

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// buildEntryPoint assembles a minimal, checksum-valid 32-bit SMBIOS
// entry point plus intermediate anchor pointing at a structure table
// living at a synthetic physical address.
func buildEntryPoint(tableAddr uint32, tableLen uint16, numStructs uint16) []byte {
	const length = 31
	b := make([]byte, length)
	copy(b[0:4], anchor32)
	b[5] = length
	copy(b[16:21], dmiAnchor)

	le16 := func(off int, v uint16) { b[off] = byte(v); b[off+1] = byte(v >> 8) }
	le32 := func(off int, v uint32) {
		b[off] = byte(v)
		b[off+1] = byte(v >> 8)
		b[off+2] = byte(v >> 16)
		b[off+3] = byte(v >> 24)
	}
	le16(22, tableLen)
	le32(24, tableAddr)
	le16(28, numStructs)

	// The intermediate checksum lies inside the entry point, so it is
	// computed first and the entry checksum then covers it.
	var intermSum byte
	interm := b[16:30]
	for i, c := range interm {
		if i == 5 {
			continue
		}
		intermSum += c
	}
	b[21] = 0 - intermSum

	var sum byte
	for i, c := range b {
		if i == 4 {
			continue
		}
		sum += c
	}
	b[4] = 0 - sum
	return b
}

// buildStructure assembles one SMBIOS structure record: a 4-byte
// header (type, length, handle) followed by the rest of data as the
// formatted area, then the NUL-terminated string section.
func buildStructure(typ StructureType, handle uint16, data []byte, strs []string) []byte {
	length := len(data)
	buf := []byte{byte(typ), byte(length), byte(handle), byte(handle >> 8)}
	buf = append(buf, data[4:]...)
	for _, s := range strs {
		buf = append(buf, []byte(s)...)
		buf = append(buf, 0)
	}
	buf = append(buf, 0)
	return buf
}

func TestEntryPointFinderLoad(t *testing.T) {
	const epAddr = 0x1000
	const tableAddr = 0x2000

	structData := make([]byte, 8)
	structData[4] = 1 // string index 1 == vendor
	structBytes := buildStructure(TypeBIOS, 0x0001, structData, []string{"Acme BIOS"})

	ep := buildEntryPoint(tableAddr, uint16(len(structBytes)), 1)

	finder := &EntryPointFinder{
		ReadPhysical: func(addr int64, length int) ([]byte, error) {
			switch addr {
			case epAddr:
				return ep[:length], nil
			case tableAddr:
				return structBytes[:length], nil
			}
			t.Fatalf("unexpected ReadPhysical(0x%x, %d)", addr, length)
			return nil, nil
		},
	}
	table, err := finder.parseFrom(epAddr)
	require.NoError(t, err)

	recs := table.OfType(TypeBIOS)
	require.Len(t, recs, 1)
	require.Equal(t, "Acme BIOS", recs[0].String(1))
	require.Equal(t, "", recs[0].String(0))
}

func TestOfTypeEmpty(t *testing.T) {
	table := &Table{}
	require.Empty(t, table.OfType(TypeProcessor))
}
