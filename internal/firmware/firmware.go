// Package firmware parses SMBIOS-style structure tables out of
// system memory: entry point discovery (EFI systab first, then a
// brute paragraph-aligned scan of /dev/mem), checksum and anchor
// validation, then a walk extracting BIOS/System/Processor/
// MemoryDevice records.
//
// Grounded on the original's EntryPointEfi/EntryPointMemoryScan/
// ProcessorInfoStructure/MemoryDeviceStructure sources; this
// implementation keeps the same entry-point-then-anchor-then-walk
// shape but expresses it with golang.org/x/sys/unix.Mmap instead of
// raw pointer arithmetic over /dev/mem.
package firmware

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	anchor32  = "_SM_"
	dmiAnchor = "_DMI_"

	efiSystabPath  = "/sys/firmware/efi/systab"
	procSystabPath = "/proc/efi/systab"
	devMemPath     = "/dev/mem"

	scanStart = 0xF0000
	scanEnd   = 0x100000
	paragraph = 16
)

// StructureType enumerates the SMBIOS structure kinds this daemon
// extracts; every other type is skipped during the table walk.
type StructureType uint8

const (
	TypeBIOS         StructureType = 0
	TypeSystem       StructureType = 1
	TypeProcessor    StructureType = 4
	TypeMemoryDevice StructureType = 17
)

// Structure is one decoded table entry: its header fields, the
// formatted area bytes, and the trailing string section split on
// NUL terminators (index 0 is unused, matching SMBIOS's 1-based
// string references).
type Structure struct {
	Type   StructureType
	Handle uint16
	Data   []byte
	Strs   []string
}

// String returns the i'th (1-based) string in the structure's string
// section, or "" if i is out of range or zero.
func (s Structure) String(i uint8) string {
	if i == 0 || int(i) > len(s.Strs) {
		return ""
	}
	return s.Strs[i-1]
}

// Table is a parsed SMBIOS structure table.
type Table struct {
	structs []Structure
}

// EntryPointFinder locates the raw bytes of the SMBIOS table, trying
// the EFI systab address first and falling back to a brute scan.
type EntryPointFinder struct {
	// ReadPhysical reads length bytes at a physical address, backed
	// by /dev/mem. Overridable in tests.
	ReadPhysical func(addr int64, length int) ([]byte, error)
}

// NewEntryPointFinder returns a finder backed by /dev/mem.
func NewEntryPointFinder() *EntryPointFinder {
	return &EntryPointFinder{ReadPhysical: readPhysical}
}

// Load finds the entry point, validates it, and parses the full
// structure table that follows it.
func (f *EntryPointFinder) Load() (*Table, error) {
	base, err := f.locateEntryPoint()
	if err != nil {
		return nil, err
	}
	return f.parseFrom(base)
}

// locateEntryPoint returns the physical address of the "_SM_" anchor.
func (f *EntryPointFinder) locateEntryPoint() (int64, error) {
	if addr, err := readSystabAddress(efiSystabPath); err == nil {
		return addr, nil
	}
	if addr, err := readSystabAddress(procSystabPath); err == nil {
		return addr, nil
	}
	return f.scanDevMem()
}

func (f *EntryPointFinder) scanDevMem() (int64, error) {
	buf, err := f.ReadPhysical(scanStart, scanEnd-scanStart)
	if err != nil {
		return 0, fmt.Errorf("firmware: scan /dev/mem: %w", err)
	}
	for off := 0; off+len(anchor32) <= len(buf); off += paragraph {
		if bytes.Equal(buf[off:off+len(anchor32)], []byte(anchor32)) {
			return scanStart + int64(off), nil
		}
	}
	return 0, fmt.Errorf("firmware: _SM_ anchor not found in %s", devMemPath)
}

// entryPoint32 is the subset of the 32-bit SMBIOS entry point this
// daemon needs: checksum, table length/address, and the embedded
// intermediate anchor/checksum.
type entryPoint32 struct {
	Anchor         [4]byte
	Checksum       byte
	Length         byte
	MajorVersion   byte
	MinorVersion   byte
	MaxStructSize  uint16
	Revision       byte
	FormattedArea  [5]byte
	IntermAnchor   [5]byte
	IntermChecksum byte
	TableLength    uint16
	TableAddress   uint32
	NumStructures  uint16
	BCDRevision    byte
}

func (f *EntryPointFinder) parseFrom(addr int64) (*Table, error) {
	hdr, err := f.ReadPhysical(addr, binary.Size(entryPoint32{}))
	if err != nil {
		return nil, fmt.Errorf("firmware: read entry point: %w", err)
	}
	var ep entryPoint32
	if err := binary.Read(bytes.NewReader(hdr), binary.LittleEndian, &ep); err != nil {
		return nil, fmt.Errorf("firmware: decode entry point: %w", err)
	}
	if string(ep.Anchor[:]) != anchor32 {
		return nil, fmt.Errorf("firmware: bad anchor %q", ep.Anchor)
	}
	if checksum(hdr[:ep.Length]) != 0 {
		return nil, fmt.Errorf("firmware: entry point checksum mismatch")
	}
	if string(ep.IntermAnchor[:]) != dmiAnchor {
		return nil, fmt.Errorf("firmware: bad intermediate anchor %q", ep.IntermAnchor)
	}
	interm := hdr[len(ep.Anchor)+1+1+1+1+2+1+5 : len(ep.Anchor)+1+1+1+1+2+1+5+5+1+2+4+2]
	if checksum(interm) != 0 {
		return nil, fmt.Errorf("firmware: intermediate checksum mismatch")
	}

	raw, err := f.ReadPhysical(int64(ep.TableAddress), int(ep.TableLength))
	if err != nil {
		return nil, fmt.Errorf("firmware: read structure table: %w", err)
	}
	return &Table{structs: walkStructures(raw, int(ep.NumStructures))}, nil
}

func checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return sum
}

// walkStructures parses a header + formatted-area + string-section
// record at a time until count structures have been read or the
// buffer is exhausted.
func walkStructures(buf []byte, count int) []Structure {
	var out []Structure
	off := 0
	for i := 0; (count == 0 || i < count) && off+4 <= len(buf); i++ {
		typ := StructureType(buf[off])
		length := int(buf[off+1])
		if off+length > len(buf) {
			break
		}
		handle := binary.LittleEndian.Uint16(buf[off+2 : off+4])
		data := buf[off : off+length]
		strOff := off + length
		strs, next := readStrings(buf, strOff)
		out = append(out, Structure{Type: typ, Handle: handle, Data: data, Strs: strs})
		off = next
		if typ == 127 { // end-of-table marker
			break
		}
	}
	return out
}

// readStrings reads the NUL-terminated, double-NUL-ended string
// section following a structure's formatted area.
func readStrings(buf []byte, off int) ([]string, int) {
	var strs []string
	start := off
	for off < len(buf) {
		end := off
		for end < len(buf) && buf[end] != 0 {
			end++
		}
		if end == off {
			// empty string: string-section terminator (or no strings at all)
			off = end + 1
			break
		}
		strs = append(strs, string(buf[off:end]))
		off = end + 1
	}
	if off == start+1 {
		// no strings: the section is two 0x00 bytes
		if off < len(buf) && buf[off] == 0 {
			off++
		}
		return nil, off
	}
	return strs, off
}

// OfType returns every parsed structure of the given type, in table order.
func (t *Table) OfType(typ StructureType) []Structure {
	var out []Structure
	for _, s := range t.structs {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

func readSystabAddress(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var buf [4096]byte
	n, _ := f.Read(buf[:])
	lines := bytes.Split(buf[:n], []byte("\n"))
	for _, line := range lines {
		const prefix = "SMBIOS="
		if bytes.HasPrefix(line, []byte(prefix)) {
			var addr int64
			if _, err := fmt.Sscanf(string(line[len(prefix):]), "0x%x", &addr); err == nil {
				return addr, nil
			}
		}
	}
	return 0, fmt.Errorf("firmware: no SMBIOS= entry in %s", path)
}

func readPhysical(addr int64, length int) ([]byte, error) {
	f, err := os.OpenFile(devMemPath, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pageSize := int64(os.Getpagesize())
	pageAddr := addr &^ (pageSize - 1)
	pageOff := addr - pageAddr
	mapLen := int(pageOff) + length

	data, err := unix.Mmap(int(f.Fd()), pageAddr, mapLen, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("firmware: mmap %s @0x%x: %w", devMemPath, addr, err)
	}
	defer unix.Munmap(data)

	out := make([]byte, length)
	copy(out, data[pageOff:pageOff+int64(length)])
	return out, nil
}
