// Package wire defines the on-the-wire request header and payload
// structs exchanged over an Endpoint, and their little-endian codec.
//
// Every struct here is written and read field-by-field with
// encoding/binary, never via unsafe memory casts, so Go struct
// padding never leaks onto the wire.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ProtocolMajor and ProtocolMinor identify the wire format version
// reported by GetDaemonInfo.
const (
	ProtocolMajor = 2
	ProtocolMinor = 7
)

// MaxDataLength is the size of the inline data array carried by every
// Header. Raw SMC register reads return their bytes inline; get
// replies are a Header announcing the length followed by a raw blob
// of that many bytes, whatever the payload size.
const MaxDataLength = 16

// SetRequestMask marks a Request opcode as a privileged "set" request.
const SetRequestMask = 1 << 7

// Request identifies the operation carried by a Header.
type Request uint16

const (
	ReqGetDaemonInfo Request = 0x01 + iota
	ReqGetMemoryUtilization
	ReqGetDeviceInfo
	ReqGetPowerUsage
	ReqGetThermalInfo
	ReqGetVoltageInfo
	ReqGetDiagnosticsInfo
	ReqGetFwUpdateInfo
	ReqGetMemoryInfo
	ReqGetProcessorInfo
	ReqGetCoresInfo
	ReqGetCoreUsage
	ReqGetPThreshInfo
	ReqGetSmbaInfo
	ReqGetTurboInfo
	ReqReadSmcReg
	ReqMicBiosRequest
)

const (
	ReqSetForceThrottle Request = SetRequestMask | 0x01 // deprecated, always replies Unsupported
	ReqSetPwmAdder      Request = SetRequestMask | 0x02
	ReqSetLedBlink      Request = SetRequestMask | 0x03
	ReqSetPThreshW0     Request = SetRequestMask | 0x04
	ReqSetPThreshW1     Request = SetRequestMask | 0x05
	ReqSetTurbo         Request = SetRequestMask | 0x06
	ReqRestartSmba      Request = SetRequestMask | 0x07
	ReqWriteSmcReg      Request = SetRequestMask | 0x08
)

// IsSet reports whether r is a privileged write/control request.
func (r Request) IsSet() bool { return r&Request(SetRequestMask) != 0 }

func (r Request) String() string {
	if s, ok := requestNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Request(0x%02x)", uint16(r))
}

var requestNames = map[Request]string{
	ReqGetDaemonInfo:        "GetDaemonInfo",
	ReqGetMemoryUtilization: "GetMemoryUtilization",
	ReqGetDeviceInfo:        "GetDeviceInfo",
	ReqGetPowerUsage:        "GetPowerUsage",
	ReqGetThermalInfo:       "GetThermalInfo",
	ReqGetVoltageInfo:       "GetVoltageInfo",
	ReqGetDiagnosticsInfo:   "GetDiagnosticsInfo",
	ReqGetFwUpdateInfo:      "GetFwUpdateInfo",
	ReqGetMemoryInfo:        "GetMemoryInfo",
	ReqGetProcessorInfo:     "GetProcessorInfo",
	ReqGetCoresInfo:         "GetCoresInfo",
	ReqGetCoreUsage:         "GetCoreUsage",
	ReqGetPThreshInfo:       "GetPThreshInfo",
	ReqGetSmbaInfo:          "GetSmbaInfo",
	ReqGetTurboInfo:         "GetTurboInfo",
	ReqReadSmcReg:           "ReadSmcReg",
	ReqMicBiosRequest:       "MicBiosRequest",
	ReqSetForceThrottle:     "SetForceThrottle",
	ReqSetPwmAdder:          "SetPwmAdder",
	ReqSetLedBlink:          "SetLedBlink",
	ReqSetPThreshW0:         "SetPThreshW0",
	ReqSetPThreshW1:         "SetPThreshW1",
	ReqSetTurbo:             "SetTurbo",
	ReqRestartSmba:          "RestartSmba",
	ReqWriteSmcReg:          "WriteSmcReg",
}

// Header is the fixed 26-byte frame every request and reply begins
// with: 2+2+2+4+16 bytes, little-endian, no padding.
type Header struct {
	ReqType   Request
	Length    uint16
	CardErrno uint16
	Extra     uint32
	Data      [MaxDataLength]byte
}

// HeaderSize is the exact wire size of Header.
const HeaderSize = 2 + 2 + 2 + 4 + MaxDataLength

// Encode writes h to its 26-byte wire form.
func (h *Header) Encode() ([HeaderSize]byte, error) {
	var out [HeaderSize]byte
	buf := bytes.NewBuffer(out[:0])
	if err := binary.Write(buf, binary.LittleEndian, h.ReqType); err != nil {
		return out, err
	}
	if err := binary.Write(buf, binary.LittleEndian, h.Length); err != nil {
		return out, err
	}
	if err := binary.Write(buf, binary.LittleEndian, h.CardErrno); err != nil {
		return out, err
	}
	if err := binary.Write(buf, binary.LittleEndian, h.Extra); err != nil {
		return out, err
	}
	if err := binary.Write(buf, binary.LittleEndian, h.Data); err != nil {
		return out, err
	}
	copy(out[:], buf.Bytes())
	return out, nil
}

// DecodeHeader parses a 26-byte wire frame into a Header.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, fmt.Errorf("wire: short header: %d bytes", len(b))
	}
	r := bytes.NewReader(b[:HeaderSize])
	if err := binary.Read(r, binary.LittleEndian, &h.ReqType); err != nil {
		return h, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Length); err != nil {
		return h, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.CardErrno); err != nil {
		return h, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Extra); err != nil {
		return h, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Data); err != nil {
		return h, err
	}
	return h, nil
}

// PutInline copies payload into Data and sets Length, failing if the
// payload does not fit inline.
func (h *Header) PutInline(payload []byte) error {
	if len(payload) > MaxDataLength {
		return fmt.Errorf("wire: payload of %d bytes exceeds inline capacity %d", len(payload), MaxDataLength)
	}
	h.Length = uint16(len(payload))
	var data [MaxDataLength]byte
	copy(data[:], payload)
	h.Data = data
	return nil
}

// Marshal encodes any fixed-layout payload struct to little-endian bytes.
func Marshal(v any) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes little-endian bytes into a fixed-layout payload struct.
func Unmarshal(b []byte, v any) error {
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, v)
}

// Size returns the encoded wire size of a fixed-layout payload struct.
func Size(v any) int {
	return binary.Size(v)
}
