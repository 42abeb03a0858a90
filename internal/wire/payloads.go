package wire

// Payload structs mirror the original card-side telemetry structures
// field for field, including fields marked "Deprecated" upstream:
// those are kept for client wire compatibility and always read back
// zero from the source adapters (see internal/source).

// MemoryUsageInfo answers ReqGetMemoryUtilization. Values in kB.
type MemoryUsageInfo struct {
	Total   uint32
	Used    uint32
	Free    uint32
	Buffers uint32
	Cached  uint32
}

// DeviceInfo answers ReqGetDeviceInfo.
type DeviceInfo struct {
	CardTDP         uint32
	FwuCap          uint32
	CPUID           uint32
	PCISmba         uint32
	FwVersion       uint32
	ExeDomain       uint32
	StsSelftest     uint32
	BootFwVersion   uint32
	HwRevision      uint32
	OSVersion       [64]byte
	BiosVersion     [64]byte
	BiosReleaseDate [64]byte
	UUID            [16]byte
	PartNumber      [16]byte
	ManufactureDate [6]byte
	SerialNo        [12]byte
}

// PowerUsageInfo answers ReqGetPowerUsage. Values in milliwatts.
type PowerUsageInfo struct {
	PwrPCIe       uint32
	Pwr2x3        uint32
	Pwr2x4        uint32
	ForceThrottle uint32
	AvgPower0     uint32
	InstPower     uint32
	InstPowerMax  uint32
	PowerVccp     uint32
	PowerVccu     uint32
	PowerVccclr   uint32
	PowerVccmlb   uint32
	PowerVccd012  uint32 // Deprecated
	PowerVccd345  uint32 // Deprecated
	PowerVccmp    uint32
	PowerNtb1     uint32
}

// ThermalInfo answers ReqGetThermalInfo. Temperatures in degrees C.
type ThermalInfo struct {
	TempCPU                 uint32
	TempExhaust             uint32
	TempInlet               uint32 // Deprecated
	TempVccp                uint32
	TempVccclr              uint32
	TempVccmp               uint32
	TempMid                 uint32 // Deprecated
	TempWest                uint32
	TempEast                uint32
	FanTach                 uint32
	FanPwm                  uint32
	FanPwmAdder             uint32
	Tcritical               uint32
	Tcontrol                uint32
	ThermalThrottleDuration uint32 // Deprecated
	ThermalThrottle         uint32 // Deprecated
}

// VoltageInfo answers ReqGetVoltageInfo. Values in millivolts.
type VoltageInfo struct {
	VoltageVccp     uint32
	VoltageVccu     uint32
	VoltageVccclr   uint32
	VoltageVccmlb   uint32
	VoltageVccp012  uint32 // Deprecated
	VoltageVccp345  uint32 // Deprecated
	VoltageVccmp    uint32
	VoltageNtb1     uint32
	VoltageVccpio   uint32
	VoltageVccsfr   uint32
	VoltagePch      uint32
	VoltageVccmfuse uint32
	VoltageNtb2     uint32
	VoltageVpp      uint32
}

// DiagnosticsInfo answers ReqGetDiagnosticsInfo.
type DiagnosticsInfo struct {
	LedBlink uint32
}

// FwUpdateInfo answers ReqGetFwUpdateInfo.
type FwUpdateInfo struct {
	FwuSts uint32
	FwuCmd uint32
}

// MemoryInfo answers ReqGetMemoryInfo.
type MemoryInfo struct {
	TotalSize    uint32
	Speed        uint32
	Frequency    uint32
	Type         uint32
	EccEnabled   uint8
	Manufacturer [64]byte
	Voltage      uint16 // Deprecated
}

// ProcessorInfo answers ReqGetProcessorInfo.
type ProcessorInfo struct {
	SteppingID     uint32
	Model          uint16
	Family         uint16
	Type           uint16
	ThreadsPerCore uint8
	Stepping       [16]byte
}

// CoresInfo answers ReqGetCoresInfo.
type CoresInfo struct {
	NumCores       uint32
	CoresFreq      uint32
	ClocksPerSec   uint32
	ThreadsPerCore uint32
	CoresVoltage   uint8
}

// CoreCounters holds cumulative /proc/stat-style tick counters.
type CoreCounters struct {
	User   uint64
	Nice   uint64
	System uint64
	Idle   uint64
	Total  uint64
}

// CoreUsageInfo answers ReqGetCoreUsage.
type CoreUsageInfo struct {
	ClocksPerSec   uint64
	Ticks          uint64
	NumCores       uint32
	ThreadsPerCore uint16
	Frequency      uint32
	Sum            CoreCounters
}

// PowerWindowInfo describes one RAPL-style averaging window.
type PowerWindowInfo struct {
	Threshold  uint32
	TimeWindow uint32
}

// PowerThresholdsInfo answers ReqGetPThreshInfo and is the payload
// shape for the two-leg SetPThreshW0/W1 handshake.
type PowerThresholdsInfo struct {
	MaxPhysPower uint32
	LowThreshold uint32
	HiThreshold  uint32
	W0           PowerWindowInfo
	W1           PowerWindowInfo
}

// NoChange marks a PowerWindowInfo field the caller wants left alone
// during a SetPThreshW0/W1 request.
const NoChange uint32 = 0xFFFFFFFF

// SmbaInfo answers ReqGetSmbaInfo.
type SmbaInfo struct {
	IsBusy      uint8
	MsRemaining uint32
}

// TurboInfo answers ReqGetTurboInfo and is the SetTurbo request payload.
type TurboInfo struct {
	Enabled  uint8
	TurboPct uint8
}

// DaemonInfo answers ReqGetDaemonInfo.
type DaemonInfo struct {
	MajorVer uint8
	MinorVer uint8
}

// MicBiosCmd selects the operation of a MicBiosRequest.
type MicBiosCmd uint8

const (
	MicBiosRead MicBiosCmd = iota
	MicBiosWrite
	MicBiosChangePass
)

// MicBiosProperty is a bitmask selecting which settings fields of a
// MicBiosRequest are in play.
type MicBiosProperty uint8

const (
	MBCluster       MicBiosProperty = 0x01
	MBEcc           MicBiosProperty = 0x02
	MBApeiSupport   MicBiosProperty = 0x04
	MBApeiFfm       MicBiosProperty = 0x08
	MBApeiEinj      MicBiosProperty = 0x10
	MBApeiEinjTable MicBiosProperty = 0x20
	MBFwlock        MicBiosProperty = 0x40
)

// Ecc, Cluster and the APEI/Fwlock enums mirror the BIOS setting
// value ranges validated by internal/source's syscfg adapter.
const (
	EccDisable uint8 = iota
	EccEnable
	EccAutoMode
	eccMax
)

const (
	ClusterAll2All uint8 = iota
	ClusterSNC2
	ClusterSNC4
	ClusterHemisphere
	ClusterQuadrant
	ClusterAutoMode
	clusterMax
)

const (
	APEIDisable uint8 = iota
	APEIEnable
	apeiMax
)

const (
	FwlockDisable uint8 = iota
	FwlockEnable
	fwlockMax
)

// InRange reports whether v is a legal value for the named BIOS
// setting property, matching check_value_in_range in the original.
func InRange(prop MicBiosProperty, v uint8) bool {
	switch prop {
	case MBCluster:
		return v < clusterMax
	case MBEcc:
		return v < eccMax
	case MBApeiSupport, MBApeiFfm, MBApeiEinj, MBApeiEinjTable:
		return v < apeiMax
	case MBFwlock:
		return v < fwlockMax
	default:
		return false
	}
}

// MicBiosSettings unpacks the bitfield union carried by MicBiosRequest
// when not interpreted as a plain 64-bit Value.
type MicBiosSettings struct {
	Cluster       uint8
	Ecc           uint8
	ApeiSupport   uint8
	ApeiEinj      uint8
	ApeiFfm       uint8
	ApeiEinjTable uint8
	Fwlock        uint8
}

// MicBiosRequest is the three-field payload of the MICBIOS_REQUEST
// handshake; callers set Value either as a raw uint64 or as the
// result of PackSettings on a populated MicBiosSettings.
type MicBiosRequest struct {
	Cmd   MicBiosCmd
	Prop  MicBiosProperty
	Value uint64
}

// PackSettings folds s into the same bit layout as the original's
// settings bitfield union and returns it as a MicBiosRequest.Value.
func PackSettings(s MicBiosSettings) uint64 {
	return uint64(s.Cluster&0xF) |
		uint64(s.Ecc&0x7)<<4 |
		uint64(s.ApeiSupport&0x3)<<7 |
		uint64(s.ApeiEinj&0x3)<<9 |
		uint64(s.ApeiFfm&0x3)<<11 |
		uint64(s.ApeiEinjTable&0x3)<<13 |
		uint64(s.Fwlock&0x3)<<15
}

// UnpackSettings is the inverse of PackSettings.
func UnpackSettings(v uint64) MicBiosSettings {
	return MicBiosSettings{
		Cluster:       uint8(v & 0xF),
		Ecc:           uint8((v >> 4) & 0x7),
		ApeiSupport:   uint8((v >> 7) & 0x3),
		ApeiEinj:      uint8((v >> 9) & 0x3),
		ApeiFfm:       uint8((v >> 11) & 0x3),
		ApeiEinjTable: uint8((v >> 13) & 0x3),
		Fwlock:        uint8((v >> 15) & 0x3),
	}
}
