package source

import (
	"cardtelemetryd/internal/i2c"
	"cardtelemetryd/internal/wire"
)

// SMC register map. Values are stand-ins for the real card's SMC
// register assignments (outside this repo's scope — the SMBus wire
// format itself, not individual register numbers, is what spec.md
// pins down); they are grouped and ordered to match the field order
// of the wire structs they populate.
const (
	regPwrPCIe       = 0x30
	regPwr2x3        = 0x31
	regPwr2x4        = 0x32
	regForceThrottle = 0x33
	regAvgPower0     = 0x34
	regInstPower     = 0x35
	regInstPowerMax  = 0x36
	regPowerVccp     = 0x37
	regPowerVccu     = 0x38
	regPowerVccclr   = 0x39
	regPowerVccmlb   = 0x3A
	regPowerVccmp    = 0x3B
	regPowerNtb1     = 0x3C

	regTempCPU     = 0x40
	regTempExhaust = 0x41
	regTempVccp    = 0x42
	regTempVccclr  = 0x43
	regTempVccmp   = 0x44
	regTempWest    = 0x45
	regTempEast    = 0x46
	regFanTach     = 0x47
	regFanPwm      = 0x48
	regFanPwmAdder = 0x49
	regTcritical   = 0x4A
	regTcontrol    = 0x4B

	regVoltageVccp     = 0x50
	regVoltageVccu     = 0x51
	regVoltageVccclr   = 0x52
	regVoltageVccmlb   = 0x53
	regVoltageVccmp    = 0x54
	regVoltageNtb1     = 0x55
	regVoltageVccpio   = 0x56
	regVoltageVccsfr   = 0x57
	regVoltagePch      = 0x58
	regVoltageVccmfuse = 0x59
	regVoltageNtb2     = 0x5A
	regVoltageVpp      = 0x5B

	regLedBlink = 0x60
	regPwmAdder = 0x4B

	regFwuSts = 0x70
	regFwuCmd = 0x71

	regCardTDP       = 0x20
	regFwuCap        = 0x21
	regCPUID         = 0x22
	regPCISmba       = 0x23
	regFwVersion     = 0x24
	regExeDomain     = 0x25
	regStsSelftest   = 0x26
	regBootFwVersion = 0x27
	regHwRevision    = 0x28
)

// PowerUsage reads the power telemetry registers. Each register is
// read under its own acquisition of the arbiter's bus lock; the
// caller's Cache mutex serializes refreshes of this group only, so
// another group's bus traffic can interleave between these reads.
func PowerUsage(a *i2c.Arbiter) (wire.PowerUsageInfo, error) {
	var info wire.PowerUsageInfo
	var err error
	read := func(reg byte) uint32 {
		if err != nil {
			return 0
		}
		var v uint32
		v, err = a.ReadU32(i2c.DefaultSlaveAddr, reg)
		return v
	}
	info.PwrPCIe = read(regPwrPCIe)
	info.Pwr2x3 = read(regPwr2x3)
	info.Pwr2x4 = read(regPwr2x4)
	info.ForceThrottle = read(regForceThrottle)
	info.AvgPower0 = read(regAvgPower0)
	info.InstPower = read(regInstPower)
	info.InstPowerMax = read(regInstPowerMax)
	info.PowerVccp = read(regPowerVccp)
	info.PowerVccu = read(regPowerVccu)
	info.PowerVccclr = read(regPowerVccclr)
	info.PowerVccmlb = read(regPowerVccmlb)
	info.PowerVccmp = read(regPowerVccmp)
	info.PowerNtb1 = read(regPowerNtb1)
	return info, err
}

// ThermalInfo reads the thermal telemetry registers.
func ThermalInfo(a *i2c.Arbiter) (wire.ThermalInfo, error) {
	var info wire.ThermalInfo
	var err error
	read := func(reg byte) uint32 {
		if err != nil {
			return 0
		}
		var v uint32
		v, err = a.ReadU32(i2c.DefaultSlaveAddr, reg)
		return v
	}
	info.TempCPU = read(regTempCPU)
	info.TempExhaust = read(regTempExhaust)
	info.TempVccp = read(regTempVccp)
	info.TempVccclr = read(regTempVccclr)
	info.TempVccmp = read(regTempVccmp)
	info.TempWest = read(regTempWest)
	info.TempEast = read(regTempEast)
	info.FanTach = read(regFanTach)
	info.FanPwm = read(regFanPwm)
	info.FanPwmAdder = read(regFanPwmAdder)
	info.Tcritical = read(regTcritical)
	info.Tcontrol = read(regTcontrol)
	return info, err
}

// VoltageInfo reads the voltage telemetry registers.
func VoltageInfo(a *i2c.Arbiter) (wire.VoltageInfo, error) {
	var info wire.VoltageInfo
	var err error
	read := func(reg byte) uint32 {
		if err != nil {
			return 0
		}
		var v uint32
		v, err = a.ReadU32(i2c.DefaultSlaveAddr, reg)
		return v
	}
	info.VoltageVccp = read(regVoltageVccp)
	info.VoltageVccu = read(regVoltageVccu)
	info.VoltageVccclr = read(regVoltageVccclr)
	info.VoltageVccmlb = read(regVoltageVccmlb)
	info.VoltageVccmp = read(regVoltageVccmp)
	info.VoltageNtb1 = read(regVoltageNtb1)
	info.VoltageVccpio = read(regVoltageVccpio)
	info.VoltageVccsfr = read(regVoltageVccsfr)
	info.VoltagePch = read(regVoltagePch)
	info.VoltageVccmfuse = read(regVoltageVccmfuse)
	info.VoltageNtb2 = read(regVoltageNtb2)
	info.VoltageVpp = read(regVoltageVpp)
	return info, err
}

// DiagnosticsInfo reads the LED-blink bit back from the SMC.
func DiagnosticsInfo(a *i2c.Arbiter) (wire.DiagnosticsInfo, error) {
	v, err := a.ReadU32(i2c.DefaultSlaveAddr, regLedBlink)
	return wire.DiagnosticsInfo{LedBlink: v}, err
}

// FwUpdateInfo reads the firmware update status/command registers.
func FwUpdateInfo(a *i2c.Arbiter) (wire.FwUpdateInfo, error) {
	sts, err := a.ReadU32(i2c.DefaultSlaveAddr, regFwuSts)
	if err != nil {
		return wire.FwUpdateInfo{}, err
	}
	cmd, err := a.ReadU32(i2c.DefaultSlaveAddr, regFwuCmd)
	if err != nil {
		return wire.FwUpdateInfo{}, err
	}
	return wire.FwUpdateInfo{FwuSts: sts, FwuCmd: cmd}, nil
}

// SmbaInfo reports the arbiter's own busy-window state — this group
// never touches the bus itself.
func SmbaInfo(a *i2c.Arbiter) (wire.SmbaInfo, error) {
	busy, remaining := a.IsBusy()
	info := wire.SmbaInfo{}
	if busy {
		info.IsBusy = 1
		info.MsRemaining = uint32(remaining.Milliseconds())
	}
	return info, nil
}

// WriteLedBlink is the generic-write target for the LED blink opcode.
func WriteLedBlink(a *i2c.Arbiter, value uint32) error {
	return a.WriteU32(i2c.DefaultSlaveAddr, regLedBlink, value)
}

// WritePwmAdder is the generic-write target for the fan PWM adder opcode.
func WritePwmAdder(a *i2c.Arbiter, value uint32) error {
	return a.WriteU32(i2c.DefaultSlaveAddr, regPwmAdder, value)
}

// ReadSmcRegister backs ReqReadSmcReg: root-only, raw register access
// of n bytes at an arbitrary register offset.
func ReadSmcRegister(a *i2c.Arbiter, reg uint32, n int) ([]byte, error) {
	return a.ReadBytes(i2c.DefaultSlaveAddr, byte(reg), n)
}

// WriteSmcRegister backs ReqWriteSmcReg: root-only, raw register access.
func WriteSmcRegister(a *i2c.Arbiter, reg uint32, data []byte) error {
	return a.WriteBytes(i2c.DefaultSlaveAddr, byte(reg), data)
}

// DeviceTelemetry holds the SMBus-sourced half of DeviceInfo; the
// firmware table and uname supply the rest.
type DeviceTelemetry struct {
	CardTDP       uint32
	FwuCap        uint32
	CPUID         uint32
	PCISmba       uint32
	FwVersion     uint32
	ExeDomain     uint32
	StsSelftest   uint32
	BootFwVersion uint32
	HwRevision    uint32
}

// ReadDeviceTelemetry reads the static identification registers off
// the SMC. It is called once, from the static device_info group's
// first refresh.
func ReadDeviceTelemetry(a *i2c.Arbiter) (DeviceTelemetry, error) {
	var t DeviceTelemetry
	var err error
	read := func(reg byte) uint32 {
		if err != nil {
			return 0
		}
		var v uint32
		v, err = a.ReadU32(i2c.DefaultSlaveAddr, reg)
		return v
	}
	t.CardTDP = read(regCardTDP)
	t.FwuCap = read(regFwuCap)
	t.CPUID = read(regCPUID)
	t.PCISmba = read(regPCISmba)
	t.FwVersion = read(regFwVersion)
	t.ExeDomain = read(regExeDomain)
	t.StsSelftest = read(regStsSelftest)
	t.BootFwVersion = read(regBootFwVersion)
	t.HwRevision = read(regHwRevision)
	return t, err
}
