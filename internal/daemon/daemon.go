// Package daemon assembles the transport endpoint, I2C arbiter, data
// groups, firmware table, and session manager into one runnable
// service, matching the original Daemon class's role as the single
// composition root, adapted to Go's context-and-goroutine idiom the
// way the teacher's hal/internal/core.HAL composes its own
// dependencies in one constructor.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"cardtelemetryd/internal/errcode"
	"cardtelemetryd/internal/firmware"
	"cardtelemetryd/internal/handler"
	i2carb "cardtelemetryd/internal/i2c"
	"cardtelemetryd/internal/session"
	"cardtelemetryd/internal/source"
	"cardtelemetryd/internal/transport"
	"cardtelemetryd/internal/wire"
)

// Config holds everything the daemon needs to start; internal/config
// populates this from CLI flags/environment.
type Config struct {
	SocketPath string
	I2CBus     string
}

// Daemon is the assembled, runnable service.
type Daemon struct {
	log     *logrus.Logger
	cfg     Config
	arbiter *i2carb.Arbiter
	fw      *firmware.Table
	groups  map[wire.Request]handler.Group
	sess    *session.Manager
	pool    *session.WorkerPool
	ln      *transport.Endpoint
}

// New opens the I2C bus, loads the firmware table, builds every data
// group, and binds the listener socket. It does not start any
// goroutines; call Run for that.
func New(cfg Config, log *logrus.Logger) (*Daemon, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("daemon: periph host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("daemon: open i2c bus %s: %w", cfg.I2CBus, err)
	}
	arbiter := i2carb.New(bus)

	fwTable, err := firmware.NewEntryPointFinder().Load()
	if err != nil {
		log.WithError(err).Warn("daemon: firmware table unavailable, static groups will read zero")
		fwTable = &firmware.Table{}
	}

	ln := transport.Open()
	if err := ln.Bind(cfg.SocketPath); err != nil {
		return nil, errcode.Wrap("daemon.bind", errcode.TransportError, err)
	}
	if err := ln.Listen(session.MaxSessions); err != nil {
		return nil, errcode.Wrap("daemon.listen", errcode.TransportError, err)
	}

	d := &Daemon{
		log:     log,
		cfg:     cfg,
		arbiter: arbiter,
		fw:      fwTable,
		ln:      ln,
		pool:    session.NewWorkerPool(),
	}
	d.groups = d.buildGroups()

	svc := &handler.Services{
		Log:     log,
		Groups:  d.groups,
		Arbiter: arbiter,
		Fw:      fwTable,
		Pool:    d.pool,
	}
	d.sess = session.NewManager(log, ln, d.pool, func(ctx context.Context, sess *session.Session) {
		handler.Dispatch(ctx, svc, sess)
	})
	svc.Sess = d.sess

	return d, nil
}

func msToDuration(ms uint64) time.Duration { return time.Duration(ms) * time.Millisecond }

// buildGroups constructs the full opcode → data-group catalog per the
// refresh policy table: TTL-bounded groups call their source adapter
// directly; a ttl of 0 means static (refreshed once on first access).
func (d *Daemon) buildGroups() map[wire.Request]handler.Group {
	g := map[wire.Request]handler.Group{}

	g[wire.ReqGetDaemonInfo] = newWireGroup(0, func() (wire.DaemonInfo, error) {
		return wire.DaemonInfo{MajorVer: wire.ProtocolMajor, MinorVer: wire.ProtocolMinor}, nil
	})
	g[wire.ReqGetMemoryUtilization] = newWireGroup(900, source.MemInfo)
	g[wire.ReqGetCoreUsage] = newWireGroup(900, source.CoreUsage)
	g[wire.ReqGetCoresInfo] = newWireGroup(0, source.CoresInfo)
	g[wire.ReqGetDeviceInfo] = newWireGroup(0, d.buildDeviceInfo)
	g[wire.ReqGetSmbaInfo] = newWireGroup(100, func() (wire.SmbaInfo, error) {
		return source.SmbaInfo(d.arbiter)
	})
	g[wire.ReqGetMemoryInfo] = newWireGroup(0, d.buildMemoryInfo)
	g[wire.ReqGetProcessorInfo] = newWireGroup(0, d.buildProcessorInfo)
	g[wire.ReqGetPowerUsage] = newWireGroup(300, func() (wire.PowerUsageInfo, error) {
		return source.PowerUsage(d.arbiter)
	})
	g[wire.ReqGetThermalInfo] = newWireGroup(300, func() (wire.ThermalInfo, error) {
		return source.ThermalInfo(d.arbiter)
	})
	g[wire.ReqGetVoltageInfo] = newWireGroup(300, func() (wire.VoltageInfo, error) {
		return source.VoltageInfo(d.arbiter)
	})
	g[wire.ReqGetDiagnosticsInfo] = newWireGroup(300, func() (wire.DiagnosticsInfo, error) {
		return source.DiagnosticsInfo(d.arbiter)
	})
	g[wire.ReqGetFwUpdateInfo] = newWireGroup(300, func() (wire.FwUpdateInfo, error) {
		return source.FwUpdateInfo(d.arbiter)
	})
	g[wire.ReqGetPThreshInfo] = newWireGroup(300, source.PThreshInfo)
	g[wire.ReqGetTurboInfo] = newWireGroup(300, source.TurboInfo)

	return g
}

// Firmware structure field offsets within the formatted area: BIOS
// information (type 0), system information (type 1), and processor
// information (type 4).
const (
	biosVersionStrOff = 0x05
	biosDateStrOff    = 0x08

	sysSerialStrOff = 0x07
	sysUUIDOff      = 0x08
	sysSKUStrOff    = 0x19

	procFamilyOff     = 0x06
	procVersionStrOff = 0x10
)

// buildDeviceInfo merges the three device_info sources: the SMC's
// static identification registers, the firmware BIOS and system
// records, and `uname -r -o`.
func (d *Daemon) buildDeviceInfo() (wire.DeviceInfo, error) {
	tel, err := source.ReadDeviceTelemetry(d.arbiter)
	if err != nil {
		return wire.DeviceInfo{}, err
	}
	info := wire.DeviceInfo{
		CardTDP:       tel.CardTDP,
		FwuCap:        tel.FwuCap,
		CPUID:         tel.CPUID,
		PCISmba:       tel.PCISmba,
		FwVersion:     tel.FwVersion,
		ExeDomain:     tel.ExeDomain,
		StsSelftest:   tel.StsSelftest,
		BootFwVersion: tel.BootFwVersion,
		HwRevision:    tel.HwRevision,
	}
	if osv, err := source.Uname(); err == nil {
		copy(info.OSVersion[:], osv)
	}
	if recs := d.fw.OfType(firmware.TypeBIOS); len(recs) > 0 {
		s := recs[0]
		if len(s.Data) > biosDateStrOff {
			copy(info.BiosVersion[:], s.String(s.Data[biosVersionStrOff]))
			copy(info.BiosReleaseDate[:], s.String(s.Data[biosDateStrOff]))
		}
	}
	if recs := d.fw.OfType(firmware.TypeSystem); len(recs) > 0 {
		s := recs[0]
		if len(s.Data) > sysSerialStrOff {
			copy(info.SerialNo[:], s.String(s.Data[sysSerialStrOff]))
		}
		if len(s.Data) >= sysUUIDOff+len(info.UUID) {
			copy(info.UUID[:], s.Data[sysUUIDOff:sysUUIDOff+len(info.UUID)])
		}
		if len(s.Data) > sysSKUStrOff {
			copy(info.PartNumber[:], s.String(s.Data[sysSKUStrOff]))
		}
	}
	return info, nil
}

// buildProcessorInfo reads /proc/cpuinfo first and falls back to the
// firmware processor record for fields cpuinfo did not provide.
func (d *Daemon) buildProcessorInfo() (wire.ProcessorInfo, error) {
	info, err := source.ProcessorInfo()
	if err != nil {
		return info, err
	}
	if recs := d.fw.OfType(firmware.TypeProcessor); len(recs) > 0 {
		s := recs[0]
		if info.Family == 0 && len(s.Data) > procFamilyOff {
			info.Family = uint16(s.Data[procFamilyOff])
		}
		if info.Stepping == ([16]byte{}) && len(s.Data) > procVersionStrOff {
			copy(info.Stepping[:], s.String(s.Data[procVersionStrOff]))
		}
	}
	return info, nil
}

// Memory device structure (type 17) field offsets this daemon reads.
const (
	memDeviceTypeOff  = 0x12
	memDeviceManufOff = 0x17
	memDeviceSpeedOff = 0x15
)

func (d *Daemon) buildMemoryInfo() (wire.MemoryInfo, error) {
	fwMem := source.FirmwareMemory{}
	if recs := d.fw.OfType(firmware.TypeMemoryDevice); len(recs) > 0 {
		s := recs[0]
		if len(s.Data) > memDeviceTypeOff {
			fwMem.Type = uint32(s.Data[memDeviceTypeOff])
		}
		if len(s.Data) > memDeviceManufOff {
			fwMem.Manufacturer = s.String(s.Data[memDeviceManufOff])
		}
		if len(s.Data) > memDeviceSpeedOff+1 {
			fwMem.Speed = uint32(s.Data[memDeviceSpeedOff]) | uint32(s.Data[memDeviceSpeedOff+1])<<8
			fwMem.Frequency = fwMem.Speed
		}
	}
	return source.MemoryInfo(fwMem)
}

// Run starts the listener and dispatcher loops and the worker pool,
// blocking until ctx is canceled, then draining in-flight work before
// returning.
func (d *Daemon) Run(ctx context.Context) error {
	d.pool.Start(ctx)
	go d.sess.RunListener(ctx)
	d.sess.RunDispatcher(ctx)
	d.pool.Quiesce()
	return ctx.Err()
}

// Close releases the listener socket.
func (d *Daemon) Close() error {
	return d.ln.Close()
}

// WaitForSignal blocks until one of the graceful-shutdown signals the
// original daemon handles (INT/HUP/QUIT/ABRT/TERM) arrives, then
// cancels ctx's parent via cancel.
func WaitForSignal(ctx context.Context, cancel context.CancelFunc, log *logrus.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGABRT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("daemon: shutdown signal received")
		cancel()
	case <-ctx.Done():
	}
}
