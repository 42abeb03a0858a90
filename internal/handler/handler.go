// Package handler implements the daemon's per-opcode request logic
// as a closed set of functions behind one dispatch entry point,
// replacing the original's handler class hierarchy the way spec's
// redesign note calls for: tagged dispatch over virtual calls.
package handler

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"cardtelemetryd/internal/errcode"
	"cardtelemetryd/internal/firmware"
	"cardtelemetryd/internal/i2c"
	"cardtelemetryd/internal/session"
	"cardtelemetryd/internal/source"
	"cardtelemetryd/internal/transport"
	"cardtelemetryd/internal/wire"
)

// Group is anything a generic-read request can serve: an immutable
// byte view of the group's current payload, refreshed according to
// its own TTL policy.
type Group interface {
	Raw(force bool) ([]byte, error)
}

// Claimer is the worker-pool claim counter: acquired before a
// handler's body runs, released on completion, rejecting the 33rd
// concurrent claim with TooBusy — matches acquire_request's ceiling.
type Claimer interface {
	AcquireClaim() error
	ReleaseClaim()
}

// Services bundles everything a handler needs: the data-group
// catalog, the I2C arbiter, the firmware table, the session
// manager (kept so a restart can be logged alongside the live session
// count), and the pool claim counter.
type Services struct {
	Log     *logrus.Logger
	Groups  map[wire.Request]Group
	Arbiter *i2c.Arbiter
	Fw      *firmware.Table
	Sess    *session.Manager
	Pool    Claimer
}

// Dispatch is the Manager.Handler: it reads one request header,
// decides which concrete handler kind serves it, and always leaves
// the wire in a well-formed state — either a successful reply or an
// error header — except when the connection itself is broken or the
// peer violated the protocol, in which case it marks the session
// Closed.
func Dispatch(ctx context.Context, svc *Services, sess *session.Session) {
	var hdr [wire.HeaderSize]byte
	n, err := sess.EP.Recv(hdr[:], true)
	if err != nil || n != wire.HeaderSize {
		sess.Closed = true
		return
	}
	req, err := wire.DecodeHeader(hdr[:])
	if err != nil {
		sess.Closed = true
		return
	}

	// The server keeps no per-session receive buffer, so a peer that
	// pipelines a second request (or oversizes its framing) behind the
	// header is violating the strict request/response sequence: notify
	// and tear the session down.
	if flushPipeline(sess) {
		sendError(sess, req, errcode.InvalidStruct)
		sess.Closed = true
		return
	}

	// A panic in a handler body is answered with UnknownError; the
	// session stays open.
	defer func() {
		if r := recover(); r != nil {
			svc.Log.WithFields(logrus.Fields{"req": req.ReqType, "panic": r}).Error("handler: unhandled panic")
			sendError(sess, req, errcode.UnknownError)
		}
	}()

	peer := sess.EP.Peer()
	root := peer.Port < transport.AdminPortEnd

	if svc.Pool != nil {
		if err := svc.Pool.AcquireClaim(); err != nil {
			sendError(sess, req, errcode.TooBusy)
			return
		}
		defer svc.Pool.ReleaseClaim()
	}

	code := route(ctx, svc, sess, req, root)
	if code != errcode.OK {
		svc.Log.WithFields(logrus.Fields{
			"req":  req.ReqType,
			"peer": peer,
			"code": code,
		}).Debug("handler: request failed")
		sendError(sess, req, code)
	}
}

// flushPipeline performs a non-blocking drain of any bytes the peer
// sent immediately after the header, reporting whether any were found.
func flushPipeline(sess *session.Session) bool {
	var scratch [64]byte
	extra := false
	for {
		n, err := sess.EP.Recv(scratch[:], false)
		if err != nil || n == 0 {
			return extra
		}
		extra = true
	}
}

func route(ctx context.Context, svc *Services, sess *session.Session, req wire.Header, root bool) errcode.Code {
	switch req.ReqType {
	case wire.ReqGetDaemonInfo, wire.ReqGetMemoryUtilization, wire.ReqGetDeviceInfo,
		wire.ReqGetPowerUsage, wire.ReqGetThermalInfo, wire.ReqGetVoltageInfo,
		wire.ReqGetDiagnosticsInfo, wire.ReqGetFwUpdateInfo, wire.ReqGetMemoryInfo,
		wire.ReqGetProcessorInfo, wire.ReqGetCoresInfo, wire.ReqGetCoreUsage,
		wire.ReqGetPThreshInfo, wire.ReqGetSmbaInfo, wire.ReqGetTurboInfo:
		return genericRead(svc, sess, req)

	case wire.ReqSetLedBlink, wire.ReqSetPwmAdder:
		return genericWrite(svc, sess, req, root)

	case wire.ReqSetPThreshW0:
		return setPThresh(svc, sess, req, 0, root)
	case wire.ReqSetPThreshW1:
		return setPThresh(svc, sess, req, 1, root)

	case wire.ReqSetTurbo:
		return setTurbo(svc, sess, req, root)

	case wire.ReqRestartSmba:
		return restartSmba(svc, sess, req, root)

	case wire.ReqMicBiosRequest:
		return micBios(svc, sess, req, root)

	case wire.ReqReadSmcReg:
		return readSmcReg(svc, sess, req, root)
	case wire.ReqWriteSmcReg:
		return writeSmcReg(svc, sess, req, root)

	default:
		return errcode.UnsupportedRequest
	}
}

// genericRead looks up the data group by opcode and streams its
// current (possibly refreshed) payload back as header+payload.
func genericRead(svc *Services, sess *session.Session, req wire.Header) errcode.Code {
	grp, ok := svc.Groups[req.ReqType]
	if !ok {
		return errcode.UnsupportedRequest
	}
	payload, err := grp.Raw(false)
	if err != nil {
		if code := busErrToCode(err); code != errcode.SMCError {
			return code
		}
		svc.Log.WithError(err).WithField("req", req.ReqType).Warn("handler: group refresh failed")
		return errcode.IOError
	}
	return sendPayload(sess, req, payload)
}

// genericWrite backs the LED-blink/PWM-adder opcodes: root-only, the
// first 4 bytes of data are a little-endian u32 value.
func genericWrite(svc *Services, sess *session.Session, req wire.Header, root bool) errcode.Code {
	if !root {
		return errcode.InsufficientPrivileges
	}
	value := u32le(req.Data[:4])
	var err error
	switch req.ReqType {
	case wire.ReqSetLedBlink:
		err = source.WriteLedBlink(svc.Arbiter, value)
	case wire.ReqSetPwmAdder:
		err = source.WritePwmAdder(svc.Arbiter, value)
	default:
		return errcode.UnsupportedRequest
	}
	if err != nil {
		return busErrToCode(err)
	}
	if g, ok := svc.Groups[wire.ReqGetDiagnosticsInfo]; ok {
		_, _ = g.Raw(true)
	}
	return ack(sess, req)
}

// setPThresh implements the two-leg power-threshold handshake: ack,
// then read a PowerWindowInfo off the wire, then apply it. A short
// second leg is a protocol violation that closes the connection
// without a reply.
func setPThresh(svc *Services, sess *session.Session, req wire.Header, window int, root bool) errcode.Code {
	if !root {
		return errcode.InsufficientPrivileges
	}
	if err := ack(sess, req); err != errcode.OK {
		return err
	}
	var buf [8]byte
	n, err := sess.EP.Recv(buf[:], true)
	if err != nil || n != len(buf) {
		sess.Closed = true
		return errcode.OK // connection already torn down; nothing more to send
	}
	var win wire.PowerWindowInfo
	if err := wire.Unmarshal(buf[:], &win); err != nil {
		return errcode.InvalidStruct
	}
	if err := source.SetPowerWindow(window, win); err != nil {
		return errcode.IOError
	}
	if g, ok := svc.Groups[wire.ReqGetPThreshInfo]; ok {
		_, _ = g.Raw(true)
	}
	return ack(sess, req)
}

// setTurbo treats data[0] as a boolean and writes the inverted sense
// to the intel_pstate no_turbo file.
func setTurbo(svc *Services, sess *session.Session, req wire.Header, root bool) errcode.Code {
	if !root {
		return errcode.InsufficientPrivileges
	}
	enabled := req.Data[0] != 0
	if err := source.SetTurbo(enabled); err != nil {
		return errcode.IOError
	}
	if g, ok := svc.Groups[wire.ReqGetTurboInfo]; ok {
		_, _ = g.Raw(true)
	}
	return ack(sess, req)
}

// restartSmba issues a bus retrain against the slave address in
// data[0]. The original daemon protects this by draining its entire
// worker pool before even constructing the handler, because handler
// execution there is tied to C++ object lifetime. Here the same "no
// in-flight I2C traffic races the retrain" invariant is enforced at
// the point of contention instead: Arbiter.RestartDevice and every
// register access share the same busy/bus mutex pair, so a retrain in
// progress on one worker already blocks or fails every other worker's
// bus access.
func restartSmba(svc *Services, sess *session.Session, req wire.Header, root bool) errcode.Code {
	if !root {
		return errcode.InsufficientPrivileges
	}
	addr := uint16(req.Data[0])
	if svc.Sess != nil {
		svc.Log.WithFields(logrus.Fields{
			"addr":     addr,
			"sessions": svc.Sess.Count(),
		}).Info("handler: smbus retrain requested")
	}
	if err := svc.Arbiter.RestartDevice(addr, i2c.RestartWait); err != nil {
		if errors.Is(err, i2c.ErrRestartInProgress) {
			return errcode.RestartInProgress
		}
		return errcode.SMCError
	}
	return ack(sess, req)
}

// readSmcReg reads req.Length raw bytes at register offset req.Extra
// and returns them inline in the reply header's data field.
func readSmcReg(svc *Services, sess *session.Session, req wire.Header, root bool) errcode.Code {
	if !root {
		return errcode.InsufficientPrivileges
	}
	if req.Length == 0 || req.Length > wire.MaxDataLength {
		return errcode.InvalidStruct
	}
	b, err := source.ReadSmcRegister(svc.Arbiter, req.Extra, int(req.Length))
	if err != nil {
		return busErrToCode(err)
	}
	req.Data = [wire.MaxDataLength]byte{}
	copy(req.Data[:], b)
	return ack(sess, req)
}

// writeSmcReg writes req.Length raw bytes from data to register
// offset req.Extra.
func writeSmcReg(svc *Services, sess *session.Session, req wire.Header, root bool) errcode.Code {
	if !root {
		return errcode.InsufficientPrivileges
	}
	if req.Length == 0 || req.Length > wire.MaxDataLength {
		return errcode.InvalidStruct
	}
	if err := source.WriteSmcRegister(svc.Arbiter, req.Extra, req.Data[:req.Length]); err != nil {
		return busErrToCode(err)
	}
	return ack(sess, req)
}

func busErrToCode(err error) errcode.Code {
	switch {
	case errors.Is(err, i2c.ErrDeviceBusy):
		return errcode.DeviceBusy
	case errors.Is(err, i2c.ErrRestartInProgress):
		return errcode.RestartInProgress
	}
	if c := errcode.Of(err); c != errcode.UnknownError {
		return c
	}
	return errcode.SMCError
}

// ack echoes the request header back with card_errno cleared.
func ack(sess *session.Session, req wire.Header) errcode.Code {
	req.CardErrno = uint16(errcode.OK.Errno())
	enc, err := req.Encode()
	if err != nil {
		sess.Closed = true
		return errcode.OK
	}
	if _, err := sess.EP.Send(enc[:]); err != nil {
		sess.Closed = true
	}
	return errcode.OK
}

// sendPayload echoes the request header with length set to the
// payload size, then sends the raw payload bytes as a second write —
// the reply framing every get opcode uses.
func sendPayload(sess *session.Session, req wire.Header, payload []byte) errcode.Code {
	req.CardErrno = uint16(errcode.OK.Errno())
	req.Length = uint16(len(payload))
	enc, err := req.Encode()
	if err != nil {
		sess.Closed = true
		return errcode.OK
	}
	if _, err := sess.EP.Send(enc[:]); err != nil {
		sess.Closed = true
		return errcode.OK
	}
	if _, err := sess.EP.Send(payload); err != nil {
		sess.Closed = true
	}
	return errcode.OK
}

// sendError echoes the request header back carrying an error code.
func sendError(sess *session.Session, req wire.Header, code errcode.Code) {
	req.CardErrno = uint16(code.Errno())
	enc, err := req.Encode()
	if err != nil {
		sess.Closed = true
		return
	}
	if _, err := sess.EP.Send(enc[:]); err != nil {
		sess.Closed = true
	}
}

func u32le(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
