package handler

import (
	"cardtelemetryd/internal/errcode"
	"cardtelemetryd/internal/session"
	"cardtelemetryd/internal/source"
	"cardtelemetryd/internal/wire"
)

// allBiosProps is every settings property bit, in wire order.
var allBiosProps = []wire.MicBiosProperty{
	wire.MBCluster, wire.MBEcc, wire.MBApeiSupport, wire.MBApeiFfm,
	wire.MBApeiEinj, wire.MBApeiEinjTable, wire.MBFwlock,
}

// micBios implements the three-sub-command BIOS settings opcode. The
// exchange is two-leg: ack the header, then receive a MicBiosRequest
// selecting read, write, or change-password. A short second leg is a
// protocol violation that closes the connection. Reads are open to
// any peer; writes and password changes are root-only.
func micBios(svc *Services, sess *session.Session, req wire.Header, root bool) errcode.Code {
	if err := ack(sess, req); err != errcode.OK {
		return err
	}

	body := make([]byte, wire.Size(wire.MicBiosRequest{}))
	n, err := sess.EP.Recv(body, true)
	if err != nil || n != len(body) {
		sess.Closed = true
		return errcode.OK
	}
	var mb wire.MicBiosRequest
	if err := wire.Unmarshal(body, &mb); err != nil {
		return errcode.InvalidStruct
	}

	switch mb.Cmd {
	case wire.MicBiosRead:
		return micBiosRead(sess, req, mb)
	case wire.MicBiosWrite:
		if !root {
			return errcode.InsufficientPrivileges
		}
		return micBiosWrite(sess, req, mb)
	case wire.MicBiosChangePass:
		if !root {
			return errcode.InsufficientPrivileges
		}
		return micBiosChangePass(sess, req)
	default:
		return errcode.UnsupportedRequest
	}
}

// micBiosRead queries every property selected by the request's prop
// bitmask and sends back the header followed by the populated
// MicBiosRequest.
func micBiosRead(sess *session.Session, req wire.Header, mb wire.MicBiosRequest) errcode.Code {
	var settings wire.MicBiosSettings
	for _, prop := range allBiosProps {
		if mb.Prop&prop == 0 {
			continue
		}
		v, err := source.ReadBiosSetting(prop)
		if err != nil {
			return errcode.IOError
		}
		setProp(&settings, prop, v)
	}
	reply := wire.MicBiosRequest{Cmd: wire.MicBiosRead, Prop: mb.Prop, Value: wire.PackSettings(settings)}
	payload, err := wire.Marshal(reply)
	if err != nil {
		return errcode.InternalError
	}
	return sendPayload(sess, req, payload)
}

// micBiosWrite applies every property selected by the prop bitmask,
// authorized by the admin password carried in the original request's
// inline data.
func micBiosWrite(sess *session.Session, req wire.Header, mb wire.MicBiosRequest) errcode.Code {
	password := nulTerminatedString(req.Data[:])
	if !source.ValidPassword(password) {
		return errcode.InvalidArgument
	}
	settings := wire.UnpackSettings(mb.Value)
	for _, prop := range allBiosProps {
		if mb.Prop&prop == 0 {
			continue
		}
		value := getProp(settings, prop)
		if !wire.InRange(prop, value) {
			return errcode.InvalidArgument
		}
		if err := source.WriteBiosSetting(password, prop, value); err != nil {
			return errcode.IOError
		}
	}
	return ack(sess, req)
}

// micBiosChangePass reads the new password as a third leg of
// req.Length bytes, validates both, and invokes syscfg -bap.
func micBiosChangePass(sess *session.Session, req wire.Header) errcode.Code {
	oldPassword := nulTerminatedString(req.Data[:])
	if req.Length == 0 || req.Length > 14 { // syscfg restriction
		return errcode.InvalidStruct
	}
	buf := make([]byte, req.Length)
	n, err := sess.EP.Recv(buf, true)
	if err != nil || n != len(buf) {
		sess.Closed = true
		return errcode.OK
	}
	newPassword := nulTerminatedString(buf)
	if !source.ValidPassword(oldPassword) || !source.ValidPassword(newPassword) {
		return errcode.InvalidArgument
	}
	if err := source.ChangeBiosPassword(oldPassword, newPassword); err != nil {
		return errcode.IOError
	}
	return ack(sess, req)
}

func setProp(s *wire.MicBiosSettings, prop wire.MicBiosProperty, v uint8) {
	switch prop {
	case wire.MBCluster:
		s.Cluster = v
	case wire.MBEcc:
		s.Ecc = v
	case wire.MBApeiSupport:
		s.ApeiSupport = v
	case wire.MBApeiFfm:
		s.ApeiFfm = v
	case wire.MBApeiEinj:
		s.ApeiEinj = v
	case wire.MBApeiEinjTable:
		s.ApeiEinjTable = v
	case wire.MBFwlock:
		s.Fwlock = v
	}
}

func getProp(s wire.MicBiosSettings, prop wire.MicBiosProperty) uint8 {
	switch prop {
	case wire.MBCluster:
		return s.Cluster
	case wire.MBEcc:
		return s.Ecc
	case wire.MBApeiSupport:
		return s.ApeiSupport
	case wire.MBApeiFfm:
		return s.ApeiFfm
	case wire.MBApeiEinj:
		return s.ApeiEinj
	case wire.MBApeiEinjTable:
		return s.ApeiEinjTable
	case wire.MBFwlock:
		return s.Fwlock
	}
	return 0
}

func nulTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
