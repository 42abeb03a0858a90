// Package errcode is the daemon's error taxonomy: a stable,
// comparable Code newtype, plus the numeric card_errno values the
// wire protocol actually carries in Header.CardErrno.
package errcode

import "fmt"

// Code is a stable, log- and comparison-friendly error identifier.
// It is a string newtype, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes.
const (
	OK                     Code = "ok"
	UnknownError           Code = "unknown_error"
	UnsupportedRequest     Code = "unsupported_request"
	InvalidStruct          Code = "invalid_struct"
	InvalidArgument        Code = "invalid_argument"
	TooBusy                Code = "too_busy"
	InsufficientPrivileges Code = "insufficient_privileges"
	DeviceBusy             Code = "device_busy"
	RestartInProgress      Code = "restart_in_progress"
	SMCError               Code = "smc_error"
	IOError                Code = "io_error"
	InternalError          Code = "internal_error"
	TransportError         Code = "transport_error"
)

// CardErrno is the numeric wire representation of a Code, matching
// the original SystoolsdError enum exactly (1..0x0C).
type CardErrno uint16

const (
	ErrnoOK                     CardErrno = 0x00
	ErrnoUnknown                CardErrno = 0x01
	ErrnoUnsupportedReq         CardErrno = 0x02
	ErrnoInvalStruct            CardErrno = 0x03
	ErrnoInvalArgument          CardErrno = 0x04
	ErrnoTooBusy                CardErrno = 0x05
	ErrnoInsufficientPrivileges CardErrno = 0x06
	ErrnoDeviceBusy             CardErrno = 0x07
	ErrnoRestartInProgress      CardErrno = 0x08
	ErrnoSMCError               CardErrno = 0x09
	ErrnoIOError                CardErrno = 0x0A
	ErrnoInternalError          CardErrno = 0x0B
	ErrnoTransportError         CardErrno = 0x0C
)

var codeToErrno = map[Code]CardErrno{
	OK:                     ErrnoOK,
	UnknownError:           ErrnoUnknown,
	UnsupportedRequest:     ErrnoUnsupportedReq,
	InvalidStruct:          ErrnoInvalStruct,
	InvalidArgument:        ErrnoInvalArgument,
	TooBusy:                ErrnoTooBusy,
	InsufficientPrivileges: ErrnoInsufficientPrivileges,
	DeviceBusy:             ErrnoDeviceBusy,
	RestartInProgress:      ErrnoRestartInProgress,
	SMCError:               ErrnoSMCError,
	IOError:                ErrnoIOError,
	InternalError:          ErrnoInternalError,
	TransportError:         ErrnoTransportError,
}

var errnoToCode = func() map[CardErrno]Code {
	m := make(map[CardErrno]Code, len(codeToErrno))
	for c, n := range codeToErrno {
		m[n] = c
	}
	return m
}()

// Errno returns the wire card_errno for c: 0 for OK, matching the
// protocol's card_errno=0-on-success convention, or ErrnoUnknown for
// any code Errno does not recognize.
func (c Code) Errno() CardErrno {
	if n, ok := codeToErrno[c]; ok {
		return n
	}
	return ErrnoUnknown
}

// FromErrno maps a wire card_errno back to a Code, for tests and
// clients that decode a reply header.
func FromErrno(n CardErrno) Code {
	if c, ok := errnoToCode[n]; ok {
		return c
	}
	return UnknownError
}

// E wraps a Code with operation context and an optional cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.C, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Wrap builds an *E, the daemon's standard way of attaching an
// operation name and a Code to a lower-level error.
func Wrap(op string, c Code, err error) *E {
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to UnknownError.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return UnknownError
}
