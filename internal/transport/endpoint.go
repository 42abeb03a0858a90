// Package transport implements the Endpoint abstraction the daemon
// serves its wire protocol over.
//
// The real card-side transport is a point-to-point, ring-buffer based
// channel (SCIF, out of scope per the system this daemon is modeled
// on). This package gives that same Endpoint contract a concrete,
// runnable body over a Unix-domain stream socket so the daemon is a
// buildable, testable Linux binary: open/bind/listen/accept/recv/send
// all carry the exact blocking/non-blocking and error semantics the
// dispatcher depends on, grounded on the edge-triggered readiness
// style of the teacher's x/shmring package and on golang.org/x/sys/unix
// poll for the select_read indirection.
package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// PeerID identifies the far end of an Endpoint the way a SCIF
// (node, port) pair would. Port is what privilege checks key on.
type PeerID struct {
	Node int
	Port int
}

// AdminPortEnd is the first non-root peer port. Peer ports below this
// are treated as root (see internal/handler's privilege check).
const AdminPortEnd = 1024

// ErrClosed is returned by operations on a closed Endpoint.
var ErrClosed = errors.New("transport: endpoint closed")

// Endpoint wraps one connection's lifecycle: a bound/listening socket
// before accept, or a connected peer socket after. The zero value is
// not usable; construct with Open.
type Endpoint struct {
	mu     sync.Mutex
	ln     *net.UnixListener
	conn   *net.UnixConn
	path   string
	peer   PeerID
	closed bool
}

// Open returns a new, unbound Endpoint.
func Open() *Endpoint {
	return &Endpoint{}
}

// WrapConn builds a connected Endpoint around an existing
// *net.UnixConn with an explicit peer identity, bypassing the
// SO_PEERCRED-derived port Accept would otherwise assign. Exported
// for tests that need to exercise both the root and non-root
// privilege paths from a single test process/uid.
func WrapConn(conn *net.UnixConn, peer PeerID) *Endpoint {
	return &Endpoint{conn: conn, peer: peer}
}

// Bind binds the endpoint to a Unix-domain socket path standing in
// for the admin port. It takes a socket path in place of a port
// number; any stale file at that path is removed first.
func (e *Endpoint) Bind(socketPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	_ = os.Remove(socketPath)
	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return fmt.Errorf("transport: resolve %s: %w", socketPath, err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("transport: bind %s: %w", socketPath, err)
	}
	e.ln = ln
	e.path = socketPath
	return nil
}

// Listen is a no-op beyond Bind: net.ListenUnix already established
// the kernel backlog. Kept as a distinct call to mirror the
// open/bind/listen/accept sequencing the dispatcher expects.
func (e *Endpoint) Listen(backlog int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.ln == nil {
		return errors.New("transport: listen before bind")
	}
	return nil
}

// Reset tears down and rebinds the listening socket on the same path.
// The listener loop uses this to recover from a transport-level poll
// error without ever dying short of shutdown.
func (e *Endpoint) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ln == nil {
		return errors.New("transport: reset on non-listening endpoint")
	}
	_ = e.ln.Close()
	_ = os.Remove(e.path)
	addr, err := net.ResolveUnixAddr("unix", e.path)
	if err != nil {
		return fmt.Errorf("transport: reset resolve %s: %w", e.path, err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("transport: reset rebind %s: %w", e.path, err)
	}
	e.ln = ln
	e.closed = false
	return nil
}

// Accept blocks (if blocking is true) or polls once (if false) for a
// new connection, returning a fresh Endpoint with an assigned peer.
func (e *Endpoint) Accept(blocking bool) (*Endpoint, error) {
	e.mu.Lock()
	ln := e.ln
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if ln == nil {
		return nil, errors.New("transport: accept before bind")
	}
	if !blocking {
		if err := ln.SetDeadline(time.Now().Add(1 * time.Millisecond)); err != nil {
			return nil, err
		}
	} else {
		_ = ln.SetDeadline(time.Time{})
	}
	c, err := ln.AcceptUnix()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	port, err := peerPort(c)
	if err != nil {
		port = AdminPortEnd // fail closed: unknown credential is never root
	}
	return &Endpoint{conn: c, peer: PeerID{Node: 0, Port: port}}, nil
}

// peerPort stands in for SCIF's client-chosen port number using the
// one piece of privilege information a Unix-domain socket actually
// carries: the connecting process's credentials (SO_PEERCRED). uid 0
// maps to port 0 (root); every other uid maps to AdminPortEnd, the
// first non-root port, so the existing "peer.Port < AdminPortEnd"
// check downstream needs no special-casing.
func peerPort(c *net.UnixConn) (int, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return 0, err
	}
	var ucred *unix.Ucred
	var cerr error
	err = raw.Control(func(fd uintptr) {
		ucred, cerr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return 0, err
	}
	if cerr != nil {
		return 0, cerr
	}
	if ucred.Uid == 0 {
		return 0, nil
	}
	return AdminPortEnd, nil
}

// Peer returns the (node, port) of the far end, or the zero PeerID
// for an endpoint that was never accepted/connected, matching the
// original's "closed endpoint reads (0,0)" contract.
func (e *Endpoint) Peer() PeerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peer
}

// Recv reads exactly len(buf) bytes if blocking, or up to len(buf)
// bytes (possibly zero) if non-blocking.
func (e *Endpoint) Recv(buf []byte, blocking bool) (int, error) {
	e.mu.Lock()
	conn := e.conn
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	if conn == nil {
		return 0, errors.New("transport: recv on unconnected endpoint")
	}
	if !blocking {
		if err := conn.SetReadDeadline(time.Now().Add(1 * time.Millisecond)); err != nil {
			return 0, err
		}
		defer conn.SetReadDeadline(time.Time{})
		n, err := conn.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return n, nil
			}
			return n, err
		}
		return n, nil
	}
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, errors.New("transport: connection closed mid-read")
		}
	}
	return total, nil
}

// Send blocks until all of buf is written.
func (e *Endpoint) Send(buf []byte) (int, error) {
	e.mu.Lock()
	conn := e.conn
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	if conn == nil {
		return 0, errors.New("transport: send on unconnected endpoint")
	}
	total := 0
	for total < len(buf) {
		n, err := conn.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// FD returns the raw file descriptor backing this endpoint, used by
// SelectRead to build its poll set.
func (e *Endpoint) FD() (uintptr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.conn != nil:
		raw, err := e.conn.SyscallConn()
		if err != nil {
			return 0, err
		}
		var fd uintptr
		err = raw.Control(func(f uintptr) { fd = f })
		return fd, err
	case e.ln != nil:
		raw, err := e.ln.SyscallConn()
		if err != nil {
			return 0, err
		}
		var fd uintptr
		err = raw.Control(func(f uintptr) { fd = f })
		return fd, err
	default:
		return 0, errors.New("transport: no underlying fd")
	}
}

// Close shuts the endpoint down. Idempotent.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.peer = PeerID{}
	var err error
	if e.conn != nil {
		err = e.conn.Close()
	}
	if e.ln != nil {
		if cerr := e.ln.Close(); cerr != nil && err == nil {
			err = cerr
		}
		_ = os.Remove(e.path)
	}
	return err
}

// ReadyEndpoint is one member of a SelectRead result: the endpoint
// itself, and whether it reported a hangup/error rather than data. An
// endpoint with a hangup/error bit is reported as HupOrErr even when
// POLLIN is set as well.
type ReadyEndpoint struct {
	Endpoint *Endpoint
	HupOrErr bool
}

// SelectRead polls all given endpoints at once and returns those with
// POLLIN or POLLHUP/POLLERR/POLLNVAL set. Endpoints with no activity
// are simply absent from the result. A zero or negative timeout
// returns immediately (a single non-blocking poll); a positive
// timeout bounds the wait.
func SelectRead(endpoints []*Endpoint, timeout time.Duration) ([]ReadyEndpoint, error) {
	if len(endpoints) == 0 {
		return nil, nil
	}
	fds := make([]unix.PollFd, 0, len(endpoints))
	idx := make([]*Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		fd, err := ep.FD()
		if err != nil {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		idx = append(idx, ep)
	}
	if len(fds) == 0 {
		return nil, nil
	}
	ms := 0
	if timeout > 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]ReadyEndpoint, 0, n)
	for i, pfd := range fds {
		switch {
		case pfd.Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0:
			out = append(out, ReadyEndpoint{Endpoint: idx[i], HupOrErr: true})
		case pfd.Revents&unix.POLLIN != 0:
			out = append(out, ReadyEndpoint{Endpoint: idx[i]})
		}
	}
	return out, nil
}
