package transport

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// pair binds a listener Endpoint to a temp socket, dials one client
// connection against it, and accepts the server-side Endpoint,
// returning both ends ready for Recv/Send.
func pair(t *testing.T) (server, client *Endpoint) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "cardtelemetryd.sock")

	ln := Open()
	require.NoError(t, ln.Bind(sock))
	require.NoError(t, ln.Listen(1))
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan *Endpoint, 1)
	go func() {
		ep, err := ln.Accept(true)
		require.NoError(t, err)
		accepted <- ep
	}()

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: sock, Net: "unix"})
	require.NoError(t, err)
	cl := WrapConn(conn, PeerID{Node: 0, Port: 1})

	server = <-accepted
	t.Cleanup(func() { _ = server.Close() })
	t.Cleanup(func() { _ = cl.Close() })
	return server, cl
}

func TestEndpointBindListenAcceptRoundTrip(t *testing.T) {
	server, client := pair(t)

	msg := []byte("hello-wire")
	n, err := client.Send(msg)
	require.NoError(t, err)
	require.Equal(t, len(msg), n)

	buf := make([]byte, len(msg))
	n, err = server.Recv(buf, true)
	require.NoError(t, err)
	require.Equal(t, len(msg), n)
	require.Equal(t, msg, buf)
}

func TestEndpointNonBlockingRecvNoData(t *testing.T) {
	server, _ := pair(t)

	buf := make([]byte, 16)
	n, err := server.Recv(buf, false)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestEndpointCloseIsIdempotentAndZeroesPeer(t *testing.T) {
	server, _ := pair(t)

	require.NoError(t, server.Close())
	require.NoError(t, server.Close())
	require.Equal(t, PeerID{}, server.Peer())

	_, err := server.Send([]byte("x"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestSelectReadReportsDataAndHangup(t *testing.T) {
	server, client := pair(t)

	ready, err := SelectRead([]*Endpoint{server}, 0)
	require.NoError(t, err)
	require.Empty(t, ready, "no data yet, select_read should report nothing ready")

	_, err = client.Send([]byte("ping"))
	require.NoError(t, err)

	ready, err = SelectRead([]*Endpoint{server}, time.Second)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.False(t, ready[0].HupOrErr)

	buf := make([]byte, 4)
	_, err = server.Recv(buf, true)
	require.NoError(t, err)

	require.NoError(t, client.Close())

	ready, err = SelectRead([]*Endpoint{server}, time.Second)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.True(t, ready[0].HupOrErr)
}
