package session

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"cardtelemetryd/internal/transport"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestManagerAtMostOneInFlightPerSession(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "inflight.sock")
	ln := transport.Open()
	require.NoError(t, ln.Bind(sock))
	require.NoError(t, ln.Listen(MaxSessions))
	defer ln.Close()

	var concurrent int32
	var maxConcurrent int32
	var handled sync.WaitGroup

	pool := NewWorkerPool()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	mgr := NewManager(discardLogger(), ln, pool, func(ctx context.Context, sess *Session) {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&maxConcurrent)
			if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		var buf [4]byte
		_, _ = sess.EP.Recv(buf[:], true)
		handled.Done()
	})

	go mgr.RunListener(ctx)
	go mgr.RunDispatcher(ctx)

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: sock, Net: "unix"})
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 5; i++ {
		handled.Add(1)
		_, err := conn.Write([]byte{byte(i), 0, 0, 0})
		require.NoError(t, err)
	}
	handled.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&maxConcurrent), "at most one handler should run at a time per session")
}

func TestManagerDropsSessionOnPeerHangup(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "hangup.sock")
	ln := transport.Open()
	require.NoError(t, ln.Bind(sock))
	require.NoError(t, ln.Listen(MaxSessions))
	defer ln.Close()

	pool := NewWorkerPool()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	mgr := NewManager(discardLogger(), ln, pool, func(ctx context.Context, sess *Session) {})

	go mgr.RunListener(ctx)
	go mgr.RunDispatcher(ctx)

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: sock, Net: "unix"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return mgr.Count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return mgr.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
