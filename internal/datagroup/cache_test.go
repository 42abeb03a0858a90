package datagroup

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheStaticRefreshesOnce(t *testing.T) {
	var calls int32
	c := New(0, func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 7, nil
	})
	for i := 0; i < 5; i++ {
		v, err := c.Get(false)
		require.NoError(t, err)
		require.Equal(t, 7, v)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCacheTTLExpires(t *testing.T) {
	var calls int32
	c := New(10*time.Millisecond, func() (int32, error) {
		return atomic.AddInt32(&calls, 1), nil
	})
	v1, err := c.Get(false)
	require.NoError(t, err)
	require.EqualValues(t, 1, v1)

	v2, err := c.Get(false)
	require.NoError(t, err)
	require.EqualValues(t, 1, v2, "second call within TTL should not refresh")

	time.Sleep(20 * time.Millisecond)
	v3, err := c.Get(false)
	require.NoError(t, err)
	require.EqualValues(t, 2, v3, "call after TTL elapses should refresh")
}

func TestCacheForceRefresh(t *testing.T) {
	var calls int32
	c := New(time.Hour, func() (int32, error) {
		return atomic.AddInt32(&calls, 1), nil
	})
	_, _ = c.Get(false)
	v, err := c.Get(true)
	require.NoError(t, err)
	require.EqualValues(t, 2, v)
}

func TestCacheInvalidate(t *testing.T) {
	var calls int32
	c := New(0, func() (int32, error) {
		return atomic.AddInt32(&calls, 1), nil
	})
	_, _ = c.Get(false)
	c.Invalidate()
	v, err := c.Get(false)
	require.NoError(t, err)
	require.EqualValues(t, 2, v)
}

func TestCachePropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	c := New(0, func() (int, error) { return 0, wantErr })
	_, err := c.Get(false)
	require.ErrorIs(t, err, wantErr)
}
