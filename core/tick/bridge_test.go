//go:build linux

package tick

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func waitReadable(t *testing.T, fd int, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 100)
		if err != nil && err != unix.EINTR {
			t.Fatalf("poll: %v", err)
		}
		if n > 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
	}
}

func TestBridgeDeliversTick(t *testing.T) {
	b, err := New(20 * time.Millisecond)
	require.NoError(t, err)
	defer b.Close()

	require.True(t, waitReadable(t, b.FD(), 2*time.Second), "tick byte never arrived")

	tick, stop := b.Drain()
	assert.True(t, tick)
	assert.False(t, stop)
}

func TestBridgeResetRearms(t *testing.T) {
	b, err := New(20 * time.Millisecond)
	require.NoError(t, err)
	defer b.Close()

	require.True(t, waitReadable(t, b.FD(), 2*time.Second))
	b.Drain()

	// One firing per arming, like alarm(2): a new tick needs Reset.
	b.Reset()
	require.True(t, waitReadable(t, b.FD(), 2*time.Second), "re-armed tick never arrived")
	tick, _ := b.Drain()
	assert.True(t, tick)
}

func TestBridgeStop(t *testing.T) {
	b, err := New(time.Hour)
	require.NoError(t, err)
	defer b.Close()

	b.Stop()
	require.True(t, waitReadable(t, b.FD(), 2*time.Second))

	tick, stop := b.Drain()
	assert.False(t, tick)
	assert.True(t, stop)
}

func TestBridgeDrainEmpty(t *testing.T) {
	b, err := New(time.Hour)
	require.NoError(t, err)
	defer b.Close()

	tick, stop := b.Drain()
	assert.False(t, tick)
	assert.False(t, stop)
}
