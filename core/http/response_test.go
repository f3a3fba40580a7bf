//go:build linux

package http

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestProcessWriteNotFound(t *testing.T) {
	c, _ := newTestConn(t, t.TempDir())
	require.True(t, c.processWrite(NoResource))

	want := fmt.Sprintf("HTTP/1.1 404 Not Found\r\nContent-Length: %d\r\nContent-Type:text/html\r\nConnection: close\r\n\r\n%s",
		len(err404Form), err404Form)
	assert.Equal(t, want, string(c.writeBuf[:c.writeIdx]))
	assert.Equal(t, 1, c.iovCount)
	assert.Equal(t, c.writeIdx, c.bytesToSend)
}

func TestProcessWriteStatusLines(t *testing.T) {
	tests := []struct {
		code HTTPCode
		want string
	}{
		{BadRequest, "HTTP/1.1 400 Bad Request\r\n"},
		{ForbiddenRequest, "HTTP/1.1 403 Forbidden\r\n"},
		{NoResource, "HTTP/1.1 404 Not Found\r\n"},
		{InternalError, "HTTP/1.1 500 Internal Error\r\n"},
	}
	for _, tt := range tests {
		c, _ := newTestConn(t, t.TempDir())
		require.True(t, c.processWrite(tt.code))
		assert.Contains(t, string(c.writeBuf[:c.writeIdx]), tt.want)
	}
}

func TestProcessWriteKeepAliveHeader(t *testing.T) {
	c, _ := newTestConn(t, t.TempDir())
	c.keepAlive = true
	require.True(t, c.processWrite(NoResource))
	assert.Contains(t, string(c.writeBuf[:c.writeIdx]), "Connection: keep-alive\r\n")
}

func TestProcessWriteFileRequest(t *testing.T) {
	c, _ := newTestConn(t, t.TempDir())
	c.fileData = []byte("hi\n")
	c.fileSize = 3
	require.True(t, c.processWrite(FileRequest))

	head := "HTTP/1.1 200 OK\r\nContent-Length: 3\r\nContent-Type:text/html\r\nConnection: close\r\n\r\n"
	assert.Equal(t, head, string(c.iov[0]))
	assert.Equal(t, "hi\n", string(c.iov[1]))
	assert.Equal(t, 2, c.iovCount)
	assert.Equal(t, c.writeIdx+3, c.bytesToSend)

	// Avoid munmap on a heap slice.
	c.fileData = nil
}

func TestProcessWriteOverflow(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	c := NewConn()
	c.Open(fds[0], "peer", t.TempDir(), make([]byte, 2048), make([]byte, 16), &fakeRearmer{}, nil, nil)
	defer c.Close()

	assert.False(t, c.processWrite(NoResource))
}

func TestProcessWriteUnknownCode(t *testing.T) {
	c, _ := newTestConn(t, t.TempDir())
	assert.False(t, c.processWrite(NoRequest))
}

// drainPeer reads everything currently buffered on the peer socket.
func drainPeer(t *testing.T, fd int) []byte {
	t.Helper()
	require.NoError(t, unix.SetNonblock(fd, true))
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil || n <= 0 {
			return out
		}
	}
}

func TestWriteDrainsAndCloses(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])
	require.NoError(t, unix.SetNonblock(fds[0], true))

	fr := &fakeRearmer{}
	c := NewConn()
	c.Open(fds[0], "peer", t.TempDir(), make([]byte, 2048), make([]byte, 1024), fr, nil, nil)
	defer c.Close()

	require.True(t, c.processWrite(NoResource))
	total := c.bytesToSend

	// Connection: close response: the drain reports failure so the
	// reactor closes the socket.
	assert.False(t, c.Write())
	assert.Equal(t, total, c.bytesHaveSend)

	got := drainPeer(t, fds[1])
	assert.Contains(t, string(got), "HTTP/1.1 404 Not Found\r\n")
	assert.Contains(t, string(got), err404Form)
}

func TestWriteKeepAliveResets(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])
	require.NoError(t, unix.SetNonblock(fds[0], true))

	fr := &fakeRearmer{}
	c := NewConn()
	c.Open(fds[0], "peer", t.TempDir(), make([]byte, 2048), make([]byte, 1024), fr, nil, nil)
	defer c.Close()

	c.keepAlive = true
	require.True(t, c.processWrite(BadRequest))
	assert.True(t, c.Write())

	// Re-armed for reading and reset for the next request.
	assert.Equal(t, 1, fr.reads)
	assert.Equal(t, 0, c.readIdx)
	assert.Equal(t, stateRequestLine, c.state)
	assert.Equal(t, 0, c.bytesToSend)

	got := drainPeer(t, fds[1])
	assert.Contains(t, string(got), "HTTP/1.1 400 Bad Request\r\n")
}

func TestWriteNothingPendingRearmsRead(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	fr := &fakeRearmer{}
	c := NewConn()
	c.Open(fds[0], "peer", t.TempDir(), make([]byte, 2048), make([]byte, 1024), fr, nil, nil)
	defer c.Close()

	assert.True(t, c.Write())
	assert.Equal(t, 1, fr.reads)
}
