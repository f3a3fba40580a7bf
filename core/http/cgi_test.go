//go:build linux

package http

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func cgiConn(t *testing.T, docRoot string) (*Conn, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fds[1]) })
	require.NoError(t, unix.SetNonblock(fds[0], true))

	c := NewConn()
	c.Open(fds[0], "peer", docRoot, make([]byte, 2048), make([]byte, 1024), &fakeRearmer{}, nil, nil)
	t.Cleanup(func() { c.Close() })
	return c, fds[1]
}

func TestExecuteCGIGetQueryString(t *testing.T) {
	docRoot := t.TempDir()
	writeScript(t, docRoot, "run.cgi", `echo "q=$QUERY_STRING m=$REQUEST_METHOD"`)

	c, peer := cgiConn(t, docRoot)
	feed(t, c, "GET /run.cgi?m=2&n=4 HTTP/1.1\r\n\r\n")
	require.Equal(t, GetRequest, c.processRead())
	require.True(t, c.cgi)

	got := string(drainPeer(t, peer))
	assert.Contains(t, got, cgiPrelude)
	assert.Contains(t, got, "q=m=2&n=4 m=GET\n")
}

func TestExecuteCGIPostBody(t *testing.T) {
	docRoot := t.TempDir()
	writeScript(t, docRoot, "echo.cgi", "echo len=$CONTENT_LENGTH\ncat")

	c, peer := cgiConn(t, docRoot)
	feed(t, c, "POST /echo.cgi HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")
	require.Equal(t, GetRequest, c.processRead())

	got := string(drainPeer(t, peer))
	assert.Contains(t, got, cgiPrelude)
	assert.Contains(t, got, "len=5\n")
	assert.Contains(t, got, "hello")
}

func TestExecuteCGIPostWithoutContentLength(t *testing.T) {
	c, peer := cgiConn(t, t.TempDir())
	c.method = MethodPost
	c.contentLength = -1
	c.executeCGI()

	got := string(drainPeer(t, peer))
	assert.Contains(t, got, "HTTP/1.0 400 BAD REQUEST\r\n")
}

func TestExecuteCGIStartFailure(t *testing.T) {
	docRoot := t.TempDir()
	c, peer := cgiConn(t, docRoot)
	c.method = MethodGet
	c.cgi = true
	c.realFile = filepath.Join(docRoot, "does-not-exist.cgi")
	c.executeCGI()

	got := string(drainPeer(t, peer))
	assert.Contains(t, got, cgiPrelude)
	assert.Contains(t, got, "HTTP/1.0 500 Internal Server Error\r\n")
}
