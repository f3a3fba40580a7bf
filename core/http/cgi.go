//go:build linux

package http

import (
	"bufio"
	"bytes"
	"os"
	"os/exec"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Direct mini-responses used by the CGI path, written to the socket
// without going through the write buffer.
const (
	cgiBadRequest = "HTTP/1.0 400 BAD REQUEST\r\n" +
		"Content-type: text/html\r\n" +
		"\r\n" +
		"<P>Your browser sent a bad request, such as a POST without a Content-Length.\r\n"
	cgiCannotExecute = "HTTP/1.0 500 Internal Server Error\r\n" +
		"Content-type: text/html\r\n" +
		"\r\n" +
		"<P>Error prohibited CGI execution.\r\n"
	cgiPrelude = "HTTP/1.0 200 OK\r\n"
)

// executeCGI runs the resolved file as a child process. The worker
// blocks for the lifetime of the child: the prelude goes out first,
// a POST body feeds the child's stdin, and the child's stdout is
// forwarded byte-by-byte to the socket until EOF.
func (c *Conn) executeCGI() {
	if c.method == MethodPost && c.contentLength < 0 {
		c.writeDirect(cgiBadRequest)
		c.report(400)
		return
	}

	c.writeDirect(cgiPrelude)

	cmd := exec.Command(c.realFile)
	cmd.Env = append(os.Environ(), "REQUEST_METHOD="+c.method.String())
	if c.method == MethodGet {
		cmd.Env = append(cmd.Env, "QUERY_STRING="+c.query)
	} else {
		cmd.Env = append(cmd.Env, "CONTENT_LENGTH="+strconv.Itoa(c.contentLength))
		cmd.Stdin = bytes.NewReader(c.body())
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.writeDirect(cgiCannotExecute)
		c.report(500)
		return
	}
	if err := cmd.Start(); err != nil {
		logrus.WithFields(logrus.Fields{"file": c.realFile, "err": err}).Debug("cgi start failed")
		c.writeDirect(cgiCannotExecute)
		c.report(500)
		return
	}

	br := bufio.NewReader(stdout)
	buf := make([]byte, 1)
	for {
		b, err := br.ReadByte()
		if err != nil {
			break
		}
		buf[0] = b
		if !c.writeRaw(buf) {
			break
		}
	}
	_ = cmd.Wait()
	c.report(200)
}

func (c *Conn) writeDirect(s string) {
	c.writeRaw([]byte(s))
}

// writeRaw pushes bytes to the (non-blocking) socket, waiting with
// poll(2) whenever the send buffer is full. CGI is the one path that
// blocks a worker on socket I/O.
func (c *Conn) writeRaw(p []byte) bool {
	for len(p) > 0 {
		n, err := unix.Write(c.fd, p)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLOUT}}
				if _, perr := unix.Poll(fds, -1); perr != nil && perr != unix.EINTR {
					return false
				}
				continue
			}
			return false
		}
		p = p[n:]
	}
	return true
}
