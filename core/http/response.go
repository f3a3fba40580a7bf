//go:build linux

package http

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Status lines and canned bodies for the supported response codes.
const (
	ok200Title = "OK"

	err400Title = "Bad Request"
	err400Form  = "Your request has bad syntax or is inherently impossible to satisfy.\n"
	err403Title = "Forbidden"
	err403Form  = "You do not have permission to get file from this server.\n"
	err404Title = "Not Found"
	err404Form  = "The requested file was not found on this server.\n"
	err500Title = "Internal Error"
	err500Form  = "There was an unusual problem serving the requested file.\n"
)

// processWrite fills the write buffer for the given outcome and sets up
// the gather vector. A false return means the response cannot be built
// (write buffer overflow, or a code with no response) and the caller
// closes the connection.
func (c *Conn) processWrite(code HTTPCode) bool {
	switch code {
	case InternalError:
		if !c.addStatusLine(500, err500Title) || !c.addHeaders(len(err500Form)) || !c.addContent(err500Form) {
			return false
		}
	case BadRequest:
		if !c.addStatusLine(400, err400Title) || !c.addHeaders(len(err400Form)) || !c.addContent(err400Form) {
			return false
		}
	case NoResource:
		if !c.addStatusLine(404, err404Title) || !c.addHeaders(len(err404Form)) || !c.addContent(err404Form) {
			return false
		}
	case ForbiddenRequest:
		if !c.addStatusLine(403, err403Title) || !c.addHeaders(len(err403Form)) || !c.addContent(err403Form) {
			return false
		}
	case FileRequest:
		if !c.addStatusLine(200, ok200Title) || !c.addHeaders(int(c.fileSize)) {
			return false
		}
		c.iov[0] = c.writeBuf[:c.writeIdx]
		c.iov[1] = c.fileData[:c.fileSize]
		c.iovCount = 2
		c.bytesToSend = c.writeIdx + int(c.fileSize)
		c.report(200)
		return true
	default:
		return false
	}

	c.iov[0] = c.writeBuf[:c.writeIdx]
	c.iovCount = 1
	c.bytesToSend = c.writeIdx
	c.report(statusFor(code))
	return true
}

// Write drains the pending response through the gather vector. A true
// return keeps the connection (more to send, or keep-alive); false
// tells the reactor to close it.
func (c *Conn) Write() bool {
	if c.bytesToSend == 0 {
		if err := c.poll.ModRead(c.fd); err != nil {
			return false
		}
		c.reset()
		return true
	}

	for {
		n, err := unix.Writev(c.fd, c.iov[:c.iovCount])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				// Socket buffer full; wait for the next writable event.
				if err := c.poll.ModWrite(c.fd); err != nil {
					return false
				}
				return true
			}
			c.unmap()
			return false
		}

		c.bytesHaveSend += n
		c.bytesToSend -= n

		if c.bytesHaveSend >= c.writeIdx {
			// Head is fully out; slide the file slice forward.
			c.iov[0] = nil
			c.iov[1] = c.fileData[c.bytesHaveSend-c.writeIdx:][:c.bytesToSend]
		} else {
			c.iov[0] = c.writeBuf[c.bytesHaveSend:c.writeIdx]
		}

		if c.bytesToSend <= 0 {
			c.unmap()
			if err := c.poll.ModRead(c.fd); err != nil {
				return false
			}
			if c.keepAlive {
				c.reset()
				return true
			}
			return false
		}
	}
}

// addResponse appends formatted bytes to the write buffer, refusing to
// overflow it.
func (c *Conn) addResponse(format string, args ...any) bool {
	if c.writeIdx >= len(c.writeBuf) {
		return false
	}
	s := fmt.Sprintf(format, args...)
	if len(s) >= len(c.writeBuf)-1-c.writeIdx {
		return false
	}
	copy(c.writeBuf[c.writeIdx:], s)
	c.writeIdx += len(s)
	return true
}

func (c *Conn) addStatusLine(status int, title string) bool {
	return c.addResponse("%s %d %s\r\n", "HTTP/1.1", status, title)
}

func (c *Conn) addHeaders(contentLen int) bool {
	return c.addContentLength(contentLen) && c.addContentType() && c.addLinger() && c.addBlankLine()
}

func (c *Conn) addContentLength(contentLen int) bool {
	return c.addResponse("Content-Length: %d\r\n", contentLen)
}

func (c *Conn) addContentType() bool {
	return c.addResponse("Content-Type:%s\r\n", "text/html")
}

func (c *Conn) addLinger() bool {
	if c.keepAlive {
		return c.addResponse("Connection: %s\r\n", "keep-alive")
	}
	return c.addResponse("Connection: %s\r\n", "close")
}

func (c *Conn) addBlankLine() bool {
	return c.addResponse("%s", "\r\n")
}

func (c *Conn) addContent(content string) bool {
	return c.addResponse("%s", content)
}

func (c *Conn) report(status int) {
	if c.onResponse != nil {
		c.onResponse(status)
	}
}

func statusFor(code HTTPCode) int {
	switch code {
	case BadRequest:
		return 400
	case ForbiddenRequest:
		return 403
	case NoResource:
		return 404
	default:
		return 500
	}
}
