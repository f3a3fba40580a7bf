//go:build linux

package http

import (
	"bytes"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Method is the request method. Only GET and POST are understood.
type Method int

const (
	MethodGet Method = iota
	MethodPost
)

func (m Method) String() string {
	if m == MethodPost {
		return "POST"
	}
	return "GET"
}

// checkState is the main parser state.
type checkState int

const (
	stateRequestLine checkState = iota
	stateHeader
	stateContent
)

// lineStatus is the line scanner verdict.
type lineStatus int

const (
	lineOK lineStatus = iota
	lineBad
	lineOpen
)

// HTTPCode is the outcome of parsing one request, threaded from the
// parser to the response builder.
type HTTPCode int

const (
	NoRequest HTTPCode = iota
	GetRequest
	BadRequest
	NoResource
	ForbiddenRequest
	FileRequest
	InternalError
	ClosedConnection
)

// Rearmer is the slice of the readiness facility a connection needs:
// one-shot re-arming and deregistration.
type Rearmer interface {
	ModRead(fd int) error
	ModWrite(fd int) error
	Remove(fd int) error
}

// Conn is one accepted connection: socket, fixed read/write buffers,
// parser cursors and the pending response. The reactor owns it; at most
// one worker runs Process on it at a time, enforced by one-shot
// re-arming of the socket.
type Conn struct {
	fd   int
	peer string

	poll       Rearmer
	onClose    func(*Conn)
	onResponse func(status int)

	docRoot string

	readBuf    []byte // fixed capacity; readIdx counts valid bytes
	readIdx    int
	checkedIdx int
	startLine  int

	state         checkState
	method        Method
	uri           string
	version       string
	host          string
	query         string
	contentLength int // -1 until a Content-Length header arrives
	keepAlive     bool
	cgi           bool

	realFile string
	fileSize int64
	fileData []byte // live mmap of realFile, nil when unmapped

	writeBuf []byte
	writeIdx int
	iov      [2][]byte
	iovCount int

	bytesToSend   int
	bytesHaveSend int

	deadline atomic.Int64 // unix seconds; read live by the expiry heap
	closing  atomic.Bool
}

// NewConn returns an empty entry; Open binds it to a socket.
func NewConn() *Conn {
	return &Conn{fd: -1}
}

// Open binds the entry to a freshly accepted socket. The buffers come
// from the caller (pooled) and keep their capacity across keep-alive
// requests; Close does not release them.
func (c *Conn) Open(fd int, peer, docRoot string, readBuf, writeBuf []byte, poll Rearmer, onClose func(*Conn), onResponse func(int)) {
	c.fd = fd
	c.peer = peer
	// Join cleans its result, so the root must be in cleaned form for
	// the containment check in parseRequestLine.
	c.docRoot = filepath.Clean(docRoot)
	c.readBuf = readBuf
	c.writeBuf = writeBuf
	c.poll = poll
	c.onClose = onClose
	c.onResponse = onResponse
	c.closing.Store(false)
	c.reset()
}

// reset clears the parser and response state for the next request on
// the same socket.
func (c *Conn) reset() {
	c.readIdx = 0
	c.checkedIdx = 0
	c.startLine = 0
	c.state = stateRequestLine
	c.method = MethodGet
	c.uri = ""
	c.version = ""
	c.host = ""
	c.query = ""
	c.contentLength = -1
	c.keepAlive = false
	c.cgi = false
	c.realFile = ""
	c.fileSize = 0
	c.writeIdx = 0
	c.iov[0], c.iov[1] = nil, nil
	c.iovCount = 0
	c.bytesToSend = 0
	c.bytesHaveSend = 0
	clear(c.readBuf)
	clear(c.writeBuf)
}

// Reset empties the entry for pooling.
func (c *Conn) Reset() {
	c.fd = -1
	c.peer = ""
	c.poll = nil
	c.onClose = nil
	c.onResponse = nil
	c.readBuf = nil
	c.writeBuf = nil
	c.fileData = nil
	c.deadline.Store(0)
}

// FD returns the socket descriptor, -1 after close.
func (c *Conn) FD() int { return c.fd }

// Peer returns the remote address captured at accept.
func (c *Conn) Peer() string { return c.peer }

// Buffered returns the number of bytes read but not yet consumed.
func (c *Conn) Buffered() int { return c.readIdx }

// Buffers returns the buffers bound to the entry (nil before the first
// Open). They stay with the entry after Close.
func (c *Conn) Buffers() (readBuf, writeBuf []byte) { return c.readBuf, c.writeBuf }

// Deadline returns the instant at which the connection becomes eligible
// for closure. The expiry heap compares entries through this, so a
// refresh is visible without re-ordering the heap.
func (c *Conn) Deadline() time.Time {
	return time.Unix(c.deadline.Load(), 0)
}

// SetDeadline moves the closure deadline.
func (c *Conn) SetDeadline(t time.Time) {
	c.deadline.Store(t.Unix())
}

// Close deregisters and closes the socket. Idempotent: the expiry tick
// and a failing worker may both call it.
func (c *Conn) Close() {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	fd := c.fd
	c.fd = -1
	if c.poll != nil {
		_ = c.poll.Remove(fd)
	}
	_ = unix.Close(fd)
	c.unmap()
	logrus.WithFields(logrus.Fields{"fd": fd, "peer": c.peer}).Debug("connection closed")
	if c.onClose != nil {
		c.onClose(c)
	}
}

// Read drains the socket into the read buffer until the call would
// block, the peer closes, or the buffer fills. Called on the reactor
// thread before the entry is handed to a worker.
func (c *Conn) Read() bool {
	if c.readIdx >= len(c.readBuf) {
		return false
	}
	for {
		n, err := unix.Read(c.fd, c.readBuf[c.readIdx:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			if err == unix.EINTR {
				continue
			}
			return false
		}
		if n == 0 {
			return false
		}
		c.readIdx += n
		if c.readIdx == len(c.readBuf) {
			break
		}
	}
	return true
}

// Process is the worker entry point: parse what has been read, then
// either re-arm for more data, hand off to CGI, or build a response and
// re-arm for writing.
func (c *Conn) Process() {
	code := c.processRead()
	if code == NoRequest {
		if err := c.poll.ModRead(c.fd); err != nil {
			c.Close()
		}
		return
	}
	if code == GetRequest && c.cgi {
		// CGI wrote straight to the socket; nothing to arm. The expiry
		// tick reaps the connection.
		return
	}
	if !c.processWrite(code) {
		c.Close()
		return
	}
	if err := c.poll.ModWrite(c.fd); err != nil {
		c.Close()
	}
}

// processRead runs the main state machine over the buffered bytes.
func (c *Conn) processRead() HTTPCode {
	status := lineOK
	for {
		if c.state == stateContent {
			// Body bytes are not line-oriented: the scanner is bypassed.
			if c.parseContent() == GetRequest {
				return c.finishRequest()
			}
			return NoRequest
		}
		if status = c.parseLine(); status != lineOK {
			break
		}
		text := c.readBuf[c.startLine : c.checkedIdx-2]
		c.startLine = c.checkedIdx

		switch c.state {
		case stateRequestLine:
			if code := c.parseRequestLine(text); code != NoRequest {
				return code
			}
		case stateHeader:
			switch code := c.parseHeader(text); code {
			case BadRequest:
				return BadRequest
			case GetRequest:
				return c.finishRequest()
			}
		default:
			return InternalError
		}
	}
	if status == lineBad {
		return BadRequest
	}
	return NoRequest
}

// finishRequest dispatches a complete request: CGI short-circuits, a
// plain GET resolves the target file.
func (c *Conn) finishRequest() HTTPCode {
	if c.cgi {
		c.executeCGI()
		return GetRequest
	}
	return c.doRequest()
}

// parseLine scans for CRLF, replacing both terminator bytes with NUL in
// place so the line is a terminated slice starting at startLine. A lone
// CR at the end of the buffer means more bytes are needed.
func (c *Conn) parseLine() lineStatus {
	for ; c.checkedIdx < c.readIdx; c.checkedIdx++ {
		switch c.readBuf[c.checkedIdx] {
		case '\r':
			if c.checkedIdx+1 == c.readIdx {
				return lineOpen
			}
			if c.readBuf[c.checkedIdx+1] == '\n' {
				c.readBuf[c.checkedIdx] = 0
				c.readBuf[c.checkedIdx+1] = 0
				c.checkedIdx += 2
				return lineOK
			}
			return lineBad
		case '\n':
			if c.checkedIdx > 1 && c.readBuf[c.checkedIdx-1] == '\r' {
				c.readBuf[c.checkedIdx-1] = 0
				c.readBuf[c.checkedIdx] = 0
				c.checkedIdx++
				return lineOK
			}
			return lineBad
		}
	}
	return lineOpen
}

// parseRequestLine splits METHOD TARGET VERSION and resolves the target
// against the document root.
func (c *Conn) parseRequestLine(text []byte) HTTPCode {
	sp := bytes.IndexAny(text, " \t")
	if sp == -1 {
		return BadRequest
	}
	switch string(text[:sp]) {
	case "GET":
		c.method = MethodGet
	case "POST":
		c.method = MethodPost
		c.cgi = true
	default:
		return BadRequest
	}
	rest := bytes.TrimLeft(text[sp:], " \t")
	sp = bytes.IndexAny(rest, " \t")
	if sp == -1 {
		return BadRequest
	}
	target := rest[:sp]
	version := bytes.TrimLeft(rest[sp:], " \t")
	if string(version) != "HTTP/1.1" {
		return BadRequest
	}
	c.version = string(version)
	if len(target) == 0 || target[0] != '/' {
		return BadRequest
	}
	uri := string(target)
	if c.method == MethodGet {
		if q := strings.IndexByte(uri, '?'); q != -1 {
			// A '?' triggers CGI even when the query itself is empty.
			c.query = uri[q+1:]
			uri = uri[:q]
			c.cgi = true
		}
	}
	if strings.HasSuffix(uri, "/") {
		uri += "index.html"
	}
	c.uri = uri

	// Join cleans any ".."; a result outside the root is rejected.
	c.realFile = filepath.Join(c.docRoot, uri)
	if c.realFile != c.docRoot && !strings.HasPrefix(c.realFile, c.docRoot+string(filepath.Separator)) {
		return ForbiddenRequest
	}

	c.state = stateHeader
	return NoRequest
}

// parseHeader consumes one header line; the empty line completes the
// header section.
func (c *Conn) parseHeader(text []byte) HTTPCode {
	if len(text) == 0 {
		if c.contentLength > 0 {
			if c.checkedIdx+c.contentLength > len(c.readBuf) {
				// Declared body can never fit the read buffer.
				return BadRequest
			}
			c.state = stateContent
			return NoRequest
		}
		return GetRequest
	}
	switch {
	case foldPrefix(text, "Connection:"):
		if bytes.EqualFold(trimOWS(text[len("Connection:"):]), []byte("keep-alive")) {
			c.keepAlive = true
		}
	case foldPrefix(text, "Content-Length:"):
		n, err := strconv.Atoi(string(trimOWS(text[len("Content-Length:"):])))
		if err != nil || n < 0 {
			return BadRequest
		}
		c.contentLength = n
	case foldPrefix(text, "Host:"):
		c.host = string(trimOWS(text[len("Host:"):]))
	default:
		logrus.WithField("header", string(text)).Debug("ignoring unknown header")
	}
	return NoRequest
}

// parseContent checks whether the declared body has been read in full.
// The body is not line-oriented, so the line scanner is bypassed.
func (c *Conn) parseContent() HTTPCode {
	if c.readIdx >= c.checkedIdx+c.contentLength {
		if end := c.checkedIdx + c.contentLength; end < len(c.readBuf) {
			c.readBuf[end] = 0
		}
		return GetRequest
	}
	return NoRequest
}

// body returns the request body slice once parseContent succeeded.
func (c *Conn) body() []byte {
	return c.readBuf[c.checkedIdx : c.checkedIdx+c.contentLength]
}

// doRequest resolves the target file: stat, permission and directory
// checks, then a private read-only mapping of the whole file.
func (c *Conn) doRequest() HTTPCode {
	var st unix.Stat_t
	if err := unix.Stat(c.realFile, &st); err != nil {
		return NoResource
	}
	if st.Mode&unix.S_IROTH == 0 {
		return ForbiddenRequest
	}
	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		return BadRequest
	}
	c.fileSize = st.Size
	if st.Size == 0 {
		return FileRequest
	}
	fd, err := unix.Open(c.realFile, unix.O_RDONLY, 0)
	if err != nil {
		return NoResource
	}
	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	_ = unix.Close(fd)
	if err != nil {
		return InternalError
	}
	c.fileData = data
	return FileRequest
}

// unmap releases the file mapping if one is live.
func (c *Conn) unmap() {
	if c.fileData != nil {
		_ = unix.Munmap(c.fileData)
		c.fileData = nil
	}
}

// foldPrefix reports whether text begins with prefix, ASCII
// case-insensitively.
func foldPrefix(text []byte, prefix string) bool {
	return len(text) >= len(prefix) && bytes.EqualFold(text[:len(prefix)], []byte(prefix))
}

// trimOWS strips optional whitespace around a header value.
func trimOWS(v []byte) []byte {
	return bytes.Trim(v, " \t")
}
