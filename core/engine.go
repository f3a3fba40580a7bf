//go:build linux

package core

import (
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/searchktools/microhttpd/config"
	"github.com/searchktools/microhttpd/core/expiry"
	httpconn "github.com/searchktools/microhttpd/core/http"
	"github.com/searchktools/microhttpd/core/metrics"
	"github.com/searchktools/microhttpd/core/poller"
	"github.com/searchktools/microhttpd/core/pools"
	"github.com/searchktools/microhttpd/core/tick"
)

// Engine is the reactor: the single goroutine that owns the readiness
// facility and translates raw socket events into connection-level
// transitions. Workers only ever see a connection the reactor handed
// them; the timer tick reaches connections through the expiry queue.
type Engine struct {
	cfg *config.Config

	listenFD int
	port     atomic.Int32

	poll   poller.Poller
	bridge *tick.Bridge

	// conns is the descriptor-indexed table. A slot keeps its entry
	// across descriptor reuse, like the original fixed array; the
	// entry is re-initialised at accept.
	conns    []*httpconn.Conn
	connPool *pools.ConnectionPool
	bytePool *pools.BytePool
	workers  *pools.WorkerPool
	expiry   *expiry.Queue
	mets     *metrics.Metrics

	docRoot   atomic.Value // string
	userCount atomic.Int64
}

// NewEngine builds the reactor and its collaborators.
func NewEngine(cfg *config.Config) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		listenFD: -1,
		conns:    make([]*httpconn.Conn, cfg.MaxConns),
		connPool: pools.NewConnectionPool(func() any { return httpconn.NewConn() }),
		bytePool: pools.NewBytePool(cfg.WriteBufferSize, cfg.ReadBufferSize),
		expiry:   expiry.New(),
	}
	e.docRoot.Store(cfg.DocRoot)
	e.workers = pools.NewWorkerPool(cfg.Workers, cfg.QueueCapacity)
	e.mets = metrics.New(func() float64 { return float64(e.workers.Depth()) })

	p, err := poller.NewPoller()
	if err != nil {
		return nil, errors.Wrap(err, "create poller")
	}
	e.poll = p

	b, err := tick.New(cfg.Timeslot())
	if err != nil {
		p.Close()
		return nil, err
	}
	e.bridge = b
	return e, nil
}

// Metrics returns the engine's collectors for exposition.
func (e *Engine) Metrics() *metrics.Metrics { return e.mets }

// Port returns the bound port once Run has set up the listener, zero
// before that.
func (e *Engine) Port() int { return int(e.port.Load()) }

// OpenConnections returns the live connection count.
func (e *Engine) OpenConnections() int64 { return e.userCount.Load() }

// SetDocRoot swaps the document root; connections accepted afterwards
// resolve against the new root.
func (e *Engine) SetDocRoot(root string) {
	e.docRoot.Store(root)
}

// Stop asks the reactor to shut down via the tick pipe.
func (e *Engine) Stop() {
	e.bridge.Stop()
}

// Run binds the listening socket and drives the event loop until a
// stop byte arrives or the readiness wait fails.
func (e *Engine) Run() error {
	if err := e.listen(); err != nil {
		return err
	}
	defer e.teardown()

	if err := e.poll.Watch(e.listenFD); err != nil {
		return errors.Wrap(err, "watch listener")
	}
	if err := e.poll.Watch(e.bridge.FD()); err != nil {
		return errors.Wrap(err, "watch tick pipe")
	}

	logrus.WithFields(logrus.Fields{
		"port":    e.Port(),
		"workers": e.cfg.Workers,
		"docroot": e.docRoot.Load(),
	}).Info("server listening")

	events := make([]poller.Event, e.cfg.MaxEvents)
	for {
		n, err := e.poll.Wait(events)
		if err != nil {
			return errors.Wrap(err, "readiness wait")
		}

		timeout, stop := false, false
		for _, ev := range events[:n] {
			switch {
			case ev.FD == e.listenFD:
				e.accept()
			case ev.FD == e.bridge.FD():
				t, s := e.bridge.Drain()
				timeout = timeout || t
				stop = stop || s
			default:
				e.dispatch(ev)
			}
		}

		// Expiry runs after the batch: I/O has priority over the tick.
		if timeout {
			reaped := e.expiry.Tick(time.Now())
			if reaped > 0 {
				e.mets.Reaped.Add(float64(reaped))
				logrus.WithField("reaped", reaped).Debug("expiry tick")
			}
			e.bridge.Reset()
		}
		if stop {
			logrus.Info("reactor stopping")
			return nil
		}
	}
}

// dispatch routes one connection event.
func (e *Engine) dispatch(ev poller.Event) {
	if ev.FD < 0 || ev.FD >= len(e.conns) {
		return
	}
	c := e.conns[ev.FD]
	if c == nil || c.FD() != ev.FD {
		return
	}
	switch {
	case ev.Closed():
		c.Close()
	case ev.Readable():
		if c.Read() && c.Buffered() > 0 {
			if !e.workers.Append(c) {
				c.Close()
				return
			}
			c.SetDeadline(time.Now().Add(e.cfg.IdleTimeout()))
			e.expiry.Refresh()
		} else {
			c.Close()
		}
	case ev.Writable():
		if !c.Write() {
			c.Close()
		}
	}
}

// accept takes one connection off the listening socket.
func (e *Engine) accept() {
	nfd, sa, err := unix.Accept4(e.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			logrus.WithError(err).Warn("accept failed")
		}
		return
	}
	if nfd >= len(e.conns) || e.userCount.Load() >= int64(e.cfg.MaxConns) {
		// Table full: shed the connection.
		_ = unix.Close(nfd)
		return
	}

	c := e.conns[nfd]
	if c == nil {
		c = e.connPool.Get().(*httpconn.Conn)
		e.conns[nfd] = c
	}
	readBuf, writeBuf := c.Buffers()
	if readBuf == nil {
		readBuf = e.bytePool.Get(e.cfg.ReadBufferSize)
		writeBuf = e.bytePool.Get(e.cfg.WriteBufferSize)
	}
	c.Open(nfd, peerString(sa), e.docRoot.Load().(string), readBuf, writeBuf,
		e.poll, e.onClose, e.mets.ObserveResponse)

	if err := e.poll.WatchOneShot(nfd); err != nil {
		logrus.WithError(err).Warn("register connection failed")
		_ = unix.Close(nfd)
		return
	}

	e.userCount.Add(1)
	e.mets.Accepted.Inc()
	e.mets.Open.Inc()

	c.SetDeadline(time.Now().Add(e.cfg.IdleTimeout()))
	e.expiry.Push(c)
	logrus.WithFields(logrus.Fields{"fd": nfd, "peer": c.Peer()}).Debug("connection accepted")
}

func (e *Engine) onClose(*httpconn.Conn) {
	e.userCount.Add(-1)
	e.mets.Open.Dec()
}

// listen creates the non-blocking IPv4 listening socket.
func (e *Engine) listen() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return errors.Wrap(err, "create socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return errors.Wrap(err, "set SO_REUSEADDR")
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: e.cfg.Port}); err != nil {
		unix.Close(fd)
		return errors.Wrapf(err, "bind port %d", e.cfg.Port)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return errors.Wrap(err, "listen")
	}

	port := e.cfg.Port
	if port == 0 {
		if sa, err := unix.Getsockname(fd); err == nil {
			if sa4, ok := sa.(*unix.SockaddrInet4); ok {
				port = sa4.Port
			}
		}
	}
	e.port.Store(int32(port))
	e.listenFD = fd
	return nil
}

// teardown closes every live connection and the engine's descriptors.
func (e *Engine) teardown() {
	for _, c := range e.conns {
		if c != nil && c.FD() != -1 {
			c.Close()
		}
	}
	e.workers.Close()
	e.bridge.Close()
	e.poll.Close()
	if e.listenFD != -1 {
		_ = unix.Close(e.listenFD)
		e.listenFD = -1
	}
}

func peerString(sa unix.Sockaddr) string {
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		return netip.AddrPortFrom(netip.AddrFrom4(sa4.Addr), uint16(sa4.Port)).String()
	}
	return "unknown"
}
