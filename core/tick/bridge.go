//go:build linux

// Package tick implements the signal-to-pipe bridge: the periodic
// timer and process signals are turned into bytes on a self-pipe whose
// read end participates in the readiness facility, so the reactor
// observes "time passed" and "shut down" as ordinary read events.
package tick

import (
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	tickByte = 't'
	stopByte = 'q'
)

// Bridge owns the self-pipe, the one-shot period timer and the signal
// relay. The timer fires once per arming, like alarm(2): the reactor
// re-arms it with Reset after servicing each tick.
type Bridge struct {
	rfd, wfd int
	period   time.Duration
	timer    *time.Timer
	sigCh    chan os.Signal
	done     chan struct{}
}

// New creates the bridge, arms the first tick and relays SIGINT and
// SIGTERM into the pipe as stop bytes.
func New(period time.Duration) (*Bridge, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, errors.Wrap(err, "tick pipe")
	}
	b := &Bridge{
		rfd:    fds[0],
		wfd:    fds[1],
		period: period,
		sigCh:  make(chan os.Signal, 1),
		done:   make(chan struct{}),
	}
	b.timer = time.AfterFunc(period, func() { b.send(tickByte) })
	signal.Notify(b.sigCh, unix.SIGINT, unix.SIGTERM)
	go b.relay()
	return b, nil
}

func (b *Bridge) relay() {
	for {
		select {
		case <-b.sigCh:
			b.send(stopByte)
		case <-b.done:
			return
		}
	}
}

// send writes one byte to the pipe. A full pipe means a wakeup is
// already pending, so EAGAIN is ignored.
func (b *Bridge) send(c byte) {
	_, _ = unix.Write(b.wfd, []byte{c})
}

// FD returns the read end for registration with the poller.
func (b *Bridge) FD() int { return b.rfd }

// Stop requests reactor shutdown through the pipe.
func (b *Bridge) Stop() { b.send(stopByte) }

// Reset re-arms the period timer after a serviced tick.
func (b *Bridge) Reset() { b.timer.Reset(b.period) }

// Drain empties the pipe and reports what arrived.
func (b *Bridge) Drain() (tick, stop bool) {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(b.rfd, buf)
		if err != nil || n == 0 {
			return tick, stop
		}
		for _, c := range buf[:n] {
			switch c {
			case tickByte:
				tick = true
			case stopByte:
				stop = true
			}
		}
		if n < len(buf) {
			return tick, stop
		}
	}
}

// Close tears the bridge down.
func (b *Bridge) Close() {
	signal.Stop(b.sigCh)
	b.timer.Stop()
	close(b.done)
	_ = unix.Close(b.rfd)
	_ = unix.Close(b.wfd)
}
