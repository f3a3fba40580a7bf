//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// connEvents are the flags added to every connection registration
// alongside EPOLLIN or EPOLLOUT: peer shutdown, edge-triggered, one-shot.
const connEvents = unix.EPOLLRDHUP | unix.EPOLLET | unix.EPOLLONESHOT

// EpollPoller is an epoll-based I/O multiplexer.
type EpollPoller struct {
	epfd int
	evs  []unix.EpollEvent
}

// NewPoller creates a new Poller (Linux).
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &EpollPoller{epfd: epfd}, nil
}

func (p *EpollPoller) ctl(op, fd int, events uint32) error {
	return unix.EpollCtl(p.epfd, op, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	})
}

// Watch registers fd in level-triggered read mode.
func (p *EpollPoller) Watch(fd int) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, unix.EPOLLIN)
}

// WatchOneShot registers fd in edge-triggered one-shot read mode.
func (p *EpollPoller) WatchOneShot(fd int) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, unix.EPOLLIN|connEvents)
}

// ModRead re-arms a one-shot fd for the next read event.
func (p *EpollPoller) ModRead(fd int) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, unix.EPOLLIN|connEvents)
}

// ModWrite re-arms a one-shot fd for the next write event.
func (p *EpollPoller) ModWrite(fd int) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, unix.EPOLLOUT|connEvents)
}

// Remove deregisters fd from the watch list.
func (p *EpollPoller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one descriptor is ready and fills events.
// EINTR is swallowed: the caller sees an empty batch and retries.
func (p *EpollPoller) Wait(events []Event) (int, error) {
	if len(p.evs) < len(events) {
		p.evs = make([]unix.EpollEvent, len(events))
	}
	n, err := unix.EpollWait(p.epfd, p.evs[:len(events)], -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		events[i] = Event{FD: int(p.evs[i].Fd), Flags: p.evs[i].Events}
	}
	return n, nil
}

// Close closes the epoll descriptor.
func (p *EpollPoller) Close() error {
	return unix.Close(p.epfd)
}

// Readable reports whether the descriptor has data to read.
func (e Event) Readable() bool { return e.Flags&unix.EPOLLIN != 0 }

// Writable reports whether the descriptor accepts writes.
func (e Event) Writable() bool { return e.Flags&unix.EPOLLOUT != 0 }

// Closed reports a peer hangup or descriptor error.
func (e Event) Closed() bool {
	return e.Flags&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0
}
