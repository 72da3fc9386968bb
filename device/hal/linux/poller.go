//go:build linux

package linux

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// maxEvents bounds the events handled per epoll wait.
const maxEvents = 8

// poller waits on file descriptors with epoll. An eventfd wakes the loop
// for shutdown.
type poller struct {
	epfd   int
	wakefd int
	mu     sync.Mutex
	fds    map[int]func()
	done   chan struct{}
	closed bool
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	p := &poller{
		epfd:   epfd,
		wakefd: wakefd,
		fds:    make(map[int]func()),
		done:   make(chan struct{}),
	}
	if err := p.add(wakefd, nil); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

// add registers fd; ready runs on the poll goroutine when fd is readable.
func (p *poller) add(fd int, ready func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	p.fds[fd] = ready
	return nil
}

func (p *poller) remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.fds, fd)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *poller) wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(p.wakefd, buf[:])
	return err
}

// run waits for events until close is called.
func (p *poller) run() error {
	var events [maxEvents]unix.EpollEvent
	for {
		select {
		case <-p.done:
			return nil
		default:
		}

		n, err := unix.EpollWait(p.epfd, events[:], -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == p.wakefd {
				var buf [8]byte
				unix.Read(p.wakefd, buf[:])
				continue
			}

			p.mu.Lock()
			ready := p.fds[fd]
			p.mu.Unlock()
			if ready != nil {
				ready()
			}
		}
	}
}

// stop ends run without releasing the descriptors.
func (p *poller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
		p.wake()
	}
}

// close releases the descriptors. The caller must wait for run to return
// after stop before calling it.
func (p *poller) close() error {
	p.stop()
	unix.Close(p.wakefd)
	return unix.Close(p.epfd)
}
