package pump

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// PollPump is the portable EventPump, backed directly by unix.Poll -- the
// straightforward translation of "integrate with the OS poll/select
// infrastructure" (spec §2 item 5) when there is no io_uring available or
// wanted.
type PollPump struct {
	mu  sync.Mutex
	fds map[int]struct{}
}

// NewPollPump returns an empty PollPump.
func NewPollPump() *PollPump {
	return &PollPump{fds: make(map[int]struct{})}
}

func (p *PollPump) Register(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fds[fd] = struct{}{}
	return nil
}

func (p *PollPump) Unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fd)
	return nil
}

// Wait blocks in unix.Poll for up to 250ms at a time, so it notices ctx
// cancellation promptly without needing a second wakeup fd of its own.
func (p *PollPump) Wait(ctx context.Context) ([]ReadyFD, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		p.mu.Lock()
		pfds := make([]unix.PollFd, 0, len(p.fds))
		for fd := range p.fds {
			pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		}
		p.mu.Unlock()

		if len(pfds) == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		n, err := unix.Poll(pfds, 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, err
		}
		if n == 0 {
			continue
		}

		var ready []ReadyFD
		for _, pfd := range pfds {
			if pfd.Revents == 0 {
				continue
			}
			r := ReadyFD{FD: int(pfd.Fd)}
			if pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				r.Error = true
			}
			if pfd.Revents&(unix.POLLIN|unix.POLLRDNORM) != 0 {
				r.Readable = true
			}
			ready = append(ready, r)
		}
		if len(ready) > 0 {
			return ready, nil
		}
	}
}

func (p *PollPump) Close() error { return nil }
