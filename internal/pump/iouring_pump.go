//go:build linux

package pump

import (
	"context"
	"sync"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"
)

// IOUringPump is the opt-in, Linux-only EventPump backed by a real
// io_uring, registering IORING_OP_POLL_ADD on each endpoint's wakeup fd
// instead of polling fds with unix.Poll. ugen.OpenOptions carries the
// opt-in bit that selects this pump over PollPump.
type IOUringPump struct {
	ring *giouring.Ring

	mu      sync.Mutex
	watched map[int]struct{} // fds the caller wants watched
}

// NewIOUringPump creates a ring with room for entries simultaneous
// POLL_ADD submissions.
func NewIOUringPump(entries uint32) (*IOUringPump, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, err
	}
	return &IOUringPump{ring: ring, watched: make(map[int]struct{})}, nil
}

// arm submits a fresh one-shot POLL_ADD for fd. Called both on Register and
// after each completion, since IORING_OP_POLL_ADD delivers exactly one
// event per submission.
func (p *IOUringPump) arm(fd int) error {
	sqe, err := p.ring.GetSQE()
	if err != nil {
		return err
	}
	sqe.PrepPollAdd(uint64(fd), uint32(unix.POLLIN))
	sqe.UserData = uint64(fd)
	_, err = p.ring.Submit()
	return err
}

func (p *IOUringPump) Register(fd int) error {
	p.mu.Lock()
	_, already := p.watched[fd]
	p.watched[fd] = struct{}{}
	p.mu.Unlock()
	if already {
		return nil
	}
	return p.arm(fd)
}

func (p *IOUringPump) Unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watched, fd)
	sqe, err := p.ring.GetSQE()
	if err != nil {
		return err
	}
	sqe.PrepPollRemove(uint64(fd))
	_, err = p.ring.Submit()
	return err
}

// Wait blocks for at least one completion, re-arming POLL_ADD for any fd
// that is still registered so the next readiness edge is caught too.
func (p *IOUringPump) Wait(ctx context.Context) ([]ReadyFD, error) {
	type result struct {
		ready []ReadyFD
		err   error
	}
	done := make(chan result, 1)
	go func() {
		cqe, err := p.ring.WaitCQE()
		if err != nil {
			done <- result{err: err}
			return
		}
		fd := int(cqe.UserData)
		r := ReadyFD{FD: fd}
		if cqe.Res < 0 {
			r.Error = true
		} else if uint32(cqe.Res)&unix.POLLIN != 0 {
			r.Readable = true
		}
		p.ring.CQESeen(cqe)

		p.mu.Lock()
		_, stillWatched := p.watched[fd]
		p.mu.Unlock()
		if stillWatched {
			_ = p.arm(fd) // re-arm: POLL_ADD is one-shot per completion
		}

		done <- result{ready: []ReadyFD{r}}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.ready, r.err
	}
}

func (p *IOUringPump) Close() error {
	p.ring.QueueExit()
	return nil
}
