// Package simbus is an in-memory, scriptable USB bus used by driver and
// library engine tests: instead of hitting real hardware it resolves each
// submitted transfer according to a per-(address,direction) script the test
// installs in advance.
package simbus

import (
	"context"
	"sync"

	"github.com/ugen-project/ugen/internal/hostbus"
	"github.com/ugen-project/ugen/internal/uapi"
)

// Outcome scripts how the next transfer on a given endpoint resolves.
type Outcome struct {
	Status uapi.Status
	Data   []byte // bytes "returned by the device" for a read
	Actual int    // bytes accepted, for a write; for a read, used only when Data is empty
	Hang   bool   // if true, the transfer never completes until Abort'd
}

// Controller is a scriptable hostbus.HostController.
type Controller struct {
	mu        sync.Mutex
	scripts   map[uapi.EndpointKey][]Outcome
	clearHalt int // call count, for test assertions
	nextID    uint64
	pending   map[uint64]chan struct{} // closed by Abort to unblock a Hang transfer
	workers   map[uapi.EndpointKey]chan func()
}

// NewController returns an empty Controller; call Script before submitting.
func NewController() *Controller {
	return &Controller{
		scripts: make(map[uapi.EndpointKey][]Outcome),
		pending: make(map[uint64]chan struct{}),
		workers: make(map[uapi.EndpointKey]chan func()),
	}
}

// worker returns the serialized completion-dispatch goroutine for key,
// starting one if this is the first transfer on that endpoint. Completions
// are always asynchronous relative to Submit (matching the real
// HostController contract), but are delivered in submission order per
// endpoint, the way a real bus delivers completions in the order it
// finished the work -- not in whatever order unrelated goroutines happen
// to get scheduled.
func (c *Controller) worker(key uapi.EndpointKey) chan func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.workers[key]
	if ok {
		return ch
	}
	ch = make(chan func(), 64)
	c.workers[key] = ch
	go func() {
		for job := range ch {
			job()
		}
	}()
	return ch
}

// Script appends outcomes to the queue consumed by successive Submit calls
// on the given endpoint. Outcomes are consumed FIFO, matching the order
// transfers are submitted.
func (c *Controller) Script(key uapi.EndpointKey, outcomes ...Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[key] = append(c.scripts[key], outcomes...)
}

func (c *Controller) Submit(ctx context.Context, x *hostbus.Transfer, onComplete hostbus.CompletionFunc) (*hostbus.Handle, error) {
	key := uapi.EndpointKey{Address: x.Address, Dir: x.Dir}

	c.mu.Lock()
	var out Outcome
	if q := c.scripts[key]; len(q) > 0 {
		out = q[0]
		c.scripts[key] = q[1:]
	} else {
		out = Outcome{Status: uapi.StatusNormal, Actual: len(x.Data)}
	}
	c.mu.Unlock()

	id := c.allocID()
	worker := c.worker(key)

	if out.Hang {
		done := make(chan struct{})
		c.mu.Lock()
		c.pending[id] = done
		c.mu.Unlock()
		go func() {
			<-done
			worker <- func() { onComplete(uapi.StatusCancelled, 0) }
		}()
		return handleFor(id), nil
	}

	worker <- func() {
		if out.Status == uapi.StatusNormal && x.Dir == uapi.DirIn && len(out.Data) > 0 {
			n := copy(x.Data, out.Data)
			onComplete(x.ShortStatus(n), n)
			return
		}
		if out.Actual == 0 && out.Status == uapi.StatusNormal {
			out.Actual = len(x.Data)
		}
		status := out.Status
		if status == uapi.StatusNormal {
			status = x.ShortStatus(out.Actual)
		}
		onComplete(status, out.Actual)
	}

	return handleFor(id), nil
}

func (c *Controller) Abort(h *hostbus.Handle) error {
	id := idFor(h)
	c.mu.Lock()
	done, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		close(done)
	}
	return nil
}

func (c *Controller) ClearHalt(address uint8, dir uapi.Dir) error {
	c.mu.Lock()
	c.clearHalt++
	c.mu.Unlock()
	return nil
}

// ClearHaltCalls reports how many times ClearHalt was invoked, for test
// assertions on the one-shot stall-recovery path.
func (c *Controller) ClearHaltCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clearHalt
}

func (c *Controller) Close() error { return nil }

func (c *Controller) allocID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

func handleFor(id uint64) *hostbus.Handle { return hostbus.NewHandle(id) }

func idFor(h *hostbus.Handle) uint64 { return h.ID() }
