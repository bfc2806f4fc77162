package queue

import "github.com/ugen-project/ugen/internal/uapi"

// FIFO is an owned, insertion-order queue of *uapi.KernelRequest. It
// replaces the intrusive doubly-linked list the submit/complete queues used
// historically (spec §9 "raw intrusive list -> owned queue of records"): a
// FIFO exclusively owns each record it holds, and nothing outside the
// endpoint's rwlock may reach into it concurrently, so FIFO itself carries
// no lock of its own.
type FIFO struct {
	items []*uapi.KernelRequest
}

// NewFIFO returns an empty FIFO.
func NewFIFO() *FIFO {
	return &FIFO{}
}

// PushBack appends k to the tail of the queue.
func (f *FIFO) PushBack(k *uapi.KernelRequest) {
	f.items = append(f.items, k)
}

// PopFront removes and returns the head of the queue, or (nil, false) if
// empty.
func (f *FIFO) PopFront() (*uapi.KernelRequest, bool) {
	if len(f.items) == 0 {
		return nil, false
	}
	k := f.items[0]
	f.items[0] = nil
	f.items = f.items[1:]
	return k, true
}

// Len reports the number of outstanding requests.
func (f *FIFO) Len() int {
	return len(f.items)
}

// Find returns the request matching ctx without removing it, or (nil,
// false) if none matches. Queue lengths are small (spec §9), so a linear
// scan is the right tool.
func (f *FIFO) Find(ctx uint64) (*uapi.KernelRequest, bool) {
	for _, k := range f.items {
		if k.Context == ctx {
			return k, true
		}
	}
	return nil, false
}

// RemoveByContext removes and returns the request whose Context equals ctx,
// or (nil, false) if none matches.
func (f *FIFO) RemoveByContext(ctx uint64) (*uapi.KernelRequest, bool) {
	for i, k := range f.items {
		if k.Context == ctx {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return k, true
		}
	}
	return nil, false
}

// DrainAll removes and returns every outstanding request, in FIFO order,
// leaving the queue empty. Used by endpoint teardown.
func (f *FIFO) DrainAll() []*uapi.KernelRequest {
	out := f.items
	f.items = nil
	return out
}

// Snapshot returns a copy of the current contents, in FIFO order, without
// removing anything. Used by endpoint teardown to abort in-flight bus
// transfers while leaving the actual queue removal to the completion
// callback each abort triggers (spec §9 Open Question 1).
func (f *FIFO) Snapshot() []*uapi.KernelRequest {
	out := make([]*uapi.KernelRequest, len(f.items))
	copy(out, f.items)
	return out
}
