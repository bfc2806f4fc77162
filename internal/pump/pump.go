// Package pump provides the event-pump adaptors the library engine drains
// completions through (§2.7, §4.10): the external "generic poll loop"
// collaborator that calls HandleEvents with whichever descriptors came back
// ready. This package owns only the readiness-waiting half; dispatch of a
// ready descriptor to its owning Handle is the root package's job.
package pump

import "context"

// ReadyFD names one descriptor the pump observed as ready, and why.
type ReadyFD struct {
	FD       int
	Error    bool // POLLERR/POLLHUP-equivalent: treat as disconnect (§4.10 step 2)
	Readable bool
}

// EventPump is the generic poll-loop contract a library back-end's
// HandleEvents is built against: Register/Unregister manage the watched
// set, Wait blocks until at least one is ready or ctx is done.
type EventPump interface {
	Register(fd int) error
	Unregister(fd int) error
	Wait(ctx context.Context) ([]ReadyFD, error)
	Close() error
}
