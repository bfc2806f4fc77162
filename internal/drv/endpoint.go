package drv

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ugen-project/ugen/internal/logging"
	"github.com/ugen-project/ugen/internal/queue"
	"github.com/ugen-project/ugen/internal/uapi"
)

// Endpoint is the driver-resident per-(address, direction) slot: a pipe
// handle (modeled by key+transferType, the actual pipe lives in the
// hostbus.HostController), two FIFOs of outstanding requests, a wait-point
// for pollers, and the short/timeout defaults §4.6's ioctls mutate.
//
// mu is a single reader-writer lock guarding append (submit), move
// (callback), remove (reap), and search (cancel), one per endpoint rather
// than one process-wide lock (§9 notes this relaxation is permitted if the
// race analysis holds, which it does: nothing ever needs to hold two
// endpoints' locks at once).
type Endpoint struct {
	key          uapi.EndpointKey
	transferType uapi.TransferType

	mu        sync.RWMutex
	submitQ   *queue.FIFO
	completeQ *queue.FIFO
	closed    bool

	timeout uint32 // default timeout ms, §4.6 SET_TIMEOUT
	shortOK bool   // §4.6 SET_SHORT_XFER, IN endpoints only

	inflight sync.WaitGroup // submitted-but-not-yet-callbacked requests

	// wake is a level-triggered readiness signal: one byte is written per
	// request appended to completeQ and one byte drained per reap, so a
	// poller blocked in unix.Poll on readFD sees POLLIN exactly when
	// completeQ is non-empty (§4.7).
	wakeMu  sync.Mutex
	readFD  int
	writeFD int
}

func newEndpoint(key uapi.EndpointKey, tt uapi.TransferType, defaultTimeout uint32) (*Endpoint, error) {
	fds, err := wakePipe()
	if err != nil {
		return nil, err
	}
	return &Endpoint{
		key:          key,
		transferType: tt,
		submitQ:      queue.NewFIFO(),
		completeQ:    queue.NewFIFO(),
		timeout:      defaultTimeout,
		readFD:       fds[0],
		writeFD:      fds[1],
	}, nil
}

// wakePipe opens a non-blocking pipe used purely as a counting readiness
// signal; no data read from it is ever meaningful beyond its presence.
func wakePipe() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return fds, err
	}
	return fds, nil
}

// ReadFD is the file descriptor internal/pump registers for readability.
func (e *Endpoint) ReadFD() int { return e.readFD }

// Readable reports whether the complete queue is non-empty (§4.7). It
// reports read-readiness only; write-readiness is not tracked.
func (e *Endpoint) Readable() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.completeQ.Len() > 0
}

// signal bumps the wake pipe's level by one byte; called once per request
// moved onto completeQ.
func (e *Endpoint) signal() {
	e.wakeMu.Lock()
	defer e.wakeMu.Unlock()
	_, _ = unix.Write(e.writeFD, []byte{1})
}

// drainSignal removes one level of readiness; called once per successful
// reap.
func (e *Endpoint) drainSignal() {
	e.wakeMu.Lock()
	defer e.wakeMu.Unlock()
	var b [1]byte
	_, _ = unix.Read(e.readFD, b[:])
}

// defaultTimeout returns the endpoint's configured default, used whenever a
// Request supplies zero (§5 "a zero timeout means interruptible indefinite
// wait" -- that rule belongs to the request itself, not the endpoint
// default, so this is only consulted when SET_TIMEOUT's default applies;
// callers decide which).
func (e *Endpoint) defaultTimeout() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.timeout
}

func (e *Endpoint) setTimeout(ms uint32) {
	e.mu.Lock()
	e.timeout = ms
	e.mu.Unlock()
}

func (e *Endpoint) setShortOK(v bool) {
	e.mu.Lock()
	e.shortOK = v
	e.mu.Unlock()
}

func (e *Endpoint) isShortOK() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.shortOK
}

// close drains both queues per Open Question 1's resolution: abort every
// bus transfer still on the submit queue and wait for its callback before
// freeing anything, then drain and release the complete queue.
func (e *Endpoint) close(abort func(xferRef uint64)) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	pending := e.submitQ.Snapshot()
	e.mu.Unlock()

	for _, k := range pending {
		abort(k.XferRef)
	}
	e.inflight.Wait()

	e.mu.Lock()
	for _, k := range e.completeQ.DrainAll() {
		releaseBuffer(k)
	}
	e.mu.Unlock()

	logging.Default().WithEndpoint(e.key.Address, e.key.Dir).Debug("endpoint closed")
	_ = unix.Close(e.readFD)
	_ = unix.Close(e.writeFD)
}

func releaseBuffer(k *uapi.KernelRequest) {
	if k.DMABuf != nil {
		queue.PutBuffer(k.DMABuf)
		k.DMABuf = nil
	}
}
