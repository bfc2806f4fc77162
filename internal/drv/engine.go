// Package drv is the driver engine: per-endpoint submit/complete FIFOs, an
// asynchronous completion callback, and the five async ioctls plus the
// legacy synchronous REQUEST path (§4). It is the in-process stand-in
// for the kernel half of UGEN -- there is no real kernel module to load, so
// the "ioctl boundary" is these exported methods, called directly by the
// library engine (root package ugen) the way a real ioctl(2) call would
// cross into kernel space. The wire (de)serialization in internal/uapi still
// exists and is exercised by tests so the byte layout stays a real
// compatibility point, independent of this in-process shortcut.
package drv

import (
	"context"
	"sync"
	"syscall"

	"github.com/ugen-project/ugen/internal/errno"
	"github.com/ugen-project/ugen/internal/hostbus"
	"github.com/ugen-project/ugen/internal/logging"
	"github.com/ugen-project/ugen/internal/queue"
	"github.com/ugen-project/ugen/internal/uapi"
)

// controlAddress is the conventional endpoint address of the control
// endpoint (§6.2: device node ".00").
const controlAddress = 0

// Engine owns every endpoint of one open device and the HostController it
// submits transfers to.
type Engine struct {
	bus hostbus.HostController

	mu        sync.Mutex
	endpoints map[uapi.EndpointKey]*Endpoint

	defaultTimeout uint32
}

// Config holds the tunable defaults an Engine is constructed with.
type Config struct {
	DefaultTimeoutMS uint32
}

// DefaultConfig returns Engine defaults: no timeout (interruptible
// indefinite wait, §5).
func DefaultConfig() Config {
	return Config{DefaultTimeoutMS: 0}
}

// New returns an Engine submitting transfers through bus.
func New(bus hostbus.HostController, cfg Config) *Engine {
	return &Engine{
		bus:            bus,
		endpoints:      make(map[uapi.EndpointKey]*Endpoint),
		defaultTimeout: cfg.DefaultTimeoutMS,
	}
}

// Endpoint returns (creating if necessary) the endpoint for key, whose
// descriptor class is tt. Calling this is the driver-side analogue of the
// host controller enumerating a device's endpoint descriptors.
func (e *Engine) Endpoint(key uapi.EndpointKey, tt uapi.TransferType) (*Endpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ep, ok := e.endpoints[key]; ok {
		return ep, nil
	}
	ep, err := newEndpoint(key, tt, e.defaultTimeout)
	if err != nil {
		return nil, err
	}
	e.endpoints[key] = ep
	return ep, nil
}

func (e *Engine) lookup(key uapi.EndpointKey) *Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.endpoints[key]
}

// QueueDepth reports the current submit-queue length of key, for metrics
// sampling at submit time (§5's queue-depth gauge). Zero if the endpoint
// does not exist yet.
func (e *Engine) QueueDepth(key uapi.EndpointKey) int {
	ep := e.lookup(key)
	if ep == nil {
		return 0
	}
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	return ep.submitQ.Len()
}

func endpointRef(key uapi.EndpointKey) uint32 {
	return uint32(key.Address)<<1 | uint32(key.Dir)
}

// isBusIntegrityWrite reports whether req is a control write of
// SET_ADDRESS, SET_CONFIG, or SET_INTERFACE (§4.1 step 1).
func isBusIntegrityWrite(req *uapi.Request) bool {
	if req.Flags&uapi.FlagRead != 0 {
		return false
	}
	switch req.Setup.Request {
	case uapi.ReqSetAddress, uapi.ReqSetConfig, uapi.ReqSetInterface:
		return true
	default:
		return false
	}
}

// DoRequest is the DO_REQUEST ioctl (§4.1): submit-now, reap-later.
func (e *Engine) DoRequest(ctx context.Context, key uapi.EndpointKey, tt uapi.TransferType, req *uapi.Request) syscall.Errno {
	if tt == uapi.TransferControl {
		if isBusIntegrityWrite(req) {
			return errno.Invalid.ToErrno()
		}
		if req.Setup.Length > uapi.MaxControlLength {
			return errno.Invalid.ToErrno()
		}
	} else {
		if req.Actlen <= 0 {
			// Open Question 2: zero-length bulk is rejected, not accepted.
			return errno.Invalid.ToErrno()
		}
	}

	ep, err := e.Endpoint(key, tt)
	if err != nil {
		return errno.NoMemory.ToErrno()
	}
	ep.mu.RLock()
	closed := ep.closed
	ep.mu.RUnlock()
	if closed {
		return errno.IOError.ToErrno()
	}

	declared := declaredLength(tt, req)
	var dmaBuf []byte
	if declared > 0 {
		dmaBuf = queue.GetBuffer(uint32(declared))
		if req.Flags&uapi.FlagRead == 0 {
			copy(dmaBuf, req.Data)
		}
	}

	k := &uapi.KernelRequest{
		Request:     *req,
		EndpointRef: endpointRef(key),
		DMABuf:      dmaBuf,
		DeclaredLen: declared,
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = ep.defaultTimeout()
	}

	flags := req.Flags
	if key.Dir == uapi.DirIn && ep.isShortOK() {
		flags |= uapi.FlagShortOK
	}

	xfer := &hostbus.Transfer{
		Address: key.Address,
		Dir:     key.Dir,
		Type:    tt,
		Setup:   req.Setup,
		Data:    dmaBuf,
		Flags:   flags,
		Timeout: timeout,
	}

	ep.inflight.Add(1)
	completed := false
	onComplete := func(status uapi.Status, actual int) {
		defer ep.inflight.Done()
		k.Status = status
		k.Actlen = int32(actual)
		ep.mu.Lock()
		completed = true
		ep.submitQ.RemoveByContext(k.Context)
		ep.completeQ.PushBack(k)
		ep.mu.Unlock()
		ep.signal()
	}

	h, err := e.bus.Submit(ctx, xfer, onComplete)
	if err != nil {
		ep.inflight.Done()
		releaseBuffer(k)
		_ = e.bus.ClearHalt(key.Address, key.Dir)
		return translateSubmitErr(err)
	}

	k.XferRef = h.ID()
	ep.mu.Lock()
	if !completed {
		// the callback may already have moved k onto completeQ.
		ep.submitQ.PushBack(k)
	}
	ep.mu.Unlock()
	return 0
}

func declaredLength(tt uapi.TransferType, req *uapi.Request) int {
	if tt == uapi.TransferControl {
		return int(req.Setup.Length)
	}
	return int(req.Actlen)
}

// translateSubmitErr maps a bus-level submission failure to a POSIX errno
// (§4.1 step 6, §7).
func translateSubmitErr(err error) syscall.Errno {
	if errnoVal, ok := err.(syscall.Errno); ok {
		return errnoVal
	}
	return errno.IOError.ToErrno()
}

// GetCompleted is the GET_COMPLETED ioctl (§4.3): pop the head of the
// complete queue; never blocks.
func (e *Engine) GetCompleted(key uapi.EndpointKey, out *uapi.Request) syscall.Errno {
	ep := e.lookup(key)
	if ep == nil {
		return errno.Invalid.ToErrno()
	}

	ep.mu.Lock()
	k, ok := ep.completeQ.PopFront()
	ep.mu.Unlock()
	if !ok {
		return errno.IOError.ToErrno()
	}
	ep.drainSignal()
	defer releaseBuffer(k)

	if k.Status == uapi.StatusCancelled {
		*out = k.Request
		out.Status = uapi.StatusCancelled
		out.Actlen = 0
		return 0
	}

	isRead := k.Flags&uapi.FlagRead != 0
	switch {
	case (k.Status == uapi.StatusNormal || k.Status == uapi.StatusShort) && isRead:
		actual := int(k.Actlen)
		if actual > k.DeclaredLen {
			actual = k.DeclaredLen
		}
		if actual < 0 {
			actual = 0
		}
		if k.Status == uapi.StatusShort && k.Flags&uapi.FlagShortOK == 0 && !ep.isShortOK() {
			// neither the per-request flag nor the endpoint's current
			// short_ok default permits it: a short read only this late
			// in its life, after SET_SHORT_XFER disabled the default,
			// surfaces as an io error rather than a silent partial read.
			k.Status = uapi.StatusIOError
			actual = 0
		}
		if k.Status == uapi.StatusIOError {
			actual = 0
		} else if k.DMABuf != nil {
			if len(k.Data) < actual {
				k.Status = uapi.StatusIOError
				actual = 0
			} else {
				copy(k.Data[:actual], k.DMABuf[:actual])
			}
		}
		k.Actlen = int32(actual)
	case k.Status == uapi.StatusIOError && isRead:
		// a short read the bus already refused: no partial data is
		// reported, matching the synchronous Request path.
		k.Actlen = 0
	case k.Status == uapi.StatusNormal:
		// write: actlen already carries bytes-accepted-by-device from
		// the completion callback.
	case k.Status == uapi.StatusStalled && ep.transferType == uapi.TransferBulk:
		if err := e.bus.ClearHalt(key.Address, key.Dir); err != nil {
			logging.Default().WithEndpoint(key.Address, key.Dir).WithError(err).Warn("clear-halt after stall failed")
		}
	}

	*out = k.Request
	return 0
}

// Cancel is the CANCEL ioctl (§4.4). The caller never frees the matched
// request; the completion callback (submit-queue case) or this function
// itself (complete-queue case) is the only writer of its terminal state.
func (e *Engine) Cancel(key uapi.EndpointKey, requestContext uint64) syscall.Errno {
	ep := e.lookup(key)
	if ep == nil {
		return errno.Invalid.ToErrno()
	}

	ep.mu.Lock()
	if k, ok := ep.submitQ.Find(requestContext); ok {
		ep.mu.Unlock()
		if err := e.bus.Abort(hostbus.NewHandle(k.XferRef)); err != nil {
			logging.Default().WithRequest(requestContext, "CANCEL").WithXfer(k.XferRef).WithError(err).Warn("abort failed")
		}
		return 0
	}
	if k, ok := ep.completeQ.Find(requestContext); ok {
		k.Status = uapi.StatusCancelled
		ep.mu.Unlock()
		return 0
	}
	ep.mu.Unlock()
	return errno.Invalid.ToErrno()
}

// SetTimeout is SET_TIMEOUT (§4.6): stores ms on both IN and OUT endpoints
// of the addressed number. Affects future requests only.
func (e *Engine) SetTimeout(address uint8, ms uint32) syscall.Errno {
	for _, dir := range [...]uapi.Dir{uapi.DirOut, uapi.DirIn} {
		key := uapi.EndpointKey{Address: address, Dir: dir}
		ep := e.lookup(key)
		if ep == nil {
			continue
		}
		ep.setTimeout(ms)
	}
	return 0
}

// SetShortXfer is SET_SHORT_XFER (§4.6): toggles short_ok on the IN
// endpoint of address. Illegal on the control endpoint.
func (e *Engine) SetShortXfer(address uint8, enable bool) syscall.Errno {
	if address == controlAddress {
		return errno.Invalid.ToErrno()
	}
	key := uapi.EndpointKey{Address: address, Dir: uapi.DirIn}
	ep := e.lookup(key)
	if ep == nil {
		return errno.Invalid.ToErrno()
	}
	ep.setShortOK(enable)
	return 0
}

// Request is the legacy synchronous REQUEST ioctl (§6.1): issued via the
// bus node, native byte order, never touches the submit/complete queues --
// it blocks until the bus calls back.
func (e *Engine) Request(ctx context.Context, dir uapi.Dir, tt uapi.TransferType, req *uapi.Request) syscall.Errno {
	if tt == uapi.TransferControl && req.Setup.Length > uapi.MaxControlLength {
		return errno.Invalid.ToErrno()
	}

	declared := declaredLength(tt, req)
	var dmaBuf []byte
	if declared > 0 {
		dmaBuf = queue.GetBuffer(uint32(declared))
		if req.Flags&uapi.FlagRead == 0 {
			copy(dmaBuf, req.Data)
		}
	}
	defer func() {
		if dmaBuf != nil {
			queue.PutBuffer(dmaBuf)
		}
	}()

	xfer := &hostbus.Transfer{
		Address: req.Address,
		Dir:     dir,
		Type:    tt,
		Setup:   req.Setup,
		Data:    dmaBuf,
		Flags:   req.Flags,
		Timeout: req.Timeout,
	}

	done := make(chan struct{})
	var status uapi.Status
	var actual int
	_, err := e.bus.Submit(ctx, xfer, func(s uapi.Status, a int) {
		status, actual = s, a
		close(done)
	})
	if err != nil {
		return translateSubmitErr(err)
	}
	<-done

	if status == uapi.StatusIOError && dir == uapi.DirIn {
		// a short read the caller didn't permit; no partial data is
		// copied out, matching the DO_REQUEST path's same refusal.
		actual = 0
	}

	if (status == uapi.StatusNormal || status == uapi.StatusShort) && dir == uapi.DirIn && dmaBuf != nil {
		n := actual
		if n > declared {
			n = declared
		}
		if n > 0 && len(req.Data) >= n {
			copy(req.Data[:n], dmaBuf[:n])
		}
	}
	req.Status = status
	req.Actlen = int32(actual)
	return 0
}

// CloseEndpoint tears down one endpoint per Open Question 1's resolution:
// abort every outstanding submit-queue transfer, wait for its callback,
// then drain and release the complete queue.
func (e *Engine) CloseEndpoint(key uapi.EndpointKey) {
	e.mu.Lock()
	ep, ok := e.endpoints[key]
	if ok {
		delete(e.endpoints, key)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	ep.close(func(xferRef uint64) {
		_ = e.bus.Abort(hostbus.NewHandle(xferRef))
	})
}

// Close tears down every endpoint, in no particular order.
func (e *Engine) Close() error {
	e.mu.Lock()
	keys := make([]uapi.EndpointKey, 0, len(e.endpoints))
	for k := range e.endpoints {
		keys = append(keys, k)
	}
	e.mu.Unlock()
	for _, k := range keys {
		e.CloseEndpoint(k)
	}
	return e.bus.Close()
}
