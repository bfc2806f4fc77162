package ugen

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ugen-project/ugen/internal/drv"
	"github.com/ugen-project/ugen/internal/hostbus"
	"github.com/ugen-project/ugen/internal/logging"
	"github.com/ugen-project/ugen/internal/pump"
	"github.com/ugen-project/ugen/internal/uapi"
)

// Re-exported wire vocabulary so callers never need to import internal/uapi
// themselves (§3 data model, §6.1 ioctl surface).
type (
	TransferType = uapi.TransferType
	Dir          = uapi.Dir
	SetupPacket  = uapi.SetupPacket
)

const (
	TransferControl     = uapi.TransferControl
	TransferBulk        = uapi.TransferBulk
	TransferInterrupt   = uapi.TransferInterrupt
	TransferIsochronous = uapi.TransferIsochronous

	DirOut = uapi.DirOut
	DirIn  = uapi.DirIn
)

// BusStatus is the driver-level completion status (§3 Request.status),
// re-exported for callers scripting a MockHostController (see testing.go).
// It is distinct from TransferStatus (the library's own taxonomy, §4.10)
// and from CompletionStatus (the metrics reduction, metrics.go): these
// three vocabularies stay separate across the driver/library/metrics
// boundaries rather than collapsing to one enum.
type BusStatus = uapi.Status

const (
	BusStatusNormal    = uapi.StatusNormal
	BusStatusShort     = uapi.StatusShort
	BusStatusCancelled = uapi.StatusCancelled
	BusStatusStalled   = uapi.StatusStalled
	BusStatusTimeout   = uapi.StatusTimeout
	BusStatusIOError   = uapi.StatusIOError
)

// ControlAddress is the conventional endpoint address backing the control
// pipe (§6.2: device node ".00"), mirroring internal/drv's controlAddress.
const ControlAddress uint8 = 0

// TransferStatus is the library's transfer-status taxonomy a completion or
// cancellation is mapped to (§4.10).
type TransferStatus int

const (
	StatusCompleted TransferStatus = iota
	StatusError
	StatusCancelled
	StatusStall
)

// Transfer (T) is one library-side transfer request: the host-side half of
// the wire Request, carrying the caller's buffer, the opaque context used
// to correlate submit/cancel/completion, and the dispatcher callback the
// event pump invokes on completion or cancellation.
type Transfer struct {
	Address    uint8        // endpoint address (0 is the control pipe)
	Dir        Dir          // data direction; for control, not part of the endpoint key (see controlEndpointKey)
	Type       TransferType
	Setup      SetupPacket  // control transfers only
	Data       []byte
	ShortOK    bool         // honored on reads
	ForceShort bool
	ZeroPacket bool         // interrupt-OUT zero-length-packet flag; always not-supported (§4.8)
	Timeout    uint32       // milliseconds; 0 = interruptible indefinite wait

	// OnComplete is the library's generic transfer completion/cancellation
	// dispatcher (§4.10 step 3's final bullet): invoked with the final
	// TransferStatus once a reap observes a terminal state for this
	// transfer's context.
	OnComplete func(t *Transfer, status TransferStatus)

	Context uint64 // assigned by Submit if left zero

	mu          sync.Mutex
	transferred int
	submittedAt time.Time
}

// Transferred returns the cumulative actual-length reported so far,
// guarded by the per-transfer lock §5 requires.
func (t *Transfer) Transferred() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferred
}

// Handle is a device file descriptor plus a sparse map from endpoint
// address to per-endpoint readiness fd (§3 "Handle (library side)"). The
// control endpoint shares the same fd/queue as every control transfer,
// regardless of direction -- there is exactly one control pipe, matching
// "the control endpoint uses the device fd itself".
type Handle struct {
	devNode string
	engine  *drv.Engine
	bus     hostbus.HostController
	pump    pump.EventPump
	opts    OpenOptions

	observer Observer
	metrics  *Metrics

	nextContext atomic.Uint64

	mu        sync.Mutex
	transfers map[uint64]*Transfer
	keyToFD   map[uapi.EndpointKey]int
	fdToKey   map[int]uapi.EndpointKey
	closed    bool

	// OnDisconnect fires when HandleEvents observes the error bit on any
	// registered fd (§4.10 step 2).
	OnDisconnect func()
}

// Open creates a Handle fronting bus, the already-opened host controller
// for the device named by devNode. There is no loadable UGEN kernel module
// in this reimplementation, so unlike a real caller this package cannot
// derive bus from devNode alone; devNode is retained for naming and log
// context (§6.2), and the caller is responsible for having obtained bus the
// way a real library would have opened /dev/usb<N> (see internal/hostbus).
func Open(devNode string, bus hostbus.HostController, opts OpenOptions) (*Handle, error) {
	if bus == nil {
		return nil, NewError("Open", ErrCodeInvalid, "nil host controller")
	}

	engine := drv.New(bus, drv.Config{DefaultTimeoutMS: opts.DefaultTimeoutMS})

	evPump, err := newEventPump(opts)
	if err != nil {
		return nil, WrapError("Open", err)
	}

	metrics := NewMetrics()
	observer := opts.Observer
	if observer == nil {
		// No observer supplied: default to recording into this Handle's own
		// Metrics, so Handle.Metrics() reports real counts out of the box.
		observer = NewMetricsObserver(metrics)
	}

	h := &Handle{
		devNode:   devNode,
		engine:    engine,
		bus:       bus,
		pump:      evPump,
		opts:      opts,
		observer:  observer,
		metrics:   metrics,
		transfers: make(map[uint64]*Transfer),
		keyToFD:   make(map[uapi.EndpointKey]int),
		fdToKey:   make(map[int]uapi.EndpointKey),
	}

	if err := h.registerEndpoint(controlEndpointKey(ControlAddress), uapi.TransferControl); err != nil {
		_ = evPump.Close()
		return nil, WrapError("Open", err)
	}

	logging.Default().Info("ugen handle opened", "devnode", devNode)
	return h, nil
}

func newEventPump(opts OpenOptions) (pump.EventPump, error) {
	if opts.UseIOUring {
		p, err := pump.NewIOUringPump(opts.IOUringEntries)
		if err == nil {
			return p, nil
		}
		logging.Default().Warn("io_uring pump unavailable, falling back to poll", "err", err)
	}
	return pump.NewPollPump(), nil
}

// controlEndpointKey is the single canonical endpoint key every control
// transfer is submitted under, independent of the transfer's own direction:
// the control pipe is bidirectional but the driver engine's FIFOs are keyed
// per-direction, so library-side control traffic is pinned to the IN slot
// to keep exactly one submit/complete queue pair per the one-fd-per-device
// control model.
func controlEndpointKey(address uint8) uapi.EndpointKey {
	return uapi.EndpointKey{Address: address, Dir: uapi.DirIn}
}

func (h *Handle) registerEndpoint(key uapi.EndpointKey, tt uapi.TransferType) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.keyToFD[key]; ok {
		return nil
	}
	ep, err := h.engine.Endpoint(key, tt)
	if err != nil {
		return err
	}
	fd := ep.ReadFD()
	if err := h.pump.Register(fd); err != nil {
		return err
	}
	h.keyToFD[key] = fd
	h.fdToKey[fd] = key
	return nil
}

func (h *Handle) allocContext() uint64 {
	return h.nextContext.Add(1)
}

func (h *Handle) putTransfer(ctx uint64, t *Transfer) {
	h.mu.Lock()
	h.transfers[ctx] = t
	h.mu.Unlock()
}

func (h *Handle) takeTransfer(ctx uint64) (*Transfer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.transfers[ctx]
	if ok {
		delete(h.transfers, ctx)
	}
	return t, ok
}

func (h *Handle) dropTransfer(ctx uint64) {
	h.mu.Lock()
	delete(h.transfers, ctx)
	h.mu.Unlock()
}

// Submit maps a library Transfer onto DO_REQUEST (async) or, for an
// unattached control transfer, the legacy synchronous REQUEST ioctl (§4.8).
func (h *Handle) Submit(ctx context.Context, t *Transfer) error {
	if t.Type == TransferIsochronous {
		return ErrNotSupported
	}
	if t.Type == TransferInterrupt && t.Dir == DirOut && t.ZeroPacket {
		return ErrNotSupported
	}

	if t.Context == 0 {
		t.Context = h.allocContext()
	}

	var flags uapi.Flags
	if t.Dir == DirIn {
		flags |= uapi.FlagRead
	}
	if t.ShortOK {
		flags |= uapi.FlagShortOK
	}
	if t.ForceShort {
		flags |= uapi.FlagForceShort
	}

	req := &uapi.Request{
		Address: t.Address,
		Setup:   t.Setup,
		Data:    t.Data,
		Flags:   flags,
		Timeout: t.Timeout,
		Context: t.Context,
	}
	if t.Type != TransferControl {
		req.Actlen = int32(len(t.Data))
	}

	key := controlEndpointKey(t.Address)
	if t.Type != TransferControl {
		key = uapi.EndpointKey{Address: t.Address, Dir: t.Dir}
	}
	if err := h.registerEndpoint(key, t.Type); err != nil {
		return WrapError("Submit", err)
	}

	t.mu.Lock()
	t.submittedAt = time.Now()
	t.mu.Unlock()

	if t.Type == TransferControl && !h.opts.attached() {
		// Dual completion-report paths (§9): an unattached control
		// transfer falls back to the synchronous REQUEST ioctl and
		// signals completion eagerly, with no event-pump involvement.
		errnoVal := h.engine.Request(ctx, t.Dir, t.Type, req)
		if errnoVal != 0 {
			return NewErrorWithErrno("Submit", errnoVal)
		}
		status, _ := mapStatus(req.Status)
		t.mu.Lock()
		t.transferred += int(req.Actlen)
		t.mu.Unlock()
		h.observer.ObserveSubmit(0)
		h.observer.ObserveComplete(uint64(req.Actlen), t.Dir == DirIn, 0, completionStatusFromUapi(req.Status))
		if t.OnComplete != nil {
			t.OnComplete(t, status)
		}
		return nil
	}

	h.putTransfer(t.Context, t)
	h.observer.ObserveSubmit(uint32(h.engine.QueueDepth(key)))

	errnoVal := h.engine.DoRequest(ctx, key, t.Type, req)
	if errnoVal != 0 {
		h.dropTransfer(t.Context)
		return NewErrorWithErrno("Submit", errnoVal)
	}
	return nil
}

// Cancel maps a library cancel request onto the CANCEL ioctl (§4.9). Only
// control and bulk transfers may be cancelled; interrupt and isochronous
// transfers are not-supported here, even though Submit accepts interrupt
// transfers.
func (h *Handle) Cancel(t *Transfer) error {
	if t.Type != TransferControl && t.Type != TransferBulk {
		return ErrNotSupported
	}
	key := controlEndpointKey(t.Address)
	if t.Type != TransferControl {
		key = uapi.EndpointKey{Address: t.Address, Dir: t.Dir}
	}
	errnoVal := h.engine.Cancel(key, t.Context)
	if errnoVal != 0 {
		return NewErrorWithErrno("Cancel", errnoVal)
	}
	h.observer.ObserveCancel()
	return nil
}

// Pump waits for one batch of ready descriptors on this Handle's event pump
// and drains them through HandleEvents, for callers that don't want to own
// their own poll loop over the pump (item 7's "external" event pump, folded
// in here for convenience).
func (h *Handle) Pump(ctx context.Context) error {
	ready, err := h.pump.Wait(ctx)
	if err != nil {
		return WrapError("Pump", err)
	}
	return h.HandleEvents(ready)
}

// HandleEvents drains completions for every ready fd (§4.10), the library's
// handle_events entry point called by the external event pump.
func (h *Handle) HandleEvents(ready []pump.ReadyFD) error {
	var errs []error
	for _, r := range ready {
		h.mu.Lock()
		key, ok := h.fdToKey[r.FD]
		h.mu.Unlock()
		if !ok {
			errs = append(errs, NewError("HandleEvents", ErrCodeInvalid, "ready fd matches no open endpoint"))
			continue
		}

		if r.Error {
			h.disconnect()
			continue
		}

		for {
			var out uapi.Request
			errnoVal := h.engine.GetCompleted(key, &out)
			if errnoVal == syscall.EIO {
				break
			}
			if errnoVal != 0 {
				errs = append(errs, NewErrorWithErrno("HandleEvents", errnoVal))
				break
			}

			status, restart := mapStatus(out.Status)
			if restart {
				continue
			}

			tr, ok := h.takeTransfer(out.Context)
			if !ok {
				logging.Default().Warn("completion for unknown context", "context", out.Context)
				continue
			}

			tr.mu.Lock()
			tr.transferred += int(out.Actlen)
			submittedAt := tr.submittedAt
			tr.mu.Unlock()

			var latencyNs uint64
			if !submittedAt.IsZero() {
				latencyNs = uint64(time.Since(submittedAt).Nanoseconds())
			}
			h.observer.ObserveComplete(uint64(out.Actlen), out.Flags&uapi.FlagRead != 0, latencyNs, completionStatusFromUapi(out.Status))

			if tr.OnComplete != nil {
				tr.OnComplete(tr, status)
			}
		}
	}
	return errors.Join(errs...)
}

// disconnect closes every open endpoint and fires OnDisconnect, per §4.10
// step 2's "close all endpoint fds, unregister from pump, fire disconnect".
func (h *Handle) disconnect() {
	h.mu.Lock()
	keys := make([]uapi.EndpointKey, 0, len(h.keyToFD))
	for k := range h.keyToFD {
		keys = append(keys, k)
	}
	h.mu.Unlock()

	for _, k := range keys {
		h.mu.Lock()
		fd := h.keyToFD[k]
		delete(h.keyToFD, k)
		delete(h.fdToKey, fd)
		h.mu.Unlock()

		_ = h.pump.Unregister(fd)
		h.engine.CloseEndpoint(k)
	}

	if h.OnDisconnect != nil {
		h.OnDisconnect()
	}
}

// mapStatus implements §4.10 step 3's status taxonomy. restart is true only
// for the in-progress spurious-wakeup case, which this engine never
// actually produces (GetCompleted only ever pops terminal-state requests),
// but the mapping is kept explicit so the contract stays exact.
func mapStatus(s uapi.Status) (status TransferStatus, restart bool) {
	switch s {
	case uapi.StatusInProgress:
		return 0, true
	case uapi.StatusNormal:
		return StatusCompleted, false
	case uapi.StatusShort:
		return StatusError, false
	case uapi.StatusCancelled:
		return StatusCancelled, false
	case uapi.StatusStalled:
		return StatusStall, false
	default:
		return StatusError, false
	}
}

func completionStatusFromUapi(s uapi.Status) CompletionStatus {
	switch s {
	case uapi.StatusNormal:
		return CompletionNormal
	case uapi.StatusShort:
		return CompletionShort
	case uapi.StatusCancelled:
		return CompletionCancelled
	case uapi.StatusStalled:
		return CompletionStalled
	case uapi.StatusTimeout:
		return CompletionTimeout
	default:
		return CompletionIOError
	}
}

// SetTimeout is SET_TIMEOUT (§4.6) passed through to the driver engine.
func (h *Handle) SetTimeout(address uint8, ms uint32) error {
	if errnoVal := h.engine.SetTimeout(address, ms); errnoVal != 0 {
		return NewErrorWithErrno("SetTimeout", errnoVal)
	}
	return nil
}

// SetShortXfer is SET_SHORT_XFER (§4.6) passed through to the driver engine.
func (h *Handle) SetShortXfer(address uint8, enable bool) error {
	if errnoVal := h.engine.SetShortXfer(address, enable); errnoVal != 0 {
		return NewErrorWithErrno("SetShortXfer", errnoVal)
	}
	return nil
}

// Metrics returns a snapshot of this Handle's transfer-subsystem counters.
func (h *Handle) Metrics() MetricsSnapshot {
	return h.metrics.Snapshot()
}

// Close tears down every endpoint and releases the host controller.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.metrics.Stop()
	_ = h.pump.Close()
	if err := h.engine.Close(); err != nil {
		return WrapError("Close", err)
	}
	logging.Default().Info("ugen handle closed", "devnode", h.devNode)
	return nil
}
