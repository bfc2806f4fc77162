//go:build cgo

package hostbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gousb"
	"github.com/ugen-project/ugen/internal/uapi"
)

// GousbController is the real bus adaptor, backed by libusb through
// google/gousb (gousb.Context, OpenDeviceWithVIDPID, Config, Interface,
// In/OutEndpoint). Each Submit runs the blocking libusb call on
// its own goroutine so it never blocks the caller, invoking onComplete when
// the call returns -- matching spec §9's "submit-now, reap-later" model at
// the bus boundary.
type GousbController struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	mu     sync.Mutex
	nextID uint64
	active map[uint64]context.CancelFunc
}

// OpenGousb opens the device at vid:pid, claims configuration 1, interface
// 0, and returns a ready GousbController.
func OpenGousb(vid, pid gousb.ID) (*GousbController, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	if dev == nil {
		ctx.Close()
		return nil, ErrNoDevice
	}
	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, err
	}
	return &GousbController{
		ctx:    ctx,
		dev:    dev,
		cfg:    cfg,
		intf:   intf,
		active: make(map[uint64]context.CancelFunc),
	}, nil
}

func (g *GousbController) Submit(parent context.Context, x *Transfer, onComplete CompletionFunc) (*Handle, error) {
	ctx, cancel := context.WithCancel(parent)
	if x.Timeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, time.Duration(x.Timeout)*time.Millisecond)
		orig := cancel
		cancel = func() { tcancel(); orig() }
	}

	id := atomic.AddUint64(&g.nextID, 1)
	g.mu.Lock()
	g.active[id] = cancel
	g.mu.Unlock()

	go func() {
		defer func() {
			g.mu.Lock()
			delete(g.active, id)
			g.mu.Unlock()
			cancel()
		}()

		var n int
		var err error
		switch x.Type {
		case uapi.TransferControl:
			n, err = g.dev.Control(x.Setup.RequestType, x.Setup.Request, x.Setup.Value, x.Setup.Index, x.Data)
		case uapi.TransferBulk, uapi.TransferInterrupt:
			if x.Dir == uapi.DirIn {
				ep, eperr := g.intf.InEndpoint(int(x.Address))
				if eperr != nil {
					onComplete(uapi.StatusIOError, 0)
					return
				}
				n, err = ep.ReadContext(ctx, x.Data)
			} else {
				ep, eperr := g.intf.OutEndpoint(int(x.Address))
				if eperr != nil {
					onComplete(uapi.StatusIOError, 0)
					return
				}
				n, err = ep.WriteContext(ctx, x.Data)
			}
		default:
			onComplete(uapi.StatusIOError, 0)
			return
		}

		switch {
		case err == nil:
			onComplete(x.ShortStatus(n), n)
		case ctx.Err() == context.Canceled:
			onComplete(uapi.StatusCancelled, n)
		case ctx.Err() == context.DeadlineExceeded:
			onComplete(uapi.StatusTimeout, n)
		default:
			onComplete(uapi.StatusIOError, n)
		}
	}()

	return &Handle{id: id}, nil
}

func (g *GousbController) Abort(h *Handle) error {
	g.mu.Lock()
	cancel, ok := g.active[h.id]
	g.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	cancel()
	return nil
}

func (g *GousbController) ClearHalt(address uint8, dir uapi.Dir) error {
	reqType := uint8(0x02) // host-to-device, standard, endpoint recipient
	ep := address
	if dir == uapi.DirIn {
		ep |= 0x80
	}
	_, err := g.dev.Control(reqType, 0x01 /* CLEAR_FEATURE */, 0 /* ENDPOINT_HALT */, uint16(ep), nil)
	return err
}

func (g *GousbController) Close() error {
	g.intf.Close()
	g.cfg.Close()
	g.dev.Close()
	g.ctx.Close()
	return nil
}

// busError is a sentinel error type local to this adaptor.
type busError string

func (e busError) Error() string { return string(e) }

const (
	ErrNoDevice      busError = "hostbus: device not found"
	ErrUnknownHandle busError = "hostbus: unknown transfer handle"
)
