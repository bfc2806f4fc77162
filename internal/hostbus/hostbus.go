// Package hostbus abstracts the USB host controller the driver engine
// submits transfers to, so internal/drv can run against a real bus or a
// scriptable fake without knowing which.
package hostbus

import (
	"context"

	"github.com/ugen-project/ugen/internal/uapi"
)

// Transfer describes one bus-level USB transfer request, the data the
// driver engine hands to a HostController.
type Transfer struct {
	Address uint8
	Dir     uapi.Dir
	Type    uapi.TransferType
	Setup   uapi.SetupPacket
	Data    []byte // shared buffer; written into for reads, read from for writes
	Flags   uapi.Flags
	Timeout uint32 // milliseconds, 0 = indefinite
}

// ShortStatus resolves the terminal status for a completed read of n bytes
// against the full buffer length, honoring short-ok/force-short (§4.6,
// §4.8): fewer bytes than requested is only a success if short transfers are
// tolerated, and force-short additionally turns a full read into a short one.
func (x *Transfer) ShortStatus(n int) uapi.Status {
	if x.Dir != uapi.DirIn {
		return uapi.StatusNormal
	}
	switch {
	case n < len(x.Data):
		if x.Flags&uapi.FlagShortOK != 0 {
			return uapi.StatusShort
		}
		return uapi.StatusIOError
	case x.Flags&uapi.FlagForceShort != 0:
		return uapi.StatusShort
	default:
		return uapi.StatusNormal
	}
}

// CompletionFunc is invoked exactly once per submitted Transfer, either
// when the bus finishes it or when Abort causes it to unwind. actual is the
// number of bytes the bus moved.
type CompletionFunc func(status uapi.Status, actual int)

// Handle is an opaque reference to one in-flight Transfer, used only to
// Abort it.
type Handle struct {
	id uint64
}

// NewHandle wraps an implementation-chosen id into a Handle. Exported so
// HostController implementations outside this package (e.g. simbus) can
// construct one.
func NewHandle(id uint64) *Handle { return &Handle{id: id} }

// ID returns the implementation-chosen id a Handle wraps.
func (h *Handle) ID() uint64 { return h.id }

// HostController is the abstract USB bus a driver endpoint submits
// transfers to. Submit never blocks past the point of handing the transfer
// to the bus; onComplete is always invoked asynchronously, even for buses
// that happen to complete synchronously under the hood, so internal/drv
// never has to special-case who is calling it back.
type HostController interface {
	// Submit hands x to the bus. onComplete fires exactly once.
	Submit(ctx context.Context, x *Transfer, onComplete CompletionFunc) (*Handle, error)

	// Abort requests cancellation of the transfer named by h. The
	// eventual onComplete call reports StatusCancelled; Abort itself
	// never invokes onComplete directly.
	Abort(h *Handle) error

	// ClearHalt issues a one-shot stall-clear control request on the
	// given (address, direction), used by the bulk reap path (spec §7).
	ClearHalt(address uint8, dir uapi.Dir) error

	// Close releases bus resources (device handle, context).
	Close() error
}
