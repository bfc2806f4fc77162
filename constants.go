package ugen

import "time"

// OpenOptions configures a Handle at Open time, defaulted via Default*().
type OpenOptions struct {
	// DefaultTimeoutMS seeds every endpoint's SET_TIMEOUT default (0 means
	// interruptible indefinite wait, §5).
	DefaultTimeoutMS uint32

	// UseIOUring opts into the giouring-backed EventPump instead of the
	// portable unix.Poll one. Ignored on non-Linux hosts.
	UseIOUring bool

	// IOUringEntries sizes the io_uring submission queue when UseIOUring is
	// set.
	IOUringEntries uint32

	// Observer receives per-operation metrics callbacks. Nil (the default)
	// means Open wires up a MetricsObserver over the Handle's own Metrics,
	// so Handle.Metrics() reports real counts without any setup; pass
	// NoOpObserver{} explicitly to disable metrics collection entirely.
	Observer Observer

	// PollInterval bounds how long HandleEvents' caller should wait between
	// Wait() calls when driving the event pump manually; advisory only, not
	// enforced by this package.
	PollInterval time.Duration

	// Attached reports whether a driver node is already attached to the
	// device (§4.8/§9's "dual completion-report paths"). When false,
	// control transfers fall back to the synchronous legacy REQUEST ioctl
	// and signal completion eagerly instead of going through DO_REQUEST and
	// the event pump. Defaults to true: the common case for this package is
	// talking to an already-open device node.
	Attached bool
}

func (o OpenOptions) attached() bool { return o.Attached }

// DefaultOpenOptions returns the library engine's defaults: no timeout, the
// portable poll-based pump, a driver node already attached, built-in metrics
// collection (Observer left nil).
func DefaultOpenOptions() OpenOptions {
	return OpenOptions{
		DefaultTimeoutMS: 0,
		UseIOUring:       false,
		IOUringEntries:   32,
		PollInterval:     250 * time.Millisecond,
		Attached:         true,
	}
}
