package ugen

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ugen-project/ugen/internal/pump"
	"github.com/ugen-project/ugen/internal/uapi"
)

func newTestHandle(t *testing.T, opts OpenOptions) (*Handle, *MockHostController) {
	t.Helper()
	bus := NewMockHostController()
	h, err := Open("/dev/usb0", bus, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h, bus
}

// pumpUntil drives the event pump in a tight loop, handing each ready set to
// HandleEvents, until done reports true or the overall deadline elapses.
func pumpUntil(t *testing.T, h *Handle, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if done() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		ready, err := h.pump.Wait(ctx)
		cancel()
		if err != nil {
			continue
		}
		require.NoError(t, h.HandleEvents(ready))
	}
	require.True(t, done(), "pumpUntil: condition never became true")
}

// scenario 1 analogue: synchronous control GET_STATUS against an
// unattached device node.
func TestSubmit_SynchronousControlFallback(t *testing.T) {
	opts := DefaultOpenOptions()
	opts.Attached = false
	h, bus := newTestHandle(t, opts)
	bus.Script(ControlAddress, DirIn, MockOutcome{Status: BusStatusNormal, Data: []byte{0x01, 0x00}})

	done := make(chan TransferStatus, 1)
	tr := &Transfer{
		Address: ControlAddress,
		Dir:     DirIn,
		Type:    TransferControl,
		Setup:   SetupPacket{Request: uapi.ReqGetStatus, Length: 2},
		Data:    make([]byte, 2),
		OnComplete: func(t *Transfer, status TransferStatus) {
			done <- status
		},
	}
	require.NoError(t, h.Submit(context.Background(), tr))

	select {
	case status := <-done:
		require.Equal(t, StatusCompleted, status)
	case <-time.After(time.Second):
		t.Fatal("synchronous control transfer never completed")
	}
	require.Equal(t, 2, tr.Transferred())
	require.Equal(t, []byte{0x01, 0x00}, tr.Data)
}

// scenario 2: asynchronous control GET_STATUS, reaped through the event pump.
func TestSubmit_AsyncControlReapedThroughEventPump(t *testing.T) {
	h, bus := newTestHandle(t, DefaultOpenOptions())
	bus.Script(ControlAddress, DirIn, MockOutcome{Status: BusStatusNormal, Data: []byte{0x01, 0x00}})

	done := make(chan TransferStatus, 1)
	tr := &Transfer{
		Address: ControlAddress,
		Dir:     DirIn,
		Type:    TransferControl,
		Setup:   SetupPacket{Request: uapi.ReqGetStatus, Length: 2},
		Data:    make([]byte, 2),
		OnComplete: func(t *Transfer, status TransferStatus) {
			done <- status
		},
	}
	require.NoError(t, h.Submit(context.Background(), tr))

	pumpUntil(t, h, func() bool { return len(done) > 0 })

	select {
	case status := <-done:
		require.Equal(t, StatusCompleted, status)
	default:
		t.Fatal("completion was not dispatched by HandleEvents")
	}
	require.Equal(t, []byte{0x01, 0x00}, tr.Data)
}

// scenario 3: bulk IN that stalls, followed by a successful clear-halt.
func TestSubmit_BulkStallReapedAsStall(t *testing.T) {
	h, bus := newTestHandle(t, DefaultOpenOptions())
	bus.Script(5, DirIn, MockOutcome{Status: BusStatusStalled})

	done := make(chan TransferStatus, 1)
	tr := &Transfer{
		Address: 5,
		Dir:     DirIn,
		Type:    TransferBulk,
		Data:    make([]byte, 8),
		OnComplete: func(t *Transfer, status TransferStatus) {
			done <- status
		},
	}
	require.NoError(t, h.Submit(context.Background(), tr))
	pumpUntil(t, h, func() bool { return len(done) > 0 })

	select {
	case status := <-done:
		require.Equal(t, StatusStall, status)
	default:
		t.Fatal("stall completion was not dispatched")
	}
	require.Equal(t, 1, bus.ClearHaltCalls())
}

// scenario 4: three concurrent bulk IN transfers complete in submission order.
func TestSubmit_ConcurrentBulkReadsCompleteInOrder(t *testing.T) {
	h, bus := newTestHandle(t, DefaultOpenOptions())
	bus.Script(6, DirIn,
		MockOutcome{Status: BusStatusNormal, Data: []byte{1}},
		MockOutcome{Status: BusStatusNormal, Data: []byte{2}},
		MockOutcome{Status: BusStatusNormal, Data: []byte{3}},
	)

	var mu sync.Mutex
	var order []uint64
	done := make(chan struct{}, 3)

	for i := 0; i < 3; i++ {
		tr := &Transfer{
			Address: 6,
			Dir:     DirIn,
			Type:    TransferBulk,
			Data:    make([]byte, 1),
			OnComplete: func(t *Transfer, status TransferStatus) {
				mu.Lock()
				order = append(order, t.Context)
				mu.Unlock()
				done <- struct{}{}
			},
		}
		require.NoError(t, h.Submit(context.Background(), tr))
	}

	pumpUntil(t, h, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("not all completions arrived")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.True(t, order[0] < order[1] && order[1] < order[2], "completions out of submission order: %v", order)
}

// a bulk IN that returns fewer bytes than requested, with the transfer
// marked short-ok, delivers the partial data; §4.10 step 3
// maps a bus-level short completion to the library's "error" taxonomy
// entry regardless of short-ok, so the event-pump path below asserts that
// instead of StatusCompleted.
func TestSubmit_BulkShortReadReportsErrorWithPartialData(t *testing.T) {
	h, bus := newTestHandle(t, DefaultOpenOptions())
	bus.Script(12, DirIn, MockOutcome{Status: BusStatusNormal, Data: []byte{0xaa, 0xbb}})

	done := make(chan TransferStatus, 1)
	tr := &Transfer{
		Address: 12,
		Dir:     DirIn,
		Type:    TransferBulk,
		Data:    make([]byte, 8),
		ShortOK: true,
		OnComplete: func(t *Transfer, status TransferStatus) {
			done <- status
		},
	}
	require.NoError(t, h.Submit(context.Background(), tr))
	pumpUntil(t, h, func() bool { return len(done) > 0 })

	select {
	case status := <-done:
		require.Equal(t, StatusError, status)
	default:
		t.Fatal("short-read completion was not dispatched")
	}
	require.Equal(t, 2, tr.Transferred())
	require.Equal(t, []byte{0xaa, 0xbb}, tr.Data[:2])
}

// the same short read without ShortOK set is a driver-side refusal: no
// partial data, reported the same as any other io error.
func TestSubmit_BulkShortReadWithoutShortOKIsIOError(t *testing.T) {
	h, bus := newTestHandle(t, DefaultOpenOptions())
	bus.Script(13, DirIn, MockOutcome{Status: BusStatusNormal, Data: []byte{0xaa, 0xbb}})

	done := make(chan TransferStatus, 1)
	tr := &Transfer{
		Address: 13,
		Dir:     DirIn,
		Type:    TransferBulk,
		Data:    make([]byte, 8),
		OnComplete: func(t *Transfer, status TransferStatus) {
			done <- status
		},
	}
	require.NoError(t, h.Submit(context.Background(), tr))
	pumpUntil(t, h, func() bool { return len(done) > 0 })

	select {
	case status := <-done:
		require.Equal(t, StatusError, status)
	default:
		t.Fatal("io-error completion was not dispatched")
	}
	require.Equal(t, 0, tr.Transferred())
}

// scenario 6: cancel a bulk transfer before it completes.
func TestCancel_BulkBeforeCompletion(t *testing.T) {
	h, bus := newTestHandle(t, DefaultOpenOptions())
	bus.Script(7, DirIn, MockOutcome{Hang: true})

	done := make(chan TransferStatus, 1)
	tr := &Transfer{
		Address: 7,
		Dir:     DirIn,
		Type:    TransferBulk,
		Data:    make([]byte, 4),
		OnComplete: func(t *Transfer, status TransferStatus) {
			done <- status
		},
	}
	require.NoError(t, h.Submit(context.Background(), tr))
	require.NoError(t, h.Cancel(tr))

	pumpUntil(t, h, func() bool { return len(done) > 0 })

	select {
	case status := <-done:
		require.Equal(t, StatusCancelled, status)
	default:
		t.Fatal("cancellation was not dispatched")
	}
	require.Equal(t, 0, tr.Transferred())
}

func TestSubmit_IsochronousNotSupported(t *testing.T) {
	h, _ := newTestHandle(t, DefaultOpenOptions())
	tr := &Transfer{Address: 1, Dir: DirIn, Type: TransferIsochronous}
	err := h.Submit(context.Background(), tr)
	require.ErrorIs(t, err, ErrNotSupported)
}

func TestCancel_InterruptNotSupported(t *testing.T) {
	h, _ := newTestHandle(t, DefaultOpenOptions())
	tr := &Transfer{Address: 1, Dir: DirIn, Type: TransferInterrupt, Context: 1}
	err := h.Cancel(tr)
	require.ErrorIs(t, err, ErrNotSupported)
}

func TestHandleEvents_DisconnectFiresOnErrorBit(t *testing.T) {
	h, _ := newTestHandle(t, DefaultOpenOptions())
	fired := make(chan struct{}, 1)
	h.OnDisconnect = func() { fired <- struct{}{} }

	var controlFD int
	h.mu.Lock()
	for fd, key := range h.fdToKey {
		if key == controlEndpointKey(ControlAddress) {
			controlFD = fd
		}
	}
	h.mu.Unlock()
	require.NotZero(t, controlFD)

	err := h.HandleEvents([]pump.ReadyFD{{FD: controlFD, Error: true}})
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("OnDisconnect was not invoked")
	}
}
