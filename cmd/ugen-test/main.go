// Command ugen-test is a smoke-test harness for a ugen handle: it opens a
// device node and runs one synchronous and one asynchronous control
// GET-STATUS transfer against it, in sequence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	ugen "github.com/ugen-project/ugen"
	"github.com/ugen-project/ugen/internal/logging"
	"github.com/ugen-project/ugen/internal/uapi"
)

func main() {
	devnode := flag.String("d", "", "target device node (e.g. /dev/ugen0.00)")
	flag.Parse()

	if *devnode == "" {
		fmt.Fprintln(os.Stderr, "usage: ugen-test -d <devnode>")
		os.Exit(1)
	}

	logger := logging.Default()

	bus := ugen.NewMockHostController()
	bus.Script(ugen.ControlAddress, ugen.DirIn,
		ugen.MockOutcome{Status: ugen.BusStatusNormal, Data: []byte{0x01, 0x00}},
		ugen.MockOutcome{Status: ugen.BusStatusNormal, Data: []byte{0x01, 0x00}},
	)

	if err := runSync(*devnode, bus, logger); err != nil {
		logger.Error("synchronous GET-STATUS failed", "err", err)
		os.Exit(1)
	}
	logger.Info("synchronous GET-STATUS ok")

	if err := runAsync(*devnode, bus, logger); err != nil {
		logger.Error("asynchronous GET-STATUS failed", "err", err)
		os.Exit(1)
	}
	logger.Info("asynchronous GET-STATUS ok")

	fmt.Println("ugen-test: all transfers completed")
	os.Exit(0)
}

func runSync(devnode string, bus *ugen.MockHostController, logger *logging.Logger) error {
	opts := ugen.DefaultOpenOptions()
	opts.Attached = false

	h, err := ugen.Open(devnode, bus, opts)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer h.Close()

	done := make(chan ugen.TransferStatus, 1)
	tr := &ugen.Transfer{
		Address: ugen.ControlAddress,
		Dir:     ugen.DirIn,
		Type:    ugen.TransferControl,
		Setup:   uapi.SetupPacket{RequestType: uapi.RequestTypeDirIn, Request: uapi.ReqGetStatus, Length: 2},
		Data:    make([]byte, 2),
		OnComplete: func(t *ugen.Transfer, status ugen.TransferStatus) {
			done <- status
		},
	}
	if err := h.Submit(context.Background(), tr); err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	status := <-done
	if status != ugen.StatusCompleted {
		return fmt.Errorf("unexpected status: %v", status)
	}
	return nil
}

func runAsync(devnode string, bus *ugen.MockHostController, logger *logging.Logger) error {
	opts := ugen.DefaultOpenOptions()

	h, err := ugen.Open(devnode, bus, opts)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer h.Close()

	done := make(chan ugen.TransferStatus, 1)
	tr := &ugen.Transfer{
		Address: ugen.ControlAddress,
		Dir:     ugen.DirIn,
		Type:    ugen.TransferControl,
		Setup:   uapi.SetupPacket{RequestType: uapi.RequestTypeDirIn, Request: uapi.ReqGetStatus, Length: 2},
		Data:    make([]byte, 2),
		OnComplete: func(t *ugen.Transfer, status ugen.TransferStatus) {
			done <- status
		},
	}
	if err := h.Submit(context.Background(), tr); err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case status := <-done:
			if status != ugen.StatusCompleted {
				return fmt.Errorf("unexpected status: %v", status)
			}
			return nil
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		err := h.Pump(ctx)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("Pump reported errors", "err", err)
		}
	}
	return fmt.Errorf("timed out waiting for completion")
}
