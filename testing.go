package ugen

import (
	"github.com/ugen-project/ugen/internal/hostbus/simbus"
	"github.com/ugen-project/ugen/internal/uapi"
)

// MockOutcome scripts how the next transfer on a given endpoint resolves,
// mirroring internal/hostbus/simbus.Outcome with a public-facing type so
// consumers of this module can script a MockHostController without
// importing an internal package.
type MockOutcome struct {
	Status BusStatus
	Data   []byte // bytes "returned by the device" for a read
	Actual int    // bytes accepted, for a write; for a read, used only when Data is empty
	Hang   bool   // if true, the transfer never completes until Cancel
}

// MockHostController is a scriptable, in-memory hostbus.HostController for
// testing code built on this package.
type MockHostController struct {
	*simbus.Controller
}

// NewMockHostController returns an empty MockHostController; call Script
// before submitting any transfer whose outcome matters.
func NewMockHostController() *MockHostController {
	return &MockHostController{Controller: simbus.NewController()}
}

// Script appends outcomes to the queue consumed by successive transfers on
// the given (address, direction) endpoint, in FIFO order.
func (m *MockHostController) Script(address uint8, dir Dir, outcomes ...MockOutcome) {
	key := uapi.EndpointKey{Address: address, Dir: dir}
	converted := make([]simbus.Outcome, len(outcomes))
	for i, o := range outcomes {
		converted[i] = simbus.Outcome{Status: o.Status, Data: o.Data, Actual: o.Actual, Hang: o.Hang}
	}
	m.Controller.Script(key, converted...)
}

// ClearHaltCalls reports how many times ClearHalt was invoked, for
// asserting the one-shot bulk stall-recovery path.
func (m *MockHostController) ClearHaltCalls() int {
	return m.Controller.ClearHaltCalls()
}
