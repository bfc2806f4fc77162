// Package devpath builds the bus-node and device-node paths UGEN exposes
// under /dev from a numeric bus or device identifier.
package devpath

import "fmt"

// MaxBuses is the number of bus nodes the host exposes (§2: "/dev/usb<N> for
// N in [0,8)").
const MaxBuses = 8

// Bus returns the bus-node path for bus index n, e.g. "/dev/usb0". The
// caller is responsible for checking n is in [0, MaxBuses).
func Bus(n int) string {
	return fmt.Sprintf("/dev/usb%d", n)
}

// Control returns the control-endpoint node path for a device, e.g.
// "/dev/ugen0.00".
func Control(devname string) string {
	return fmt.Sprintf("/dev/%s.00", devname)
}

// Endpoint returns the node path for one non-control endpoint of a device,
// e.g. "/dev/ugen0.01" for endpoint 1. ep must be in [1, 16).
func Endpoint(devname string, ep int) string {
	return fmt.Sprintf("/dev/%s.%02d", devname, ep)
}

// DeviceName formats the conventional "ugen<unit>" device name from a unit
// number.
func DeviceName(unit int) string {
	return fmt.Sprintf("ugen%d", unit)
}
