package devpath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBus(t *testing.T) {
	require.Equal(t, "/dev/usb0", Bus(0))
	require.Equal(t, "/dev/usb7", Bus(7))
}

func TestControlAndEndpoint(t *testing.T) {
	name := DeviceName(3)
	require.Equal(t, "ugen3", name)
	require.Equal(t, "/dev/ugen3.00", Control(name))
	require.Equal(t, "/dev/ugen3.01", Endpoint(name, 1))
	require.Equal(t, "/dev/ugen3.15", Endpoint(name, 15))
}
