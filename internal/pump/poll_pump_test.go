package pump

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPollPump_ReportsReadableFD(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	p := NewPollPump()
	require.NoError(t, p.Register(fds[0]))

	_, err := unix.Write(fds[1], []byte{1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ready, err := p.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, fds[0], ready[0].FD)
	require.True(t, ready[0].Readable)
	require.False(t, ready[0].Error)
}

func TestPollPump_UnregisterStopsReporting(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	p := NewPollPump()
	require.NoError(t, p.Register(fds[0]))
	require.NoError(t, p.Unregister(fds[0]))

	_, err := unix.Write(fds[1], []byte{1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err = p.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
