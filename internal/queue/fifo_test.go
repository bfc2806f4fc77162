package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ugen-project/ugen/internal/uapi"
)

func req(ctx uint64) *uapi.KernelRequest {
	return &uapi.KernelRequest{Request: uapi.Request{Context: ctx}}
}

func TestFIFOOrderPreserved(t *testing.T) {
	f := NewFIFO()
	f.PushBack(req(1))
	f.PushBack(req(2))
	f.PushBack(req(3))
	require.Equal(t, 3, f.Len())

	k, ok := f.PopFront()
	require.True(t, ok)
	require.Equal(t, uint64(1), k.Context)

	k, ok = f.PopFront()
	require.True(t, ok)
	require.Equal(t, uint64(2), k.Context)
}

func TestFIFOPopFrontEmpty(t *testing.T) {
	f := NewFIFO()
	_, ok := f.PopFront()
	require.False(t, ok)
}

func TestFIFORemoveByContext(t *testing.T) {
	f := NewFIFO()
	f.PushBack(req(1))
	f.PushBack(req(2))
	f.PushBack(req(3))

	k, ok := f.RemoveByContext(2)
	require.True(t, ok)
	require.Equal(t, uint64(2), k.Context)
	require.Equal(t, 2, f.Len())

	_, ok = f.RemoveByContext(2)
	require.False(t, ok, "removing an unknown context must not mutate the queue")
	require.Equal(t, 2, f.Len())
}

func TestFIFODrainAll(t *testing.T) {
	f := NewFIFO()
	f.PushBack(req(1))
	f.PushBack(req(2))

	all := f.DrainAll()
	require.Len(t, all, 2)
	require.Equal(t, 0, f.Len())
}
