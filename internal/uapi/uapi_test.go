package uapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRoundTripAsync(t *testing.T) {
	s := SetupPacket{RequestType: RequestTypeDirIn, Request: ReqGetStatus, Value: 0, Index: 0, Length: 2}
	buf := MarshalSetupAsync(&s)
	require.Len(t, buf, wireSetupSize)

	got, err := UnmarshalSetupAsync(buf)
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestSetupRoundTripSync(t *testing.T) {
	s := SetupPacket{RequestType: 0x00, Request: ReqSetConfig, Value: 1, Index: 0, Length: 0}
	buf := MarshalSetupSync(&s)
	got, err := UnmarshalSetupSync(buf)
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestUnmarshalSetupTooShort(t *testing.T) {
	_, err := UnmarshalSetupAsync([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "cancelled", StatusCancelled.String())
	require.Equal(t, "unknown", Status(99).String())
}

func TestIoctlNumbersDistinct(t *testing.T) {
	seen := map[uint32]string{
		IoctlDoRequest:    "DoRequest",
		IoctlGetCompleted: "GetCompleted",
		IoctlCancel:       "Cancel",
		IoctlSetTimeout:   "SetTimeout",
		IoctlSetShortXfer: "SetShortXfer",
		IoctlRequest:      "Request",
	}
	require.Len(t, seen, 6, "ioctl numbers must be pairwise distinct")
}
