package errno

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToErrnoTable(t *testing.T) {
	cases := []struct {
		code  Code
		errno syscall.Errno
	}{
		{Invalid, syscall.EINVAL},
		{NoMemory, syscall.ENOMEM},
		{IOError, syscall.EIO},
		{Cancelled, syscall.ECANCELED},
		{Stall, syscall.EPIPE},
		{Timeout, syscall.ETIMEDOUT},
		{NotSupported, syscall.EOPNOTSUPP},
		{NoDevice, syscall.ENOENT},
		{Access, syscall.EACCES},
	}
	for _, c := range cases {
		require.Equal(t, c.errno, c.code.ToErrno())
	}
}

func TestFromErrnoDictionary(t *testing.T) {
	require.Equal(t, IOError, FromErrno(syscall.EIO))
	require.Equal(t, Access, FromErrno(syscall.EACCES))
	require.Equal(t, NoDevice, FromErrno(syscall.ENOENT))
	require.Equal(t, NoMemory, FromErrno(syscall.ENOMEM))
	require.Equal(t, Timeout, FromErrno(syscall.ETIMEDOUT))
	require.Equal(t, IOError, FromErrno(syscall.EFAULT), "unmapped errno falls back to io-error")
}

func TestCodeString(t *testing.T) {
	require.Equal(t, "stall", Stall.String())
	require.Equal(t, "unknown", Code(99).String())
}
