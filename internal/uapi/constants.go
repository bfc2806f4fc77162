// Package uapi provides the wire-level Request layout and ioctl surface
// shared between the driver engine and the library engine.
package uapi

// ioctl encoding constants, following the Linux _IOC() direction/type/nr/size
// bit layout.
const (
	iocWrite     = 1
	iocRead      = 2
	iocSizeBits  = 14
	iocDirBits   = 2
	iocTypeBits  = 8
	iocNrBits    = 8
	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

// ioctlEncode mirrors the kernel's _IOC() macro.
func ioctlEncode(dir, typ, nr, size uint32) uint32 {
	return (dir << iocDirShift) |
		(size << iocSizeShift) |
		(typ << iocTypeShift) |
		(nr << iocNrShift)
}

// ugenIoctlType is the ioctl "type" byte UGEN registers under.
const ugenIoctlType = 'U'

// ioctl command numbers (§6.1). Sizes are placeholders for the marshaled
// Request payload; the real argument is always a pointer, matching how the
// kernel ioctl ABI treats variable-length payloads.
const (
	nrDoRequest    = 1
	nrGetCompleted = 2
	nrCancel       = 3
	nrSetTimeout   = 4
	nrSetShortXfer = 5
	nrRequest      = 6 // legacy synchronous path, native byte order
)

// Ioctl command numbers, computed once at init rather than hand-encoded.
var (
	IoctlDoRequest    = ioctlEncode(iocRead|iocWrite, ugenIoctlType, nrDoRequest, 0)
	IoctlGetCompleted = ioctlEncode(iocRead|iocWrite, ugenIoctlType, nrGetCompleted, 0)
	IoctlCancel       = ioctlEncode(iocWrite, ugenIoctlType, nrCancel, 0)
	IoctlSetTimeout   = ioctlEncode(iocWrite, ugenIoctlType, nrSetTimeout, 4)
	IoctlSetShortXfer = ioctlEncode(iocWrite, ugenIoctlType, nrSetShortXfer, 4)
	IoctlRequest      = ioctlEncode(iocRead|iocWrite, ugenIoctlType, nrRequest, 0)
)

// Control transfer length bounds (§4.1 step 2).
const (
	MaxControlLength = 32767
)
