package uapi

import (
	"encoding/binary"
)

// wireSetupSize is the on-wire size of a SetupPacket: 1+1+2+2+2 bytes.
const wireSetupSize = 8

// MarshalSetupAsync encodes a SetupPacket little-endian, as required for the
// asynchronous DO_REQUEST/GET_COMPLETED/CANCEL path (§6.1, §9 Open Question
// 3): the library already converts host-to-LE before submit, so the driver
// must not byteswap a second time. This function is the only place that
// produces that encoding, so a caller cannot accidentally feed it through
// the native-order path below.
func MarshalSetupAsync(s *SetupPacket) []byte {
	buf := make([]byte, wireSetupSize)
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:4], s.Value)
	binary.LittleEndian.PutUint16(buf[4:6], s.Index)
	binary.LittleEndian.PutUint16(buf[6:8], s.Length)
	return buf
}

// UnmarshalSetupAsync decodes a little-endian wire SetupPacket.
func UnmarshalSetupAsync(data []byte) (SetupPacket, error) {
	if len(data) < wireSetupSize {
		return SetupPacket{}, ErrInsufficientData
	}
	return SetupPacket{
		RequestType: data[0],
		Request:     data[1],
		Value:       binary.LittleEndian.Uint16(data[2:4]),
		Index:       binary.LittleEndian.Uint16(data[4:6]),
		Length:      binary.LittleEndian.Uint16(data[6:8]),
	}, nil
}

// MarshalSetupSync encodes a SetupPacket in the host's native byte order, for
// the legacy synchronous REQUEST ioctl (§6.1: "uses native byte order by
// convention"). Kept as a distinct function from MarshalSetupAsync rather
// than a shared one with a direction flag, so the endianness contract stays
// explicit at the ioctl boundary instead of depending on a caller-supplied
// bool.
func MarshalSetupSync(s *SetupPacket) []byte {
	buf := make([]byte, wireSetupSize)
	order := nativeByteOrder()
	buf[0] = s.RequestType
	buf[1] = s.Request
	order.PutUint16(buf[2:4], s.Value)
	order.PutUint16(buf[4:6], s.Index)
	order.PutUint16(buf[6:8], s.Length)
	return buf
}

// UnmarshalSetupSync decodes a native-byte-order wire SetupPacket.
func UnmarshalSetupSync(data []byte) (SetupPacket, error) {
	if len(data) < wireSetupSize {
		return SetupPacket{}, ErrInsufficientData
	}
	order := nativeByteOrder()
	return SetupPacket{
		RequestType: data[0],
		Request:     data[1],
		Value:       order.Uint16(data[2:4]),
		Index:       order.Uint16(data[4:6]),
		Length:      order.Uint16(data[6:8]),
	}, nil
}

// nativeByteOrder returns the host's byte order. x86/ARM/RISC-V are all
// little-endian in practice for every platform this module targets, so the
// "native" and "async" encodings are identical today; the split exists so
// that porting to a big-endian host only requires changing this function,
// not auditing every ioctl call site for which convention it assumed.
func nativeByteOrder() binary.ByteOrder {
	return binary.LittleEndian
}

// MarshalError reports a malformed wire payload.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling"
)
