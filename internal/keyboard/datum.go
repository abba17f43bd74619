package keyboard

import "encoding/binary"

// Intercept categories (XRecordInterceptData.category).
const (
	recordFromServer    = 0
	recordFromClient    = 1
	recordClientStarted = 2
	recordClientDied    = 3
	recordStartOfData   = 4
	recordEndOfData     = 5
)

// Core protocol event codes.
const (
	xKeyPress   = 2
	xKeyRelease = 3
)

// eventHeaderSize is the size of a wire xEvent. Shorter payloads cannot hold
// a key event and are dropped.
const eventHeaderSize = 32

// keyEventHeader is the fixed prefix of a recorded KeyPress/KeyRelease.
// Only Type and Code drive the table; the remaining fields are decoded for
// diagnostics.
type keyEventHeader struct {
	Type       uint8
	Code       uint8
	Sequence   uint16
	Time       uint32
	Root       uint32
	Event      uint32
	Child      uint32
	RootX      int16
	RootY      int16
	EventX     int16
	EventY     int16
	State      uint16
	SameScreen bool
}

// decodeKeyEvent parses one intercepted payload. It reports false for
// anything that is not a key press or release forwarded from the server;
// the data connection also carries StartOfData/EndOfData and client
// bookkeeping records.
//
// Recorded data arrives in the byte order of the recording client, which is
// the native order of this process.
func decodeKeyEvent(category int, data []byte) (keyEventHeader, ButtonState, bool) {
	var h keyEventHeader
	if category != recordFromServer || len(data) < eventHeaderSize {
		return h, Released, false
	}
	order := binary.NativeEndian
	h = keyEventHeader{
		Type:       data[0] & 0x7f, // strip the SendEvent bit
		Code:       data[1],
		Sequence:   order.Uint16(data[2:4]),
		Time:       order.Uint32(data[4:8]),
		Root:       order.Uint32(data[8:12]),
		Event:      order.Uint32(data[12:16]),
		Child:      order.Uint32(data[16:20]),
		RootX:      int16(order.Uint16(data[20:22])),
		RootY:      int16(order.Uint16(data[22:24])),
		EventX:     int16(order.Uint16(data[24:26])),
		EventY:     int16(order.Uint16(data[26:28])),
		State:      order.Uint16(data[28:30]),
		SameScreen: data[30] != 0,
	}
	switch h.Type {
	case xKeyPress:
		return h, Pressed, true
	case xKeyRelease:
		return h, Released, true
	default:
		return h, Released, false
	}
}
