package protocol

import "encoding/binary"

// MaxFrameSize bounds a single TCP frame payload.
const MaxFrameSize = 0xFFFF

// FrameBuffer accumulates TCP stream bytes and yields complete
// u16-length-prefixed frames. Incomplete frames stay buffered.
type FrameBuffer struct {
	buf []byte
}

func (f *FrameBuffer) Write(p []byte) {
	f.buf = append(f.buf, p...)
}

func (f *FrameBuffer) Buffered() int {
	return len(f.buf)
}

// Next returns the next complete frame payload without its length prefix.
func (f *FrameBuffer) Next() ([]byte, bool) {
	if len(f.buf) < 2 {
		return nil, false
	}
	n := int(binary.BigEndian.Uint16(f.buf))
	if len(f.buf)-2 < n {
		return nil, false
	}
	frame := append([]byte(nil), f.buf[2:2+n]...)
	rest := copy(f.buf, f.buf[2+n:])
	f.buf = f.buf[:rest]
	return frame, true
}
