package protocol

import (
	"encoding/binary"
	"math"
	"strings"
)

// PacketReader consumes big-endian fields from the front of a received packet.
// Every accessor reports ok=false instead of reading partial data.
type PacketReader struct {
	buf []byte
}

func NewPacketReader(b []byte) *PacketReader {
	return &PacketReader{buf: b}
}

// Len reports the number of unread bytes.
func (r *PacketReader) Len() int {
	return len(r.buf)
}

// Remaining returns a copy of the unread bytes without consuming them.
func (r *PacketReader) Remaining() []byte {
	return append([]byte(nil), r.buf...)
}

func (r *PacketReader) NextU8() (uint8, bool) {
	if len(r.buf) < 1 {
		return 0, false
	}
	v := r.buf[0]
	r.buf = r.buf[1:]
	return v, true
}

func (r *PacketReader) NextU16() (uint16, bool) {
	if len(r.buf) < 2 {
		return 0, false
	}
	v := binary.BigEndian.Uint16(r.buf)
	r.buf = r.buf[2:]
	return v, true
}

func (r *PacketReader) NextU32() (uint32, bool) {
	if len(r.buf) < 4 {
		return 0, false
	}
	v := binary.BigEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v, true
}

func (r *PacketReader) NextF32() (float32, bool) {
	bits, ok := r.NextU32()
	if !ok {
		return 0, false
	}
	return math.Float32frombits(bits), true
}

// NextBytes consumes exactly n bytes.
func (r *PacketReader) NextBytes(n int) ([]byte, bool) {
	if n < 0 || len(r.buf) < n {
		return nil, false
	}
	out := append([]byte(nil), r.buf[:n]...)
	r.buf = r.buf[n:]
	return out, true
}

// ExtractString consumes exactly n bytes and decodes them as UTF-8.
// Invalid sequences are replaced with U+FFFD.
func (r *PacketReader) ExtractString(n int) (string, bool) {
	if n < 0 || len(r.buf) < n {
		return "", false
	}
	s := strings.ToValidUTF8(string(r.buf[:n]), "�")
	r.buf = r.buf[n:]
	return s, true
}

// ExtractLenString reads a u16 length followed by that many string bytes.
// Nothing is consumed when the declared length exceeds the remaining bytes.
func (r *PacketReader) ExtractLenString() (string, bool) {
	if len(r.buf) < 2 {
		return "", false
	}
	n := int(binary.BigEndian.Uint16(r.buf))
	if len(r.buf)-2 < n {
		return "", false
	}
	r.buf = r.buf[2:]
	return r.ExtractString(n)
}

// Rest consumes everything left as a string.
func (r *PacketReader) Rest() string {
	s, _ := r.ExtractString(len(r.buf))
	return s
}
