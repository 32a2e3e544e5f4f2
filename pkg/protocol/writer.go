package protocol

import (
	"encoding/binary"
	"math"
)

// PacketWriter appends big-endian fields to a growing outbound packet.
type PacketWriter struct {
	buf []byte
}

func NewPacketWriter() *PacketWriter {
	return &PacketWriter{buf: make([]byte, 0, 64)}
}

func (w *PacketWriter) Len() int {
	return len(w.buf)
}

// Bytes returns the encoded packet. The slice aliases the writer's buffer.
func (w *PacketWriter) Bytes() []byte {
	return w.buf
}

func (w *PacketWriter) WriteU8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *PacketWriter) WriteI8(v int8) {
	w.buf = append(w.buf, uint8(v))
}

func (w *PacketWriter) WriteU16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *PacketWriter) WriteI16(v int16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(v))
}

func (w *PacketWriter) WriteU32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *PacketWriter) WriteF32(v float32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, math.Float32bits(v))
}

func (w *PacketWriter) WriteString(s string) {
	w.buf = append(w.buf, s...)
}

func (w *PacketWriter) WriteSlice(b []byte) {
	w.buf = append(w.buf, b...)
}

// Append copies another writer's bytes onto the end of this one.
func (w *PacketWriter) Append(other *PacketWriter) {
	if other == nil {
		return
	}
	w.buf = append(w.buf, other.buf...)
}
