package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dslink/pkg/protocol"
)

func TestFrameBufferAcrossPartialWrites(t *testing.T) {
	var fb protocol.FrameBuffer

	fb.Write([]byte{0x00})
	_, ok := fb.Next()
	assert.False(t, ok)

	fb.Write([]byte{0x03, 0x0C, 'h'})
	_, ok = fb.Next()
	assert.False(t, ok, "payload incomplete")
	assert.Equal(t, 4, fb.Buffered())

	fb.Write([]byte{'i', 0x00, 0x01, 0x00})
	frame, ok := fb.Next()
	require.True(t, ok)
	assert.Equal(t, []byte{0x0C, 'h', 'i'}, frame)

	frame, ok = fb.Next()
	require.True(t, ok)
	assert.Equal(t, []byte{0x00}, frame)

	_, ok = fb.Next()
	assert.False(t, ok)
	assert.Zero(t, fb.Buffered())
}

func TestFrameBufferZeroLengthFrame(t *testing.T) {
	var fb protocol.FrameBuffer
	fb.Write([]byte{0x00, 0x00, 0x00, 0x01, 0x0C})
	frame, ok := fb.Next()
	require.True(t, ok)
	assert.Empty(t, frame)
	frame, ok = fb.Next()
	require.True(t, ok)
	assert.Equal(t, []byte{0x0C}, frame)
}
