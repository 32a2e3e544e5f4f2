package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCadenceGate(t *testing.T) {
	base := time.Unix(1700000000, 0)
	c := cadence{interval: 20 * time.Millisecond}

	assert.True(t, c.due(base), "first send is always due")
	c.mark(base)

	assert.False(t, c.due(base.Add(5*time.Millisecond)))
	assert.False(t, c.due(base.Add(19*time.Millisecond)))
	assert.True(t, c.due(base.Add(20*time.Millisecond)))

	c.mark(base.Add(25 * time.Millisecond))
	assert.False(t, c.due(base.Add(40*time.Millisecond)))
	assert.True(t, c.due(base.Add(45*time.Millisecond)))
}

func TestWouldBlock(t *testing.T) {
	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	_ = ln.SetReadDeadline(time.Now().Add(time.Millisecond))
	_, _, err = ln.ReadFromUDP(make([]byte, 16))
	assert.True(t, wouldBlock(err))
	assert.False(t, wouldBlock(errors.New("boom")))
}
