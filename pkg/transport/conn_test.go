package transport_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dslink/pkg/ds"
	"dslink/pkg/protocol"
	"dslink/pkg/transport"
)

// fakeRobot stands in for the robot side of all three channels.
type fakeRobot struct {
	control *net.UDPConn
	ln      net.Listener
	tcp     net.Conn
}

func newFakeRobot(t *testing.T) *fakeRobot {
	t.Helper()
	control, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	r := &fakeRobot{control: control, ln: ln}
	t.Cleanup(func() {
		_ = control.Close()
		_ = ln.Close()
		if r.tcp != nil {
			_ = r.tcp.Close()
		}
	})
	return r
}

func (r *fakeRobot) options() []transport.Option {
	return []transport.Option{
		transport.WithControlPort(r.control.LocalAddr().(*net.UDPAddr).Port),
		transport.WithTCPPort(r.ln.Addr().(*net.TCPAddr).Port),
		transport.WithControlLocalPort(0),
		transport.WithTelemetryPort(0),
	}
}

func (r *fakeRobot) accept(t *testing.T) {
	t.Helper()
	conn, err := r.ln.Accept()
	require.NoError(t, err)
	r.tcp = conn
}

func (r *fakeRobot) readControl(t *testing.T) protocol.ControlFrame {
	t.Helper()
	buf := make([]byte, 1500)
	require.NoError(t, r.control.SetReadDeadline(time.Now().Add(time.Second)))
	n, _, err := r.control.ReadFromUDP(buf)
	require.NoError(t, err, "waiting for control packet")
	frame, err := protocol.DecodeControlFrame(buf[:n])
	require.NoError(t, err)
	return frame
}

// readTag reads one u16 framed tag from the DS.
func (r *fakeRobot) readTag(t *testing.T) []byte {
	t.Helper()
	require.NoError(t, r.tcp.SetReadDeadline(time.Now().Add(time.Second)))
	var head [2]byte
	_, err := io.ReadFull(r.tcp, head[:])
	require.NoError(t, err)
	body := make([]byte, binary.BigEndian.Uint16(head[:]))
	_, err = io.ReadFull(r.tcp, body)
	require.NoError(t, err)
	return body
}

func (r *fakeRobot) sendTelemetry(t *testing.T, to net.Addr, pkt []byte) {
	t.Helper()
	dst := to.(*net.UDPAddr)
	_, err := r.control.WriteToUDP(pkt, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: dst.Port})
	require.NoError(t, err)
}

type inboundRecorder struct {
	mu   sync.Mutex
	msgs []protocol.Inbound
}

func (r *inboundRecorder) record(in protocol.Inbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, in)
}

func (r *inboundRecorder) bySource(src protocol.Source) []protocol.Inbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Inbound
	for _, m := range r.msgs {
		if m.Source == src {
			out = append(out, m)
		}
	}
	return out
}

func dial(t *testing.T, robot *fakeRobot, shared *ds.SharedState, extra ...transport.Option) *transport.Conn {
	t.Helper()
	opts := append(robot.options(), transport.WithLogger(zaptest.NewLogger(t)))
	opts = append(opts, extra...)
	conn, err := transport.Dial(context.Background(), "127.0.0.1", shared, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	robot.accept(t)
	return conn
}

func TestConnSendsInitialControlAndTags(t *testing.T) {
	robot := newFakeRobot(t)
	st := ds.NewState()
	st.GameData = "abc"
	st.Enabled = true
	st.Mode = protocol.ModeAuto
	shared := ds.NewSharedState(st, nil)

	conn := dial(t, robot, shared)

	first := robot.readControl(t)
	assert.Equal(t, uint16(0), first.SequenceNum)
	assert.Equal(t, protocol.CommVersion, first.CommVersion)
	assert.True(t, first.Control.Enabled())
	mode, ok := first.Control.Mode()
	require.True(t, ok)
	assert.Equal(t, protocol.ModeAuto, mode)

	assert.Equal(t, []byte{protocol.TagGameData, 'a', 'b', 'c'}, robot.readTag(t))
	assert.Equal(t, append([]byte{protocol.TagMatchInfo}, append([]byte("unknown"), 0)...), robot.readTag(t))

	assert.Eventually(t, conn.IsConnected, time.Second, 5*time.Millisecond)
	assert.Equal(t, transport.StateConnected, conn.State())
	assert.NoError(t, conn.Status())
}

func TestConnControlCadenceAdvancesSequence(t *testing.T) {
	robot := newFakeRobot(t)
	shared := ds.NewSharedState(ds.NewState(), nil)
	dial(t, robot, shared, transport.WithCadence(5*time.Millisecond))

	prev := robot.readControl(t).SequenceNum
	for i := 0; i < 5; i++ {
		next := robot.readControl(t).SequenceNum
		assert.Equal(t, prev+1, next)
		prev = next
	}
}

func TestConnControlCadenceAtDefaultInterval(t *testing.T) {
	robot := newFakeRobot(t)
	shared := ds.NewSharedState(ds.NewState(), nil)
	dial(t, robot, shared)

	const samples = 25
	robot.readControl(t)
	prev := time.Now()
	gaps := make([]time.Duration, 0, samples)
	for i := 0; i < samples; i++ {
		robot.readControl(t)
		now := time.Now()
		gaps = append(gaps, now.Sub(prev))
		prev = now
	}

	var total time.Duration
	for i, gap := range gaps {
		// receive-side jitter can shorten a single gap slightly
		assert.GreaterOrEqual(t, gap, transport.DefaultCadence-3*time.Millisecond, "gap %d", i)
		assert.Less(t, gap, transport.DefaultCadence+10*time.Millisecond, "gap %d", i)
		total += gap
	}
	mean := total / samples
	assert.GreaterOrEqual(t, mean, transport.DefaultCadence-500*time.Microsecond)
	assert.Less(t, mean, transport.DefaultCadence+3*time.Millisecond)
}

func TestConnAppliesTelemetryAndSendsDate(t *testing.T) {
	robot := newFakeRobot(t)
	shared := ds.NewSharedState(ds.NewState(), nil)
	rec := &inboundRecorder{}
	conn := dial(t, robot, shared, transport.WithInbound(rec.record), transport.WithCadence(5*time.Millisecond))
	robot.readControl(t)

	// seq 7, comm 1, status enabled|teleop, trace robot code, 12.5V, request date.
	robot.sendTelemetry(t, conn.TelemetryAddr(), []byte{0x00, 0x07, 0x01, 0x04, 0x20, 0x0C, 0x80, 0x01})

	require.Eventually(t, func() bool {
		_, ok := shared.LastTelemetry()
		return ok
	}, time.Second, 5*time.Millisecond)
	tel, _ := shared.LastTelemetry()
	assert.Equal(t, uint16(7), tel.SequenceNum)
	assert.True(t, tel.Status.Enabled)
	assert.InDelta(t, 12.5, tel.BatteryVoltage, 0.001)
	assert.True(t, tel.RequestDate)

	require.Eventually(t, func() bool { return len(rec.bySource(protocol.SourceUDP)) > 0 }, time.Second, 5*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		frame := robot.readControl(t)
		if frame.HasDate {
			assert.Equal(t, ds.Timezone, frame.Timezone)
			assert.WithinDuration(t, time.Now(), frame.Date, 5*time.Second)
			return
		}
	}
	t.Fatal("no control packet carried the date tag")
}

func TestConnDecodesSplitTCPMessages(t *testing.T) {
	robot := newFakeRobot(t)
	shared := ds.NewSharedState(ds.NewState(), nil)
	rec := &inboundRecorder{}
	dial(t, robot, shared, transport.WithInbound(rec.record))
	robot.readControl(t)

	stdout := []byte{0x00, 0x09, protocol.TypeStandardOutput, 0, 0, 0, 0, 0x00, 0x01, 'h', 'i'}
	_, err := robot.tcp.Write(stdout[:4])
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = robot.tcp.Write(append(stdout[4:], 0x00, 0x03, 0x42, 0xAA, 0xBB))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.bySource(protocol.SourceTCP)) == 2 }, time.Second, 5*time.Millisecond)
	msgs := rec.bySource(protocol.SourceTCP)

	out, ok := msgs[0].Data.(protocol.StandardOutput)
	require.True(t, ok, "got %T", msgs[0].Data)
	assert.Equal(t, "hi", out.Message)
	assert.Equal(t, uint16(1), out.SequenceNumber)

	unknown, ok := msgs[1].Data.(protocol.Unknown)
	require.True(t, ok, "got %T", msgs[1].Data)
	assert.Equal(t, uint8(0x42), unknown.Type)
	assert.Equal(t, []byte{0xAA, 0xBB}, unknown.Payload)
}

func TestConnSendTag(t *testing.T) {
	robot := newFakeRobot(t)
	shared := ds.NewSharedState(ds.NewState(), nil)
	conn := dial(t, robot, shared)
	robot.readTag(t)
	robot.readTag(t)

	require.NoError(t, conn.SendTag(protocol.JoystickDescriptor{}))
	require.NoError(t, conn.SendTag(protocol.GameData{Data: "LRL"}))
	assert.Equal(t, []byte{protocol.TagGameData, 'L', 'R', 'L'}, robot.readTag(t))
}

func TestConnStatusAfterPeerClose(t *testing.T) {
	robot := newFakeRobot(t)
	shared := ds.NewSharedState(ds.NewState(), nil)
	conn := dial(t, robot, shared)
	robot.readControl(t)
	require.NoError(t, robot.tcp.Close())

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after peer close")
	}

	err := conn.Status()
	require.Error(t, err)
	assert.False(t, errors.Is(err, transport.ErrAborted), "first status should carry the cause: %v", err)
	assert.ErrorIs(t, conn.Status(), transport.ErrAborted)
	assert.False(t, conn.IsConnected())
	assert.ErrorIs(t, conn.SendTag(protocol.GameData{}), transport.ErrClosed)
}

func TestConnDisconnect(t *testing.T) {
	robot := newFakeRobot(t)
	shared := ds.NewSharedState(ds.NewState(), nil)
	conn := dial(t, robot, shared)
	robot.readControl(t)

	conn.Disconnect()
	conn.Disconnect()
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after disconnect")
	}
	assert.Equal(t, transport.StateDisconnected, conn.State())
	assert.ErrorIs(t, conn.Status(), transport.ErrAborted)
}

func TestDialFailsWithoutRobot(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = transport.Dial(context.Background(), "127.0.0.1", ds.NewSharedState(ds.NewState(), nil),
		transport.WithTCPPort(port),
		transport.WithControlLocalPort(0),
		transport.WithTelemetryPort(0),
		transport.WithDialTimeout(200*time.Millisecond),
	)
	assert.Error(t, err)
}
