package main

import (
	"context"
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

func TestSimTelemetryMirrorsControl(t *testing.T) {
	f := protocol.ControlFrame{Control: protocol.NewControl(false, true, protocol.ModeAuto)}
	tel := simTelemetry(f, 7, 0)

	assert.Equal(t, uint16(7), tel.SequenceNum)
	assert.True(t, tel.Status.Enabled)
	assert.Equal(t, protocol.ModeAuto, tel.Status.Mode)
	assert.True(t, tel.Trace.AutoMode)
	assert.False(t, tel.Trace.Disabled)
	assert.True(t, tel.RequestDate)
	assert.InDelta(t, simBatteryNominal, tel.BatteryVoltage, 1e-4)

	f.Control = protocol.NewControl(true, true, protocol.ModeTeleop)
	f.HasDate = true
	tel = simTelemetry(f, 8, 0)
	assert.True(t, tel.Status.Estop)
	assert.False(t, tel.Status.Enabled)
	assert.True(t, tel.Trace.Disabled)
	assert.False(t, tel.RequestDate)
}

func TestSimBatteryStaysInRange(t *testing.T) {
	for s := 0.0; s < 40; s += 0.5 {
		v := simBattery(s)
		assert.GreaterOrEqual(t, v, float32(simBatteryNominal-simBatteryAmplitude-1e-3))
		assert.LessOrEqual(t, v, float32(simBatteryNominal+simBatteryAmplitude+1e-3))
	}
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

type stdoutRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *stdoutRecorder) record(in protocol.Inbound) {
	if out, ok := in.Data.(protocol.StandardOutput); ok {
		r.mu.Lock()
		r.lines = append(r.lines, out.Message)
		r.mu.Unlock()
	}
}

func (r *stdoutRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

func TestSimRobotAnswersDriverStation(t *testing.T) {
	log := zaptest.NewLogger(t)
	telemetryPort := freeUDPPort(t)
	robot, err := newSimRobot("127.0.0.1:0", "127.0.0.1:0", telemetryPort, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- robot.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Errorf("simulated robot did not stop")
		}
	})

	rec := &stdoutRecorder{}
	station := ds.New(
		ds.WithLogger(log),
		ds.WithInbound(rec.record),
		ds.WithTransportOptions(
			transport.WithControlPort(robot.ControlAddr().(*net.UDPAddr).Port),
			transport.WithControlLocalPort(0),
			transport.WithTelemetryPort(telemetryPort),
			transport.WithTCPPort(robot.TCPAddr().(*net.TCPAddr).Port),
		),
	)
	t.Cleanup(func() { _ = station.Close() })
	require.NoError(t, station.Connect(ctx, "127.0.0.1"))

	station.SetMode(protocol.ModeTest)
	station.SetEnabled(true)

	require.Eventually(t, func() bool {
		tel, ok := station.LastTelemetry()
		return ok && tel.Status.Enabled && tel.Status.Mode == protocol.ModeTest
	}, 3*time.Second, 10*time.Millisecond)

	tel, _ := station.LastTelemetry()
	assert.True(t, tel.Trace.RobotCode)
	assert.InDelta(t, simBatteryNominal, tel.BatteryVoltage, simBatteryAmplitude+0.01)

	require.Eventually(t, func() bool { return rec.count() > 0 }, 3*time.Second, 20*time.Millisecond)
	assert.NoError(t, station.Status())
}
