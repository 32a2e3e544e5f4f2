package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dslink/pkg/protocol"
)

func TestDecodeTelemetry(t *testing.T) {
	frame := []byte{
		0x00, 0x2A,  // seq
		0x01,        // comm version
		0b1001_0110, // estop, brownout, enabled, auto
		0b0011_0001, // robot code, roborio, disabled
		12, 128,     // 12.5 V
		0x01,        // request date
		0x05, 0x0E, 'x',
	}

	tel, err := protocol.DecodeTelemetry(frame)
	require.NoError(t, err)

	assert.Equal(t, uint16(42), tel.SequenceNum)
	assert.Equal(t, uint8(1), tel.CommVersion)
	assert.Equal(t, protocol.Status{Estop: true, Brownout: true, Enabled: true, Mode: protocol.ModeAuto, ModeValid: true}, tel.Status)
	assert.Equal(t, protocol.Trace{RobotCode: true, IsRoborio: true, Disabled: true}, tel.Trace)
	assert.Equal(t, float32(12.5), tel.BatteryVoltage)
	assert.True(t, tel.RequestDate)
	assert.Equal(t, []byte{0x05, 0x0E, 'x'}, tel.Tags)
}

func TestDecodeTelemetryTooShort(t *testing.T) {
	_, err := protocol.DecodeTelemetry(make([]byte, 7))
	assert.ErrorIs(t, err, protocol.ErrShortTelemetry)
}

func TestBatteryVoltage(t *testing.T) {
	assert.Equal(t, float32(12.5), protocol.BatteryVoltage(12, 128))
	assert.Equal(t, float32(0), protocol.BatteryVoltage(0, 0))
}

func TestStatusInvalidMode(t *testing.T) {
	st := protocol.StatusFromByte(0b0000_0011)
	assert.False(t, st.ModeValid)
}

func TestEncodeTelemetryRoundTrip(t *testing.T) {
	in := protocol.Telemetry{
		SequenceNum:    513,
		CommVersion:    1,
		Status:         protocol.StatusFromByte(0b1000_0110),
		Trace:          protocol.TraceFromByte(0b0011_0100),
		BatteryVoltage: 12.5,
		RequestDate:    true,
		Tags:           []byte{0x02, 0x0E, 0x01},
	}
	b := protocol.EncodeTelemetry(in)
	assert.Equal(t, []byte{0x02, 0x01, 0x01, 0b1000_0110, 0b0011_0100, 12, 128, 0x01, 0x02, 0x0E, 0x01}, b)

	out, err := protocol.DecodeTelemetry(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeTelemetryClampsVoltage(t *testing.T) {
	b := protocol.EncodeTelemetry(protocol.Telemetry{BatteryVoltage: -1})
	assert.Equal(t, []byte{0, 0}, b[5:7])

	b = protocol.EncodeTelemetry(protocol.Telemetry{BatteryVoltage: 300})
	assert.Equal(t, []byte{255, 255}, b[5:7])
}
