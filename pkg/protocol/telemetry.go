package protocol

import (
	"errors"
	"fmt"
)

// TelemetryHeaderSize is the fixed part of a robot->DS UDP packet.
const TelemetryHeaderSize = 8

var ErrShortTelemetry = errors.New("telemetry packet too short")

// Telemetry is the periodic robot->DS UDP status packet.
//
//	Offset | Size | Field
//	0      | 2    | sequence number (BE)
//	2      | 1    | comm version
//	3      | 1    | status bitfield
//	4      | 1    | trace bitfield
//	5      | 2    | battery voltage, whole byte + 1/256 fraction byte
//	7      | 1    | request date flag
//	8..    | n    | extension tags, kept verbatim
type Telemetry struct {
	SequenceNum    uint16  `json:"sequence_num"`
	CommVersion    uint8   `json:"comm_version"`
	Status         Status  `json:"status"`
	Trace          Trace   `json:"trace"`
	BatteryVoltage float32 `json:"battery_voltage"`
	RequestDate    bool    `json:"request_date"`
	Tags           []byte  `json:"-"`
}

func DecodeTelemetry(b []byte) (Telemetry, error) {
	if len(b) < TelemetryHeaderSize {
		return Telemetry{}, fmt.Errorf("%w: %d bytes", ErrShortTelemetry, len(b))
	}
	r := NewPacketReader(b)
	seq, _ := r.NextU16()
	comm, _ := r.NextU8()
	status, _ := r.NextU8()
	trace, _ := r.NextU8()
	whole, _ := r.NextU8()
	frac, _ := r.NextU8()
	req, _ := r.NextU8()

	return Telemetry{
		SequenceNum:    seq,
		CommVersion:    comm,
		Status:         StatusFromByte(status),
		Trace:          TraceFromByte(trace),
		BatteryVoltage: BatteryVoltage(whole, frac),
		RequestDate:    req != 0,
		Tags:           r.Remaining(),
	}, nil
}

func BatteryVoltage(whole, frac uint8) float32 {
	return float32(whole) + float32(frac)/256
}

// EncodeTelemetry is the inverse of DecodeTelemetry. The DS never sends
// telemetry; robot simulators and tests do.
func EncodeTelemetry(t Telemetry) []byte {
	whole, frac := splitVoltage(t.BatteryVoltage)
	w := NewPacketWriter()
	w.WriteU16(t.SequenceNum)
	w.WriteU8(t.CommVersion)
	w.WriteU8(t.Status.Byte())
	w.WriteU8(t.Trace.Byte())
	w.WriteU8(whole)
	w.WriteU8(frac)
	if t.RequestDate {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
	w.WriteSlice(t.Tags)
	return w.Bytes()
}

func splitVoltage(v float32) (whole, frac uint8) {
	if v <= 0 {
		return 0, 0
	}
	if v >= 256 {
		return 255, 255
	}
	whole = uint8(v)
	return whole, uint8((v - float32(whole)) * 256)
}
