package protocol

import "time"

type Source uint8

const (
	SourceUDP Source = iota
	SourceTCP
)

func (s Source) String() string {
	if s == SourceTCP {
		return "tcp"
	}
	return "udp"
}

// Inbound is one decoded robot->DS frame flowing to the sinks.
// Data holds a Telemetry for SourceUDP and a RioMessage for SourceTCP.
type Inbound struct {
	Source    Source
	ID        uint8
	Timestamp time.Time
	Payload   []byte
	Data      any
}

// Text extracts console text carried by a message, if any.
func (in Inbound) Text() (string, bool) {
	switch m := in.Data.(type) {
	case StandardOutput:
		return m.Message, true
	case ErrorMessage:
		return m.Details, true
	case RadioEvent:
		return m.Message, true
	default:
		return "", false
	}
}

// Kind names the decoded frame type for sinks.
func (in Inbound) Kind() string {
	switch in.Data.(type) {
	case Telemetry:
		return "telemetry"
	case RadioEvent:
		return "radio_event"
	case UsageReport:
		return "usage_report"
	case DisableFaults:
		return "disable_faults"
	case RailFaults:
		return "rail_faults"
	case ErrorMessage:
		return "error_message"
	case StandardOutput:
		return "stdout"
	default:
		return "unknown"
	}
}
