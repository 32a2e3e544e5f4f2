package transport

import "dslink/pkg/protocol"

// ConnectionState describes the current link status.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// State is the commanded state a connection serializes and updates.
// Implementations must be safe for concurrent use.
type State interface {
	ControlPacket() []byte
	ApplyTelemetry(protocol.Telemetry)
	ApplyMessage(protocol.RioMessage)
	Tags() []protocol.Tag
}
