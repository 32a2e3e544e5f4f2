package protocol

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Type bytes of robot->DS TCP messages.
const (
	TypeRadioEvent     uint8 = 0x00
	TypeUsageReport    uint8 = 0x01
	TypeDisableFaults  uint8 = 0x04
	TypeRailFaults     uint8 = 0x05
	TypeVersionInfo    uint8 = 0x0A
	TypeErrorMessage   uint8 = 0x0B
	TypeStandardOutput uint8 = 0x0C
)

const (
	usageReportMinLen    = 3
	disableFaultsMinLen  = 4
	railFaultsMinLen     = 6
	errorMessageMinLen   = 16
	standardOutputMinLen = 6
)

var (
	ErrEmptyMessage = errors.New("empty tcp message")
	ErrShortMessage = errors.New("tcp message too short")
	ErrUnsupported  = errors.New("tcp message type not supported yet")
)

// RioMessage is one decoded robot->DS TCP message. The set of
// implementations is closed to this package.
type RioMessage interface {
	TypeID() uint8
	rioMessage()
}

type RadioEvent struct {
	Message string `json:"message"`
}

type UsageReport struct {
	TeamNum uint16 `json:"team_num"`
	Unknown uint8  `json:"unknown"`
	Entries []byte `json:"-"`
}

type DisableFaults struct {
	Comms   uint16 `json:"comms"`
	TwelveV uint16 `json:"twelve_v"`
}

type RailFaults struct {
	SixV             uint16 `json:"six_v"`
	FiveV            uint16 `json:"five_v"`
	ThreePointThreeV uint16 `json:"three_point_three_v"`
}

// VersionInfo is recognised on the wire but its payload is not decoded yet.
type VersionInfo struct {
	DeviceType uint8  `json:"device_type"`
	Unknown    uint16 `json:"unknown"`
	ID         uint8  `json:"id"`
	Name       string `json:"name"`
	Version    string `json:"version"`
}

type ErrorMessage struct {
	Timestamp      float32 `json:"timestamp"`
	SequenceNumber uint16  `json:"sequence_number"`
	PrintMsg       bool    `json:"print_msg"`
	ErrorCode      uint16  `json:"error_code"`
	IsError        bool    `json:"is_error"`
	Details        string  `json:"details"`
	Location       string  `json:"location"`
	CallStack      string  `json:"call_stack"`
}

type StandardOutput struct {
	Timestamp      float32 `json:"timestamp"`
	SequenceNumber uint16  `json:"sequence_number"`
	Message        string  `json:"message"`
}

// Unknown preserves messages with an unrecognised type byte.
type Unknown struct {
	Type    uint8
	Payload []byte
}

func (u Unknown) MarshalJSON() ([]byte, error) {
	type unknownJSON struct {
		Type       string `json:"type"`
		PayloadHex string `json:"payload_hex"`
	}
	return json.Marshal(unknownJSON{
		Type:       fmt.Sprintf("0x%02x", u.Type),
		PayloadHex: hex.EncodeToString(u.Payload),
	})
}

func (RadioEvent) TypeID() uint8     { return TypeRadioEvent }
func (UsageReport) TypeID() uint8    { return TypeUsageReport }
func (DisableFaults) TypeID() uint8  { return TypeDisableFaults }
func (RailFaults) TypeID() uint8     { return TypeRailFaults }
func (VersionInfo) TypeID() uint8    { return TypeVersionInfo }
func (ErrorMessage) TypeID() uint8   { return TypeErrorMessage }
func (StandardOutput) TypeID() uint8 { return TypeStandardOutput }
func (u Unknown) TypeID() uint8      { return u.Type }

func (RadioEvent) rioMessage()     {}
func (UsageReport) rioMessage()    {}
func (DisableFaults) rioMessage()  {}
func (RailFaults) rioMessage()     {}
func (VersionInfo) rioMessage()    {}
func (ErrorMessage) rioMessage()   {}
func (StandardOutput) rioMessage() {}
func (Unknown) rioMessage()        {}

// DecodeRioMessage decodes one TCP frame payload (type byte first, length
// prefix already stripped). A malformed payload yields an error and no message.
func DecodeRioMessage(frame []byte) (RioMessage, error) {
	r := NewPacketReader(frame)
	typ, ok := r.NextU8()
	if !ok {
		return nil, ErrEmptyMessage
	}

	switch typ {
	case TypeRadioEvent:
		return RadioEvent{Message: r.Rest()}, nil
	case TypeUsageReport:
		if r.Len() < usageReportMinLen {
			return nil, shortMessage(typ, r.Len(), usageReportMinLen)
		}
		team, _ := r.NextU16()
		unk, _ := r.NextU8()
		return UsageReport{TeamNum: team, Unknown: unk, Entries: r.Remaining()}, nil
	case TypeDisableFaults:
		if r.Len() < disableFaultsMinLen {
			return nil, shortMessage(typ, r.Len(), disableFaultsMinLen)
		}
		comms, _ := r.NextU16()
		twelve, _ := r.NextU16()
		return DisableFaults{Comms: comms, TwelveV: twelve}, nil
	case TypeRailFaults:
		if r.Len() < railFaultsMinLen {
			return nil, shortMessage(typ, r.Len(), railFaultsMinLen)
		}
		six, _ := r.NextU16()
		five, _ := r.NextU16()
		three, _ := r.NextU16()
		return RailFaults{SixV: six, FiveV: five, ThreePointThreeV: three}, nil
	case TypeVersionInfo:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupported, typ)
	case TypeErrorMessage:
		return decodeErrorMessage(r)
	case TypeStandardOutput:
		if r.Len() < standardOutputMinLen {
			return nil, shortMessage(typ, r.Len(), standardOutputMinLen)
		}
		ts, _ := r.NextF32()
		seq, _ := r.NextU16()
		return StandardOutput{Timestamp: ts, SequenceNumber: seq, Message: r.Rest()}, nil
	default:
		return Unknown{Type: typ, Payload: r.Remaining()}, nil
	}
}

func decodeErrorMessage(r *PacketReader) (RioMessage, error) {
	if r.Len() < errorMessageMinLen {
		return nil, shortMessage(TypeErrorMessage, r.Len(), errorMessageMinLen)
	}
	var msg ErrorMessage
	msg.Timestamp, _ = r.NextF32()
	msg.SequenceNumber, _ = r.NextU16()
	printMsg, _ := r.NextU8()
	msg.PrintMsg = printMsg != 0
	msg.ErrorCode, _ = r.NextU16()
	isErr, _ := r.NextU8()
	msg.IsError = isErr != 0

	var ok bool
	if msg.Details, ok = r.ExtractLenString(); !ok {
		return nil, fmt.Errorf("%w: error message details", ErrShortMessage)
	}
	if msg.Location, ok = r.ExtractLenString(); !ok {
		return nil, fmt.Errorf("%w: error message location", ErrShortMessage)
	}
	if msg.CallStack, ok = r.ExtractLenString(); !ok {
		return nil, fmt.Errorf("%w: error message call stack", ErrShortMessage)
	}
	return msg, nil
}

func shortMessage(typ uint8, got, want int) error {
	return fmt.Errorf("%w: type 0x%02x has %d bytes, need %d", ErrShortMessage, typ, got, want)
}

// EncodeStandardOutput frames a console line the way the robot sends it,
// length prefix included.
func EncodeStandardOutput(m StandardOutput) []byte {
	w := NewPacketWriter()
	w.WriteU16(uint16(1 + 4 + 2 + len(m.Message)))
	w.WriteU8(TypeStandardOutput)
	w.WriteF32(m.Timestamp)
	w.WriteU16(m.SequenceNumber)
	w.WriteString(m.Message)
	return w.Bytes()
}
