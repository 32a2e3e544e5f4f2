package ds

import (
	"errors"
	"fmt"
	"time"

	"dslink/pkg/protocol"
)

// Timezone is the zone name reported when the robot asks for the wall clock.
const Timezone = "UTC"

var (
	ErrSlotOutOfRange   = errors.New("joystick slot out of range")
	ErrJoystickTooLarge = errors.New("joystick does not fit a control packet tag")
)

// maxJoystickTag is the largest joystick tag body a one byte size can frame,
// counting the tag id.
const maxJoystickTag = 0xFF

// State is everything the operator commands, plus the transient fields the
// control packet derives from it.
type State struct {
	Enabled   bool
	Estop     bool
	Mode      protocol.Mode
	Alliance  protocol.Alliance
	Joysticks [protocol.NumJoysticks]*Joystick
	GameData  string
	MatchInfo protocol.MatchInfo

	// Request is sent once in the next control packet, then cleared.
	Request protocol.Request

	sequenceNum uint16
	requestTime bool
}

func NewState() State {
	return State{
		Mode:      protocol.ModeTeleop,
		Alliance:  protocol.Alliance{Color: protocol.Red, Position: 1},
		MatchInfo: protocol.MatchInfo{Competition: "unknown", MatchType: protocol.MatchNone},
	}
}

func (s *State) SequenceNum() uint16 { return s.sequenceNum }
func (s *State) RequestTime() bool   { return s.requestTime }

func (s *State) SetJoystick(slot int, j *Joystick) error {
	if slot < 0 || slot >= protocol.NumJoysticks {
		return fmt.Errorf("%w: %d", ErrSlotOutOfRange, slot)
	}
	if j != nil {
		if n := len(j.Tag()) + 1; n > maxJoystickTag {
			return fmt.Errorf("%w: %d bytes", ErrJoystickTooLarge, n)
		}
	}
	s.Joysticks[slot] = j.Clone()
	return nil
}

// ControlPacket serializes the state into one DS->robot UDP packet and
// advances the sequence number. now is only read when the robot asked for
// the wall clock.
func (s *State) ControlPacket(now time.Time) []byte {
	w := protocol.NewPacketWriter()

	w.WriteU16(s.sequenceNum)
	s.sequenceNum++

	w.WriteU8(protocol.CommVersion)
	w.WriteU8(uint8(protocol.NewControl(s.Estop, s.Enabled, s.Mode)))
	w.WriteU8(uint8(s.Request))
	s.Request = 0
	w.WriteU8(s.Alliance.ToPositionU8())

	for _, stick := range s.Joysticks {
		if stick == nil {
			w.WriteU8(0x01)
			w.WriteU8(protocol.UDPTagJoystick)
			continue
		}
		tag := stick.Tag()
		w.WriteU8(uint8(len(tag) + 1))
		w.WriteU8(protocol.UDPTagJoystick)
		w.WriteSlice(tag)
	}

	if s.requestTime {
		w.WriteSlice(protocol.EncodeTimezoneTag(Timezone))
		w.WriteSlice(protocol.EncodeDateTag(now))
	}
	return w.Bytes()
}

// ApplyTelemetry folds a robot status packet back into the state.
func (s *State) ApplyTelemetry(t protocol.Telemetry) {
	s.requestTime = t.RequestDate
}

// ApplyMessage folds a robot TCP message into the state. Diagnostics do not
// change commanded behaviour; they only reach the sinks.
func (s *State) ApplyMessage(protocol.RioMessage) {}

// Tags returns the TCP tags that establish this state with the robot.
func (s *State) Tags() []protocol.Tag {
	return []protocol.Tag{
		protocol.GameData{Data: s.GameData},
		s.MatchInfo,
	}
}

func (s *State) clone() State {
	out := *s
	for i, j := range s.Joysticks {
		out.Joysticks[i] = j.Clone()
	}
	return out
}
