package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPosition = errors.New("alliance position out of range")

// Mode is the robot operating mode, encoded in the low two bits of the
// control and status bytes.
type Mode uint8

const (
	ModeTeleop Mode = 0
	ModeTest   Mode = 1
	ModeAuto   Mode = 2
)

func ModeFromBits(v uint8) (Mode, bool) {
	switch Mode(v & 0b11) {
	case ModeTeleop:
		return ModeTeleop, true
	case ModeTest:
		return ModeTest, true
	case ModeAuto:
		return ModeAuto, true
	default:
		return 0, false
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "teleop", "":
		return ModeTeleop, nil
	case "test":
		return ModeTest, nil
	case "auto", "autonomous":
		return ModeAuto, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeTeleop:
		return "teleop"
	case ModeTest:
		return "test"
	case ModeAuto:
		return "auto"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

type Color uint8

const (
	Red Color = iota
	Blue
)

func (c Color) String() string {
	if c == Blue {
		return "blue"
	}
	return "red"
}

// Alliance is a station assignment: a color and a position in 1..3.
type Alliance struct {
	Color    Color
	Position uint8
}

func NewAlliance(c Color, position uint8) (Alliance, error) {
	if position < 1 || position > 3 {
		return Alliance{}, fmt.Errorf("%w: %d", ErrInvalidPosition, position)
	}
	return Alliance{Color: c, Position: position}, nil
}

func RedAlliance(position uint8) (Alliance, error)  { return NewAlliance(Red, position) }
func BlueAlliance(position uint8) (Alliance, error) { return NewAlliance(Blue, position) }

// ToPositionU8 maps Red 1..3 to 0..2 and Blue 1..3 to 3..5.
func (a Alliance) ToPositionU8() uint8 {
	if a.Color == Blue {
		return a.Position + 2
	}
	return a.Position - 1
}

func AllianceFromPosition(b uint8) (Alliance, error) {
	switch {
	case b < 3:
		return Alliance{Color: Red, Position: b + 1}, nil
	case b < 6:
		return Alliance{Color: Blue, Position: b - 2}, nil
	default:
		return Alliance{}, fmt.Errorf("%w: station byte %d", ErrInvalidPosition, b)
	}
}

// ParseAlliance accepts forms like "red1" or "Blue 3".
func ParseAlliance(s string) (Alliance, error) {
	v := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if len(v) < 2 {
		return Alliance{}, fmt.Errorf("unknown alliance %q", s)
	}
	pos := v[len(v)-1]
	if pos < '1' || pos > '3' {
		return Alliance{}, fmt.Errorf("%w: %q", ErrInvalidPosition, s)
	}
	switch v[:len(v)-1] {
	case "red":
		return NewAlliance(Red, pos-'0')
	case "blue":
		return NewAlliance(Blue, pos-'0')
	default:
		return Alliance{}, fmt.Errorf("unknown alliance %q", s)
	}
}

func (a Alliance) String() string {
	return fmt.Sprintf("%s%d", a.Color, a.Position)
}

type MatchType uint8

const (
	MatchNone          MatchType = 0
	MatchPractice      MatchType = 1
	MatchQualification MatchType = 2
	MatchElimination   MatchType = 3
)

func ParseMatchType(s string) (MatchType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return MatchNone, nil
	case "practice":
		return MatchPractice, nil
	case "qualification", "qual":
		return MatchQualification, nil
	case "elimination", "elim":
		return MatchElimination, nil
	default:
		return 0, fmt.Errorf("unknown match type %q", s)
	}
}

func (m MatchType) String() string {
	switch m {
	case MatchNone:
		return "none"
	case MatchPractice:
		return "practice"
	case MatchQualification:
		return "qualification"
	case MatchElimination:
		return "elimination"
	default:
		return fmt.Sprintf("match(%d)", uint8(m))
	}
}

// Control is the outbound control byte.
type Control uint8

const (
	ControlEstop        Control = 0b1000_0000
	ControlFMSConnected Control = 0b0000_1000
	ControlEnabled      Control = 0b0000_0100
	controlModeMask     Control = 0b0000_0011
)

func NewControl(estop, enabled bool, mode Mode) Control {
	var c Control
	if estop {
		c |= ControlEstop
	}
	// no field management system peer, FMS-connected stays clear
	if enabled {
		c |= ControlEnabled
	}
	return c | Control(mode)&controlModeMask
}

func (c Control) Estop() bool   { return c&ControlEstop != 0 }
func (c Control) Enabled() bool { return c&ControlEnabled != 0 }

func (c Control) Mode() (Mode, bool) {
	return ModeFromBits(uint8(c & controlModeMask))
}

// Request is the outbound request byte.
type Request uint8

const (
	RequestRebootRoborio    Request = 0b0000_1000
	RequestRestartRobotCode Request = 0b0000_0100
)

// Status is the inbound status byte.
type Status struct {
	Estop            bool `json:"estop"`
	Brownout         bool `json:"brownout"`
	CodeInitializing bool `json:"code_initializing"`
	Enabled          bool `json:"enabled"`
	Mode             Mode `json:"mode"`
	ModeValid        bool `json:"mode_valid"`
}

func StatusFromByte(b uint8) Status {
	mode, ok := ModeFromBits(b)
	return Status{
		Estop:            b&0b1000_0000 != 0,
		Brownout:         b&0b0001_0000 != 0,
		CodeInitializing: b&0b0000_1000 != 0,
		Enabled:          b&0b0000_0100 != 0,
		Mode:             mode,
		ModeValid:        ok,
	}
}

// Byte encodes s back into a status byte, for robot simulators.
func (s Status) Byte() uint8 {
	var b uint8
	if s.Estop {
		b |= 0b1000_0000
	}
	if s.Brownout {
		b |= 0b0001_0000
	}
	if s.CodeInitializing {
		b |= 0b0000_1000
	}
	if s.Enabled {
		b |= 0b0000_0100
	}
	return b | uint8(s.Mode)&0b11
}

// Trace is the inbound trace byte.
type Trace struct {
	RobotCode  bool `json:"robot_code"`
	IsRoborio  bool `json:"is_roborio"`
	TestMode   bool `json:"test_mode"`
	AutoMode   bool `json:"auto_mode"`
	TeleopCode bool `json:"teleop_code"`
	Disabled   bool `json:"disabled"`
}

func TraceFromByte(b uint8) Trace {
	return Trace{
		RobotCode:  b&0b0010_0000 != 0,
		IsRoborio:  b&0b0001_0000 != 0,
		TestMode:   b&0b0000_1000 != 0,
		AutoMode:   b&0b0000_0100 != 0,
		TeleopCode: b&0b0000_0010 != 0,
		Disabled:   b&0b0000_0001 != 0,
	}
}

func (t Trace) Byte() uint8 {
	var b uint8
	for i, set := range []bool{t.Disabled, t.TeleopCode, t.AutoMode, t.TestMode, t.IsRoborio, t.RobotCode} {
		if set {
			b |= 1 << i
		}
	}
	return b
}
