package protocol

import "encoding/binary"

// Tag ids of DS->robot TCP tags.
const (
	TagJoystickDescriptor uint8 = 0x02
	TagMatchInfo          uint8 = 0x07
	TagGameData           uint8 = 0x0E
)

// Tag is a DS->robot TCP tag: a one byte id and a payload. Encodable is
// false for tags whose wire layout is not defined; they are never sent.
type Tag interface {
	ID() uint8
	Payload() []byte
	Encodable() bool
}

// EncodeTag frames a tag as u16 length (id + payload), id, payload.
// Tags that are not encodable encode to nothing.
func EncodeTag(t Tag) []byte {
	if !t.Encodable() {
		return nil
	}
	payload := t.Payload()
	out := make([]byte, 3, 3+len(payload))
	binary.BigEndian.PutUint16(out, uint16(1+len(payload)))
	out[2] = t.ID()
	return append(out, payload...)
}

type MatchInfo struct {
	Competition string
	MatchType   MatchType
}

func (MatchInfo) ID() uint8       { return TagMatchInfo }
func (MatchInfo) Encodable() bool { return true }

func (m MatchInfo) Payload() []byte {
	out := make([]byte, 0, len(m.Competition)+1)
	out = append(out, m.Competition...)
	return append(out, uint8(m.MatchType))
}

type GameData struct {
	Data string
}

func (GameData) ID() uint8       { return TagGameData }
func (GameData) Encodable() bool { return true }

func (g GameData) Payload() []byte {
	return []byte(g.Data)
}

// JoystickDescriptor describes a joystick to the robot. Its layout has not been
// defined yet, so it is sent with an empty payload.
type JoystickDescriptor struct {
	Index     uint8
	IsXbox    bool
	Name      string
	AxisCount uint8
	Buttons   uint8
	Povs      uint8
}

func (JoystickDescriptor) ID() uint8       { return TagJoystickDescriptor }
func (JoystickDescriptor) Encodable() bool { return false }
func (JoystickDescriptor) Payload() []byte { return nil }
