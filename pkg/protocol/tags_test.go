package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dslink/pkg/protocol"
)

func TestEncodeGameData(t *testing.T) {
	got := protocol.EncodeTag(protocol.GameData{Data: "abc"})
	assert.Equal(t, []byte{0x00, 0x04, 0x0E, 'a', 'b', 'c'}, got)
}

func TestEncodeMatchInfo(t *testing.T) {
	got := protocol.EncodeTag(protocol.MatchInfo{Competition: "ab", MatchType: protocol.MatchQualification})
	assert.Equal(t, []byte{0x00, 0x04, 0x07, 'a', 'b', 0x02}, got)
}

func TestEncodeEmptyGameData(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0x01, 0x0E}, protocol.EncodeTag(protocol.GameData{}))
}

func TestJoystickDescriptorEncodesNothing(t *testing.T) {
	assert.Empty(t, protocol.EncodeTag(protocol.JoystickDescriptor{Index: 1}))
	assert.Empty(t, protocol.JoystickDescriptor{}.Payload())
}

type draftTag struct{ ready bool }

func (draftTag) ID() uint8         { return 0x30 }
func (draftTag) Payload() []byte   { return []byte{0xAA} }
func (d draftTag) Encodable() bool { return d.ready }

func TestEncodeTagHonoursEncodable(t *testing.T) {
	assert.Nil(t, protocol.EncodeTag(draftTag{}))
	assert.Equal(t, []byte{0x00, 0x02, 0x30, 0xAA}, protocol.EncodeTag(draftTag{ready: true}))
	assert.Nil(t, protocol.EncodeTag(&protocol.JoystickDescriptor{}))
}
