package protocol

import (
	"errors"
	"fmt"
	"time"
)

const (
	// CommVersion is the protocol generation sent in every control packet.
	CommVersion uint8 = 0x01

	NumJoysticks = 6

	UDPTagJoystick uint8 = 0x0C
	UDPTagDate     uint8 = 0x0F
	UDPTagTimezone uint8 = 0x10

	controlHeaderSize = 6
	dateTagSize       = 11
)

var ErrShortControl = errors.New("control packet too short")

// JoystickData is the wire content of one joystick tag.
type JoystickData struct {
	Axes    []int8
	Buttons []bool
	Povs    []int16
}

// EncodeJoystickTag encodes axis count and values, button count and buttons
// packed MSB first, then pov count and povs as BE i16.
func EncodeJoystickTag(j JoystickData) []byte {
	w := NewPacketWriter()
	w.WriteU8(uint8(len(j.Axes)))
	for _, a := range j.Axes {
		w.WriteI8(a)
	}

	w.WriteU8(uint8(len(j.Buttons)))
	var b uint8
	bit := 7
	for _, pressed := range j.Buttons {
		if pressed {
			b |= 1 << bit
		}
		bit--
		if bit < 0 {
			w.WriteU8(b)
			b, bit = 0, 7
		}
	}
	if bit != 7 {
		w.WriteU8(b)
	}

	w.WriteU8(uint8(len(j.Povs)))
	for _, p := range j.Povs {
		w.WriteI16(p)
	}
	return w.Bytes()
}

func DecodeJoystickTag(b []byte) (JoystickData, error) {
	r := NewPacketReader(b)
	var j JoystickData

	n, ok := r.NextU8()
	if !ok {
		return j, fmt.Errorf("%w: joystick axis count", ErrShortControl)
	}
	j.Axes = make([]int8, n)
	for i := range j.Axes {
		v, ok := r.NextU8()
		if !ok {
			return j, fmt.Errorf("%w: joystick axis %d", ErrShortControl, i)
		}
		j.Axes[i] = int8(v)
	}

	n, ok = r.NextU8()
	if !ok {
		return j, fmt.Errorf("%w: joystick button count", ErrShortControl)
	}
	packed, ok := r.NextBytes((int(n) + 7) / 8)
	if !ok {
		return j, fmt.Errorf("%w: joystick buttons", ErrShortControl)
	}
	j.Buttons = make([]bool, n)
	for i := range j.Buttons {
		j.Buttons[i] = packed[i/8]&(1<<(7-i%8)) != 0
	}

	n, ok = r.NextU8()
	if !ok {
		return j, fmt.Errorf("%w: joystick pov count", ErrShortControl)
	}
	j.Povs = make([]int16, n)
	for i := range j.Povs {
		v, ok := r.NextU16()
		if !ok {
			return j, fmt.Errorf("%w: joystick pov %d", ErrShortControl, i)
		}
		j.Povs[i] = int16(v)
	}
	return j, nil
}

// EncodeDateTag encodes the wall clock as the 11 byte date tag.
func EncodeDateTag(now time.Time) []byte {
	now = now.UTC()
	w := NewPacketWriter()
	w.WriteU8(dateTagSize)
	w.WriteU8(UDPTagDate)
	w.WriteU32(uint32(now.Nanosecond() / 1000))
	w.WriteU8(uint8(now.Second()))
	w.WriteU8(uint8(now.Minute()))
	w.WriteU8(uint8(now.Hour()))
	w.WriteU8(uint8(now.Day()))
	w.WriteU8(uint8(now.Month() - 1))
	w.WriteU8(uint8(now.Year() - 1900))
	return w.Bytes()
}

func EncodeTimezoneTag(name string) []byte {
	w := NewPacketWriter()
	w.WriteU8(uint8(len(name) + 1))
	w.WriteU8(UDPTagTimezone)
	w.WriteString(name)
	return w.Bytes()
}

// ControlFrame is a decoded DS->robot control packet. The DS only encodes
// these; decoding serves robot simulators and tests.
type ControlFrame struct {
	SequenceNum uint16
	CommVersion uint8
	Control     Control
	Request     Request
	Station     uint8
	Joysticks   [NumJoysticks]*JoystickData
	Timezone    string
	Date        time.Time
	HasDate     bool
}

func DecodeControlFrame(b []byte) (ControlFrame, error) {
	var f ControlFrame
	if len(b) < controlHeaderSize {
		return f, fmt.Errorf("%w: %d bytes", ErrShortControl, len(b))
	}
	r := NewPacketReader(b)
	f.SequenceNum, _ = r.NextU16()
	f.CommVersion, _ = r.NextU8()
	c, _ := r.NextU8()
	req, _ := r.NextU8()
	f.Control, f.Request = Control(c), Request(req)
	f.Station, _ = r.NextU8()

	stick := 0
	for r.Len() > 0 {
		size, _ := r.NextU8()
		if size == 0 {
			return f, fmt.Errorf("%w: zero sized tag", ErrShortControl)
		}
		body, ok := r.NextBytes(int(size))
		if !ok {
			return f, fmt.Errorf("%w: tag body", ErrShortControl)
		}
		id, data := body[0], body[1:]
		switch id {
		case UDPTagJoystick:
			if stick >= NumJoysticks {
				return f, fmt.Errorf("too many joystick tags")
			}
			if len(data) > 0 {
				j, err := DecodeJoystickTag(data)
				if err != nil {
					return f, err
				}
				f.Joysticks[stick] = &j
			}
			stick++
		case UDPTagTimezone:
			f.Timezone = string(data)
		case UDPTagDate:
			if len(data) != dateTagSize-1 {
				return f, fmt.Errorf("%w: date tag", ErrShortControl)
			}
			dr := NewPacketReader(data)
			micros, _ := dr.NextU32()
			sec, _ := dr.NextU8()
			minute, _ := dr.NextU8()
			hour, _ := dr.NextU8()
			day, _ := dr.NextU8()
			month, _ := dr.NextU8()
			year, _ := dr.NextU8()
			f.Date = time.Date(int(year)+1900, time.Month(month)+1, int(day),
				int(hour), int(minute), int(sec), int(micros)*1000, time.UTC)
			f.HasDate = true
		}
	}
	return f, nil
}
