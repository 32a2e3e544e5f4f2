package ds

import (
	"errors"
	"fmt"

	"dslink/pkg/protocol"
)

var ErrIndexOutOfRange = errors.New("joystick index out of range")

// Joystick is a snapshot of one controller's inputs. Pov value -1 means centered.
type Joystick struct {
	buttons []bool
	axes    []int8
	povs    []int16
}

func NewJoystick(numButtons, numAxes, numPovs uint8) *Joystick {
	j := &Joystick{
		buttons: make([]bool, numButtons),
		axes:    make([]int8, numAxes),
		povs:    make([]int16, numPovs),
	}
	for i := range j.povs {
		j.povs[i] = -1
	}
	return j
}

func (j *Joystick) NumButtons() int { return len(j.buttons) }
func (j *Joystick) NumAxes() int    { return len(j.axes) }
func (j *Joystick) NumPovs() int    { return len(j.povs) }

func (j *Joystick) SetButton(index int, pressed bool) error {
	if index < 0 || index >= len(j.buttons) {
		return fmt.Errorf("%w: button %d of %d", ErrIndexOutOfRange, index, len(j.buttons))
	}
	j.buttons[index] = pressed
	return nil
}

func (j *Joystick) SetAxis(index int, value int8) error {
	if index < 0 || index >= len(j.axes) {
		return fmt.Errorf("%w: axis %d of %d", ErrIndexOutOfRange, index, len(j.axes))
	}
	j.axes[index] = value
	return nil
}

func (j *Joystick) SetPov(index int, value int16) error {
	if index < 0 || index >= len(j.povs) {
		return fmt.Errorf("%w: pov %d of %d", ErrIndexOutOfRange, index, len(j.povs))
	}
	j.povs[index] = value
	return nil
}

func (j *Joystick) Button(index int) (bool, bool) {
	if index < 0 || index >= len(j.buttons) {
		return false, false
	}
	return j.buttons[index], true
}

func (j *Joystick) Axis(index int) (int8, bool) {
	if index < 0 || index >= len(j.axes) {
		return 0, false
	}
	return j.axes[index], true
}

func (j *Joystick) Pov(index int) (int16, bool) {
	if index < 0 || index >= len(j.povs) {
		return 0, false
	}
	return j.povs[index], true
}

func (j *Joystick) Clone() *Joystick {
	if j == nil {
		return nil
	}
	return &Joystick{
		buttons: append([]bool(nil), j.buttons...),
		axes:    append([]int8(nil), j.axes...),
		povs:    append([]int16(nil), j.povs...),
	}
}

func (j *Joystick) Data() protocol.JoystickData {
	return protocol.JoystickData{Axes: j.axes, Buttons: j.buttons, Povs: j.povs}
}

// Tag is the joystick's control packet tag body, without size and id.
func (j *Joystick) Tag() []byte {
	return protocol.EncodeJoystickTag(j.Data())
}
