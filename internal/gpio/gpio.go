// Package gpio provides the roof hardware with a hardware abstraction:
// two limit sensors, the motor start and direction relays, and the
// push-button. The real implementation uses the Linux GPIO character
// device. The fake implementation allows testing without hardware.
package gpio

import "time"

// Input identifies one roof input line.
type Input int

const (
	InputOpenLimit Input = iota
	InputClosedLimit
	InputButton
)

func (i Input) String() string {
	switch i {
	case InputOpenLimit:
		return "open_limit"
	case InputClosedLimit:
		return "closed_limit"
	case InputButton:
		return "button"
	}
	return "unknown"
}

// Direction selects which way the motor turns.
type Direction int

const (
	DirectionOpen Direction = iota
	DirectionClose
)

func (d Direction) String() string {
	if d == DirectionClose {
		return "close"
	}
	return "open"
}

// Edge is a change on an input line. Active means the limit is reached
// or the button is held down.
type Edge struct {
	Input  Input
	Active bool
	Time   time.Time
}

// Roof reads the roof inputs and drives the roof motor.
type Roof interface {
	// Read returns the logical state of an input.
	Read(in Input) (bool, error)

	// Drive sets the direction relay and then starts the motor.
	Drive(dir Direction) error

	// Stop switches the motor off and returns the direction relay to rest.
	Stop() error

	// Edges delivers input changes. It is closed by Close.
	Edges() <-chan Edge

	// Close stops the motor and releases GPIO resources.
	Close() error
}

// Pins are line offsets on the GPIO chip (BCM numbering).
type Pins struct {
	OpenSensor     int
	ClosedSensor   int
	MotorStart     int
	MotorDirection int
	Button         int
}

// edgeBuffer bounds how many unread edges are kept before new ones are
// dropped.
const edgeBuffer = 32
