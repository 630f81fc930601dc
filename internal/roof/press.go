package roof

import (
	"time"

	"github.com/sweeney/obsy-sentinel/internal/gpio"
)

// PressDetector turns button edges into presses. A press counts when the
// button is released after being held for at least Min.
type PressDetector struct {
	Min time.Duration

	down   time.Time
	isDown bool
}

// NewPressDetector creates a PressDetector. A zero min counts every press.
func NewPressDetector(min time.Duration) *PressDetector {
	return &PressDetector{Min: min}
}

// Edge consumes one button edge and reports whether it completed a valid
// press, with the held duration. Edges for other inputs are ignored.
func (p *PressDetector) Edge(e gpio.Edge) (pressed bool, held time.Duration) {
	if e.Input != gpio.InputButton {
		return false, 0
	}
	if e.Active {
		p.down, p.isDown = e.Time, true
		return false, 0
	}
	if !p.isDown {
		return false, 0
	}
	p.isDown = false
	held = e.Time.Sub(p.down)
	return held >= p.Min, held
}
