//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// sensorDebounce filters contact bounce on the limit switches.
const sensorDebounce = 10 * time.Millisecond

// RealRoof drives actual hardware through the Linux GPIO character device.
type RealRoof struct {
	chip   *gpiocdev.Chip
	open   *gpiocdev.Line
	closed *gpiocdev.Line
	button *gpiocdev.Line
	start  *gpiocdev.Line
	dir    *gpiocdev.Line

	edges     chan Edge
	closeOnce sync.Once
	mu        sync.Mutex
	closing   bool
}

// NewRealRoof requests every roof line on chip. The motor is stopped on
// return.
func NewRealRoof(chip string, pins Pins) (*RealRoof, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	r := &RealRoof{chip: c, edges: make(chan Edge, edgeBuffer)}

	// Outputs first so the motor relay is driven low as early as possible.
	if r.start, err = c.RequestLine(pins.MotorStart, gpiocdev.AsOutput(0)); err != nil {
		r.release()
		return nil, fmt.Errorf("request motor start pin %d: %w", pins.MotorStart, err)
	}
	if r.dir, err = c.RequestLine(pins.MotorDirection, gpiocdev.AsOutput(0)); err != nil {
		r.release()
		return nil, fmt.Errorf("request motor direction pin %d: %w", pins.MotorDirection, err)
	}

	if r.open, err = c.RequestLine(pins.OpenSensor,
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithDebounce(sensorDebounce),
		gpiocdev.WithEventHandler(r.handler(InputOpenLimit))); err != nil {
		r.release()
		return nil, fmt.Errorf("request open sensor pin %d: %w", pins.OpenSensor, err)
	}
	if r.closed, err = c.RequestLine(pins.ClosedSensor,
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithDebounce(sensorDebounce),
		gpiocdev.WithEventHandler(r.handler(InputClosedLimit))); err != nil {
		r.release()
		return nil, fmt.Errorf("request closed sensor pin %d: %w", pins.ClosedSensor, err)
	}

	// The button pulls the line to ground when pressed.
	if r.button, err = c.RequestLine(pins.Button,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.AsActiveLow,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(r.handler(InputButton))); err != nil {
		r.release()
		return nil, fmt.Errorf("request button pin %d: %w", pins.Button, err)
	}

	return r, nil
}

func (r *RealRoof) handler(in Input) gpiocdev.EventHandler {
	return func(evt gpiocdev.LineEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closing {
			return
		}
		e := Edge{Input: in, Active: evt.Type == gpiocdev.LineEventRisingEdge, Time: time.Now()}
		select {
		case r.edges <- e:
		default:
		}
	}
}

func (r *RealRoof) line(in Input) *gpiocdev.Line {
	switch in {
	case InputOpenLimit:
		return r.open
	case InputClosedLimit:
		return r.closed
	default:
		return r.button
	}
}

// Read returns the logical state of an input.
func (r *RealRoof) Read(in Input) (bool, error) {
	v, err := r.line(in).Value()
	if err != nil {
		return false, fmt.Errorf("read %s: %w", in, err)
	}
	return v == 1, nil
}

// Drive sets the direction relay (high = close) and then starts the motor.
func (r *RealRoof) Drive(dir Direction) error {
	v := 0
	if dir == DirectionClose {
		v = 1
	}
	if err := r.dir.SetValue(v); err != nil {
		return fmt.Errorf("set direction %s: %w", dir, err)
	}
	if err := r.start.SetValue(1); err != nil {
		return fmt.Errorf("start motor: %w", err)
	}
	return nil
}

// Stop switches the motor off, then drops the direction relay.
func (r *RealRoof) Stop() error {
	if err := r.start.SetValue(0); err != nil {
		return fmt.Errorf("stop motor: %w", err)
	}
	if err := r.dir.SetValue(0); err != nil {
		return fmt.Errorf("reset direction: %w", err)
	}
	return nil
}

// Edges delivers input changes.
func (r *RealRoof) Edges() <-chan Edge {
	return r.edges
}

// Close stops the motor and releases GPIO resources. Output lines are
// reconfigured as inputs with pull-down, matching Pi boot defaults.
func (r *RealRoof) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.start != nil {
			r.start.SetValue(0)
		}
		err = r.release()
		r.mu.Lock()
		r.closing = true
		close(r.edges)
		r.mu.Unlock()
	})
	return err
}

func (r *RealRoof) release() error {
	var errs []error
	for _, l := range []*gpiocdev.Line{r.start, r.dir} {
		if l == nil {
			continue
		}
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line: %w", err))
		}
	}
	for _, l := range []*gpiocdev.Line{r.start, r.dir, r.open, r.closed, r.button} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
