//go:build !linux

package gpio

import "errors"

// RealRoof is not available on non-Linux platforms.
type RealRoof struct{}

// NewRealRoof returns an error on non-Linux platforms.
func NewRealRoof(chip string, pins Pins) (*RealRoof, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

func (r *RealRoof) Read(in Input) (bool, error) {
	return false, errors.New("gpio: not supported")
}

func (r *RealRoof) Drive(dir Direction) error {
	return errors.New("gpio: not supported")
}

func (r *RealRoof) Stop() error {
	return errors.New("gpio: not supported")
}

func (r *RealRoof) Edges() <-chan Edge {
	return nil
}

func (r *RealRoof) Close() error {
	return nil
}
