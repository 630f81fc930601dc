package gpio

import (
	"errors"
	"sync"
	"time"
)

// Motion is one recorded motor command.
type Motion struct {
	Running   bool
	Direction Direction
}

// FakeRoof is a test double with settable inputs and recorded motor
// commands.
type FakeRoof struct {
	mu     sync.Mutex
	inputs map[Input]bool
	edges  chan Edge
	closed bool

	// Motions records every Drive and Stop call in order.
	Motions []Motion

	// ReadError, if set, is returned by Read.
	ReadError error

	// DriveError, if set, is returned by Drive.
	DriveError error

	// OnDrive, if set, is called after Drive records the motion. It runs
	// without the lock held so it may call Set.
	OnDrive func(dir Direction)
}

// NewFakeRoof creates a FakeRoof with every input inactive.
func NewFakeRoof() *FakeRoof {
	return &FakeRoof{
		inputs: make(map[Input]bool),
		edges:  make(chan Edge, edgeBuffer),
	}
}

// Set changes an input and delivers the edge if the state changed.
func (f *FakeRoof) Set(in Input, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inputs[in] == active || f.closed {
		f.inputs[in] = active
		return
	}
	f.inputs[in] = active
	select {
	case f.edges <- Edge{Input: in, Active: active, Time: time.Now()}:
	default:
	}
}

// Press delivers a button edge pair with the given hold duration between
// their timestamps.
func (f *FakeRoof) Press(at time.Time, hold time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edges <- Edge{Input: InputButton, Active: true, Time: at}
	f.edges <- Edge{Input: InputButton, Active: false, Time: at.Add(hold)}
}

// SetReadError sets ReadError under the lock.
func (f *FakeRoof) SetReadError(err error) {
	f.mu.Lock()
	f.ReadError = err
	f.mu.Unlock()
}

func (f *FakeRoof) Read(in Input) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return false, f.ReadError
	}
	return f.inputs[in], nil
}

func (f *FakeRoof) Drive(dir Direction) error {
	f.mu.Lock()
	if f.DriveError != nil {
		err := f.DriveError
		f.mu.Unlock()
		return err
	}
	if f.closed {
		f.mu.Unlock()
		return errors.New("gpio: closed")
	}
	f.Motions = append(f.Motions, Motion{Running: true, Direction: dir})
	hook := f.OnDrive
	f.mu.Unlock()

	if hook != nil {
		hook(dir)
	}
	return nil
}

func (f *FakeRoof) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Motions = append(f.Motions, Motion{})
	return nil
}

// Running reports whether the last motor command left the motor on.
func (f *FakeRoof) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Motions) == 0 {
		return false
	}
	return f.Motions[len(f.Motions)-1].Running
}

// MotionLog returns a copy of the recorded motor commands.
func (f *FakeRoof) MotionLog() []Motion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Motion(nil), f.Motions...)
}

func (f *FakeRoof) Edges() <-chan Edge {
	return f.edges
}

func (f *FakeRoof) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.Motions = append(f.Motions, Motion{})
		close(f.edges)
	}
	return nil
}

// IsClosed reports whether Close was called.
func (f *FakeRoof) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
