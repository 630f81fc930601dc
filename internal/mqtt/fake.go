package mqtt

import (
	"sync"
	"time"
)

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	Decisions []DecisionEvent
	Steps     []StepEvent
	System    []SystemEvent
	Alerts    []string

	// Err, if set, is returned by every Publish method.
	Err error

	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) PublishDecision(e DecisionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Decisions = append(f.Decisions, e)
	return nil
}

func (f *FakePublisher) PublishStep(e StepEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Steps = append(f.Steps, e)
	return nil
}

func (f *FakePublisher) PublishSystem(e SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.System = append(f.System, e)
	return nil
}

func (f *FakePublisher) PublishAlert(msg string, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Alerts = append(f.Alerts, msg)
	return nil
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// DecisionLog returns a copy of the recorded decisions.
func (f *FakePublisher) DecisionLog() []DecisionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DecisionEvent(nil), f.Decisions...)
}

// StepLog returns a copy of the recorded step events.
func (f *FakePublisher) StepLog() []StepEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StepEvent(nil), f.Steps...)
}

// SystemLog returns a copy of the recorded system events.
func (f *FakePublisher) SystemLog() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.System...)
}
