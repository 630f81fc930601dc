package indi

import (
	"context"
	"fmt"
	"sync"
)

// Fake is a Gateway test double backed by an in-memory property table.
type Fake struct {
	mu sync.Mutex

	// Values holds the current value of each property. A Set that is not
	// Stuck writes through to Values.
	Values map[string]string

	// Script holds scripted responses per property. Each Get consumes the
	// next value; the last value repeats once the script is exhausted.
	// Script takes precedence over Values.
	Script map[string][]string

	// GetErrors and SetErrors, if set for a property, are returned instead.
	GetErrors map[string]error
	SetErrors map[string]error

	// Stuck properties accept Set but never change value.
	Stuck map[string]bool

	// OnSet, if set, is called after every accepted Set.
	OnSet func(property, value string)

	// Calls records every call in order as "get <prop>" or "set <prop>=<value>".
	Calls []string
}

// NewFake creates a Fake holding the given property values.
func NewFake(values map[string]string) *Fake {
	if values == nil {
		values = make(map[string]string)
	}
	return &Fake{
		Values:    values,
		Script:    make(map[string][]string),
		GetErrors: make(map[string]error),
		SetErrors: make(map[string]error),
		Stuck:     make(map[string]bool),
	}
}

// Get returns the scripted or stored value for property.
func (f *Fake) Get(ctx context.Context, property string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, "get "+property)
	if err := f.GetErrors[property]; err != nil {
		return "", err
	}
	if seq := f.Script[property]; len(seq) > 0 {
		v := seq[0]
		if len(seq) > 1 {
			f.Script[property] = seq[1:]
		}
		return v, nil
	}
	v, ok := f.Values[property]
	if !ok {
		return "", fmt.Errorf("get %q: %w: no such property", property, ErrFail)
	}
	return v, nil
}

// Set records the call and applies value unless the property is stuck.
func (f *Fake) Set(ctx context.Context, property, value string) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, "set "+property+"="+value)
	if err := f.SetErrors[property]; err != nil {
		f.mu.Unlock()
		return err
	}
	if !f.Stuck[property] {
		f.Values[property] = value
		delete(f.Script, property)
	}
	hook := f.OnSet
	f.mu.Unlock()

	if hook != nil {
		hook(property, value)
	}
	return nil
}

// SetValue changes a stored value directly, bypassing call recording.
func (f *Fake) SetValue(property, value string) {
	f.mu.Lock()
	f.Values[property] = value
	f.mu.Unlock()
}

// CallLog returns a copy of the recorded calls.
func (f *Fake) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

// SetCalls returns only the recorded set calls.
func (f *Fake) SetCalls() []string {
	var out []string
	for _, c := range f.CallLog() {
		if len(c) > 4 && c[:4] == "set " {
			out = append(out, c[4:])
		}
	}
	return out
}
