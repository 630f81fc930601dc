package mount

import (
	"context"
	"sync"
)

// Fake is an in-memory Native for tests.
type Fake struct {
	mu sync.Mutex

	StatusCode int
	Dec        float64
	RA         float64

	// Err, when set, is returned by every call.
	Err error

	// OnPark, if set, runs on each Park call with the lock held.
	OnPark func(f *Fake)

	ParkCalls int
}

// NewFake returns a Fake that reports parked at the given position.
func NewFake(dec, ra float64) *Fake {
	return &Fake{StatusCode: StatusParked, Dec: dec, RA: ra}
}

func (f *Fake) Status(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	return f.StatusCode, nil
}

func (f *Fake) Declination(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	return f.Dec, nil
}

func (f *Fake) RightAscension(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	return f.RA, nil
}

func (f *Fake) Park(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ParkCalls++
	if f.Err != nil {
		return f.Err
	}
	if f.OnPark != nil {
		f.OnPark(f)
	}
	return nil
}

// Set updates status and position.
func (f *Fake) Set(status int, dec, ra float64) {
	f.mu.Lock()
	f.StatusCode, f.Dec, f.RA = status, dec, ra
	f.mu.Unlock()
}

// Parks returns the number of Park calls so far.
func (f *Fake) Parks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ParkCalls
}
