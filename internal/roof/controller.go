// Package roof runs the roll-off roof motor. The Controller goroutine is
// the only writer of motor state; HTTP handlers, the push-button and
// signals post intents to it.
package roof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/obsy-sentinel/internal/gpio"
	"github.com/sweeney/obsy-sentinel/internal/mount"
)

// ErrNotRunning is returned by Request when the controller has stopped.
var ErrNotRunning = errors.New("roof: controller not running")

// Intent is a requested roof action.
type Intent int

const (
	IntentOpen Intent = iota
	IntentClose
	IntentStop

	// IntentToggle does what a button press would do next.
	IntentToggle
)

func (i Intent) String() string {
	switch i {
	case IntentOpen:
		return "open"
	case IntentClose:
		return "close"
	case IntentStop:
		return "stop"
	case IntentToggle:
		return "toggle"
	}
	return "unknown"
}

// State is the roof position as last observed by the controller.
type State string

const (
	StateUnknown State = "unknown"
	StateClosed  State = "closed"
	StateOpen    State = "open"
	StateOpening State = "opening"
	StateClosing State = "closing"

	// StatePartial is a roof stopped between the limit switches.
	StatePartial State = "partial"
)

// Result is the controller's answer to an intent.
type Result struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// MountStatus reports the mount's native status code. *mount.Client
// implements it.
type MountStatus interface {
	Status(ctx context.Context) (int, error)
}

// Options configures a Controller.
type Options struct {
	Roof gpio.Roof

	// Mount, if set, must report parked before the roof may close.
	Mount        MountStatus
	MountTimeout time.Duration

	MotionTimeout time.Duration
	MinPress      time.Duration
	Logger        *slog.Logger

	// After is injectable for tests. It defaults to time.After.
	After func(d time.Duration) <-chan time.Time
}

type request struct {
	intent Intent
	reply  chan Result
}

// Snapshot is the controller state for display.
type Snapshot struct {
	State      State  `json:"state"`
	NextButton string `json:"next_button"`
	LastError  string `json:"last_error,omitempty"`
	Moves      uint64 `json:"moves"`
}

// Controller owns the roof motor.
type Controller struct {
	hw           gpio.Roof
	mount        MountStatus
	mountTimeout time.Duration
	timeout      time.Duration
	press        *PressDetector
	log          *slog.Logger
	after        func(d time.Duration) <-chan time.Time

	requests chan request
	done     chan struct{}

	mu   sync.RWMutex
	snap Snapshot
	next Intent
}

// New creates a Controller. Call Run to start it.
func New(opts Options) *Controller {
	c := &Controller{
		hw:           opts.Roof,
		mount:        opts.Mount,
		mountTimeout: opts.MountTimeout,
		timeout:      opts.MotionTimeout,
		press:        NewPressDetector(opts.MinPress),
		log:          opts.Logger,
		after:        opts.After,
		requests:     make(chan request),
		done:         make(chan struct{}),
		snap:         Snapshot{State: StateUnknown},
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.after == nil {
		c.after = time.After
	}
	if c.mountTimeout <= 0 {
		c.mountTimeout = 2 * time.Second
	}
	return c
}

// Request posts an intent and waits for the controller to accept or
// refuse it. Acceptance of open or close means the motor was started.
func (c *Controller) Request(ctx context.Context, intent Intent) (Result, error) {
	req := request{intent: intent, reply: make(chan Result, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return Result{}, ErrNotRunning
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-c.done:
		return Result{}, ErrNotRunning
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Sensor reads one limit switch.
func (c *Controller) Sensor(in gpio.Input) (bool, error) {
	return c.hw.Read(in)
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.snap
	s.NextButton = c.next.String()
	return s
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.snap.State = s
	c.mu.Unlock()
}

func (c *Controller) setError(err error) {
	c.mu.Lock()
	if err != nil {
		c.snap.LastError = err.Error()
	} else {
		c.snap.LastError = ""
	}
	c.mu.Unlock()
}

// Run owns the motor until ctx is cancelled. The motor is stopped on
// entry and on return.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	if err := c.hw.Stop(); err != nil {
		return fmt.Errorf("initial motor stop: %w", err)
	}
	defer c.hw.Stop()

	state := c.observe()
	c.mu.Lock()
	if state == StateClosed {
		c.next = IntentOpen
	} else {
		c.next = IntentClose
	}
	c.mu.Unlock()
	c.log.Info("roof controller started", "state", state, "next_button", c.next)

	edges := c.hw.Edges()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("roof controller stopping")
			return nil
		case e, ok := <-edges:
			if !ok {
				return errors.New("roof: gpio edges closed")
			}
			if e.Input != gpio.InputButton {
				c.log.Info("roof limit changed while idle", "input", e.Input, "active", e.Active, "state", c.observe())
				continue
			}
			if pressed, held := c.press.Edge(e); pressed {
				c.log.Info("button pressed", "held", held)
				c.execute(ctx, IntentToggle, nil)
			} else if !e.Active && held > 0 {
				c.log.Info("button press too brief", "held", held)
			}
		case req := <-c.requests:
			c.execute(ctx, req.intent, req.reply)
		}
	}
}

// observe reads both limit switches into the state.
func (c *Controller) observe() State {
	open, errO := c.hw.Read(gpio.InputOpenLimit)
	closed, errC := c.hw.Read(gpio.InputClosedLimit)
	state := StatePartial
	switch {
	case errO != nil || errC != nil:
		state = StateUnknown
		c.log.Error("roof sensor read failed", "open_err", errO, "closed_err", errC)
	case closed && open:
		state = StateUnknown
		c.log.Error("both roof limit switches active")
	case closed:
		state = StateClosed
	case open:
		state = StateOpen
	}
	c.setState(state)
	return state
}

func reply(ch chan Result, res Result) {
	if ch != nil {
		ch <- res
	}
}

func (c *Controller) execute(ctx context.Context, intent Intent, replyTo chan Result) {
	if intent == IntentToggle {
		c.mu.RLock()
		intent = c.next
		c.mu.RUnlock()
	}

	switch intent {
	case IntentStop:
		c.log.Info("roof is not moving, nothing to stop")
		reply(replyTo, Result{Reason: "roof is not moving"})
	case IntentOpen:
		if open, err := c.hw.Read(gpio.InputOpenLimit); err != nil {
			reply(replyTo, Result{Reason: err.Error()})
			return
		} else if open {
			c.log.Info("refusing to open, roof is already open")
			reply(replyTo, Result{Reason: "roof is already open"})
			return
		}
		c.move(ctx, gpio.DirectionOpen, replyTo)
	case IntentClose:
		if closed, err := c.hw.Read(gpio.InputClosedLimit); err != nil {
			reply(replyTo, Result{Reason: err.Error()})
			return
		} else if closed {
			c.log.Info("refusing to close, roof is already closed")
			reply(replyTo, Result{Reason: "roof is already closed"})
			return
		}
		if reason := c.mountBlocksClose(ctx); reason != "" {
			c.log.Warn("refusing to close roof", "reason", reason)
			reply(replyTo, Result{Reason: reason})
			return
		}
		c.move(ctx, gpio.DirectionClose, replyTo)
	}
}

// mountBlocksClose returns a reason when the mount is not confirmed parked.
func (c *Controller) mountBlocksClose(ctx context.Context) string {
	if c.mount == nil {
		return ""
	}
	mctx, cancel := context.WithTimeout(ctx, c.mountTimeout)
	defer cancel()
	code, err := c.mount.Status(mctx)
	if err != nil {
		return fmt.Sprintf("mount status unavailable: %v", err)
	}
	if code != mount.StatusParked {
		return fmt.Sprintf("mount is not parked (status %d)", code)
	}
	return ""
}

// move runs the motor towards dir's limit switch until it is reached, a
// stop is requested, the button is pressed or the motion times out.
func (c *Controller) move(ctx context.Context, dir gpio.Direction, replyTo chan Result) {
	limit, moving, opposite := gpio.InputOpenLimit, StateOpening, IntentClose
	if dir == gpio.DirectionClose {
		limit, moving, opposite = gpio.InputClosedLimit, StateClosing, IntentOpen
	}

	if err := c.hw.Drive(dir); err != nil {
		c.hw.Stop()
		c.setError(err)
		c.log.Error("motor start failed", "direction", dir, "err", err)
		reply(replyTo, Result{Reason: err.Error()})
		return
	}
	c.mu.Lock()
	c.snap.State = moving
	c.snap.Moves++
	c.next = IntentStop
	c.mu.Unlock()
	c.log.Info("roof moving", "direction", dir)
	reply(replyTo, Result{Accepted: true})

	why, err := c.waitMotion(ctx, limit)
	if stopErr := c.hw.Stop(); stopErr != nil {
		err = errors.Join(err, fmt.Errorf("motor stop: %w", stopErr))
	}
	c.setError(err)

	state := c.observe()
	c.mu.Lock()
	c.next = opposite
	c.mu.Unlock()
	if err != nil {
		c.log.Error("roof motion ended", "direction", dir, "why", why, "state", state, "err", err)
		return
	}
	c.log.Info("roof motion ended", "direction", dir, "why", why, "state", state)
}

func (c *Controller) waitMotion(ctx context.Context, limit gpio.Input) (string, error) {
	if reached, _ := c.hw.Read(limit); reached {
		return "limit", nil
	}
	var timeout <-chan time.Time
	if c.timeout > 0 {
		timeout = c.after(c.timeout)
	}
	edges := c.hw.Edges()
	for {
		select {
		case <-ctx.Done():
			return "cancelled", nil
		case <-timeout:
			return "timeout", fmt.Errorf("limit %s not reached within %v", limit, c.timeout)
		case e, ok := <-edges:
			if !ok {
				return "gpio closed", errors.New("roof: gpio edges closed")
			}
			if e.Input == limit && e.Active {
				return "limit", nil
			}
			if pressed, _ := c.press.Edge(e); pressed {
				return "button", nil
			}
		case req := <-c.requests:
			if req.intent == IntentStop || req.intent == IntentToggle {
				req.reply <- Result{Accepted: true}
				return "stop requested", nil
			}
			req.reply <- Result{Reason: "roof is moving"}
		}
	}
}
