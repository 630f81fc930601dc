// Package ekos drives the observatory's scheduling and imaging service
// (KStars/Ekos) over the D-Bus session bus.
package ekos

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

const busName = "org.kde.kstars"

// Modules whose running operation can be aborted, in abort order.
var Modules = []string{"Capture", "Focus", "Align", "Guide"}

// Service is the stop/abort surface of the scheduling service. Each verb
// may fail independently.
type Service interface {
	StartScheduler(ctx context.Context) error
	StopScheduler(ctx context.Context) error
	Abort(ctx context.Context, module string) error
}

// callFunc invokes iface.method on the object at path.
type callFunc func(ctx context.Context, path dbus.ObjectPath, iface, method string, args ...any) error

// Client talks to Ekos over D-Bus.
type Client struct {
	call callFunc
	log  *slog.Logger

	mu   sync.Mutex
	conn *dbus.Conn
}

// NewClient returns a Client that connects to the session bus on first use.
func NewClient(log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{log: log}
	c.call = c.busCall
	return c
}

func (c *Client) busCall(ctx context.Context, path dbus.ObjectPath, iface, method string, args ...any) error {
	c.mu.Lock()
	if c.conn == nil {
		conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("ekos: session bus: %w", err)
		}
		c.conn = conn
	}
	conn := c.conn
	c.mu.Unlock()

	return conn.Object(busName, path).CallWithContext(ctx, iface+"."+method, 0, args...).Err
}

func (c *Client) invoke(ctx context.Context, module, method string, args ...any) error {
	path := dbus.ObjectPath("/KStars/Ekos/" + module)
	iface := "org.kde.kstars.Ekos." + module
	err := c.call(ctx, path, iface, method, args...)
	c.log.Debug("ekos call", "module", module, "method", method, "err", err)
	if err != nil {
		return fmt.Errorf("ekos: %s.%s: %w", module, method, err)
	}
	return nil
}

// StartScheduler starts the observation scheduler.
func (c *Client) StartScheduler(ctx context.Context) error {
	return c.invoke(ctx, "Scheduler", "start")
}

// StopScheduler stops the observation scheduler. Stopping does not park or
// close anything.
func (c *Client) StopScheduler(ctx context.Context) error {
	return c.invoke(ctx, "Scheduler", "stop")
}

// Abort aborts the running operation of module (Capture, Focus, Align, Guide).
func (c *Client) Abort(ctx context.Context, module string) error {
	return c.invoke(ctx, module, "abort")
}

// Close releases the bus connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Fake is an in-memory Service for tests.
type Fake struct {
	mu sync.Mutex

	// Errors maps "Scheduler.start", "Scheduler.stop" or "<Module>.abort"
	// to the error returned by that call.
	Errors map[string]error
	Calls  []string
}

func NewFake() *Fake {
	return &Fake{Errors: make(map[string]error)}
}

func (f *Fake) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, name)
	return f.Errors[name]
}

func (f *Fake) StartScheduler(ctx context.Context) error { return f.record("Scheduler.start") }
func (f *Fake) StopScheduler(ctx context.Context) error  { return f.record("Scheduler.stop") }
func (f *Fake) Abort(ctx context.Context, module string) error {
	return f.record(module + ".abort")
}

// CallLog returns a copy of the recorded calls.
func (f *Fake) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}
