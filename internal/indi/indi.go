// Package indi talks to the instrument control service through its
// indi_getprop and indi_setprop command line clients.
//
// Each call is a single blocking round trip bounded by a timeout. There are
// no retries here: callers decide policy.
package indi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrFail is returned when the service rejects a command or returns nothing.
	ErrFail = errors.New("indi: command failed")

	// ErrTimeout is returned when a command does not complete in time.
	ErrTimeout = errors.New("indi: command timed out")
)

// Gateway is the property get/set surface of the instrument control service.
// Properties are addressed as "device.group.property".
type Gateway interface {
	// Get returns the raw value of property. It never returns a default
	// value: any failure is reported as an error wrapping ErrFail or ErrTimeout.
	Get(ctx context.Context, property string) (string, error)

	// Set asks the service to change property to value. A nil error means the
	// command was accepted, not that the device reached the state.
	Set(ctx context.Context, property, value string) error
}

// Runner executes name with args and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Client implements Gateway by running the INDI command line clients.
type Client struct {
	host    string
	port    int
	timeout time.Duration
	getprop string
	setprop string
	run     Runner
	log     *slog.Logger
}

// Options configures a Client.
type Options struct {
	Host    string
	Port    int
	Timeout time.Duration
	GetProp string
	SetProp string

	// Runner overrides command execution, for tests.
	Runner Runner
	Logger *slog.Logger
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	c := &Client{
		host:    opts.Host,
		port:    opts.Port,
		timeout: opts.Timeout,
		getprop: opts.GetProp,
		setprop: opts.SetProp,
		run:     opts.Runner,
		log:     opts.Logger,
	}
	if c.getprop == "" {
		c.getprop = "indi_getprop"
	}
	if c.setprop == "" {
		c.setprop = "indi_setprop"
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	if c.run == nil {
		c.run = execRunner
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

func (c *Client) hostArgs() []string {
	args := []string{"-h", c.host}
	if c.port > 0 {
		args = append(args, "-p", strconv.Itoa(c.port))
	}
	return args
}

// Get runs "indi_getprop -h host -p port -1 property".
func (c *Client) Get(ctx context.Context, property string) (string, error) {
	args := append(c.hostArgs(), "-1", property)
	out, err := c.exec(ctx, c.getprop, args)
	if err != nil {
		return "", fmt.Errorf("get %q: %w", property, err)
	}
	value := strings.TrimSpace(string(out))
	if value == "" {
		return "", fmt.Errorf("get %q: %w: empty response", property, ErrFail)
	}
	return value, nil
}

// Set runs "indi_setprop -h host -p port property=value".
func (c *Client) Set(ctx context.Context, property, value string) error {
	args := append(c.hostArgs(), property+"="+value)
	if _, err := c.exec(ctx, c.setprop, args); err != nil {
		return fmt.Errorf("set %q=%q: %w", property, value, err)
	}
	return nil
}

func (c *Client) exec(ctx context.Context, name string, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.run(ctx, name, args...)
	c.log.Debug("indi command",
		"cmd", name,
		"args", strings.Join(args, " "),
		"response", strings.TrimSpace(string(out)),
		"elapsed", time.Since(start),
		"err", err)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %v", ErrTimeout, c.timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrFail, err)
	}
	return out, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}
