// Package mount speaks the mount's native command protocol: short ASCII
// commands over a persistent TCP connection, each response terminated by '#'.
package mount

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

const terminator = '#'

// Commands understood by the mount.
const (
	CmdStatus         = "#:Gstat#"
	CmdDeclination    = "#:GD#"
	CmdRightAscension = "#:GR#"
	CmdPark           = "#:hP#"
	CmdUltraPrecision = "#:U2#"
)

// StatusParked is the status code reported while the mount is parked.
const StatusParked = 5

var (
	// ErrNotConnected is returned when no connection could be established.
	ErrNotConnected = errors.New("mount: not connected")

	// ErrTerminatorNotFound is returned when a response ends without '#'.
	ErrTerminatorNotFound = errors.New("mount: termination byte not found")
)

// Native is the subset of the native protocol used by safety checks and
// the park monitor.
type Native interface {
	Status(ctx context.Context) (int, error)
	Declination(ctx context.Context) (float64, error)
	RightAscension(ctx context.Context) (float64, error)
	Park(ctx context.Context) error
}

// Options configures a Client.
type Options struct {
	Addr    string
	Timeout time.Duration

	// ConnectBudget bounds how long a (re)connect keeps retrying.
	ConnectBudget time.Duration

	// Dial overrides connection setup, for tests.
	Dial   func(ctx context.Context, addr string) (net.Conn, error)
	Logger *slog.Logger
}

// Client is a concurrent-safe native protocol client. The connection is
// opened lazily and re-opened after any I/O error.
type Client struct {
	addr    string
	timeout time.Duration
	budget  time.Duration
	dial    func(ctx context.Context, addr string) (net.Conn, error)
	log     *slog.Logger

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader
}

// NewClient creates a Client. No connection is made until the first command.
func NewClient(opts Options) *Client {
	c := &Client{
		addr:    opts.Addr,
		timeout: opts.Timeout,
		budget:  opts.ConnectBudget,
		dial:    opts.Dial,
		log:     opts.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	if c.budget <= 0 {
		c.budget = 3 * time.Second
	}
	if c.dial == nil {
		d := net.Dialer{Timeout: c.timeout}
		c.dial = func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// Connect opens the connection if it is not already open. Commands
// connect on demand, so calling it is only needed to fail early.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	var conn net.Conn
	op := func() error {
		var err error
		conn, err = c.dial(ctx, c.addr)
		return err
	}
	// the mount controller does not like connection thrashing
	b := &backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Second,
		MaxElapsedTime:      c.budget,
		Clock:               backoff.SystemClock,
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotConnected, c.addr, err)
	}

	c.conn = conn
	c.rd = bufio.NewReader(conn)
	c.log.Info("mount connected", "addr", c.addr)

	// ultra precision mode gives seconds of arc in GD/GR responses
	if err := c.writeLocked(ctx, CmdUltraPrecision); err != nil {
		c.closeLocked()
		return fmt.Errorf("%w: set precision: %v", ErrNotConnected, err)
	}
	return nil
}

// Close drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.rd = nil
	return err
}

func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

func (c *Client) writeLocked(ctx context.Context, cmd string) error {
	if err := c.conn.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(cmd))
	return err
}

// Send writes a command that produces no response.
func (c *Client) Send(ctx context.Context, cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return err
	}
	err := c.writeLocked(ctx, cmd)
	c.log.Debug("mount command", "cmd", cmd, "err", err)
	if err != nil {
		c.closeLocked()
		return fmt.Errorf("mount: send %s: %w", cmd, err)
	}
	return nil
}

// Query writes cmd and returns the response up to and including '#'.
func (c *Client) Query(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return "", err
	}
	if err := c.writeLocked(ctx, cmd); err != nil {
		c.closeLocked()
		return "", fmt.Errorf("mount: send %s: %w", cmd, err)
	}
	if err := c.conn.SetReadDeadline(c.deadline(ctx)); err != nil {
		c.closeLocked()
		return "", fmt.Errorf("mount: %s: %w", cmd, err)
	}

	resp, err := c.rd.ReadString(terminator)
	c.log.Debug("mount command", "cmd", cmd, "response", resp, "err", err)
	if err != nil {
		c.closeLocked()
		if resp != "" {
			return "", fmt.Errorf("mount: %s: %w (got %q)", cmd, ErrTerminatorNotFound, resp)
		}
		return "", fmt.Errorf("mount: %s: %w", cmd, err)
	}
	return strings.TrimSpace(resp), nil
}

// Status returns the numeric status code (5 = parked).
func (c *Client) Status(ctx context.Context) (int, error) {
	resp, err := c.Query(ctx, CmdStatus)
	if err != nil {
		return 0, err
	}
	return ParseStatus(resp)
}

// Declination returns the current declination in degrees.
func (c *Client) Declination(ctx context.Context) (float64, error) {
	resp, err := c.Query(ctx, CmdDeclination)
	if err != nil {
		return 0, err
	}
	return ParseDec(resp)
}

// RightAscension returns the current right ascension in hours.
func (c *Client) RightAscension(ctx context.Context) (float64, error) {
	resp, err := c.Query(ctx, CmdRightAscension)
	if err != nil {
		return 0, err
	}
	return ParseRA(resp)
}

// Park sends the park command. The mount does not answer it.
func (c *Client) Park(ctx context.Context) error {
	return c.Send(ctx, CmdPark)
}
