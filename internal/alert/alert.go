// Package alert delivers plain-text notifications to a human operator.
//
// Delivery is best effort: failures are logged and returned, but nothing
// in the system escalates them further. There is no secondary channel.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrThrottled is returned by a Throttled sink when a message is dropped.
var ErrThrottled = errors.New("alert: throttled")

// Sink accepts a message for delivery.
type Sink interface {
	Send(ctx context.Context, msg string) error
}

// Notify sends msg through sink, bounded by timeout. The error is logged
// and returned for the caller's information only.
func Notify(ctx context.Context, sink Sink, timeout time.Duration, msg string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		log.Warn("alert dropped: no sink configured", "msg", msg)
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := sink.Send(ctx, msg)
	switch {
	case errors.Is(err, ErrThrottled):
		log.Info("alert throttled", "msg", msg)
	case err != nil:
		log.Error("alert delivery failed", "msg", msg, "err", err)
	default:
		log.Info("alert sent", "msg", msg)
	}
	return err
}

// Multi fans a message out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, msg string) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes alerts to a logger. It never fails.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Send(ctx context.Context, msg string) error {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Warn("ALERT", "msg", msg)
	return nil
}

// Throttled drops messages sent more often than once per interval.
type Throttled struct {
	sink Sink
	lim  *rate.Limiter
	now  func() time.Time
}

// NewThrottled wraps sink so that at most one message per interval is
// forwarded. A non-positive interval disables throttling.
func NewThrottled(sink Sink, interval time.Duration) *Throttled {
	lim := rate.NewLimiter(rate.Inf, 1)
	if interval > 0 {
		lim = rate.NewLimiter(rate.Every(interval), 1)
	}
	return &Throttled{sink: sink, lim: lim, now: time.Now}
}

func (t *Throttled) Send(ctx context.Context, msg string) error {
	if !t.lim.AllowN(t.now(), 1) {
		return ErrThrottled
	}
	return t.sink.Send(ctx, msg)
}

// Observed reports every delivery outcome to OnResult.
type Observed struct {
	Sink     Sink
	OnResult func(err error)
}

func (o Observed) Send(ctx context.Context, msg string) error {
	err := o.Sink.Send(ctx, msg)
	if o.OnResult != nil {
		o.OnResult(err)
	}
	return err
}

// Publisher is the event publisher surface used by MQTTSink.
type Publisher interface {
	PublishAlert(msg string, ts time.Time) error
}

// MQTTSink forwards alerts to the event publisher.
type MQTTSink struct {
	Publisher Publisher
	Now       func() time.Time
}

func (m MQTTSink) Send(ctx context.Context, msg string) error {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	if err := m.Publisher.PublishAlert(msg, now()); err != nil {
		return fmt.Errorf("alert: mqtt: %w", err)
	}
	return nil
}

// Recorder is a Sink for tests. It records every message.
type Recorder struct {
	mu   sync.Mutex
	msgs []string

	// Err, if set, is returned from Send after recording.
	Err error
}

func (r *Recorder) Send(ctx context.Context, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.Err
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}
