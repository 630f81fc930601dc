package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/sweeney/obsy-sentinel/internal/metrics"
	"github.com/sweeney/obsy-sentinel/internal/mqtt"
	"github.com/sweeney/obsy-sentinel/internal/safety"
	"github.com/sweeney/obsy-sentinel/internal/shutdown"
	"github.com/sweeney/obsy-sentinel/internal/status"
)

// Evaluator reads every safety condition. *safety.Evaluator implements it.
type Evaluator interface {
	Evaluate(ctx context.Context) safety.Status
	WeatherDebounce() (count, threshold uint)
}

// Sequencer runs the shutdown sequence. *shutdown.Sequencer implements it.
type Sequencer interface {
	Run(ctx context.Context) (shutdown.Report, error)
}

// Resumer restarts automated observing. ekos.Service implements it.
type Resumer interface {
	StartScheduler(ctx context.Context) error
}

// Options configures a Loop. Tracker, Publisher, Metrics and Resumer may
// be nil.
type Options struct {
	Evaluator Evaluator
	Sequencer Sequencer
	Resumer   Resumer

	// AutoResume starts the scheduler once conditions clear after a
	// completed shutdown. It requires Resumer.
	AutoResume bool

	Interval time.Duration

	Tracker   *status.Tracker
	Publisher mqtt.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// Now and Sleep are injectable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Loop is the single thread of control for evaluation and shutdown.
type Loop struct {
	eval     Evaluator
	seq      Sequencer
	resumer  Resumer
	interval time.Duration
	tracker  *status.Tracker
	pub      mqtt.Publisher
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	autoResume    bool
	resumePending bool
	cycle         uint64
}

// New creates a Loop.
func New(opts Options) *Loop {
	l := &Loop{
		eval:       opts.Evaluator,
		seq:        opts.Sequencer,
		resumer:    opts.Resumer,
		interval:   opts.Interval,
		tracker:    opts.Tracker,
		pub:        opts.Publisher,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		now:        opts.Now,
		sleep:      opts.Sleep,
		autoResume: opts.AutoResume && opts.Resumer != nil,
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.sleep == nil {
		l.sleep = sleepContext
	}
	return l
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes cycles until ctx is cancelled. The interval is measured
// from the start of each cycle; a cycle that overruns is followed
// immediately by the next. Run returns nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("control loop starting", "interval", l.interval, "auto_resume", l.autoResume)
	for {
		start := l.now()
		l.RunOnce(ctx)

		wait := l.interval - l.now().Sub(start)
		if wait < 0 {
			wait = 0
		}
		if err := l.sleep(ctx, wait); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				l.log.Info("control loop stopped")
				return nil
			}
			return err
		}
	}
}

// RunOnce executes exactly one cycle and returns its decision. A panic or
// error inside the cycle is logged and reported as an error, never
// propagated.
func (l *Loop) RunOnce(ctx context.Context) (d Decision, err error) {
	l.cycle++
	cycle := l.cycle
	start := l.now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
			l.log.Error("control cycle panicked", "cycle", cycle, "panic", r, "stack", string(debug.Stack()))
		}
		if err != nil {
			if l.tracker != nil {
				l.tracker.RecordError()
			}
			if l.metrics != nil {
				l.metrics.CycleError()
			}
		}
	}()

	st := l.eval.Evaluate(ctx)
	count, threshold := l.eval.WeatherDebounce()
	d = Decide(st, l.resumePending)

	l.log.Info("decision",
		"cycle", cycle,
		"weather", st.WeatherSafe,
		"roof", st.RoofClosed,
		"mount", st.MountParked,
		"cap", st.CapClosed,
		"camera", st.CameraWarm,
		"weather_debounce", fmt.Sprintf("%d/%d", count, threshold),
		"action", d.Action,
		"reason", d.Reason)
	if d.Action == ActionSkip {
		l.log.Error("skipping cycle, unable to decide", "cycle", cycle, "reason", d.Reason)
	}

	if l.tracker != nil {
		l.tracker.RecordCycle(st, string(d.Action), d.Reason, count)
	}
	if l.metrics != nil {
		l.metrics.ObserveStatus(st)
	}
	l.publishDecision(cycle, st, d)

	switch d.Action {
	case ActionShutdown:
		err = l.shutdown(ctx)
	case ActionResume:
		err = l.resume(ctx)
	}

	if l.metrics != nil {
		l.metrics.ObserveDecision(string(d.Action), l.now().Sub(start), count)
	}
	return d, err
}

func (l *Loop) shutdown(ctx context.Context) error {
	report, err := l.seq.Run(ctx)
	if l.tracker != nil {
		l.tracker.RecordShutdown(Summarize(report, err))
	}
	if l.metrics != nil {
		l.metrics.ObserveShutdown(report.Completed)
	}
	if err != nil {
		return fmt.Errorf("shutdown %s: %w", report.ID, err)
	}
	if l.autoResume {
		l.resumePending = true
	}
	return nil
}

func (l *Loop) resume(ctx context.Context) error {
	l.resumePending = false
	if err := l.resumer.StartScheduler(ctx); err != nil {
		l.log.Error("scheduler start failed", "err", err)
		return fmt.Errorf("resume: %w", err)
	}
	l.log.Info("scheduler started")
	return nil
}

func (l *Loop) publishDecision(cycle uint64, st safety.Status, d Decision) {
	if l.pub == nil {
		return
	}
	err := l.pub.PublishDecision(mqtt.DecisionEvent{
		Timestamp: st.Time,
		Cycle:     cycle,
		Weather:   st.WeatherSafe.String(),
		Roof:      st.RoofClosed.String(),
		Mount:     st.MountParked.String(),
		Cap:       st.CapClosed.String(),
		Camera:    st.CameraWarm.String(),
		Action:    string(d.Action),
		Reason:    d.Reason,
	})
	if err != nil {
		l.log.Warn("failed to publish decision", "err", err)
	}
}
