package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/obsy-sentinel/internal/alert"
	"github.com/sweeney/obsy-sentinel/internal/config"
	"github.com/sweeney/obsy-sentinel/internal/ekos"
	"github.com/sweeney/obsy-sentinel/internal/indi"
	"github.com/sweeney/obsy-sentinel/internal/mount"
	"github.com/sweeney/obsy-sentinel/internal/safety"
)

var errParkNotVerified = errors.New("mount park not verified, refusing to close roof")

// Checker re-reads device state to verify a step. *safety.Evaluator
// implements it.
type Checker interface {
	MountParked(ctx context.Context) safety.Tri
	CapClosed(ctx context.Context) safety.Tri
	RoofClosed(ctx context.Context) safety.Tri
	CameraWarm(ctx context.Context) safety.Tri
}

// Options configures a Sequencer.
type Options struct {
	Config  *config.Config
	Gateway indi.Gateway
	Checker Checker

	// Ekos may be nil, in which case the software steps are skipped.
	Ekos ekos.Service

	// Native may be nil. When set it is used to park on retry attempts.
	Native mount.Native

	Alert  alert.Sink
	Logger *slog.Logger

	// Observer, if set, receives every step result as it completes,
	// together with the run's report ID.
	Observer func(id string, res StepResult)

	// Abort ends the process after a critical failure. It defaults to
	// flushing stdout/stderr and exiting with status 1.
	Abort func(error)

	// Sleep and Now are injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Sequencer executes the shutdown sequence. Run is not safe for
// concurrent use; the control loop is its only caller.
type Sequencer struct {
	cfg      *config.Config
	gw       indi.Gateway
	check    Checker
	ekos     ekos.Service
	native   mount.Native
	sink     alert.Sink
	log      *slog.Logger
	observer func(string, StepResult)
	abort    func(error)
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// New creates a Sequencer.
func New(opts Options) *Sequencer {
	s := &Sequencer{
		cfg:      opts.Config,
		gw:       opts.Gateway,
		check:    opts.Checker,
		ekos:     opts.Ekos,
		native:   opts.Native,
		sink:     opts.Alert,
		log:      opts.Logger,
		observer: opts.Observer,
		abort:    opts.Abort,
		sleep:    opts.Sleep,
		now:      opts.Now,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.abort == nil {
		s.abort = exitProcess
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func exitProcess(err error) {
	fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
	os.Stdout.Sync()
	os.Stderr.Sync()
	os.Exit(1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes the sequence in order. It returns a *StepFailure, after
// alerting and calling Abort, when a critical step cannot be verified;
// later steps are never started in that case.
//
// Cancelling ctx does not interrupt a sequence in progress.
func (s *Sequencer) Run(ctx context.Context) (Report, error) {
	ctx = context.WithoutCancel(ctx)

	report := Report{ID: uuid.NewString(), Started: s.now()}
	log := s.log.With("shutdown_id", report.ID)
	log.Warn("shutdown sequence starting")

	parkVerified := false
	for _, step := range Order {
		start := s.now()
		var res StepResult
		switch step {
		case StepStopSoftware:
			res = s.stopSoftware(ctx)
		case StepAbortActiveOps:
			res = s.abortActiveOps(ctx)
		case StepParkMount:
			res = s.parkMount(ctx, log)
			parkVerified = res.Succeeded
		case StepCloseCap:
			res = s.closeCap(ctx, log)
		case StepCloseRoof:
			if !parkVerified {
				res = StepResult{Step: step, Err: errParkNotVerified}
				break
			}
			res = s.closeRoof(ctx, log)
		case StepWarmCamera:
			res = s.warmCamera(ctx, log)
		}
		res.Duration = s.now().Sub(start)
		report.Results = append(report.Results, res)

		log.Info("shutdown step finished",
			"step", res.Step,
			"attempts", res.Attempts,
			"succeeded", res.Succeeded,
			"skipped", res.Skipped,
			"err", res.Err)
		for _, sf := range res.SubFailures {
			log.Warn("shutdown sub-step failed", "step", res.Step, "name", sf.Name, "err", sf.Err)
		}
		if s.observer != nil {
			s.observer(report.ID, res)
		}

		if step.Critical() && !res.Succeeded {
			report.Finished = s.now()
			failure := &StepFailure{Step: step, Attempts: res.Attempts, Err: res.Err}
			s.fail(ctx, log, failure)
			return report, failure
		}
	}

	report.Finished = s.now()
	report.Completed = true
	log.Info("shutdown sequence complete", "step", StepDone, "elapsed", report.Finished.Sub(report.Started))
	return report, nil
}

func (s *Sequencer) fail(ctx context.Context, log *slog.Logger, failure *StepFailure) {
	log.Error("shutdown step failed, operator intervention required",
		"step", failure.Step, "attempts", failure.Attempts, "err", failure.Err)

	msg := fmt.Sprintf("Observatory shutdown FAILED at %s after %d attempt(s): %v. Unattended operation stopped, operator intervention required.",
		failure.Step, failure.Attempts, failure.Err)
	alert.Notify(ctx, s.sink, s.cfg.Alert.Timeout, msg, log)

	s.abort(failure)
}

func (s *Sequencer) softwareCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.INDI.CommandTimeout)
}

func (s *Sequencer) stopSoftware(ctx context.Context) StepResult {
	res := StepResult{Step: StepStopSoftware}
	if s.ekos == nil {
		res.Skipped, res.Succeeded = true, true
		return res
	}
	res.Attempts = 1
	cctx, cancel := s.softwareCtx(ctx)
	defer cancel()
	if err := s.ekos.StopScheduler(cctx); err != nil {
		res.Err = err
		res.SubFailures = append(res.SubFailures, SubFailure{Name: "scheduler.stop", Err: err})
		return res
	}
	res.Succeeded = true
	return res
}

func (s *Sequencer) abortActiveOps(ctx context.Context) StepResult {
	res := StepResult{Step: StepAbortActiveOps}
	if s.ekos == nil {
		res.Skipped, res.Succeeded = true, true
		return res
	}
	res.Attempts = 1
	for _, m := range ekos.Modules {
		cctx, cancel := s.softwareCtx(ctx)
		err := s.ekos.Abort(cctx, m)
		cancel()
		if err != nil {
			res.SubFailures = append(res.SubFailures, SubFailure{Name: m + ".abort", Err: err})
		}
	}
	res.Succeeded = len(res.SubFailures) == 0
	if !res.Succeeded {
		res.Err = fmt.Errorf("%d of %d aborts failed", len(res.SubFailures), len(ekos.Modules))
	}
	return res
}

// attempt issues a command and then polls verify until it holds or
// timeout elapses. A command error skips the wait but still checks the
// device once, since it may already be in the target state.
type attempt struct {
	step    Step
	command func(ctx context.Context, n int) error
	verify  func(ctx context.Context) safety.Tri
	timeout time.Duration
	max     int
}

func (s *Sequencer) runAttempts(ctx context.Context, log *slog.Logger, a attempt) StepResult {
	res := StepResult{Step: a.step}
	for n := 1; n <= a.max; n++ {
		res.Attempts = n
		log.Info("shutdown step attempt", "step", a.step, "attempt", n, "of", a.max)

		if err := a.command(ctx, n); err != nil {
			res.Err = err
			log.Warn("shutdown command failed", "step", a.step, "attempt", n, "err", err)
			if a.verify(ctx) == safety.True {
				res.Succeeded, res.Err = true, nil
				return res
			}
			continue
		}

		if err := s.waitVerified(ctx, a.verify, a.timeout); err != nil {
			res.Err = err
			log.Warn("shutdown step not verified", "step", a.step, "attempt", n, "err", err)
			continue
		}
		res.Succeeded, res.Err = true, nil
		return res
	}
	return res
}

func (s *Sequencer) waitVerified(ctx context.Context, verify func(context.Context) safety.Tri, timeout time.Duration) error {
	deadline := s.now().Add(timeout)
	var last safety.Tri
	for {
		last = verify(ctx)
		if last == safety.True {
			return nil
		}
		if !s.now().Before(deadline) {
			return fmt.Errorf("not verified within %v (last reading %s)", timeout, last)
		}
		if err := s.sleep(ctx, s.cfg.Shutdown.VerifyInterval); err != nil {
			return err
		}
	}
}

func (s *Sequencer) setProperty(property, value string) func(ctx context.Context, n int) error {
	return func(ctx context.Context, n int) error {
		return s.gw.Set(ctx, property, value)
	}
}

func (s *Sequencer) parkMount(ctx context.Context, log *slog.Logger) StepResult {
	mp := s.cfg.MountPark
	if mp == nil && s.native == nil {
		return StepResult{Step: StepParkMount, Skipped: true, Succeeded: true}
	}

	command := func(ctx context.Context, n int) error {
		if s.native != nil && (mp == nil || n > 1) {
			log.Info("parking mount with native command", "attempt", n)
			return s.native.Park(ctx)
		}
		return s.gw.Set(ctx, mp.ParkProperty, mp.ParkValue)
	}

	return s.runAttempts(ctx, log, attempt{
		step:    StepParkMount,
		command: command,
		verify:  s.check.MountParked,
		timeout: s.cfg.Shutdown.MountParkTimeout,
		max:     s.cfg.Shutdown.MaxAttempts,
	})
}

func (s *Sequencer) closeCap(ctx context.Context, log *slog.Logger) StepResult {
	c := s.cfg.Cap
	if c == nil {
		return StepResult{Step: StepCloseCap, Skipped: true, Succeeded: true}
	}
	return s.runAttempts(ctx, log, attempt{
		step:    StepCloseCap,
		command: s.setProperty(c.Property, c.Value),
		verify:  s.check.CapClosed,
		timeout: s.cfg.Shutdown.CapCloseTimeout,
		max:     s.cfg.Shutdown.MaxAttempts,
	})
}

func (s *Sequencer) closeRoof(ctx context.Context, log *slog.Logger) StepResult {
	r := s.cfg.Roof
	if r == nil {
		return StepResult{Step: StepCloseRoof, Skipped: true, Succeeded: true}
	}
	return s.runAttempts(ctx, log, attempt{
		step:    StepCloseRoof,
		command: s.setProperty(r.Property, r.Value),
		verify:  s.check.RoofClosed,
		timeout: s.cfg.Shutdown.RoofCloseTimeout,
		max:     s.cfg.Shutdown.MaxAttempts,
	})
}

func (s *Sequencer) warmCamera(ctx context.Context, log *slog.Logger) StepResult {
	c := s.cfg.Camera
	if c == nil {
		return StepResult{Step: StepWarmCamera, Skipped: true, Succeeded: true}
	}
	return s.runAttempts(ctx, log, attempt{
		step:    StepWarmCamera,
		command: s.setProperty(c.Property, c.Value),
		verify:  s.check.CameraWarm,
		timeout: s.cfg.Shutdown.CameraWarmTimeout,
		max:     1,
	})
}
