// Package parkmon watches a parked mount for drift away from its park
// position and tries to re-park it, alerting when that fails.
package parkmon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sweeney/obsy-sentinel/internal/alert"
	"github.com/sweeney/obsy-sentinel/internal/config"
	"github.com/sweeney/obsy-sentinel/internal/indi"
	"github.com/sweeney/obsy-sentinel/internal/metrics"
	"github.com/sweeney/obsy-sentinel/internal/mount"
)

// Outcome classifies one check.
type Outcome string

const (
	OutcomeNotParked Outcome = "NOT_PARKED"
	OutcomeOK        Outcome = "OK"
	OutcomeCorrected Outcome = "CORRECTED"
	OutcomeFailed    Outcome = "CORRECTION_FAILED"
	OutcomeError     Outcome = "ERROR"
)

// Result is the record of one check.
type Result struct {
	Outcome      Outcome
	NativeStatus int
	Dec          float64
	RA           float64
	Drift        float64
	Failures     int
	Err          error
}

// Options configures a Monitor.
type Options struct {
	Config  *config.Config
	Gateway indi.Gateway
	Native  mount.Native

	// Alert receives correction failures. It is throttled to one message
	// per Config.Alert.MinInterval.
	Alert   alert.Sink
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Sleep and Now are injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Monitor runs the park-position check.
type Monitor struct {
	cfg      config.ParkMonConfig
	park     config.MountParkConfig
	cmdTO    time.Duration
	alertTO  time.Duration
	gw       indi.Gateway
	native   mount.Native
	sink     alert.Sink
	metrics  *metrics.Metrics
	log      *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	failures int
}

// New creates a Monitor. It requires the mount_park section and the
// mount native protocol.
func New(opts Options) (*Monitor, error) {
	cfg := opts.Config
	if cfg == nil || cfg.MountPark == nil {
		return nil, errors.New("parkmon: mount_park configuration is required")
	}
	if opts.Native == nil {
		return nil, errors.New("parkmon: mount native protocol is required")
	}
	m := &Monitor{
		cfg:     cfg.ParkMon,
		park:    *cfg.MountPark,
		cmdTO:   cfg.INDI.CommandTimeout,
		alertTO: cfg.Alert.Timeout,
		gw:      opts.Gateway,
		native:  opts.Native,
		metrics: opts.Metrics,
		log:     opts.Logger,
		sleep:   opts.Sleep,
		now:     opts.Now,
	}
	if opts.Alert != nil {
		m.sink = alert.NewThrottled(opts.Alert, cfg.Alert.MinInterval)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.sleep == nil {
		m.sleep = sleepContext
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
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

// Failures returns the number of consecutive failed corrections.
func (m *Monitor) Failures() int { return m.failures }

// Run checks every interval, measured from the start of each check, until
// ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("park monitor starting", "interval", m.cfg.Interval, "max_offset", m.cfg.MaxOffset)
	for {
		start := m.now()
		m.Check(ctx)

		wait := m.cfg.Interval - m.now().Sub(start)
		if err := m.sleep(ctx, wait); err != nil {
			m.log.Info("park monitor stopped")
			return nil
		}
	}
}

// Check runs one check and, if needed, one correction.
func (m *Monitor) Check(ctx context.Context) Result {
	cctx, cancel := context.WithTimeout(ctx, m.cmdTO)
	val, err := m.gw.Get(cctx, m.park.ParkProperty)
	cancel()
	if err != nil {
		m.log.Error("park status query failed", "property", m.park.ParkProperty, "err", err)
		return Result{Outcome: OutcomeError, Failures: m.failures, Err: err}
	}
	if val != m.park.ParkValue {
		m.log.Info("mount not parked according to INDI, skipping position check", "value", val)
		return Result{Outcome: OutcomeNotParked, Failures: m.failures}
	}

	res, err := m.read(ctx)
	if err != nil {
		m.log.Error("mount native query failed", "err", err)
		res.Outcome, res.Err, res.Failures = OutcomeError, err, m.failures
		return res
	}

	if res.NativeStatus != mount.StatusParked {
		m.log.Warn("mount reports not parked", "status", res.NativeStatus)
	} else if res.Drift > m.cfg.MaxOffset {
		m.log.Warn("park position drift detected", "drift", res.Drift, "max_offset", m.cfg.MaxOffset, "dec", res.Dec, "ra", res.RA)
	} else {
		m.log.Info("park position ok", "drift", res.Drift, "dec", res.Dec, "ra", res.RA)
		m.failures = 0
		res.Outcome = OutcomeOK
		return res
	}

	return m.correct(ctx)
}

// read queries the native protocol for status and position.
func (m *Monitor) read(ctx context.Context) (Result, error) {
	var res Result
	cctx, cancel := context.WithTimeout(ctx, m.cmdTO)
	defer cancel()

	code, err := m.native.Status(cctx)
	if err != nil {
		return res, fmt.Errorf("status: %w", err)
	}
	res.NativeStatus = code
	if res.Dec, err = m.native.Declination(cctx); err != nil {
		return res, fmt.Errorf("declination: %w", err)
	}
	res.Drift = mount.DecDrift(res.Dec, m.cfg.ExpectedDec)
	if m.cfg.CheckRA {
		if res.RA, err = m.native.RightAscension(cctx); err != nil {
			return res, fmt.Errorf("right ascension: %w", err)
		}
		res.Drift = math.Max(res.Drift, mount.RADrift(res.RA, m.cfg.ExpectedRA)*15)
	}
	if m.metrics != nil {
		m.metrics.ObserveParkDrift(res.Drift)
	}
	return res, nil
}

func (m *Monitor) verify(ctx context.Context) (Result, bool) {
	res, err := m.read(ctx)
	if err != nil {
		m.log.Warn("park verification query failed", "err", err)
		return res, false
	}
	return res, res.NativeStatus == mount.StatusParked && res.Drift <= m.cfg.MaxOffset
}

// correct parks via INDI, then via the native protocol, verifying after
// each.
func (m *Monitor) correct(ctx context.Context) Result {
	attempts := []struct {
		name string
		park func(ctx context.Context) error
	}{
		{"indi", func(ctx context.Context) error { return m.gw.Set(ctx, m.park.ParkProperty, m.park.ParkValue) }},
		{"native", m.native.Park},
	}

	var res Result
	for _, a := range attempts {
		m.log.Info("attempting park correction", "via", a.name)
		cctx, cancel := context.WithTimeout(ctx, m.cmdTO)
		err := a.park(cctx)
		cancel()
		if err != nil {
			m.log.Warn("park command failed", "via", a.name, "err", err)
			continue
		}
		if err := m.sleep(ctx, m.cfg.SettleTime); err != nil {
			return Result{Outcome: OutcomeError, Failures: m.failures, Err: err}
		}
		var ok bool
		if res, ok = m.verify(ctx); ok {
			m.log.Info("park correction successful", "via", a.name, "drift", res.Drift)
			m.failures = 0
			res.Outcome = OutcomeCorrected
			return res
		}
	}

	m.failures++
	m.log.Error("park correction failed", "consecutive_failures", m.failures)
	msg := fmt.Sprintf("[%s] Mount position monitor ALERT: park correction failed %d times. Mount may have drifted from park position.",
		m.now().Format("2006-01-02 15:04:05"), m.failures)
	if m.sink != nil {
		alert.Notify(ctx, m.sink, m.alertTO, msg, m.log)
	}
	res.Outcome, res.Failures = OutcomeFailed, m.failures
	return res
}
