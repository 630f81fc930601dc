package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/obsy-sentinel/internal/config"
	"github.com/sweeney/obsy-sentinel/internal/indi"
	"github.com/sweeney/obsy-sentinel/internal/mount"
)

// errNotOK marks a weather station that answered with a value other than
// the configured OK value.
var errNotOK = errors.New("station not ok")

// Evaluator computes safety verdicts from gateway readings.
//
// Weather is debounced and must only be called from one goroutine. The
// per-device checks are stateless and safe to call from anywhere.
type Evaluator struct {
	cfg    *config.Config
	gw     indi.Gateway
	native mount.Native
	log    *slog.Logger
	now    func() time.Time

	weather *Debouncer

	// failOnly is true while every unsafe reading in the current streak
	// came from query failures rather than a station reporting not-OK.
	// One not-OK report clears it for the rest of the streak, so later
	// failures still count toward False; only a safe reading sets it again.
	failOnly bool
}

// NewEvaluator creates an Evaluator. native may be nil when the mount's
// native protocol is not configured.
func NewEvaluator(cfg *config.Config, gw indi.Gateway, native mount.Native, log *slog.Logger) *Evaluator {
	if log == nil {
		log = slog.Default()
	}
	var threshold uint = 1
	if cfg.Weather != nil {
		threshold = cfg.Weather.DebounceThreshold
	}
	return &Evaluator{
		cfg:      cfg,
		gw:       gw,
		native:   native,
		log:      log,
		now:      time.Now,
		weather:  NewDebouncer(threshold),
		failOnly: true,
	}
}

// WeatherDebounce exposes the weather counter for status reporting.
func (e *Evaluator) WeatherDebounce() (count, threshold uint) {
	return e.weather.Count(), e.weather.Threshold()
}

// Evaluate builds a Status from one reading of every condition.
func (e *Evaluator) Evaluate(ctx context.Context) Status {
	return Status{
		Time:        e.now(),
		WeatherSafe: e.Weather(ctx),
		RoofClosed:  e.RoofClosed(ctx),
		MountParked: e.MountParked(ctx),
		CapClosed:   e.CapClosed(ctx),
		CameraWarm:  e.CameraWarm(ctx),
	}
}

func (e *Evaluator) weatherProperties() []string {
	w := e.cfg.Weather
	if len(w.Stations) == 0 {
		return []string{w.Property}
	}
	props := make([]string, len(w.Stations))
	for i, idx := range w.Stations {
		props[i] = w.Property + "_" + strconv.Itoa(idx)
	}
	return props
}

// Weather reports whether every configured station says OK, after
// debouncing. Without a weather section it reports True immediately.
// With FailureIsUnknown set, a tripped streak made only of query failures
// reports Unknown; a streak with any not-OK report reports False.
func (e *Evaluator) Weather(ctx context.Context) Tri {
	w := e.cfg.Weather
	if w == nil {
		return True
	}

	props := e.weatherProperties()
	results := make([]error, len(props))

	// stations are independent: one failing never cancels the others, and
	// the verdict waits for every answer
	var g errgroup.Group
	for i, prop := range props {
		i, prop := i, prop
		g.Go(func() error {
			v, err := e.gw.Get(ctx, prop)
			if err != nil {
				results[i] = err
				return err
			}
			if v != w.OKValue {
				results[i] = fmt.Errorf("%w: %s=%q", errNotOK, prop, v)
				return results[i]
			}
			return nil
		})
	}
	firstErr := g.Wait()

	instantUnsafe := firstErr != nil
	definite := false
	for _, err := range results {
		if errors.Is(err, errNotOK) {
			definite = true
		}
	}

	if !instantUnsafe {
		e.failOnly = true
	} else if definite {
		e.failOnly = false
	}

	unsafe := e.weather.Observe(instantUnsafe)
	count, threshold := e.weather.Count(), e.weather.Threshold()

	switch {
	case !instantUnsafe:
		e.log.Debug("weather reading safe", "stations", len(props))
		return True
	case !unsafe:
		e.log.Warn("weather reading unsafe, debouncing",
			"count", count, "threshold", threshold, "err", firstErr)
		return True
	case w.FailureIsUnknown && e.failOnly:
		e.log.Error("weather unknown: stations unreachable",
			"count", count, "threshold", threshold, "err", firstErr)
		return Unknown
	default:
		e.log.Warn("weather unsafe", "count", count, "threshold", threshold, "err", firstErr)
		return False
	}
}

func (e *Evaluator) propertyEquals(ctx context.Context, name string, pc *config.PropertyCheck) Tri {
	if pc == nil {
		return True
	}
	v, err := e.gw.Get(ctx, pc.Property)
	if err != nil {
		e.log.Error("query failed", "check", name, "property", pc.Property, "err", err)
		return Unknown
	}
	return FromBool(v == pc.Value)
}

// RoofClosed reports whether the roof property equals its closed value.
func (e *Evaluator) RoofClosed(ctx context.Context) Tri {
	return e.propertyEquals(ctx, "roof", e.cfg.Roof)
}

// CapClosed reports whether the dust cap property equals its closed value.
func (e *Evaluator) CapClosed(ctx context.Context) Tri {
	return e.propertyEquals(ctx, "cap", e.cfg.Cap)
}

// CameraWarm reports whether the camera cooler property equals its warm value.
func (e *Evaluator) CameraWarm(ctx context.Context) Tri {
	return e.propertyEquals(ctx, "camera", e.cfg.Camera)
}

// MountParked is the conjunction of the park switch, tracking off, the
// declination tolerance and, when the native protocol is configured, a
// native status of parked. Any False wins; otherwise any Unknown wins.
func (e *Evaluator) MountParked(ctx context.Context) Tri {
	mp := e.cfg.MountPark

	var checks []func(context.Context) Tri
	if mp != nil {
		checks = append(checks,
			func(ctx context.Context) Tri {
				return e.propertyEquals(ctx, "mount park", &config.PropertyCheck{Property: mp.ParkProperty, Value: mp.ParkValue})
			},
			func(ctx context.Context) Tri {
				if mp.TrackProperty == "" {
					return True
				}
				return e.propertyEquals(ctx, "mount tracking", &config.PropertyCheck{Property: mp.TrackProperty, Value: mp.TrackOffValue})
			},
			e.mountDecInTolerance,
		)
	}
	if e.native != nil {
		checks = append(checks, e.MountNativeParked)
	}

	result := True
	for _, check := range checks {
		switch check(ctx) {
		case False:
			return False
		case Unknown:
			result = Unknown
		}
	}
	return result
}

func (e *Evaluator) mountDecInTolerance(ctx context.Context) Tri {
	mp := e.cfg.MountPark
	if mp.DecProperty == "" {
		return True
	}
	raw, err := e.gw.Get(ctx, mp.DecProperty)
	if err != nil {
		e.log.Error("query failed", "check", "mount dec", "property", mp.DecProperty, "err", err)
		return Unknown
	}
	dec, err := mount.ParseDec(raw)
	if err != nil {
		e.log.Error("bad declination", "property", mp.DecProperty, "value", raw, "err", err)
		return Unknown
	}
	ok := DecWithinTolerance(mp.DecCompare, dec, mp.ParkDec, mp.MaxDecOffset)
	if !ok {
		e.log.Warn("mount declination off park position",
			"dec", dec, "park_dec", mp.ParkDec, "max_offset", mp.MaxDecOffset, "compare", mp.DecCompare)
	}
	return FromBool(ok)
}

// MountNativeParked reports whether the native status code is parked.
// Without a native connection it reports True.
func (e *Evaluator) MountNativeParked(ctx context.Context) Tri {
	if e.native == nil {
		return True
	}
	st, err := e.native.Status(ctx)
	if err != nil {
		e.log.Error("mount status failed", "err", err)
		return Unknown
	}
	return FromBool(st == mount.StatusParked)
}

// DecWithinTolerance reports whether current is within maxOffset of park.
// The boundary is inclusive.
//
// In magnitude mode the test is abs(current)-abs(park) <= maxOffset, which
// misses drift across the equator; difference mode uses abs(current-park).
func DecWithinTolerance(mode string, current, park, maxOffset float64) bool {
	if mode == config.DecCompareDifference {
		return math.Abs(current-park) <= maxOffset
	}
	return math.Abs(current)-math.Abs(park) <= maxOffset
}
