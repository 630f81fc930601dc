package internal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/obsy-sentinel/internal/alert"
	"github.com/sweeney/obsy-sentinel/internal/config"
	"github.com/sweeney/obsy-sentinel/internal/control"
	"github.com/sweeney/obsy-sentinel/internal/ekos"
	"github.com/sweeney/obsy-sentinel/internal/indi"
	"github.com/sweeney/obsy-sentinel/internal/metrics"
	"github.com/sweeney/obsy-sentinel/internal/mqtt"
	"github.com/sweeney/obsy-sentinel/internal/safety"
	"github.com/sweeney/obsy-sentinel/internal/shutdown"
	"github.com/sweeney/obsy-sentinel/internal/status"
	"github.com/sweeney/obsy-sentinel/internal/web"
)

const (
	weatherProp = "Weather Meta.WEATHER_STATUS.STATION_STATUS"
	roofProp    = "Dome Scripting Gateway.DOME_PARK.PARK"
	parkProp    = "10micron.TELESCOPE_PARK.PARK"
	trackProp   = "10micron.TELESCOPE_TRACK_STATE.TRACK_ON"
	decProp     = "10micron.EQUATORIAL_EOD_COORD.DEC"
	coolerProp  = "ASI1600MM-Cool.CCD_COOLER.COOLER_ON"
)

// observatory wires every component the way the sentinel command does,
// with fakes at the device edges and a fake clock.
type observatory struct {
	cfg     *config.Config
	gw      *indi.Fake
	ekos    *ekos.Fake
	pub     *mqtt.FakePublisher
	alerts  *alert.Recorder
	tracker *status.Tracker
	metrics *metrics.Metrics
	loop    *control.Loop
	srv     *httptest.Server

	mu      sync.Mutex
	clock   time.Time
	aborted error
}

func newObservatory(t *testing.T, values map[string]string) *observatory {
	t.Helper()
	cfg := config.Example()
	cfg.Mount = nil
	cfg.Weather.Stations = nil
	cfg.Weather.DebounceThreshold = 2

	o := &observatory{
		cfg:     cfg,
		gw:      indi.NewFake(values),
		ekos:    ekos.NewFake(),
		pub:     mqtt.NewFakePublisher(),
		alerts:  &alert.Recorder{},
		metrics: metrics.New(),
		clock:   time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC),
	}
	now := func() time.Time {
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.clock
	}
	sleep := func(ctx context.Context, d time.Duration) error {
		o.mu.Lock()
		o.clock = o.clock.Add(d)
		o.mu.Unlock()
		return nil
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	eval := safety.NewEvaluator(cfg, o.gw, nil, log)
	o.tracker = status.NewTracker(now(), status.Config{Interval: cfg.Loop.Interval})
	seq := shutdown.New(shutdown.Options{
		Config:   cfg,
		Gateway:  o.gw,
		Checker:  eval,
		Ekos:     o.ekos,
		Alert:    o.alerts,
		Logger:   log,
		Observer: control.StepObserver(o.pub, o.metrics, now, log),
		Abort:    func(err error) { o.aborted = err },
		Sleep:    sleep,
		Now:      now,
	})
	o.loop = control.New(control.Options{
		Evaluator: eval,
		Sequencer: seq,
		Resumer:   o.ekos,
		Interval:  cfg.Loop.Interval,
		Tracker:   o.tracker,
		Publisher: o.pub,
		Metrics:   o.metrics,
		Logger:    log,
		Now:       now,
		Sleep:     sleep,
	})
	o.srv = httptest.NewServer(web.New("", o.tracker, o.metrics.Handler()).Handler())
	t.Cleanup(o.srv.Close)
	return o
}

func (o *observatory) cycle(t *testing.T) control.Decision {
	t.Helper()
	d, err := o.loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	return d
}

func (o *observatory) statusJSON(t *testing.T) status.StatusInner {
	t.Helper()
	resp, err := http.Get(o.srv.URL + "/index.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var s status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	return s.Status
}

func (o *observatory) scrape(t *testing.T) string {
	t.Helper()
	resp, err := http.Get(o.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

// openNight is an open observatory mid-session.
func openNight() map[string]string {
	return map[string]string{
		weatherProp: "Ok",
		roofProp:    "Off",
		parkProp:    "Off",
		trackProp:   "On",
		decProp:     "12:00:00",
		coolerProp:  "On",
	}
}

func TestIntegrationSafeNightDoesNothing(t *testing.T) {
	o := newObservatory(t, openNight())

	for i := 0; i < 3; i++ {
		if d := o.cycle(t); d.Action != control.ActionIdle {
			t.Fatalf("cycle %d: %+v", i, d)
		}
	}
	if calls := o.gw.SetCalls(); len(calls) != 0 {
		t.Errorf("unexpected commands: %v", calls)
	}
	if calls := o.ekos.CallLog(); len(calls) != 0 {
		t.Errorf("unexpected ekos calls: %v", calls)
	}

	s := o.statusJSON(t)
	if s.WeatherSafe != "true" || s.RoofClosed != "false" || s.Action != "IDLE" || s.Counts.Cycles != 3 {
		t.Errorf("status: %+v", s)
	}
}

func TestIntegrationWeatherTurnsFullShutdown(t *testing.T) {
	o := newObservatory(t, openNight())
	var ekosBeforeFirstSet = -1
	o.gw.OnSet = func(property, value string) {
		if ekosBeforeFirstSet < 0 {
			ekosBeforeFirstSet = len(o.ekos.CallLog())
		}
		// park stops tracking and lands on the park declination
		if property == parkProp {
			o.gw.SetValue(trackProp, "Off")
			o.gw.SetValue(decProp, "39:00:00")
		}
	}

	o.cycle(t)
	o.gw.SetValue(weatherProp, "Alert")

	// first unsafe reading is debounced
	if d := o.cycle(t); d.Action != control.ActionIdle {
		t.Fatalf("debounced cycle: %+v", d)
	}
	if d := o.cycle(t); d.Action != control.ActionShutdown {
		t.Fatalf("second unsafe cycle: %+v", d)
	}
	if o.aborted != nil {
		t.Fatalf("aborted: %v", o.aborted)
	}

	if ekosBeforeFirstSet != 1+len(ekos.Modules) {
		t.Errorf("software steps before first device command: %d", ekosBeforeFirstSet)
	}
	want := []string{parkProp + "=On", roofProp + "=On", coolerProp + "=Off"}
	got := o.gw.SetCalls()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("commands: got %v, want %v", got, want)
	}

	s := o.statusJSON(t)
	if s.Action != "SHUTDOWN" || s.LastShutdown == nil || !s.LastShutdown.Completed {
		t.Fatalf("status: %+v", s)
	}
	if len(s.LastShutdown.Steps) != len(shutdown.Order) {
		t.Errorf("steps: %+v", s.LastShutdown.Steps)
	}
	if n := len(o.pub.StepLog()); n != len(shutdown.Order) {
		t.Errorf("step events: %d", n)
	}

	// closed roof: nothing left to do
	if d := o.cycle(t); d.Action != control.ActionIdle {
		t.Errorf("after shutdown: %+v", d)
	}

	m := o.scrape(t)
	for _, want := range []string{
		`obsy_sentinel_decisions_total{action="SHUTDOWN"} 1`,
		`obsy_sentinel_shutdown_runs_total{result="completed"} 1`,
	} {
		if !strings.Contains(m, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestIntegrationParkFailureNeverClosesRoof(t *testing.T) {
	values := openNight()
	values[weatherProp] = "Alert"
	o := newObservatory(t, values)
	o.gw.Stuck[parkProp] = true

	o.cycle(t)
	if _, err := o.loop.RunOnce(context.Background()); err == nil {
		t.Fatal("expected shutdown failure")
	}

	var failure *shutdown.StepFailure
	if !errors.As(o.aborted, &failure) || failure.Step != shutdown.StepParkMount {
		t.Fatalf("aborted: %v", o.aborted)
	}
	if failure.Attempts != o.cfg.Shutdown.MaxAttempts {
		t.Errorf("attempts: %d", failure.Attempts)
	}
	for _, c := range o.gw.SetCalls() {
		if strings.HasPrefix(c, roofProp) {
			t.Fatalf("roof commanded without a parked mount: %v", o.gw.SetCalls())
		}
	}
	msgs := o.alerts.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "PARK_MOUNT") {
		t.Errorf("alerts: %v", msgs)
	}

	s := o.statusJSON(t)
	if s.LastShutdown == nil || s.LastShutdown.Completed || s.Counts.Errors != 1 {
		t.Errorf("status: %+v", s)
	}
}
