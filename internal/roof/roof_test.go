package roof

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

	"github.com/sweeney/obsy-sentinel/internal/gpio"
	"github.com/sweeney/obsy-sentinel/internal/mount"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type harness struct {
	hw      *gpio.FakeRoof
	mount   *mount.Fake
	c       *Controller
	timeout chan time.Time
	cancel  context.CancelFunc
	runErr  chan error
	once    sync.Once
}

func newHarness(t *testing.T, closed bool) *harness {
	t.Helper()
	h := &harness{
		hw:      gpio.NewFakeRoof(),
		mount:   mount.NewFake(90, 0),
		timeout: make(chan time.Time, 1),
		runErr:  make(chan error, 1),
	}
	if closed {
		h.hw.Set(gpio.InputClosedLimit, true)
	} else {
		h.hw.Set(gpio.InputOpenLimit, true)
	}
	// Drain the setup edge so tests start from a quiet channel.
	<-h.hw.Edges()

	h.c = New(Options{
		Roof:          h.hw,
		Mount:         h.mount,
		MotionTimeout: time.Minute,
		MinPress:      100 * time.Millisecond,
		Logger:        quiet,
		After:         func(time.Duration) <-chan time.Time { return h.timeout },
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- h.c.Run(ctx) }()
	t.Cleanup(h.stop)

	want := StateOpen
	if closed {
		want = StateClosed
	}
	h.waitState(t, want)
	return h
}

func (h *harness) stop() {
	h.once.Do(func() {
		h.cancel()
		<-h.runErr
	})
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.c.Snapshot().State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state: got %s, want %s", h.c.Snapshot().State, want)
}

func (h *harness) request(t *testing.T, intent Intent) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := h.c.Request(ctx, intent)
	if err != nil {
		t.Fatalf("Request(%s): %v", intent, err)
	}
	return res
}

// reachLimitOnDrive makes the fake roof arrive at the limit as soon as
// the motor starts.
func (h *harness) reachLimitOnDrive() {
	h.hw.OnDrive = func(dir gpio.Direction) {
		if dir == gpio.DirectionClose {
			h.hw.Set(gpio.InputOpenLimit, false)
			h.hw.Set(gpio.InputClosedLimit, true)
		} else {
			h.hw.Set(gpio.InputClosedLimit, false)
			h.hw.Set(gpio.InputOpenLimit, true)
		}
	}
}

func TestCloseWithMountParked(t *testing.T) {
	h := newHarness(t, false)
	h.reachLimitOnDrive()

	if res := h.request(t, IntentClose); !res.Accepted {
		t.Fatalf("close refused: %s", res.Reason)
	}
	h.waitState(t, StateClosed)

	motions := h.hw.MotionLog()
	if len(motions) < 3 || motions[1] != (gpio.Motion{Running: true, Direction: gpio.DirectionClose}) || motions[2].Running {
		t.Errorf("motions: %+v", motions)
	}
	if snap := h.c.Snapshot(); snap.NextButton != "open" || snap.Moves != 1 {
		t.Errorf("snapshot: %+v", snap)
	}
}

func TestCloseRefusedWhenAlreadyClosed(t *testing.T) {
	h := newHarness(t, true)
	res := h.request(t, IntentClose)
	if res.Accepted || !strings.Contains(res.Reason, "already closed") {
		t.Errorf("result: %+v", res)
	}
	for _, m := range h.hw.MotionLog() {
		if m.Running {
			t.Fatal("motor must not start")
		}
	}
}

func TestCloseRefusedWhenMountNotParked(t *testing.T) {
	h := newHarness(t, false)
	h.mount.Set(1, 45, 3)

	res := h.request(t, IntentClose)
	if res.Accepted || !strings.Contains(res.Reason, "not parked") {
		t.Errorf("result: %+v", res)
	}

	h.mount.Err = errors.New("connection refused")
	res = h.request(t, IntentClose)
	if res.Accepted || !strings.Contains(res.Reason, "unavailable") {
		t.Errorf("result with mount error: %+v", res)
	}
	for _, m := range h.hw.MotionLog() {
		if m.Running {
			t.Fatal("motor must not start while mount is not parked")
		}
	}
}

func TestOpenThenStop(t *testing.T) {
	h := newHarness(t, true)
	h.hw.OnDrive = func(gpio.Direction) { h.hw.Set(gpio.InputClosedLimit, false) }

	if res := h.request(t, IntentOpen); !res.Accepted {
		t.Fatalf("open refused: %s", res.Reason)
	}
	h.waitState(t, StateOpening)

	if res := h.request(t, IntentClose); res.Accepted || res.Reason != "roof is moving" {
		t.Errorf("close while moving: %+v", res)
	}
	if res := h.request(t, IntentStop); !res.Accepted {
		t.Errorf("stop refused: %+v", res)
	}
	h.waitState(t, StatePartial)

	if h.hw.Running() {
		t.Error("motor still running after stop")
	}
	if next := h.c.Snapshot().NextButton; next != "close" {
		t.Errorf("next button: %s, want close", next)
	}
}

func TestStopWhenIdle(t *testing.T) {
	h := newHarness(t, true)
	if res := h.request(t, IntentStop); res.Accepted {
		t.Errorf("stop while idle accepted: %+v", res)
	}
}

func TestMotionTimeoutStopsMotor(t *testing.T) {
	h := newHarness(t, true)
	h.hw.OnDrive = func(gpio.Direction) { h.hw.Set(gpio.InputClosedLimit, false) }

	h.request(t, IntentOpen)
	h.waitState(t, StateOpening)
	h.timeout <- time.Now()
	h.waitState(t, StatePartial)

	if h.hw.Running() {
		t.Error("motor still running after timeout")
	}
	if snap := h.c.Snapshot(); !strings.Contains(snap.LastError, "not reached") {
		t.Errorf("LastError: %q", snap.LastError)
	}
}

func TestButtonPressCycles(t *testing.T) {
	h := newHarness(t, true)
	h.hw.OnDrive = func(gpio.Direction) { h.hw.Set(gpio.InputClosedLimit, false) }
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Too brief: ignored.
	h.hw.Press(at, 50*time.Millisecond)
	if res := h.request(t, IntentStop); res.Accepted {
		t.Fatal("brief press started the motor")
	}

	// Closed: press opens.
	h.hw.Press(at.Add(time.Second), 150*time.Millisecond)
	h.waitState(t, StateOpening)

	// Moving: press stops.
	h.hw.Press(at.Add(2*time.Second), 150*time.Millisecond)
	h.waitState(t, StatePartial)
	if h.hw.Running() {
		t.Error("button did not stop the motor")
	}
}

func TestToggleIntent(t *testing.T) {
	h := newHarness(t, false)
	h.reachLimitOnDrive()

	if res := h.request(t, IntentToggle); !res.Accepted {
		t.Fatalf("toggle refused: %+v", res)
	}
	h.waitState(t, StateClosed)
}

func TestRequestAfterStop(t *testing.T) {
	h := newHarness(t, true)
	h.stop()

	_, err := h.c.Request(context.Background(), IntentOpen)
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
	if h.hw.Running() {
		t.Error("motor running after controller stopped")
	}
}

func TestPressDetector(t *testing.T) {
	p := NewPressDetector(100 * time.Millisecond)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	btn := func(active bool, off time.Duration) gpio.Edge {
		return gpio.Edge{Input: gpio.InputButton, Active: active, Time: at.Add(off)}
	}

	if ok, _ := p.Edge(btn(false, 0)); ok {
		t.Error("release without press counted")
	}
	p.Edge(btn(true, 0))
	if ok, held := p.Edge(btn(false, 99*time.Millisecond)); ok || held != 99*time.Millisecond {
		t.Errorf("99ms press: %v %v", ok, held)
	}
	p.Edge(btn(true, time.Second))
	if ok, _ := p.Edge(btn(false, time.Second+100*time.Millisecond)); !ok {
		t.Error("100ms press should count")
	}
	if ok, _ := p.Edge(gpio.Edge{Input: gpio.InputOpenLimit}); ok {
		t.Error("limit edge counted as press")
	}
}

func TestHTTP(t *testing.T) {
	h := newHarness(t, true)
	ts := httptest.NewServer(Routes(h.c))
	defer ts.Close()

	decode := func(resp *http.Response) map[string]any {
		t.Helper()
		defer resp.Body.Close()
		if resp.StatusCode != 200 {
			t.Fatalf("status %d", resp.StatusCode)
		}
		var m map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
			t.Fatal(err)
		}
		return m
	}

	resp, err := http.Get(ts.URL + "/roof/sensors/close")
	if err != nil {
		t.Fatal(err)
	}
	if m := decode(resp); m["roof_sensors_closed"] != true {
		t.Errorf("close sensor: %v", m)
	}

	resp, _ = http.Get(ts.URL + "/roof/sensors/open")
	if m := decode(resp); m["roof_sensors_opened"] != false {
		t.Errorf("open sensor: %v", m)
	}

	resp, _ = http.Post(ts.URL+"/roof/motor/close", "", nil)
	if m := decode(resp); m["roof_motor_close"] != false || m["reason"] != "roof is already closed" {
		t.Errorf("close: %v", m)
	}

	resp, _ = http.Get(ts.URL + "/roof/status")
	if m := decode(resp); m["state"] != "closed" || m["next_button"] != "open" {
		t.Errorf("status: %v", m)
	}

	resp, _ = http.Get(ts.URL + "/roof/motor/open")
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET motor/open: status %d, want 405", resp.StatusCode)
	}
}

func TestHTTPSensorError(t *testing.T) {
	h := newHarness(t, true)
	ts := httptest.NewServer(Routes(h.c))
	defer ts.Close()

	h.hw.SetReadError(errors.New("line busy"))
	resp, err := http.Get(ts.URL + "/roof/sensors/open")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status %d, want 500", resp.StatusCode)
	}
}
