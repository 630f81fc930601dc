package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/obsy-sentinel/internal/metrics"
	"github.com/sweeney/obsy-sentinel/internal/safety"
	"github.com/sweeney/obsy-sentinel/internal/status"
)

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		Interval:          time.Minute,
		DebounceThreshold: 3,
		MaxAttempts:       3,
		Broker:            "tcp://192.168.1.200:1883",
		HTTPAddr:          ":8080",
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr, metrics.New().Handler())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.RecordCycle(safety.Status{
		WeatherSafe: safety.False,
		RoofClosed:  safety.False,
		MountParked: safety.True,
		CapClosed:   safety.True,
		CameraWarm:  safety.True,
	}, "SHUTDOWN", "weather unsafe", 3)
	tr.SetMQTTConnected(true)

	resp, body := get(t, ts.URL+"/index.json")
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.Unmarshal([]byte(body), &sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if sj.Status.Action != "SHUTDOWN" {
		t.Errorf("Action: got %q, want SHUTDOWN", sj.Status.Action)
	}
	if sj.Status.WeatherSafe != "false" || sj.Status.MountParked != "true" {
		t.Errorf("conditions: %+v", sj.Status)
	}
	if sj.Status.Counts.Shutdowns != 1 {
		t.Errorf("Counts.Shutdowns: got %d, want 1", sj.Status.Counts.Shutdowns)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
}

func TestHTMLEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.RecordCycle(safety.Status{
		WeatherSafe: safety.True,
		RoofClosed:  safety.Unknown,
		MountParked: safety.True,
		CapClosed:   safety.True,
		CameraWarm:  safety.True,
	}, "SKIP", "roof unknown", 0)
	tr.RecordShutdown(status.ShutdownSummary{
		ID:    "run-7",
		Error: "PARK_MOUNT failed",
		Steps: []status.StepSummary{{Step: "PARK_MOUNT", Attempts: 3, Error: "not parked"}},
	})

	for _, path := range []string{"/", "/index.html"} {
		resp, body := get(t, ts.URL+path)
		if resp.StatusCode != 200 {
			t.Errorf("%s: status %d", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s: Content-Type %q", path, ct)
		}
		for _, want := range []string{
			"Observatory Sentinel",
			`id="roof" class="unknown">UNKNOWN`,
			`id="weather" class="ok">YES`,
			`id="action">SKIP`,
			"run-7",
			"aborted",
			"failed (3) not parked",
		} {
			if !strings.Contains(body, want) {
				t.Errorf("%s: body missing %q", path, want)
			}
		}
	}
}

func TestHTMLPendingBeforeFirstCycle(t *testing.T) {
	ts, _ := newTestServer(t)
	_, body := get(t, ts.URL+"/")
	if !strings.Contains(body, `id="action">PENDING`) {
		t.Error("expected PENDING before the first cycle")
	}
	if strings.Contains(body, "Last Shutdown") {
		t.Error("no shutdown section expected")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := get(t, ts.URL+"/metrics")
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("metrics body missing runtime collectors")
	}
}

func TestMetricsAbsentWithoutHandler(t *testing.T) {
	srv := New(":0", status.NewTracker(time.Now(), status.Config{}), nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, _ := get(t, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := get(t, ts.URL+"/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestServeAndShutdown(t *testing.T) {
	srv := New(":0", status.NewTracker(time.Now(), status.Config{}), nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	resp, _ := get(t, "http://"+ln.Addr().String()+"/index.json")
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-done; err != http.ErrServerClosed {
		t.Errorf("Serve returned %v, want ErrServerClosed", err)
	}
}
