package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/obsy-sentinel/internal/safety"
)

func TestObserveStatus(t *testing.T) {
	m := New()
	m.ObserveStatus(safety.Status{
		WeatherSafe: safety.False,
		RoofClosed:  safety.True,
		CameraWarm:  safety.Unknown,
	})

	assert.Equal(t, 0.0, testutil.ToFloat64(m.condition.WithLabelValues("weather_safe")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.condition.WithLabelValues("roof_closed")))
	assert.Equal(t, -1.0, testutil.ToFloat64(m.condition.WithLabelValues("camera_warm")))
}

func TestObserveDecision(t *testing.T) {
	m := New()
	m.ObserveDecision("IDLE", 200*time.Millisecond, 0)
	m.ObserveDecision("IDLE", 200*time.Millisecond, 1)
	m.ObserveDecision("SHUTDOWN", time.Second, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("IDLE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("SHUTDOWN")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.weatherDebounce))
}

func TestObserveStep(t *testing.T) {
	m := New()
	m.ObserveStep("PARK_MOUNT", 3, false, false)
	m.ObserveStep("CLOSE_CAP", 1, true, false)
	m.ObserveStep("WARM_CAMERA", 0, true, true)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.stepAttempts.WithLabelValues("PARK_MOUNT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepFailures.WithLabelValues("PARK_MOUNT")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.stepFailures.WithLabelValues("CLOSE_CAP")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.stepAttempts.WithLabelValues("WARM_CAMERA")))
}

func TestObserveShutdownAndAlert(t *testing.T) {
	m := New()
	m.ObserveShutdown(true)
	m.ObserveShutdown(false)
	m.ObserveAlert(nil)
	m.ObserveAlert(errors.New("webhook down"))
	m.CycleError()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.shutdownResults.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shutdownResults.WithLabelValues("aborted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycleErrors))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveParkDrift(0.25)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "obsy_sentinel_parkmon_drift_degrees 0.25"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

func TestRegistriesIndependent(t *testing.T) {
	a, b := New(), New()
	a.CycleError()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.cycleErrors))
}
