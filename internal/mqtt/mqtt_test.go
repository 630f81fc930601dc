package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var ts = time.Date(2025, 3, 1, 23, 15, 0, 0, time.FixedZone("CET", 3600))

func TestTopic(t *testing.T) {
	if got := Topic("observatory/sentinel", TopicStep); got != "observatory/sentinel/step" {
		t.Errorf("Topic() = %q", got)
	}
	if got := Topic("", TopicAlert); got != "alert" {
		t.Errorf("Topic() without prefix = %q", got)
	}
}

func TestFormatDecisionPayloadExactJSON(t *testing.T) {
	got, err := FormatDecisionPayload(DecisionEvent{
		Timestamp: ts,
		Cycle:     42,
		Weather:   "false",
		Roof:      "false",
		Mount:     "true",
		Cap:       "true",
		Camera:    "unknown",
		Action:    "SHUTDOWN",
		Reason:    "weather unsafe, roof open",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"decision":{"timestamp":"2025-03-01T22:15:00Z","cycle":42,"weather_safe":"false","roof_closed":"false","mount_parked":"true","cap_closed":"true","camera_warm":"unknown","action":"SHUTDOWN","reason":"weather unsafe, roof open"}}`
	if string(got) != want {
		t.Errorf("payload mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestFormatStepPayload(t *testing.T) {
	got, err := FormatStepPayload(StepEvent{
		Timestamp:   ts,
		ShutdownID:  "abc",
		Step:        "ABORT_ACTIVE_OPS",
		Attempts:    1,
		SubFailures: []string{"Focus.abort: timeout"},
	})
	if err != nil {
		t.Fatal(err)
	}

	var p map[string]map[string]any
	if err := json.Unmarshal(got, &p); err != nil {
		t.Fatal(err)
	}
	step := p["step"]
	if step["step"] != "ABORT_ACTIVE_OPS" || step["shutdown_id"] != "abc" || step["succeeded"] != false {
		t.Errorf("unexpected step payload %s", got)
	}
	if _, ok := step["skipped"]; ok {
		t.Error("skipped should be omitted when false")
	}
	if _, ok := step["error"]; ok {
		t.Error("error should be omitted when empty")
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	got, err := FormatSystemPayload(SystemEvent{Timestamp: ts, Event: "SHUTDOWN", Reason: "SIGTERM"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"system":{"timestamp":"2025-03-01T22:15:00Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}

	got, _ = FormatSystemPayload(SystemEvent{Timestamp: ts, Event: "STARTUP"})
	want = `{"system":{"timestamp":"2025-03-01T22:15:00Z","event":"STARTUP"}}`
	if string(got) != want {
		t.Errorf("startup omits reason: got %s", got)
	}
}

func TestFormatAlertPayload(t *testing.T) {
	got, err := FormatAlertPayload(`roof "stuck"`, ts)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"alert":{"timestamp":"2025-03-01T22:15:00Z","message":"roof \"stuck\""}}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestFakePublisherRecords(t *testing.T) {
	f := NewFakePublisher()
	var p Publisher = f

	if err := p.PublishDecision(DecisionEvent{Cycle: 1, Action: "IDLE"}); err != nil {
		t.Fatal(err)
	}
	p.PublishStep(StepEvent{Step: "PARK_MOUNT"})
	p.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true})
	p.PublishAlert("help", ts)
	p.Close()

	if len(f.DecisionLog()) != 1 || len(f.StepLog()) != 1 || len(f.SystemLog()) != 1 || len(f.Alerts) != 1 {
		t.Errorf("unexpected recordings: %+v", f)
	}
	if !f.SystemLog()[0].Retained {
		t.Error("retained flag lost")
	}
	if !f.Closed {
		t.Error("Close not recorded")
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.Err = errors.New("broker down")

	if err := f.PublishDecision(DecisionEvent{}); err == nil {
		t.Error("expected error")
	}
	if err := f.PublishAlert("x", ts); err == nil {
		t.Error("expected error")
	}
	if len(f.DecisionLog()) != 0 {
		t.Error("failed publish must not be recorded")
	}
}
