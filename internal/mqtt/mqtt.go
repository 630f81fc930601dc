// Package mqtt publishes observatory events to an MQTT broker.
//
// Topics hang off a configurable prefix:
//
//	<prefix>/decision  one message per control cycle
//	<prefix>/step      one message per shutdown step
//	<prefix>/system    lifecycle events (retained)
//	<prefix>/alert     operator alerts
package mqtt

import (
	"encoding/json"
	"time"
)

// Topic suffixes.
const (
	TopicDecision = "decision"
	TopicStep     = "step"
	TopicSystem   = "system"
	TopicAlert    = "alert"
)

// Topic joins prefix and suffix.
func Topic(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

// Publisher publishes events. Errors are reported to the caller but must
// never stop the control loop.
type Publisher interface {
	PublishDecision(event DecisionEvent) error
	PublishStep(event StepEvent) error
	PublishSystem(event SystemEvent) error
	PublishAlert(msg string, ts time.Time) error
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// DecisionEvent is the outcome of one control cycle.
type DecisionEvent struct {
	Timestamp time.Time
	Cycle     uint64
	Weather   string
	Roof      string
	Mount     string
	Cap       string
	Camera    string
	Action    string
	Reason    string
}

// StepEvent is the outcome of one shutdown step.
type StepEvent struct {
	Timestamp   time.Time
	ShutdownID  string
	Step        string
	Attempts    int
	Succeeded   bool
	Skipped     bool
	Error       string
	SubFailures []string
}

// SystemEvent is a lifecycle event (STARTUP, SHUTDOWN, OFFLINE).
type SystemEvent struct {
	Timestamp time.Time
	Event     string
	Reason    string // e.g. "SIGTERM" (shutdown only)
	Retained  bool
}

type decisionPayload struct {
	Decision struct {
		Timestamp string `json:"timestamp"`
		Cycle     uint64 `json:"cycle"`
		Weather   string `json:"weather_safe"`
		Roof      string `json:"roof_closed"`
		Mount     string `json:"mount_parked"`
		Cap       string `json:"cap_closed"`
		Camera    string `json:"camera_warm"`
		Action    string `json:"action"`
		Reason    string `json:"reason"`
	} `json:"decision"`
}

// FormatDecisionPayload creates the JSON payload for a decision event.
func FormatDecisionPayload(e DecisionEvent) ([]byte, error) {
	var p decisionPayload
	d := &p.Decision
	d.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	d.Cycle = e.Cycle
	d.Weather, d.Roof, d.Mount, d.Cap, d.Camera = e.Weather, e.Roof, e.Mount, e.Cap, e.Camera
	d.Action = e.Action
	d.Reason = e.Reason
	return json.Marshal(p)
}

type stepPayload struct {
	Step struct {
		Timestamp   string   `json:"timestamp"`
		ShutdownID  string   `json:"shutdown_id"`
		Step        string   `json:"step"`
		Attempts    int      `json:"attempts"`
		Succeeded   bool     `json:"succeeded"`
		Skipped     bool     `json:"skipped,omitempty"`
		Error       string   `json:"error,omitempty"`
		SubFailures []string `json:"sub_failures,omitempty"`
	} `json:"step"`
}

// FormatStepPayload creates the JSON payload for a shutdown step event.
func FormatStepPayload(e StepEvent) ([]byte, error) {
	var p stepPayload
	s := &p.Step
	s.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	s.ShutdownID = e.ShutdownID
	s.Step = e.Step
	s.Attempts = e.Attempts
	s.Succeeded = e.Succeeded
	s.Skipped = e.Skipped
	s.Error = e.Error
	s.SubFailures = e.SubFailures
	return json.Marshal(p)
}

type systemPayload struct {
	System struct {
		Timestamp string `json:"timestamp"`
		Event     string `json:"event"`
		Reason    string `json:"reason,omitempty"`
	} `json:"system"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(e SystemEvent) ([]byte, error) {
	var p systemPayload
	p.System.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	p.System.Event = e.Event
	p.System.Reason = e.Reason
	return json.Marshal(p)
}

type alertPayload struct {
	Alert struct {
		Timestamp string `json:"timestamp"`
		Message   string `json:"message"`
	} `json:"alert"`
}

// FormatAlertPayload creates the JSON payload for an alert.
func FormatAlertPayload(msg string, ts time.Time) ([]byte, error) {
	var p alertPayload
	p.Alert.Timestamp = ts.UTC().Format(time.RFC3339)
	p.Alert.Message = msg
	return json.Marshal(p)
}
