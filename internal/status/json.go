package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	WeatherSafe     string        `json:"weather_safe"`
	RoofClosed      string        `json:"roof_closed"`
	MountParked     string        `json:"mount_parked"`
	CapClosed       string        `json:"cap_closed"`
	CameraWarm      string        `json:"camera_warm"`
	ReadingTime     string        `json:"reading_time,omitempty"`
	Action          string        `json:"action"`
	Reason          string        `json:"reason"`
	WeatherDebounce uint          `json:"weather_debounce"`
	UptimeSeconds   int64         `json:"uptime_seconds"`
	StartTime       string        `json:"start_time"`
	Timestamp       string        `json:"timestamp"`
	MQTT            MQTTStatus    `json:"mqtt"`
	Counts          CountsJSON    `json:"counts"`
	LastShutdown    *ShutdownJSON `json:"last_shutdown,omitempty"`
	Config          ConfigJSON    `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// CountsJSON is the JSON representation of cycle counts.
type CountsJSON struct {
	Cycles    uint64 `json:"cycles"`
	Idle      uint64 `json:"idle"`
	Skipped   uint64 `json:"skipped"`
	Shutdowns uint64 `json:"shutdowns"`
	Resumes   uint64 `json:"resumes"`
	Errors    uint64 `json:"errors"`
}

// ShutdownJSON is the JSON representation of the last shutdown.
type ShutdownJSON struct {
	ID        string     `json:"id"`
	Started   string     `json:"started"`
	Finished  string     `json:"finished,omitempty"`
	Completed bool       `json:"completed"`
	Error     string     `json:"error,omitempty"`
	Steps     []StepJSON `json:"steps"`
}

// StepJSON is one shutdown step.
type StepJSON struct {
	Step      string `json:"step"`
	Attempts  int    `json:"attempts"`
	Succeeded bool   `json:"succeeded"`
	Skipped   bool   `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	IntervalSeconds   int64  `json:"interval_seconds"`
	DebounceThreshold uint   `json:"debounce_threshold"`
	MaxAttempts       int    `json:"max_attempts"`
	AutoResume        bool   `json:"auto_resume"`
	HTTPAddr          string `json:"http_addr,omitempty"`
}

func rfc3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	action := snap.Action
	if action == "" {
		action = "PENDING"
	}

	inner := StatusInner{
		WeatherSafe:     snap.Safety.WeatherSafe.String(),
		RoofClosed:      snap.Safety.RoofClosed.String(),
		MountParked:     snap.Safety.MountParked.String(),
		CapClosed:       snap.Safety.CapClosed.String(),
		CameraWarm:      snap.Safety.CameraWarm.String(),
		ReadingTime:     rfc3339(snap.Safety.Time),
		Action:          action,
		Reason:          snap.Reason,
		WeatherDebounce: snap.WeatherDebounce,
		UptimeSeconds:   int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:       rfc3339(snap.StartTime),
		Timestamp:       rfc3339(snap.Now),
		MQTT:            MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Cycles:    snap.Counts.Cycles,
			Idle:      snap.Counts.Idle,
			Skipped:   snap.Counts.Skipped,
			Shutdowns: snap.Counts.Shutdowns,
			Resumes:   snap.Counts.Resumes,
			Errors:    snap.Counts.Errors,
		},
		Config: ConfigJSON{
			IntervalSeconds:   int64(snap.Config.Interval / time.Second),
			DebounceThreshold: snap.Config.DebounceThreshold,
			MaxAttempts:       snap.Config.MaxAttempts,
			AutoResume:        snap.Config.AutoResume,
			HTTPAddr:          snap.Config.HTTPAddr,
		},
	}

	if ls := snap.LastShutdown; ls != nil {
		sj := &ShutdownJSON{
			ID:        ls.ID,
			Started:   rfc3339(ls.Started),
			Finished:  rfc3339(ls.Finished),
			Completed: ls.Completed,
			Error:     ls.Error,
			Steps:     make([]StepJSON, 0, len(ls.Steps)),
		}
		for _, s := range ls.Steps {
			sj.Steps = append(sj.Steps, StepJSON{
				Step:      s.Step,
				Attempts:  s.Attempts,
				Succeeded: s.Succeeded,
				Skipped:   s.Skipped,
				Error:     s.Error,
			})
		}
		inner.LastShutdown = sj
	}

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}
