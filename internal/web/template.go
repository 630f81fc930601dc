package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/obsy-sentinel/internal/safety"
	"github.com/sweeney/obsy-sentinel/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"tri": func(t safety.Tri) string {
		switch t {
		case safety.True:
			return "YES"
		case safety.False:
			return "NO"
		}
		return "UNKNOWN"
	},
	"triClass": func(t safety.Tri) string {
		switch t {
		case safety.True:
			return "ok"
		case safety.False:
			return "bad"
		}
		return "unknown"
	},
	"actionOrPending": func(s string) string {
		if s == "" {
			return "PENDING"
		}
		return s
	},
	"utc": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="30">
<title>Observatory Sentinel</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; font-weight: bold; }
.bad { color: red; font-weight: bold; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Observatory Sentinel</h1>

<h2>Conditions</h2>
<table>
<tr><th>Weather safe</th><td id="weather" class="{{triClass .Safety.WeatherSafe}}">{{tri .Safety.WeatherSafe}}{{if .WeatherDebounce}} ({{.WeatherDebounce}}/{{.Config.DebounceThreshold}}){{end}}</td></tr>
<tr><th>Roof closed</th><td id="roof" class="{{triClass .Safety.RoofClosed}}">{{tri .Safety.RoofClosed}}</td></tr>
<tr><th>Mount parked</th><td id="mount" class="{{triClass .Safety.MountParked}}">{{tri .Safety.MountParked}}</td></tr>
<tr><th>Cap closed</th><td id="cap" class="{{triClass .Safety.CapClosed}}">{{tri .Safety.CapClosed}}</td></tr>
<tr><th>Camera warm</th><td id="camera" class="{{triClass .Safety.CameraWarm}}">{{tri .Safety.CameraWarm}}</td></tr>
<tr><th>Read at</th><td>{{utc .Safety.Time}}</td></tr>
</table>

<h2>Decision</h2>
<table>
<tr><th>Action</th><td id="action">{{actionOrPending .Action}}</td></tr>
<tr><th>Reason</th><td>{{.Reason}}</td></tr>
</table>
{{with .LastShutdown}}
<h2>Last Shutdown</h2>
<table>
<tr><th>ID</th><td>{{.ID}}</td></tr>
<tr><th>Started</th><td>{{utc .Started}}</td></tr>
<tr><th>Result</th><td class="{{if .Completed}}ok{{else}}bad{{end}}">{{if .Completed}}completed{{else}}aborted{{end}}</td></tr>
{{if .Error}}<tr><th>Error</th><td>{{.Error}}</td></tr>{{end}}
{{range .Steps}}<tr><th>{{.Step}}</th><td>{{if .Skipped}}skipped{{else if .Succeeded}}ok{{else}}failed{{end}} ({{.Attempts}}){{if .Error}} {{.Error}}{{end}}</td></tr>
{{end}}</table>
{{end}}
<h2>Counts</h2>
<table>
<tr><th>Cycles</th><td>{{.Counts.Cycles}}</td></tr>
<tr><th>Idle</th><td>{{.Counts.Idle}}</td></tr>
<tr><th>Skipped</th><td>{{.Counts.Skipped}}</td></tr>
<tr><th>Shutdowns</th><td>{{.Counts.Shutdowns}}</td></tr>
<tr><th>Resumes</th><td>{{.Counts.Resumes}}</td></tr>
<tr><th>Errors</th><td>{{.Counts.Errors}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{utc .StartTime}}</td></tr>
<tr><th>Interval</th><td>{{.Config.Interval}}</td></tr>
<tr><th>Max attempts</th><td>{{.Config.MaxAttempts}}</td></tr>
<tr><th>Auto resume</th><td>{{if .Config.AutoResume}}yes{{else}}no{{end}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
