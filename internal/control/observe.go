package control

import (
	"log/slog"
	"time"

	"github.com/sweeney/obsy-sentinel/internal/metrics"
	"github.com/sweeney/obsy-sentinel/internal/mqtt"
	"github.com/sweeney/obsy-sentinel/internal/shutdown"
	"github.com/sweeney/obsy-sentinel/internal/status"
)

// Summarize converts a shutdown report for the status tracker.
func Summarize(report shutdown.Report, err error) status.ShutdownSummary {
	sum := status.ShutdownSummary{
		ID:        report.ID,
		Started:   report.Started,
		Finished:  report.Finished,
		Completed: report.Completed,
	}
	if err != nil {
		sum.Error = err.Error()
	}
	for _, r := range report.Results {
		s := status.StepSummary{
			Step:      string(r.Step),
			Attempts:  r.Attempts,
			Succeeded: r.Succeeded,
			Skipped:   r.Skipped,
		}
		if r.Err != nil {
			s.Error = r.Err.Error()
		}
		sum.Steps = append(sum.Steps, s)
	}
	return sum
}

// StepObserver returns a shutdown.Options.Observer that publishes every
// step result and records it in m. pub and m may be nil.
func StepObserver(pub mqtt.Publisher, m *metrics.Metrics, now func() time.Time, log *slog.Logger) func(string, shutdown.StepResult) {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return func(id string, res shutdown.StepResult) {
		if m != nil {
			m.ObserveStep(string(res.Step), res.Attempts, res.Succeeded, res.Skipped)
		}
		if pub == nil {
			return
		}
		e := mqtt.StepEvent{
			Timestamp:  now(),
			ShutdownID: id,
			Step:       string(res.Step),
			Attempts:   res.Attempts,
			Succeeded:  res.Succeeded,
			Skipped:    res.Skipped,
		}
		if res.Err != nil {
			e.Error = res.Err.Error()
		}
		for _, sf := range res.SubFailures {
			e.SubFailures = append(e.SubFailures, sf.Name+": "+sf.Err.Error())
		}
		if err := pub.PublishStep(e); err != nil {
			log.Warn("failed to publish shutdown step", "step", res.Step, "err", err)
		}
	}
}
