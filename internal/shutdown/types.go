// Package shutdown runs the emergency sequence that brings the observatory
// to a safe state:
//
//	STOP_SOFTWARE → ABORT_ACTIVE_OPS → PARK_MOUNT → CLOSE_CAP → CLOSE_ROOF → WARM_CAMERA → DONE
//
// Every physical step is verified by re-reading the device. PARK_MOUNT,
// CLOSE_CAP and CLOSE_ROOF are safety-critical: if one cannot be verified
// after all attempts the operator is alerted and the process aborts.
// CLOSE_ROOF never runs unless PARK_MOUNT was verified.
package shutdown

import (
	"fmt"
	"strings"
	"time"
)

// Step names one stage of the sequence.
type Step string

const (
	StepStopSoftware   Step = "STOP_SOFTWARE"
	StepAbortActiveOps Step = "ABORT_ACTIVE_OPS"
	StepParkMount      Step = "PARK_MOUNT"
	StepCloseCap       Step = "CLOSE_CAP"
	StepCloseRoof      Step = "CLOSE_ROOF"
	StepWarmCamera     Step = "WARM_CAMERA"
	StepDone           Step = "DONE"
)

// Order is the fixed execution order.
var Order = []Step{
	StepStopSoftware,
	StepAbortActiveOps,
	StepParkMount,
	StepCloseCap,
	StepCloseRoof,
	StepWarmCamera,
}

// Critical reports whether an unverified s must halt unattended operation.
func (s Step) Critical() bool {
	switch s {
	case StepParkMount, StepCloseCap, StepCloseRoof:
		return true
	}
	return false
}

// SubFailure is one failed call inside a best-effort step.
type SubFailure struct {
	Name string
	Err  error
}

// StepResult is the outcome of one step. Succeeded means the device was
// re-read and found in the target state, not that a command was accepted.
type StepResult struct {
	Step      Step
	Attempts  int
	Succeeded bool

	// Skipped is set when the device is not installed.
	Skipped bool

	Err         error
	SubFailures []SubFailure
	Duration    time.Duration
}

func (r StepResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s attempts=%d succeeded=%v", r.Step, r.Attempts, r.Succeeded)
	if r.Skipped {
		b.WriteString(" skipped")
	}
	if r.Err != nil {
		fmt.Fprintf(&b, " err=%q", r.Err)
	}
	for _, sf := range r.SubFailures {
		fmt.Fprintf(&b, " %s=%q", sf.Name, sf.Err)
	}
	return b.String()
}

// StepFailure is returned when a safety-critical step could not be
// verified after every attempt.
type StepFailure struct {
	Step     Step
	Attempts int
	Err      error
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("shutdown: %s not verified after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
}

func (e *StepFailure) Unwrap() error {
	return e.Err
}

// Report is the record of one sequence run.
type Report struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Results  []StepResult

	// Completed is set when the sequence reached DONE.
	Completed bool
}

// Result returns the result for step, if it ran.
func (r Report) Result(step Step) (StepResult, bool) {
	for _, res := range r.Results {
		if res.Step == step {
			return res, true
		}
	}
	return StepResult{}, false
}
