// Package control runs the sentinel's fixed-interval safety loop: read every
// condition, decide, and drive the shutdown sequence when the observatory
// is open in unsafe weather.
package control

import "github.com/sweeney/obsy-sentinel/internal/safety"

// Action is what one cycle decided to do.
type Action string

const (
	ActionIdle     Action = "IDLE"
	ActionShutdown Action = "SHUTDOWN"
	ActionSkip     Action = "SKIP"
	ActionResume   Action = "RESUME"
)

// Decision is an action plus the reasoning logged with it.
type Decision struct {
	Action Action
	Reason string
}

// Decide applies the decision table to st. Unknown weather always skips
// the cycle. With unsafe weather an unknown roof also skips, since the
// only action at stake depends on it. resume allows a RESUME decision when
// weather is safe and the roof is closed.
func Decide(st safety.Status, resume bool) Decision {
	switch st.WeatherSafe {
	case safety.True:
		switch st.RoofClosed {
		case safety.True:
			if resume {
				return Decision{ActionResume, "weather safe, roof closed, resuming scheduler"}
			}
			return Decision{ActionIdle, "weather safe, roof closed, nothing to resume"}
		case safety.False:
			return Decision{ActionIdle, "weather safe, roof open, observing"}
		default:
			return Decision{ActionIdle, "weather safe, roof state unknown"}
		}
	case safety.False:
		switch st.RoofClosed {
		case safety.True:
			return Decision{ActionIdle, "weather unsafe, roof closed, already safe"}
		case safety.False:
			return Decision{ActionShutdown, "weather unsafe, roof open"}
		default:
			return Decision{ActionSkip, "weather unsafe, roof state unknown"}
		}
	default:
		return Decision{ActionSkip, "weather state unknown"}
	}
}
