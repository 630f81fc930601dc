// Package safety turns device readings into safe/unsafe/unknown verdicts.
//
// A failed or timed-out query is always Unknown; it is never coerced to
// True. Devices without configuration are "not installed" and report True.
package safety

import "time"

// Tri is a boolean that may be unknown. The zero value is Unknown.
type Tri int8

const (
	Unknown Tri = iota
	False
	True
)

// FromBool converts b to True or False.
func FromBool(b bool) Tri {
	if b {
		return True
	}
	return False
}

// Known reports whether t is True or False.
func (t Tri) Known() bool {
	return t == True || t == False
}

func (t Tri) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// MarshalText encodes t as "true", "false" or "unknown".
func (t Tri) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Status is the per-cycle snapshot of every safety condition.
// It is built fresh each cycle and never modified afterwards.
type Status struct {
	Time        time.Time `json:"time"`
	WeatherSafe Tri       `json:"weather_safe"`
	RoofClosed  Tri       `json:"roof_closed"`
	MountParked Tri       `json:"mount_parked"`
	CapClosed   Tri       `json:"cap_closed"`
	CameraWarm  Tri       `json:"camera_warm"`
}
