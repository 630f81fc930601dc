package config

import (
	"errors"
	"fmt"
	"time"
)

// Normalize fills in values that have a sensible fallback but could not be
// supplied as defaults because their section is optional.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Weather != nil && cfg.Weather.DebounceThreshold == 0 {
		cfg.Weather.DebounceThreshold = 1
	}
	if cfg.MountPark != nil && cfg.MountPark.DecCompare == "" {
		cfg.MountPark.DecCompare = DecCompareMagnitude
	}
	if cfg.Mount != nil && cfg.Mount.Timeout <= 0 {
		cfg.Mount.Timeout = 5 * time.Second
	}
}

// Validate checks configuration correctness. It does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"indi.command_timeout", cfg.INDI.CommandTimeout},
		{"shutdown.verify_interval", cfg.Shutdown.VerifyInterval},
		{"shutdown.mount_park_timeout", cfg.Shutdown.MountParkTimeout},
		{"shutdown.cap_close_timeout", cfg.Shutdown.CapCloseTimeout},
		{"shutdown.roof_close_timeout", cfg.Shutdown.RoofCloseTimeout},
		{"shutdown.camera_warm_timeout", cfg.Shutdown.CameraWarmTimeout},
		{"loop.interval", cfg.Loop.Interval},
		{"alert.timeout", cfg.Alert.Timeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("config: %s must be > 0, got %v", d.name, d.d)
		}
	}

	if cfg.Shutdown.MaxAttempts < 1 {
		return fmt.Errorf("config: shutdown.max_attempts must be >= 1, got %d", cfg.Shutdown.MaxAttempts)
	}
	if cfg.INDI.Host == "" {
		return errors.New("config: indi.host is required")
	}

	if w := cfg.Weather; w != nil {
		if w.Property == "" || w.OKValue == "" {
			return errors.New("config: weather requires property and ok_value")
		}
		seen := make(map[int]bool)
		for _, s := range w.Stations {
			if seen[s] {
				return fmt.Errorf("config: weather station %d listed twice", s)
			}
			seen[s] = true
		}
	}

	checks := []struct {
		name string
		pc   *PropertyCheck
	}{
		{"roof", cfg.Roof},
		{"cap", cfg.Cap},
		{"camera", cfg.Camera},
	}
	for _, c := range checks {
		if c.pc == nil {
			continue
		}
		if c.pc.Property == "" || c.pc.Value == "" {
			return fmt.Errorf("config: %s requires property and value", c.name)
		}
	}

	if m := cfg.MountPark; m != nil {
		if m.ParkProperty == "" || m.ParkValue == "" {
			return errors.New("config: mount_park requires park_property and park_value")
		}
		if (m.TrackProperty == "") != (m.TrackOffValue == "") {
			return errors.New("config: mount_park track_property and track_off_value go together")
		}
		if m.MaxDecOffset < 0 {
			return fmt.Errorf("config: mount_park.max_dec_offset must be >= 0, got %v", m.MaxDecOffset)
		}
		switch m.DecCompare {
		case DecCompareMagnitude, DecCompareDifference:
		default:
			return fmt.Errorf("config: unknown mount_park.dec_compare %q", m.DecCompare)
		}
	}

	if cfg.Mount != nil && cfg.Mount.Addr == "" {
		return errors.New("config: mount requires addr")
	}

	return nil
}
