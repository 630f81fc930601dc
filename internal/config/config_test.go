package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.INDI.Host)
	assert.Equal(t, 5*time.Second, cfg.INDI.CommandTimeout)
	assert.Equal(t, 60*time.Second, cfg.Loop.Interval)
	assert.Equal(t, 3, cfg.Shutdown.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Shutdown.VerifyInterval)
	assert.False(t, cfg.Loop.AutoResume)

	// no device sections: nothing installed
	assert.Nil(t, cfg.Weather)
	assert.Nil(t, cfg.Roof)
	assert.Nil(t, cfg.MountPark)
	assert.Nil(t, cfg.Cap)
	assert.Nil(t, cfg.Camera)
	assert.Nil(t, cfg.Mount)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
indi:
  host: indi.local
loop:
  interval: 30s
weather:
  property: Weather Meta.WEATHER_STATUS.STATION_STATUS
  ok_value: Ok
  stations: [1, 2]
  debounce_threshold: 4
roof:
  property: Dome Scripting Gateway.DOME_PARK.PARK
  value: "On"
mount_park:
  park_property: 10micron.TELESCOPE_PARK.PARK
  park_value: "On"
  dec_property: 10micron.EQUATORIAL_EOD_COORD.DEC
  park_dec: 39
  max_dec_offset: 1
mount:
  addr: 192.168.100.73:3490
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "indi.local", cfg.INDI.Host)
	assert.Equal(t, 7624, cfg.INDI.Port, "untouched keys keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Loop.Interval)

	require.NotNil(t, cfg.Weather)
	assert.Equal(t, []int{1, 2}, cfg.Weather.Stations)
	assert.Equal(t, uint(4), cfg.Weather.DebounceThreshold)

	require.NotNil(t, cfg.Roof)
	assert.Equal(t, "On", cfg.Roof.Value)

	require.NotNil(t, cfg.MountPark)
	assert.Equal(t, DecCompareMagnitude, cfg.MountPark.DecCompare, "normalized to the historical comparison")
	assert.Equal(t, 39.0, cfg.MountPark.ParkDec)

	require.NotNil(t, cfg.Mount)
	assert.Equal(t, 5*time.Second, cfg.Mount.Timeout)

	assert.Nil(t, cfg.Cap, "cap not installed")
	assert.Nil(t, cfg.Camera, "camera not installed")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNormalizeDebounceThreshold(t *testing.T) {
	cfg := Default()
	cfg.Weather = &WeatherConfig{Property: "p", OKValue: "Ok"}
	Normalize(cfg)
	assert.Equal(t, uint(1), cfg.Weather.DebounceThreshold)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Loop.Interval = 0 }},
		{"zero attempts", func(c *Config) { c.Shutdown.MaxAttempts = 0 }},
		{"negative verify interval", func(c *Config) { c.Shutdown.VerifyInterval = -time.Second }},
		{"empty indi host", func(c *Config) { c.INDI.Host = "" }},
		{"weather without ok value", func(c *Config) { c.Weather = &WeatherConfig{Property: "p"} }},
		{"duplicate station", func(c *Config) {
			c.Weather = &WeatherConfig{Property: "p", OKValue: "Ok", Stations: []int{1, 1}}
		}},
		{"roof without value", func(c *Config) { c.Roof = &PropertyCheck{Property: "p"} }},
		{"unknown dec compare", func(c *Config) {
			c.MountPark = &MountParkConfig{ParkProperty: "p", ParkValue: "On", DecCompare: "angular"}
		}},
		{"track property without value", func(c *Config) {
			c.MountPark = &MountParkConfig{ParkProperty: "p", ParkValue: "On", TrackProperty: "t", DecCompare: DecCompareMagnitude}
		}},
		{"mount without addr", func(c *Config) { c.Mount = &MountConfig{Timeout: time.Second} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestExampleIsValidAndRoundTrips(t *testing.T) {
	ex := Example()
	require.NoError(t, Validate(ex))

	data, err := Marshal(ex)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Contains(t, back, "weather")
	assert.Contains(t, back, "mount_park")
	assert.NotContains(t, back, "cap", "absent device stays absent")

	path := writeConfig(t, string(data))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ex.Weather.Stations, loaded.Weather.Stations)
	assert.Equal(t, ex.Shutdown.RoofCloseTimeout, loaded.Shutdown.RoofCloseTimeout)
}
