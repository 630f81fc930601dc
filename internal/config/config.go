// Package config holds the observatory configuration.
//
// The document is YAML. Timing keys fall back to defaults when absent.
// Device sections are pointers: a device whose section is missing is
// treated as "not installed" and its safety check reports safe.
package config

import "time"

// Declination comparison modes for the mount park check.
const (
	// DecCompareMagnitude compares abs(current) - abs(park) against the
	// tolerance. This is the historical behaviour; it does not detect drift
	// when current and park have different signs.
	DecCompareMagnitude = "magnitude"

	// DecCompareDifference compares abs(current - park) against the tolerance.
	DecCompareDifference = "difference"
)

type Config struct {
	INDI           INDIConfig           `koanf:"indi" yaml:"indi"`
	Mount          *MountConfig         `koanf:"mount" yaml:"mount,omitempty"`
	Weather        *WeatherConfig       `koanf:"weather" yaml:"weather,omitempty"`
	Roof           *PropertyCheck       `koanf:"roof" yaml:"roof,omitempty"`
	MountPark      *MountParkConfig     `koanf:"mount_park" yaml:"mount_park,omitempty"`
	Cap            *PropertyCheck       `koanf:"cap" yaml:"cap,omitempty"`
	Camera         *PropertyCheck       `koanf:"camera" yaml:"camera,omitempty"`
	Shutdown       ShutdownConfig       `koanf:"shutdown" yaml:"shutdown"`
	Loop           LoopConfig           `koanf:"loop" yaml:"loop"`
	Alert          AlertConfig          `koanf:"alert" yaml:"alert"`
	MQTT           MQTTConfig           `koanf:"mqtt" yaml:"mqtt"`
	HTTP           HTTPConfig           `koanf:"http" yaml:"http"`
	Ekos           EkosConfig           `koanf:"ekos" yaml:"ekos"`
	ParkMon        ParkMonConfig        `koanf:"parkmon" yaml:"parkmon"`
	RoofController RoofControllerConfig `koanf:"roof_controller" yaml:"roof_controller"`
}

// INDIConfig addresses the instrument control service.
type INDIConfig struct {
	Host           string        `koanf:"host" yaml:"host"`
	Port           int           `koanf:"port" yaml:"port"`
	CommandTimeout time.Duration `koanf:"command_timeout" yaml:"command_timeout"`
	GetProp        string        `koanf:"getprop" yaml:"getprop"`
	SetProp        string        `koanf:"setprop" yaml:"setprop"`
}

// MountConfig addresses the mount's native command protocol.
type MountConfig struct {
	Addr    string        `koanf:"addr" yaml:"addr"`
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
}

// PropertyCheck is a single property compared against its safe value.
// The same pair is used to command the device into the safe state.
type PropertyCheck struct {
	Property string `koanf:"property" yaml:"property"`
	Value    string `koanf:"value" yaml:"value"`
}

// WeatherConfig describes the weather-safety property. When Stations is
// non-empty the property is queried once per station as "<property>_<index>".
type WeatherConfig struct {
	Property          string `koanf:"property" yaml:"property"`
	OKValue           string `koanf:"ok_value" yaml:"ok_value"`
	Stations          []int  `koanf:"stations" yaml:"stations,omitempty"`
	DebounceThreshold uint   `koanf:"debounce_threshold" yaml:"debounce_threshold"`

	// FailureIsUnknown reports weather as unknown instead of unsafe once the
	// debounce threshold is reached purely through query failures. A single
	// not-OK station report anywhere in the streak makes the verdict unsafe
	// until a safe reading starts a new streak.
	FailureIsUnknown bool `koanf:"failure_is_unknown" yaml:"failure_is_unknown"`
}

type MountParkConfig struct {
	ParkProperty  string  `koanf:"park_property" yaml:"park_property"`
	ParkValue     string  `koanf:"park_value" yaml:"park_value"`
	TrackProperty string  `koanf:"track_property" yaml:"track_property"`
	TrackOffValue string  `koanf:"track_off_value" yaml:"track_off_value"`
	DecProperty   string  `koanf:"dec_property" yaml:"dec_property"`
	ParkDec       float64 `koanf:"park_dec" yaml:"park_dec"`
	MaxDecOffset  float64 `koanf:"max_dec_offset" yaml:"max_dec_offset"`
	DecCompare    string  `koanf:"dec_compare" yaml:"dec_compare"`
}

type ShutdownConfig struct {
	// MaxAttempts bounds how many times a safety-critical step is issued,
	// the first attempt included.
	MaxAttempts       int           `koanf:"max_attempts" yaml:"max_attempts"`
	VerifyInterval    time.Duration `koanf:"verify_interval" yaml:"verify_interval"`
	MountParkTimeout  time.Duration `koanf:"mount_park_timeout" yaml:"mount_park_timeout"`
	CapCloseTimeout   time.Duration `koanf:"cap_close_timeout" yaml:"cap_close_timeout"`
	RoofCloseTimeout  time.Duration `koanf:"roof_close_timeout" yaml:"roof_close_timeout"`
	CameraWarmTimeout time.Duration `koanf:"camera_warm_timeout" yaml:"camera_warm_timeout"`
}

type LoopConfig struct {
	Interval   time.Duration `koanf:"interval" yaml:"interval"`
	AutoResume bool          `koanf:"auto_resume" yaml:"auto_resume"`
}

type AlertConfig struct {
	Timeout           time.Duration `koanf:"timeout" yaml:"timeout"`
	MattermostURL     string        `koanf:"mattermost_url" yaml:"mattermost_url,omitempty"`
	MattermostURLFile string        `koanf:"mattermost_url_file" yaml:"mattermost_url_file,omitempty"`
	MQTT              bool          `koanf:"mqtt" yaml:"mqtt"`
	MinInterval       time.Duration `koanf:"min_interval" yaml:"min_interval"`
}

// MQTTConfig enables event publishing when Broker is set.
type MQTTConfig struct {
	Broker      string `koanf:"broker" yaml:"broker,omitempty"`
	ClientID    string `koanf:"client_id" yaml:"client_id"`
	TopicPrefix string `koanf:"topic_prefix" yaml:"topic_prefix"`
}

// HTTPConfig enables the status server when Addr is set.
type HTTPConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

type EkosConfig struct {
	Enabled bool `koanf:"enabled" yaml:"enabled"`
}

// ParkMonConfig drives the park-position monitor.
type ParkMonConfig struct {
	Interval    time.Duration `koanf:"interval" yaml:"interval"`
	ExpectedDec float64       `koanf:"expected_dec" yaml:"expected_dec"`
	ExpectedRA  float64       `koanf:"expected_ra" yaml:"expected_ra"`
	CheckRA     bool          `koanf:"check_ra" yaml:"check_ra"`
	MaxOffset   float64       `koanf:"max_offset" yaml:"max_offset"`
	SettleTime  time.Duration `koanf:"settle_time" yaml:"settle_time"`
}

// RoofControllerConfig describes the roof motor hardware (BCM line offsets).
type RoofControllerConfig struct {
	Chip               string        `koanf:"chip" yaml:"chip"`
	PinOpenSensor      int           `koanf:"pin_open_sensor" yaml:"pin_open_sensor"`
	PinClosedSensor    int           `koanf:"pin_closed_sensor" yaml:"pin_closed_sensor"`
	PinMotorStart      int           `koanf:"pin_motor_start" yaml:"pin_motor_start"`
	PinMotorDirection  int           `koanf:"pin_motor_direction" yaml:"pin_motor_direction"`
	PinButton          int           `koanf:"pin_button" yaml:"pin_button"`
	MotionTimeout      time.Duration `koanf:"motion_timeout" yaml:"motion_timeout"`
	MinPress           time.Duration `koanf:"min_press" yaml:"min_press"`
	Addr               string        `koanf:"addr" yaml:"addr"`
	RequireMountParked bool          `koanf:"require_mount_parked" yaml:"require_mount_parked"`
}
