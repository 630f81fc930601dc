package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v3"
)

// defaults carries only the sections that always exist. Device sections are
// deliberately absent so that a missing section stays nil after Load.
type defaults struct {
	INDI           INDIConfig           `koanf:"indi"`
	Shutdown       ShutdownConfig       `koanf:"shutdown"`
	Loop           LoopConfig           `koanf:"loop"`
	Alert          AlertConfig          `koanf:"alert"`
	MQTT           MQTTConfig           `koanf:"mqtt"`
	HTTP           HTTPConfig           `koanf:"http"`
	ParkMon        ParkMonConfig        `koanf:"parkmon"`
	RoofController RoofControllerConfig `koanf:"roof_controller"`
}

func defaultSections() defaults {
	return defaults{
		INDI: INDIConfig{
			Host:           "localhost",
			Port:           7624,
			CommandTimeout: 5 * time.Second,
			GetProp:        "indi_getprop",
			SetProp:        "indi_setprop",
		},
		Shutdown: ShutdownConfig{
			MaxAttempts:       3,
			VerifyInterval:    time.Second,
			MountParkTimeout:  60 * time.Second,
			CapCloseTimeout:   30 * time.Second,
			RoofCloseTimeout:  60 * time.Second,
			CameraWarmTimeout: 30 * time.Second,
		},
		Loop: LoopConfig{
			Interval: 60 * time.Second,
		},
		Alert: AlertConfig{
			Timeout:     10 * time.Second,
			MinInterval: 60 * time.Second,
		},
		MQTT: MQTTConfig{
			ClientID:    "obsy-sentinel",
			TopicPrefix: "observatory/sentinel",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		ParkMon: ParkMonConfig{
			Interval:   60 * time.Second,
			MaxOffset:  1.0,
			SettleTime: 30 * time.Second,
		},
		RoofController: RoofControllerConfig{
			Chip:               "gpiochip0",
			PinOpenSensor:      9,
			PinClosedSensor:    10,
			PinMotorStart:      17,
			PinMotorDirection:  18,
			PinButton:          24,
			MotionTimeout:      90 * time.Second,
			MinPress:           100 * time.Millisecond,
			Addr:               ":5000",
			RequireMountParked: true,
		},
	}
}

// Default returns a configuration with every default applied and no devices
// installed.
func Default() *Config {
	d := defaultSections()
	return &Config{
		INDI:           d.INDI,
		Shutdown:       d.Shutdown,
		Loop:           d.Loop,
		Alert:          d.Alert,
		MQTT:           d.MQTT,
		HTTP:           d.HTTP,
		ParkMon:        d.ParkMon,
		RoofController: d.RoofController,
	}
}

// Load reads the YAML document at path over the defaults, then normalizes
// and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultSections(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	Normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Example returns a populated configuration for an observatory with two
// weather stations, a 10micron mount, a scripted roof and a cooled camera.
func Example() *Config {
	cfg := Default()
	cfg.Mount = &MountConfig{Addr: "192.168.100.73:3490", Timeout: 5 * time.Second}
	cfg.Weather = &WeatherConfig{
		Property:          "Weather Meta.WEATHER_STATUS.STATION_STATUS",
		OKValue:           "Ok",
		Stations:          []int{1, 2},
		DebounceThreshold: 3,
	}
	cfg.Roof = &PropertyCheck{Property: "Dome Scripting Gateway.DOME_PARK.PARK", Value: "On"}
	cfg.MountPark = &MountParkConfig{
		ParkProperty:  "10micron.TELESCOPE_PARK.PARK",
		ParkValue:     "On",
		TrackProperty: "10micron.TELESCOPE_TRACK_STATE.TRACK_ON",
		TrackOffValue: "Off",
		DecProperty:   "10micron.EQUATORIAL_EOD_COORD.DEC",
		ParkDec:       39,
		MaxDecOffset:  1,
		DecCompare:    DecCompareMagnitude,
	}
	cfg.Camera = &PropertyCheck{Property: "ASI1600MM-Cool.CCD_COOLER.COOLER_ON", Value: "Off"}
	cfg.ParkMon.ExpectedDec = 39
	cfg.Ekos.Enabled = true
	return cfg
}

// Marshal renders cfg as a YAML document.
func Marshal(cfg *Config) ([]byte, error) {
	return yml.Marshal(cfg)
}
