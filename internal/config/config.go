package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alubbock/rpi-vidlooper/internal/pinmap"
)

// Audio routes accepted by the player.
const (
	AudioHDMI  = "hdmi"
	AudioLocal = "local"
	AudioBoth  = "both"
)

// DefaultPins is the pin mapping used when none is configured
// (BCM numbering, input:output).
var DefaultPins = []pinmap.Pair{
	{Input: 26, Output: 21},
	{Input: 19, Output: 20},
	{Input: 13, Output: 16},
	{Input: 6, Output: 12},
}

// Config is the complete vidlooper configuration. It is resolved once at
// startup and immutable afterwards.
type Config struct {
	Audio          string `yaml:"audio"`
	Autostart      bool   `yaml:"autostart"`
	Loop           bool   `yaml:"loop"`
	RestartOnPress bool   `yaml:"restart_on_press"`
	NoOSD          bool   `yaml:"no_osd"`
	Debug          bool   `yaml:"debug"`

	// VideoDir is scanned for videos when Videos is empty.
	VideoDir string   `yaml:"video_dir"`
	Videos   []string `yaml:"videos"`

	// PinSpec is the "in:out,in:out,..." mapping string. Parsed into Pins
	// during validation; DefaultPins when empty.
	PinSpec string       `yaml:"gpio_pins"`
	Pins    []pinmap.Pair `yaml:"-"`

	// ShutdownPin triggers a system shutdown when shorted. Zero or
	// negative disables it.
	ShutdownPin int `yaml:"shutdown_pin"`

	Splash    string `yaml:"splash"`
	Countdown int    `yaml:"countdown"`

	// Chip is the GPIO character device name.
	Chip string `yaml:"gpio_chip"`

	// Player is the external player binary.
	Player string `yaml:"player"`

	// MQTT enables the optional control plane when Broker is set.
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig contains control plane settings.
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	InstanceID string `yaml:"instance_id"`
}

// Default returns a Config with the built-in defaults applied.
func Default() Config {
	return Config{
		Audio:     AudioHDMI,
		Autostart: true,
		Loop:      true,
		Chip:      "gpiochip0",
		Player:    "omxplayer",
	}
}

// Load reads and parses a YAML configuration file on top of the defaults.
// The result is not yet validated; call Validate after applying any
// command-line overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{fmt.Errorf("failed to read config file: %w", err)}
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{fmt.Errorf("failed to parse config: %w", err)}
	}

	return &cfg, nil
}

// ConfigError reports an invalid configuration. It is always raised before
// any hardware or process state is touched; the process exits non-zero.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Bindings builds the pin map from the validated configuration.
func (c *Config) Bindings() (*pinmap.Map, error) {
	m, err := pinmap.New(c.Pins, c.Videos)
	if err != nil {
		return nil, &ConfigError{err}
	}
	return m, nil
}
