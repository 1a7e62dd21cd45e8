package config

import (
	"fmt"
	"os"
)

// Validate checks the configuration and applies defaults. It resolves the
// pin specification and the video list, so a nil error means the
// configuration is complete enough to touch hardware.
func Validate(cfg *Config) error {
	switch cfg.Audio {
	case AudioHDMI, AudioLocal, AudioBoth:
	default:
		return &ConfigError{fmt.Errorf("audio must be one of hdmi, local, both; got %q", cfg.Audio)}
	}

	if cfg.Chip == "" {
		cfg.Chip = "gpiochip0"
	}
	if cfg.Player == "" {
		cfg.Player = "omxplayer"
	}
	if cfg.Countdown < 0 {
		return &ConfigError{fmt.Errorf("countdown must be >= 0, got %d", cfg.Countdown)}
	}

	if len(cfg.Pins) == 0 {
		if cfg.PinSpec != "" {
			pins, err := ParsePinSpec(cfg.PinSpec)
			if err != nil {
				return err
			}
			cfg.Pins = pins
		} else {
			cfg.Pins = DefaultPins
		}
	}

	if len(cfg.Videos) == 0 {
		dir := cfg.VideoDir
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return &ConfigError{fmt.Errorf("failed to resolve working directory: %w", err)}
			}
			dir = wd
		}
		videos, err := DiscoverVideos(dir)
		if err != nil {
			return err
		}
		cfg.Videos = videos
	} else {
		for _, v := range cfg.Videos {
			if isStreamURL(v) {
				continue
			}
			if _, err := os.Stat(v); err != nil {
				return &ConfigError{fmt.Errorf("video %q not found: %w", v, err)}
			}
		}
	}

	if cfg.Splash != "" {
		if _, err := os.Stat(cfg.Splash); err != nil {
			return &ConfigError{fmt.Errorf("splash image %q not found: %w", cfg.Splash, err)}
		}
	}

	if cfg.MQTT.Broker != "" && cfg.MQTT.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "vidlooper"
		}
		cfg.MQTT.InstanceID = host
	}

	return nil
}
