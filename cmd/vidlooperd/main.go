package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alubbock/rpi-vidlooper/internal/config"
	"github.com/alubbock/rpi-vidlooper/internal/control"
	"github.com/alubbock/rpi-vidlooper/internal/gpio"
	"github.com/alubbock/rpi-vidlooper/internal/looper"
	"github.com/alubbock/rpi-vidlooper/internal/player"
)

func main() {
	cmd, _ := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath     string
	audio          string
	noAutostart    bool
	noLoop         bool
	restartOnPress bool
	videoDir       string
	pinSpec        string
	debug          bool
	countdown      int
	splash         string
	noOSD          bool
	shutdownPin    int
	chip           string
	playerBin      string
	broker         string
	instanceID     string
}

func newRootCmd() (*cobra.Command, *options) {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "vidlooperd [videos...]",
		Short: "GPIO-controlled looping video display",
		Long: `vidlooperd powers a looping video display where the active video is
switched by shorting a GPIO pin. Each input pin can be paired with an
output pin (e.g. an LED) that indicates the active selection. Playback
is delegated to an external hardware-accelerated player (omxplayer by
default), which must be installed separately.

Videos are listed on the command line or discovered in a directory.
An optional MQTT control plane allows remote switching and status
monitoring.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "path to YAML configuration file")
	f.StringVar(&opts.audio, "audio", config.AudioHDMI, "audio route: hdmi, local or both")
	f.BoolVar(&opts.noAutostart, "no-autostart", false, "don't start playing a video on startup")
	f.BoolVar(&opts.noLoop, "no-loop", false, "don't loop the active video")
	f.BoolVar(&opts.restartOnPress, "restart-on-press", false,
		"restart the active video when its own button is pressed again")
	f.StringVar(&opts.videoDir, "video-dir", "",
		"directory containing video files (alternative to listing videos)")
	f.StringVar(&opts.pinSpec, "gpio-pins", "",
		"pin mapping, IN:OUT pairs or bare IN pins, comma separated (BCM numbering)")
	f.BoolVar(&opts.debug, "debug", false, "debug logging; don't clear the screen or suppress player output")
	f.IntVar(&opts.countdown, "countdown", 0, "countdown before start, in seconds")
	f.StringVar(&opts.splash, "splash", "", "splash image to show when no video is playing")
	f.BoolVar(&opts.noOSD, "no-osd", false, "don't show the on-screen display when changing videos")
	f.IntVar(&opts.shutdownPin, "shutdown-pin", 0, "GPIO pin that triggers a system shutdown")
	f.StringVar(&opts.chip, "gpio-chip", "", "GPIO character device name")
	f.StringVar(&opts.playerBin, "player", "", "external player binary")
	f.StringVar(&opts.broker, "mqtt-broker", "", "MQTT broker (host:port) for the control plane")
	f.StringVar(&opts.instanceID, "instance-id", "", "instance id used in MQTT topics")

	return cmd, opts
}

// buildConfig layers command-line flags over the optional config file and
// validates the result.
func buildConfig(cmd *cobra.Command, opts *options, videos []string) (*config.Config, error) {
	var cfg *config.Config
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		def := config.Default()
		cfg = &def
	}

	changed := cmd.Flags().Changed
	if changed("audio") {
		cfg.Audio = opts.audio
	}
	if changed("no-autostart") {
		cfg.Autostart = !opts.noAutostart
	}
	if changed("no-loop") {
		cfg.Loop = !opts.noLoop
	}
	if changed("restart-on-press") {
		cfg.RestartOnPress = opts.restartOnPress
	}
	if changed("video-dir") {
		cfg.VideoDir = opts.videoDir
	}
	if changed("gpio-pins") {
		cfg.PinSpec = opts.pinSpec
		cfg.Pins = nil
	}
	if changed("debug") {
		cfg.Debug = opts.debug
	}
	if changed("countdown") {
		cfg.Countdown = opts.countdown
	}
	if changed("splash") {
		cfg.Splash = opts.splash
	}
	if changed("no-osd") {
		cfg.NoOSD = opts.noOSD
	}
	if changed("shutdown-pin") {
		cfg.ShutdownPin = opts.shutdownPin
	}
	if changed("gpio-chip") {
		cfg.Chip = opts.chip
	}
	if changed("player") {
		cfg.Player = opts.playerBin
	}
	if changed("mqtt-broker") {
		cfg.MQTT.Broker = opts.broker
	}
	if changed("instance-id") {
		cfg.MQTT.InstanceID = opts.instanceID
	}

	if len(videos) > 0 {
		if changed("video-dir") {
			return nil, &config.ConfigError{Err: fmt.Errorf("use either --video-dir or an explicit video list, not both")}
		}
		cfg.Videos = videos
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cmd *cobra.Command, opts *options, args []string) error {
	cfg, err := buildConfig(cmd, opts, args)
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	if !countdown(ctx, cfg.Countdown) {
		return nil
	}

	// Configuration resolved before any hardware is touched.
	bindings, err := cfg.Bindings()
	if err != nil {
		return err
	}

	slog.Info("vidlooper starting",
		"videos", len(cfg.Videos),
		"pins", len(bindings.Bindings()),
		"loop", cfg.Loop,
		"audio", cfg.Audio,
	)

	if !cfg.Debug {
		clearScreen()
		hideCursor()
		defer showCursor()
	}

	chip, err := gpio.Open(gpio.Config{
		Chip:        cfg.Chip,
		Inputs:      bindings.Inputs(),
		Outputs:     bindings.Outputs(),
		ShutdownPin: cfg.ShutdownPin,
		OnShutdown:  systemShutdown,
	})
	if err != nil {
		return fmt.Errorf("gpio init failed: %w", err)
	}
	defer chip.Close()

	supervisor := player.New(player.Config{
		Binary: cfg.Player,
		Audio:  cfg.Audio,
		Loop:   cfg.Loop,
		NoOSD:  cfg.NoOSD,
		Debug:  cfg.Debug,
	})

	var handler *control.Handler
	lp, err := looper.New(looper.Config{
		Map:            bindings,
		Player:         supervisor,
		Outputs:        chip,
		Events:         chip.Events(),
		Loop:           cfg.Loop,
		RestartOnPress: cfg.RestartOnPress,
		Autostart:      cfg.Autostart,
		Splash:         cfg.Splash,
		OnTransition: func(st looper.Status) {
			if handler != nil {
				handler.PublishStatus(st)
			}
		},
	})
	if err != nil {
		return err
	}
	defer lp.Teardown()

	if cfg.MQTT.Broker != "" {
		handler = control.NewHandler(control.Config{
			Broker:     cfg.MQTT.Broker,
			InstanceID: cfg.MQTT.InstanceID,
		}, control.Callbacks{
			OnGetStatus: lp.Status,
			OnPlay:      lp.SelectIndex,
			OnStop:      lp.StopPlayback,
			OnShutdown: func() error {
				cancel()
				return nil
			},
		})
		if err := handler.Connect(ctx); err != nil {
			return fmt.Errorf("control plane init failed: %w", err)
		}
		if err := handler.Start(ctx); err != nil {
			return fmt.Errorf("control plane init failed: %w", err)
		}
		defer handler.Stop()
	}

	if err := lp.Run(ctx); err != nil {
		return fmt.Errorf("looper failed: %w", err)
	}

	slog.Info("vidlooper stopped")
	return nil
}

// countdown waits the configured number of seconds before start, with a
// terminal progress line. Returns false when aborted by a signal.
func countdown(ctx context.Context, seconds int) bool {
	for i := seconds; i > 0; i-- {
		fmt.Fprintf(os.Stdout, "\rvidlooper starting in %d seconds (Ctrl-C to abort)...", i)
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			fmt.Fprintln(os.Stdout)
			return false
		}
	}
	if seconds > 0 {
		fmt.Fprintln(os.Stdout)
	}
	return true
}

// systemShutdown halts the machine. Wired to the shutdown pin.
func systemShutdown() {
	if err := exec.Command("shutdown", "-h", "now").Run(); err != nil {
		slog.Error("system shutdown failed", "error", err)
	}
}
