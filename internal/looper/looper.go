package looper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alubbock/rpi-vidlooper/internal/gpio"
	"github.com/alubbock/rpi-vidlooper/internal/pinmap"
	"github.com/alubbock/rpi-vidlooper/internal/player"
)

// DefaultPollInterval is how often a non-looping playback is checked for
// natural completion.
const DefaultPollInterval = 500 * time.Millisecond

// Player supervises the external player processes on behalf of the state
// machine. *player.Supervisor implements it.
type Player interface {
	Start(video string) (player.Process, error)
	StartSplash(image string) (player.Process, error)
	Stop(player.Process) error
	Kill(player.Process) error
}

// Status is a snapshot of the playback state.
type Status struct {
	// ActiveIndex is the selected video index, -1 when idle.
	ActiveIndex int `json:"active_index"`
	// Video is the media path of the active selection.
	Video string `json:"video,omitempty"`
	// Session is the unique id of the active playback.
	Session string `json:"session,omitempty"`
	// Playing reports whether a player process is live.
	Playing bool `json:"playing"`
}

// Config assembles a Looper's collaborators and policy.
type Config struct {
	Map     *pinmap.Map
	Player  Player
	Outputs gpio.Outputs
	Events  <-chan gpio.Event

	// Loop makes the player repeat the active video until switched.
	Loop bool
	// RestartOnPress restarts the active video when its own pin fires
	// again; otherwise such events are ignored.
	RestartOnPress bool
	// Autostart selects the first configured video at startup, or shows
	// Splash instead when one is configured.
	Autostart bool
	Splash    string

	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration

	// OnTransition, when set, is called after every completed state
	// change with the new status. Called outside the lock.
	OnTransition func(Status)
}

// Looper is the selection state machine. All playback state lives behind
// one exclusive lock; edge events, the completion poll and control plane
// commands all serialize on it.
type Looper struct {
	cfg Config

	mu     sync.Mutex
	active int
	proc   player.Process
	splash player.Process

	teardown sync.Once
}

// New creates a Looper. The configuration must carry a pin map, player,
// outputs and an event channel.
func New(cfg Config) (*Looper, error) {
	if cfg.Map == nil {
		return nil, fmt.Errorf("pin map is required")
	}
	if cfg.Player == nil {
		return nil, fmt.Errorf("player is required")
	}
	if cfg.Outputs == nil {
		return nil, fmt.Errorf("outputs are required")
	}
	if cfg.Events == nil {
		return nil, fmt.Errorf("event channel is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Looper{cfg: cfg, active: -1}, nil
}

// Run drives the state machine until the context is cancelled: it applies
// the autostart policy, consumes edge events and polls non-looping
// playback for completion. Teardown runs on every exit path.
func (l *Looper) Run(ctx context.Context) error {
	defer l.Teardown()

	if err := l.autostart(); err != nil {
		return err
	}

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-l.cfg.Events:
			if !ok {
				return fmt.Errorf("event source closed")
			}
			if err := l.HandleEvent(ev.Pin); err != nil {
				// Launch failures leave the machine idle; no retry.
				slog.Error("video switch failed", "pin", ev.Pin, "error", err)
			}

		case <-ticker.C:
			if !l.cfg.Loop {
				l.pollExit()
			}
		}
	}
}

// autostart applies the startup policy: splash when configured, otherwise
// the first selectable pin as if it had been pressed.
func (l *Looper) autostart() error {
	if !l.cfg.Autostart {
		return nil
	}

	if l.cfg.Splash != "" {
		p, err := l.cfg.Player.StartSplash(l.cfg.Splash)
		if err != nil {
			return fmt.Errorf("failed to start splash: %w", err)
		}
		l.mu.Lock()
		l.splash = p
		l.mu.Unlock()
		slog.Info("splash displayed, waiting for first event", "image", l.cfg.Splash)
		return nil
	}

	bindings := l.cfg.Map.Bindings()
	if len(bindings) == 0 {
		return nil
	}
	if err := l.HandleEvent(bindings[0].Input); err != nil {
		return fmt.Errorf("autostart failed: %w", err)
	}
	return nil
}

// HandleEvent processes one edge event. Events for pins without a binding
// are ignored. A launch failure is returned to the caller; the
// machine stays idle and the handle stays unset.
func (l *Looper) HandleEvent(pin int) error {
	b, ok := l.cfg.Map.ByInput(pin)
	if !ok {
		slog.Debug("ignoring event for unmapped pin", "pin", pin)
		return nil
	}
	return l.transition(b)
}

// SelectIndex switches to the video at a given index, as if its pin had
// been pressed. Used by the control plane.
func (l *Looper) SelectIndex(i int) error {
	b, ok := l.cfg.Map.ByIndex(i)
	if !ok {
		return fmt.Errorf("no video at index %d", i)
	}
	return l.transition(b)
}

// transition performs the switch to binding b under the lock.
func (l *Looper) transition(b pinmap.Binding) error {
	l.mu.Lock()

	if b.Index == l.active && !l.cfg.RestartOnPress {
		// Indicators are already correct.
		l.mu.Unlock()
		slog.Debug("ignoring press for active video", "pin", b.Input, "index", b.Index)
		return nil
	}

	if l.proc != nil {
		if err := l.cfg.Player.Stop(l.proc); err != nil {
			slog.Error("failed to stop player", "session", l.proc.Session(), "error", err)
		}
		l.proc = nil
		l.active = -1
	}

	if err := l.applyIndicators(b.Output); err != nil {
		slog.Error("failed to update indicators", "pin", b.Input, "error", err)
	}

	p, err := l.cfg.Player.Start(b.Video)
	if err != nil {
		// Handle stays unset. Deassert the fresh indicator so nothing
		// claims a video that is not playing.
		if cerr := l.cfg.Outputs.ClearAll(); cerr != nil {
			slog.Error("failed to clear indicators", "error", cerr)
		}
		l.mu.Unlock()
		return err
	}

	l.proc = p
	l.active = b.Index
	status := l.statusLocked()
	l.mu.Unlock()

	slog.Info("video selected",
		"pin", b.Input,
		"index", b.Index,
		"video", b.Video,
		"session", p.Session(),
	)
	l.notify(status)
	return nil
}

// applyIndicators asserts exactly the given output pin and deasserts all
// others. active is pinmap.NoOutput when the binding has no indicator.
// Asserting last keeps an output shared between bindings lit.
func (l *Looper) applyIndicators(active int) error {
	var firstErr error
	for _, out := range l.cfg.Map.Outputs() {
		if out == active {
			continue
		}
		if err := l.cfg.Outputs.Set(out, false); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if active != pinmap.NoOutput {
		if err := l.cfg.Outputs.Set(active, true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// pollExit resets to Idle when a non-looping playback has exited on its
// own, so the same selection can be replayed from the start.
func (l *Looper) pollExit() {
	l.mu.Lock()
	if l.proc == nil || !l.proc.Exited() {
		l.mu.Unlock()
		return
	}

	session := l.proc.Session()
	l.proc = nil
	l.active = -1
	if err := l.cfg.Outputs.ClearAll(); err != nil {
		slog.Error("failed to clear indicators", "error", err)
	}
	status := l.statusLocked()
	l.mu.Unlock()

	slog.Info("playback finished, machine idle", "session", session)
	l.notify(status)
}

// StopPlayback stops the active video and returns to Idle. Stopping when
// nothing is playing is a no-op.
func (l *Looper) StopPlayback() error {
	l.mu.Lock()
	if l.proc == nil {
		l.mu.Unlock()
		return nil
	}

	if err := l.cfg.Player.Stop(l.proc); err != nil {
		l.mu.Unlock()
		return err
	}
	l.proc = nil
	l.active = -1
	if err := l.cfg.Outputs.ClearAll(); err != nil {
		slog.Error("failed to clear indicators", "error", err)
	}
	status := l.statusLocked()
	l.mu.Unlock()

	l.notify(status)
	return nil
}

// Status returns a snapshot of the playback state.
func (l *Looper) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusLocked()
}

func (l *Looper) statusLocked() Status {
	st := Status{ActiveIndex: l.active}
	if l.proc != nil {
		st.Playing = true
		st.Video = l.proc.Video()
		st.Session = l.proc.Session()
	}
	return st
}

func (l *Looper) notify(st Status) {
	if l.cfg.OnTransition != nil {
		l.cfg.OnTransition(st)
	}
}

// Teardown deasserts all indicators and forcefully terminates the player
// and splash processes. It runs exactly once no matter how many exit
// paths reach it, and overrides any in-progress graceful stop.
func (l *Looper) Teardown() {
	l.teardown.Do(func() {
		l.mu.Lock()
		proc, splash := l.proc, l.splash
		l.proc, l.splash = nil, nil
		l.active = -1
		l.mu.Unlock()

		if err := l.cfg.Outputs.ClearAll(); err != nil {
			slog.Error("failed to clear indicators during teardown", "error", err)
		}

		if proc != nil {
			if err := l.cfg.Player.Stop(proc); err != nil {
				slog.Error("failed to stop player during teardown", "error", err)
			}
			if err := l.cfg.Player.Kill(proc); err != nil {
				slog.Error("failed to kill player during teardown", "error", err)
			}
		}
		if splash != nil {
			if err := l.cfg.Player.Kill(splash); err != nil {
				slog.Error("failed to kill splash during teardown", "error", err)
			}
		}

		slog.Info("looper teardown complete")
	})
}
