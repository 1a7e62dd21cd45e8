package player

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/google/uuid"
)

// Process is a supervised external process. At most one player process is
// live at any time; enforcement lives in the selection state machine, not
// here.
type Process interface {
	// Exited reports, without blocking, whether the process has exited.
	Exited() bool
	// Done is closed once the process has been reaped.
	Done() <-chan struct{}
	// Session is the unique id of this playback, carried in logs and
	// status events.
	Session() string
	// Video is the media path the process was started with.
	Video() string
}

// LaunchError reports a failure to start the external player. The caller's
// playback state is left unchanged: no handle exists for a failed launch.
type LaunchError struct {
	Video string
	Err   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch player for %q: %v", e.Video, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Config contains the fixed playback options applied to every launch.
type Config struct {
	// Binary is the player executable, omxplayer by default.
	Binary string
	// Audio selects the audio route: hdmi, local or both.
	Audio string
	// Loop makes the player repeat the video until stopped.
	Loop bool
	// NoOSD suppresses the player's on-screen display.
	NoOSD bool
	// Debug leaves the player's stdout attached to the terminal.
	Debug bool
	// SplashBinary displays still images, fbi by default.
	SplashBinary string
}

// Supervisor launches and terminates external player processes. Each
// process runs in its own process group so the whole tree can be signalled
// as a unit.
type Supervisor struct {
	cfg Config
}

// New creates a Supervisor.
func New(cfg Config) *Supervisor {
	if cfg.Binary == "" {
		cfg.Binary = "omxplayer"
	}
	if cfg.SplashBinary == "" {
		cfg.SplashBinary = "fbi"
	}
	if cfg.Audio == "" {
		cfg.Audio = "hdmi"
	}
	return &Supervisor{cfg: cfg}
}

// handle implements Process for a spawned command.
type handle struct {
	cmd     *exec.Cmd
	session string
	video   string
	done    chan struct{}
}

func (h *handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *handle) Done() <-chan struct{} {
	return h.done
}

func (h *handle) Session() string {
	return h.session
}

func (h *handle) Video() string {
	return h.video
}

// args builds the player argv for a video, excluding the binary itself.
func (s *Supervisor) args(video string) []string {
	args := []string{"-b", "-o", s.cfg.Audio}
	if s.cfg.Loop {
		args = append(args, "--loop")
	}
	if s.cfg.NoOSD {
		args = append(args, "--no-osd")
	}
	return append(args, video)
}

// Start launches the player for a video. It returns as soon as the process
// has been spawned; it never waits for playback. A reaper goroutine waits
// on the process so exits are observed without zombies.
func (s *Supervisor) Start(video string) (Process, error) {
	return s.spawn(s.cfg.Binary, s.args(video), video)
}

// StartSplash displays a still image until the process is killed.
func (s *Supervisor) StartSplash(image string) (Process, error) {
	return s.spawn(s.cfg.SplashBinary, []string{"--noverbose", "-a", image}, image)
}

func (s *Supervisor) spawn(binary string, args []string, video string) (Process, error) {
	cmd := exec.Command(binary, args...)
	// New process group: signals reach the player and any children it
	// forks, as one unit.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if s.cfg.Debug {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		// Keep the display clear.
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	}

	h := &handle{
		cmd:     cmd,
		session: uuid.NewString(),
		video:   video,
		done:    make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Video: video, Err: err}
	}

	slog.Info("player process started",
		"binary", binary,
		"video", video,
		"pid", cmd.Process.Pid,
		"session", h.session,
	)

	go s.reap(h)

	return h, nil
}

// reap waits for the process to exit and records completion.
func (s *Supervisor) reap(h *handle) {
	err := h.cmd.Wait()
	close(h.done)

	if err != nil {
		// Signal-terminated exits are the normal stop path.
		slog.Debug("player process exited",
			"video", h.video,
			"session", h.session,
			"error", err,
		)
		return
	}
	slog.Debug("player process exited cleanly",
		"video", h.video,
		"session", h.session,
	)
}

// Stop requests graceful termination of the process group with SIGINT.
// It returns once the signal has been issued; it does not wait for exit.
// Stopping a nil or already-gone process is a no-op.
func (s *Supervisor) Stop(p Process) error {
	return s.signal(p, syscall.SIGINT)
}

// Kill forcefully terminates the process group with SIGKILL. Used by
// teardown when graceful termination has not already occurred.
func (s *Supervisor) Kill(p Process) error {
	return s.signal(p, syscall.SIGKILL)
}

func (s *Supervisor) signal(p Process, sig syscall.Signal) error {
	h, ok := p.(*handle)
	if !ok || h == nil {
		return nil
	}

	// Negative pid addresses the whole process group.
	err := syscall.Kill(-h.cmd.Process.Pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return fmt.Errorf("failed to signal player group %d: %w", h.cmd.Process.Pid, err)
}
