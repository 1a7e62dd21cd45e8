package looper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alubbock/rpi-vidlooper/internal/gpio"
	"github.com/alubbock/rpi-vidlooper/internal/pinmap"
	"github.com/alubbock/rpi-vidlooper/internal/player"
)

// fakeProc implements player.Process for tests.
type fakeProc struct {
	session string
	video   string
	done    chan struct{}
	exited  atomic.Bool
}

func (p *fakeProc) Exited() bool         { return p.exited.Load() }
func (p *fakeProc) Done() <-chan struct{} { return p.done }
func (p *fakeProc) Session() string      { return p.session }
func (p *fakeProc) Video() string        { return p.video }

// finish simulates natural playback completion.
func (p *fakeProc) finish() {
	if p.exited.CompareAndSwap(false, true) {
		close(p.done)
	}
}

// fakePlayer implements Player and records every operation in order. It
// tracks how many processes are live at once so tests can assert the
// single-process invariant.
type fakePlayer struct {
	mu       sync.Mutex
	ops      []string
	live     int
	maxLive  int
	seq      int
	startErr error
}

func (f *fakePlayer) Start(video string) (player.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.startErr != nil {
		return nil, f.startErr
	}

	f.seq++
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	f.ops = append(f.ops, "start:"+video)

	return &fakeProc{
		session: fmt.Sprintf("session-%d", f.seq),
		video:   video,
		done:    make(chan struct{}),
	}, nil
}

func (f *fakePlayer) StartSplash(image string) (player.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	f.ops = append(f.ops, "splash:"+image)
	return &fakeProc{
		session: fmt.Sprintf("session-%d", f.seq),
		video:   image,
		done:    make(chan struct{}),
	}, nil
}

func (f *fakePlayer) Stop(p player.Process) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p == nil {
		return nil
	}
	if fp, ok := p.(*fakeProc); ok && fp.exited.CompareAndSwap(false, true) {
		close(fp.done)
		f.live--
	}
	f.ops = append(f.ops, "stop:"+p.Video())
	return nil
}

func (f *fakePlayer) Kill(p player.Process) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p == nil {
		return nil
	}
	if fp, ok := p.(*fakeProc); ok && fp.exited.CompareAndSwap(false, true) {
		close(fp.done)
		f.live--
	}
	f.ops = append(f.ops, "kill:"+p.Video())
	return nil
}

func (f *fakePlayer) opsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakePlayer) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, op := range f.ops {
		if len(op) >= len(prefix) && op[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (f *fakePlayer) maxLiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxLive
}

func (f *fakePlayer) setStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func newTestMap(t *testing.T) *pinmap.Map {
	t.Helper()
	m, err := pinmap.New(
		[]pinmap.Pair{{Input: 26, Output: 21}, {Input: 19, Output: 20}},
		[]string{"a.mp4", "b.mp4"},
	)
	if err != nil {
		t.Fatalf("pinmap.New failed: %v", err)
	}
	return m
}

func newTestLooper(t *testing.T, mutate func(*Config)) (*Looper, *fakePlayer, *gpio.Fake) {
	t.Helper()
	fp := &fakePlayer{}
	fg := gpio.NewFake()
	cfg := Config{
		Map:     newTestMap(t),
		Player:  fp,
		Outputs: fg,
		Events:  fg.Events(),
		Loop:    true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l, fp, fg
}

func TestSwitchSequence(t *testing.T) {
	l, fp, fg := newTestLooper(t, nil)

	if err := l.HandleEvent(26); err != nil {
		t.Fatalf("HandleEvent(26) failed: %v", err)
	}
	if !fg.Asserted(21) || fg.Asserted(20) {
		t.Errorf("after pin 26: expected output 21 on, 20 off; got 21=%v 20=%v",
			fg.Asserted(21), fg.Asserted(20))
	}
	if st := l.Status(); st.ActiveIndex != 0 || st.Video != "a.mp4" || !st.Playing {
		t.Errorf("unexpected status after pin 26: %+v", st)
	}

	if err := l.HandleEvent(19); err != nil {
		t.Fatalf("HandleEvent(19) failed: %v", err)
	}
	if !fg.Asserted(20) || fg.Asserted(21) {
		t.Errorf("after pin 19: expected output 20 on, 21 off; got 20=%v 21=%v",
			fg.Asserted(20), fg.Asserted(21))
	}
	if st := l.Status(); st.ActiveIndex != 1 || st.Video != "b.mp4" {
		t.Errorf("unexpected status after pin 19: %+v", st)
	}

	// The old process stops before the new one starts.
	want := []string{"start:a.mp4", "stop:a.mp4", "start:b.mp4"}
	got := fp.opsSnapshot()
	if len(got) != len(want) {
		t.Fatalf("expected ops %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("op %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestIdempotentPressWhenRestartDisabled(t *testing.T) {
	l, fp, _ := newTestLooper(t, nil)

	if err := l.HandleEvent(26); err != nil {
		t.Fatal(err)
	}
	st1 := l.Status()

	if err := l.HandleEvent(26); err != nil {
		t.Fatal(err)
	}
	st2 := l.Status()

	if st1 != st2 {
		t.Errorf("status changed on repeated press: %+v -> %+v", st1, st2)
	}
	if n := fp.count("start:"); n != 1 {
		t.Errorf("expected 1 start, got %d", n)
	}
	if n := fp.count("stop:"); n != 0 {
		t.Errorf("expected 0 stops, got %d", n)
	}
}

func TestRestartOnPress(t *testing.T) {
	l, fp, _ := newTestLooper(t, func(c *Config) { c.RestartOnPress = true })

	if err := l.HandleEvent(26); err != nil {
		t.Fatal(err)
	}
	if err := l.HandleEvent(26); err != nil {
		t.Fatal(err)
	}

	want := []string{"start:a.mp4", "stop:a.mp4", "start:a.mp4"}
	got := fp.opsSnapshot()
	if len(got) != len(want) {
		t.Fatalf("expected ops %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("op %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestUnknownPinIsIgnored(t *testing.T) {
	l, fp, _ := newTestLooper(t, nil)

	if err := l.HandleEvent(99); err != nil {
		t.Errorf("unknown pin must be a no-op, got %v", err)
	}
	if n := fp.count("start:"); n != 0 {
		t.Errorf("unknown pin started a player, %d starts", n)
	}
}

func TestLaunchFailureLeavesStateIdle(t *testing.T) {
	l, fp, fg := newTestLooper(t, nil)

	launchErr := &player.LaunchError{Video: "a.mp4", Err: errors.New("no such binary")}
	fp.setStartErr(launchErr)

	err := l.HandleEvent(26)
	if !errors.Is(err, launchErr) {
		t.Fatalf("expected launch error surfaced, got %v", err)
	}

	if st := l.Status(); st.Playing || st.ActiveIndex != -1 {
		t.Errorf("expected idle state after launch failure, got %+v", st)
	}
	if pins := fg.AssertedPins(); len(pins) != 0 {
		t.Errorf("expected no asserted indicators after launch failure, got %v", pins)
	}

	// No retry happened on its own; the next press works once the player
	// recovers.
	fp.setStartErr(nil)
	if err := l.HandleEvent(26); err != nil {
		t.Fatalf("press after recovery failed: %v", err)
	}
	if st := l.Status(); st.ActiveIndex != 0 {
		t.Errorf("expected index 0 after recovery, got %+v", st)
	}
}

func TestConcurrentEventsSerialize(t *testing.T) {
	l, fp, fg := newTestLooper(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		pin := 26
		if i%2 == 1 {
			pin = 19
		}
		wg.Add(1)
		go func(pin int) {
			defer wg.Done()
			if err := l.HandleEvent(pin); err != nil {
				t.Errorf("HandleEvent(%d) failed: %v", pin, err)
			}
		}(pin)
	}
	wg.Wait()

	if max := fp.maxLiveCount(); max > 1 {
		t.Errorf("two player processes were live at once (max %d)", max)
	}

	// End state equals some fully applied transition.
	st := l.Status()
	switch st.ActiveIndex {
	case 0:
		if !fg.Asserted(21) || fg.Asserted(20) {
			t.Errorf("indicators inconsistent with index 0: 21=%v 20=%v",
				fg.Asserted(21), fg.Asserted(20))
		}
	case 1:
		if !fg.Asserted(20) || fg.Asserted(21) {
			t.Errorf("indicators inconsistent with index 1: 20=%v 21=%v",
				fg.Asserted(20), fg.Asserted(21))
		}
	default:
		t.Errorf("unexpected end state %+v", st)
	}
}

func TestNonLoopNaturalExitResetsToIdle(t *testing.T) {
	l, fp, fg := newTestLooper(t, func(c *Config) { c.Loop = false })

	if err := l.HandleEvent(26); err != nil {
		t.Fatal(err)
	}

	// A live process is left alone by the poll.
	l.pollExit()
	if st := l.Status(); !st.Playing {
		t.Fatalf("poll must not reset a live playback: %+v", st)
	}

	// Natural completion, then the next poll tick resets to idle.
	l.mu.Lock()
	proc := l.proc.(*fakeProc)
	l.mu.Unlock()
	proc.finish()

	l.pollExit()
	if st := l.Status(); st.Playing || st.ActiveIndex != -1 {
		t.Errorf("expected idle after natural exit, got %+v", st)
	}
	if pins := fg.AssertedPins(); len(pins) != 0 {
		t.Errorf("expected indicators deasserted, got %v", pins)
	}

	// The same selection can be replayed from the start.
	if err := l.HandleEvent(26); err != nil {
		t.Fatal(err)
	}
	if n := fp.count("start:a.mp4"); n != 2 {
		t.Errorf("expected replay to start a second process, got %d starts", n)
	}
}

func TestStopPlayback(t *testing.T) {
	l, fp, fg := newTestLooper(t, nil)

	if err := l.StopPlayback(); err != nil {
		t.Errorf("StopPlayback while idle must be a no-op, got %v", err)
	}

	if err := l.HandleEvent(26); err != nil {
		t.Fatal(err)
	}
	if err := l.StopPlayback(); err != nil {
		t.Fatalf("StopPlayback failed: %v", err)
	}

	if st := l.Status(); st.Playing || st.ActiveIndex != -1 {
		t.Errorf("expected idle after StopPlayback, got %+v", st)
	}
	if n := fp.count("stop:"); n != 1 {
		t.Errorf("expected 1 stop, got %d", n)
	}
	if pins := fg.AssertedPins(); len(pins) != 0 {
		t.Errorf("expected indicators deasserted, got %v", pins)
	}
}

func TestTeardownRunsOnce(t *testing.T) {
	l, fp, fg := newTestLooper(t, nil)

	if err := l.HandleEvent(26); err != nil {
		t.Fatal(err)
	}

	l.Teardown()
	l.Teardown()

	if n := fp.count("kill:"); n != 1 {
		t.Errorf("expected exactly 1 kill across repeated teardowns, got %d", n)
	}
	if fg.ClearCount() != 1 {
		t.Errorf("expected exactly 1 indicator clear, got %d", fg.ClearCount())
	}
	if st := l.Status(); st.Playing {
		t.Errorf("expected idle after teardown, got %+v", st)
	}
}

func TestOnTransitionNotifications(t *testing.T) {
	var mu sync.Mutex
	var statuses []Status

	l, _, _ := newTestLooper(t, func(c *Config) {
		c.Loop = false
		c.OnTransition = func(st Status) {
			mu.Lock()
			statuses = append(statuses, st)
			mu.Unlock()
		}
	})

	if err := l.HandleEvent(26); err != nil {
		t.Fatal(err)
	}
	l.mu.Lock()
	proc := l.proc.(*fakeProc)
	l.mu.Unlock()
	proc.finish()
	l.pollExit()

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 notifications, got %d: %+v", len(statuses), statuses)
	}
	if !statuses[0].Playing || statuses[0].ActiveIndex != 0 {
		t.Errorf("unexpected first status: %+v", statuses[0])
	}
	if statuses[1].Playing || statuses[1].ActiveIndex != -1 {
		t.Errorf("unexpected second status: %+v", statuses[1])
	}
}

func TestRunAutostartFirstVideo(t *testing.T) {
	l, fp, _ := newTestLooper(t, func(c *Config) {
		c.Autostart = true
		c.PollInterval = 10 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	waitFor(t, func() bool { return fp.count("start:a.mp4") == 1 })
	if st := l.Status(); st.ActiveIndex != 0 {
		t.Errorf("expected autostart of first video, got %+v", st)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// Teardown ran on the way out.
	if n := fp.count("kill:"); n != 1 {
		t.Errorf("expected teardown to kill the player, got %d kills", n)
	}
}

func TestRunAutostartSplash(t *testing.T) {
	l, fp, fg := newTestLooper(t, func(c *Config) {
		c.Autostart = true
		c.Splash = "splash.png"
		c.PollInterval = 10 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	waitFor(t, func() bool { return fp.count("splash:") == 1 })
	if n := fp.count("start:"); n != 0 {
		t.Errorf("splash autostart must not start a video, got %d starts", n)
	}
	if st := l.Status(); st.Playing {
		t.Errorf("expected idle while splash showing, got %+v", st)
	}

	// A real event switches to a video; the splash stays up behind it.
	fg.Push(19)
	waitFor(t, func() bool { return fp.count("start:b.mp4") == 1 })
	if n := fp.count("kill:"); n != 0 {
		t.Errorf("splash must only die at teardown, got %d kills", n)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// Teardown killed both the player and the splash.
	if n := fp.count("kill:"); n != 2 {
		t.Errorf("expected player and splash killed at teardown, got %d kills", n)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
