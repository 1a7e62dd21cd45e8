package gpio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// DefaultDebounce is the kernel debounce period applied to input pins.
const DefaultDebounce = 200 * time.Millisecond

// Config describes the pins managed by a Chip.
type Config struct {
	// Chip is the character device name, e.g. "gpiochip0".
	Chip string
	// Inputs are the selection input pins (BCM numbering).
	Inputs []int
	// Outputs are the indicator output pins.
	Outputs []int
	// ShutdownPin requests a system shutdown when shorted. Zero or
	// negative disables it.
	ShutdownPin int
	// OnShutdown is invoked on a shutdown pin edge. Required when
	// ShutdownPin is set.
	OnShutdown func()
	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration
}

// Chip owns the requested GPIO lines and implements EventSource and
// Outputs on top of the Linux character device.
type Chip struct {
	events chan Event

	mu       sync.Mutex
	inputs   []*gpiocdev.Line
	outputs  map[int]*gpiocdev.Line
	shutdown *gpiocdev.Line
	closed   bool
}

// Open requests all configured lines. Inputs are biased high with a
// pull-up and watched for falling edges with kernel debounce; outputs are
// driven low. Any request failure (pin busy, no such chip) closes the
// lines requested so far and fails startup.
func Open(cfg Config) (*Chip, error) {
	if cfg.Chip == "" {
		cfg.Chip = "gpiochip0"
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	c := &Chip{
		events:  make(chan Event, 16),
		outputs: make(map[int]*gpiocdev.Line, len(cfg.Outputs)),
	}

	for _, pin := range cfg.Outputs {
		if _, dup := c.outputs[pin]; dup {
			// Two bindings may share an indicator; one line suffices.
			continue
		}
		line, err := gpiocdev.RequestLine(cfg.Chip, pin, gpiocdev.AsOutput(0))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to request output pin %d on %s: %w", pin, cfg.Chip, err)
		}
		c.outputs[pin] = line
	}

	for _, pin := range cfg.Inputs {
		pin := pin
		line, err := gpiocdev.RequestLine(cfg.Chip, pin,
			gpiocdev.WithPullUp,
			gpiocdev.WithDebounce(debounce),
			gpiocdev.WithFallingEdge,
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				c.post(pin)
			}),
		)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to request input pin %d on %s: %w", pin, cfg.Chip, err)
		}
		c.inputs = append(c.inputs, line)
	}

	if cfg.ShutdownPin > 0 {
		if cfg.OnShutdown == nil {
			c.Close()
			return nil, fmt.Errorf("shutdown pin %d configured without a shutdown handler", cfg.ShutdownPin)
		}
		onShutdown := cfg.OnShutdown
		line, err := gpiocdev.RequestLine(cfg.Chip, cfg.ShutdownPin,
			gpiocdev.WithPullUp,
			gpiocdev.WithDebounce(debounce),
			gpiocdev.WithFallingEdge,
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				slog.Warn("shutdown pin activated", "pin", cfg.ShutdownPin)
				onShutdown()
			}),
		)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to request shutdown pin %d on %s: %w", cfg.ShutdownPin, cfg.Chip, err)
		}
		c.shutdown = line
	}

	slog.Info("gpio lines requested",
		"chip", cfg.Chip,
		"inputs", len(cfg.Inputs),
		"outputs", len(c.outputs),
		"shutdown_pin", cfg.ShutdownPin,
		"debounce", debounce,
	)

	return c, nil
}

// post delivers an edge event without blocking the gpiocdev event
// goroutine. If the state machine is mid-transition and the buffer fills,
// excess bounces are dropped.
func (c *Chip) post(pin int) {
	ev := Event{Pin: pin, Time: time.Now()}
	select {
	case c.events <- ev:
	default:
		slog.Debug("edge event dropped, queue full", "pin", pin)
	}
}

// Events returns the edge event channel. The channel is never closed;
// consumers exit via their own context.
func (c *Chip) Events() <-chan Event {
	return c.events
}

// Set drives one indicator output.
func (c *Chip) Set(pin int, asserted bool) error {
	c.mu.Lock()
	line, ok := c.outputs[pin]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin %d is not a configured output", pin)
	}

	v := 0
	if asserted {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("failed to set output pin %d: %w", pin, err)
	}
	return nil
}

// ClearAll deasserts every indicator output.
func (c *Chip) ClearAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for pin, line := range c.outputs {
		if err := line.SetValue(0); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to clear output pin %d: %w", pin, err)
		}
	}
	return firstErr
}

// Close releases every requested line. Outputs are deasserted first so
// indicators do not stay lit after exit. Idempotent.
func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	for _, line := range c.outputs {
		line.SetValue(0)
		line.Close()
	}
	for _, line := range c.inputs {
		line.Close()
	}
	if c.shutdown != nil {
		c.shutdown.Close()
	}
	return nil
}
