// Package gpio delivers debounced edge events from input pins and drives
// indicator output pins. The chardev implementation talks to the Linux
// GPIO character device; a Fake is provided for tests.
package gpio

import "time"

// Event is a debounced notification that an input pin transitioned to its
// active level. Inputs are biased high with a pull-up and react to the
// falling edge, so "active" means shorted to ground.
type Event struct {
	Pin  int
	Time time.Time
}

// EventSource delivers edge events. Events within the debounce window of a
// previous event on the same pin collapse to one.
type EventSource interface {
	Events() <-chan Event
	Close() error
}

// Outputs drives the indicator output pins.
type Outputs interface {
	// Set asserts or deasserts one output pin.
	Set(pin int, asserted bool) error
	// ClearAll deasserts every configured output pin.
	ClearAll() error
	Close() error
}
