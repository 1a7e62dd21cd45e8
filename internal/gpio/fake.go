package gpio

import (
	"sync"
	"time"
)

// Fake is an in-memory EventSource and Outputs for tests. Push injects
// edge events; output state is recorded instead of driven.
type Fake struct {
	events chan Event

	mu      sync.Mutex
	outputs map[int]bool
	cleared int
	closed  bool
}

// NewFake creates a Fake with a buffered event queue.
func NewFake() *Fake {
	return &Fake{
		events:  make(chan Event, 16),
		outputs: make(map[int]bool),
	}
}

// Push injects an edge event for a pin.
func (f *Fake) Push(pin int) {
	f.events <- Event{Pin: pin, Time: time.Now()}
}

// Events implements EventSource.
func (f *Fake) Events() <-chan Event {
	return f.events
}

// Set implements Outputs.
func (f *Fake) Set(pin int, asserted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[pin] = asserted
	return nil
}

// ClearAll implements Outputs.
func (f *Fake) ClearAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pin := range f.outputs {
		f.outputs[pin] = false
	}
	f.cleared++
	return nil
}

// Close implements EventSource and Outputs.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Asserted reports the recorded state of an output pin.
func (f *Fake) Asserted(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputs[pin]
}

// AssertedPins returns the pins currently recorded as asserted.
func (f *Fake) AssertedPins() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pins []int
	for pin, on := range f.outputs {
		if on {
			pins = append(pins, pin)
		}
	}
	return pins
}

// ClearCount returns how many times ClearAll was called.
func (f *Fake) ClearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleared
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
