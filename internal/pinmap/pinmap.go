package pinmap

import (
	"errors"
	"fmt"
)

// NoOutput marks a pair without an indicator output.
const NoOutput = -1

var (
	// ErrTooManyVideos indicates more videos than configured input pins.
	ErrTooManyVideos = errors.New("more videos than input pins")
	// ErrDuplicateInput indicates an input pin used by more than one pair.
	ErrDuplicateInput = errors.New("duplicate input pin")
	// ErrInvalidPin indicates a negative pin number.
	ErrInvalidPin = errors.New("pin must be a non-negative integer")
)

// Pair is one element of a pin specification: an input pin and an optional
// paired indicator output (Output == NoOutput when absent).
type Pair struct {
	Input  int
	Output int
}

// Binding associates a selectable input pin with its indicator output and
// the video it plays. Index is the binding's ordinal position, which is
// also the video's position in the configured list.
type Binding struct {
	Input  int
	Output int // NoOutput when the input has no indicator
	Index  int
	Video  string
}

// Map is the fixed input-pin to (output-pin, video) association. It is
// built once at startup and never mutated.
//
// Input pins beyond the video count are kept for output setup but are not
// selectable; events on them resolve to nothing.
//
// Two pairs may share an output pin. Construction does not reject it, but
// the indicator then reflects whichever binding switched last.
type Map struct {
	bindings []Binding
	outputs  []int
	byInput  map[int]int
}

// New builds the association from ordered pin pairs and ordered videos.
// The video at position i is bound to the pair at position i.
func New(pairs []Pair, videos []string) (*Map, error) {
	if len(videos) > len(pairs) {
		return nil, fmt.Errorf("%w: %d videos, %d pins", ErrTooManyVideos, len(videos), len(pairs))
	}

	m := &Map{
		byInput: make(map[int]int, len(pairs)),
	}

	for i, p := range pairs {
		if p.Input < 0 {
			return nil, fmt.Errorf("input %w: %d", ErrInvalidPin, p.Input)
		}
		if p.Output != NoOutput && p.Output < 0 {
			return nil, fmt.Errorf("output %w: %d", ErrInvalidPin, p.Output)
		}
		if _, seen := m.byInput[p.Input]; seen {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateInput, p.Input)
		}
		m.byInput[p.Input] = i

		if p.Output != NoOutput {
			m.outputs = append(m.outputs, p.Output)
		}

		if i < len(videos) {
			m.bindings = append(m.bindings, Binding{
				Input:  p.Input,
				Output: p.Output,
				Index:  i,
				Video:  videos[i],
			})
		}
	}

	return m, nil
}

// ByInput resolves an input pin to its binding. ok is false for pins that
// are unknown or have no video assigned.
func (m *Map) ByInput(pin int) (Binding, bool) {
	i, found := m.byInput[pin]
	if !found || i >= len(m.bindings) {
		return Binding{}, false
	}
	return m.bindings[i], true
}

// ByIndex resolves a video index to its binding.
func (m *Map) ByIndex(i int) (Binding, bool) {
	if i < 0 || i >= len(m.bindings) {
		return Binding{}, false
	}
	return m.bindings[i], true
}

// Bindings returns the selectable bindings in configuration order.
func (m *Map) Bindings() []Binding {
	return m.bindings
}

// Inputs returns every selectable input pin in configuration order.
func (m *Map) Inputs() []int {
	pins := make([]int, len(m.bindings))
	for i, b := range m.bindings {
		pins[i] = b.Input
	}
	return pins
}

// Outputs returns every configured indicator output pin, including those
// paired with non-selectable inputs.
func (m *Map) Outputs() []int {
	return m.outputs
}
