// Package looper implements the active-video selection state machine.
//
// # Overview
//
// A Looper consumes debounced edge events from input pins and maps them to
// exactly one "currently playing" selection. Hardware callbacks never
// mutate state directly: the event source posts (pin, timestamp) events
// into a channel and Run consumes them on one goroutine, so the execution
// context of the GPIO driver is fully decoupled from state mutation.
//
// The design principle is:
//
//	"One lock, one live process, indicators never lie."
//
// # State
//
// The machine is Idle (no active selection, optionally a splash image on
// screen) or Playing(i). Switches in progress are protected by an
// exclusive lock rather than modelled as a durable state.
//
// # Transition rule
//
// On an edge event for pin p:
//  1. Resolve p to its binding; unknown pins are ignored.
//  2. Acquire the lock.
//  3. Same index and restart-on-press disabled: no-op.
//  4. Otherwise stop the current process, update the indicator outputs so
//     exactly the new binding's output is asserted, start the new process
//     and record the new index.
//  5. Release the lock.
//
// Two near-simultaneous events serialize on the lock: whichever acquires
// it first completes its whole transition before the next begins, so two
// player processes are never live at once.
//
// # Non-looping playback
//
// When looping is disabled, natural process exit is not an edge event.
// Run polls the live process every PollInterval and resets to Idle
// (active index cleared, indicators deasserted) once it has exited, so
// the same selection can be replayed from the start.
//
// # Teardown
//
// Teardown deasserts all indicators, forcefully terminates the player
// and splash processes and runs exactly once regardless of which exit
// path triggered it. Run defers it; main defers it too.
package looper
