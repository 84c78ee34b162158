package node

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// State is a stage of node initialization
type State int32

const (
	CameraUninitialized State = iota
	CameraReady
	StorageUninitialized
	StorageReady
	Operational
)

func (s State) String() string {
	switch s {
	case CameraUninitialized:
		return "CameraUninitialized"
	case CameraReady:
		return "CameraReady"
	case StorageUninitialized:
		return "StorageUninitialized"
	case StorageReady:
		return "StorageReady"
	case Operational:
		return "Operational"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrIllegalTransition is returned for any transition that skips or
// reverses a stage
var ErrIllegalTransition = errors.New("illegal state transition")

// Lifecycle tracks initialization. It only moves forward one stage at a
// time and is safe to read from any goroutine.
type Lifecycle struct {
	state   atomic.Int32
	stalled atomic.Bool
}

// Current returns the current stage
func (l *Lifecycle) Current() State {
	return State(l.state.Load())
}

// State returns the current stage name
func (l *Lifecycle) State() string {
	return l.Current().String()
}

// Transition moves to the stage directly after the current one
func (l *Lifecycle) Transition(to State) error {
	from := to - 1
	if to <= CameraUninitialized || to > Operational || !l.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, l.Current(), to)
	}
	l.stalled.Store(false)
	return nil
}

// MarkStalled records that initialization failed and will not be retried
func (l *Lifecycle) MarkStalled() {
	l.stalled.Store(true)
}

// Stalled reports whether initialization gave up
func (l *Lifecycle) Stalled() bool {
	return l.stalled.Load()
}
