// Package actuator drives a digital output pin from gesture labels through a
// debounced LOW/HIGH state machine.
package actuator

import (
	"fmt"
	"time"

	"github.com/ayusman/thumbswitch/internal/gesture"
	"github.com/ayusman/thumbswitch/internal/hardware"
)

// DefaultHold is the minimum time a level is held before the next transition.
const DefaultHold = time.Second

// Action is what the controller does with one message.
type Action int

const (
	// ActionNoop leaves the pin untouched.
	ActionNoop Action = iota
	// ActionApply writes a new level to the pin.
	ActionApply
	// ActionDefer keeps the message until the hold window expires.
	ActionDefer
)

func (a Action) String() string {
	switch a {
	case ActionApply:
		return "applied"
	case ActionDefer:
		return "queued"
	default:
		return "no-op"
	}
}

// State is the controller's view of the pin.
type State struct {
	Level          hardware.Level
	LastTransition time.Time
}

// Decision is the outcome of evaluating one label against the current state.
type Decision struct {
	Label  gesture.Label
	Action Action
	From   hardware.Level
	Target hardware.Level
	Reason string
}

func (d Decision) String() string {
	switch d.Action {
	case ActionApply:
		return fmt.Sprintf("%s: %s -> %s (%s)", d.Label, d.From, d.Target, d.Action)
	case ActionDefer:
		return fmt.Sprintf("%s: %s -> %s (%s, %s)", d.Label, d.From, d.Target, d.Action, d.Reason)
	default:
		return fmt.Sprintf("%s: %s (%s)", d.Label, d.Action, d.Reason)
	}
}

// TargetLevel maps a label to the level it requests.
func TargetLevel(label gesture.Label) (hardware.Level, bool) {
	switch label {
	case gesture.ThumbUp:
		return hardware.High, true
	case gesture.ClosedFist:
		return hardware.Low, true
	default:
		return hardware.Low, false
	}
}

// Machine is the side-effect free decision core. It is not safe for
// concurrent use; the controller serialises access.
type Machine struct {
	hold  time.Duration
	state State
}

// NewMachine creates a machine starting LOW with no previous transition.
func NewMachine(hold time.Duration) *Machine {
	if hold < 0 {
		hold = 0
	}
	return &Machine{hold: hold, state: State{Level: hardware.Low}}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// HoldUntil returns the earliest time the next transition may be applied.
func (m *Machine) HoldUntil() time.Time {
	if m.state.LastTransition.IsZero() {
		return time.Time{}
	}
	return m.state.LastTransition.Add(m.hold)
}

// Decide evaluates label at time now without changing state.
func (m *Machine) Decide(label gesture.Label, now time.Time) Decision {
	d := Decision{Label: label, From: m.state.Level, Target: m.state.Level}

	target, ok := TargetLevel(label)
	if !ok {
		d.Action = ActionNoop
		d.Reason = "no mapping"
		return d
	}
	d.Target = target

	if target == m.state.Level {
		d.Action = ActionNoop
		d.Reason = "already " + target.String()
		return d
	}

	if until := m.HoldUntil(); now.Before(until) {
		d.Action = ActionDefer
		d.Reason = fmt.Sprintf("hold for %s", until.Sub(now).Round(time.Millisecond))
		return d
	}

	d.Action = ActionApply
	return d
}

// Commit records that d's target level was written at now.
func (m *Machine) Commit(d Decision, now time.Time) {
	if d.Action != ActionApply {
		return
	}
	m.state = State{Level: d.Target, LastTransition: now}
}

// ForceLow records the teardown level without touching LastTransition.
func (m *Machine) ForceLow() {
	m.state.Level = hardware.Low
}
