// Package alert implements the one-shot target search alert.
package alert

import (
	"strings"
	"time"

	"anpr-tracker/internal/domain/anpr"
	"anpr-tracker/internal/utils"
)

// State is the phase of a target search session.
type State string

const (
	Idle      State = "idle"
	Searching State = "searching"
	Triggered State = "triggered"
)

// Status is a snapshot of the machine.
type Status struct {
	State     State  `json:"state"`
	Target    string `json:"target,omitempty"`
	Triggered bool   `json:"triggered"`
}

// Machine watches validated plates for the configured target. It fires at
// most one alert per target; only SetTarget re-arms it.
type Machine struct {
	target    string
	triggered bool
}

func NewMachine() *Machine {
	return &Machine{}
}

// SetTarget starts a new search session, whatever the previous state. The
// target is normalized the same way readings are; an empty result clears it.
func (m *Machine) SetTarget(target string) Status {
	m.target = utils.NormalizePlate(target)
	m.triggered = false
	return m.Status()
}

func (m *Machine) Clear() {
	m.target = ""
	m.triggered = false
}

func (m *Machine) Status() Status {
	s := Status{Target: m.target, Triggered: m.triggered}
	switch {
	case m.target == "":
		s.State = Idle
	case m.triggered:
		s.State = Triggered
	default:
		s.State = Searching
	}
	return s
}

// Observe checks the plates against the target. It returns an event only on
// the Searching -> Triggered transition.
func (m *Machine) Observe(plates []anpr.TrackedPlate, now time.Time) (anpr.AlertEvent, bool) {
	if m.target == "" || m.triggered {
		return anpr.AlertEvent{}, false
	}
	for _, p := range plates {
		if p.HasNumber() && strings.Contains(p.Number, m.target) {
			m.triggered = true
			return anpr.AlertEvent{
				Target:  m.target,
				Plate:   p.Number,
				TrackID: p.ID,
				At:      now,
			}, true
		}
	}
	return anpr.AlertEvent{}, false
}
