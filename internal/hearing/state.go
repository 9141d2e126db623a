package hearing

import "fmt"

// ConnectionState is the realtime channel's lifecycle state.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	// Exhausted means the reconnect budget is spent; the hearing continues
	// over HTTP only.
	Exhausted
)

var stateNames = [...]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
	Reconnecting: "reconnecting",
	Exhausted:    "exhausted",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectionState) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = ConnectionState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", text)
}

// Event drives the state machine.
type Event int

const (
	EventBegin Event = iota
	EventOpened
	// EventClosed covers both a failed dial and the loss of an open socket.
	EventClosed
	EventTimerFired
	EventTeardown
)

func (e Event) String() string {
	switch e {
	case EventBegin:
		return "begin"
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventTimerFired:
		return "timer-fired"
	case EventTeardown:
		return "teardown"
	}
	return "unknown"
}

// Next returns the state after ev. budgetLeft reports whether another
// reconnect attempt may be scheduled. A close observed after the hearing has
// concluded is fed in as EventTeardown by the controller.
func Next(s ConnectionState, ev Event, budgetLeft bool) ConnectionState {
	if ev == EventTeardown {
		return Disconnected
	}

	switch s {
	case Disconnected:
		if ev == EventBegin {
			return Connecting
		}
	case Connecting, Connected, Reconnecting:
		switch ev {
		case EventOpened:
			return Connected
		case EventClosed:
			if budgetLeft {
				return Reconnecting
			}
			return Exhausted
		}
	}
	return s
}
