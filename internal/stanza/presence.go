package stanza

import (
	"fmt"

	"mellium.im/xmpp/jid"
)

// State is a presence availability state.
type State string

const (
	StateAvailable   State = "available"
	StateAway        State = "away"
	StateChat        State = "chat"
	StateDND         State = "dnd"
	StateXA          State = "xa"
	StateUnavailable State = "unavailable"
)

// ParseState resolves a state name. The empty string means available.
func ParseState(raw string) (State, error) {
	switch State(raw) {
	case "", StateAvailable:
		return StateAvailable, nil
	case StateAway, StateChat, StateDND, StateXA, StateUnavailable:
		return State(raw), nil
	default:
		return "", fmt.Errorf("stanza: unknown presence state %q", raw)
	}
}

// Status is a presence status: state, optional human message and an
// optional directed target.
type Status struct {
	State    State
	Message  string
	To       jid.JID
	Priority int8
}

// Stanza builds the presence that announces st.
func (st Status) Stanza() *Stanza {
	s := &Stanza{
		Element:  ElementPresence,
		To:       st.To,
		Status:   st.Message,
		Priority: st.Priority,
	}
	switch st.State {
	case "", StateAvailable:
	case StateUnavailable:
		s.Type = TypeUnavailable
	default:
		s.Show = string(st.State)
	}
	Classify(s)
	return s
}

// StateOf derives the availability state of a presence stanza.
func StateOf(s *Stanza) State {
	if s.Type == TypeUnavailable {
		return StateUnavailable
	}
	switch State(s.Show) {
	case StateAway, StateChat, StateDND, StateXA:
		return State(s.Show)
	}
	return StateAvailable
}

// StatusOf extracts the status carried by a presence stanza.
func StatusOf(s *Stanza) Status {
	return Status{
		State:    StateOf(s),
		Message:  s.Status,
		To:       s.To,
		Priority: s.Priority,
	}
}
