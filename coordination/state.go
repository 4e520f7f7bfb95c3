// Package coordination authenticates cooperating controllers, derives the channels
// between them, and runs the assess/adapt/feedback step that disseminates
// adaptation hints to peers.
package coordination

import (
	"fmt"
	"sync"
)

// State is the lifecycle state of a controller session.
type State int

const (
	StateInit State = iota
	StateAuthenticating
	StateChannelsEstablished
	StateOperational
	StateShutdown
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateAuthenticating:
		return "Authenticating"
	case StateChannelsEstablished:
		return "ChannelsEstablished"
	case StateOperational:
		return "Operational"
	case StateShutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Lifecycle tracks a session's state. Transitions only move forward, and any
// state may move to Shutdown, which is terminal.
type Lifecycle struct {
	mu    sync.Mutex
	state State
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Transition moves to next or returns an error if the move is not allowed.
func (l *Lifecycle) Transition(next State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !allowed(l.state, next) {
		return fmt.Errorf("illegal state transition %s -> %s", l.state, next)
	}
	l.state = next
	return nil
}

func allowed(from, to State) bool {
	if from == StateShutdown {
		return false
	}
	if to == StateShutdown {
		return true
	}
	return to == from+1
}
