package conn

import "fmt"

// State is the connection's explicit lifecycle state. Every
// transition is validated against validTransitions so a caller can
// never, say, send a batch on a connection still authenticating.
type State int

const (
	StateDisconnected State = iota
	StateAuthenticating
	StateIdle
	StateExecuting
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateCancelling:
		return "cancelling"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var validTransitions = map[State][]State{
	StateDisconnected:   {StateAuthenticating},
	StateAuthenticating: {StateIdle, StateDisconnected},
	StateIdle:           {StateExecuting, StateDisconnected},
	StateExecuting:      {StateIdle, StateCancelling, StateDisconnected},
	StateCancelling:     {StateIdle, StateDisconnected},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
