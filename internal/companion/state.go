package companion

// State is the liveness of a companion process.
type State int

const (
	StateStarting State = iota
	StateReady
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// validTransition reports whether from -> to is allowed. Stopped is only
// reachable through Stopping.
func validTransition(from, to State) bool {
	switch to {
	case StateReady:
		return from == StateStarting
	case StateRunning:
		return from == StateReady
	case StateStopping:
		return from == StateStarting || from == StateReady || from == StateRunning
	case StateStopped:
		return from == StateStopping
	}
	return false
}
