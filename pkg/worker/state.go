package worker

// State is a phase of the worker lifecycle. Transitions only move forward:
// Starting -> Listening -> Draining -> Stopped, with Starting -> Stopped on a
// failed start.
type State int32

const (
	StateStarting State = iota
	StateListening
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
