package component

// State is a component's lifecycle state.
type State int32

const (
	StateConstructed State = iota
	StateInitializing
	StateActive
	StateFailed
	StateDestroyed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}
