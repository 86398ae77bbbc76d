package interpose

// State is the lifecycle state of a hook.
type State int

const (
	// StatePrepared: the replacement exists but is not installed.
	StatePrepared State = iota
	// StateInterposed: the replacement is installed and the original captured.
	StateInterposed
	// StateError: the last apply or revert failed; see Hook.Err.
	StateError
)

func (s State) String() string {
	switch s {
	case StatePrepared:
		return "prepared"
	case StateInterposed:
		return "interposed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
