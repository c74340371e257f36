package broadcast

// State is the engine lifecycle state.
type State int32

// Lifecycle states. Transitions run closed, opening, open, closing and
// back to closed; Open and Close are idempotent at the endpoints.
const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
