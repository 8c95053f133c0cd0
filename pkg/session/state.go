package session

// State is the lifecycle position of a session.
type State int32

const (
	Connecting State = iota
	Negotiating
	Streaming
	Draining
	Closed
	Rejected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Negotiating:
		return "negotiating"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Closed || s == Rejected
}
