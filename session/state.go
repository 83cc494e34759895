package session

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (state State) String() string {
	switch state {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	case StateClosed:
		return "Closed"
	default:
		return "InvalidState"
	}
}

// active reports whether the session holds, or is trying to hold, a
// connection to a document.
func (state State) active() bool {
	return state == StateConnecting || state == StateConnected || state == StateReconnecting
}
