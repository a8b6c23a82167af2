package session

import "fmt"

// State of a Session. A Session moves forward through the states in order, and
// can move to Closed from any state.
type State uint8

const (
	// Uninitialized sessions have a transport but no keys.
	Uninitialized State = iota
	// Handshaking sessions are exchanging keys. A session that failed its
	// handshake stays in this state until it is closed.
	Handshaking
	// Ready sessions can send and receive messages.
	Ready
	// Closed sessions have released their transport and keys.
	Closed
)

// String implements the fmt.Stringer interface.
func (state State) String() string {
	switch state {
	case Uninitialized:
		return "uninitialized"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(state))
	}
}
