package socket

// State is the connection state of a Client.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting // waiting for a scheduled reconnect
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

type event int

const (
	evConnect    event = iota // explicit or scheduled dial starts
	evOpen                    // transport reports open
	evFail                    // dial failed
	evClose                   // open connection closed
	evRetry                   // reconnect scheduled
	evDisconnect              // explicit shutdown
)

// transition returns the state reached from s on ev. Events that make no
// sense in s leave it unchanged.
func transition(s State, ev event) State {
	switch ev {
	case evDisconnect:
		return Disconnected
	case evConnect:
		if s == Disconnected || s == Reconnecting {
			return Connecting
		}
	case evOpen:
		if s == Connecting {
			return Connected
		}
	case evFail:
		if s == Connecting {
			return Disconnected
		}
	case evClose:
		if s == Connected {
			return Disconnected
		}
	case evRetry:
		if s == Disconnected {
			return Reconnecting
		}
	}
	return s
}
