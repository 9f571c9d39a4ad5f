package chat

// ConnectionState is the lifecycle state of the client's single connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailedTerminal
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailedTerminal:
		return "failed"
	default:
		return "unknown"
	}
}
