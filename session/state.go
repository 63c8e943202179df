package session

// LinkState is the six-value state every Session (and Server) occupies.
// Transitions are monotonic within one episode — the span from Idle or
// Connecting to the next Closed or Error.
type LinkState int32

const (
	Idle LinkState = iota
	Connecting
	Listening
	Connected
	Closed
	Error
)

// String renders the state the way it appears in logs and on_error
// messages.
func (s LinkState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting"
	case Listening:
		return "Listening"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Kind tags which carrier a Session wraps. Sessions share one struct and
// one state machine across carriers; Kind selects the variant-specific
// behavior (reconnect for TCP-client/Serial, none for an accepted TCP
// peer) rather than using separate types per carrier.
type Kind int

const (
	KindTCPClient Kind = iota
	KindTCPPeer
	KindSerial
)

// String renders the kind for logging.
func (k Kind) String() string {
	switch k {
	case KindTCPClient:
		return "tcp-client"
	case KindTCPPeer:
		return "tcp-peer"
	case KindSerial:
		return "serial"
	default:
		return "unknown"
	}
}
