package relay

type State int

const (
	StateAwaitingRequest State = iota
	StateConnectingUpstream
	StateAwaitingResponse
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitingRequest:
		return "AwaitingRequest"
	case StateConnectingUpstream:
		return "ConnectingUpstream"
	case StateAwaitingResponse:
		return "AwaitingResponse"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}
