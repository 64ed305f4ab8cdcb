package remote

import "github.com/tailored-agentic-units/mesh/observability"

const (
	EventForward        observability.EventType = "remote.forward"
	EventForwardFailed  observability.EventType = "remote.forward_failed"
	EventReceive        observability.EventType = "remote.receive"
	EventReceiveInvalid observability.EventType = "remote.receive_invalid"
)
