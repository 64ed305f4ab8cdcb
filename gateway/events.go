package gateway

import "github.com/tailored-agentic-units/mesh/observability"

const (
	EventConnect    observability.EventType = "gateway.connect"
	EventDisconnect observability.EventType = "gateway.disconnect"
	EventFrameError observability.EventType = "gateway.frame_error"
)
