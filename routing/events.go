package routing

import "github.com/tailored-agentic-units/mesh/observability"

const (
	EventActivate       observability.EventType = "routing.activate"
	EventActivateFailed observability.EventType = "routing.activate_failed"
	EventRegister       observability.EventType = "routing.register"
	EventEvict          observability.EventType = "routing.evict"
)
