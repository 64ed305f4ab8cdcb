package hub

import "github.com/tailored-agentic-units/mesh/observability"

const (
	EventHubCreate  observability.EventType = "hub.create"
	EventHubDispose observability.EventType = "hub.dispose"
	EventHubHosted  observability.EventType = "hub.hosted"

	EventPost      observability.EventType = "hub.post"
	EventProcessed observability.EventType = "hub.processed"
	EventIgnored   observability.EventType = "hub.ignored"
	EventFailed    observability.EventType = "hub.failed"

	EventAwaitTimeout observability.EventType = "hub.await_timeout"
)
