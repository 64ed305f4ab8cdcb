package traverse

import "github.com/tailored-agentic-units/mesh/observability"

const (
	EventRecursionLimit observability.EventType = "traverse.recursion_limit"
)
