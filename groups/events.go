package groups

import "github.com/tailored-agentic-units/mesh/observability"

const (
	EventJoin           observability.EventType = "groups.join"
	EventLeave          observability.EventType = "groups.leave"
	EventUpstreamOpen   observability.EventType = "groups.upstream_open"
	EventUpstreamClose  observability.EventType = "groups.upstream_close"
	EventInvariantBreak observability.EventType = "groups.invariant_violation"
)
