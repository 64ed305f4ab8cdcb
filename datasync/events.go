package datasync

import "github.com/tailored-agentic-units/mesh/observability"

const (
	EventSubscribe   observability.EventType = "datasync.subscribe"
	EventUnsubscribe observability.EventType = "datasync.unsubscribe"
	EventCommit      observability.EventType = "datasync.commit"
	EventRejected    observability.EventType = "datasync.rejected"
	EventPrune       observability.EventType = "datasync.prune"

	// EventUnconditionalWrite marks a change applied without a base version.
	EventUnconditionalWrite observability.EventType = "datasync.unconditional_write"
)
