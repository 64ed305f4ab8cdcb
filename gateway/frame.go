package gateway

import "github.com/tailored-agentic-units/mesh/datasync"

const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpEvent       = "event"
	OpError       = "error"
)

// Frame is one websocket message in either direction. Reference is the key
// form of a workspace reference, e.g. "entity:/orders/42".
type Frame struct {
	Op        string                     `json:"op"`
	Address   string                     `json:"address,omitempty"`
	Reference string                     `json:"reference,omitempty"`
	Event     *datasync.DataChangedEvent `json:"event,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

// GroupID names the fan-out group for one workspace slice.
func GroupID(owner, referenceKey string) string {
	return owner + "#" + referenceKey
}
