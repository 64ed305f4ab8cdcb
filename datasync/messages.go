// Package datasync implements the workspace subscription protocol on top of
// hubs: a subscriber receives the current slice of a workspace as a Full
// event, then one event per committed change, and may write back through
// patch change requests.
package datasync

import (
	"github.com/tailored-agentic-units/mesh/messaging"
	"github.com/tailored-agentic-units/mesh/patch"
	"github.com/tailored-agentic-units/mesh/typereg"
	"github.com/tailored-agentic-units/mesh/workspace"
)

type ChangeType string

const (
	// ChangeFull carries the whole slice, sent on subscribe.
	ChangeFull ChangeType = "Full"
	// ChangePatch carries a patch of the slice.
	ChangePatch ChangeType = "Patch"
	// ChangeInstance carries a replacement of the slice.
	ChangeInstance ChangeType = "Instance"
)

type Status string

const (
	StatusCommitted Status = "Committed"
	StatusFailed    Status = "Failed"
)

// Failure reasons reported on a Failed DataChangeResponse.
const (
	ReasonConflict         = "conflict"
	ReasonOutsideReference = "outside_reference"
	ReasonInvalid          = "invalid"
)

// SubscribeRequest opens a subscription to the slice at Reference. Stream
// tells apart several streams one subscriber holds on the same slice; the
// host echoes it on every event of the subscription.
type SubscribeRequest struct {
	Reference workspace.Ref `json:"reference"`
	Stream    string        `json:"stream,omitempty"`
}

type UnsubscribeDataRequest struct {
	Reference workspace.Ref `json:"reference"`
	Stream    string        `json:"stream,omitempty"`
}

// PatchChangeRequest writes to the slice at Reference. ChangePatch applies
// Patch, whose paths must lie within the reference; ChangeInstance replaces
// the slice with Value. A non-empty BaseVersion must match the slice's
// current content version or the request fails with a conflict.
type PatchChangeRequest struct {
	Address     messaging.Address `json:"address"`
	Reference   workspace.Ref     `json:"reference"`
	ChangeType  ChangeType        `json:"changeType"`
	Patch       patch.Patch       `json:"patch,omitempty"`
	Value       any               `json:"value,omitempty"`
	BaseVersion string            `json:"baseVersion,omitempty"`
	ChangedBy   string            `json:"changedBy,omitempty"`
}

type DataChangeResponse struct {
	Status  Status `json:"status"`
	Version string `json:"version,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (r DataChangeResponse) Committed() bool { return r.Status == StatusCommitted }

// DataChangedEvent reports the slice at Reference. Version is the content
// version of the slice after the change.
type DataChangedEvent struct {
	Reference  workspace.Ref `json:"reference"`
	ChangeType ChangeType    `json:"changeType"`
	Value      any           `json:"value,omitempty"`
	Patch      patch.Patch   `json:"patch,omitempty"`
	ChangedBy  string        `json:"changedBy,omitempty"`
	Version    string        `json:"version"`
	Stream     string        `json:"stream,omitempty"`
}

// RegisterTypes adds the protocol messages to r so they survive an envelope
// round trip.
func RegisterTypes(r *typereg.Registry) {
	typereg.Add[SubscribeRequest](r)
	typereg.Add[UnsubscribeDataRequest](r)
	typereg.Add[PatchChangeRequest](r)
	typereg.Add[DataChangeResponse](r)
	typereg.Add[DataChangedEvent](r)
}
