package groups

import "errors"

var (
	// ErrSubscriptionInvariant marks an internal defect: a group with more
	// than one upstream, or members without one. The group is halted.
	ErrSubscriptionInvariant = errors.New("subscription invariant violated")
	ErrGroupHalted           = errors.New("group halted")
)
