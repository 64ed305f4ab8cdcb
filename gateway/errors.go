package gateway

import "errors"

var (
	ErrUnknownOp = errors.New("unknown frame op")
	ErrNoFeed    = errors.New("group has no feed")
)
