package messaging

import "errors"

var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidEnvelope = errors.New("invalid envelope")
)
