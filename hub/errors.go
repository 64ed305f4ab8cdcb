package hub

import "errors"

var (
	// ErrCorrelationTimeout is returned to an awaiting caller whose deadline
	// expired before a correlated reply arrived.
	ErrCorrelationTimeout = errors.New("correlation timeout")
	ErrHubDisposed        = errors.New("hub disposed")
	ErrNoRoute            = errors.New("no route to target")
	ErrUnexpectedResponse = errors.New("unexpected response payload")
	ErrChannelClosed      = errors.New("message channel closed")
	ErrAddressMismatch    = errors.New("hosted hub address mismatch")
	ErrAlreadyHosted      = errors.New("address already hosted")
)
