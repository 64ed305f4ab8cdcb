package routing

import (
	"errors"
	"fmt"

	"github.com/tailored-agentic-units/mesh/messaging"
)

var (
	// ErrRoutingFailure is wrapped by every failed activation: no node, module
	// load failure, missing factory or construction failure.
	ErrRoutingFailure    = errors.New("routing failure")
	ErrNodeNotFound      = errors.New("no mesh node for address")
	ErrAlreadyRegistered = errors.New("address already registered")
)

// Activation stages reported in RoutingError.
const (
	StageResolve   = "resolve"
	StageLoad      = "load"
	StageFactory   = "factory"
	StageConstruct = "construct"
)

// RoutingError describes a failed activation of Address.
type RoutingError struct {
	Address messaging.Address
	Stage   string
	Err     error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing %s failed at %s: %v", e.Address, e.Stage, e.Err)
}

func (e *RoutingError) Unwrap() []error {
	return []error{ErrRoutingFailure, e.Err}
}
