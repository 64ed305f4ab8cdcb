package messaging

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// State is the outcome of a delivery attempt.
type State int

const (
	// Submitted: accepted into a mailbox, not yet processed.
	StateSubmitted State = iota
	StateProcessed
	// StateIgnored means no handler matched; it is not an error.
	StateIgnored
	// StateForwarded means the delivery was re-addressed and routed on.
	StateForwarded
	StateNotFound
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateProcessed:
		return "processed"
	case StateIgnored:
		return "ignored"
	case StateForwarded:
		return "forwarded"
	case StateNotFound:
		return "not_found"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	for st := StateSubmitted; st <= StateFailed; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown delivery state %q", s)
}

// Failed reports whether the state is a routing or processing failure.
func (s State) Failed() bool {
	return s == StateNotFound || s == StateFailed
}

// Delivery is a single posted message.
type Delivery struct {
	ID            string
	CorrelationID string
	Sender        Address
	// Target is zero when the delivery is addressed to the posting hub itself.
	Target     Address
	Payload    any
	Properties map[string]any
	Timestamp  time.Time

	State State
	// Err explains NotFound and Failed states.
	Err error
}

// IsReply reports whether the delivery answers an earlier request.
func (d *Delivery) IsReply() bool {
	return d.CorrelationID != ""
}

func (d *Delivery) Property(key string) (any, bool) {
	v, ok := d.Properties[key]
	return v, ok
}

func (d *Delivery) Clone() *Delivery {
	clone := *d
	clone.Properties = maps.Clone(d.Properties)
	return &clone
}

// WithState returns a copy carrying state and err.
func (d *Delivery) WithState(state State, err error) *Delivery {
	clone := d.Clone()
	clone.State = state
	clone.Err = err
	return clone
}

// Retarget returns a copy addressed to target.
func (d *Delivery) Retarget(target Address) *Delivery {
	clone := d.Clone()
	clone.Target = target
	return clone
}

func (d *Delivery) Processed() *Delivery { return d.WithState(StateProcessed, nil) }
func (d *Delivery) Ignored() *Delivery   { return d.WithState(StateIgnored, nil) }
func (d *Delivery) Forwarded() *Delivery { return d.WithState(StateForwarded, nil) }

func (d *Delivery) NotFound(err error) *Delivery {
	return d.WithState(StateNotFound, err)
}

func (d *Delivery) Failed(err error) *Delivery {
	return d.WithState(StateFailed, err)
}

func (d *Delivery) String() string {
	return fmt.Sprintf(
		"Delivery{ID: %s, From: %s, To: %s, Payload: %T, State: %s}",
		d.ID,
		d.Sender,
		d.Target,
		d.Payload,
		d.State,
	)
}

// DeliveryFailure is the reply payload sent to an awaiting caller when its
// request could not be handled.
type DeliveryFailure struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

const (
	ReasonHandler  = "handler"
	ReasonRouting  = "routing"
	ReasonDecoding = "decoding"
)

func (f DeliveryFailure) Error() string {
	return f.Reason + ": " + f.Message
}

func generateID() string {
	return uuid.Must(uuid.NewV7()).String()
}
