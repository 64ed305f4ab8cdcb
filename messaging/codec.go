package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/tailored-agentic-units/mesh/traverse"
	"github.com/tailored-agentic-units/mesh/typereg"
)

// Envelope is the wire form of a Delivery.
type Envelope struct {
	Payload       TaggedValue    `json:"payload"`
	SenderAddress Address        `json:"senderAddress"`
	TargetAddress *Address       `json:"targetAddress,omitempty"`
	MessageID     string         `json:"messageId"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Properties    map[string]any `json:"properties"`
}

// TaggedValue carries a payload with the wire name of its Go type. An empty
// Type encodes a nil payload.
type TaggedValue struct {
	Type  string          `json:"$type"`
	Value json.RawMessage `json:"value"`
}

// Codec encodes deliveries into envelopes. Payload types are named through
// the registry; the traverser emits payload values so traversal hooks apply
// on the way out.
type Codec struct {
	types     *typereg.Registry
	traverser *traverse.Traverser
}

func NewCodec(types *typereg.Registry, traverser *traverse.Traverser) *Codec {
	if types == nil {
		types = typereg.New()
	}
	if traverser == nil {
		traverser = traverse.New()
	}
	return &Codec{types: types, traverser: traverser}
}

func (c *Codec) Types() *typereg.Registry {
	return c.types
}

func (c *Codec) Traverser() *traverse.Traverser {
	return c.traverser
}

func (c *Codec) EncodePayload(ctx context.Context, payload any) (TaggedValue, error) {
	if payload == nil {
		return TaggedValue{Value: json.RawMessage("null")}, nil
	}

	res, err := c.traverser.Traverse(ctx, payload)
	if err != nil {
		return TaggedValue{}, fmt.Errorf("traverse payload: %w", err)
	}

	raw, err := json.Marshal(res.Value)
	if err != nil {
		return TaggedValue{}, fmt.Errorf("marshal payload: %w", err)
	}

	return TaggedValue{Type: c.types.NameOf(payload), Value: raw}, nil
}

// DecodePayload resolves the tag and decodes the value into a fresh instance
// of the registered type. Pointer registrations yield pointers.
func (c *Codec) DecodePayload(tv TaggedValue) (any, error) {
	if tv.Type == "" {
		return nil, nil
	}

	typ, err := c.types.Resolve(tv.Type)
	if err != nil {
		return nil, err
	}

	base := typ
	if typ.Kind() == reflect.Pointer {
		base = typ.Elem()
	}

	target := reflect.New(base)
	if len(tv.Value) > 0 {
		if err := json.Unmarshal(tv.Value, target.Interface()); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tv.Type, err)
		}
	}

	if typ.Kind() == reflect.Pointer {
		return target.Interface(), nil
	}
	return target.Elem().Interface(), nil
}

func (c *Codec) Encode(ctx context.Context, d *Delivery) ([]byte, error) {
	payload, err := c.EncodePayload(ctx, d.Payload)
	if err != nil {
		return nil, err
	}

	env := Envelope{
		Payload:       payload,
		SenderAddress: d.Sender,
		MessageID:     d.ID,
		CorrelationID: d.CorrelationID,
		Properties:    d.Properties,
	}
	if !d.Target.IsZero() {
		target := d.Target
		env.TargetAddress = &target
	}
	if env.Properties == nil {
		env.Properties = map[string]any{}
	}

	return json.Marshal(env)
}

func (c *Codec) Decode(data []byte) (*Delivery, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if env.MessageID == "" {
		return nil, fmt.Errorf("%w: missing messageId", ErrInvalidEnvelope)
	}

	payload, err := c.DecodePayload(env.Payload)
	if err != nil {
		return nil, err
	}

	d := &Delivery{
		ID:            env.MessageID,
		CorrelationID: env.CorrelationID,
		Sender:        env.SenderAddress,
		Payload:       payload,
		Properties:    env.Properties,
		Timestamp:     time.Now(),
		State:         StateSubmitted,
	}
	if env.TargetAddress != nil {
		d.Target = *env.TargetAddress
	}
	if len(d.Properties) == 0 {
		d.Properties = nil
	}
	return d, nil
}
