// Package messaging defines the addressing and delivery primitives every hub
// exchanges.
//
// # Addresses
//
// An Address is a (kind, id) pair. It is value-equal, usable as a map key and
// renders as "kind/id" on the wire:
//
//	addr := messaging.NewAddress("workspace", "orders")
//	addr.String() // "workspace/orders"
//
// # Deliveries
//
// A Delivery is one posted message: payload, sender, optional target, a
// UUIDv7 message id, an optional correlation id linking a reply to its
// request, and free-form properties. Deliveries are built fluently:
//
//	d := messaging.NewDelivery(payload).
//	    From(sender).
//	    To(target).
//	    Property("tenant", "acme").
//	    Build()
//
// A reply to a request carries the request's id as its correlation id:
//
//	reply := messaging.NewReply(request, result).Build()
//
// State records the outcome of a delivery attempt. State transitions return
// copies so a delivery handed to several parties is never mutated in place.
//
// # Envelopes
//
// Codec converts deliveries to and from the JSON envelope used across process
// boundaries. Payloads are tagged with their typereg wire name so the receiver
// can pick the concrete type to decode into.
package messaging
