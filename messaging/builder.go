package messaging

import "time"

type DeliveryBuilder struct {
	delivery *Delivery
}

func NewDelivery(payload any) *DeliveryBuilder {
	return &DeliveryBuilder{
		delivery: &Delivery{
			ID:        generateID(),
			Payload:   payload,
			Timestamp: time.Now(),
			State:     StateSubmitted,
		},
	}
}

// NewReply builds a reply to request: sender and target are swapped and the
// request id becomes the correlation id.
func NewReply(request *Delivery, payload any) *DeliveryBuilder {
	return NewDelivery(payload).
		From(request.Target).
		To(request.Sender).
		CorrelatedWith(request.ID)
}

func (b *DeliveryBuilder) ID(id string) *DeliveryBuilder {
	b.delivery.ID = id
	return b
}

func (b *DeliveryBuilder) From(sender Address) *DeliveryBuilder {
	b.delivery.Sender = sender
	return b
}

func (b *DeliveryBuilder) To(target Address) *DeliveryBuilder {
	b.delivery.Target = target
	return b
}

func (b *DeliveryBuilder) CorrelatedWith(id string) *DeliveryBuilder {
	b.delivery.CorrelationID = id
	return b
}

func (b *DeliveryBuilder) Property(key string, value any) *DeliveryBuilder {
	if b.delivery.Properties == nil {
		b.delivery.Properties = make(map[string]any)
	}
	b.delivery.Properties[key] = value
	return b
}

func (b *DeliveryBuilder) Properties(properties map[string]any) *DeliveryBuilder {
	for k, v := range properties {
		b.Property(k, v)
	}
	return b
}

func (b *DeliveryBuilder) Build() *Delivery {
	return b.delivery
}
