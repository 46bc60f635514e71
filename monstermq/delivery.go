package monstermq

import (
	"github.com/goootlib/MonsterMQ-sub000/internal/dispatch"
)

// Delivery is a message pushed to a consumer or fetched with BasicGet
type Delivery struct {
	// Message metadata
	ConsumerTag  string // empty for BasicGet
	DeliveryTag  uint64
	Redelivered  bool
	Exchange     string
	RoutingKey   string
	MessageCount uint32 // messages left in the queue, BasicGet only

	// Message content
	Properties Properties
	Body       []byte

	// Channel reference for acknowledgment
	channel *Channel
}

func (ch *Channel) delivery(d *dispatch.Delivery) *Delivery {
	return &Delivery{
		ConsumerTag:  d.ConsumerTag,
		DeliveryTag:  d.DeliveryTag,
		Redelivered:  d.Redelivered,
		Exchange:     d.Exchange,
		RoutingKey:   d.RoutingKey,
		MessageCount: d.MessageCount,
		Properties:   propertiesFrom(d.Properties),
		Body:         d.Body,
		channel:      ch,
	}
}

// Ack acknowledges this delivery
func (d *Delivery) Ack(multiple bool) error {
	if d.channel == nil {
		return ErrChannelClosed
	}
	return d.channel.BasicAck(d.DeliveryTag, multiple)
}

// Nack negatively acknowledges this delivery
func (d *Delivery) Nack(multiple, requeue bool) error {
	if d.channel == nil {
		return ErrChannelClosed
	}
	return d.channel.BasicNack(d.DeliveryTag, multiple, requeue)
}

// Reject rejects this delivery
func (d *Delivery) Reject(requeue bool) error {
	if d.channel == nil {
		return ErrChannelClosed
	}
	return d.channel.BasicReject(d.DeliveryTag, requeue)
}

// Return is a mandatory or immediate message the server could not route
type Return struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
	Properties Properties
	Body       []byte
}

func returnFrom(r *dispatch.Return) Return {
	return Return{
		ReplyCode:  r.ReplyCode,
		ReplyText:  r.ReplyText,
		Exchange:   r.Exchange,
		RoutingKey: r.RoutingKey,
		Properties: propertiesFrom(r.Properties),
		Body:       r.Body,
	}
}

// Queue represents queue information returned from QueueDeclare
type Queue struct {
	Name      string
	Messages  int
	Consumers int
}
