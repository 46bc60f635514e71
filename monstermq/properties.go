package monstermq

import (
	"time"

	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
)

// Table is an AMQP field table holding plain Go values: bool, sized
// integers, int, float32, float64, string, []byte, time.Time,
// decimal.Decimal, []interface{}, nested Table and nil. Strings are sent as
// long strings.
type Table = map[string]interface{}

// Properties are the content-header properties of a message (BasicProperties
// in other clients)
type Properties struct {
	ContentType     string
	ContentEncoding string
	Headers         Table
	DeliveryMode    uint8 // Transient or Persistent
	Priority        uint8
	CorrelationId   string
	ReplyTo         string
	Expiration      string
	MessageId       string
	Timestamp       time.Time
	Type            string
	UserId          string
	AppId           string
}

// Delivery modes
const (
	Transient  uint8 = 1
	Persistent uint8 = 2
)

// Publishing is a message to publish
type Publishing struct {
	Properties
	Body []byte
}

func (p Properties) wire() (protocol.Properties, error) {
	headers, err := wireTable(p.Headers)
	if err != nil {
		return protocol.Properties{}, err
	}
	return protocol.Properties{
		ContentType:     p.ContentType,
		ContentEncoding: p.ContentEncoding,
		Headers:         headers,
		DeliveryMode:    p.DeliveryMode,
		Priority:        p.Priority,
		CorrelationId:   p.CorrelationId,
		ReplyTo:         p.ReplyTo,
		Expiration:      p.Expiration,
		MessageId:       p.MessageId,
		Timestamp:       p.Timestamp,
		Type:            p.Type,
		UserId:          p.UserId,
		AppId:           p.AppId,
	}, nil
}

func propertiesFrom(p protocol.Properties) Properties {
	props := Properties{
		ContentType:     p.ContentType,
		ContentEncoding: p.ContentEncoding,
		DeliveryMode:    p.DeliveryMode,
		Priority:        p.Priority,
		CorrelationId:   p.CorrelationId,
		ReplyTo:         p.ReplyTo,
		Expiration:      p.Expiration,
		MessageId:       p.MessageId,
		Timestamp:       p.Timestamp,
		Type:            p.Type,
		UserId:          p.UserId,
		AppId:           p.AppId,
	}
	if len(p.Headers) > 0 {
		props.Headers = p.Headers.Native()
	}
	return props
}

// wireTable converts arguments and headers. An empty table encodes as a
// zero-length table.
func wireTable(t Table) (protocol.Table, error) {
	if len(t) == 0 {
		return nil, nil
	}
	return protocol.NewTable(t)
}
