package protocol

import (
	"bytes"
	"time"
)

// Properties are the basic content-header properties carried with a
// published or delivered message
type Properties struct {
	ContentType     string
	ContentEncoding string
	Headers         Table
	DeliveryMode    uint8
	Priority        uint8
	CorrelationId   string
	ReplyTo         string
	Expiration      string
	MessageId       string
	Timestamp       time.Time
	Type            string
	UserId          string
	AppId           string
	ClusterId       string
}

// Property flags, most significant bit first
const (
	flagContentType     = 0x8000
	flagContentEncoding = 0x4000
	flagHeaders         = 0x2000
	flagDeliveryMode    = 0x1000
	flagPriority        = 0x0800
	flagCorrelationId   = 0x0400
	flagReplyTo         = 0x0200
	flagExpiration      = 0x0100
	flagMessageId       = 0x0080
	flagTimestamp       = 0x0040
	flagType            = 0x0020
	flagUserId          = 0x0010
	flagAppId           = 0x0008
	flagClusterId       = 0x0004
)

// Flags returns the property flags word for the set fields
func (p Properties) Flags() uint16 {
	flags := uint16(0)
	if p.ContentType != "" {
		flags |= flagContentType
	}
	if p.ContentEncoding != "" {
		flags |= flagContentEncoding
	}
	if len(p.Headers) > 0 {
		flags |= flagHeaders
	}
	if p.DeliveryMode != 0 {
		flags |= flagDeliveryMode
	}
	if p.Priority != 0 {
		flags |= flagPriority
	}
	if p.CorrelationId != "" {
		flags |= flagCorrelationId
	}
	if p.ReplyTo != "" {
		flags |= flagReplyTo
	}
	if p.Expiration != "" {
		flags |= flagExpiration
	}
	if p.MessageId != "" {
		flags |= flagMessageId
	}
	if !p.Timestamp.IsZero() {
		flags |= flagTimestamp
	}
	if p.Type != "" {
		flags |= flagType
	}
	if p.UserId != "" {
		flags |= flagUserId
	}
	if p.AppId != "" {
		flags |= flagAppId
	}
	if p.ClusterId != "" {
		flags |= flagClusterId
	}
	return flags
}

// WriteProperties writes the flags word followed by every set property in
// flag order
func (w *Writer) WriteProperties(p Properties) error {
	flags := p.Flags()
	if err := w.WriteShort(flags); err != nil {
		return err
	}

	shortStr := []struct {
		flag  uint16
		value string
	}{
		{flagContentType, p.ContentType},
		{flagContentEncoding, p.ContentEncoding},
	}
	for _, s := range shortStr {
		if flags&s.flag != 0 {
			if err := w.WriteShortStr(s.value); err != nil {
				return err
			}
		}
	}

	if flags&flagHeaders != 0 {
		if err := w.WriteTable(p.Headers); err != nil {
			return err
		}
	}
	if flags&flagDeliveryMode != 0 {
		if err := w.WriteOctet(p.DeliveryMode); err != nil {
			return err
		}
	}
	if flags&flagPriority != 0 {
		if err := w.WriteOctet(p.Priority); err != nil {
			return err
		}
	}

	shortStr = []struct {
		flag  uint16
		value string
	}{
		{flagCorrelationId, p.CorrelationId},
		{flagReplyTo, p.ReplyTo},
		{flagExpiration, p.Expiration},
		{flagMessageId, p.MessageId},
	}
	for _, s := range shortStr {
		if flags&s.flag != 0 {
			if err := w.WriteShortStr(s.value); err != nil {
				return err
			}
		}
	}

	if flags&flagTimestamp != 0 {
		if err := w.WriteTimestamp(p.Timestamp); err != nil {
			return err
		}
	}

	shortStr = []struct {
		flag  uint16
		value string
	}{
		{flagType, p.Type},
		{flagUserId, p.UserId},
		{flagAppId, p.AppId},
		{flagClusterId, p.ClusterId},
	}
	for _, s := range shortStr {
		if flags&s.flag != 0 {
			if err := w.WriteShortStr(s.value); err != nil {
				return err
			}
		}
	}

	return nil
}

// ReadProperties reads a flags word and the properties it announces
func (r *Reader) ReadProperties() (Properties, error) {
	var p Properties

	flags, err := r.ReadShort()
	if err != nil {
		return p, err
	}

	str := func(flag uint16, dst *string) error {
		if flags&flag == 0 {
			return nil
		}
		s, err := r.ReadShortStr()
		if err != nil {
			return err
		}
		*dst = s
		return nil
	}

	if err := str(flagContentType, &p.ContentType); err != nil {
		return p, err
	}
	if err := str(flagContentEncoding, &p.ContentEncoding); err != nil {
		return p, err
	}
	if flags&flagHeaders != 0 {
		if p.Headers, err = r.ReadTable(); err != nil {
			return p, err
		}
	}
	if flags&flagDeliveryMode != 0 {
		if p.DeliveryMode, err = r.ReadOctet(); err != nil {
			return p, err
		}
	}
	if flags&flagPriority != 0 {
		if p.Priority, err = r.ReadOctet(); err != nil {
			return p, err
		}
	}
	for _, f := range []struct {
		flag uint16
		dst  *string
	}{
		{flagCorrelationId, &p.CorrelationId},
		{flagReplyTo, &p.ReplyTo},
		{flagExpiration, &p.Expiration},
		{flagMessageId, &p.MessageId},
	} {
		if err := str(f.flag, f.dst); err != nil {
			return p, err
		}
	}
	if flags&flagTimestamp != 0 {
		if p.Timestamp, err = r.ReadTimestamp(); err != nil {
			return p, err
		}
	}
	for _, f := range []struct {
		flag uint16
		dst  *string
	}{
		{flagType, &p.Type},
		{flagUserId, &p.UserId},
		{flagAppId, &p.AppId},
		{flagClusterId, &p.ClusterId},
	} {
		if err := str(f.flag, f.dst); err != nil {
			return p, err
		}
	}

	return p, nil
}

// EncodeProperties encodes properties to wire format
func EncodeProperties(p Properties) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := NewWriter(buf).WriteProperties(p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeProperties decodes properties from wire format
func DecodeProperties(data []byte) (Properties, error) {
	return NewBytesReader(data).ReadProperties()
}
