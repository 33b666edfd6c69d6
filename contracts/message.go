package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Common content types
const (
	ContentTypeJSON  = "application/json"
	ContentTypeText  = "text/plain"
	ContentTypeBytes = "application/octet-stream"
)

// Properties is the property bag carried next to a message body
type Properties struct {
	ContentType     string
	ContentEncoding string
	MessageID       string
	CorrelationID   string
	ReplyTo         string
	Type            string
	AppID           string
	Persistent      bool // advisory only, nothing is written to disk
	Priority        uint8
	Headers         map[string]interface{}
	Timestamp       time.Time
}

// Clone returns a copy of the properties with its own header map
func (p Properties) Clone() Properties {
	p.Headers = cloneHeaders(p.Headers)
	return p
}

// Header returns a single header value
func (p Properties) Header(key string) (interface{}, bool) {
	if p.Headers == nil {
		return nil, false
	}
	v, ok := p.Headers[key]
	return v, ok
}

// Message is an immutable published message. It is created once at publish
// time and shared by every queue the publish was routed to.
type Message struct {
	body       []byte
	props      Properties
	exchange   string
	routingKey string
}

// NewMessage creates a message as published to exchange with routingKey.
// The body and headers are copied. A missing message ID is generated and a
// zero timestamp is set to the current time.
func NewMessage(exchange, routingKey string, body []byte, props Properties) *Message {
	props = props.Clone()
	if props.MessageID == "" {
		props.MessageID = uuid.New().String()
	}
	if props.Timestamp.IsZero() {
		props.Timestamp = time.Now().UTC()
	}

	var b []byte
	if body != nil {
		b = make([]byte, len(body))
		copy(b, body)
	}

	return &Message{
		body:       b,
		props:      props,
		exchange:   exchange,
		routingKey: routingKey,
	}
}

// Body returns the message payload. Callers must not modify it.
func (m *Message) Body() []byte {
	return m.body
}

// Properties returns a copy of the message properties
func (m *Message) Properties() Properties {
	return m.props.Clone()
}

// ID returns the message ID
func (m *Message) ID() string {
	return m.props.MessageID
}

// CorrelationID returns the correlation ID
func (m *Message) CorrelationID() string {
	return m.props.CorrelationID
}

// ReplyTo returns the reply queue name
func (m *Message) ReplyTo() string {
	return m.props.ReplyTo
}

// ContentType returns the content type
func (m *Message) ContentType() string {
	return m.props.ContentType
}

// Persistent reports whether the publisher asked for persistence
func (m *Message) Persistent() bool {
	return m.props.Persistent
}

// Timestamp returns the message timestamp
func (m *Message) Timestamp() time.Time {
	return m.props.Timestamp
}

// Header returns a single header value
func (m *Message) Header(key string) (interface{}, bool) {
	return m.props.Header(key)
}

// Headers returns a copy of the message headers
func (m *Message) Headers() map[string]interface{} {
	return cloneHeaders(m.props.Headers)
}

// Exchange returns the exchange the message was published to
func (m *Message) Exchange() string {
	return m.exchange
}

// RoutingKey returns the routing key the message was published with
func (m *Message) RoutingKey() string {
	return m.routingKey
}

func cloneHeaders(h map[string]interface{}) map[string]interface{} {
	if h == nil {
		return nil
	}
	out := make(map[string]interface{}, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
