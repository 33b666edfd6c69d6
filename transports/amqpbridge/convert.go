package amqpbridge

import (
	"github.com/glimte/mmate-broker/contracts"
	"github.com/glimte/mmate-broker/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// FromPublishing converts an AMQP publishing into a body and broker
// properties. Expiration and UserId have no broker equivalent and are kept
// as x-expiration and x-user-id headers.
func FromPublishing(p amqp.Publishing) ([]byte, contracts.Properties) {
	props := contracts.Properties{
		ContentType:     p.ContentType,
		ContentEncoding: p.ContentEncoding,
		MessageID:       p.MessageId,
		CorrelationID:   p.CorrelationId,
		ReplyTo:         p.ReplyTo,
		Type:            p.Type,
		AppID:           p.AppId,
		Persistent:      p.DeliveryMode == amqp.Persistent,
		Priority:        p.Priority,
		Timestamp:       p.Timestamp,
	}

	if len(p.Headers) > 0 || p.Expiration != "" || p.UserId != "" {
		props.Headers = make(map[string]interface{}, len(p.Headers)+2)
		for k, v := range p.Headers {
			props.Headers[k] = v
		}
		if p.Expiration != "" {
			props.Headers[headerExpiration] = p.Expiration
		}
		if p.UserId != "" {
			props.Headers[headerUserID] = p.UserId
		}
	}

	return p.Body, props
}

const (
	headerExpiration = "x-expiration"
	headerUserID     = "x-user-id"
)

// ToDelivery converts a broker delivery into an AMQP delivery settled
// through ack. With a nil ack, Ack, Nack and Reject fail.
func ToDelivery(d queue.Delivery, ack amqp.Acknowledger) amqp.Delivery {
	msg := d.Message
	props := msg.Properties()

	mode := amqp.Transient
	if props.Persistent {
		mode = amqp.Persistent
	}

	out := amqp.Delivery{
		Acknowledger:    ack,
		ContentType:     props.ContentType,
		ContentEncoding: props.ContentEncoding,
		DeliveryMode:    mode,
		Priority:        props.Priority,
		CorrelationId:   props.CorrelationID,
		ReplyTo:         props.ReplyTo,
		MessageId:       props.MessageID,
		Timestamp:       props.Timestamp,
		Type:            props.Type,
		AppId:           props.AppID,
		ConsumerTag:     d.ConsumerTag,
		DeliveryTag:     d.DeliveryTag,
		Redelivered:     d.Redelivered,
		Exchange:        msg.Exchange(),
		RoutingKey:      msg.RoutingKey(),
		Body:            msg.Body(),
	}

	if len(props.Headers) > 0 {
		out.Headers = make(amqp.Table, len(props.Headers))
		for k, v := range props.Headers {
			switch k {
			case headerExpiration:
				out.Expiration, _ = v.(string)
			case headerUserID:
				out.UserId, _ = v.(string)
			default:
				out.Headers[k] = v
			}
		}
	}

	return out
}
