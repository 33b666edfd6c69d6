package main

import (
	"context"
	"time"

	"github.com/glimte/mmate-broker/contracts"
	"github.com/glimte/mmate-broker/interceptors"
	"github.com/glimte/mmate-broker/queue"
	"github.com/google/uuid"
)

// Order is the JSON payload of the json demo
type Order struct {
	OrderID   int       `json:"orderId"`
	Customer  string    `json:"customer"`
	Items     []string  `json:"items"`
	Total     float64   `json:"total"`
	Express   bool      `json:"express,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

var catalog = [][]string{
	{"Laptop", "Mouse"},
	{"Keyboard"},
	{"Monitor", "HDMI cable", "Stand"},
}

var customers = []string{"Alice", "Bob", "Carol", "Dave"}

type orderOutcome struct {
	order Order
	err   error
}

// orders publishes JSON orders plus one malformed body. The consumer acks
// decoded orders and drops the malformed one without requeue.
func (d *demo) orders(ctx context.Context, count int) error {
	const queueName = "orders"

	if _, err := d.broker.DeclareQueue(ctx, queueName, queue.Options{Durable: true}); err != nil {
		return err
	}

	outcomes := make(chan orderOutcome, count+1)
	chain := interceptors.NewDefaultInterceptorChainBuilder(d.logger).
		WithAck().
		WithMetrics(d.metrics).
		Build()

	handler := chain.Handler(ctx, interceptors.MessageHandlerFunc(func(_ context.Context, del queue.Delivery) error {
		var order Order
		err := contracts.DecodeJSON(del.Message, &order)
		outcomes <- orderOutcome{order: order, err: err}
		return err
	}))

	tag, err := d.broker.Consume(ctx, queueName, "order-processor", handler, queue.WithPrefetchCount(1))
	if err != nil {
		return err
	}
	defer func() { _ = d.broker.Cancel(tag) }()

	for i := 1; i <= count; i++ {
		order := Order{
			OrderID:   1000 + i,
			Customer:  customers[(i-1)%len(customers)],
			Items:     catalog[(i-1)%len(catalog)],
			Total:     float64(i) * 49.95,
			Express:   i%3 == 0,
			CreatedAt: time.Now().UTC(),
		}

		body, props, err := contracts.EncodeJSON(order, uuid.NewString())
		if err != nil {
			return err
		}
		props.Type = "order.created"
		props.Headers = map[string]interface{}{"x-customer": order.Customer}

		if err := d.broker.Publish(ctx, "", queueName, body, props); err != nil {
			return err
		}
		d.out.Printf(" [x] Sent order %d for %s (%d bytes)\n", order.OrderID, order.Customer, len(body))
	}

	malformed := contracts.Properties{ContentType: contracts.ContentTypeJSON, MessageID: uuid.NewString()}
	if err := d.broker.Publish(ctx, "", queueName, []byte(`{"orderId": 1, "items": [`), malformed); err != nil {
		return err
	}
	d.out.Printf(" [x] Sent a malformed order\n")

	got, err := collect(ctx, outcomes, count+1)
	if err != nil {
		return err
	}

	processed, rejected := 0, 0
	for _, o := range got {
		if o.err != nil {
			rejected++
			d.out.Printf(" [!] Rejected: %v\n", o.err)
			continue
		}
		processed++
		d.out.Printf(" [.] Order %d: %s bought %v for %.2f\n", o.order.OrderID, o.order.Customer, o.order.Items, o.order.Total)
	}

	if err := d.drain(ctx, queueName); err != nil {
		return err
	}
	d.out.Printf(" Processed %d orders, rejected %d\n", processed, rejected)
	return nil
}
