// Package amqpbridge lets code written against amqp091-go types run on the
// in-process broker. Publishings are converted to broker properties, and
// broker deliveries come back as amqp.Delivery values whose Ack, Nack and
// Reject (including multiple) settle the in-process queue.
//
//	ch := amqpbridge.NewChannel(broker)
//	_ = ch.Qos(1)
//	deliveries, err := ch.Consume(ctx, "task_queue", "", false, false)
//	for d := range deliveries {
//		work(d.Body)
//		_ = d.Ack(false)
//	}
package amqpbridge
