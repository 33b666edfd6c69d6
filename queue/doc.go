// Package queue implements the broker's message queues and their dispatcher.
//
// A Queue holds pending messages in FIFO order and a round-robin list of
// consumers. Whenever the queue changes (enqueue, attach, detach, ack, nack)
// the dispatcher hands the head of the queue to the next consumer that has
// credit. A consumer's credit is its prefetch count minus its unacknowledged
// deliveries; auto-ack consumers never hold credit.
//
// Handlers run on a per-consumer goroutine, one delivery at a time, so they
// may call back into the queue (ack, nack, detach) freely.
//
// Example:
//
//	q := queue.New("tasks", queue.Options{Durable: true})
//	c := queue.NewConsumer("worker-1", func(d queue.Delivery) {
//		process(d.Message.Body())
//		_ = d.Ack()
//	}, queue.WithPrefetchCount(1))
//	if err := q.Attach(c); err != nil {
//		return err
//	}
//	q.Enqueue(msg)
package queue
