package queue

import (
	"fmt"
	"slices"
)

// tickLocked hands pending messages to consumers with credit, round-robin
// from the cursor, until either runs out.
func (q *Queue) tickLocked() {
	for q.pending.Len() > 0 {
		c := q.nextConsumerLocked()
		if c == nil {
			return
		}
		q.deliverLocked(c, q.pending.PopFront())
	}
}

func (q *Queue) nextConsumerLocked() *Consumer {
	n := len(q.consumers)
	for i := 0; i < n; i++ {
		idx := (q.cursor + i) % n
		c := q.consumers[idx]
		if c.hasCredit() {
			q.cursor = (idx + 1) % n
			return c
		}
	}
	return nil
}

func (q *Queue) deliverLocked(c *Consumer, e *entry) {
	q.nextTag++
	e.deliveryTag = q.nextTag

	if c.ackMode == AckManual {
		c.inflight[e.deliveryTag] = e
		if c.prefetch > 0 && len(c.inflight) > c.prefetch {
			panic(fmt.Errorf("%w: consumer %s on queue %s holds %d deliveries with prefetch %d",
				ErrCreditViolation, c.tag, q.name, len(c.inflight), c.prefetch))
		}
	}

	c.emit(Delivery{
		Message:     e.msg,
		Queue:       q.name,
		ConsumerTag: c.tag,
		DeliveryTag: e.deliveryTag,
		Redelivered: e.redelivered,
		AckMode:     c.ackMode,
		queue:       q,
	})
}

// takeLocked removes deliveries from the consumer's in-flight set, returning
// them in delivery order.
func (q *Queue) takeLocked(c *Consumer, deliveryTag uint64, multiple bool, op string) ([]*entry, error) {
	var taken []*entry

	if multiple {
		for tag, e := range c.inflight {
			if deliveryTag == 0 || tag <= deliveryTag {
				taken = append(taken, e)
				delete(c.inflight, tag)
			}
		}
	} else if e, ok := c.inflight[deliveryTag]; ok {
		taken = append(taken, e)
		delete(c.inflight, deliveryTag)
	}

	if len(taken) == 0 {
		return nil, &ConsumerError{
			Queue:       q.name,
			ConsumerTag: c.tag,
			Op:          op,
			Err:         fmt.Errorf("%w: delivery tag %d", ErrDeliveryNotFound, deliveryTag),
		}
	}

	sortByDeliveryTag(taken)
	return taken, nil
}

func (q *Queue) takeAllLocked(c *Consumer) []*entry {
	taken := make([]*entry, 0, len(c.inflight))
	for _, e := range c.inflight {
		taken = append(taken, e)
	}
	clear(c.inflight)

	sortByDeliveryTag(taken)
	return taken
}

// requeueLocked puts entries back at the head, keeping their relative order
func (q *Queue) requeueLocked(entries []*entry) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		e.redelivered = true
		e.deliveryTag = 0
		q.pending.PushFront(e)
	}
}

// settlePanic settles a manual delivery whose handler panicked. The first
// panic for a message requeues it; a second one drops it. Redeliveries for
// other reasons do not count.
func (q *Queue) settlePanic(tag string, deliveryTag uint64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	c, err := q.consumerLocked(tag, "nack")
	if err != nil {
		return false, err
	}

	entries, err := q.takeLocked(c, deliveryTag, false, "nack")
	if err != nil {
		return false, err
	}

	e := entries[0]
	requeue := !e.panicked
	if requeue {
		e.panicked = true
		q.requeueLocked(entries)
	}

	q.tickLocked()
	return requeue, nil
}

func (c *Consumer) findMessageLocked(messageID string) (uint64, bool) {
	var (
		found uint64
		ok    bool
	)
	for tag, e := range c.inflight {
		if e.msg.ID() != messageID {
			continue
		}
		if !ok || tag < found {
			found, ok = tag, true
		}
	}
	return found, ok
}

func sortByDeliveryTag(entries []*entry) {
	slices.SortFunc(entries, func(a, b *entry) int {
		switch {
		case a.deliveryTag < b.deliveryTag:
			return -1
		case a.deliveryTag > b.deliveryTag:
			return 1
		}
		return 0
	})
}
