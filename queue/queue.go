package queue

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gammazero/deque"
	"github.com/glimte/mmate-broker/contracts"
)

// Options are the declaration flags of a queue
type Options struct {
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	Args       map[string]interface{}
}

// Equivalent reports whether a re-declaration with other is compatible
func (o Options) Equivalent(other Options) bool {
	return o.Durable == other.Durable &&
		o.Exclusive == other.Exclusive &&
		o.AutoDelete == other.AutoDelete
}

// Option configures a Queue
type Option func(*Queue)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithUnusedHook registers a callback invoked (outside the queue lock) when
// an auto-delete queue loses its last consumer
func WithUnusedHook(hook func(q *Queue)) Option {
	return func(q *Queue) {
		q.onUnused = hook
	}
}

type entry struct {
	msg         *contracts.Message
	redelivered bool
	panicked    bool
	deliveryTag uint64
}

// Queue is a FIFO of pending messages with attached consumers. All state is
// guarded by one mutex; handler callbacks never run under it.
type Queue struct {
	name     string
	options  Options
	logger   *slog.Logger
	onUnused func(q *Queue)

	mu          sync.Mutex
	pending     deque.Deque[*entry]
	consumers   []*Consumer
	byTag       map[string]*Consumer
	cursor      int
	nextTag     uint64
	hadConsumer bool
	deleted     bool
}

// New creates an empty queue
func New(name string, options Options, opts ...Option) *Queue {
	q := &Queue{
		name:    name,
		options: options,
		logger:  slog.Default(),
		byTag:   make(map[string]*Consumer),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// Options returns the declaration flags
func (q *Queue) Options() Options {
	return q.options
}

// Enqueue appends a message and dispatches what it can. It returns false if
// the queue was deleted.
func (q *Queue) Enqueue(msg *contracts.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.deleted {
		return false
	}

	q.pending.PushBack(&entry{msg: msg})
	q.tickLocked()
	return true
}

// Attach adds a consumer to the round-robin order
func (q *Queue) Attach(c *Consumer) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.deleted {
		return ErrQueueDeleted
	}
	if _, exists := q.byTag[c.tag]; exists || c.attached {
		return &ConsumerError{Queue: q.name, ConsumerTag: c.tag, Op: "attach", Err: ErrConsumerExists}
	}
	if len(q.consumers) > 0 && (c.exclusive || q.hasExclusiveLocked()) {
		return &ConsumerError{Queue: q.name, ConsumerTag: c.tag, Op: "attach", Err: ErrExclusiveConsumer}
	}

	c.start()
	q.consumers = append(q.consumers, c)
	q.byTag[c.tag] = c
	q.hadConsumer = true

	q.logger.Debug("consumer attached",
		"queue", q.name,
		"consumerTag", c.tag,
		"prefetch", c.prefetch,
		"ackMode", c.ackMode.String(),
	)

	q.tickLocked()
	return nil
}

// Detach removes a consumer. Its unacknowledged deliveries go back to the
// head of the queue in their original order, marked redelivered.
func (q *Queue) Detach(tag string) error {
	q.mu.Lock()

	c, ok := q.byTag[tag]
	if !ok {
		q.mu.Unlock()
		return &ConsumerError{Queue: q.name, ConsumerTag: tag, Op: "detach", Err: ErrConsumerNotFound}
	}

	q.removeConsumerLocked(c)
	requeued := q.takeAllLocked(c)
	q.requeueLocked(requeued)
	c.stop()

	unused := q.options.AutoDelete && q.hadConsumer && len(q.consumers) == 0 && !q.deleted
	q.tickLocked()
	hook := q.onUnused
	q.mu.Unlock()

	q.logger.Debug("consumer detached", "queue", q.name, "consumerTag", tag, "requeued", len(requeued))

	if unused && hook != nil {
		hook(q)
	}
	return nil
}

// Ack acknowledges a delivery, or with multiple set every delivery of the
// consumer up to and including deliveryTag
func (q *Queue) Ack(tag string, deliveryTag uint64, multiple bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	c, err := q.consumerLocked(tag, "ack")
	if err != nil {
		return err
	}

	if _, err := q.takeLocked(c, deliveryTag, multiple, "ack"); err != nil {
		return err
	}

	q.tickLocked()
	return nil
}

// Nack rejects a delivery (or every delivery up to deliveryTag with multiple
// set). Rejected messages are requeued at the head when requeue is set and
// dropped otherwise.
func (q *Queue) Nack(tag string, deliveryTag uint64, multiple, requeue bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	c, err := q.consumerLocked(tag, "nack")
	if err != nil {
		return err
	}

	entries, err := q.takeLocked(c, deliveryTag, multiple, "nack")
	if err != nil {
		return err
	}

	if requeue {
		q.requeueLocked(entries)
	}

	q.tickLocked()
	return nil
}

// AckMessage acknowledges the consumer's oldest in-flight delivery of messageID
func (q *Queue) AckMessage(tag, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	c, err := q.consumerLocked(tag, "ack")
	if err != nil {
		return err
	}

	deliveryTag, ok := c.findMessageLocked(messageID)
	if !ok {
		return &ConsumerError{Queue: q.name, ConsumerTag: tag, Op: "ack", Err: fmt.Errorf("%w: message %s", ErrDeliveryNotFound, messageID)}
	}

	delete(c.inflight, deliveryTag)
	q.tickLocked()
	return nil
}

// NackMessage rejects the consumer's oldest in-flight delivery of messageID
func (q *Queue) NackMessage(tag, messageID string, requeue bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	c, err := q.consumerLocked(tag, "nack")
	if err != nil {
		return err
	}

	deliveryTag, ok := c.findMessageLocked(messageID)
	if !ok {
		return &ConsumerError{Queue: q.name, ConsumerTag: tag, Op: "nack", Err: fmt.Errorf("%w: message %s", ErrDeliveryNotFound, messageID)}
	}

	e := c.inflight[deliveryTag]
	delete(c.inflight, deliveryTag)
	if requeue {
		q.requeueLocked([]*entry{e})
	}

	q.tickLocked()
	return nil
}

// Tick runs the dispatcher. Every mutation already does; Tick exists for
// callers that change consumer state from outside the queue.
func (q *Queue) Tick() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tickLocked()
}

// Purge drops every pending message. In-flight deliveries are unaffected.
func (q *Queue) Purge() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.pending.Len()
	q.pending.Clear()
	return n
}

// Delete marks the queue deleted, drops pending and in-flight messages and
// detaches every consumer. It returns the number of pending messages dropped.
func (q *Queue) Delete() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.deleted {
		return 0
	}

	return q.deleteLocked()
}

// DeleteIfUnused deletes the queue only if no consumer is attached. A
// consumer that attaches first keeps the queue alive; one that attaches
// afterwards gets ErrQueueDeleted.
func (q *Queue) DeleteIfUnused() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.deleted || len(q.consumers) > 0 {
		return 0, false
	}
	return q.deleteLocked(), true
}

func (q *Queue) deleteLocked() int {
	q.deleted = true
	n := q.pending.Len()
	q.pending.Clear()

	for _, c := range q.consumers {
		clear(c.inflight)
		c.stop()
	}
	q.consumers = nil
	clear(q.byTag)
	q.cursor = 0

	return n
}

// Deleted reports whether Delete was called
func (q *Queue) Deleted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deleted
}

// ConsumerCount returns the number of attached consumers
func (q *Queue) ConsumerCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.consumers)
}

// Len returns the number of pending messages
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

func (q *Queue) hasExclusiveLocked() bool {
	for _, c := range q.consumers {
		if c.exclusive {
			return true
		}
	}
	return false
}

func (q *Queue) consumerLocked(tag, op string) (*Consumer, error) {
	c, ok := q.byTag[tag]
	if !ok {
		return nil, &ConsumerError{Queue: q.name, ConsumerTag: tag, Op: op, Err: ErrConsumerNotFound}
	}
	return c, nil
}

func (q *Queue) removeConsumerLocked(c *Consumer) {
	delete(q.byTag, c.tag)

	for i, existing := range q.consumers {
		if existing != c {
			continue
		}
		q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
		if i < q.cursor {
			q.cursor--
		}
		break
	}

	if q.cursor >= len(q.consumers) {
		q.cursor = 0
	}
}
