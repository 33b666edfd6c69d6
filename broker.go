// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mmate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/mmate-broker/contracts"
	"github.com/glimte/mmate-broker/queue"
	"github.com/glimte/mmate-broker/routing"
	"github.com/glimte/mmate-broker/rpc"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// ExchangeInfo describes a declared exchange and its bindings
type ExchangeInfo struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Durable    bool              `json:"durable"`
	AutoDelete bool              `json:"autoDelete"`
	Bindings   []routing.Binding `json:"bindings"`
}

// Broker is an in-process message broker: exchanges route published
// messages to queues, queues dispatch them to consumers.
type Broker struct {
	logger     *slog.Logger
	recorder   PublishRecorder
	rpcTimeout time.Duration
	router     *routing.Router

	queues    cmap.ConcurrentMap[string, *queue.Queue]
	consumers cmap.ConcurrentMap[string, *queue.Queue]

	// serializes topology changes; publish and consume never take it
	mu sync.Mutex

	rpcMu     sync.Mutex
	rpcClient *rpc.Client

	closed atomic.Bool
}

// New creates an empty broker with the predeclared exchanges
func New(options ...BrokerOption) *Broker {
	cfg := &brokerConfig{
		logger:     slog.Default(),
		rpcTimeout: 30 * time.Second,
	}

	for _, opt := range options {
		opt(cfg)
	}

	b := &Broker{
		logger:     cfg.logger,
		recorder:   cfg.recorder,
		rpcTimeout: cfg.rpcTimeout,
		queues:     cmap.New[*queue.Queue](),
		consumers:  cmap.New[*queue.Queue](),
	}
	b.router = routing.NewRouter(b.queues.Has)

	return b
}

// DeclareExchange declares an exchange. Re-declaring with the same kind is a
// no-op; a different kind fails with routing.ErrTypeMismatch.
func (b *Broker) DeclareExchange(ctx context.Context, name string, kind routing.ExchangeType, options ...ExchangeOption) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	var opts routing.ExchangeOptions
	for _, opt := range options {
		opt(&opts)
	}

	_, created, err := b.router.Declare(name, kind, opts)
	if err != nil {
		return err
	}

	if created {
		b.logger.Debug("exchange declared", "exchange", name, "type", kind.String(), "durable", opts.Durable)
	}
	return nil
}

// DeleteExchange removes an exchange and its bindings
func (b *Broker) DeleteExchange(ctx context.Context, name string, ifUnused bool) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.router.Delete(name, ifUnused); err != nil {
		return err
	}

	b.logger.Debug("exchange deleted", "exchange", name)
	return nil
}

// Exchanges lists declared exchanges sorted by name
func (b *Broker) Exchanges() []ExchangeInfo {
	exchanges := b.router.Exchanges()
	out := make([]ExchangeInfo, 0, len(exchanges))

	for _, ex := range exchanges {
		out = append(out, ExchangeInfo{
			Name:       ex.Name(),
			Type:       ex.Type().String(),
			Durable:    ex.Options().Durable,
			AutoDelete: ex.Options().AutoDelete,
			Bindings:   ex.Bindings().Bindings(),
		})
	}
	return out
}

// DeclareQueue declares a queue and returns its name. An empty name creates
// a queue with a generated amq.gen- name. Re-declaring an existing queue
// with different flags fails with ErrQueuePreconditionFailed.
func (b *Broker) DeclareQueue(ctx context.Context, name string, options queue.Options) (string, error) {
	if err := b.check(ctx); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if name == "" {
		name = "amq.gen-" + uuid.NewString()
	}

	if existing, ok := b.queues.Get(name); ok {
		if !existing.Options().Equivalent(options) {
			return "", &QueueError{
				Queue: name,
				Op:    "declare",
				Err:   fmt.Errorf("%w: flags differ from existing declaration", ErrQueuePreconditionFailed),
			}
		}
		return name, nil
	}

	q := queue.New(name, options, queue.WithLogger(b.logger), queue.WithUnusedHook(b.queueUnused))
	b.queues.Set(name, q)

	b.logger.Debug("queue declared",
		"queue", name,
		"durable", options.Durable,
		"exclusive", options.Exclusive,
		"autoDelete", options.AutoDelete,
	)
	return name, nil
}

// DeleteQueue removes a queue, its bindings and its consumers, returning the
// number of pending messages dropped
func (b *Broker) DeleteQueue(ctx context.Context, name string) (int, error) {
	if err := b.check(ctx); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues.Get(name)
	if !ok {
		return 0, &QueueError{Queue: name, Op: "delete", Err: queue.ErrQueueNotFound}
	}

	return b.deleteQueueLocked(q), nil
}

// PurgeQueue drops the pending messages of a queue
func (b *Broker) PurgeQueue(ctx context.Context, name string) (int, error) {
	if err := b.check(ctx); err != nil {
		return 0, err
	}

	q, err := b.lookupQueue(name, "purge")
	if err != nil {
		return 0, err
	}
	return q.Purge(), nil
}

// QueueStats returns a point-in-time view of a queue
func (b *Broker) QueueStats(name string) (queue.Stats, error) {
	q, err := b.lookupQueue(name, "stats")
	if err != nil {
		return queue.Stats{}, err
	}
	return q.Stats(), nil
}

// Queues returns stats for every queue sorted by name
func (b *Broker) Queues() []queue.Stats {
	stats := make([]queue.Stats, 0, b.queues.Count())
	for item := range b.queues.IterBuffered() {
		stats = append(stats, item.Val.Stats())
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Bind routes messages from exchange matching pattern to queueName
func (b *Broker) Bind(ctx context.Context, queueName, exchange, pattern string) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.queues.Has(queueName) {
		return &QueueError{Queue: queueName, Op: "bind", Err: queue.ErrQueueNotFound}
	}

	added, err := b.router.Bind(exchange, queueName, pattern)
	if err != nil {
		return err
	}

	if added {
		b.logger.Debug("queue bound", "queue", queueName, "exchange", exchange, "pattern", pattern)
	}
	return nil
}

// Unbind removes a binding. Removing a binding that does not exist is a no-op.
func (b *Broker) Unbind(ctx context.Context, queueName, exchange, pattern string) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.queues.Has(queueName) {
		return &QueueError{Queue: queueName, Op: "unbind", Err: queue.ErrQueueNotFound}
	}

	removed, err := b.router.Unbind(exchange, queueName, pattern)
	if err != nil {
		return err
	}

	if removed {
		b.logger.Debug("queue unbound", "queue", queueName, "exchange", exchange, "pattern", pattern)
	}
	return nil
}

// Publish routes a message through exchange and enqueues it on every
// matching queue. It returns once the message is enqueued; delivery happens
// asynchronously. Messages that match no queue are dropped.
func (b *Broker) Publish(ctx context.Context, exchange, routingKey string, body []byte, props contracts.Properties) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	destinations, err := b.router.Route(exchange, routingKey)
	if err != nil {
		return fmt.Errorf("failed to publish to exchange %q: %w", exchange, err)
	}

	msg := contracts.NewMessage(exchange, routingKey, body, props)

	routed := 0
	destinations.Each(func(name string) bool {
		if q, ok := b.queues.Get(name); ok && q.Enqueue(msg) {
			routed++
		}
		return false
	})

	if routed == 0 {
		b.logger.Debug("message unroutable",
			"exchange", exchange,
			"routingKey", routingKey,
			"messageId", msg.ID(),
		)
	}

	if b.recorder != nil {
		b.recorder.RecordPublish(exchange, routed)
	}
	return nil
}

// Consume attaches handler to a queue and returns the consumer tag. An empty
// consumerID generates a ctag- tag.
func (b *Broker) Consume(ctx context.Context, queueName, consumerID string, handler queue.DeliveryHandler, options ...queue.ConsumerOption) (string, error) {
	if err := b.check(ctx); err != nil {
		return "", err
	}

	q, err := b.lookupQueue(queueName, "consume")
	if err != nil {
		return "", err
	}

	if consumerID == "" {
		consumerID = "ctag-" + uuid.NewString()
	}

	if !b.consumers.SetIfAbsent(consumerID, q) {
		return "", &queue.ConsumerError{Queue: queueName, ConsumerTag: consumerID, Op: "consume", Err: queue.ErrConsumerExists}
	}

	opts := append([]queue.ConsumerOption{queue.WithConsumerLogger(b.logger)}, options...)
	if err := q.Attach(queue.NewConsumer(consumerID, handler, opts...)); err != nil {
		b.consumers.Remove(consumerID)
		return "", err
	}

	return consumerID, nil
}

// Cancel detaches a consumer; its unacknowledged messages are requeued
func (b *Broker) Cancel(consumerID string) error {
	q, ok := b.consumers.Pop(consumerID)
	if !ok {
		return &queue.ConsumerError{ConsumerTag: consumerID, Op: "cancel", Err: queue.ErrConsumerNotFound}
	}
	return q.Detach(consumerID)
}

// Ack acknowledges the consumer's oldest unacknowledged delivery of messageID
func (b *Broker) Ack(consumerID, messageID string) error {
	q, err := b.consumerQueue(consumerID, "ack")
	if err != nil {
		return err
	}
	return q.AckMessage(consumerID, messageID)
}

// Nack rejects the consumer's oldest unacknowledged delivery of messageID
func (b *Broker) Nack(consumerID, messageID string, requeue bool) error {
	q, err := b.consumerQueue(consumerID, "nack")
	if err != nil {
		return err
	}
	return q.NackMessage(consumerID, messageID, requeue)
}

// AckDelivery acknowledges by delivery tag. With multiple set every earlier
// delivery to the consumer is acknowledged too.
func (b *Broker) AckDelivery(consumerID string, deliveryTag uint64, multiple bool) error {
	q, err := b.consumerQueue(consumerID, "ack")
	if err != nil {
		return err
	}
	return q.Ack(consumerID, deliveryTag, multiple)
}

// NackDelivery rejects by delivery tag, requeueing when requeue is set
func (b *Broker) NackDelivery(consumerID string, deliveryTag uint64, multiple, requeue bool) error {
	q, err := b.consumerQueue(consumerID, "nack")
	if err != nil {
		return err
	}
	return q.Nack(consumerID, deliveryTag, multiple, requeue)
}

// RPCCall sends body to requestQueue and waits for the correlated reply. The
// broker's RPC client and its reply queue are created on first use.
func (b *Broker) RPCCall(ctx context.Context, requestQueue string, body []byte, timeout time.Duration) (*contracts.Message, error) {
	client, err := b.rpc(ctx)
	if err != nil {
		return nil, err
	}
	return client.Call(ctx, requestQueue, body, timeout)
}

// RPCClient returns the broker's shared RPC client
func (b *Broker) RPCClient(ctx context.Context) (*rpc.Client, error) {
	return b.rpc(ctx)
}

// Close closes the RPC client and cancels every consumer
func (b *Broker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	var errs []error

	b.rpcMu.Lock()
	if b.rpcClient != nil {
		if err := b.rpcClient.Close(); err != nil {
			errs = append(errs, err)
		}
		b.rpcClient = nil
	}
	b.rpcMu.Unlock()

	for _, tag := range b.consumers.Keys() {
		if q, ok := b.consumers.Pop(tag); ok {
			if err := q.Detach(tag); err != nil {
				errs = append(errs, err)
			}
		}
	}

	b.logger.Debug("broker closed")
	return errors.Join(errs...)
}

func (b *Broker) rpc(ctx context.Context) (*rpc.Client, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	b.rpcMu.Lock()
	defer b.rpcMu.Unlock()

	if b.rpcClient != nil {
		return b.rpcClient, nil
	}

	client, err := rpc.NewClient(ctx, b, rpc.WithClientLogger(b.logger), rpc.WithDefaultTimeout(b.rpcTimeout))
	if err != nil {
		return nil, err
	}

	b.rpcClient = client
	return client, nil
}

func (b *Broker) check(ctx context.Context) error {
	if b.closed.Load() {
		return ErrBrokerClosed
	}
	return ctx.Err()
}

func (b *Broker) lookupQueue(name, op string) (*queue.Queue, error) {
	q, ok := b.queues.Get(name)
	if !ok {
		return nil, &QueueError{Queue: name, Op: op, Err: queue.ErrQueueNotFound}
	}
	return q, nil
}

func (b *Broker) consumerQueue(consumerID, op string) (*queue.Queue, error) {
	q, ok := b.consumers.Get(consumerID)
	if !ok {
		return nil, &queue.ConsumerError{ConsumerTag: consumerID, Op: op, Err: queue.ErrConsumerNotFound}
	}
	return q, nil
}

// queueUnused runs when an auto-delete queue loses its last consumer. The
// queue survives if another consumer attached in the meantime.
func (b *Broker) queueUnused(q *queue.Queue) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.queues.Get(q.Name()); !ok || current != q {
		return
	}

	dropped, ok := q.DeleteIfUnused()
	if !ok {
		b.logger.Debug("auto-delete skipped", "queue", q.Name(), "consumers", q.ConsumerCount())
		return
	}

	b.unregisterQueueLocked(q)
	b.logger.Debug("auto-deleted queue", "queue", q.Name(), "dropped", dropped)
}

func (b *Broker) deleteQueueLocked(q *queue.Queue) int {
	b.unregisterQueueLocked(q)
	dropped := q.Delete()

	b.logger.Debug("queue deleted", "queue", q.Name(), "dropped", dropped)
	return dropped
}

func (b *Broker) unregisterQueueLocked(q *queue.Queue) {
	b.queues.Remove(q.Name())
	b.router.RemoveQueue(q.Name())

	for item := range b.consumers.IterBuffered() {
		if item.Val == q {
			b.consumers.RemoveCb(item.Key, func(key string, v *queue.Queue, exists bool) bool {
				return exists && v == q
			})
		}
	}
}
