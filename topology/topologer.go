package topology

import (
	"context"
	"log/slog"

	mmate "github.com/glimte/mmate-broker"
	"github.com/glimte/mmate-broker/queue"
	"github.com/glimte/mmate-broker/routing"
)

// Declarer is the part of a broker a Topologer drives
type Declarer interface {
	DeclareExchange(ctx context.Context, name string, kind routing.ExchangeType, options ...mmate.ExchangeOption) error
	DeclareQueue(ctx context.Context, name string, options queue.Options) (string, error)
	Bind(ctx context.Context, queueName, exchange, pattern string) error
}

// Topologer declares a Config against a broker
type Topologer struct {
	declarer Declarer
	logger   *slog.Logger
}

// Option configures a Topologer
type Option func(*Topologer)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Topologer) {
		t.logger = logger
	}
}

// NewTopologer creates a Topologer over declarer
func NewTopologer(declarer Declarer, options ...Option) *Topologer {
	t := &Topologer{
		declarer: declarer,
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// BuildTopology declares exchanges, then queues, then bindings. It stops on
// the first error unless ignoreErrors is set, in which case failures are
// logged and skipped.
func (t *Topologer) BuildTopology(ctx context.Context, cfg *Config, ignoreErrors bool) error {
	if err := t.BuildExchanges(ctx, cfg.Exchanges, ignoreErrors); err != nil {
		return err
	}

	if err := t.BuildQueues(ctx, cfg.Queues, ignoreErrors); err != nil {
		return err
	}

	return t.BindQueues(ctx, cfg.QueueBindings, ignoreErrors)
}

// BuildExchanges declares each exchange
func (t *Topologer) BuildExchanges(ctx context.Context, exchanges []*Exchange, ignoreErrors bool) error {
	for _, exchange := range exchanges {
		if err := t.CreateExchange(ctx, exchange); err != nil {
			if !ignoreErrors {
				return err
			}
			t.logger.Warn("skipping exchange", "exchange", exchange.Name, "error", err)
		}
	}
	return nil
}

// BuildQueues declares each queue
func (t *Topologer) BuildQueues(ctx context.Context, queues []*Queue, ignoreErrors bool) error {
	for _, q := range queues {
		if err := t.CreateQueue(ctx, q); err != nil {
			if !ignoreErrors {
				return err
			}
			t.logger.Warn("skipping queue", "queue", q.Name, "error", err)
		}
	}
	return nil
}

// BindQueues binds each queue to its exchange
func (t *Topologer) BindQueues(ctx context.Context, bindings []*QueueBinding, ignoreErrors bool) error {
	for _, b := range bindings {
		if err := t.declarer.Bind(ctx, b.QueueName, b.ExchangeName, b.RoutingKey); err != nil {
			if !ignoreErrors {
				return err
			}
			t.logger.Warn("skipping binding",
				"queue", b.QueueName,
				"exchange", b.ExchangeName,
				"routingKey", b.RoutingKey,
				"error", err,
			)
		}
	}
	return nil
}

// CreateExchange declares one exchange from its config
func (t *Topologer) CreateExchange(ctx context.Context, exchange *Exchange) error {
	kind, err := routing.ParseExchangeType(exchange.Type)
	if err != nil {
		return err
	}

	return t.declarer.DeclareExchange(ctx, exchange.Name, kind,
		mmate.WithDurable(exchange.Durable),
		mmate.WithAutoDelete(exchange.AutoDelete),
	)
}

// CreateQueue declares one queue from its config
func (t *Topologer) CreateQueue(ctx context.Context, q *Queue) error {
	_, err := t.declarer.DeclareQueue(ctx, q.Name, queue.Options{
		Durable:    q.Durable,
		AutoDelete: q.AutoDelete,
		Exclusive:  q.Exclusive,
	})
	return err
}

var _ Declarer = (*mmate.Broker)(nil)
