package mmate

import (
	"log/slog"
	"time"

	"github.com/glimte/mmate-broker/routing"
)

// PublishRecorder observes every publish and how many queues it reached
type PublishRecorder interface {
	RecordPublish(exchange string, routed int)
}

type brokerConfig struct {
	logger     *slog.Logger
	recorder   PublishRecorder
	rpcTimeout time.Duration
}

// BrokerOption configures the broker
type BrokerOption func(*brokerConfig)

// WithLogger sets the logger for the broker and everything it creates
func WithLogger(logger *slog.Logger) BrokerOption {
	return func(cfg *brokerConfig) {
		cfg.logger = logger
	}
}

// WithDefaultLogger uses the default logger
func WithDefaultLogger() BrokerOption {
	return func(cfg *brokerConfig) {
		cfg.logger = slog.Default()
	}
}

// WithPublishRecorder reports publishes to recorder
func WithPublishRecorder(recorder PublishRecorder) BrokerOption {
	return func(cfg *brokerConfig) {
		cfg.recorder = recorder
	}
}

// WithRPCTimeout sets the timeout RPCCall uses when given none
func WithRPCTimeout(timeout time.Duration) BrokerOption {
	return func(cfg *brokerConfig) {
		cfg.rpcTimeout = timeout
	}
}

// ExchangeOption configures an exchange declaration
type ExchangeOption func(*routing.ExchangeOptions)

// WithDurable marks the exchange durable
func WithDurable(durable bool) ExchangeOption {
	return func(o *routing.ExchangeOptions) {
		o.Durable = durable
	}
}

// WithAutoDelete marks the exchange auto-delete
func WithAutoDelete(autoDelete bool) ExchangeOption {
	return func(o *routing.ExchangeOptions) {
		o.AutoDelete = autoDelete
	}
}
