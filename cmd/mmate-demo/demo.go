package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	mmate "github.com/glimte/mmate-broker"
	"github.com/glimte/mmate-broker/monitor"
	"github.com/glimte/mmate-broker/topology"
)

// demo is one broker plus what the demos print to
type demo struct {
	broker     *mmate.Broker
	logger     *slog.Logger
	metrics    *monitor.SimpleMetricsCollector
	rpcTimeout time.Duration
	out        *console
}

func newDemo(ctx context.Context, cfg *Config, out, logOut io.Writer) (*demo, error) {
	logger, err := cfg.Logger(logOut)
	if err != nil {
		return nil, err
	}

	metrics := monitor.NewSimpleMetricsCollector()
	broker := mmate.New(
		mmate.WithLogger(logger),
		mmate.WithPublishRecorder(metrics),
		mmate.WithRPCTimeout(cfg.RPCTimeout),
	)

	if cfg.TopologyFile != "" {
		if err := applyTopology(ctx, broker, logger, cfg.TopologyFile); err != nil {
			_ = broker.Close()
			return nil, err
		}
	}

	return &demo{
		broker:     broker,
		logger:     logger,
		metrics:    metrics,
		rpcTimeout: cfg.RPCTimeout,
		out:        &console{w: out},
	}, nil
}

func applyTopology(ctx context.Context, broker *mmate.Broker, logger *slog.Logger, path string) error {
	top, err := topology.LoadFile(path)
	if err != nil {
		return err
	}
	if err := top.Validate(); err != nil {
		return err
	}
	if err := topology.NewTopologer(broker, topology.WithLogger(logger)).BuildTopology(ctx, top, false); err != nil {
		return fmt.Errorf("failed to apply topology %s: %w", path, err)
	}

	logger.Info("topology applied",
		"file", path,
		"exchanges", len(top.Exchanges),
		"queues", len(top.Queues),
		"bindings", len(top.QueueBindings),
	)
	return nil
}

func (d *demo) Close() error {
	return d.broker.Close()
}

// drain waits until queueName has nothing pending or unacknowledged
func (d *demo) drain(ctx context.Context, queueName string) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		stats, err := d.broker.QueueStats(queueName)
		if err != nil {
			return err
		}
		if stats.Messages == 0 && stats.Unacked == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("queue %s not drained: %w", queueName, ctx.Err())
		case <-ticker.C:
		}
	}
}

// collect receives n values from ch
func collect[T any](ctx context.Context, ch <-chan T, n int) ([]T, error) {
	got := make([]T, 0, n)
	for len(got) < n {
		select {
		case v := <-ch:
			got = append(got, v)
		case <-ctx.Done():
			return got, fmt.Errorf("received %d of %d messages: %w", len(got), n, ctx.Err())
		}
	}
	return got, nil
}

// console serializes output from concurrent consumers
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) Printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}
