package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/glimte/mmate-broker/health"
	"github.com/glimte/mmate-broker/monitor"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flags default to the values already
// in cfg, so flags override the environment.
func newRootCmd(cfg *Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mmate-demo",
		Short: "Run messaging pattern demos against an in-process broker",
		Long: `mmate-demo runs the classic messaging patterns (work queues, publish/subscribe,
routing, topics, RPC and JSON payloads) against an in-process mmate broker.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Validate()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text or json)")
	rootCmd.PersistentFlags().DurationVar(&cfg.RPCTimeout, "rpc-timeout", cfg.RPCTimeout, "Timeout for each RPC call")
	rootCmd.PersistentFlags().StringVarP(&cfg.TopologyFile, "topology", "t", cfg.TopologyFile, "Topology file (json, yaml or toml) applied before the demo")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Metrics, "metrics", "m", cfg.Metrics, "Print queues and metrics after the demo")

	// Simple command
	var message string
	simpleCmd := &cobra.Command{
		Use:   "simple",
		Short: "Send and receive one message through a named queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, func(ctx context.Context, d *demo) error {
				return d.simple(ctx, message)
			})
		},
	}
	simpleCmd.Flags().StringVar(&message, "message", "Hello World!", "Message to send")

	// Work command
	var (
		workers int
		tasks   int
		unit    time.Duration
	)
	workCmd := &cobra.Command{
		Use:   "work",
		Short: "Distribute tasks fairly over competing workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, func(ctx context.Context, d *demo) error {
				return d.work(ctx, workers, tasks, unit)
			})
		},
	}
	workCmd.Flags().IntVar(&workers, "workers", 3, "Number of workers")
	workCmd.Flags().IntVar(&tasks, "tasks", 10, "Number of tasks to send")
	workCmd.Flags().DurationVar(&unit, "unit", 100*time.Millisecond, "Work time per dot in a task")

	// Fanout command
	var subscribers int
	fanoutCmd := &cobra.Command{
		Use:   "fanout [log lines...]",
		Short: "Broadcast log lines to every subscriber",
		RunE: func(cmd *cobra.Command, args []string) error {
			lines := args
			if len(lines) == 0 {
				lines = []string{"info: user signed in", "warning: cache almost full", "error: order 1001 failed"}
			}
			return run(cmd, cfg, func(ctx context.Context, d *demo) error {
				return d.fanout(ctx, subscribers, lines)
			})
		},
	}
	fanoutCmd.Flags().IntVar(&subscribers, "subscribers", 3, "Number of subscribers")

	directCmd := &cobra.Command{
		Use:   "direct",
		Short: "Route log lines by exact severity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, func(ctx context.Context, d *demo) error {
				return d.direct(ctx)
			})
		},
	}

	topicCmd := &cobra.Command{
		Use:   "topic",
		Short: "Route log lines by wildcard topic patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, func(ctx context.Context, d *demo) error {
				return d.topic(ctx)
			})
		},
	}

	rpcCmd := &cobra.Command{
		Use:   "rpc [n...]",
		Short: "Call a Fibonacci RPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := args
			if len(inputs) == 0 {
				inputs = []string{"10", "30", "-1"}
			}
			return run(cmd, cfg, func(ctx context.Context, d *demo) error {
				return d.fibonacciRPC(ctx, inputs)
			})
		},
	}

	// JSON command
	var orderCount int
	jsonCmd := &cobra.Command{
		Use:   "json",
		Short: "Publish and consume JSON order messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, func(ctx context.Context, d *demo) error {
				return d.orders(ctx, orderCount)
			})
		},
	}
	jsonCmd.Flags().IntVar(&orderCount, "orders", 5, "Number of orders to send")

	rootCmd.AddCommand(simpleCmd, workCmd, fanoutCmd, directCmd, topicCmd, rpcCmd, jsonCmd)
	return rootCmd
}

// run executes fn against a fresh broker and prints the report if asked
func run(cmd *cobra.Command, cfg *Config, fn func(ctx context.Context, d *demo) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	d, err := newDemo(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer d.Close()

	if err := fn(ctx, d); err != nil {
		return err
	}

	if cfg.Metrics {
		d.report(ctx)
	}
	return nil
}

func (d *demo) report(ctx context.Context) {
	inspector := monitor.NewQueueInspector(d.broker)
	registry := health.NewRegistry()
	registry.Register(health.NewBrokerChecker(d.broker))
	registry.Register(health.NewGoroutineChecker(500, 1000))

	d.out.Printf("\n%-40s %-10s %-10s %-10s %-10s\n", "Queue", "Messages", "Unacked", "Consumers", "Health")
	d.out.Printf("%s\n", strings.Repeat("-", 84))
	for _, q := range inspector.ListQueues() {
		status := "unknown"
		if qh, err := inspector.GetServiceQueueHealth(q.Name); err == nil {
			status = string(qh.Status)
		}
		d.out.Printf("%-40s %-10d %-10d %-10d %-10s\n", truncate(q.Name, 40), q.Messages, q.Unacked, q.Consumers, status)
		registry.Register(health.NewQueueChecker(q.Name, d.broker, 1000))
	}

	summary := d.metrics.GetMetricsSummary()

	exchanges := make([]string, 0, len(summary.Publishes))
	for name := range summary.Publishes {
		exchanges = append(exchanges, name)
	}
	sort.Strings(exchanges)

	d.out.Printf("\n%-40s %-10s %-10s %-10s\n", "Exchange", "Published", "Routed", "Unroutable")
	d.out.Printf("%s\n", strings.Repeat("-", 74))
	for _, name := range exchanges {
		stats := summary.Publishes[name]
		d.out.Printf("%-40s %-10d %-10d %-10d\n", truncate(displayExchange(name), 40), stats.Published, stats.Routed, stats.Unroutable)
	}

	for queueName, stats := range summary.ProcessingStats {
		d.out.Printf("\nQueue %s: %d handled, avg %dms\n", queueName, stats.Count, stats.AvgMs)
		for errType, count := range summary.ErrorCounts[queueName] {
			d.out.Printf("  %s: %d\n", errType, count)
		}
	}

	overall := registry.Check(ctx)
	checks := make([]string, 0, len(overall.Checks))
	for name := range overall.Checks {
		checks = append(checks, name)
	}
	sort.Strings(checks)

	d.out.Printf("\nHealth: %s\n", overall.Status)
	for _, name := range checks {
		result := overall.Checks[name]
		d.out.Printf("  %-38s %-10s %s\n", truncate(name, 38), result.Status, result.Message)
	}
}

func displayExchange(name string) string {
	if name == "" {
		return "(default)"
	}
	return name
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
