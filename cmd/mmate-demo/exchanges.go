package main

import (
	"context"
	"fmt"

	"github.com/glimte/mmate-broker/contracts"
	"github.com/glimte/mmate-broker/queue"
	"github.com/glimte/mmate-broker/routing"
)

type subscriber struct {
	name     string
	patterns []string
}

type logLine struct {
	key  string
	text string
}

type arrival struct {
	subscriber string
	key        string
	text       string
}

// fanout broadcasts every log line to every subscriber
func (d *demo) fanout(ctx context.Context, subscribers int, lines []string) error {
	subs := make([]subscriber, subscribers)
	for i := range subs {
		subs[i] = subscriber{name: fmt.Sprintf("subscriber-%d", i+1), patterns: []string{""}}
	}

	msgs := make([]logLine, len(lines))
	for i, text := range lines {
		msgs[i] = logLine{text: text}
	}

	return d.route(ctx, "logs", routing.ExchangeFanout, subs, msgs, func(string, string) bool { return true })
}

// direct routes log lines by exact severity
func (d *demo) direct(ctx context.Context) error {
	subs := []subscriber{
		{name: "error-log", patterns: []string{"error"}},
		{name: "console", patterns: []string{"info", "warning", "error"}},
	}
	msgs := []logLine{
		{key: "info", text: "service started"},
		{key: "warning", text: "disk usage at 85%"},
		{key: "error", text: "payment gateway unreachable"},
		{key: "debug", text: "cache miss for user 42"},
	}

	return d.route(ctx, "direct_logs", routing.ExchangeDirect, subs, msgs, func(pattern, key string) bool {
		return pattern == key
	})
}

// topic routes log lines by facility.severity wildcards
func (d *demo) topic(ctx context.Context) error {
	subs := []subscriber{
		{name: "kernel", patterns: []string{"kern.*"}},
		{name: "critical", patterns: []string{"*.critical"}},
		{name: "everything", patterns: []string{"#"}},
	}
	msgs := []logLine{
		{key: "kern.critical", text: "kernel panic"},
		{key: "kern.info", text: "module loaded"},
		{key: "auth.critical", text: "root login from unknown host"},
		{key: "cron.warning", text: "job overran its slot"},
		{key: "app.db.slow", text: "query took 2s"},
	}

	return d.route(ctx, "topic_logs", routing.ExchangeTopic, subs, msgs, routing.MatchTopic)
}

// route declares exchange, gives every subscriber a server-named queue bound
// with its patterns and publishes msgs. It returns once every subscriber got
// the messages matches says it should.
func (d *demo) route(ctx context.Context, exchange string, kind routing.ExchangeType, subs []subscriber, msgs []logLine, matches func(pattern, key string) bool) error {
	if err := d.broker.DeclareExchange(ctx, exchange, kind); err != nil {
		return err
	}

	expected := 0
	for _, sub := range subs {
		for _, msg := range msgs {
			for _, pattern := range sub.patterns {
				if matches(pattern, msg.key) {
					expected++
					break
				}
			}
		}
	}

	arrivals := make(chan arrival, expected)
	for _, sub := range subs {
		name, err := d.broker.DeclareQueue(ctx, "", queue.Options{Exclusive: true, AutoDelete: true})
		if err != nil {
			return err
		}
		for _, pattern := range sub.patterns {
			if err := d.broker.Bind(ctx, name, exchange, pattern); err != nil {
				return err
			}
		}

		sub := sub
		tag, err := d.broker.Consume(ctx, name, sub.name, func(del queue.Delivery) {
			arrivals <- arrival{subscriber: sub.name, key: del.Message.RoutingKey(), text: string(del.Message.Body())}
		}, queue.WithAutoAck(true))
		if err != nil {
			return err
		}
		defer func() { _ = d.broker.Cancel(tag) }()

		d.out.Printf(" [%s] Waiting on %s bound to %s with %q\n", sub.name, name, exchange, sub.patterns)
	}

	for _, msg := range msgs {
		props := contracts.Properties{ContentType: contracts.ContentTypeText}
		if err := d.broker.Publish(ctx, exchange, msg.key, []byte(msg.text), props); err != nil {
			return err
		}
		d.out.Printf(" [x] Sent %s:%q\n", describeKey(msg.key), msg.text)
	}

	got, err := collect(ctx, arrivals, expected)
	if err != nil {
		return err
	}

	counts := make(map[string]int)
	for _, a := range got {
		counts[a.subscriber]++
		d.out.Printf(" [%s] %s:%q\n", a.subscriber, describeKey(a.key), a.text)
	}
	for _, sub := range subs {
		d.out.Printf(" %s received %d messages\n", sub.name, counts[sub.name])
	}
	return nil
}

func describeKey(key string) string {
	if key == "" {
		return "(no key)"
	}
	return key
}
