package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/glimte/mmate-broker/contracts"
	"github.com/glimte/mmate-broker/queue"
)

// simple sends one text message through the default exchange and prints it
// on arrival
func (d *demo) simple(ctx context.Context, text string) error {
	const queueName = "hello"

	if _, err := d.broker.DeclareQueue(ctx, queueName, queue.Options{}); err != nil {
		return err
	}

	received := make(chan string, 1)
	tag, err := d.broker.Consume(ctx, queueName, "", func(del queue.Delivery) {
		received <- string(del.Message.Body())
	}, queue.WithAutoAck(true))
	if err != nil {
		return err
	}
	defer func() { _ = d.broker.Cancel(tag) }()

	if err := d.broker.Publish(ctx, "", queueName, []byte(text), contracts.Properties{ContentType: contracts.ContentTypeText}); err != nil {
		return err
	}
	d.out.Printf(" [x] Sent %q\n", text)

	got, err := collect(ctx, received, 1)
	if err != nil {
		return err
	}
	d.out.Printf(" [x] Received %q\n", got[0])
	return nil
}

// work spreads tasks over workers with prefetch 1. Every dot in a task body
// costs one unit of work before the worker acks.
func (d *demo) work(ctx context.Context, workers, tasks int, unit time.Duration) error {
	const queueName = "task_queue"

	if workers < 1 || tasks < 0 {
		return fmt.Errorf("need at least one worker and a non-negative task count")
	}
	if _, err := d.broker.DeclareQueue(ctx, queueName, queue.Options{Durable: true}); err != nil {
		return err
	}

	done := make(chan string, tasks)
	for i := 1; i <= workers; i++ {
		name := fmt.Sprintf("worker-%d", i)
		tag, err := d.broker.Consume(ctx, queueName, name, func(del queue.Delivery) {
			body := string(del.Message.Body())
			d.out.Printf(" [%s] Received %q\n", name, body)

			select {
			case <-time.After(time.Duration(strings.Count(body, ".")) * unit):
			case <-ctx.Done():
				_ = del.Nack(true)
				return
			}

			if err := del.Ack(); err != nil {
				d.logger.Warn("failed to ack task", "consumerTag", name, "error", err)
				return
			}
			done <- name
		}, queue.WithPrefetchCount(1))
		if err != nil {
			return err
		}
		defer func() { _ = d.broker.Cancel(tag) }()
	}

	for i := 1; i <= tasks; i++ {
		body := fmt.Sprintf("Task %d%s", i, strings.Repeat(".", i%5+1))
		props := contracts.Properties{ContentType: contracts.ContentTypeText, Persistent: true}
		if err := d.broker.Publish(ctx, "", queueName, []byte(body), props); err != nil {
			return err
		}
		d.out.Printf(" [x] Sent %q\n", body)
	}

	finished, err := collect(ctx, done, tasks)
	if err != nil {
		return err
	}

	perWorker := make(map[string]int)
	for _, name := range finished {
		perWorker[name]++
	}
	names := make([]string, 0, len(perWorker))
	for name := range perWorker {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d.out.Printf(" %s completed %d tasks\n", name, perWorker[name])
	}
	d.out.Printf(" All %d tasks complete\n", len(finished))
	return nil
}
