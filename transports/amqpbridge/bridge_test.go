package amqpbridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/fortytw2/leaktest"
	mmate "github.com/glimte/mmate-broker"
	"github.com/glimte/mmate-broker/queue"
	"github.com/google/go-cmp/cmp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newBridge(t *testing.T) (*mmate.Broker, *Channel) {
	t.Helper()

	b := mmate.New(mmate.WithLogger(quietLogger))
	_, err := b.DeclareQueue(context.Background(), "task_queue", queue.Options{Durable: true})
	require.NoError(t, err)

	return b, NewChannel(b, WithLogger(quietLogger))
}

func receive(t *testing.T, deliveries <-chan amqp.Delivery) amqp.Delivery {
	t.Helper()
	select {
	case d, ok := <-deliveries:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(time.Second):
		t.Fatal("no delivery")
		return amqp.Delivery{}
	}
}

func publishText(t *testing.T, ch *Channel, body string) {
	t.Helper()
	require.NoError(t, ch.PublishWithContext(context.Background(), "", "task_queue", amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Body:         []byte(body),
	}))
}

func TestPublishingRoundTrip(t *testing.T) {
	defer leaktest.Check(t)()

	b, ch := newBridge(t)
	defer b.Close()
	defer ch.Close()

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := amqp.Publishing{
		Headers:       amqp.Table{"x-tenant": "acme"},
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Priority:      3,
		CorrelationId: "corr-1",
		ReplyTo:       "amq.gen-reply",
		Expiration:    "60000",
		MessageId:     "msg-1",
		Timestamp:     ts,
		Type:          "order.created",
		UserId:        "guest",
		AppId:         "shop",
		Body:          []byte(`{"id":1}`),
	}

	deliveries, err := ch.Consume(context.Background(), "task_queue", "reader", true, false)
	require.NoError(t, err)
	require.NoError(t, ch.PublishWithContext(context.Background(), "", "task_queue", in))

	got := receive(t, deliveries)
	got.Acknowledger = nil

	want := amqp.Delivery{
		Headers:       amqp.Table{"x-tenant": "acme"},
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Priority:      3,
		CorrelationId: "corr-1",
		ReplyTo:       "amq.gen-reply",
		Expiration:    "60000",
		MessageId:     "msg-1",
		Timestamp:     ts,
		Type:          "order.created",
		UserId:        "guest",
		AppId:         "shop",
		ConsumerTag:   "reader",
		DeliveryTag:   1,
		Exchange:      "",
		RoutingKey:    "task_queue",
		Body:          []byte(`{"id":1}`),
	}
	assert.Empty(t, cmp.Diff(want, got))
}

func TestFromPublishingTransient(t *testing.T) {
	body, props := FromPublishing(amqp.Publishing{Body: []byte("x")})
	assert.Equal(t, []byte("x"), body)
	assert.False(t, props.Persistent)
	assert.Nil(t, props.Headers)
}

func TestManualAck(t *testing.T) {
	defer leaktest.Check(t)()

	b, ch := newBridge(t)
	defer b.Close()
	defer ch.Close()

	deliveries, err := ch.Consume(context.Background(), "task_queue", "", false, false)
	require.NoError(t, err)

	t.Run("ack multiple", func(t *testing.T) {
		for _, body := range []string{"a", "b", "c"} {
			publishText(t, ch, body)
		}

		var last amqp.Delivery
		for i := 0; i < 3; i++ {
			last = receive(t, deliveries)
		}
		assert.Equal(t, "c", string(last.Body))
		require.NoError(t, last.Ack(true))

		stats, err := b.QueueStats("task_queue")
		require.NoError(t, err)
		assert.Zero(t, stats.Unacked)
	})

	t.Run("nack requeue redelivers", func(t *testing.T) {
		publishText(t, ch, "again")

		first := receive(t, deliveries)
		assert.False(t, first.Redelivered)
		require.NoError(t, first.Nack(false, true))

		second := receive(t, deliveries)
		assert.True(t, second.Redelivered)
		assert.Equal(t, first.MessageId, second.MessageId)
		require.NoError(t, second.Ack(false))
	})

	t.Run("reject drops", func(t *testing.T) {
		publishText(t, ch, "poison")

		d := receive(t, deliveries)
		require.NoError(t, d.Reject(false))

		stats, err := b.QueueStats("task_queue")
		require.NoError(t, err)
		assert.Zero(t, stats.Messages)
		assert.Zero(t, stats.Unacked)

		err = d.Ack(false)
		assert.True(t, errors.Is(err, queue.ErrDeliveryNotFound))
	})
}

func TestCancelRequeuesUnreceived(t *testing.T) {
	defer leaktest.Check(t)()

	b, ch := newBridge(t)
	defer b.Close()
	defer ch.Close()

	require.NoError(t, ch.Qos(1))
	deliveries, err := ch.Consume(context.Background(), "task_queue", "worker", false, false)
	require.NoError(t, err)

	publishText(t, ch, "one")
	publishText(t, ch, "two")
	receive(t, deliveries)

	stats, err := b.QueueStats("task_queue")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unacked)

	require.NoError(t, ch.Cancel("worker"))
	_, ok := <-deliveries
	assert.False(t, ok)

	stats, err = b.QueueStats("task_queue")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Messages)
	assert.Zero(t, stats.Unacked)

	err = ch.Cancel("worker")
	assert.True(t, errors.Is(err, queue.ErrConsumerNotFound))
}

func TestConsumeStopsWithContext(t *testing.T) {
	defer leaktest.Check(t)()

	b, ch := newBridge(t)
	defer b.Close()
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := ch.Consume(ctx, "task_queue", "", true, false)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-deliveries:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("delivery channel not closed after context cancellation")
	}
}

func TestClose(t *testing.T) {
	defer leaktest.Check(t)()

	b, ch := newBridge(t)
	defer b.Close()

	first, err := ch.Consume(context.Background(), "task_queue", "", true, false)
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	_, ok := <-first
	assert.False(t, ok)

	_, err = ch.Consume(context.Background(), "task_queue", "", true, false)
	assert.True(t, errors.Is(err, ErrChannelClosed))

	err = ch.PublishWithContext(context.Background(), "", "task_queue", amqp.Publishing{})
	assert.True(t, errors.Is(err, ErrChannelClosed))

	assert.True(t, errdefs.IsInvalidArgument(ch.Qos(-1)))
}

func TestConsumeUnknownQueue(t *testing.T) {
	defer leaktest.Check(t)()

	b, ch := newBridge(t)
	defer b.Close()
	defer ch.Close()

	_, err := ch.Consume(context.Background(), "missing", "", true, false)
	assert.True(t, errors.Is(err, queue.ErrQueueNotFound))
}
