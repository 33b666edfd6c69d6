package interceptors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/fortytw2/leaktest"
	"github.com/glimte/mmate-broker/contracts"
	"github.com/glimte/mmate-broker/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// consumeOne attaches a manual-ack consumer running handler through chain
func consumeOne(t *testing.T, chain *InterceptorChain, handler MessageHandler) (*queue.Queue, <-chan error) {
	t.Helper()

	q := queue.New("jobs", queue.Options{}, queue.WithLogger(quietLogger))
	results := make(chan error, 8)

	final := MessageHandlerFunc(func(ctx context.Context, d queue.Delivery) error {
		err := handler.Handle(ctx, d)
		results <- err
		return err
	})

	c := queue.NewConsumer("worker", chain.Handler(context.Background(), final),
		queue.WithPrefetchCount(1), queue.WithConsumerLogger(quietLogger))
	require.NoError(t, q.Attach(c))
	return q, results
}

func waitResult(t *testing.T, results <-chan error) error {
	t.Helper()
	select {
	case err := <-results:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
		return nil
	}
}

func TestAckInterceptor(t *testing.T) {
	t.Run("success acknowledges", func(t *testing.T) {
		defer leaktest.Check(t)()

		chain := NewInterceptorChain(quietLogger).Add(NewAckInterceptor(quietLogger))
		q, results := consumeOne(t, chain, MessageHandlerFunc(func(ctx context.Context, d queue.Delivery) error {
			return nil
		}))
		defer q.Delete()

		q.Enqueue(contracts.NewMessage("", "jobs", []byte("job"), contracts.Properties{}))
		require.NoError(t, waitResult(t, results))

		assert.Eventually(t, func() bool {
			s := q.Stats()
			return s.Messages == 0 && s.Unacked == 0
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("processing error requeues", func(t *testing.T) {
		defer leaktest.Check(t)()

		attempts := 0
		chain := NewInterceptorChain(quietLogger).Add(NewAckInterceptor(quietLogger))
		q, results := consumeOne(t, chain, MessageHandlerFunc(func(ctx context.Context, d queue.Delivery) error {
			attempts++
			if attempts == 1 {
				assert.False(t, d.Redelivered)
				return errors.New("database unavailable")
			}
			assert.True(t, d.Redelivered)
			return nil
		}))
		defer q.Delete()

		q.Enqueue(contracts.NewMessage("", "jobs", []byte("job"), contracts.Properties{}))
		assert.Error(t, waitResult(t, results))
		assert.NoError(t, waitResult(t, results))
	})

	t.Run("decode error drops the message", func(t *testing.T) {
		defer leaktest.Check(t)()

		chain := NewInterceptorChain(quietLogger).Add(NewAckInterceptor(quietLogger))
		q, results := consumeOne(t, chain, MessageHandlerFunc(func(ctx context.Context, d queue.Delivery) error {
			var v struct{ ID int }
			return contracts.DecodeJSON(d.Message, &v)
		}))
		defer q.Delete()

		q.Enqueue(contracts.NewMessage("", "jobs", []byte("not json"), contracts.Properties{ContentType: contracts.ContentTypeJSON}))
		assert.True(t, errors.Is(waitResult(t, results), contracts.ErrDecode))

		assert.Eventually(t, func() bool {
			s := q.Stats()
			return s.Messages == 0 && s.Unacked == 0
		}, time.Second, 5*time.Millisecond)

		select {
		case <-results:
			t.Fatal("decode failure was redelivered")
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(fmt.Errorf("wrap: %w", contracts.ErrDecode)))
	assert.True(t, IsPermanent(fmt.Errorf("wrap: %w", ErrRejected)))
	assert.True(t, IsPermanent(errdefs.ErrInvalidArgument))
	assert.False(t, IsPermanent(errors.New("timeout talking to db")))
}
