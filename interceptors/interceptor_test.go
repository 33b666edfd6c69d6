package interceptors

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/glimte/mmate-broker/contracts"
	"github.com/glimte/mmate-broker/internal/reliability"
	"github.com/glimte/mmate-broker/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) Handle(ctx context.Context, d queue.Delivery) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

type mockMetricsCollector struct {
	mock.Mock
}

func (m *mockMetricsCollector) IncrementMessageCount(queueName string) {
	m.Called(queueName)
}

func (m *mockMetricsCollector) RecordProcessingTime(queueName string, duration time.Duration) {
	m.Called(queueName, duration)
}

func (m *mockMetricsCollector) IncrementErrorCount(queueName string, errorType string) {
	m.Called(queueName, errorType)
}

func testDelivery(body string) queue.Delivery {
	return queue.Delivery{
		Message:     contracts.NewMessage("", "orders", []byte(body), contracts.Properties{Type: "OrderPlaced"}),
		Queue:       "orders",
		ConsumerTag: "ctag-test",
		DeliveryTag: 1,
	}
}

func TestInterceptorChain(t *testing.T) {
	t.Run("Execute calls final handler when no interceptors", func(t *testing.T) {
		chain := NewInterceptorChain(nil)
		handler := &mockHandler{}
		d := testDelivery("x")

		handler.On("Handle", mock.Anything, d).Return(nil)

		assert.NoError(t, chain.Execute(context.Background(), d, handler))
		handler.AssertExpectations(t)
	})

	t.Run("Execute runs interceptors in order added", func(t *testing.T) {
		var order []string
		record := func(name string) Interceptor {
			return NewInterceptorFunc(name, func(ctx context.Context, d queue.Delivery, next MessageHandler) error {
				order = append(order, name+"-start")
				err := next.Handle(ctx, d)
				order = append(order, name+"-end")
				return err
			})
		}

		chain := NewInterceptorChain(quietLogger).Add(record("first")).Add(record("second"))
		assert.Equal(t, 2, chain.Len())

		err := chain.Execute(context.Background(), testDelivery("x"), MessageHandlerFunc(func(ctx context.Context, d queue.Delivery) error {
			order = append(order, "handler")
			return nil
		}))

		require.NoError(t, err)
		assert.Equal(t, []string{"first-start", "second-start", "handler", "second-end", "first-end"}, order)
	})

	t.Run("errors propagate through the chain", func(t *testing.T) {
		boom := errors.New("boom")
		chain := NewInterceptorChain(quietLogger).Add(NewLoggingInterceptor(quietLogger))

		err := chain.Execute(context.Background(), testDelivery("x"), MessageHandlerFunc(func(ctx context.Context, d queue.Delivery) error {
			return boom
		}))
		assert.Same(t, boom, err)
	})
}

func TestMetricsInterceptor(t *testing.T) {
	collector := &mockMetricsCollector{}
	collector.On("IncrementMessageCount", "orders").Return().Twice()
	collector.On("RecordProcessingTime", "orders", mock.AnythingOfType("time.Duration")).Return().Twice()
	collector.On("IncrementErrorCount", "orders", "decode_error").Return().Once()

	interceptor := NewMetricsInterceptor(collector)

	err := interceptor.Intercept(context.Background(), testDelivery("ok"), MessageHandlerFunc(func(ctx context.Context, d queue.Delivery) error {
		return nil
	}))
	require.NoError(t, err)

	err = interceptor.Intercept(context.Background(), testDelivery("bad"), MessageHandlerFunc(func(ctx context.Context, d queue.Delivery) error {
		var v map[string]string
		return contracts.DecodeJSON(d.Message, &v)
	}))
	assert.Error(t, err)

	collector.AssertExpectations(t)
}

func TestRecoveryInterceptor(t *testing.T) {
	interceptor := NewRecoveryInterceptor(quietLogger)

	err := interceptor.Intercept(context.Background(), testDelivery("x"), MessageHandlerFunc(func(ctx context.Context, d queue.Delivery) error {
		panic("handler exploded")
	}))

	assert.True(t, errors.Is(err, ErrHandlerPanic))
	assert.Contains(t, err.Error(), "handler exploded")
}

func TestTimeoutInterceptor(t *testing.T) {
	interceptor := NewTimeoutInterceptor(20 * time.Millisecond)

	err := interceptor.Intercept(context.Background(), testDelivery("x"), MessageHandlerFunc(func(ctx context.Context, d queue.Delivery) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestValidationInterceptor(t *testing.T) {
	handler := &mockHandler{}
	interceptor := NewValidationInterceptor(MessageValidatorFunc(func(ctx context.Context, d queue.Delivery) error {
		if len(d.Message.Body()) == 0 {
			return errors.New("empty body")
		}
		return nil
	}))

	err := interceptor.Intercept(context.Background(), testDelivery(""), handler)
	assert.ErrorContains(t, err, "empty body")
	handler.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
}

func TestRetryInterceptor(t *testing.T) {
	t.Run("retries transient failures in place", func(t *testing.T) {
		attempts := 0
		interceptor := NewRetryInterceptor(reliability.NewFixedDelay(time.Millisecond, 3)).WithLogger(quietLogger)

		err := interceptor.Intercept(context.Background(), testDelivery("x"), MessageHandlerFunc(func(ctx context.Context, d queue.Delivery) error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		}))

		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("does not retry decode errors", func(t *testing.T) {
		attempts := 0
		interceptor := NewRetryInterceptor(reliability.NewFixedDelay(time.Millisecond, 3)).WithLogger(quietLogger)

		err := interceptor.Intercept(context.Background(), testDelivery("{"), MessageHandlerFunc(func(ctx context.Context, d queue.Delivery) error {
			attempts++
			var v map[string]string
			return contracts.DecodeJSON(d.Message, &v)
		}))

		assert.True(t, errors.Is(err, contracts.ErrDecode))
		assert.Equal(t, 1, attempts)
	})
}

func TestDefaultInterceptorChainBuilder(t *testing.T) {
	collector := &mockMetricsCollector{}
	chain := NewDefaultInterceptorChainBuilder(quietLogger).
		WithAck().
		WithRecovery().
		WithLogging().
		WithMetrics(collector).
		WithTimeout(time.Second).
		Build()

	assert.Equal(t, 5, chain.Len())
	names := make([]string, 0, chain.Len())
	for _, i := range chain.interceptors {
		names = append(names, i.Name())
	}
	assert.Equal(t, []string{"AckInterceptor", "RecoveryInterceptor", "LoggingInterceptor", "MetricsInterceptor", "TimeoutInterceptor"}, names)
}
