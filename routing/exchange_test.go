package routing

import (
	"errors"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(queues ...string) *Router {
	known := make(map[string]bool)
	for _, q := range queues {
		known[q] = true
	}
	return NewRouter(func(name string) bool { return known[name] })
}

func TestRouterDeclare(t *testing.T) {
	t.Run("re-declaration with the same type is a no-op", func(t *testing.T) {
		r := newTestRouter()

		first, created, err := r.Declare("x", ExchangeTopic, ExchangeOptions{})
		require.NoError(t, err)
		assert.True(t, created)

		second, created, err := r.Declare("x", ExchangeTopic, ExchangeOptions{Durable: true})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Same(t, first, second)
		assert.False(t, second.Options().Durable)
	})

	t.Run("different type fails with type mismatch", func(t *testing.T) {
		r := newTestRouter()
		_, _, err := r.Declare("x", ExchangeTopic, ExchangeOptions{})
		require.NoError(t, err)

		_, _, err = r.Declare("x", ExchangeDirect, ExchangeOptions{})
		assert.True(t, errors.Is(err, ErrTypeMismatch))
		assert.True(t, errdefs.IsFailedPrecondition(err))

		ex, err := r.Get("x")
		require.NoError(t, err)
		assert.Equal(t, ExchangeTopic, ex.Type())
	})

	t.Run("unknown type is rejected", func(t *testing.T) {
		r := newTestRouter()
		_, _, err := r.Declare("x", ExchangeType("headers"), ExchangeOptions{})
		assert.True(t, errors.Is(err, ErrUnknownExchangeType))
	})

	t.Run("predeclared exchanges exist", func(t *testing.T) {
		r := newTestRouter()
		for _, name := range []string{DefaultExchange, AmqDirect, AmqFanout, AmqTopic} {
			_, err := r.Get(name)
			assert.NoError(t, err, name)
		}
	})
}

func TestRouterRoute(t *testing.T) {
	t.Run("unknown exchange is not found", func(t *testing.T) {
		r := newTestRouter()
		_, err := r.Route("missing", "key")
		assert.True(t, errors.Is(err, ErrExchangeNotFound))
		assert.True(t, errdefs.IsNotFound(err))
	})

	t.Run("no matches is not an error", func(t *testing.T) {
		r := newTestRouter()
		_, _, err := r.Declare("logs", ExchangeDirect, ExchangeOptions{})
		require.NoError(t, err)

		queues, err := r.Route("logs", "error")
		require.NoError(t, err)
		assert.Equal(t, 0, queues.Cardinality())
	})

	t.Run("default exchange routes by queue name", func(t *testing.T) {
		r := newTestRouter("hello_queue")

		queues, err := r.Route(DefaultExchange, "hello_queue")
		require.NoError(t, err)
		assert.Equal(t, []string{"hello_queue"}, sortedQueues(queues))

		queues, err = r.Route(DefaultExchange, "missing")
		require.NoError(t, err)
		assert.Equal(t, 0, queues.Cardinality())
	})

	t.Run("default exchange cannot be bound", func(t *testing.T) {
		r := newTestRouter("q")
		_, err := r.Bind(DefaultExchange, "q", "q")
		assert.True(t, errors.Is(err, ErrDefaultExchange))
	})

	t.Run("fanout reaches every bound queue", func(t *testing.T) {
		r := newTestRouter()
		_, _, err := r.Declare("logs", ExchangeFanout, ExchangeOptions{})
		require.NoError(t, err)
		_, err = r.Bind("logs", "q1", "")
		require.NoError(t, err)
		_, err = r.Bind("logs", "q2", "")
		require.NoError(t, err)

		queues, err := r.Route("logs", "ignored")
		require.NoError(t, err)
		assert.Equal(t, []string{"q1", "q2"}, sortedQueues(queues))
	})
}

func TestRouterDelete(t *testing.T) {
	r := newTestRouter()
	_, _, err := r.Declare("logs", ExchangeFanout, ExchangeOptions{})
	require.NoError(t, err)
	_, err = r.Bind("logs", "q1", "")
	require.NoError(t, err)

	err = r.Delete("logs", true)
	assert.True(t, errors.Is(err, ErrExchangeInUse))

	assert.Equal(t, 1, r.RemoveQueue("q1"))
	require.NoError(t, r.Delete("logs", true))

	_, err = r.Get("logs")
	assert.True(t, errors.Is(err, ErrExchangeNotFound))

	assert.True(t, errors.Is(r.Delete(AmqTopic, false), ErrDefaultExchange))
}

func TestParseExchangeType(t *testing.T) {
	kind, err := ParseExchangeType(" Topic ")
	require.NoError(t, err)
	assert.Equal(t, ExchangeTopic, kind)

	_, err = ParseExchangeType("headers")
	assert.Error(t, err)
}
