package contracts

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOrder struct {
	OrderID  string   `json:"orderId"`
	Customer string   `json:"customer"`
	Items    []string `json:"items"`
	Total    float64  `json:"total"`
}

func TestNewMessage(t *testing.T) {
	t.Run("fills id and timestamp", func(t *testing.T) {
		msg := NewMessage("logs", "auth.error", []byte("boom"), Properties{})

		assert.NotEmpty(t, msg.ID())
		assert.False(t, msg.Timestamp().IsZero())
		assert.Equal(t, "logs", msg.Exchange())
		assert.Equal(t, "auth.error", msg.RoutingKey())
		assert.Equal(t, []byte("boom"), msg.Body())
	})

	t.Run("keeps caller properties", func(t *testing.T) {
		ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		msg := NewMessage("", "rpc_queue", nil, Properties{
			MessageID:     "m-1",
			CorrelationID: "c-1",
			ReplyTo:       "amq.gen-1",
			Persistent:    true,
			Timestamp:     ts,
		})

		assert.Equal(t, "m-1", msg.ID())
		assert.Equal(t, "c-1", msg.CorrelationID())
		assert.Equal(t, "amq.gen-1", msg.ReplyTo())
		assert.True(t, msg.Persistent())
		assert.Equal(t, ts, msg.Timestamp())
		assert.Nil(t, msg.Body())
	})

	t.Run("is isolated from caller mutation", func(t *testing.T) {
		body := []byte("hello")
		headers := map[string]interface{}{"source": "web-application"}
		msg := NewMessage("", "orders", body, Properties{Headers: headers})

		body[0] = 'j'
		headers["source"] = "changed"
		msg.Headers()["source"] = "changed again"

		assert.Equal(t, "hello", string(msg.Body()))
		v, ok := msg.Header("source")
		require.True(t, ok)
		assert.Equal(t, "web-application", v)
	})
}

func TestJSONCodec(t *testing.T) {
	order := testOrder{OrderID: "ORD-1001", Customer: "Alice", Items: []string{"Laptop", "Mouse"}, Total: 1299.99}

	body, props, err := EncodeJSON(order, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJSON, props.ContentType)
	assert.True(t, props.Persistent)
	assert.Equal(t, "ORD-1001", props.MessageID)

	msg := NewMessage("", "orders", body, props)

	var decoded testOrder
	require.NoError(t, DecodeJSON(msg, &decoded))
	assert.Equal(t, order, decoded)

	t.Run("rejects other content types", func(t *testing.T) {
		msg := NewMessage("", "orders", []byte("plain"), Properties{ContentType: ContentTypeText})
		err := DecodeJSON(msg, &decoded)
		assert.True(t, errors.Is(err, ErrUnexpectedContentType))
		assert.True(t, errors.Is(err, ErrDecode))
	})

	t.Run("reports invalid json", func(t *testing.T) {
		msg := NewMessage("", "orders", []byte("{not json"), Properties{ContentType: ContentTypeJSON})
		err := DecodeJSON(msg, &decoded)
		assert.Error(t, err)
		assert.False(t, errors.Is(err, ErrUnexpectedContentType))
		assert.True(t, errors.Is(err, ErrDecode))
	})
}
