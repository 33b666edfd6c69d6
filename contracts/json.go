package contracts

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var (
	// ErrDecode marks every failure to turn a message body back into a value
	ErrDecode = errors.New("contracts: message could not be decoded")

	// ErrUnexpectedContentType is returned when decoding a message that is not JSON
	ErrUnexpectedContentType = fmt.Errorf("%w: unexpected content type", ErrDecode)
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodeJSON serializes v as a JSON message body. The returned properties
// carry the JSON content type, the persistent flag and the given message ID.
func EncodeJSON(v interface{}, messageID string) ([]byte, Properties, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, Properties{}, fmt.Errorf("failed to encode message body: %w", err)
	}

	return body, Properties{
		ContentType: ContentTypeJSON,
		MessageID:   messageID,
		Persistent:  true,
	}, nil
}

// DecodeJSON deserializes a JSON message body into v. Messages without a
// content type are accepted.
func DecodeJSON(msg *Message, v interface{}) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if ct := msg.ContentType(); ct != "" && ct != ContentTypeJSON {
		return fmt.Errorf("%w: %s", ErrUnexpectedContentType, ct)
	}
	if err := json.Unmarshal(msg.Body(), v); err != nil {
		return fmt.Errorf("%w: message %s: %w", ErrDecode, msg.ID(), err)
	}
	return nil
}
