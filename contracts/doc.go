// Package contracts provides the message types shared by the broker packages.
//
// A Message is created once, at publish time, from a body and a Properties
// bag, and is never mutated afterwards:
//   - Body: the raw payload
//   - Properties: content type, message and correlation IDs, reply-to queue,
//     persistence flag, headers and timestamp
//   - Exchange/RoutingKey: where the message was published
//
// EncodeJSON and DecodeJSON provide the JSON payload convention used by the
// order demo (content type application/json, persistent delivery).
package contracts
