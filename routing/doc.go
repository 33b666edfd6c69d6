// Package routing decides which queues receive a published message.
//
// This package includes:
//   - MatchTopic: dot-separated pattern matching with "*" and "#" wildcards
//   - BindingTable: per-exchange (queue, pattern) bindings with set semantics
//   - Router: declared exchanges (fanout, direct, topic) and route resolution
//
// Every Router starts with the default exchange "" (a direct exchange that
// reaches the queue named by the routing key) and the amq.direct, amq.fanout
// and amq.topic exchanges. Routes are computed against an immutable binding
// snapshot, so a publish never observes a half-applied Bind or Unbind.
package routing
