// Package interceptors provides handler chains for broker deliveries.
//
// An InterceptorChain wraps a final MessageHandler with cross-cutting
// concerns and adapts the result into a queue.DeliveryHandler that can be
// passed straight to Broker.Consume. Interceptors run in the order they are
// added; the first one added is the outermost.
//
// Built-in interceptors:
//   - AckInterceptor: acks on success, nacks with requeue on processing
//     errors and without requeue on decode errors or rejections
//   - RecoveryInterceptor: turns handler panics into errors
//   - LoggingInterceptor: logs processing with timing information
//   - MetricsInterceptor: per-queue counts, timings and error types
//   - ValidationInterceptor, TimeoutInterceptor, RetryInterceptor
//   - FilteringInterceptor and ConditionalInterceptor with type, header and
//     routing key filters
//
// Example usage:
//
//	chain := interceptors.NewDefaultInterceptorChainBuilder(logger).
//		WithAck().
//		WithRecovery().
//		WithLogging().
//		Build()
//
//	handler := chain.Handler(ctx, interceptors.MessageHandlerFunc(
//		func(ctx context.Context, d queue.Delivery) error {
//			var order Order
//			return contracts.DecodeJSON(d.Message, &order)
//		}))
//	_, err := broker.Consume(ctx, "orders", "", handler)
package interceptors
