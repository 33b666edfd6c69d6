// Package rpc implements request/reply over the broker.
//
// A Client owns an exclusive, auto-delete reply queue. Each Call publishes
// the request to the target queue through the default exchange with a fresh
// correlation id and the reply queue as ReplyTo, then waits on a Tracker
// entry that the reply consumer resolves. A Server consumes a request queue
// with prefetch 1 and publishes each handler result back to the request's
// ReplyTo queue under the same correlation id; handler errors travel back in
// the x-rpc-error header and surface as *RemoteError.
//
//	srv := rpc.NewServer(broker, "rpc_queue", func(ctx context.Context, req *contracts.Message) ([]byte, error) {
//		return fib(req.Body())
//	})
//	if err := srv.Start(ctx); err != nil {
//		return err
//	}
//
//	client, err := rpc.NewClient(ctx, broker)
//	reply, err := client.Call(ctx, "rpc_queue", []byte("30"), 5*time.Second)
package rpc
