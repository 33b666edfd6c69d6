package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/glimte/mmate-broker/contracts"
	"github.com/glimte/mmate-broker/interceptors"
	"github.com/glimte/mmate-broker/rpc"
)

const maxFibonacci = 93

// fibonacciHandler answers "n" with the n-th Fibonacci number
func fibonacciHandler(_ context.Context, req *contracts.Message) ([]byte, error) {
	n, err := strconv.Atoi(strings.TrimSpace(string(req.Body())))
	if err != nil {
		return nil, fmt.Errorf("%w: not a number: %q", interceptors.ErrRejected, req.Body())
	}
	if n < 0 || n > maxFibonacci {
		return nil, fmt.Errorf("%w: n must be between 0 and %d, got %d", interceptors.ErrRejected, maxFibonacci, n)
	}
	return []byte(strconv.FormatUint(fibonacci(n), 10)), nil
}

func fibonacci(n int) uint64 {
	var a, b uint64 = 0, 1
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	return a
}

// fibonacciRPC starts a Fibonacci server on rpc_queue and calls it once per input
func (d *demo) fibonacciRPC(ctx context.Context, inputs []string) error {
	const queueName = "rpc_queue"

	server := rpc.NewServer(d.broker, queueName, fibonacciHandler,
		rpc.WithServerLogger(d.logger),
		rpc.WithReplyContentType(contracts.ContentTypeText),
	)
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = server.Stop() }()

	d.out.Printf(" [x] Awaiting RPC requests on %s\n", queueName)

	for _, input := range inputs {
		d.out.Printf(" [x] Requesting fib(%s)\n", input)

		reply, err := d.broker.RPCCall(ctx, queueName, []byte(input), d.rpcTimeout)
		var remote *rpc.RemoteError
		switch {
		case errors.As(err, &remote):
			d.out.Printf(" [!] fib(%s) failed: %s\n", input, remote.Message)
		case err != nil:
			return err
		default:
			d.out.Printf(" [.] fib(%s) = %s\n", input, reply.Body())
		}
	}
	return nil
}
