// Package reliability provides caller-side retry policies.
//
// Policies decide, per failed attempt, whether to try again and how long to
// wait: ExponentialBackoff grows the delay with jitter, FixedDelay keeps it
// constant. Retry drives a function through a policy and stops early on
// context cancellation or on errors marked with Permanent.
//
//	policy := reliability.NewExponentialBackoff(50*time.Millisecond, time.Second, 2, 3)
//	err := reliability.Retry(ctx, policy, func() error {
//		return call()
//	})
package reliability
