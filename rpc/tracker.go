package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-broker/contracts"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// Call is one outstanding request. It completes exactly once: with a reply,
// a timeout or a cancellation, whichever removes it from the tracker first.
type Call struct {
	id       string
	created  time.Time
	deadline time.Time
	tracker  *Tracker

	done  chan struct{}
	reply *contracts.Message
	err   error
}

// ID returns the correlation id
func (c *Call) ID() string {
	return c.id
}

// Created returns the time the call was registered
func (c *Call) Created() time.Time {
	return c.created
}

// Deadline returns the time after which the call expires (zero = never)
func (c *Call) Deadline() time.Time {
	return c.deadline
}

// Done is closed when the call completes
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call completes, its deadline passes or ctx is done
func (c *Call) Wait(ctx context.Context) (*contracts.Message, error) {
	var expired <-chan time.Time
	if !c.deadline.IsZero() {
		timer := time.NewTimer(time.Until(c.deadline))
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-c.done:
	case <-expired:
		if c.tracker.remove(c) {
			c.complete(nil, &CallError{CorrelationID: c.id, Err: ErrTimeout})
		}
	case <-ctx.Done():
		if c.tracker.remove(c) {
			c.complete(nil, &CallError{CorrelationID: c.id, Err: fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())})
		}
	}

	// a concurrent resolve may have won the removal
	<-c.done
	return c.reply, c.err
}

// complete must only be called by whoever removed the call from the tracker
func (c *Call) complete(reply *contracts.Message, err error) {
	c.reply = reply
	c.err = err
	close(c.done)
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithTrackerLogger sets the logger
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// Tracker maps correlation ids to outstanding calls. Removal from the map
// decides which of resolve, expire and cancel completes a call.
type Tracker struct {
	calls  cmap.ConcurrentMap[string, *Call]
	logger *slog.Logger
}

// NewTracker creates an empty tracker
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		calls:  cmap.New[*Call](),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Register adds a pending call. A zero deadline never expires.
func (t *Tracker) Register(id string, deadline time.Time) (*Call, error) {
	call := &Call{
		id:       id,
		created:  time.Now(),
		deadline: deadline,
		tracker:  t,
		done:     make(chan struct{}),
	}

	if !t.calls.SetIfAbsent(id, call) {
		return nil, &CallError{CorrelationID: id, Err: ErrDuplicateCorrelationID}
	}

	return call, nil
}

// Resolve completes the call with a reply. It returns false for unknown,
// already completed or expired ids; such replies are dropped.
func (t *Tracker) Resolve(id string, reply *contracts.Message) bool {
	call, ok := t.calls.Pop(id)
	if !ok {
		t.logger.Debug("dropping reply without pending call", "correlationId", id)
		return false
	}

	call.complete(reply, nil)
	return true
}

// Cancel completes the call with ErrCancelled
func (t *Tracker) Cancel(id string) bool {
	call, ok := t.calls.Pop(id)
	if !ok {
		return false
	}

	call.complete(nil, &CallError{CorrelationID: id, Err: ErrCancelled})
	return true
}

// Expire times out every call whose deadline is not after now and returns
// how many it completed
func (t *Tracker) Expire(now time.Time) int {
	expired := 0
	for item := range t.calls.IterBuffered() {
		call := item.Val
		if call.deadline.IsZero() || now.Before(call.deadline) {
			continue
		}
		if t.remove(call) {
			t.logger.Debug("call timed out", "correlationId", call.id, "age", now.Sub(call.created))
			call.complete(nil, &CallError{CorrelationID: call.id, Err: ErrTimeout})
			expired++
		}
	}

	if expired > 0 {
		t.logger.Debug("expired pending calls", "count", expired)
	}
	return expired
}

// Pending returns the number of outstanding calls
func (t *Tracker) Pending() int {
	return t.calls.Count()
}

// Run expires calls every interval until ctx is done
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.Expire(now)
		}
	}
}

// Close fails every outstanding call with err
func (t *Tracker) Close(err error) int {
	closed := 0
	for _, id := range t.calls.Keys() {
		if call, ok := t.calls.Pop(id); ok {
			call.complete(nil, &CallError{CorrelationID: id, Err: err})
			closed++
		}
	}
	return closed
}

// remove deletes the call only if the map still holds this exact call
func (t *Tracker) remove(call *Call) bool {
	return t.calls.RemoveCb(call.id, func(key string, v *Call, exists bool) bool {
		return exists && v == call
	})
}
