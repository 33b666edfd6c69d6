package routing

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// ExchangeType decides how an exchange matches routing keys against bindings
type ExchangeType string

const (
	ExchangeDirect ExchangeType = "direct"
	ExchangeFanout ExchangeType = "fanout"
	ExchangeTopic  ExchangeType = "topic"
)

// Predeclared exchange names
const (
	DefaultExchange = ""
	AmqDirect       = "amq.direct"
	AmqFanout       = "amq.fanout"
	AmqTopic        = "amq.topic"
)

// ParseExchangeType parses "direct", "fanout" or "topic", case-insensitive
func ParseExchangeType(s string) (ExchangeType, error) {
	switch kind := ExchangeType(strings.ToLower(strings.TrimSpace(s))); kind {
	case ExchangeDirect, ExchangeFanout, ExchangeTopic:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownExchangeType, s)
	}
}

func (t ExchangeType) String() string {
	return string(t)
}

// ExchangeOptions holds exchange metadata. Neither flag changes routing.
type ExchangeOptions struct {
	Durable    bool
	AutoDelete bool
}

// Exchange is a named routing entity owning a binding table
type Exchange struct {
	name     string
	kind     ExchangeType
	options  ExchangeOptions
	bindings *BindingTable
}

// Name returns the exchange name
func (e *Exchange) Name() string {
	return e.name
}

// Type returns the exchange type
func (e *Exchange) Type() ExchangeType {
	return e.kind
}

// Options returns the exchange metadata
func (e *Exchange) Options() ExchangeOptions {
	return e.options
}

// Bindings returns the exchange's binding table
func (e *Exchange) Bindings() *BindingTable {
	return e.bindings
}

// Route returns the bound queues a message with routingKey reaches
func (e *Exchange) Route(routingKey string) mapset.Set[string] {
	return e.bindings.MatchesFor(routingKey, e.kind)
}

// QueueLookup reports whether a queue exists. The router uses it to resolve
// the default exchange, which implicitly binds every queue by its name.
type QueueLookup func(name string) bool

// Router owns the exchanges of one broker
type Router struct {
	mu          sync.RWMutex
	exchanges   map[string]*Exchange
	queueExists QueueLookup
}

// NewRouter creates a router with the predeclared exchanges
func NewRouter(queueExists QueueLookup) *Router {
	r := &Router{
		exchanges:   make(map[string]*Exchange),
		queueExists: queueExists,
	}

	durable := ExchangeOptions{Durable: true}
	r.exchanges[DefaultExchange] = newExchange(DefaultExchange, ExchangeDirect, durable)
	r.exchanges[AmqDirect] = newExchange(AmqDirect, ExchangeDirect, durable)
	r.exchanges[AmqFanout] = newExchange(AmqFanout, ExchangeFanout, durable)
	r.exchanges[AmqTopic] = newExchange(AmqTopic, ExchangeTopic, durable)

	return r
}

func newExchange(name string, kind ExchangeType, options ExchangeOptions) *Exchange {
	return &Exchange{
		name:     name,
		kind:     kind,
		options:  options,
		bindings: NewBindingTable(),
	}
}

// Declare creates an exchange on first declaration. Re-declaring with the
// same type is a no-op; a different type fails with ErrTypeMismatch. The
// returned bool reports whether the exchange was created.
func (r *Router) Declare(name string, kind ExchangeType, options ExchangeOptions) (*Exchange, bool, error) {
	if _, err := ParseExchangeType(string(kind)); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.exchanges[name]; ok {
		if existing.kind != kind {
			return nil, false, &ExchangeError{
				Exchange: name,
				Op:       "declare",
				Err:      fmt.Errorf("%w: declared as %s, requested %s", ErrTypeMismatch, existing.kind, kind),
			}
		}
		return existing, false, nil
	}

	exchange := newExchange(name, kind, options)
	r.exchanges[name] = exchange
	return exchange, true, nil
}

// Get returns a declared exchange
func (r *Router) Get(name string) (*Exchange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exchange, ok := r.exchanges[name]
	if !ok {
		return nil, &ExchangeError{Exchange: name, Op: "get", Err: ErrExchangeNotFound}
	}
	return exchange, nil
}

// Delete removes an exchange. With ifUnused set an exchange that still has
// bindings is kept and ErrExchangeInUse returned.
func (r *Router) Delete(name string, ifUnused bool) error {
	if isPredeclared(name) {
		return &ExchangeError{Exchange: name, Op: "delete", Err: ErrDefaultExchange}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	exchange, ok := r.exchanges[name]
	if !ok {
		return &ExchangeError{Exchange: name, Op: "delete", Err: ErrExchangeNotFound}
	}
	if ifUnused && exchange.bindings.Len() > 0 {
		return &ExchangeError{Exchange: name, Op: "delete", Err: ErrExchangeInUse}
	}

	delete(r.exchanges, name)
	return nil
}

// Bind binds queue to exchange with pattern. The caller checks the queue exists.
func (r *Router) Bind(exchange, queue, pattern string) (bool, error) {
	if exchange == DefaultExchange {
		return false, &ExchangeError{Exchange: exchange, Op: "bind", Err: ErrDefaultExchange}
	}

	ex, err := r.Get(exchange)
	if err != nil {
		return false, err
	}
	return ex.bindings.Bind(queue, pattern), nil
}

// Unbind removes a binding. Unbinding a binding that does not exist is a no-op.
func (r *Router) Unbind(exchange, queue, pattern string) (bool, error) {
	if exchange == DefaultExchange {
		return false, &ExchangeError{Exchange: exchange, Op: "unbind", Err: ErrDefaultExchange}
	}

	ex, err := r.Get(exchange)
	if err != nil {
		return false, err
	}
	return ex.bindings.Unbind(queue, pattern), nil
}

// RemoveQueue drops a queue's bindings from every exchange
func (r *Router) RemoveQueue(queue string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	removed := 0
	for _, exchange := range r.exchanges {
		removed += exchange.bindings.RemoveQueue(queue)
	}
	return removed
}

// Route resolves the destination queues for a publish. An empty result is
// not an error; the message is simply unroutable.
func (r *Router) Route(exchange, routingKey string) (mapset.Set[string], error) {
	ex, err := r.Get(exchange)
	if err != nil {
		return nil, err
	}

	if exchange == DefaultExchange {
		result := mapset.NewThreadUnsafeSet[string]()
		if routingKey != "" && r.queueExists != nil && r.queueExists(routingKey) {
			result.Add(routingKey)
		}
		return result, nil
	}

	return ex.Route(routingKey), nil
}

// Exchanges returns the declared exchanges sorted by name
func (r *Router) Exchanges() []*Exchange {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Exchange, 0, len(r.exchanges))
	for _, exchange := range r.exchanges {
		out = append(out, exchange)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func isPredeclared(name string) bool {
	switch name {
	case DefaultExchange, AmqDirect, AmqFanout, AmqTopic:
		return true
	}
	return false
}
