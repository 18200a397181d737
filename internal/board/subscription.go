package board

import (
	"fmt"

	"github.com/soundmesh/soundmesh/internal/chunk"
)

// NetworkRole names which side of a TCP fan-out link a network subscription
// order plays.
type NetworkRole string

const (
	RoleServer NetworkRole = "server"
	RoleClient NetworkRole = "client"
)

// SubscriptionOrder describes one typed link between a producer's output
// (SenderKey) and a consumer's input (ReceiverKey). A local order wires an
// in-process channel. A network order (Host set) is not wired by the Board:
// StartProcessor and StartSource refuse it with a ConfigError. Orders are
// idempotent: issuing the same order
// twice (e.g. once from each side's StartProcessor call) yields the same
// underlying channel.
type SubscriptionOrder struct {
	Producer    string
	Consumer    string
	SenderKey   string
	ReceiverKey string

	// Network fields; IsNetwork reports true when Host is non-empty.
	Host string
	Port int
	Role NetworkRole
}

// IsNetwork reports whether this order wires a TCP fan-out link rather than
// a local in-process channel.
func (o SubscriptionOrder) IsNetwork() bool {
	return o.Host != ""
}

// key returns the stable identity used to deduplicate idempotent orders.
func (o SubscriptionOrder) key() string {
	return fmt.Sprintf("%s/%s->%s/%s", o.Producer, o.SenderKey, o.Consumer, o.ReceiverKey)
}

// localChannelCapacity bounds every local in-process link; a processor
// publishing faster than its consumer drains blocks on this.
const localChannelCapacity = 8

// Publisher is the producer-side handle to one output subscription.
type Publisher struct {
	SenderKey string
	ch        chan<- chunk.Chunk
	discard   bool
}

// Send delivers c downstream. A wildcard ("*") sender key discards
// silently. Otherwise the send blocks when the consumer is lagging, which
// is the local back-pressure mechanism.
func (p *Publisher) Send(c chunk.Chunk) {
	if p.discard || p.ch == nil {
		return
	}
	p.ch <- c
}

// Receiver is the consumer-side handle to one input subscription.
type Receiver struct {
	ReceiverKey string
	ch          <-chan chunk.Chunk
}

// Chan exposes the underlying receive channel for use in a select loop.
func (r *Receiver) Chan() <-chan chunk.Chunk {
	return r.ch
}

// wildcardKey is the sentinel sender key meaning "discard this output".
const wildcardKey = "*"

// registry is the Board's map of not-yet-fully-wired subscription orders,
// keyed by their idempotency key, so whichever side of an order starts
// first creates the channel and whichever side starts second reuses it.
type registry struct {
	channels map[string]chan chunk.Chunk
}

func newRegistry() *registry {
	return &registry{channels: make(map[string]chan chunk.Chunk)}
}

func (r *registry) channelFor(o SubscriptionOrder) chan chunk.Chunk {
	k := o.key()
	if ch, ok := r.channels[k]; ok {
		return ch
	}
	ch := make(chan chunk.Chunk, localChannelCapacity)
	r.channels[k] = ch
	return ch
}
