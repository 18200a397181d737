package netchannel

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/errors"
	"github.com/soundmesh/soundmesh/internal/metrics"
)

// backoff implements the reconnect policy: start 25 ms, factor 1.3,
// cap 15 s.
type backoff struct {
	delay time.Duration
}

func newBackoff() *backoff { return &backoff{delay: 25 * time.Millisecond} }

func (b *backoff) next() time.Duration {
	d := b.delay
	b.delay = time.Duration(float64(b.delay) * 1.3)
	if b.delay > 15*time.Second {
		b.delay = 15 * time.Second
	}
	return d
}

func (b *backoff) reset() { b.delay = 25 * time.Millisecond }

// Client connects to a netchannel Server and yields decoded Chunks,
// reconnecting with exponential backoff on any connection failure.
type Client struct {
	addr    string
	logger  *slog.Logger
	metrics *metrics.Registry
}

func NewClient(addr string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{addr: addr, logger: logger}
}

// SetMetrics attaches a metrics registry for the reconnect counter.
func (c *Client) SetMetrics(m *metrics.Registry) { c.metrics = m }

func (c *Client) countReconnect() {
	if c.metrics != nil {
		c.metrics.NetChannelReconnects.WithLabelValues(c.addr).Inc()
	}
}

// Run connects and streams decoded chunks to out until ctx is cancelled,
// reconnecting on any read/dial error per the backoff policy.
func (c *Client) Run(ctx context.Context, out chan<- chunk.Chunk) error {
	bo := newBackoff()
	dialer := net.Dialer{}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn, err := dialer.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			c.countReconnect()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(bo.next()):
			}
			continue
		}
		bo.reset()

		err = c.readLoop(ctx, conn, out)
		conn.Close()
		if err != nil {
			c.countReconnect()
			c.logger.Warn("netchannel client: connection lost, reconnecting", "addr", c.addr, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(bo.next()):
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn net.Conn, out chan<- chunk.Chunk) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		ch, err := decodeChunk(conn)
		if err != nil {
			return errors.New(err).Component("netchannel").Kind(errors.KindResource).Build()
		}
		select {
		case out <- ch:
		case <-ctx.Done():
			return nil
		}
	}
}
