package board

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/soundmesh/soundmesh/internal/errors"
	"github.com/soundmesh/soundmesh/internal/metrics"
)

// Board instantiates processors, wires them together with typed channels,
// and supervises them. It owns the registry breaking the
// Board<->Processor cyclic reference: processors only ever see an opaque
// error-report channel back to the Board, never a pointer into it.
type Board struct {
	mu     sync.Mutex
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	strictIdentifier bool
	metrics          *metrics.Registry

	registry  *registry
	processes map[string]*runtime
	sources   map[string]*sourceRuntime

	errCh  chan ErrorMessage
	errors []ErrorMessage
	wg     sync.WaitGroup
}

// Option configures a Board at construction.
type Option func(*Board)

// WithStrictIdentifier controls the identifier-conflict check every
// processor's composite manager enforces.
func WithStrictIdentifier(strict bool) Option {
	return func(b *Board) { b.strictIdentifier = strict }
}

// WithMetrics attaches a metrics registry; every runtime the Board starts
// reports its chunk, latency, and dropped-composite counters into it.
func WithMetrics(m *metrics.Registry) Option {
	return func(b *Board) { b.metrics = m }
}

// NewBoard constructs a Board that supervises processors until ctx is
// cancelled or StopAll is called.
func NewBoard(ctx context.Context, logger *slog.Logger, opts ...Option) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	b := &Board{
		logger:           logger,
		ctx:              ctx,
		cancel:           cancel,
		strictIdentifier: true,
		registry:         newRegistry(),
		processes:        make(map[string]*runtime),
		sources:          make(map[string]*sourceRuntime),
		errCh:            make(chan ErrorMessage, 32),
	}
	for _, opt := range opts {
		opt(b)
	}
	errors.SetEventPublisher(b)
	b.wg.Add(1)
	go b.supervise()
	return b
}

// TryPublish implements errors.EventPublisher: any EnhancedError built
// anywhere in the process while this Board is active (not just the
// ErrorMessages a processor's runtime reports over errCh) is folded into
// the same supervisor drain loop and log line.
func (b *Board) TryPublish(event any) bool {
	ee, ok := event.(*errors.EnhancedError)
	if !ok {
		return false
	}
	msg := ErrorMessage{
		Kind:      string(ee.GetKind()),
		Message:   ee.Error(),
		Processor: ee.GetComponent(),
	}
	select {
	case b.errCh <- msg:
		return true
	default:
		return false
	}
}

// supervise drains the error-report channel every processor writes to;
// it never blocks a processor's exit.
func (b *Board) supervise() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.errCh:
			b.mu.Lock()
			b.errors = append(b.errors, msg)
			b.mu.Unlock()
			if b.metrics != nil {
				b.metrics.ProcessorErrors.WithLabelValues(msg.Processor, msg.Kind).Inc()
			}
			b.logger.Error("processor reported error",
				"processor", msg.Processor, "kind", msg.Kind, "message", msg.Message)
		}
	}
}

// StartProcessor instantiates proc under name, wires the given local
// subscription orders, and starts its goroutine. Duplicate names are
// refused, and so are network orders (Host set): wireOrder rejects them
// with a ConfigError, and TCP links are built with internal/netchannel.
func (b *Board) StartProcessor(name string, proc Processor, params map[string]any, orders ...SubscriptionOrder) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.processes[name]; exists {
		return errors.ConfigError(fmt.Errorf("board: processor %q already started", name), "board")
	}
	if _, exists := b.sources[name]; exists {
		return errors.ConfigError(fmt.Errorf("board: processor %q already started", name), "board")
	}

	if err := testRequiredKeys(name, proc.RequiredKeys(), orders); err != nil {
		return err
	}

	rt := newRuntime(name, proc, b.logger.With("processor", name), b.errCh, b.strictIdentifier, ConfigMeta(params), b.metrics)

	for _, o := range orders {
		if err := b.wireOrder(name, rt, nil, o); err != nil {
			return err
		}
	}

	b.processes[name] = rt
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		rt.run(b.ctx)
	}()
	return nil
}

// StartSource instantiates an Input Processor under name and wires its
// output subscription orders.
func (b *Board) StartSource(name string, proc SourceProcessor, params map[string]any, orders ...SubscriptionOrder) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.processes[name]; exists {
		return errors.ConfigError(fmt.Errorf("board: processor %q already started", name), "board")
	}
	if _, exists := b.sources[name]; exists {
		return errors.ConfigError(fmt.Errorf("board: processor %q already started", name), "board")
	}

	rt := newSourceRuntime(name, proc, b.logger.With("processor", name), b.errCh, ConfigMeta(params))

	for _, o := range orders {
		if err := b.wireOrder(name, nil, rt, o); err != nil {
			return err
		}
	}

	b.sources[name] = rt
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		rt.run(b.ctx)
	}()
	return nil
}

// wireOrder attaches the Publisher and/or Receiver side of order to
// whichever of consumerRt/sourceRt is the processor currently being
// started, and records a pending attachment for the peer side if that
// peer has not started yet.
func (b *Board) wireOrder(startingName string, consumerRt *runtime, sourceRt *sourceRuntime, o SubscriptionOrder) error {
	if o.IsNetwork() {
		return errors.ConfigError(fmt.Errorf("board: network subscription orders are wired via internal/netchannel, not StartProcessor"), "board")
	}

	ch := b.registry.channelFor(o)

	if o.Producer == startingName {
		pub := &Publisher{SenderKey: o.SenderKey, ch: ch, discard: o.SenderKey == wildcardKey}
		if consumerRt != nil {
			consumerRt.outputs[o.SenderKey] = pub
		} else if sourceRt != nil {
			sourceRt.outputs[o.SenderKey] = pub
		}
	}
	if o.Consumer == startingName {
		if consumerRt == nil {
			return errors.ConfigError(fmt.Errorf("board: processor %q cannot be a subscription consumer (it is a source)", startingName), "board")
		}
		consumerRt.inputs[o.ReceiverKey] = &Receiver{ReceiverKey: o.ReceiverKey, ch: ch}
	}
	if o.Producer != startingName && o.Consumer != startingName {
		return errors.ConfigError(fmt.Errorf("board: subscription order %v does not reference processor %q", o, startingName), "board")
	}
	return nil
}

func testRequiredKeys(name string, required []string, orders []SubscriptionOrder) error {
	have := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		if o.Consumer == name {
			have[o.ReceiverKey] = struct{}{}
		}
	}
	for _, k := range required {
		if _, ok := have[k]; !ok {
			return errors.ConfigError(fmt.Errorf("board: processor %q missing required input key %q", name, k), "board")
		}
	}
	return nil
}

// StopProcessor stops one processor or source and waits for its goroutine
// to exit, without blocking on any other processor.
func (b *Board) StopProcessor(name string) error {
	b.mu.Lock()
	rt, isProc := b.processes[name]
	srt, isSrc := b.sources[name]
	b.mu.Unlock()

	switch {
	case isProc:
		rt.stop()
		return nil
	case isSrc:
		srt.stop()
		return nil
	default:
		return errors.New(fmt.Errorf("board: no such processor %q", name)).Component("board").Build()
	}
}

// StopAll stops every processor and source, then waits for the board's
// supervisor goroutine to exit.
func (b *Board) StopAll() {
	b.mu.Lock()
	procs := make([]*runtime, 0, len(b.processes))
	for _, rt := range b.processes {
		procs = append(procs, rt)
	}
	srcs := make([]*sourceRuntime, 0, len(b.sources))
	for _, srt := range b.sources {
		srcs = append(srcs, srt)
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, rt := range procs {
		wg.Add(1)
		go func(rt *runtime) { defer wg.Done(); rt.stop() }(rt)
	}
	for _, srt := range srcs {
		wg.Add(1)
		go func(srt *sourceRuntime) { defer wg.Done(); srt.stop() }(srt)
	}
	wg.Wait()

	b.cancel()
	b.wg.Wait()
}

// Healthy reports whether every started processor and source is still
// running (its goroutine has not exited).
func (b *Board) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, rt := range b.processes {
		select {
		case <-rt.doneCh:
			b.logger.Warn("board health check: processor exited", "processor", name)
			return false
		default:
		}
	}
	for name, srt := range b.sources {
		select {
		case <-srt.doneCh:
			b.logger.Warn("board health check: source exited", "processor", name)
			return false
		default:
		}
	}
	return true
}

// Errors returns a snapshot of every error a processor has reported since
// the Board started.
func (b *Board) Errors() []ErrorMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ErrorMessage(nil), b.errors...)
}

// GetConnectionToProcessor returns the receive-side endpoint for order in
// the caller's (host) task, for tests and tooling that want to observe a
// processor's output directly rather than through another processor.
func (b *Board) GetConnectionToProcessor(o SubscriptionOrder) *Receiver {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := b.registry.channelFor(o)
	return &Receiver{ReceiverKey: o.ReceiverKey, ch: ch}
}
