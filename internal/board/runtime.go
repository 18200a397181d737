package board

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/composite"
	"github.com/soundmesh/soundmesh/internal/continuity"
	"github.com/soundmesh/soundmesh/internal/errors"
	"github.com/soundmesh/soundmesh/internal/metrics"
)

// delivery is one input channel's arrival, fanned into the processor's main
// loop.
type delivery struct {
	key string
	c   chunk.Chunk
}

// runtime supervises a single Processor's goroutine: prerun, the
// poll-inject-process loop, and finalize, plus the Publish contract that
// turns composite results into outgoing Chunks.
type runtime struct {
	name   string
	proc   Processor
	logger *slog.Logger

	inputs  map[string]*Receiver
	outputs map[string]*Publisher

	strictIdentifier bool
	configMeta       chunk.ChunkMeta
	metrics          *metrics.Registry

	boardErr chan<- ErrorMessage
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}

	seqMu sync.Mutex
	seq   map[string]*chunk.SequenceTracker
}

func newRuntime(name string, proc Processor, logger *slog.Logger, boardErr chan<- ErrorMessage, strictIdentifier bool, configMeta chunk.ChunkMeta, m *metrics.Registry) *runtime {
	return &runtime{
		name:             name,
		proc:             proc,
		logger:           logger,
		inputs:           make(map[string]*Receiver),
		outputs:          make(map[string]*Publisher),
		strictIdentifier: strictIdentifier,
		configMeta:       configMeta,
		metrics:          m,
		boardErr:         boardErr,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
		seq:              make(map[string]*chunk.SequenceTracker),
	}
}

// run is the processor's goroutine body.
func (r *runtime) run(ctx context.Context) {
	defer close(r.doneCh)

	alignments, err := r.proc.Prerun(ctx)
	if err != nil {
		r.reportFatal(err)
		return
	}

	keys := make([]string, 0, len(r.inputs))
	for k := range r.inputs {
		keys = append(keys, k)
	}
	mgr := composite.NewManager(keys, alignments, r.strictIdentifier, r.logger)

	deliveries := make(chan delivery, 1)
	fanCtx, fanCancel := context.WithCancel(ctx)
	defer fanCancel()

	var wg sync.WaitGroup
	for key, recv := range r.inputs {
		wg.Add(1)
		go func(key string, recv *Receiver) {
			defer wg.Done()
			for {
				select {
				case c, ok := <-recv.Chan():
					if !ok {
						return
					}
					select {
					case deliveries <- delivery{key: key, c: c}:
					case <-fanCtx.Done():
						return
					}
				case <-fanCtx.Done():
					return
				}
			}
		}(key, recv)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-r.stopCh:
			break loop
		case d := <-deliveries:
			res, err := mgr.Inject(d.key, d.c)
			if err != nil {
				if r.recoverable(err) {
					continue
				}
				r.reportFatal(err)
				break loop
			}
			if res == nil {
				continue
			}
			done := r.handleComposite(ctx, res)
			if done {
				break loop
			}
		}
	}

	fanCancel()
	wg.Wait()
	if err := r.proc.Finalize(); err != nil {
		r.logger.Error("processor finalize failed", "processor", r.name, "error", err)
	}
}

// handleComposite runs Process on a completed composite and publishes the
// result. It returns true when the processor should stop its main loop
// (a Last chunk has propagated through, or Process failed unrecoverably).
func (r *runtime) handleComposite(ctx context.Context, res *composite.Result) bool {
	start := time.Now()
	outputs, err := r.proc.Process(ctx, res)
	if err != nil {
		if r.recoverable(err) {
			return false
		}
		r.reportFatal(err)
		return true
	}
	if r.metrics != nil {
		r.metrics.ChunksProcessed.WithLabelValues(r.name).Inc()
		r.metrics.ProcessLatency.WithLabelValues(r.name).Observe(time.Since(start).Seconds())
		if res.Dropped > 0 {
			r.metrics.CompositesDropped.WithLabelValues(r.name).Add(float64(res.Dropped))
		}
	}
	r.publish(res, outputs)
	return res.Continuity == continuity.Last
}

// recoverable reports whether err is one a processor may absorb locally
// (Transient) rather than report upstream and exit on.
func (r *runtime) recoverable(err error) bool {
	if errors.IsKind(err, errors.KindTransient) {
		r.logger.Warn("processor recovered from transient error", "processor", r.name, "error", err)
		return true
	}
	return false
}

func (r *runtime) reportFatal(err error) {
	r.logger.Error("processor failed", "processor", r.name, "error", err)
	kind := "fatal"
	var ee *errors.EnhancedError
	if errors.As(err, &ee) && ee.Kind != "" {
		kind = string(ee.Kind)
	}
	select {
	case r.boardErr <- ErrorMessage{Kind: kind, Message: err.Error(), Processor: r.name}:
	case <-time.After(time.Second):
		r.logger.Error("board error channel full, error dropped", "processor", r.name)
	}
}

// publish implements the publish contract: for each output
// subscription whose sender key appears in outputs, emit a fully-formed
// Chunk built from the composite result's fused envelope.
func (r *runtime) publish(res *composite.Result, outputs map[string]chunk.Payload) {
	now := time.Now()
	for key, pub := range r.outputs {
		payload, ok := outputs[key]
		if !ok {
			continue
		}
		// An empty 2-D output is a configuration error regardless of
		// continuity. Empty 1-D output stays subject to the chunk-level
		// admission rule the sequence tracker enforces below.
		if payload.Rank() == 2 && payload.LastAxisLen() == 0 {
			r.reportFatal(errors.ConfigError(fmt.Errorf("processor %s: empty 2-D output on key %s", r.name, key), r.name))
			continue
		}

		alignment := res.AlignmentsOut[key]

		genTime := make(map[string]time.Time, len(res.DataGenerationTime)+1)
		for k, v := range res.DataGenerationTime {
			genTime[k] = v
		}
		genTime[r.name] = now

		meta := make(map[string]chunk.ChunkMeta, len(res.Metadata)+1)
		for k, v := range res.Metadata {
			meta[k] = v
		}
		meta[r.name] = r.configMeta

		out := chunk.Chunk{
			Data:               payload,
			StartTime:          res.StartTime,
			Fs:                 alignment.FSampling,
			Number:             res.Number,
			Continuity:         res.Continuity,
			Alignment:          alignment,
			ProcessorName:      r.name,
			Sources:            chunk.WithSource(res.Sources, r.name),
			Identifier:         res.Identifier,
			DataGenerationTime: genTime,
			Metadata:           meta,
			InitialSampleTime:  res.InitialSampleTime,
		}

		r.seqMu.Lock()
		tracker, ok := r.seq[key]
		if !ok {
			tracker = &chunk.SequenceTracker{}
			r.seq[key] = tracker
		}
		admitted, err := tracker.Admit(out)
		r.seqMu.Unlock()
		if err != nil {
			r.reportFatal(errors.New(err).Component(r.name).Kind(errors.KindProtocol).Build())
			continue
		}

		pub.Send(admitted)
	}
}

// stop signals the runtime's main loop to exit and blocks until it has.
// Safe to call more than once or concurrently with the loop's own exit.
func (r *runtime) stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}
